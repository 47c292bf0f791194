// Package pagetable maintains the free-page bitmap and free-page counter,
// and implements the locality-biased allocator described in the spec.
package pagetable

import (
	"github.com/boljen/go-bitmap"

	"github.com/altofs/altofs/alto/rda"
)

// PageTable is the bitmap-backed allocator over a fixed universe of pages
// (both drives concatenated, as a single VDA space). A 1 bit means
// allocated; a 0 bit means free, matching the on-disk DiskDescriptor bitmap
// bit-for-bit so it can be serialized without translation.
type PageTable struct {
	bits       bitmap.Bitmap
	totalPages uint
	freePages  uint
	// dirty is set whenever a bit actually changes value, so callers can
	// decide whether the DiskDescriptor needs to be re-flushed.
	dirty bool
}

// New creates a PageTable with every page marked free.
func New(totalPages uint) *PageTable {
	return &PageTable{
		bits:       bitmap.New(int(totalPages)),
		totalPages: totalPages,
		freePages:  totalPages,
	}
}

// FreePages returns the current free-page count.
func (pt *PageTable) FreePages() uint {
	return pt.freePages
}

// TotalPages returns the total number of pages tracked.
func (pt *PageTable) TotalPages() uint {
	return pt.totalPages
}

// Dirty reports whether any bit has changed since the table was loaded or
// last cleared with ClearDirty.
func (pt *PageTable) Dirty() bool {
	return pt.dirty
}

// ClearDirty resets the dirty flag, typically right after a DiskDescriptor
// flush.
func (pt *PageTable) ClearDirty() {
	pt.dirty = false
}

// IsFree reports whether p's bitmap bit is 0.
func (pt *PageTable) IsFree(p rda.VDA) bool {
	return !pt.bits.Get(int(p))
}

// SetBit sets p's bitmap bit to v (true = allocated), adjusting the free
// count and marking the table dirty only if the value actually changed.
func (pt *PageTable) SetBit(p rda.VDA, v bool) {
	if pt.bits.Get(int(p)) == v {
		return
	}
	pt.bits.Set(int(p), v)
	pt.dirty = true
	if v {
		pt.freePages--
	} else {
		pt.freePages++
	}
}

// candidateOffsets yields the scan order "after, before, before-before, ..."
// used by AllocateNear: prev+1, prev-1, prev+2, prev-2, ... This exact
// tie-break order is preserved from the original implementation (see
// DESIGN.md, Open Question 3) so that file layouts stay deterministic
// against a given image.
func (pt *PageTable) candidateOffsets(prev rda.VDA) []rda.VDA {
	candidates := make([]rda.VDA, 0, pt.totalPages)
	total := int64(pt.totalPages)
	base := int64(prev)

	for delta := int64(1); ; delta++ {
		after := base + delta
		before := base - delta
		if after >= total && before < 0 {
			break
		}
		if after < total {
			candidates = append(candidates, rda.VDA(after))
		}
		if before >= 0 {
			candidates = append(candidates, rda.VDA(before))
		}
	}
	return candidates
}

// AllocateNear allocates a free page biased toward locality of prevVDA,
// scanning alternately prev+1, prev-1, prev+2, prev-2, ... When prevVDA is 0
// (allocating a brand-new leader page, with no locality to bias toward) this
// degenerates to a plain forward scan from page 1, since every "before"
// candidate is negative and skipped.
//
// Returns the allocated VDA and true on success, or (0, false) if no free
// page exists.
func (pt *PageTable) AllocateNear(prevVDA rda.VDA) (rda.VDA, bool) {
	for _, candidate := range pt.candidateOffsets(prevVDA) {
		if pt.IsFree(candidate) {
			pt.SetBit(candidate, true)
			return candidate, true
		}
	}
	return 0, false
}

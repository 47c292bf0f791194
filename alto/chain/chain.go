// Package chain implements the Chain Manager: walking, extending, and
// truncating a file's page chain, and the label-aware allocation/free pair
// that keeps the chain and the Page Table's bitmap in lock-step.
package chain

import (
	"fmt"

	altoerrors "github.com/altofs/altofs/alto/errors"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/image"
	"github.com/altofs/altofs/alto/page"
	"github.com/altofs/altofs/alto/pagetable"
	"github.com/altofs/altofs/alto/rda"
)

// Manager ties an image store, its geometry, and its page table together so
// chain operations can be expressed without threading three parameters
// through every call.
type Manager struct {
	Store *image.Store
	Table *pagetable.PageTable
	Geom  rda.Geometry
}

func New(store *image.Store, table *pagetable.PageTable, geom rda.Geometry) *Manager {
	return &Manager{Store: store, Table: table, Geom: geom}
}

// Walk returns every VDA in leaderVDA's chain, in order, starting with the
// leader itself. Traversal stops at the first page whose next_rda is 0, or
// whose nbytes is less than a full page (that page is included: it is the
// last data page of a short file).
func (m *Manager) Walk(leaderVDA rda.VDA) ([]rda.VDA, error) {
	chain := []rda.VDA{leaderVDA}

	current := leaderVDA
	for {
		p, err := m.Store.ReadPage(current)
		if err != nil {
			return nil, err
		}
		if p.Label.FilePage > 0 && p.Label.NBytes < geometry.PAGESZ {
			break
		}
		if rda.IsChainTerminator(p.Label.NextRDA) {
			break
		}
		current = rda.RDAToVDA(p.Label.NextRDA, m.Geom)
		chain = append(chain, current)
	}
	return chain, nil
}

// Length returns the sum of nbytes over every data page in leaderVDA's
// chain (excluding the leader page itself, which carries no user bytes).
func (m *Manager) Length(leaderVDA rda.VDA) (uint64, error) {
	pages, err := m.Walk(leaderVDA)
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, vda := range pages[1:] {
		p, err := m.Store.ReadPage(vda)
		if err != nil {
			return 0, err
		}
		total += uint64(p.Label.NBytes)
	}
	return total, nil
}

// AllocateAfter allocates a new page extending the chain after prevVDA
// (or, when prevVDA is 0, a brand-new leader page) and patches the previous
// page's next_rda to point at it. serial is only consulted when allocating a
// new leader (prevVDA == 0); it becomes the new file's fid_id.
//
// Per Open Question 2 (DESIGN.md), a freshly allocated leader page gets
// nbytes = 0, not PAGESZ: leader pages carry no user data, and PAGESZ there
// would contradict invariant 4 (filepage 0 pages are metadata-only).
func (m *Manager) AllocateAfter(prevVDA rda.VDA, serial uint16) (rda.VDA, error) {
	newVDA, ok := m.Table.AllocateNear(prevVDA)
	if !ok {
		return 0, altoerrors.New(altoerrors.NoSpace)
	}

	var newPage page.Page
	newPage.ZeroData()
	newPage.HeaderRDA = rda.VDAToRDA(newVDA, m.Geom)

	if prevVDA == 0 {
		newPage.Label = page.Label{
			FilePage: 0,
			FIDFile:  1,
			FIDDir:   0,
			FIDID:    serial,
			NBytes:   0,
		}
	} else {
		prevPage, err := m.Store.ReadPage(prevVDA)
		if err != nil {
			m.Table.SetBit(newVDA, false)
			return 0, err
		}

		newPage.Label = page.Label{
			NextRDA:  0,
			PrevRDA:  rda.VDAToRDA(prevVDA, m.Geom),
			NBytes:   0,
			FilePage: prevPage.Label.FilePage + 1,
			FIDFile:  prevPage.Label.FIDFile,
			FIDDir:   prevPage.Label.FIDDir,
			FIDID:    prevPage.Label.FIDID,
		}

		prevPage.Label.NextRDA = newPage.HeaderRDA
		if err := m.Store.WritePage(prevVDA, prevPage); err != nil {
			m.Table.SetBit(newVDA, false)
			return 0, err
		}
	}

	if err := m.Store.WritePage(newVDA, newPage); err != nil {
		m.Table.SetBit(newVDA, false)
		return 0, err
	}
	return newVDA, nil
}

// Free releases vda back to the page table. expectedID must match the
// page's fid_id, unless the page's nbytes is already 0 (a defensive
// allowance for pages caught mid-truncate). The previous page's next_rda is
// cleared so the chain doesn't dangle.
func (m *Manager) Free(vda rda.VDA, expectedID uint16) error {
	p, err := m.Store.ReadPage(vda)
	if err != nil {
		return err
	}

	if p.Label.FIDID != expectedID && p.Label.NBytes != 0 {
		return altoerrors.NewWithMessage(
			altoerrors.Corrupt,
			fmt.Sprintf(
				"refusing to free page %d: fid_id %d does not match expected %d",
				vda, p.Label.FIDID, expectedID,
			),
		)
	}

	if !rda.IsChainTerminator(p.Label.PrevRDA) {
		prevVDA := rda.RDAToVDA(p.Label.PrevRDA, m.Geom)
		prevPage, err := m.Store.ReadPage(prevVDA)
		if err == nil {
			prevPage.Label.NextRDA = 0
			m.Store.WritePage(prevVDA, prevPage)
		}
	}

	p.Label.NextRDA = 0
	p.Label.PrevRDA = 0
	p.Label.NBytes = 0
	p.Label.FilePage = 0
	p.Label.FIDFile = page.FreeFID
	p.Label.FIDDir = page.FreeFID
	p.Label.FIDID = page.FreeFID
	p.ZeroData()

	if err := m.Store.WritePage(vda, p); err != nil {
		return err
	}
	m.Table.SetBit(vda, false)
	return nil
}

// LastPageHint is the leader's cached append position: the VDA and filepage
// of the last data page, plus the byte offset within it.
type LastPageHint struct {
	VDA      rda.VDA
	FilePage uint16
	CharPos  uint16
}

// Truncate resizes leaderVDA's chain to newOffset bytes, freeing trailing
// pages, filling or shrinking the boundary page, and extending with newly
// allocated pages when the chain is currently shorter. On an allocation
// failure partway through an extension, it stops at the last successfully
// allocated byte and returns NoSpace; the chain is left in a consistent,
// if short, state. It returns the new LastPageHint on success (also filled
// in on a partial NoSpace failure, reflecting how far the write got).
func (m *Manager) Truncate(leaderVDA rda.VDA, newOffset uint64, serial uint16) (LastPageHint, error) {
	targetPageCount := int((newOffset + geometry.PAGESZ - 1) / geometry.PAGESZ)
	if targetPageCount < 1 {
		targetPageCount = 1
	}
	lastPageBytes := uint16(newOffset - uint64(targetPageCount-1)*geometry.PAGESZ)

	chainVDAs, err := m.Walk(leaderVDA)
	if err != nil {
		return LastPageHint{}, err
	}
	dataVDAs := chainVDAs[1:]

	var hint LastPageHint
	prevVDA := leaderVDA

	for filepage := 1; filepage <= len(dataVDAs); filepage++ {
		vda := dataVDAs[filepage-1]
		p, err := m.Store.ReadPage(vda)
		if err != nil {
			return hint, err
		}

		switch {
		case filepage < targetPageCount:
			p.Label.NBytes = geometry.PAGESZ
			if err := m.Store.WritePage(vda, p); err != nil {
				return hint, err
			}
			hint = LastPageHint{VDA: vda, FilePage: uint16(filepage), CharPos: geometry.PAGESZ}
			prevVDA = vda
		case filepage == targetPageCount:
			p.Label.NBytes = lastPageBytes
			p.Label.NextRDA = 0
			if err := m.Store.WritePage(vda, p); err != nil {
				return hint, err
			}
			hint = LastPageHint{VDA: vda, FilePage: uint16(filepage), CharPos: lastPageBytes}
			prevVDA = vda
			// Free everything past this page.
			for _, extra := range dataVDAs[filepage:] {
				fidID := p.Label.FIDID
				if err := m.Free(extra, fidID); err != nil {
					return hint, err
				}
			}
			return hint, nil
		default:
			// filepage > targetPageCount: handled by the case above, which
			// frees the remainder and returns. Unreachable.
		}
	}

	// The chain was shorter than target: allocate the remainder.
	for filepage := len(dataVDAs) + 1; filepage <= targetPageCount; filepage++ {
		newVDA, err := m.AllocateAfter(prevVDA, serial)
		if err != nil {
			return hint, altoerrors.New(altoerrors.NoSpace)
		}

		nbytes := uint16(geometry.PAGESZ)
		if filepage == targetPageCount {
			nbytes = lastPageBytes
		}

		p, err := m.Store.ReadPage(newVDA)
		if err != nil {
			return hint, err
		}
		p.Label.NBytes = nbytes
		if err := m.Store.WritePage(newVDA, p); err != nil {
			return hint, err
		}

		hint = LastPageHint{VDA: newVDA, FilePage: uint16(filepage), CharPos: nbytes}
		prevVDA = newVDA
	}

	return hint, nil
}

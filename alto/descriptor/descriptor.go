// Package descriptor implements the Disk Descriptor: the special file whose
// contents (read through File I/O from its first data page on) are a
// fixed-width header followed by the free-page bitmap, and the header field
// validation consistency repair checks before completing a mount.
package descriptor

import (
	altoerrors "github.com/altofs/altofs/alto/errors"
	"github.com/altofs/altofs/alto/fileio"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/pagetable"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/word"
)

// headerWords is the size, in words, of the fixed header preceding the
// bitmap. The field order beyond the ones the spec names explicitly is not
// load-bearing -- see DESIGN.md -- but the total size (32 bytes / 16 words)
// is preserved.
const headerWords = 16
const headerBytes = headerWords * 2

// Header is the fixed-width portion of the Disk Descriptor's data.
type Header struct {
	NDisks          uint16
	NTracks         uint16
	NHeads          uint16
	NSectors        uint16
	DefVersionsKept uint16
	LastSN          uint16
	FreePages       uint16
	DiskBTSize      uint16
}

func decodeHeader(words []uint16) Header {
	return Header{
		NDisks:          words[0],
		NTracks:         words[1],
		NHeads:          words[2],
		NSectors:        words[3],
		DefVersionsKept: words[4],
		LastSN:          words[6],
		FreePages:       words[7],
		DiskBTSize:      words[8],
	}
}

func (h Header) encode() [headerWords]uint16 {
	var words [headerWords]uint16
	words[0] = h.NDisks
	words[1] = h.NTracks
	words[2] = h.NHeads
	words[3] = h.NSectors
	words[4] = h.DefVersionsKept
	words[6] = h.LastSN
	words[7] = h.FreePages
	words[8] = h.DiskBTSize
	return words
}

// Descriptor is the decoded Disk Descriptor: its header plus the free-page
// bitmap, bit-numbered MSB-first per word (1 = allocated, 0 = free) exactly
// as the spec's data model requires.
type Descriptor struct {
	io        *fileio.IO
	leaderVDA rda.VDA
	serial    uint16
	Header    Header
	bits      []uint16
	dirty     bool
}

// New builds a fresh, all-free Descriptor for a newly formatted image with
// totalPages pages of the given geometry.
func New(io *fileio.IO, leaderVDA rda.VDA, serial uint16, nDisks uint16, geom rda.Geometry, totalPages uint) *Descriptor {
	btSize := (totalPages + 15) / 16
	return &Descriptor{
		io:        io,
		leaderVDA: leaderVDA,
		serial:    serial,
		Header: Header{
			NDisks:     nDisks,
			NTracks:    uint16(geom.NCylinders),
			NHeads:     uint16(geom.NHeads),
			NSectors:   uint16(geom.NSectors),
			FreePages:  uint16(totalPages),
			DiskBTSize: uint16(btSize),
		},
		bits:  make([]uint16, btSize),
		dirty: true,
	}
}

// Load reads and decodes the header and bitmap from leaderVDA's file.
func Load(io *fileio.IO, leaderVDA rda.VDA, serial uint16) (*Descriptor, error) {
	hdrBuf := make([]byte, headerBytes)
	n, err := io.Read(leaderVDA, hdrBuf, 0, false)
	if err != nil {
		return nil, err
	}
	if n < headerBytes {
		return nil, altoerrors.NewWithMessage(altoerrors.Corrupt, "DiskDescriptor header is truncated")
	}
	header := decodeHeader(word.ToWords(hdrBuf))

	bitBuf := make([]byte, int(header.DiskBTSize)*2)
	n, err = io.Read(leaderVDA, bitBuf, uint64(headerBytes), false)
	if err != nil {
		return nil, err
	}
	if n < len(bitBuf) {
		return nil, altoerrors.NewWithMessage(altoerrors.Corrupt, "DiskDescriptor bitmap is truncated")
	}

	return &Descriptor{
		io:        io,
		leaderVDA: leaderVDA,
		serial:    serial,
		Header:    header,
		bits:      word.ToWords(bitBuf),
	}, nil
}

// IsAllocated reports whether vda's bit is set. Bit numbering is MSB-first
// per word: page n lives in word n/16, bit 15-(n mod 16).
func (d *Descriptor) IsAllocated(vda rda.VDA) bool {
	wordIdx, bitIdx := bitLocation(vda)
	if wordIdx >= len(d.bits) {
		return false
	}
	return d.bits[wordIdx]&(1<<uint(bitIdx)) != 0
}

// SetAllocated sets or clears vda's bit, marking the descriptor dirty on an
// actual change.
func (d *Descriptor) SetAllocated(vda rda.VDA, v bool) {
	wordIdx, bitIdx := bitLocation(vda)
	if wordIdx >= len(d.bits) {
		return
	}
	mask := uint16(1) << uint(bitIdx)
	before := d.bits[wordIdx]&mask != 0
	if before == v {
		return
	}
	if v {
		d.bits[wordIdx] |= mask
	} else {
		d.bits[wordIdx] &^= mask
	}
	d.dirty = true
}

func bitLocation(vda rda.VDA) (wordIdx, bitIdx int) {
	return int(vda) / 16, 15 - int(vda)%16
}

// FreeBitCount counts zero bits across the whole bitmap, including any
// padding bits past the last real page -- callers that need an exact free
// count for a specific page universe should mask those off first.
func (d *Descriptor) FreeBitCount() uint {
	var free uint
	for _, w := range d.bits {
		for bit := 0; bit < 16; bit++ {
			if w&(1<<uint(bit)) == 0 {
				free++
			}
		}
	}
	return free
}

// HydratePageTable sets every page's bit in pt from the descriptor's bitmap.
// pt is assumed freshly constructed with every page marked free.
func (d *Descriptor) HydratePageTable(pt *pagetable.PageTable) {
	for vda := rda.VDA(0); uint(vda) < pt.TotalPages(); vda++ {
		if d.IsAllocated(vda) {
			pt.SetBit(vda, true)
		}
	}
	pt.ClearDirty()
}

// SyncFromPageTable overwrites the descriptor's bitmap and free_pages field
// from pt's current state, ahead of a Flush.
func (d *Descriptor) SyncFromPageTable(pt *pagetable.PageTable) {
	for vda := rda.VDA(0); uint(vda) < pt.TotalPages(); vda++ {
		d.SetAllocated(vda, !pt.IsFree(vda))
	}
	if d.Header.FreePages != uint16(pt.FreePages()) {
		d.Header.FreePages = uint16(pt.FreePages())
		d.dirty = true
	}
}

// NextSerial returns the next fid_id to hand out and advances the counter,
// mirroring last_sn's role as the file system's serial number generator.
func (d *Descriptor) NextSerial() uint16 {
	sn := d.Header.LastSN
	d.Header.LastSN++
	d.dirty = true
	return sn
}

// Dirty reports whether the header or bitmap has changed since the last
// Flush.
func (d *Descriptor) Dirty() bool {
	return d.dirty
}

// Validate checks the header against a compiled geometry catalogue entry and
// the actual bitmap/page-table state, per the invariants in §4.9. It returns
// every problem found, aggregated with go-multierror, rather than stopping
// at the first.
func Validate(h Header, expectedNDisks uint16, actualFreeBits, actualFreeFidPages uint) error {
	var result altoerrors.DriverError
	fail := func(msg string) {
		e := altoerrors.NewWithMessage(altoerrors.Corrupt, msg)
		if result == nil {
			result = e
		} else {
			result = result.Wrap(e)
		}
	}

	if h.NDisks != expectedNDisks {
		fail("nDisks does not match the number of loaded drives")
	}
	if !geometry.MatchesKnownGeometry(uint(h.NTracks), uint(h.NHeads), uint(h.NSectors)) {
		fail("geometry in DiskDescriptor header does not match a known Diablo drive")
	}
	if h.DefVersionsKept != 0 {
		fail("def_versions_kept must be 0")
	}
	if uint(h.FreePages) != actualFreeBits {
		fail("bitmap free-bit count does not match free_pages")
	}
	if uint(h.FreePages) != actualFreeFidPages {
		fail("free fid_* page count does not match free_pages")
	}

	return result
}

// Flush re-encodes the header and bitmap and writes them back through File
// I/O, extending the backing chain if the bitmap has grown.
func (d *Descriptor) Flush() error {
	if !d.dirty {
		return nil
	}

	buf := d.encode()
	if _, err := d.io.Write(d.leaderVDA, buf, 0, d.serial, false); err != nil {
		return err
	}
	d.dirty = false
	return nil
}

func (d *Descriptor) encode() []byte {
	hdr := d.Header.encode()
	allWords := make([]uint16, 0, len(hdr)+len(d.bits))
	allWords = append(allWords, hdr[:]...)
	allWords = append(allWords, d.bits...)
	return word.FromWords(allWords)
}

// Package page defines the in-memory representation of a single Alto disk
// page (header, label, data) and its encoding to/from the on-disk word
// layout.
package page

import (
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/word"
)

// FreeFID is the fid_* value ({fid_file, fid_dir, fid_id}) written on every
// field of a free page's label.
const FreeFID = 0xFFFF

// Label is the 8-word trailer of a page.
type Label struct {
	NextRDA  rda.RDA
	PrevRDA  rda.RDA
	Blank    uint16
	NBytes   uint16
	FilePage uint16
	FIDFile  uint16
	FIDDir   uint16
	FIDID    uint16
}

// IsFree reports whether the label's fid triple marks the page as free.
func (l Label) IsFree() bool {
	return l.FIDFile == FreeFID && l.FIDDir == FreeFID && l.FIDID == FreeFID
}

// IsLeader reports whether this label belongs to a leader page: filepage 0,
// no predecessor, and the fid triple marking a live file.
func (l Label) IsLeader() bool {
	return l.FilePage == 0 && l.PrevRDA == 0 && l.FIDFile == 1 && l.FIDDir == 0
}

// SameChainIdentity reports whether two labels carry the same fid triple,
// invariant 5: within a chain fid_file/fid_dir/fid_id are identical.
func (l Label) SameChainIdentity(other Label) bool {
	return l.FIDFile == other.FIDFile && l.FIDDir == other.FIDDir && l.FIDID == other.FIDID
}

// Page is one physical sector of the disk image: a 2-word header
// self-identifying the sector's raw address, an 8-word label, and a 256-word
// data area.
type Page struct {
	HeaderRDA rda.RDA
	Header1   uint16 // reserved/unused header word, carried through verbatim
	Label     Label
	Data      [geometry.PageDataSize]uint16
}

// Encode serializes a page into geometry.PageBytes bytes of big-endian
// words, in on-disk order: header, label, data.
func (p Page) Encode() []byte {
	words := make([]uint16, 0, geometry.PageWords)
	words = append(words, uint16(p.HeaderRDA), p.Header1)
	words = append(words,
		uint16(p.Label.NextRDA),
		uint16(p.Label.PrevRDA),
		p.Label.Blank,
		p.Label.NBytes,
		p.Label.FilePage,
		p.Label.FIDFile,
		p.Label.FIDDir,
		p.Label.FIDID,
	)
	words = append(words, p.Data[:]...)
	return word.FromWords(words)
}

// Decode parses geometry.PageBytes bytes of big-endian words into a Page.
func Decode(raw []byte) Page {
	words := word.ToWords(raw)
	p := Page{
		HeaderRDA: rda.RDA(words[0]),
		Header1:   words[1],
		Label: Label{
			NextRDA:  rda.RDA(words[2]),
			PrevRDA:  rda.RDA(words[3]),
			Blank:    words[4],
			NBytes:   words[5],
			FilePage: words[6],
			FIDFile:  words[7],
			FIDDir:   words[8],
			FIDID:    words[9],
		},
	}
	copy(p.Data[:], words[geometry.PageHeaderSize+geometry.PageLabelSize:])
	return p
}

// ZeroData clears the data area, used when a page is freshly allocated.
func (p *Page) ZeroData() {
	for i := range p.Data {
		p.Data[i] = 0
	}
}

// Package geometry carries the compiled catalogue of Diablo disk geometries
// the Alto file system was ever deployed against, and the fixed structural
// constants (page size, label size, filename limit) of the on-disk format
// itself.
package geometry

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

const (
	// PageDataSize is the size, in 16-bit words, of the data area of a page.
	PageDataSize = 256
	// PageLabelSize is the size, in 16-bit words, of a page's label.
	PageLabelSize = 8
	// PageHeaderSize is the size, in 16-bit words, of a page's header.
	PageHeaderSize = 2
	// PageWords is the total size, in 16-bit words, of one page.
	PageWords = PageHeaderSize + PageLabelSize + PageDataSize
	// PageBytes is the total size, in bytes, of one page.
	PageBytes = PageWords * 2
	// PAGESZ is the byte size of the data area of a page, matching nbytes'
	// domain in the label.
	PAGESZ = PageDataSize * 2

	// FNLEN is the maximum length, in bytes, of an encoded filename record
	// (length byte + name + terminating dot, padded to a word boundary).
	FNLEN = 40
)

// DiskGeometry describes one historical Diablo drive model the Alto file
// system ran against.
type DiskGeometry struct {
	Name        string `csv:"name"`
	Slug        string `csv:"slug"`
	NCylinders  uint   `csv:"cylinders"`
	NHeads      uint   `csv:"heads"`
	NSectors    uint   `csv:"sectors"`
}

// NPages returns the number of pages (VDAs) on a single drive of this
// geometry.
func (g DiskGeometry) NPages() uint {
	return g.NCylinders * g.NHeads * g.NSectors
}

//go:embed diablo-geometries.csv
var diabloGeometriesCSV string

var geometriesBySlug map[string]DiskGeometry

func init() {
	var rows []DiskGeometry
	if err := gocsv.UnmarshalString(strings.TrimSpace(diabloGeometriesCSV), &rows); err != nil {
		panic(fmt.Errorf("failed to decode embedded disk geometry table: %w", err))
	}

	geometriesBySlug = make(map[string]DiskGeometry, len(rows))
	for _, row := range rows {
		geometriesBySlug[row.Slug] = row
	}
}

// Lookup returns the compiled geometry for a known drive slug ("diablo31" or
// "diablo44").
func Lookup(slug string) (DiskGeometry, bool) {
	g, ok := geometriesBySlug[slug]
	return g, ok
}

// MatchByPageCount finds the geometry whose page count matches npages. Used
// at mount time to figure out which drive type an image was formatted for
// from its raw byte size alone.
func MatchByPageCount(npages uint) (DiskGeometry, bool) {
	for _, g := range geometriesBySlug {
		if g.NPages() == npages {
			return g, true
		}
	}
	return DiskGeometry{}, false
}

// MatchesKnownGeometry reports whether (cylinders, heads, sectors) is one of
// the compiled Diablo geometries. DiskDescriptor validation uses this to
// decide whether nTracks/nHeads/nSectors are sane.
func MatchesKnownGeometry(cylinders, heads, sectors uint) bool {
	for _, g := range geometriesBySlug {
		if g.NCylinders == cylinders && g.NHeads == heads && g.NSectors == sectors {
			return true
		}
	}
	return false
}

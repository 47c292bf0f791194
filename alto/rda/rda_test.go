package rda_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altofs/altofs/alto/rda"
)

var testGeometry = rda.Geometry{NCylinders: 203, NHeads: 2, NSectors: 12}

func TestVDAToRDA_RoundTripsEveryVDA(t *testing.T) {
	// Property test (spec S8.5): rda_to_vda(vda_to_rda(x)) == x for every VDA
	// on both drives.
	npages := testGeometry.NPages()
	for drive := uint(0); drive < 2; drive++ {
		for offset := uint(0); offset < npages; offset++ {
			vda := rda.VDA(drive*npages + offset)
			encoded := rda.VDAToRDA(vda, testGeometry)
			decoded := rda.RDAToVDA(encoded, testGeometry)
			require.Equalf(t, vda, decoded, "round trip failed for vda %d", vda)
		}
	}
}

func TestVDAToRDA_ZeroIsZero(t *testing.T) {
	assert.EqualValues(t, 0, rda.VDAToRDA(0, testGeometry))
}

func TestRDA_IsChainTerminator(t *testing.T) {
	assert.True(t, rda.IsChainTerminator(0))
	assert.False(t, rda.IsChainTerminator(1))
}

func TestEncodeDecode_FieldOrder(t *testing.T) {
	encoded := rda.Encode(1, 77, 1, 5)
	drive, cylinder, head, sector := encoded.Decode()
	assert.EqualValues(t, 1, drive)
	assert.EqualValues(t, 77, cylinder)
	assert.EqualValues(t, 1, head)
	assert.EqualValues(t, 5, sector)
}

// TestDecode_MatchesOriginalBitPositions pins the packed layout against
// literal RDA values derived by hand from rda_to_vda's shift amounts (drive
// bit 1, head bit 2, cylinder bits 3-11, sector bits 12-15, bit 0 unused),
// so a shift-constant regression is caught even though round-tripping
// against itself would not catch it.
func TestDecode_MatchesOriginalBitPositions(t *testing.T) {
	cases := []struct {
		name                          string
		raw                           rda.RDA
		drive, cylinder, head, sector uint
	}{
		{"all zero", 0x0000, 0, 0, 0, 0},
		{"drive bit only", 0x0002, 1, 0, 0, 0},
		{"head bit only", 0x0004, 0, 0, 1, 0},
		{"cylinder bit only", 0x0008, 0, 1, 0, 0},
		{"sector bit only", 0x1000, 0, 0, 0, 1},
		{"all fields set", 0x526E, 1, 77, 1, 5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			drive, cylinder, head, sector := c.raw.Decode()
			assert.EqualValues(t, c.drive, drive)
			assert.EqualValues(t, c.cylinder, cylinder)
			assert.EqualValues(t, c.head, head)
			assert.EqualValues(t, c.sector, sector)
			assert.Equal(t, c.raw, rda.Encode(c.drive, c.cylinder, c.head, c.sector))
		})
	}
}

// TestRDAToVDA_LiteralVectors checks concrete RDA<->VDA pairs computed from
// the original rda_to_vda/vda_to_rda formula against testGeometry
// (203 cylinders, 2 heads, 12 sectors, so NPAGES = 4872 per drive), rather
// than only asserting self-consistency.
func TestRDAToVDA_LiteralVectors(t *testing.T) {
	cases := []struct {
		name string
		raw  rda.RDA
		vda  rda.VDA
	}{
		{"vda 0 is rda 0", 0x0000, 0},
		{"sector 1, drive/head/cylinder 0", 0x1000, 1},
		{"head 1, first sector of second head", 0x0004, 12},
		{"cylinder 1, first sector", 0x0008, 24},
		{"drive 1, first page", 0x0002, 4872},
		{"drive 1, cylinder 77, head 1, sector 5", 0x526E, 6737},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.vda, rda.RDAToVDA(c.raw, testGeometry))
			assert.Equal(t, c.raw, rda.VDAToRDA(c.vda, testGeometry))
		})
	}
}

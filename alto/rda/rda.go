// Package rda implements the Alto's raw-disk-address encoding and its
// translation to and from virtual disk addresses (VDA).
//
// An RDA is a 16-bit value with bit-fields, low bit first: unused (bit 0),
// drive (bit 1), head (bit 2), cylinder (bits 3-11, 9 bits), sector
// (bits 12-15, 4 bits). This exact packing is load-bearing -- it is what
// every next_rda/prev_rda link and page header self-reference on a real
// Alto disk image actually contains, so the shift amounts below must match
// it bit-for-bit, not just round-trip against themselves.
package rda

const (
	driveBits    = 1
	headBits     = 1
	cylinderBits = 9
	sectorBits   = 4

	driveMask    = (1 << driveBits) - 1
	headMask     = (1 << headBits) - 1
	cylinderMask = (1 << cylinderBits) - 1
	sectorMask   = (1 << sectorBits) - 1

	driveShift    = 1
	headShift     = driveShift + driveBits
	cylinderShift = headShift + headBits
	sectorShift   = cylinderShift + cylinderBits
)

// Geometry carries the per-drive dimensions needed to convert between RDA
// and VDA. NPages is NHeads*NCylinders*NSectors, the number of pages on one
// drive.
type Geometry struct {
	NCylinders uint
	NHeads     uint
	NSectors   uint
}

// NPages returns the number of pages on a single drive of this geometry.
func (g Geometry) NPages() uint {
	return g.NCylinders * g.NHeads * g.NSectors
}

// VDA is a zero-based page index, ranging over one or two drives.
type VDA uint32

// RDA is the packed on-disk address used in every next_rda/prev_rda link.
type RDA uint16

// Encode packs (drive, cylinder, head, sector) into an RDA.
func Encode(drive, cylinder, head, sector uint) RDA {
	return RDA(
		(drive&driveMask)<<driveShift |
			(cylinder&cylinderMask)<<cylinderShift |
			(head&headMask)<<headShift |
			(sector&sectorMask)<<sectorShift,
	)
}

// Decode unpacks an RDA into (drive, cylinder, head, sector).
func (r RDA) Decode() (drive, cylinder, head, sector uint) {
	v := uint(r)
	drive = (v >> driveShift) & driveMask
	cylinder = (v >> cylinderShift) & cylinderMask
	head = (v >> headShift) & headMask
	sector = (v >> sectorShift) & sectorMask
	return
}

// VDAToRDA converts a virtual disk address to its on-disk raw address, given
// the per-drive geometry. VDA 0 maps to RDA 0 always -- this is the
// boot/system-reserved page and RDA 0 doubles as the chain terminator, so
// VDAToRDA(0) must never be mistaken for "no link" by a caller that forgets
// to special-case it.
func VDAToRDA(vda VDA, g Geometry) RDA {
	npages := g.NPages()
	drive := uint(vda) / npages
	rem := uint(vda) % npages
	cylinder := rem / (g.NHeads * g.NSectors)
	rem %= g.NHeads * g.NSectors
	head := rem / g.NSectors
	sector := rem % g.NSectors
	return Encode(drive, cylinder, head, sector)
}

// RDAToVDA converts a raw disk address to a virtual disk address, given the
// per-drive geometry. It is the strict inverse of VDAToRDA over
// [0, 2*NPages).
func RDAToVDA(rda RDA, g Geometry) VDA {
	drive, cylinder, head, sector := rda.Decode()
	npages := g.NPages()
	return VDA(drive*npages + cylinder*g.NHeads*g.NSectors + head*g.NSectors + sector)
}

// IsChainTerminator reports whether rda == 0, the sentinel that ends a
// next_rda/prev_rda chain.
func IsChainTerminator(r RDA) bool {
	return r == 0
}

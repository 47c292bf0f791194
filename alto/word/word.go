// Package word implements the Alto's big-endian 16-bit word encoding, the
// single place in this module allowed to know that raw byte access to a
// page's data/label/header area toggles bit 0 of the offset.
package word

import (
	"encoding/binary"

	"github.com/noxer/bytewriter"
)

// FromWords packs a slice of 16-bit words into a big-endian byte slice.
func FromWords(words []uint16) []byte {
	buf := make([]byte, len(words)*2)
	w := bytewriter.New(buf)
	for _, word := range words {
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], word)
		w.Write(tmp[:])
	}
	return buf
}

// ToWords unpacks a big-endian byte slice into 16-bit words. len(data) must
// be even; a trailing odd byte is ignored (callers should never produce one,
// since every disk structure is word-sized).
func ToWords(data []byte) []uint16 {
	n := len(data) / 2
	words := make([]uint16, n)
	for i := 0; i < n; i++ {
		words[i] = binary.BigEndian.Uint16(data[i*2 : i*2+2])
	}
	return words
}

// SwapBytes exchanges the two bytes of every word in place. This is the
// "word-swap" primitive the spec calls out separately from FromWords/ToWords:
// it is used when a buffer was filled byte-by-byte as if native-order and
// needs to be corrected to Alto big-endian order (or vice versa) without an
// intermediate word array.
func SwapBytes(data []byte) {
	for i := 0; i+1 < len(data); i += 2 {
		data[i], data[i+1] = data[i+1], data[i]
	}
}

// ByteSwappedIndex returns the disk-file offset a caller must use to read or
// write logical byte position `pos` in a byte buffer that is addressed as if
// the underlying words were native-order. It implements the "toggle bit 0 of
// the offset" rule from the spec: even/odd positions within a word swap
// places when crossing between native reads and the disk's big-endian word
// layout.
func ByteSwappedIndex(pos int) int {
	return pos ^ 1
}

// GetByte reads the logical byte at position pos from a big-endian word
// buffer, applying the swap rule. Used by the SysDir and filename codecs,
// which walk a page's data area byte-by-byte.
func GetByte(data []byte, pos int) byte {
	return data[ByteSwappedIndex(pos)]
}

// SetByte writes the logical byte at position pos into a big-endian word
// buffer, applying the swap rule.
func SetByte(data []byte, pos int, value byte) {
	data[ByteSwappedIndex(pos)] = value
}

// NativeBytes lays out words the way a little-endian host's C compiler
// would if a `word[]` array's storage were read straight through a byte
// pointer, low byte of each word first. altofs.cpp's directory-entry and
// filename-record accessors are declared as word arrays but walked
// byte-by-byte through exactly this kind of pointer, recovering logical
// (big-endian, disk) byte order with `i ^ lsb()`. GetByte/SetByte applied
// to the result of NativeBytes reproduce that same `^ lsb()` correction.
func NativeBytes(words []uint16) []byte {
	buf := make([]byte, len(words)*2)
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], w)
	}
	return buf
}

// NativeWords is the inverse of NativeBytes.
func NativeWords(data []byte) []uint16 {
	n := len(data) / 2
	words := make([]uint16, n)
	for i := 0; i < n; i++ {
		words[i] = binary.LittleEndian.Uint16(data[i*2 : i*2+2])
	}
	return words
}

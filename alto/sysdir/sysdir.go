// Package sysdir implements the Directory: the packed sequence of
// variable-length entries that make up the special SysDir file, and the
// in-memory sorted vector kept over it while the image is mounted.
package sysdir

import (
	"sort"

	altoerrors "github.com/altofs/altofs/alto/errors"
	"github.com/altofs/altofs/alto/fileio"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/leader"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/word"
)

// Entry type codes, packed into the high byte (logical byte 0) of an entry's
// typelength word.
const (
	TypeDeleted   byte = 0
	TypeAllocated byte = 4
)

// entryHeaderWords is the size, in words, of an entry's fixed portion: the
// typelength word plus the five-word fileptr.
const entryHeaderWords = 1 + 5

// Entry is one decoded directory record.
type Entry struct {
	Type byte
	Ptr  leader.DirFPHint
	Name string
}

// Deleted reports whether e is a tombstoned (removed) entry.
func (e Entry) Deleted() bool {
	return e.Type == TypeDeleted
}

// SysDir and DiskDescriptor are the two files the directory protects against
// rename and removal.
const (
	SysDirName         = "SysDir"
	DiskDescriptorName = "DiskDescriptor"
)

// Directory is the in-memory model of the SysDir file: a sorted vector of
// entries, backed by the file it was decoded from.
type Directory struct {
	io        *fileio.IO
	leaderVDA rda.VDA
	serial    uint16
	entries   []Entry
	dirty     bool
}

// Load reads leaderVDA as a file of the given byte size and decodes its
// packed entries into a sorted, in-memory Directory.
func Load(io *fileio.IO, leaderVDA rda.VDA, serial uint16, size uint64) (*Directory, error) {
	buf := make([]byte, size)
	n, err := io.Read(leaderVDA, buf, 0, false)
	if err != nil {
		return nil, err
	}

	entries, err := decodeEntries(buf[:n])
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return &Directory{io: io, leaderVDA: leaderVDA, serial: serial, entries: entries}, nil
}

// decodeEntries parses a packed sequence of variable-length directory
// entries, stopping at the first entry whose filename length is zero or
// exceeds FNLEN -- the terminator convention the format uses in place of an
// explicit entry count.
func decodeEntries(buf []byte) ([]Entry, error) {
	words := word.ToWords(padToEven(buf))

	var entries []Entry
	pos := 0
	for pos+entryHeaderWords <= len(words) {
		tlRaw := word.NativeBytes(words[pos : pos+1])
		entryType := word.GetByte(tlRaw, 0)
		lengthWords := int(word.GetByte(tlRaw, 1))

		ptr := leader.DirFPHint{
			FIDDir:    words[pos+1],
			SerialNo:  words[pos+2],
			Version:   words[pos+3],
			Blank:     words[pos+4],
			LeaderVDA: words[pos+5],
		}

		nameStart := pos + entryHeaderWords
		if nameStart >= len(words) {
			break
		}

		nameLenByte := word.GetByte(word.NativeBytes(words[nameStart:nameStart+1]), 0)
		if nameLenByte == 0 || int(nameLenByte) > geometry.FNLEN {
			break
		}

		nameWords := lengthWords - entryHeaderWords
		if nameWords <= 0 || nameStart+nameWords > len(words) {
			break
		}

		name := leader.DecodeFilename(words[nameStart : nameStart+nameWords])
		entries = append(entries, Entry{Type: entryType, Ptr: ptr, Name: name})

		pos += lengthWords
	}
	return entries, nil
}

func padToEven(buf []byte) []byte {
	if len(buf)%2 == 0 {
		return buf
	}
	return append(buf, 0)
}

// nameWordsFor returns the number of words a filename record for name
// occupies: a length byte, the name, a terminating dot, rounded up to a
// word boundary.
func nameWordsFor(name string) int {
	byteLen := len(name) + 2 // length byte + terminating dot
	if byteLen%2 != 0 {
		byteLen++
	}
	return byteLen / 2
}

// Find returns the leader VDA of the live (non-deleted) entry named name.
func (d *Directory) Find(name string) (rda.VDA, bool) {
	for _, e := range d.entries {
		if e.Name == name && !e.Deleted() {
			return rda.VDA(e.Ptr.LeaderVDA), true
		}
	}
	return 0, false
}

// exists reports whether name has any entry at all, live or deleted -- used
// to decide whether Insert can reuse a tombstoned slot.
func (d *Directory) exists(name string) (int, bool) {
	for i, e := range d.entries {
		if e.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Insert adds name pointing at leaderVDA. A previously deleted entry with
// the identical name is reused in place (its type flips back to allocated
// and its fileptr is overwritten) rather than appending a second record for
// the same name. Otherwise a new entry is spliced into sorted position.
func (d *Directory) Insert(name string, leaderVDA rda.VDA, serial, version uint16) error {
	ptr := leader.DirFPHint{FIDDir: 0, SerialNo: serial, Version: version, LeaderVDA: uint16(leaderVDA)}

	if i, ok := d.exists(name); ok {
		d.entries[i].Type = TypeAllocated
		d.entries[i].Ptr = ptr
		d.dirty = true
		return nil
	}

	entry := Entry{Type: TypeAllocated, Ptr: ptr, Name: name}
	pos := sort.Search(len(d.entries), func(i int) bool { return d.entries[i].Name >= name })
	d.entries = append(d.entries, Entry{})
	copy(d.entries[pos+1:], d.entries[pos:])
	d.entries[pos] = entry
	d.dirty = true
	return nil
}

// Remove tombstones name's entry (type = 0). Entries are never compacted out
// of the vector, and Flush re-serializes tombstones along with live entries,
// so removal never shrinks the on-disk record. SysDir and DiskDescriptor
// cannot be removed.
func (d *Directory) Remove(name string) error {
	if isProtected(name) {
		return altoerrors.NewWithMessage(altoerrors.PermissionDenied, "cannot remove "+name)
	}

	i, ok := d.exists(name)
	if !ok || d.entries[i].Deleted() {
		return altoerrors.New(altoerrors.NotFound)
	}

	d.entries[i].Type = TypeDeleted
	d.dirty = true
	return nil
}

// Rename changes old's filename to new in place, preserving its fileptr and
// sorted-vector position is not maintained (the spec calls this out as an
// in-place change, not a resorted splice). SysDir and DiskDescriptor cannot
// be renamed.
func (d *Directory) Rename(old, newName string) error {
	if isProtected(old) {
		return altoerrors.NewWithMessage(altoerrors.PermissionDenied, "cannot rename "+old)
	}
	if err := leader.ValidateFilenameLength(newName); err != nil {
		return err
	}

	i, ok := d.exists(old)
	if !ok || d.entries[i].Deleted() {
		return altoerrors.New(altoerrors.NotFound)
	}

	d.entries[i].Name = newName
	d.dirty = true
	return nil
}

func isProtected(name string) bool {
	return name == SysDirName || name == DiskDescriptorName
}

// Dirty reports whether the vector has changed since the last Flush.
func (d *Directory) Dirty() bool {
	return d.dirty
}

// Entries returns the current entries, live and tombstoned, in vector
// order. Callers must not mutate the returned slice.
func (d *Directory) Entries() []Entry {
	return d.entries
}

// Flush re-serializes the vector back into a packed byte buffer, in vector
// order, growing the backing file via the chain manager (through File I/O's
// write-extend path) if the new buffer is larger than what's already
// allocated, then writes it back.
func (d *Directory) Flush() error {
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

func (d *Directory) encode() []byte {
	var words []uint16
	for _, e := range d.entries {
		nameWords := nameWordsFor(e.Name)
		lengthWords := entryHeaderWords + nameWords

		tlRaw := make([]byte, 2)
		word.SetByte(tlRaw, 0, e.Type)
		word.SetByte(tlRaw, 1, byte(lengthWords))
		words = append(words, word.NativeWords(tlRaw)[0])
		words = append(words,
			e.Ptr.FIDDir, e.Ptr.SerialNo, e.Ptr.Version, e.Ptr.Blank, e.Ptr.LeaderVDA,
		)

		nameField := make([]uint16, nameWords)
		leader.EncodeFilename(nameField, e.Name)
		words = append(words, nameField...)
	}
	return word.FromWords(words)
}

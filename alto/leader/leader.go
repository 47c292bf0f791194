// Package leader implements the Leader/Label Codec: encoding and decoding
// the metadata carried in a file's leader page (page 0 of its chain).
//
// The leader page's data area is laid out, word offset first, exactly in
// the order the spec describes: the created/written/read time triplet, the
// filename record, the directory-hint structure, the last-page-hint cache,
// the propbegin/proplength pair, an opaque leader-props area, and a spare
// tail. Offsets below are fixed for the lifetime of the format.
package leader

import (
	"time"

	altoerrors "github.com/altofs/altofs/alto/errors"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/timecodec"
	"github.com/altofs/altofs/alto/word"
)

const (
	offCreated       = 0
	offWritten       = offCreated + 2
	offRead          = offWritten + 2
	offFilename      = offRead + 2                        // FNLEN bytes = FNLEN/2 words
	filenameWords    = geometry.FNLEN / 2
	offDirFPHint     = offFilename + filenameWords // 5 words
	offLastPageHint  = offDirFPHint + 5            // 3 words
	offPropBegin     = offLastPageHint + 3
	offPropLength    = offPropBegin + 1
	offLeaderProps   = offPropLength + 1
	leaderPropsWords = 200
	offSpare         = offLeaderProps + leaderPropsWords
	spareWords       = geometry.PageDataSize - offSpare
)

// DirFPHint is a cached file pointer used by the scavenger to relocate a
// leader page's directory entry without a full directory scan.
type DirFPHint struct {
	FIDDir    uint16
	SerialNo  uint16
	Version   uint16
	Blank     uint16
	LeaderVDA uint16
}

// LastPageHint caches the append position of a file: the VDA and filepage
// of the last data page written, and the byte offset within it.
type LastPageHint struct {
	VDA      rda.VDA
	FilePage uint16
	CharPos  uint16
}

// Leader is the decoded form of a leader page's data area.
type Leader struct {
	Created      time.Time
	Written      time.Time
	Read         time.Time
	Filename     string
	DirFPHint    DirFPHint
	LastPageHint LastPageHint
	PropBegin    uint16
	PropLength   uint16
	LeaderProps  [leaderPropsWords]uint16
	Spare        [spareWords]uint16
}

// Decode parses a leader page's data area (geometry.PageDataSize words).
func Decode(data []uint16) Leader {
	var l Leader
	l.Created = timecodec.Decode(data[offCreated], data[offCreated+1])
	l.Written = timecodec.Decode(data[offWritten], data[offWritten+1])
	l.Read = timecodec.Decode(data[offRead], data[offRead+1])
	l.Filename = DecodeFilename(data[offFilename : offFilename+filenameWords])
	l.DirFPHint = DirFPHint{
		FIDDir:    data[offDirFPHint],
		SerialNo:  data[offDirFPHint+1],
		Version:   data[offDirFPHint+2],
		Blank:     data[offDirFPHint+3],
		LeaderVDA: data[offDirFPHint+4],
	}
	l.LastPageHint = LastPageHint{
		VDA:      rda.VDA(data[offLastPageHint]),
		FilePage: data[offLastPageHint+1],
		CharPos:  data[offLastPageHint+2],
	}
	l.PropBegin = data[offPropBegin]
	l.PropLength = data[offPropLength]
	copy(l.LeaderProps[:], data[offLeaderProps:offLeaderProps+leaderPropsWords])
	copy(l.Spare[:], data[offSpare:offSpare+spareWords])
	return l
}

// Encode serializes l into a geometry.PageDataSize-word buffer.
func (l Leader) Encode() [geometry.PageDataSize]uint16 {
	var data [geometry.PageDataSize]uint16

	hiC, loC := timecodec.Encode(l.Created)
	data[offCreated], data[offCreated+1] = hiC, loC
	hiW, loW := timecodec.Encode(l.Written)
	data[offWritten], data[offWritten+1] = hiW, loW
	hiR, loR := timecodec.Encode(l.Read)
	data[offRead], data[offRead+1] = hiR, loR

	EncodeFilename(data[offFilename:offFilename+filenameWords], l.Filename)

	data[offDirFPHint] = l.DirFPHint.FIDDir
	data[offDirFPHint+1] = l.DirFPHint.SerialNo
	data[offDirFPHint+2] = l.DirFPHint.Version
	data[offDirFPHint+3] = l.DirFPHint.Blank
	data[offDirFPHint+4] = l.DirFPHint.LeaderVDA

	data[offLastPageHint] = uint16(l.LastPageHint.VDA)
	data[offLastPageHint+1] = l.LastPageHint.FilePage
	data[offLastPageHint+2] = l.LastPageHint.CharPos

	data[offPropBegin] = l.PropBegin
	data[offPropLength] = l.PropLength
	copy(data[offLeaderProps:offLeaderProps+leaderPropsWords], l.LeaderProps[:])
	copy(data[offSpare:offSpare+spareWords], l.Spare[:])

	return data
}

// DecodeFilename reads a length-prefixed, dot-terminated filename record.
// Byte 0 is the length including the terminating dot; bytes 1..length-1 are
// the name; byte `length` is the dot. Non-printable bytes are replaced with
// '#'. Bytes are read through GetByte, the same bit0-toggle rule
// altofs.cpp's `filename[i ^ lsb()]` uses to walk this same record.
func DecodeFilename(words []uint16) string {
	raw := word.NativeBytes(words)
	if len(raw) == 0 {
		return ""
	}
	length := int(word.GetByte(raw, 0))
	if length == 0 || length > len(raw)-1 {
		return ""
	}

	name := make([]byte, 0, length-1)
	for i := 1; i < length; i++ {
		c := word.GetByte(raw, i)
		if c < 0x20 || c > 0x7e {
			c = '#'
		}
		name = append(name, c)
	}
	return string(name)
}

// EncodeFilename writes name into words as a length-prefixed, dot-terminated
// record, through SetByte, mirroring DecodeFilename's access pattern. The
// length byte must not exceed FNLEN-2; longer names are an invariant
// violation the caller (the engine's Create / sysdir.Rename) must have
// already rejected with InvalidArgument.
func EncodeFilename(words []uint16, name string) {
	raw := make([]byte, len(words)*2)

	length := len(name) + 1 // +1 for the terminating dot
	word.SetByte(raw, 0, byte(length))
	for i := 0; i < len(name); i++ {
		word.SetByte(raw, 1+i, name[i])
	}
	word.SetByte(raw, length, '.')

	copy(words, word.NativeWords(raw))
}

// ValidateFilenameLength enforces the FNLEN-2 cap called out in the spec.
func ValidateFilenameLength(name string) error {
	if len(name)+1 > geometry.FNLEN-2 {
		return altoerrors.NewWithMessage(
			altoerrors.InvalidArgument,
			"filename too long",
		)
	}
	return nil
}

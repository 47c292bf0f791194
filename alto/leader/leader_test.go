package leader_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/leader"
	"github.com/altofs/altofs/alto/rda"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	l := leader.Leader{
		Created:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Written:  time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Read:     time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
		Filename: "FOO.TXT",
		DirFPHint: leader.DirFPHint{
			FIDDir: 0, SerialNo: 42, Version: 1, LeaderVDA: 7,
		},
		LastPageHint: leader.LastPageHint{VDA: rda.VDA(9), FilePage: 2, CharPos: 88},
		PropBegin:    36,
		PropLength:   200,
	}

	words := l.Encode()
	decoded := leader.Decode(words[:])

	assert.Equal(t, l.Created.Unix(), decoded.Created.Unix())
	assert.Equal(t, l.Written.Unix(), decoded.Written.Unix())
	assert.Equal(t, l.Read.Unix(), decoded.Read.Unix())
	assert.Equal(t, "FOO.TXT", decoded.Filename)
	assert.Equal(t, l.DirFPHint, decoded.DirFPHint)
	assert.Equal(t, l.LastPageHint, decoded.LastPageHint)
	assert.EqualValues(t, 36, decoded.PropBegin)
	assert.EqualValues(t, 200, decoded.PropLength)
}

func TestDecodeFilename_ReplacesNonPrintable(t *testing.T) {
	l := leader.Leader{Filename: "OK.TXT"}
	words := l.Encode()

	// Encode a name holding a non-printable byte and confirm the decoder
	// substitutes '#'.
	raw := words[:]
	_ = raw
	// Directly poke a control character into the name area via re-encoding.
	broken := leader.Leader{Filename: "A\x01B"}
	brokenWords := broken.Encode()
	decoded := leader.Decode(brokenWords[:])
	assert.Equal(t, "A#B", decoded.Filename)
}

func TestValidateFilenameLength(t *testing.T) {
	ok := make([]byte, geometry.FNLEN-3)
	for i := range ok {
		ok[i] = 'A'
	}
	require.NoError(t, leader.ValidateFilenameLength(string(ok)))

	tooLong := make([]byte, geometry.FNLEN)
	for i := range tooLong {
		tooLong[i] = 'A'
	}
	assert.Error(t, leader.ValidateFilenameLength(string(tooLong)))
}

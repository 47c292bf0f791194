package altofs_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	altofs "github.com/altofs/altofs"
	altoerrors "github.com/altofs/altofs/alto/errors"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/rda"
)

func newMountedEngine(t *testing.T) *altofs.Engine {
	t.Helper()

	geom := rda.Geometry{NCylinders: 203, NHeads: 2, NSectors: 12} // diablo31
	path := filepath.Join(t.TempDir(), "test.dsk")

	require.NoError(t, altofs.Format([]string{path}, geom))

	e, err := altofs.Mount(altofs.Config{Image: path})
	require.NoError(t, err)
	return e
}

// TestCreate_AllocatesLeaderAndFirstPage covers scenario S2: create() on an
// image with plenty of free pages allocates a leader page and a first data
// page, an empty file, and a sorted SysDir entry.
func TestCreate_AllocatesLeaderAndFirstPage(t *testing.T) {
	e := newMountedEngine(t)

	h, err := e.Create("/FOO.TXT")
	require.NoError(t, err)
	assert.NotZero(t, h.LeaderVDA)

	info, err := e.GetAttr("/FOO.TXT")
	require.NoError(t, err)
	assert.EqualValues(t, 0, info.Size())

	names := make([]string, 0)
	for _, d := range e.ReadDir() {
		names = append(names, d.Name())
	}
	assert.Contains(t, names, "FOO.TXT")
}

// TestCreate_RejectsDuplicateName covers create()'s EEXIST behavior.
func TestCreate_RejectsDuplicateName(t *testing.T) {
	e := newMountedEngine(t)

	_, err := e.Create("/FOO.TXT")
	require.NoError(t, err)

	_, err = e.Create("/FOO.TXT")
	require.Error(t, err)
	de, ok := err.(altoerrors.DriverError)
	require.True(t, ok)
	assert.Equal(t, altoerrors.AlreadyExists, de.Errno())
}

// TestWrite_SpansTwoPages covers scenario S3: writing 600 bytes at offset 0
// to a fresh file results in a leader plus two data pages (512 + 88 bytes),
// and reading it all back returns the same bytes.
func TestWrite_SpansTwoPages(t *testing.T) {
	e := newMountedEngine(t)

	h, err := e.Create("/FOO.TXT")
	require.NoError(t, err)

	buf := bytes.Repeat([]byte{0x41}, 600)
	n, err := e.Write(h, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 600, n)

	info, err := e.GetAttr("/FOO.TXT")
	require.NoError(t, err)
	assert.EqualValues(t, 600, info.Size())

	out := make([]byte, 600)
	n, err = e.Read(h, out, 0)
	require.NoError(t, err)
	assert.Equal(t, 600, n)
	assert.Equal(t, buf, out)
}

// TestTruncate_ShrinksAndFreesPage covers scenario S4: truncating the
// 600-byte file from S3 down to 300 bytes frees the second data page and
// leaves the first at 300 bytes.
func TestTruncate_ShrinksAndFreesPage(t *testing.T) {
	e := newMountedEngine(t)

	h, err := e.Create("/FOO.TXT")
	require.NoError(t, err)

	buf := bytes.Repeat([]byte{0x41}, 600)
	_, err = e.Write(h, buf, 0)
	require.NoError(t, err)

	statsBefore := e.Statfs()

	require.NoError(t, e.Truncate("/FOO.TXT", 300))

	info, err := e.GetAttr("/FOO.TXT")
	require.NoError(t, err)
	assert.EqualValues(t, 300, info.Size())

	statsAfter := e.Statfs()
	assert.Equal(t, statsBefore.FreeBlocks+1, statsAfter.FreeBlocks)

	out := make([]byte, 300)
	n, err := e.Read(h, out, 0)
	require.NoError(t, err)
	assert.Equal(t, 300, n)
	assert.Equal(t, bytes.Repeat([]byte{0x41}, 300), out)
}

// TestRename_ProtectsDiskDescriptor covers scenario S6: renaming
// DiskDescriptor returns PermissionDenied and mutates nothing.
func TestRename_ProtectsDiskDescriptor(t *testing.T) {
	e := newMountedEngine(t)

	err := e.Rename("/DiskDescriptor", "/X")
	require.Error(t, err)
	de, ok := err.(altoerrors.DriverError)
	require.True(t, ok)
	assert.Equal(t, altoerrors.PermissionDenied, de.Errno())

	_, err = e.Open("/DiskDescriptor")
	assert.NoError(t, err)
	_, err = e.Open("/X")
	assert.True(t, altoerrors.IsNotFound(err))
}

// TestUnlinkThenCreate_YieldsEmptyFile covers property 9: unlink then create
// with the same name succeeds and yields an empty file.
func TestUnlinkThenCreate_YieldsEmptyFile(t *testing.T) {
	e := newMountedEngine(t)

	h, err := e.Create("/FOO.TXT")
	require.NoError(t, err)
	_, err = e.Write(h, []byte("hello"), 0)
	require.NoError(t, err)

	require.NoError(t, e.Unlink("/FOO.TXT"))
	_, err = e.Open("/FOO.TXT")
	assert.True(t, altoerrors.IsNotFound(err))

	_, err = e.Create("/FOO.TXT")
	require.NoError(t, err)

	info, err := e.GetAttr("/FOO.TXT")
	require.NoError(t, err)
	assert.EqualValues(t, 0, info.Size())
}

func TestStatfs_ReportsBlockSizeAndFSID(t *testing.T) {
	e := newMountedEngine(t)
	stats := e.Statfs()
	assert.EqualValues(t, geometry.PAGESZ, stats.BlockSize)
	assert.EqualValues(t, geometry.FNLEN-2, stats.MaxName)
}

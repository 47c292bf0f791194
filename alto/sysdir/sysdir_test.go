package sysdir_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altofs/altofs/alto/chain"
	"github.com/altofs/altofs/alto/errors"
	"github.com/altofs/altofs/alto/fileio"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/image"
	"github.com/altofs/altofs/alto/pagetable"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/sysdir"
)

func newTestIO(t *testing.T, totalPages uint) (*fileio.IO, *chain.Manager) {
	t.Helper()

	geom := rda.Geometry{NCylinders: 1, NHeads: 1, NSectors: totalPages}
	path := filepath.Join(t.TempDir(), "test.dsk")
	require.NoError(t, os.WriteFile(path, make([]byte, totalPages*geometry.PageBytes), 0o644))

	store, err := image.Open([]string{path}, geom)
	require.NoError(t, err)

	table := pagetable.New(totalPages)
	table.SetBit(0, true)

	m := chain.New(store, table, geom)
	return fileio.New(m), m
}

// newEmptyDirectory allocates a leader page for SysDir with no data pages
// yet and loads it as an empty Directory.
func newEmptyDirectory(t *testing.T, io *fileio.IO, m *chain.Manager) (*sysdir.Directory, rda.VDA) {
	t.Helper()
	leaderVDA, err := m.AllocateAfter(0, 1)
	require.NoError(t, err)

	d, err := sysdir.Load(io, leaderVDA, 1, 0)
	require.NoError(t, err)
	return d, leaderVDA
}

func TestInsertFind_RoundTrip(t *testing.T) {
	io, m := newTestIO(t, 10)
	d, _ := newEmptyDirectory(t, io, m)

	require.NoError(t, d.Insert("FOO.TXT", rda.VDA(5), 42, 1))
	require.NoError(t, d.Insert("BAR.TXT", rda.VDA(6), 43, 1))

	got, ok := d.Find("FOO.TXT")
	require.True(t, ok)
	assert.EqualValues(t, 5, got)

	got, ok = d.Find("BAR.TXT")
	require.True(t, ok)
	assert.EqualValues(t, 6, got)

	_, ok = d.Find("MISSING.TXT")
	assert.False(t, ok)
}

func TestInsert_SortedOrder(t *testing.T) {
	io, m := newTestIO(t, 10)
	d, _ := newEmptyDirectory(t, io, m)

	require.NoError(t, d.Insert("ZEBRA", rda.VDA(3), 1, 1))
	require.NoError(t, d.Insert("APPLE", rda.VDA(4), 2, 1))
	require.NoError(t, d.Insert("MANGO", rda.VDA(5), 3, 1))

	entries := d.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "APPLE", entries[0].Name)
	assert.Equal(t, "MANGO", entries[1].Name)
	assert.Equal(t, "ZEBRA", entries[2].Name)
}

func TestRemove_TombstonesAndHidesFromFind(t *testing.T) {
	io, m := newTestIO(t, 10)
	d, _ := newEmptyDirectory(t, io, m)

	require.NoError(t, d.Insert("FOO.TXT", rda.VDA(5), 42, 1))
	require.NoError(t, d.Remove("FOO.TXT"))

	_, ok := d.Find("FOO.TXT")
	assert.False(t, ok)

	entries := d.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Deleted())
}

func TestInsert_ReusesDeletedSlot(t *testing.T) {
	io, m := newTestIO(t, 10)
	d, _ := newEmptyDirectory(t, io, m)

	require.NoError(t, d.Insert("FOO.TXT", rda.VDA(5), 42, 1))
	require.NoError(t, d.Remove("FOO.TXT"))
	require.NoError(t, d.Insert("FOO.TXT", rda.VDA(9), 99, 2))

	entries := d.Entries()
	require.Len(t, entries, 1) // reused, not appended
	assert.False(t, entries[0].Deleted())

	got, ok := d.Find("FOO.TXT")
	require.True(t, ok)
	assert.EqualValues(t, 9, got)
}

func TestRemove_ProtectsSysDirAndDiskDescriptor(t *testing.T) {
	io, m := newTestIO(t, 10)
	d, _ := newEmptyDirectory(t, io, m)

	err := d.Remove(sysdir.SysDirName)
	require.Error(t, err)
	assert.Equal(t, errors.PermissionDenied, err.(errors.DriverError).Errno())

	err = d.Remove(sysdir.DiskDescriptorName)
	require.Error(t, err)
	assert.Equal(t, errors.PermissionDenied, err.(errors.DriverError).Errno())
}

func TestRename_ProtectsSysDirAndDiskDescriptor(t *testing.T) {
	io, m := newTestIO(t, 10)
	d, _ := newEmptyDirectory(t, io, m)

	err := d.Rename(sysdir.SysDirName, "OTHER")
	require.Error(t, err)
	assert.Equal(t, errors.PermissionDenied, err.(errors.DriverError).Errno())
}

func TestRename_ChangesNameInPlace(t *testing.T) {
	io, m := newTestIO(t, 10)
	d, _ := newEmptyDirectory(t, io, m)

	require.NoError(t, d.Insert("OLD.TXT", rda.VDA(5), 42, 1))
	require.NoError(t, d.Rename("OLD.TXT", "NEW.TXT"))

	_, ok := d.Find("OLD.TXT")
	assert.False(t, ok)

	got, ok := d.Find("NEW.TXT")
	require.True(t, ok)
	assert.EqualValues(t, 5, got)
}

func TestFlushLoad_RoundTrip(t *testing.T) {
	io, m := newTestIO(t, 10)
	d, leaderVDA := newEmptyDirectory(t, io, m)

	require.NoError(t, d.Insert("FOO.TXT", rda.VDA(5), 42, 1))
	require.NoError(t, d.Insert("BAR.TXT", rda.VDA(6), 43, 2))
	require.True(t, d.Dirty())

	require.NoError(t, d.Flush())
	assert.False(t, d.Dirty())

	size, err := m.Length(leaderVDA)
	require.NoError(t, err)

	reloaded, err := sysdir.Load(io, leaderVDA, 1, size)
	require.NoError(t, err)

	got, ok := reloaded.Find("FOO.TXT")
	require.True(t, ok)
	assert.EqualValues(t, 5, got)

	got, ok = reloaded.Find("BAR.TXT")
	require.True(t, ok)
	assert.EqualValues(t, 6, got)
}

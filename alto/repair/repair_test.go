package repair_test

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altofs/altofs/alto/chain"
	"github.com/altofs/altofs/alto/descriptor"
	"github.com/altofs/altofs/alto/fileio"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/image"
	"github.com/altofs/altofs/alto/page"
	"github.com/altofs/altofs/alto/pagetable"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/repair"
	"github.com/altofs/altofs/alto/sysdir"
)

func newTestChain(t *testing.T, totalPages uint) *chain.Manager {
	t.Helper()

	geom := rda.Geometry{NCylinders: 1, NHeads: 1, NSectors: totalPages}
	path := filepath.Join(t.TempDir(), "test.dsk")
	require.NoError(t, os.WriteFile(path, make([]byte, totalPages*geometry.PageBytes), 0o644))

	store, err := image.Open([]string{path}, geom)
	require.NoError(t, err)

	table := pagetable.New(totalPages)
	table.SetBit(0, true)

	// Label every page but VDA 0 free on disk too (all-0xFFFF fid triple),
	// so the labels agree with the all-free bitmap.
	for v := rda.VDA(1); uint(v) < totalPages; v++ {
		p, err := store.ReadPage(v)
		require.NoError(t, err)
		p.Label.FIDFile, p.Label.FIDDir, p.Label.FIDID = page.FreeFID, page.FreeFID, page.FreeFID
		require.NoError(t, store.WritePage(v, p))
	}

	return chain.New(store, table, geom)
}

// TestRepair_RestoresBitmapBitFromLabel covers the scenario where a data
// page's bitmap bit reads 0 but its label still carries a live fid triple:
// after repair the bit must read 1 and free_pages must drop by one.
func TestRepair_RestoresBitmapBitFromLabel(t *testing.T) {
	m := newTestChain(t, 20)
	io := fileio.New(m)

	leaderVDA, err := m.AllocateAfter(0, 1)
	require.NoError(t, err)

	n, err := io.Write(leaderVDA, []byte("hello, alto"), 0, 1, true)
	require.NoError(t, err)
	require.Equal(t, 11, n)

	chainVDAs, err := m.Walk(leaderVDA)
	require.NoError(t, err)
	require.Len(t, chainVDAs, 2, "leader plus one data page")
	dataVDA := chainVDAs[1]

	dir, err := sysdir.Load(io, leaderVDA, 1, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Insert("FOO.TXT", leaderVDA, 1, 1))

	desc := descriptor.New(io, rda.VDA(99), 1, 1, m.Geom, 20)

	// Corrupt: clear the data page's bitmap bit even though its label still
	// marks it live (fid_file == 1).
	m.Table.SetBit(dataVDA, false)
	assert.True(t, m.Table.IsFree(dataVDA))

	freeBeforeRepair := m.Table.FreePages()

	var logBuf bytes.Buffer
	logger := log.New(&logBuf, "", 0)
	mgr := repair.New(m, logger)

	result, err := mgr.Repair(desc, dir)
	require.NoError(t, err)

	assert.False(t, m.Table.IsFree(dataVDA), "bitmap bit should be restored to allocated")
	assert.Equal(t, freeBeforeRepair-1, m.Table.FreePages())
	assert.Equal(t, m.Table.FreePages(), result.FreePages)
	assert.Equal(t, uint16(result.FreePages), desc.Header.FreePages)

	require.NotEmpty(t, result.Findings)
	found := false
	for _, f := range result.Findings {
		if strings.Contains(f, "phase 1") {
			found = true
		}
	}
	assert.True(t, found, "phase 1 finding should be recorded")
	assert.Contains(t, logBuf.String(), "repair: phase 1")
}

// TestRepair_RestoresChainMetadata covers a file whose data page labels have
// had their filepage/fid fields clobbered: repair should restore them from
// the leader and the chain structure, which Walk still traverses correctly
// since next_rda links were never touched.
func TestRepair_RestoresChainMetadata(t *testing.T) {
	m := newTestChain(t, 20)
	io := fileio.New(m)

	leaderVDA, err := m.AllocateAfter(0, 7)
	require.NoError(t, err)

	buf := make([]byte, geometry.PAGESZ+50)
	for i := range buf {
		buf[i] = byte(i)
	}
	n, err := io.Write(leaderVDA, buf, 0, 7, true)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	chainVDAs, err := m.Walk(leaderVDA)
	require.NoError(t, err)
	require.Len(t, chainVDAs, 3, "leader plus two data pages")

	// Clobber the second data page's fid triple and filepage.
	corruptVDA := chainVDAs[2]
	p, err := m.Store.ReadPage(corruptVDA)
	require.NoError(t, err)
	p.Label.FIDFile = 0
	p.Label.FIDDir = 0
	p.Label.FIDID = 0
	p.Label.FilePage = 0
	require.NoError(t, m.Store.WritePage(corruptVDA, p))

	dir, err := sysdir.Load(io, leaderVDA, 7, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Insert("BAR.TXT", leaderVDA, 7, 1))

	desc := descriptor.New(io, rda.VDA(99), 7, 1, m.Geom, 20)

	mgr := repair.New(m, nil)
	_, err = mgr.Repair(desc, dir)
	require.NoError(t, err)

	fixed, err := m.Store.ReadPage(corruptVDA)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fixed.Label.FIDFile)
	assert.EqualValues(t, 2, fixed.Label.FilePage)
	assert.EqualValues(t, 50, fixed.Label.NBytes)
}

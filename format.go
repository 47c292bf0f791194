package altofs

import (
	"os"
	"time"

	"github.com/altofs/altofs/alto/chain"
	"github.com/altofs/altofs/alto/descriptor"
	"github.com/altofs/altofs/alto/fileio"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/image"
	"github.com/altofs/altofs/alto/leader"
	"github.com/altofs/altofs/alto/page"
	"github.com/altofs/altofs/alto/pagetable"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/sysdir"
)

// Format writes a fresh, empty Alto file system to paths (one path, or two
// for a dual-drive image), sized for geom, and containing only the two
// mandatory files: SysDir and DiskDescriptor. It mirrors the teacher CLI's
// "format" command, fleshed out to a working implementation.
func Format(paths []string, geom rda.Geometry) error {
	npages := geom.NPages()
	totalBytes := int(npages) * geometry.PageBytes

	for _, p := range paths {
		if err := os.WriteFile(p, make([]byte, totalBytes), 0o644); err != nil {
			return err
		}
	}

	store, err := image.Open(paths, geom)
	if err != nil {
		return err
	}

	table := pagetable.New(npages * uint(len(paths)))
	table.SetBit(0, true)

	// Every page but the reserved VDA 0 starts out free: its label carries
	// the all-0xFFFF fid triple.
	for v := rda.VDA(1); uint(v) < table.TotalPages(); v++ {
		pg, err := store.ReadPage(v)
		if err != nil {
			return err
		}
		pg.Label.FIDFile, pg.Label.FIDDir, pg.Label.FIDID = page.FreeFID, page.FreeFID, page.FreeFID
		if err := store.WritePage(v, pg); err != nil {
			return err
		}
	}
	cm := chain.New(store, table, geom)
	io := fileio.New(cm)

	sysDirLeaderVDA, err := cm.AllocateAfter(0, 1)
	if err != nil {
		return err
	}
	descLeaderVDA, err := cm.AllocateAfter(0, 2)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := stampLeaderName(store, sysDirLeaderVDA, "SysDir", now); err != nil {
		return err
	}
	if err := stampLeaderName(store, descLeaderVDA, "DiskDescriptor", now); err != nil {
		return err
	}

	dir, err := sysdir.Load(io, sysDirLeaderVDA, 1, 0)
	if err != nil {
		return err
	}
	if err := dir.Insert("SysDir", sysDirLeaderVDA, 1, 1); err != nil {
		return err
	}
	if err := dir.Insert("DiskDescriptor", descLeaderVDA, 2, 1); err != nil {
		return err
	}
	if err := dir.Flush(); err != nil {
		return err
	}

	desc := descriptor.New(io, descLeaderVDA, 2, uint16(len(paths)), geom, npages*uint(len(paths)))
	desc.Header.LastSN = 3
	// Flush once to give the descriptor its own first data page (extending
	// its still-empty chain), then resync the bitmap against the table --
	// which that very allocation just changed -- and flush again with the
	// corrected count.
	if err := desc.Flush(); err != nil {
		return err
	}
	desc.SyncFromPageTable(table)
	if err := desc.Flush(); err != nil {
		return err
	}

	if err := store.Save(); err != nil {
		return err
	}
	return promoteBackups(paths)
}

// stampLeaderName sets a freshly allocated leader page's filename and
// creation time.
func stampLeaderName(store *image.Store, leaderVDA rda.VDA, name string, when time.Time) error {
	p, err := store.ReadPage(leaderVDA)
	if err != nil {
		return err
	}
	l := leader.Decode(p.Data[:])
	l.Filename = name
	l.Created, l.Written, l.Read = when, when, when
	p.Data = l.Encode()
	return store.WritePage(leaderVDA, p)
}

// promoteBackups renames Save's backup-suffixed output over the original
// path, so a subsequent Mount(path) sees the freshly formatted content.
func promoteBackups(paths []string) error {
	for _, p := range paths {
		if err := os.Rename(p+"~", p); err != nil {
			return err
		}
	}
	return nil
}

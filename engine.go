// Package altofs implements a read/write engine for the Xerox Alto file
// system: one flat namespace of files chained across pages on one or two
// fixed-size Diablo disk images. Engine is the single entry point; every
// operation in §6 of the design is a method on a mounted Engine.
package altofs

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/altofs/altofs/alto/chain"
	"github.com/altofs/altofs/alto/descriptor"
	altoerrors "github.com/altofs/altofs/alto/errors"
	"github.com/altofs/altofs/alto/fileio"
	"github.com/altofs/altofs/alto/filetree"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/image"
	"github.com/altofs/altofs/alto/leader"
	"github.com/altofs/altofs/alto/pagetable"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/repair"
	"github.com/altofs/altofs/alto/sysdir"
)

// Config configures a Mount call.
type Config struct {
	// Image is one path, or two joined by image.PathDelimiter ("path1,path2")
	// for a dual-drive mount.
	Image string
	// NDisks is the drive count the DiskDescriptor header is validated
	// against. Zero infers it from the number of paths in Image.
	NDisks uint16
	Flags  MountFlags
	Logger *log.Logger
}

// Engine is one mounted image: the chain manager, directory, descriptor,
// and file info tree, plus the repair state produced at mount.
type Engine struct {
	store *image.Store
	chain *chain.Manager
	table *pagetable.PageTable
	io    *fileio.IO

	dir  *sysdir.Directory
	desc *descriptor.Descriptor
	tree *filetree.Tree

	repairMgr    *repair.Manager
	state        repair.State
	lastRepair   *repair.Result
	sysDirLeaderVDA rda.VDA
	descLeaderVDA   rda.VDA

	cfg Config
	log *log.Logger
}

// Mount opens the image(s) named by cfg.Image, validates the mounted state,
// runs Consistency Repair if needed, and returns a ready Engine.
func Mount(cfg Config) (*Engine, error) {
	paths := image.SplitPaths(cfg.Image)
	nDisks := cfg.NDisks
	if nDisks == 0 {
		nDisks = uint16(len(paths))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	geom, err := image.ProbeGeometry(paths)
	if err != nil {
		return nil, err
	}

	store, err := image.Open(paths, geom)
	if err != nil {
		return nil, err
	}

	total := store.NPages() * uint(store.NDrives())
	table := pagetable.New(total)
	cm := chain.New(store, table, geom)
	io := fileio.New(cm)

	tree, err := filetree.Build(cm)
	if err != nil {
		return nil, err
	}

	sysDirEntry, ok := tree.Find(sysdir.SysDirName)
	if !ok {
		return nil, altoerrors.NewWithMessage(altoerrors.Corrupt, "SysDir leader page not found")
	}
	descEntry, ok := tree.Find(sysdir.DiskDescriptorName)
	if !ok {
		return nil, altoerrors.NewWithMessage(altoerrors.Corrupt, "DiskDescriptor leader page not found")
	}

	dirSize, err := cm.Length(sysDirEntry.LeaderVDA)
	if err != nil {
		return nil, err
	}
	dir, err := sysdir.Load(io, sysDirEntry.LeaderVDA, 0, dirSize)
	if err != nil {
		return nil, err
	}

	desc, err := descriptor.Load(io, descEntry.LeaderVDA, 0)
	if err != nil {
		return nil, err
	}
	desc.HydratePageTable(table)
	table.SetBit(0, true) // VDA 0 doubles as the chain terminator sentinel

	rm := repair.New(cm, logger)

	state := repair.Valid
	if cfg.Flags.ForceRepair() {
		state = repair.Invalid
	} else if verr := rm.Validate(desc, nDisks); verr != nil {
		logger.Printf("mount: validation failed: %v", verr)
		state = repair.Invalid
	}

	var lastRepair *repair.Result
	if state == repair.Invalid {
		res, rerr := rm.Repair(desc, dir)
		if rerr != nil {
			logger.Printf("mount: repair completed with findings: %v", rerr)
		}
		lastRepair = res
		tree = res.Tree
		state = repair.Repaired
	}

	tree.SyncDeleted(dir)
	state = repair.Ready

	return &Engine{
		store: store, chain: cm, table: table, io: io,
		dir: dir, desc: desc, tree: tree,
		repairMgr:       rm,
		state:           state,
		lastRepair:      lastRepair,
		sysDirLeaderVDA: sysDirEntry.LeaderVDA,
		descLeaderVDA:   descEntry.LeaderVDA,
		cfg:             cfg,
		log:             logger,
	}, nil
}

// State reports the engine's current mount state.
func (e *Engine) State() repair.State { return e.state }

// LastRepair returns the findings of the repair pass run at mount, or nil if
// none was needed.
func (e *Engine) LastRepair() *repair.Result { return e.lastRepair }

func trimName(path string) string {
	return strings.TrimPrefix(path, "/")
}

func protectedName(name string) bool {
	return name == sysdir.SysDirName || name == sysdir.DiskDescriptorName
}

// Handle identifies an open file by name and leader VDA, the unit every
// read/write/truncate/getattr call below operates against.
type Handle struct {
	Name      string
	LeaderVDA rda.VDA
}

// Open resolves path to a Handle. Non-existent or deleted files return
// NotFound.
func (e *Engine) Open(path string) (*Handle, error) {
	name := trimName(path)
	entry, ok := e.tree.Find(name)
	if !ok || entry.Deleted {
		return nil, altoerrors.New(altoerrors.NotFound)
	}
	return &Handle{Name: name, LeaderVDA: entry.LeaderVDA}, nil
}

// Read reads up to len(buf) bytes from h at offset, updating the file's
// read time.
func (e *Engine) Read(h *Handle, buf []byte, offset uint64) (int, error) {
	return e.io.Read(h.LeaderVDA, buf, offset, true)
}

// Write writes buf to h at offset, extending the chain as needed, and
// updates the file's written time and cached size.
func (e *Engine) Write(h *Handle, buf []byte, offset uint64) (int, error) {
	if e.cfg.Flags.ReadOnly() {
		return 0, altoerrors.New(altoerrors.PermissionDenied)
	}

	n, err := e.io.Write(h.LeaderVDA, buf, offset, 0, true)
	if entry, ok := e.tree.Find(h.Name); ok {
		if rerr := e.tree.Refresh(e.chain, entry); rerr != nil && err == nil {
			err = rerr
		}
	}
	return n, err
}

// Truncate resizes the file at path to newSize bytes, freeing or extending
// its chain and updating last_page_hint on the leader page.
func (e *Engine) Truncate(path string, newSize uint64) error {
	if e.cfg.Flags.ReadOnly() {
		return altoerrors.New(altoerrors.PermissionDenied)
	}

	name := trimName(path)
	entry, ok := e.tree.Find(name)
	if !ok || entry.Deleted {
		return altoerrors.New(altoerrors.NotFound)
	}

	hint, err := e.chain.Truncate(entry.LeaderVDA, newSize, 0)
	if err != nil {
		return err
	}
	if perr := e.patchLastPageHint(entry.LeaderVDA, hint); perr != nil {
		return perr
	}
	return e.tree.Refresh(e.chain, entry)
}

func (e *Engine) patchLastPageHint(leaderVDA rda.VDA, hint chain.LastPageHint) error {
	p, err := e.store.ReadPage(leaderVDA)
	if err != nil {
		return err
	}
	l := leader.Decode(p.Data[:])
	l.LastPageHint = leader.LastPageHint{VDA: hint.VDA, FilePage: hint.FilePage, CharPos: hint.CharPos}
	l.Written = time.Now()
	p.Data = l.Encode()
	return e.store.WritePage(leaderVDA, p)
}

// Create allocates a new, empty file named path. Fails with AlreadyExists if
// the name is already in use (live or, per SysDir's tombstone reuse, its
// slot is simply overwritten by Insert instead).
func (e *Engine) Create(path string) (*Handle, error) {
	if e.cfg.Flags.ReadOnly() {
		return nil, altoerrors.New(altoerrors.PermissionDenied)
	}

	name := trimName(path)
	if err := leader.ValidateFilenameLength(name); err != nil {
		return nil, err
	}
	if entry, ok := e.tree.Find(name); ok && !entry.Deleted {
		return nil, altoerrors.New(altoerrors.AlreadyExists)
	}

	serial := e.desc.NextSerial()
	leaderVDA, err := e.chain.AllocateAfter(0, serial)
	if err != nil {
		return nil, err
	}
	if _, err := e.chain.AllocateAfter(leaderVDA, serial); err != nil {
		return nil, err
	}

	p, err := e.store.ReadPage(leaderVDA)
	if err != nil {
		return nil, err
	}
	l := leader.Decode(p.Data[:])
	l.Filename = name
	now := time.Now()
	l.Created, l.Written, l.Read = now, now, now
	p.Data = l.Encode()
	if err := e.store.WritePage(leaderVDA, p); err != nil {
		return nil, err
	}

	if err := e.dir.Insert(name, leaderVDA, serial, 1); err != nil {
		return nil, err
	}

	entry := filetree.NewEntry(leaderVDA, name, now)
	e.tree.Upsert(entry)

	return &Handle{Name: name, LeaderVDA: leaderVDA}, nil
}

// Unlink removes path: its SysDir entry is tombstoned, every page in its
// chain is freed, and its file info tree entry is marked deleted. Forbidden
// for SysDir and DiskDescriptor.
func (e *Engine) Unlink(path string) error {
	if e.cfg.Flags.ReadOnly() {
		return altoerrors.New(altoerrors.PermissionDenied)
	}

	name := trimName(path)
	leaderVDA, ok := e.dir.Find(name)
	if !ok {
		return altoerrors.New(altoerrors.NotFound)
	}

	if err := e.dir.Remove(name); err != nil {
		return err
	}

	chainVDAs, err := e.chain.Walk(leaderVDA)
	if err != nil {
		return err
	}
	leaderPage, err := e.store.ReadPage(leaderVDA)
	if err != nil {
		return err
	}
	fidID := leaderPage.Label.FIDID
	for i := len(chainVDAs) - 1; i >= 0; i-- {
		if err := e.chain.Free(chainVDAs[i], fidID); err != nil {
			return err
		}
	}

	if entry, ok := e.tree.Find(name); ok {
		entry.Deleted = true
	}
	return nil
}

// Rename changes path's name to newPath, in both SysDir and the leader
// page's own filename field. Per the resolved Open Question, a successful
// rename reports success (the original source's -ENOENT-on-success return
// is not reproduced). Forbidden for SysDir and DiskDescriptor, which return
// PermissionDenied without mutating anything.
func (e *Engine) Rename(path, newPath string) error {
	if e.cfg.Flags.ReadOnly() {
		return altoerrors.New(altoerrors.PermissionDenied)
	}

	oldName := trimName(path)
	newName := trimName(newPath)

	if protectedName(oldName) {
		return altoerrors.NewWithMessage(altoerrors.PermissionDenied, "cannot rename "+oldName)
	}

	leaderVDA, ok := e.dir.Find(oldName)
	if !ok {
		return altoerrors.New(altoerrors.NotFound)
	}

	if err := e.dir.Rename(oldName, newName); err != nil {
		return err
	}

	p, err := e.store.ReadPage(leaderVDA)
	if err != nil {
		return err
	}
	l := leader.Decode(p.Data[:])
	l.Filename = newName
	p.Data = l.Encode()
	if err := e.store.WritePage(leaderVDA, p); err != nil {
		return err
	}

	e.tree.Rename(oldName, newName)
	return nil
}

// ReadDir lists every live file in the single root namespace.
func (e *Engine) ReadDir() []os.DirEntry {
	return e.tree.ReadDir()
}

// GetAttr returns path's host-visible metadata.
func (e *Engine) GetAttr(path string) (os.FileInfo, error) {
	name := trimName(path)
	entry, ok := e.tree.Find(name)
	if !ok || entry.Deleted {
		return nil, altoerrors.New(altoerrors.NotFound)
	}
	return entry, nil
}

// Utimens sets path's access and modification times on both the file info
// tree entry and the leader page.
func (e *Engine) Utimens(path string, atime, mtime time.Time) error {
	if e.cfg.Flags.ReadOnly() {
		return altoerrors.New(altoerrors.PermissionDenied)
	}

	name := trimName(path)
	entry, ok := e.tree.Find(name)
	if !ok || entry.Deleted {
		return altoerrors.New(altoerrors.NotFound)
	}

	p, err := e.store.ReadPage(entry.LeaderVDA)
	if err != nil {
		return err
	}
	l := leader.Decode(p.Data[:])
	l.Read = atime
	l.Written = mtime
	p.Data = l.Encode()
	if err := e.store.WritePage(entry.LeaderVDA, p); err != nil {
		return err
	}

	entry.Read = atime
	entry.Written = mtime
	return nil
}

// Statfs reports aggregate file system statistics per §6.
type Statfs struct {
	BlockSize   uint64
	TotalBlocks uint64
	FreeBlocks  uint64
	Files       uint64
	FreeFiles   uint64
	MaxName     int
	FSID        uint16
}

func (e *Engine) Statfs() Statfs {
	return Statfs{
		BlockSize:   geometry.PAGESZ,
		TotalBlocks: uint64(e.store.NPages()) * uint64(e.store.NDrives()),
		FreeBlocks:  uint64(e.table.FreePages()),
		Files:       uint64(len(e.tree.Children)),
		FreeFiles:   uint64(e.table.FreePages()) / 2,
		MaxName:     geometry.FNLEN - 2,
		FSID:        e.desc.Header.LastSN,
	}
}

// Unmount flushes SysDir, the DiskDescriptor, and the image itself (unless
// mounted read-only), then releases the engine. The engine must not be used
// after this call.
func (e *Engine) Unmount() error {
	if e.cfg.Flags.ReadOnly() {
		return nil
	}

	if e.dir.Dirty() {
		if err := e.dir.Flush(); err != nil {
			return err
		}
	}

	e.desc.SyncFromPageTable(e.table)
	if e.desc.Dirty() {
		if err := e.desc.Flush(); err != nil {
			return err
		}
	}

	return e.store.Save()
}

// Package filetree implements the File Info Tree: the flat, host-shaped
// view over every live file built once at mount by scanning leader pages,
// and kept in sync with the Directory's deleted flags thereafter.
package filetree

import (
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/altofs/altofs/alto/chain"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/leader"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/sysdir"
)

// Entry is one file's host-visible metadata, keyed by name with its leader
// VDA doubling as an inode number. It implements os.FileInfo and
// os.DirEntry directly, the way the teacher's basedriver.DirectoryEntry
// wraps a name and a stat snapshot.
type Entry struct {
	LeaderVDA rda.VDA
	name      string
	size      int64
	blocks    int64
	readOnly  bool
	Created   time.Time
	Written   time.Time
	Read      time.Time
	Deleted   bool
}

// protected reports whether name is one of the two files that are always
// read-only: SysDir and DiskDescriptor.
func protected(name string) bool {
	return name == sysdir.SysDirName || name == sysdir.DiskDescriptorName
}

func (e *Entry) Name() string { return e.name }

func (e *Entry) Size() int64 { return e.size }

// Blocks returns the file's size in PAGESZ-sized blocks, rounded up; an
// empty file reports 0 even when its chain already holds a data page.
func (e *Entry) Blocks() int64 { return e.blocks }

// Sys returns the leader VDA of the file this entry describes, for callers
// that want the inode without walking through GetAttr again.
func (e *Entry) Sys() any { return e.LeaderVDA }

// IsDir always reports false: the Alto namespace this driver models is
// flat, one root directory holding every file.
func (e *Entry) IsDir() bool { return false }

func (e *Entry) Mode() os.FileMode {
	if e.readOnly {
		return 0o444
	}
	return 0o666
}

func (e *Entry) ModTime() time.Time { return e.Written }

func (e *Entry) Type() fs.FileMode { return e.Mode().Type() }

func (e *Entry) Info() (os.FileInfo, error) { return e, nil }

// Tree is the two-level namespace: one implicit root, one flat list of
// children.
type Tree struct {
	Children []*Entry
}

// Build scans every page across both drives, collecting one Entry per
// leader page (filepage = 0, fid_file = 1, prev_rda = 0 -- the chain-head
// signature), and sorts the result by name.
func Build(m *chain.Manager) (*Tree, error) {
	total := m.Store.NPages() * uint(m.Store.NDrives())

	var children []*Entry
	for v := rda.VDA(0); uint(v) < total; v++ {
		p, err := m.Store.ReadPage(v)
		if err != nil {
			return nil, err
		}
		if p.Label.FilePage != 0 || p.Label.FIDFile != 1 {
			continue
		}
		if !rda.IsChainTerminator(p.Label.PrevRDA) {
			continue
		}

		l := leader.Decode(p.Data[:])
		size, err := m.Length(v)
		if err != nil {
			return nil, err
		}

		children = append(children, &Entry{
			LeaderVDA: v,
			name:      l.Filename,
			size:      int64(size),
			blocks:    int64((size + geometry.PAGESZ - 1) / geometry.PAGESZ),
			readOnly:  protected(l.Filename),
			Created:   l.Created,
			Written:   l.Written,
			Read:      l.Read,
		})
	}

	sort.Slice(children, func(i, j int) bool { return children[i].name < children[j].name })
	return &Tree{Children: children}, nil
}

// Find returns the child named name, if any (deleted or not).
func (t *Tree) Find(name string) (*Entry, bool) {
	for _, c := range t.Children {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// NewEntry builds an Entry for a freshly created file, ready for Add.
func NewEntry(leaderVDA rda.VDA, name string, created time.Time) *Entry {
	return &Entry{
		LeaderVDA: leaderVDA,
		name:      name,
		readOnly:  protected(name),
		Created:   created,
		Written:   created,
	}
}

// Add inserts a newly created file's entry, keeping the slice sorted.
func (t *Tree) Add(e *Entry) {
	pos := sort.Search(len(t.Children), func(i int) bool { return t.Children[i].name >= e.name })
	t.Children = append(t.Children, nil)
	copy(t.Children[pos+1:], t.Children[pos:])
	t.Children[pos] = e
}

// Upsert installs e under its name, replacing an existing entry in place
// (including a tombstoned one left by a prior unlink) rather than appending
// a duplicate.
func (t *Tree) Upsert(e *Entry) {
	for i, c := range t.Children {
		if c.name == e.name {
			t.Children[i] = e
			return
		}
	}
	t.Add(e)
}

// Rename updates a child's name in place and re-sorts the slice, mirroring
// the directory's own in-place rename (no resorted splice on that side, but
// the tree's ReadDir output is contractually name-sorted so this side does
// resort).
func (t *Tree) Rename(oldName, newName string) bool {
	e, ok := t.Find(oldName)
	if !ok {
		return false
	}
	e.name = newName
	sort.Slice(t.Children, func(i, j int) bool { return t.Children[i].name < t.Children[j].name })
	return true
}

// SyncDeleted overwrites every child's Deleted flag from dir's entry types,
// per §4.10's "deleted flag synchronised with the directory entry type"
// requirement.
func (t *Tree) SyncDeleted(dir *sysdir.Directory) {
	deleted := make(map[string]bool, len(dir.Entries()))
	for _, e := range dir.Entries() {
		deleted[e.Name] = e.Deleted()
	}
	for _, c := range t.Children {
		if d, ok := deleted[c.name]; ok {
			c.Deleted = d
		}
	}
}

// ReadDir returns the live (non-deleted) children, implementing the slice
// the engine's ReadDir hands back to its caller.
func (t *Tree) ReadDir() []os.DirEntry {
	out := make([]os.DirEntry, 0, len(t.Children))
	for _, c := range t.Children {
		if !c.Deleted {
			out = append(out, c)
		}
	}
	return out
}

// Refresh recomputes size and blocks from the chain manager, called after a
// write or truncate changes a file's length.
func (t *Tree) Refresh(m *chain.Manager, e *Entry) error {
	size, err := m.Length(e.LeaderVDA)
	if err != nil {
		return err
	}
	e.size = int64(size)
	e.blocks = int64((size + geometry.PAGESZ - 1) / geometry.PAGESZ)
	return nil
}

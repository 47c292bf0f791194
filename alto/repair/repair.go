// Package repair implements the Consistency Repair scavenger: the
// four-phase reconciliation pass that restores the bitmap and page labels
// from the authoritative chain structure when validation fails at mount.
package repair

import (
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"

	"github.com/altofs/altofs/alto/chain"
	"github.com/altofs/altofs/alto/descriptor"
	"github.com/altofs/altofs/alto/filetree"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/page"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/sysdir"
)

// State is the at-mount validation/repair state machine.
type State int

const (
	Loaded State = iota
	Valid
	Invalid
	Repaired
	Ready
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case Repaired:
		return "repaired"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Manager runs validation and, if needed, repair over a mounted image.
type Manager struct {
	Chain *chain.Manager
	Log   *log.Logger
}

// New creates a Manager. A nil logger defaults to log.Default().
func New(c *chain.Manager, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{Chain: c, Log: logger}
}

// Result summarizes one repair pass.
type Result struct {
	Tree      *filetree.Tree
	FreePages uint
	Findings  []string
}

func (r *Manager) totalPages() uint {
	return r.Chain.Store.NPages() * uint(r.Chain.Store.NDrives())
}

// countFreeFidPages counts pages whose fid triple marks them free
// (fid_file == 0xFFFF), independent of what the bitmap currently claims.
func (r *Manager) countFreeFidPages() (uint, error) {
	var free uint
	total := r.totalPages()
	for v := rda.VDA(0); uint(v) < total; v++ {
		p, err := r.Chain.Store.ReadPage(v)
		if err != nil {
			return 0, err
		}
		if p.Label.FIDFile == page.FreeFID {
			free++
		}
	}
	return free, nil
}

// Validate checks a mounted image's Disk Descriptor against the image's
// actual state, per §4.9's five checks. Free bitmap bits are counted over
// the image's real pages only, not the padding bits of the last word.
func (r *Manager) Validate(desc *descriptor.Descriptor, expectedNDisks uint16) error {
	freeFidPages, err := r.countFreeFidPages()
	if err != nil {
		return err
	}
	var freeBits uint
	for v := rda.VDA(0); uint(v) < r.totalPages(); v++ {
		if !desc.IsAllocated(v) {
			freeBits++
		}
	}
	return descriptor.Validate(desc.Header, expectedNDisks, freeBits, freeFidPages)
}

// Repair runs the four repair phases. desc is never flushed here -- the
// caller's mount sequence decides when to persist -- and is marked dirty
// only when phase 4 changes its bitmap or free_pages.
func (r *Manager) Repair(desc *descriptor.Descriptor, dir *sysdir.Directory) (*Result, error) {
	result := &Result{}
	var findings error

	note := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		result.Findings = append(result.Findings, msg)
		r.Log.Printf("repair: %s", msg)
	}

	// Phase 1: recompute the bitmap from is_free(p) over every page, per its
	// label's fid triple, ignoring whatever the on-disk bitmap currently
	// claims.
	total := r.totalPages()
	for v := rda.VDA(0); uint(v) < total; v++ {
		p, err := r.Chain.Store.ReadPage(v)
		if err != nil {
			findings = multierror.Append(findings, err)
			continue
		}
		r.Chain.Table.SetBit(v, p.Label.FIDFile != page.FreeFID)
	}
	note("phase 1: recomputed the free-page bitmap from %d page labels", total)

	// Phase 2: rebuild the file info tree from scratch.
	tree, err := filetree.Build(r.Chain)
	if err != nil {
		return nil, err
	}
	result.Tree = tree
	note("phase 2: rebuilt the file info tree, %d files found", len(tree.Children))

	// Phase 3: for each live directory entry, walk its chain and restore
	// fid triple, filepage numbering, and nbytes from the leader, marking
	// every visited page allocated in the bitmap.
	repairedChains := 0
	for _, e := range dir.Entries() {
		if e.Deleted() {
			continue
		}
		leaderVDA := rda.VDA(e.Ptr.LeaderVDA)
		if err := r.repairChain(leaderVDA); err != nil {
			findings = multierror.Append(findings, err)
			continue
		}
		repairedChains++
	}
	note("phase 3: restored labels across %d live file chains", repairedChains)

	// Phase 4: recount 0 bits and write free_pages back onto the
	// descriptor.
	desc.SyncFromPageTable(r.Chain.Table)
	result.FreePages = r.Chain.Table.FreePages()
	note("phase 4: recounted free pages: %d free of %d total", result.FreePages, total)

	if findings != nil {
		return result, findings
	}
	return result, nil
}

// repairChain restores fid_file/fid_dir/fid_id, filepage numbering, and
// nbytes across leaderVDA's data pages, trusting the leader's fid triple and
// the chain's current total byte length (computed before any page in the
// chain is touched) as the two facts repair does not itself reconstruct.
func (r *Manager) repairChain(leaderVDA rda.VDA) error {
	length, err := r.Chain.Length(leaderVDA)
	if err != nil {
		return err
	}

	chainVDAs, err := r.Chain.Walk(leaderVDA)
	if err != nil {
		return err
	}

	leaderPage, err := r.Chain.Store.ReadPage(leaderVDA)
	if err != nil {
		return err
	}
	fidFile, fidDir, fidID := leaderPage.Label.FIDFile, leaderPage.Label.FIDDir, leaderPage.Label.FIDID
	r.Chain.Table.SetBit(leaderVDA, true)

	dataVDAs := chainVDAs[1:]
	remaining := length
	for i, v := range dataVDAs {
		p, err := r.Chain.Store.ReadPage(v)
		if err != nil {
			return err
		}

		p.Label.FIDFile = fidFile
		p.Label.FIDDir = fidDir
		p.Label.FIDID = fidID
		p.Label.FilePage = uint16(i + 1)

		if i == len(dataVDAs)-1 {
			p.Label.NBytes = uint16(remaining % geometry.PAGESZ)
		} else {
			p.Label.NBytes = geometry.PAGESZ
			remaining -= geometry.PAGESZ
		}

		if err := r.Chain.Store.WritePage(v, p); err != nil {
			return err
		}
		r.Chain.Table.SetBit(v, true)
	}
	return nil
}

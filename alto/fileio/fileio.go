// Package fileio implements byte-granular read and write against a file
// identified by its leader page VDA, on top of the Chain Manager.
package fileio

import (
	"time"

	"github.com/altofs/altofs/alto/chain"
	altoerrors "github.com/altofs/altofs/alto/errors"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/leader"
	"github.com/altofs/altofs/alto/page"
	"github.com/altofs/altofs/alto/rda"
	"github.com/altofs/altofs/alto/word"
)

// IO ties a chain manager to the leader codec so reads/writes can maintain
// last_page_hint and the leader's read/written timestamps.
type IO struct {
	Chain *chain.Manager
}

func New(c *chain.Manager) *IO {
	return &IO{Chain: c}
}

func (io *IO) readLeaderPage(leaderVDA rda.VDA) (page.Page, leader.Leader, error) {
	p, err := io.Chain.Store.ReadPage(leaderVDA)
	if err != nil {
		return page.Page{}, leader.Leader{}, err
	}
	return p, leader.Decode(p.Data[:]), nil
}

// writeLeader stores l into the leader page's data area. The page is read
// afresh so that label changes made since l was decoded (AllocateAfter
// linking a first data page through the leader's next_rda) are kept.
func (io *IO) writeLeader(leaderVDA rda.VDA, l leader.Leader) error {
	p, err := io.Chain.Store.ReadPage(leaderVDA)
	if err != nil {
		return err
	}
	p.Data = l.Encode()
	return io.Chain.Store.WritePage(leaderVDA, p)
}

// Read fills buf (up to len(buf) bytes) starting at offset in the file
// rooted at leaderVDA, returning the number of bytes actually read. Reading
// past EOF silently returns 0, per the spec's silent-recovery rule. When
// update is true, the leader's read time is also refreshed.
func (io *IO) Read(leaderVDA rda.VDA, buf []byte, offset uint64, update bool) (int, error) {
	chainVDAs, err := io.Chain.Walk(leaderVDA)
	if err != nil {
		return 0, err
	}
	dataVDAs := chainVDAs[1:]

	written := 0
	remaining := len(buf)
	pos := offset

	for _, vda := range dataVDAs {
		if remaining == 0 {
			break
		}

		p, err := io.Chain.Store.ReadPage(vda)
		if err != nil {
			return written, err
		}
		pageStart := uint64(p.Label.FilePage-1) * geometry.PAGESZ
		pageEnd := pageStart + uint64(p.Label.NBytes)

		if pos >= pageEnd {
			if p.Label.NBytes < geometry.PAGESZ {
				break // this was the last data page; EOF
			}
			continue
		}

		startInPage := int(pos - pageStart)
		available := int(p.Label.NBytes) - startInPage
		if available <= 0 {
			if p.Label.NBytes < geometry.PAGESZ {
				break
			}
			continue
		}

		n := available
		if n > remaining {
			n = remaining
		}

		pageBytes := word.FromWords(p.Data[:])
		copy(buf[written:written+n], pageBytes[startInPage:startInPage+n])

		written += n
		remaining -= n
		pos += uint64(n)

		if p.Label.NBytes < geometry.PAGESZ {
			break // short page: EOF
		}
	}

	if update && written > 0 {
		if err := io.touchReadTime(leaderVDA); err != nil {
			return written, err
		}
	}

	return written, nil
}

func (io *IO) touchReadTime(leaderVDA rda.VDA) error {
	_, l, err := io.readLeaderPage(leaderVDA)
	if err != nil {
		return err
	}
	l.Read = time.Now()
	return io.writeLeader(leaderVDA, l)
}

// Write writes buf at offset into the file rooted at leaderVDA. It returns
// the number of bytes actually written, which is less than len(buf) only
// when the device runs out of space partway through -- in which case the
// partial write is committed and NoSpace is returned. serial is the file's
// fid_id, needed if the write must extend the chain with new pages. The
// leader's last_page_hint is always set to the page and in-page position
// where this write ended; when update is true, its written time is
// refreshed too.
func (io *IO) Write(leaderVDA rda.VDA, buf []byte, offset uint64, serial uint16, update bool) (int, error) {
	_, l, err := io.readLeaderPage(leaderVDA)
	if err != nil {
		return 0, err
	}

	startVDA, startOffset, err := io.seekTarget(leaderVDA, l, offset, serial)
	if err != nil {
		return 0, err
	}

	written := 0
	remaining := len(buf)
	pos := offset
	currentVDA := startVDA
	currentPageOffset := startOffset

	for remaining > 0 {
		p, err := io.Chain.Store.ReadPage(currentVDA)
		if err != nil {
			return written, err
		}

		room := geometry.PAGESZ - currentPageOffset
		n := room
		if n > remaining {
			n = remaining
		}

		pageBytes := word.FromWords(p.Data[:])
		copy(pageBytes[currentPageOffset:currentPageOffset+n], buf[written:written+n])
		copy(p.Data[:], word.ToWords(pageBytes))

		newNBytes := currentPageOffset + n
		if uint16(newNBytes) > p.Label.NBytes {
			p.Label.NBytes = uint16(newNBytes)
		}
		if err := io.Chain.Store.WritePage(currentVDA, p); err != nil {
			return written, err
		}

		written += n
		remaining -= n
		pos += uint64(n)
		currentPageOffset += n

		if remaining == 0 {
			l.LastPageHint = toLeaderHint(currentVDA, p.Label.FilePage, uint16(newNBytes))
			break
		}

		// Need another page: follow next_rda, or extend the chain.
		if rda.IsChainTerminator(p.Label.NextRDA) {
			newVDA, err := io.Chain.AllocateAfter(currentVDA, serial)
			if err != nil {
				l.LastPageHint = toLeaderHint(currentVDA, p.Label.FilePage, p.Label.NBytes)
				io.writeLeader(leaderVDA, l)
				return written, altoerrors.New(altoerrors.NoSpace)
			}
			currentVDA = newVDA
		} else {
			currentVDA = rda.RDAToVDA(p.Label.NextRDA, io.Chain.Geom)
		}
		currentPageOffset = 0
	}

	if update {
		l.Written = time.Now()
	}
	if err := io.writeLeader(leaderVDA, l); err != nil {
		return written, err
	}
	return written, nil
}

func toLeaderHint(vda rda.VDA, filepage, charPos uint16) leader.LastPageHint {
	return leader.LastPageHint{VDA: vda, FilePage: filepage, CharPos: charPos}
}

// seekTarget finds the (VDA, in-page offset) to begin writing at `offset`,
// using the leader's last_page_hint as a fast path when it's still valid,
// and falling back to a full chain walk otherwise. A leader with no data
// pages yet (a brand-new file) gets its first page allocated here; serial
// is only consulted in that case.
func (io *IO) seekTarget(leaderVDA rda.VDA, l leader.Leader, offset uint64, serial uint16) (rda.VDA, int, error) {
	hint := l.LastPageHint
	if hint.FilePage > 0 && offset >= uint64(hint.FilePage-1)*geometry.PAGESZ {
		hintPageStart := uint64(hint.FilePage-1) * geometry.PAGESZ
		if offset-hintPageStart <= geometry.PAGESZ {
			return hint.VDA, int(offset - hintPageStart), nil
		}
	}

	chainVDAs, err := io.Chain.Walk(leaderVDA)
	if err != nil {
		return 0, 0, err
	}
	dataVDAs := chainVDAs[1:]

	if len(dataVDAs) == 0 {
		firstVDA, err := io.Chain.AllocateAfter(leaderVDA, serial)
		if err != nil {
			return 0, 0, altoerrors.New(altoerrors.NoSpace)
		}
		return firstVDA, 0, nil
	}

	for _, vda := range dataVDAs {
		p, err := io.Chain.Store.ReadPage(vda)
		if err != nil {
			return 0, 0, err
		}
		pageStart := uint64(p.Label.FilePage-1) * geometry.PAGESZ
		pageEnd := pageStart + geometry.PAGESZ
		if offset < pageEnd {
			return vda, int(offset - pageStart), nil
		}
		if rda.IsChainTerminator(p.Label.NextRDA) {
			return vda, int(offset - pageStart), nil
		}
	}

	last := dataVDAs[len(dataVDAs)-1]
	lastPage, err := io.Chain.Store.ReadPage(last)
	if err != nil {
		return 0, 0, err
	}
	pageStart := uint64(lastPage.Label.FilePage-1) * geometry.PAGESZ
	return last, int(offset - pageStart), nil
}

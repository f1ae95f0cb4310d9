package domstore

import (
	"fmt"
	"strings"

	"github.com/sushant-115/domstore/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"github.com/sushant-115/domstore/core/write_engine/wal"
)

const dumpPreview = 16

// DumpPage renders the header and records of a page for inspection.
func (s *Store) DumpPage(page pagemanager.PageID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	sc := s.newScope()
	defer sc.close()
	p, err := sc.fetch(page)
	if err != nil {
		return "", err
	}
	h := p.Header()

	var b strings.Builder
	fmt.Fprintf(&b, "page %d: %s\n", page, h)
	switch h.Status() {
	case pagemanager.StatusOverflow:
		fmt.Fprintf(&b, "  chunk of %d bytes, next chunk at page %d\n", h.DataLength(), h.NextPage())
	case pagemanager.StatusRecord:
		body, dataLen := p.Body(), h.DataLength()
		for off := 0; off < dataLen; {
			r, err := s.parseRecord(page, body, dataLen, off)
			if err != nil {
				fmt.Fprintf(&b, "  @%d: %v\n", off, err)
				break
			}
			switch {
			case r.isLink():
				fmt.Fprintf(&b, "  @%d tid=%s link -> %s\n", off, r.tid, r.link)
			case r.isOverflow():
				fmt.Fprintf(&b, "  @%d tid=%s overflow first=%d", off, r.tid, r.overflow)
			default:
				v := r.value(body)
				fmt.Fprintf(&b, "  @%d tid=%s len=%d % x", off, r.tid, r.length, v[:min(len(v), dumpPreview)])
				if len(v) > dumpPreview {
					b.WriteString(" ...")
				}
			}
			if r.tid.IsRelocated() {
				fmt.Fprintf(&b, " from %s", r.backLink)
			}
			if !r.isLink() {
				b.WriteByte('\n')
			}
			off = r.end
		}
	}
	return b.String(), nil
}

// PageChain lists the pages of the chain starting at first.
func (s *Store) PageChain(first pagemanager.PageID) ([]pagemanager.PageID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	sc := s.newScope()
	defer sc.close()

	var chain []pagemanager.PageID
	limit := s.dm.GetNumPages()
	for page := first; page != pagemanager.InvalidPageID; {
		if uint64(len(chain)) > limit {
			return chain, s.corrupt(first, 0, "page chain does not end")
		}
		p, err := sc.fetch(page)
		if err != nil {
			return chain, err
		}
		chain = append(chain, page)
		next := p.Header().NextDataPage()
		sc.drop(p)
		page = next
	}
	return chain, nil
}

// StoreStats is a point-in-time view of the store.
type StoreStats struct {
	DataFile      string
	PageSize      int
	WorkingSize   int
	Pages         uint64
	FreeListHead  pagemanager.PageID
	CheckpointLSN wal.LSN
	CurrentLSN    wal.LSN
	FlushedLSN    wal.LSN
	ActiveTxns    int
	Owners        int
	ReadOnly      bool
	Cache         memtable.Stats
}

func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hdr := s.dm.Header()
	s.ownersMu.Lock()
	owners := len(s.owners)
	s.ownersMu.Unlock()
	return StoreStats{
		DataFile:      s.opts.DataFile,
		PageSize:      s.opts.PageSize,
		WorkingSize:   s.workSize,
		Pages:         s.dm.GetNumPages(),
		FreeListHead:  hdr.FreeListHead,
		CheckpointLSN: hdr.CheckpointLSN,
		CurrentLSN:    s.lm.CurrentLSN(),
		FlushedLSN:    s.lm.FlushedLSN(),
		ActiveTxns:    s.txns.Active(),
		Owners:        owners,
		ReadOnly:      s.opts.ReadOnly,
		Cache:         s.bpm.Stats(),
	}
}

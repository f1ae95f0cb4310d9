package domstore

import (
	"context"
	"fmt"

	"github.com/sushant-115/domstore/core/transaction"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// pageScope tracks the pages one operation has pinned. A page is pinned once
// in the buffer pool however often the operation fetches it, and unpinned
// when the last reference is dropped or the scope closes.
type pageScope struct {
	s    *Store
	refs map[pagemanager.PageID]*scopedPage
}

type scopedPage struct {
	page  *pagemanager.Page
	refs  int
	dirty bool
}

func (s *Store) newScope() *pageScope {
	return &pageScope{s: s, refs: make(map[pagemanager.PageID]*scopedPage)}
}

func (sc *pageScope) fetch(id pagemanager.PageID) (*pagemanager.Page, error) {
	if id == pagemanager.InvalidPageID {
		return nil, fmt.Errorf("fetch of page %d: %w", id, ErrNotFound)
	}
	if sp, ok := sc.refs[id]; ok {
		sp.refs++
		return sp.page, nil
	}
	p, err := sc.s.bpm.FetchPage(id)
	if err != nil {
		return nil, err
	}
	sc.refs[id] = &scopedPage{page: p, refs: 1}
	return p, nil
}

// retain adds a reference to a page already held by the scope.
func (sc *pageScope) retain(p *pagemanager.Page) {
	sc.refs[p.GetPageID()].refs++
}

func (sc *pageScope) drop(p *pagemanager.Page) {
	if p == nil {
		return
	}
	id := p.GetPageID()
	sp, ok := sc.refs[id]
	if !ok {
		return
	}
	sp.refs--
	if sp.refs > 0 {
		return
	}
	delete(sc.refs, id)
	if err := sc.s.bpm.UnpinPage(id, sp.dirty); err != nil {
		sc.s.logger.Warn("unpin failed", zap.Uint64("page", uint64(id)), zap.Error(err))
	}
}

func (sc *pageScope) markDirty(p *pagemanager.Page) {
	if sp, ok := sc.refs[p.GetPageID()]; ok {
		sp.dirty = true
	}
}

func (sc *pageScope) close() {
	for id, sp := range sc.refs {
		if err := sc.s.bpm.UnpinPage(id, sp.dirty); err != nil {
			sc.s.logger.Warn("unpin failed", zap.Uint64("page", uint64(id)), zap.Error(err))
		}
	}
	clear(sc.refs)
}

// allocate returns a zeroed page, reusing the head of the free list when
// there is one.
func (sc *pageScope) allocate() (*pagemanager.Page, error) {
	s := sc.s
	if head := s.dm.Header().FreeListHead; head != pagemanager.InvalidPageID && !s.recovering {
		p, err := sc.fetch(head)
		if err == nil && p.Header().Status() == pagemanager.StatusUnused {
			next := p.Header().NextPage()
			s.dm.UpdateHeader(func(h *fileHeader) { h.FreeListHead = next })
			zeroPage(p)
			sc.markDirty(p)
			s.metrics.PagesAllocated.Add(context.Background(), 1)
			s.logger.Debug("reused free page", zap.Uint64("page", uint64(head)))
			return p, nil
		}
		if err == nil {
			sc.drop(p)
		}
		s.logger.Warn("free list head is not a free page, dropping the free list",
			zap.Uint64("page", uint64(head)), zap.Error(err))
		s.dm.UpdateHeader(func(h *fileHeader) { h.FreeListHead = pagemanager.InvalidPageID })
	}

	p, id, err := s.bpm.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate page: %w", err)
	}
	sc.refs[id] = &scopedPage{page: p, refs: 1, dirty: true}
	s.metrics.PagesAllocated.Add(context.Background(), 1)
	s.logger.Debug("allocated page", zap.Uint64("page", uint64(id)))
	return p, nil
}

// free zeroes p and pushes it on the free list. The free list is not
// journaled; recovery drops it.
func (sc *pageScope) free(p *pagemanager.Page) {
	s := sc.s
	id := p.GetPageID()
	zeroPage(p)
	if !s.recovering {
		head := s.dm.Header().FreeListHead
		p.Header().SetNextPage(head)
		s.dm.UpdateHeader(func(h *fileHeader) { h.FreeListHead = id })
	}
	sc.markDirty(p)
	s.forgetPage(id, pagemanager.InvalidPageID)
	s.metrics.PagesFreed.Add(context.Background(), 1)
}

// apply journals e when txn is set, then applies it to p. A failed journal
// write is logged and does not stop the change.
func (s *Store) apply(sc *pageScope, txn *transaction.Transaction, p *pagemanager.Page, e storeEntry) error {
	logged := false
	if txn != nil {
		e.SetTxnID(txn.ID)
		if _, err := s.lm.Append(e); err != nil {
			s.metrics.JournalFailures.Add(context.Background(), 1)
			s.logger.Error("journal write failed",
				zap.Stringer("entry", e.EntryType()), zap.Uint64("page", uint64(e.pageID())),
				zap.Uint64("txn", txn.ID), zap.Error(err))
		} else {
			logged = true
			s.metrics.JournalEntries.Add(context.Background(), 1)
		}
	}
	if err := e.apply(s, p); err != nil {
		return err
	}
	if logged {
		p.SetLSN(e.LSN())
	}
	sc.markDirty(p)
	return nil
}

// redo replays e when the page does not reflect it yet.
func (s *Store) redo(e storeEntry) error {
	sc := s.newScope()
	defer sc.close()
	p, err := s.fetchForReplay(sc, e.pageID())
	if err != nil {
		return err
	}
	if e.LSN() != pagemanager.InvalidLSN && e.LSN() <= p.GetLSN() {
		return nil
	}
	if err := e.apply(s, p); err != nil {
		return err
	}
	p.SetLSN(e.LSN())
	sc.markDirty(p)
	s.redone++
	s.metrics.RedoApplied.Add(context.Background(), 1)
	return nil
}

// undo reverts e. The page LSN is left as is.
func (s *Store) undo(e storeEntry) error {
	sc := s.newScope()
	defer sc.close()
	p, err := s.fetchForReplay(sc, e.pageID())
	if err != nil {
		return err
	}
	if err := e.revert(s, p); err != nil {
		return err
	}
	sc.markDirty(p)
	s.undone++
	s.metrics.UndoApplied.Add(context.Background(), 1)
	return nil
}

// fetchForReplay grows the file first when the page was allocated but never
// written before a crash.
func (s *Store) fetchForReplay(sc *pageScope, id pagemanager.PageID) (*pagemanager.Page, error) {
	if id == pagemanager.InvalidPageID {
		return nil, s.corrupt(id, 0, "journal entry targets the header page")
	}
	if err := s.dm.EnsurePage(id); err != nil {
		return nil, err
	}
	return sc.fetch(id)
}

// relink points p at prev and next with a logged header update.
func (s *Store) relink(sc *pageScope, txn *transaction.Transaction, p *pagemanager.Page, prev, next pagemanager.PageID) error {
	h := p.Header()
	return s.apply(sc, txn, p, &updateHeaderEntry{
		pageEntry: pageEntry{Page: p.GetPageID()},
		NewPrev:   prev, NewNext: next,
		OldPrev: h.PrevDataPage(), OldNext: h.NextDataPage(),
	})
}

// insertPageAfter creates a record page linked behind prev, or the first page
// of a new chain when prev is nil. The page is returned pinned in sc.
func (s *Store) insertPageAfter(sc *pageScope, txn *transaction.Transaction, prev *pagemanager.Page, nextTID uint16) (*pagemanager.Page, error) {
	np, err := sc.allocate()
	if err != nil {
		return nil, err
	}
	var prevID, nextID pagemanager.PageID
	if prev != nil {
		prevID = prev.GetPageID()
		nextID = prev.Header().NextDataPage()
	}
	if err := s.apply(sc, txn, np, &createPageEntry{
		pageEntry: pageEntry{Page: np.GetPageID()},
		Prev:      prevID, Next: nextID, NextTID: nextTID,
	}); err != nil {
		return nil, err
	}
	if prev != nil {
		if err := s.relink(sc, txn, prev, prev.Header().PrevDataPage(), np.GetPageID()); err != nil {
			return nil, err
		}
	}
	if nextID != pagemanager.InvalidPageID {
		next, err := sc.fetch(nextID)
		if err != nil {
			return nil, err
		}
		err = s.relink(sc, txn, next, np.GetPageID(), next.Header().NextDataPage())
		sc.drop(next)
		if err != nil {
			return nil, err
		}
	}
	return np, nil
}

// removeEmptyPage unlinks a page without records from its chain and frees it.
func (s *Store) removeEmptyPage(sc *pageScope, txn *transaction.Transaction, p *pagemanager.Page) error {
	h := p.Header()
	id, prev, next := p.GetPageID(), h.PrevDataPage(), h.NextDataPage()
	if prev != pagemanager.InvalidPageID {
		pp, err := sc.fetch(prev)
		if err != nil {
			return err
		}
		err = s.relink(sc, txn, pp, pp.Header().PrevDataPage(), next)
		sc.drop(pp)
		if err != nil {
			return err
		}
	}
	if next != pagemanager.InvalidPageID {
		np, err := sc.fetch(next)
		if err != nil {
			return err
		}
		err = s.relink(sc, txn, np, prev, np.Header().NextDataPage())
		sc.drop(np)
		if err != nil {
			return err
		}
	}
	if err := s.apply(sc, txn, p, &removeEmptyPageEntry{
		pageEntry: pageEntry{Page: id},
		Prev:      prev, Next: next, NextTID: h.NextTID(),
	}); err != nil {
		return err
	}
	successor := prev
	if successor == pagemanager.InvalidPageID {
		successor = next
	}
	s.forgetPage(id, successor)
	sc.free(p)
	s.logger.Debug("removed empty page", zap.Uint64("page", uint64(id)))
	return nil
}

package domstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sushant-115/domstore/core/transaction"
	flushmanager "github.com/sushant-115/domstore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// Append adds value at the end of the owner's chain and returns its address.
// Values larger than a page go to an overflow chain; the record then holds
// only the pointer to it.
func (s *Store) Append(txn *transaction.Transaction, o Owner, value []byte) (pagemanager.Address, error) {
	if len(value) == 0 {
		return pagemanager.InvalidAddress, ErrEmptyValue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return pagemanager.InvalidAddress, err
	}
	sc := s.newScope()
	defer sc.close()
	return s.appendValue(sc, txn, o, value)
}

func (s *Store) appendValue(sc *pageScope, txn *transaction.Transaction, o Owner, value []byte) (pagemanager.Address, error) {
	stored, isOverflow, err := s.prepareValue(sc, txn, value)
	if err != nil {
		return pagemanager.InvalidAddress, err
	}
	doc := s.document(o)

	var p *pagemanager.Page
	if cur := s.CurrentPage(o); cur != pagemanager.InvalidPageID {
		if p, err = s.chainTail(sc, cur); err != nil {
			return pagemanager.InvalidAddress, err
		}
	}
	size := valueRecordSize(false, len(stored))
	if p == nil || freeSpace(p) < size || !p.Header().HasRoomForTID() {
		np, err := s.insertPageAfter(sc, txn, p, 0)
		if err != nil {
			return pagemanager.InvalidAddress, err
		}
		sc.drop(p)
		p = np
		doc.IncPageCount()
	}

	tid, err := s.claimTID(p)
	if err != nil {
		return pagemanager.InvalidAddress, err
	}
	if err := s.apply(sc, txn, p, &addValueEntry{
		pageEntry:  pageEntry{Page: p.GetPageID()},
		TID:        tid,
		IsOverflow: isOverflow,
		Value:      stored,
	}); err != nil {
		return pagemanager.InvalidAddress, err
	}
	s.SetCurrentPage(o, p.GetPageID())
	if tid.ID() > pagemanager.DefragLimit {
		doc.TriggerDefrag()
	}
	return pagemanager.NewAddress(p.GetPageID(), tid), nil
}

// prepareValue returns the bytes to store in the record: the value itself, or
// the pointer to a new overflow chain holding it.
func (s *Store) prepareValue(sc *pageScope, txn *transaction.Transaction, value []byte) ([]byte, bool, error) {
	if len(value) <= s.maxInline {
		return value, false, nil
	}
	first, _, err := s.writeOverflow(sc, txn, bytes.NewReader(value))
	if err != nil {
		return nil, false, err
	}
	return overflowPointer(first), true, nil
}

// chainTail follows the chain from page to its last page.
func (s *Store) chainTail(sc *pageScope, page pagemanager.PageID) (*pagemanager.Page, error) {
	limit := s.dm.GetNumPages()
	for hops := uint64(0); ; hops++ {
		if hops > limit {
			return nil, s.corrupt(page, 0, "page chain does not end")
		}
		p, err := sc.fetch(page)
		if err != nil {
			return nil, err
		}
		h := p.Header()
		if h.Status() != pagemanager.StatusRecord {
			sc.drop(p)
			return nil, s.corrupt(page, 0, "chain page has status %s", h.Status())
		}
		next := h.NextDataPage()
		if next == pagemanager.InvalidPageID {
			return p, nil
		}
		sc.drop(p)
		if next == page {
			return nil, s.corrupt(page, 0, "page links to itself")
		}
		page = next
	}
}

// findRecord resolves addr. A tid missing from its page is searched in the
// following pages of the chain, where split pages and link pages live. With
// followLinks set, link records are followed to the relocated value. The page
// of the result stays pinned in sc.
func (s *Store) findRecord(sc *pageScope, addr pagemanager.Address, followLinks bool) (*pagemanager.Page, record, error) {
	page, tid := addr.Page(), addr.TID()
	limit := s.dm.GetNumPages()
	for hops := uint64(0); page != pagemanager.InvalidPageID; hops++ {
		if hops > limit {
			return nil, record{}, s.corrupt(page, tid, "circular page chain while resolving %s", addr)
		}
		p, err := sc.fetch(page)
		if err != nil {
			return nil, record{}, err
		}
		if p.Header().Status() != pagemanager.StatusRecord {
			sc.drop(p)
			return nil, record{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		r, ok, err := s.findInPage(p, tid)
		if err != nil {
			sc.drop(p)
			return nil, record{}, err
		}
		switch {
		case !ok:
			next := p.Header().NextDataPage()
			sc.drop(p)
			if next == page {
				return nil, record{}, s.corrupt(page, tid, "page links to itself")
			}
			page = next
		case r.isLink() && followLinks:
			sc.drop(p)
			page, tid = r.link.Page(), r.link.TID()
		default:
			return p, r, nil
		}
	}
	return nil, record{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
}

// findLink returns the link record that stands at addr.
func (s *Store) findLink(sc *pageScope, addr pagemanager.Address) (*pagemanager.Page, record, error) {
	p, r, err := s.findRecord(sc, addr, false)
	if err != nil {
		return nil, record{}, fmt.Errorf("%w: %s: %v", ErrLinkRemoval, addr, err)
	}
	if !r.isLink() {
		sc.drop(p)
		return nil, record{}, fmt.Errorf("%w: %s holds a value, not a link", ErrLinkRemoval, addr)
	}
	return p, r, nil
}

func isMissing(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, flushmanager.ErrPageOutOfBounds)
}

// Get returns a copy of the value at addr, or nil when there is none.
func (s *Store) Get(addr pagemanager.Address) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !addr.IsValid() {
		return nil, nil
	}
	sc := s.newScope()
	defer sc.close()
	v, err := s.get(sc, addr)
	if isMissing(err) {
		return nil, nil
	}
	return v, err
}

func (s *Store) get(sc *pageScope, addr pagemanager.Address) ([]byte, error) {
	p, r, err := s.findRecord(sc, addr, true)
	if err != nil {
		return nil, err
	}
	defer sc.drop(p)
	if r.isOverflow() {
		return s.readOverflow(sc, r.overflow)
	}
	return bytes.Clone(r.value(p.Body())), nil
}

// InsertAfter places value right behind the record at addr in document order.
// A page without room for it is split; the records moved by the split keep
// their addresses through link records.
func (s *Store) InsertAfter(txn *transaction.Transaction, o Owner, addr pagemanager.Address, value []byte) (pagemanager.Address, error) {
	if len(value) == 0 {
		return pagemanager.InvalidAddress, ErrEmptyValue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return pagemanager.InvalidAddress, err
	}
	sc := s.newScope()
	defer sc.close()
	return s.insertAfter(sc, txn, o, addr, value)
}

func (s *Store) insertAfter(sc *pageScope, txn *transaction.Transaction, o Owner, addr pagemanager.Address, value []byte) (pagemanager.Address, error) {
	p, r, err := s.findRecord(sc, addr, true)
	if err != nil {
		return pagemanager.InvalidAddress, err
	}
	defer sc.drop(p)
	stored, isOverflow, err := s.prepareValue(sc, txn, value)
	if err != nil {
		return pagemanager.InvalidAddress, err
	}
	doc := s.document(o)
	size := valueRecordSize(false, len(stored))
	h := p.Header()
	if !h.HasRoomForTID() {
		return pagemanager.InvalidAddress, s.tidOverflow(p)
	}
	// Pages created here sit between p and its link or split pages. They
	// continue p's tid sequence so that a tid moved off p is never found on
	// them first.
	fits := func(pg *pagemanager.Page) bool {
		return freeSpace(pg) >= size && pg.Header().HasRoomForTID()
	}

	target, at := p, r.end
	switch {
	case r.end < h.DataLength() && fits(p):
		// shift the tail in place
	case r.end < h.DataLength():
		hasData, err := s.tailHasData(p, r.end)
		if err != nil {
			return pagemanager.InvalidAddress, err
		}
		if hasData {
			last, err := s.split(sc, txn, o, p, r.end)
			if err != nil {
				return pagemanager.InvalidAddress, err
			}
			defer sc.drop(last)
			target, at = last, last.Header().DataLength()
			if !fits(last) {
				if target, err = s.insertPageAfter(sc, txn, last, last.Header().NextTID()); err != nil {
					return pagemanager.InvalidAddress, err
				}
				defer sc.drop(target)
				doc.IncPageCount()
				at = 0
			}
		} else {
			// only links follow; their values come later in the chain anyway
			if target, err = s.insertPageAfter(sc, txn, p, h.NextTID()); err != nil {
				return pagemanager.InvalidAddress, err
			}
			defer sc.drop(target)
			doc.IncPageCount()
			at = 0
		}
	case !fits(p):
		if target, err = s.insertPageAfter(sc, txn, p, h.NextTID()); err != nil {
			return pagemanager.InvalidAddress, err
		}
		defer sc.drop(target)
		doc.IncPageCount()
		at = 0
	}

	tid, err := s.claimTID(target)
	if err != nil {
		return pagemanager.InvalidAddress, err
	}
	if err := s.apply(sc, txn, target, &insertValueEntry{
		pageEntry:  pageEntry{Page: target.GetPageID()},
		TID:        tid,
		IsOverflow: isOverflow,
		Offset:     at,
		Value:      stored,
	}); err != nil {
		return pagemanager.InvalidAddress, err
	}
	if tid.ID() > pagemanager.DefragLimit {
		doc.TriggerDefrag()
	}
	return pagemanager.NewAddress(target.GetPageID(), tid), nil
}

// claimTID takes the next tuple id of p. Running past MaxTupleID is
// corruption: the next value would carry the flag bits.
func (s *Store) claimTID(p *pagemanager.Page) (pagemanager.TID, error) {
	tid, err := p.Header().AllocateTID()
	if err != nil {
		return 0, s.tidOverflow(p)
	}
	return tid, nil
}

func (s *Store) tidOverflow(p *pagemanager.Page) error {
	return s.corrupt(p.GetPageID(), 0, "tuple ids exhausted: next id %#x exceeds %#x",
		p.Header().NextTID(), pagemanager.MaxTupleID)
}

// tailHasData reports whether any record from off on is not a link.
func (s *Store) tailHasData(p *pagemanager.Page, off int) (bool, error) {
	body, dataLen := p.Body(), p.Header().DataLength()
	for off < dataLen {
		r, err := s.parseRecord(p.GetPageID(), body, dataLen, off)
		if err != nil {
			return false, err
		}
		if !r.isLink() {
			return true, nil
		}
		off = r.end
	}
	return false, nil
}

// movedRecord is a record cut from a page by a split.
type movedRecord struct {
	tid        pagemanager.TID
	isOverflow bool
	backLink   pagemanager.Address
	link       pagemanager.Address
	value      []byte
}

func (m movedRecord) size() int {
	if m.tid.IsLink() {
		return linkRecordSize
	}
	return valueRecordSize(true, len(m.value))
}

// split moves the records of p from splitOffset on to new split pages behind
// p and leaves link records for the moved values on p, or on link pages right
// after it. Chain order afterwards is p, link pages, split pages, old next.
// The last page holding links is returned with a reference in sc.
func (s *Store) split(sc *pageScope, txn *transaction.Transaction, o Owner, p *pagemanager.Page, splitOffset int) (*pagemanager.Page, error) {
	h := p.Header()
	id, body, dataLen := p.GetPageID(), p.Body(), h.DataLength()
	nextTID := h.NextTID()

	var moved []movedRecord
	for off := splitOffset; off < dataLen; {
		r, err := s.parseRecord(id, body, dataLen, off)
		if err != nil {
			return nil, err
		}
		m := movedRecord{tid: r.tid, link: r.link, backLink: r.backLink, isOverflow: r.isOverflow()}
		if !r.isLink() {
			m.value = bytes.Clone(r.value(body))
		}
		moved = append(moved, m)
		off = r.end
	}
	if err := s.apply(sc, txn, p, &splitPageEntry{
		pageEntry:      pageEntry{Page: id},
		SplitOffset:    splitOffset,
		OldRecordCount: h.RecordCount(),
		NewRecordCount: h.RecordCount() - uint16(len(moved)),
		OldData:        bytes.Clone(body[splitOffset:dataLen]),
	}); err != nil {
		return nil, err
	}
	doc := s.document(o)

	type link struct {
		tid pagemanager.TID
		to  pagemanager.Address
	}
	type relink struct {
		backLink, to pagemanager.Address
	}
	var links []link     // values moved off p
	var relinks []relink // values that were already relocated before

	var cur *pagemanager.Page
	prev := p
	for _, m := range moved {
		if cur == nil || freeSpace(cur) < m.size() {
			np, err := s.insertPageAfter(sc, txn, prev, nextTID)
			if err != nil {
				return nil, err
			}
			if cur != nil {
				sc.drop(cur)
			}
			cur, prev = np, np
			doc.IncPageCount()
		}
		curID := cur.GetPageID()
		var e storeEntry
		switch {
		case m.tid.IsLink():
			e = &addLinkEntry{pageEntry: pageEntry{Page: curID}, TID: m.tid, Link: m.link}
		case m.tid.IsRelocated():
			e = &addMovedValueEntry{pageEntry: pageEntry{Page: curID}, TID: m.tid, IsOverflow: m.isOverflow, BackLink: m.backLink, Value: m.value}
			relinks = append(relinks, relink{backLink: m.backLink, to: pagemanager.NewAddress(curID, m.tid)})
		default:
			e = &addMovedValueEntry{
				pageEntry: pageEntry{Page: curID}, TID: m.tid.WithRelocated(), IsOverflow: m.isOverflow,
				BackLink: pagemanager.NewAddress(id, m.tid), Value: m.value,
			}
			links = append(links, link{tid: m.tid, to: pagemanager.NewAddress(curID, m.tid)})
		}
		if err := s.apply(sc, txn, cur, e); err != nil {
			return nil, err
		}
	}
	sc.drop(cur)

	lastLink := p
	sc.retain(p)
	for _, l := range links {
		if freeSpace(lastLink) < linkRecordSize {
			np, err := s.insertPageAfter(sc, txn, lastLink, nextTID)
			if err != nil {
				return nil, err
			}
			sc.drop(lastLink)
			lastLink = np
			doc.IncPageCount()
		}
		if err := s.apply(sc, txn, lastLink, &addLinkEntry{
			pageEntry: pageEntry{Page: lastLink.GetPageID()}, TID: l.tid, Link: l.to,
		}); err != nil {
			return nil, err
		}
	}

	for _, rl := range relinks {
		lp, lr, err := s.findLink(sc, rl.backLink)
		if err != nil {
			return nil, err
		}
		err = s.apply(sc, txn, lp, &updateLinkEntry{
			pageEntry: pageEntry{Page: lp.GetPageID()},
			Offset:    lr.offset + tidLen, Link: rl.to, OldLink: lr.link,
		})
		sc.drop(lp)
		if err != nil {
			return nil, err
		}
	}

	s.metrics.PageSplits.Add(context.Background(), 1)
	doc.IncSplitCount()
	s.logger.Debug("split page", zap.Uint64("page", uint64(id)), zap.Int("offset", splitOffset),
		zap.Int("moved", len(moved)), zap.Int("links", len(links)), zap.Int("relinked", len(relinks)))
	return lastLink, nil
}

// Remove deletes the value at addr, its overflow chain, the link standing for
// it after a split, and any page left empty.
func (s *Store) Remove(txn *transaction.Transaction, addr pagemanager.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	sc := s.newScope()
	defer sc.close()
	return s.remove(sc, txn, addr)
}

func (s *Store) remove(sc *pageScope, txn *transaction.Transaction, addr pagemanager.Address) error {
	p, r, err := s.findRecord(sc, addr, true)
	if err != nil {
		if errors.Is(err, flushmanager.ErrPageOutOfBounds) {
			return fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return err
	}
	defer sc.drop(p)
	if r.isOverflow() {
		if err := s.deleteOverflow(sc, txn, r.overflow); err != nil {
			return err
		}
	}
	if err := s.removeRecord(sc, txn, p, r); err != nil {
		return err
	}
	if r.tid.IsRelocated() {
		lp, lr, err := s.findLink(sc, r.backLink)
		if err != nil {
			return err
		}
		err = s.removeRecord(sc, txn, lp, lr)
		if err == nil && lp != p && lp.Header().RecordCount() == 0 {
			err = s.removeEmptyPage(sc, txn, lp)
		}
		sc.drop(lp)
		if err != nil {
			return err
		}
	}
	if p.Header().RecordCount() == 0 {
		return s.removeEmptyPage(sc, txn, p)
	}
	return nil
}

func (s *Store) removeRecord(sc *pageScope, txn *transaction.Transaction, p *pagemanager.Page, r record) error {
	old := binary.BigEndian.AppendUint64(nil, uint64(r.link))
	if !r.isLink() {
		old = bytes.Clone(r.value(p.Body()))
	}
	return s.apply(sc, txn, p, &removeValueEntry{
		pageEntry:  pageEntry{Page: p.GetPageID()},
		TID:        r.tid,
		Offset:     r.offset,
		IsOverflow: r.isOverflow(),
		BackLink:   r.backLink,
		OldData:    old,
	})
}

// RemoveAll drops the chain starting at firstPage, overflow values included.
// A page before firstPage, if any, becomes the end of its chain.
func (s *Store) RemoveAll(txn *transaction.Transaction, firstPage pagemanager.PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	sc := s.newScope()
	defer sc.close()

	var before pagemanager.PageID
	limit := s.dm.GetNumPages()
	page := firstPage
	for hops := uint64(0); page != pagemanager.InvalidPageID; hops++ {
		if hops > limit {
			return s.corrupt(page, 0, "page chain does not end")
		}
		p, err := sc.fetch(page)
		if err != nil {
			return err
		}
		h := p.Header()
		if h.Status() != pagemanager.StatusRecord {
			sc.drop(p)
			return s.corrupt(page, 0, "chain page has status %s", h.Status())
		}
		if page == firstPage {
			before = h.PrevDataPage()
		}
		body, dataLen := p.Body(), h.DataLength()
		for off := 0; off < dataLen; {
			r, err := s.parseRecord(page, body, dataLen, off)
			if err != nil {
				sc.drop(p)
				return err
			}
			if r.isOverflow() {
				if err := s.deleteOverflow(sc, txn, r.overflow); err != nil {
					sc.drop(p)
					return err
				}
			}
			off = r.end
		}
		next := h.NextDataPage()
		err = s.apply(sc, txn, p, &removePageEntry{
			pageEntry:   pageEntry{Page: page},
			Prev:        h.PrevDataPage(),
			Next:        next,
			NextTID:     h.NextTID(),
			RecordCount: h.RecordCount(),
			OldData:     bytes.Clone(body[:dataLen]),
		})
		if err == nil {
			sc.free(p)
		}
		sc.drop(p)
		if err != nil {
			return err
		}
		page = next
	}

	if before != pagemanager.InvalidPageID {
		bp, err := sc.fetch(before)
		if err != nil {
			return err
		}
		defer sc.drop(bp)
		return s.relink(sc, txn, bp, bp.Header().PrevDataPage(), pagemanager.InvalidPageID)
	}
	return nil
}

// Update replaces the value at addr in place. The new value must have the
// length of the stored one; overflow values cannot be updated.
func (s *Store) Update(txn *transaction.Transaction, addr pagemanager.Address, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	sc := s.newScope()
	defer sc.close()
	return s.update(sc, txn, addr, value)
}

func (s *Store) update(sc *pageScope, txn *transaction.Transaction, addr pagemanager.Address, value []byte) error {
	p, r, err := s.findRecord(sc, addr, true)
	if err != nil {
		if errors.Is(err, flushmanager.ErrPageOutOfBounds) {
			return fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return err
	}
	defer sc.drop(p)
	if r.isOverflow() {
		return fmt.Errorf("%w: value at %s is stored in an overflow chain", ErrLengthMismatch, addr)
	}
	if r.length != len(value) {
		return fmt.Errorf("%w: stored %d bytes, got %d", ErrLengthMismatch, r.length, len(value))
	}
	return s.apply(sc, txn, p, &updateValueEntry{
		pageEntry: pageEntry{Page: p.GetPageID()},
		TID:       r.tid,
		Value:     bytes.Clone(value),
		OldValue:  bytes.Clone(r.value(p.Body())),
	})
}

package domstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sushant-115/domstore/core/transaction"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// Overflow chains hold values that do not fit a page. Each chain page carries
// one chunk of up to a working size of bytes and points at the next chunk
// through the header's nextPage field.

// readChunk fills buf as far as r allows. It returns the number of bytes read
// and whether r is exhausted.
func readChunk(r io.Reader, buf []byte) (int, bool, error) {
	n, err := io.ReadFull(r, buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return n, true, nil
	case err != nil:
		return n, false, err
	}
	return n, false, nil
}

// writeOverflow copies r into a new overflow chain and returns its first page
// and page count. The next page is allocated before a chunk is journaled, so
// every logged chunk already names its successor.
func (s *Store) writeOverflow(sc *pageScope, txn *transaction.Transaction, r io.Reader) (pagemanager.PageID, int, error) {
	chunk := make([]byte, s.workSize)
	n, eof, err := readChunk(r, chunk)
	if err != nil {
		return pagemanager.InvalidPageID, 0, fmt.Errorf("reading overflow value: %w", err)
	}
	if n == 0 {
		return pagemanager.InvalidPageID, 0, ErrEmptyValue
	}

	cur, err := sc.allocate()
	if err != nil {
		return pagemanager.InvalidPageID, 0, err
	}
	first := cur.GetPageID()
	pages := 1
	ahead := make([]byte, s.workSize)
	for {
		var next *pagemanager.Page
		var m int
		if !eof {
			if m, eof, err = readChunk(r, ahead); err != nil {
				sc.drop(cur)
				return pagemanager.InvalidPageID, 0, fmt.Errorf("reading overflow value: %w", err)
			}
		}
		nextID := pagemanager.InvalidPageID
		if m > 0 {
			if next, err = sc.allocate(); err != nil {
				sc.drop(cur)
				return pagemanager.InvalidPageID, 0, err
			}
			nextID = next.GetPageID()
		}
		err = s.apply(sc, txn, cur, &writeOverflowEntry{
			pageEntry: pageEntry{Page: cur.GetPageID()},
			NextPage:  nextID,
			Chunk:     bytes.Clone(chunk[:n]),
		})
		sc.drop(cur)
		if err != nil {
			sc.drop(next)
			return pagemanager.InvalidPageID, 0, err
		}
		if next == nil {
			break
		}
		cur, pages = next, pages+1
		chunk, ahead, n = ahead, chunk, m
	}

	s.metrics.OverflowPages.Add(context.Background(), int64(pages))
	s.logger.Debug("wrote overflow chain", zap.Uint64("first_page", uint64(first)), zap.Int("pages", pages))
	return first, pages, nil
}

// streamOverflow writes the chunks of the chain starting at first to w.
func (s *Store) streamOverflow(sc *pageScope, first pagemanager.PageID, w io.Writer) (int64, error) {
	var total int64
	limit := s.dm.GetNumPages()
	page := first
	for hops := uint64(0); page != pagemanager.InvalidPageID; hops++ {
		if hops > limit {
			return total, s.corrupt(first, 0, "overflow chain does not end")
		}
		p, err := sc.fetch(page)
		if err != nil {
			return total, err
		}
		h := p.Header()
		if h.Status() != pagemanager.StatusOverflow {
			sc.drop(p)
			if page == first {
				return 0, fmt.Errorf("%w: no overflow chain at page %d", ErrNotFound, first)
			}
			return total, s.corrupt(page, 0, "overflow chain page has status %s", h.Status())
		}
		if h.DataLength() > len(p.Body()) {
			sc.drop(p)
			return total, s.corrupt(page, 0, "overflow chunk length %d exceeds working size", h.DataLength())
		}
		n, err := w.Write(p.Body()[:h.DataLength()])
		total += int64(n)
		next := h.NextPage()
		sc.drop(p)
		if err != nil {
			return total, err
		}
		page = next
	}
	return total, nil
}

func (s *Store) readOverflow(sc *pageScope, first pagemanager.PageID) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.streamOverflow(sc, first, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deleteOverflow journals the removal of every chunk of the chain and frees
// its pages.
func (s *Store) deleteOverflow(sc *pageScope, txn *transaction.Transaction, first pagemanager.PageID) error {
	limit := s.dm.GetNumPages()
	page := first
	freed := 0
	for hops := uint64(0); page != pagemanager.InvalidPageID; hops++ {
		if hops > limit {
			return s.corrupt(first, 0, "overflow chain does not end")
		}
		p, err := sc.fetch(page)
		if err != nil {
			return err
		}
		h := p.Header()
		if h.Status() != pagemanager.StatusOverflow {
			sc.drop(p)
			return s.corrupt(page, 0, "overflow chain page has status %s", h.Status())
		}
		next := h.NextPage()
		err = s.apply(sc, txn, p, &removeOverflowEntry{
			pageEntry: pageEntry{Page: page},
			NextPage:  next,
			OldData:   bytes.Clone(p.Body()[:h.DataLength()]),
		})
		if err == nil {
			sc.free(p)
			freed++
		}
		sc.drop(p)
		if err != nil {
			return err
		}
		page = next
	}
	s.logger.Debug("removed overflow chain", zap.Uint64("first_page", uint64(first)), zap.Int("pages", freed))
	return nil
}

// AddBinary stores the content of r as a standalone overflow chain, for
// binary resources that are not part of a node chain.
func (s *Store) AddBinary(txn *transaction.Transaction, r io.Reader) (pagemanager.PageID, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return pagemanager.InvalidPageID, 0, err
	}
	sc := s.newScope()
	defer sc.close()
	return s.writeOverflow(sc, txn, r)
}

// GetBinary reads the whole chain starting at page.
func (s *Store) GetBinary(page pagemanager.PageID) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.ReadBinary(page, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadBinary streams the chain starting at page to w.
func (s *Store) ReadBinary(page pagemanager.PageID, w io.Writer) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	sc := s.newScope()
	defer sc.close()
	return s.streamOverflow(sc, page, w)
}

// RemoveBinary frees the chain starting at page.
func (s *Store) RemoveBinary(txn *transaction.Transaction, page pagemanager.PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	sc := s.newScope()
	defer sc.close()
	return s.deleteOverflow(sc, txn, page)
}

package domstore

import (
	"bytes"

	"github.com/sushant-115/domstore/core/dom"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
)

// nextRecord finds the first non-link record at or after off, starting in p
// and following the chain. p must be held in sc; the page of the result stays
// held and p is dropped when the walk leaves it. ok is false at chain end.
func (s *Store) nextRecord(sc *pageScope, p *pagemanager.Page, off int) (*pagemanager.Page, record, bool, error) {
	limit := s.dm.GetNumPages()
	for hops := uint64(0); ; {
		h := p.Header()
		if h.Status() != pagemanager.StatusRecord {
			id := p.GetPageID()
			sc.drop(p)
			return nil, record{}, false, s.corrupt(id, 0, "iterated page has status %s", h.Status())
		}
		if off >= h.DataLength() {
			next := h.NextDataPage()
			sc.drop(p)
			if next == pagemanager.InvalidPageID {
				return nil, record{}, false, nil
			}
			if hops++; hops > limit {
				return nil, record{}, false, s.corrupt(next, 0, "circular page chain")
			}
			np, err := sc.fetch(next)
			if err != nil {
				return nil, record{}, false, err
			}
			p, off = np, 0
			continue
		}
		r, err := s.parseRecord(p.GetPageID(), p.Body(), h.DataLength(), off)
		if err != nil {
			sc.drop(p)
			return nil, record{}, false, err
		}
		if r.isLink() {
			off = r.end
			continue
		}
		return p, r, true, nil
	}
}

// addressOf is the stable address of a record: its back-link when the value
// was moved by a split.
func addressOf(page pagemanager.PageID, r record) pagemanager.Address {
	if r.tid.IsRelocated() {
		return r.backLink
	}
	return pagemanager.NewAddress(page, r.tid)
}

// cursor is the position shared by the iterators: the page and offset of the
// next record to read.
type cursor struct {
	s    *Store
	page pagemanager.PageID
	off  int
	addr pagemanager.Address
	err  error
	done bool
}

func (c *cursor) seek(sc *pageScope, addr pagemanager.Address) error {
	if c.s.closed {
		c.err, c.done = ErrClosed, true
		return ErrClosed
	}
	p, r, err := c.s.findRecord(sc, addr, true)
	if err != nil {
		c.err, c.done = err, true
		return err
	}
	c.page, c.off = p.GetPageID(), r.offset
	c.err, c.done = nil, false
	sc.drop(p)
	return nil
}

func (c *cursor) seekNode(docID uint32, id dom.NodeID) error {
	addr, err := c.s.FindNode(docID, id)
	if err != nil {
		c.err, c.done = err, true
		return err
	}
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	sc := c.s.newScope()
	defer sc.close()
	return c.seek(sc, addr)
}

// step moves to the next record and calls yield with it while the page is
// held. It returns false at chain end or on error.
func (c *cursor) step(sc *pageScope, yield func(p *pagemanager.Page, r record) error) bool {
	if c.done {
		return false
	}
	if c.s.closed {
		c.err, c.done = ErrClosed, true
		return false
	}
	p, err := sc.fetch(c.page)
	if err != nil {
		c.err, c.done = err, true
		return false
	}
	p, r, ok, err := c.s.nextRecord(sc, p, c.off)
	if err != nil || !ok {
		c.err, c.done = err, true
		return false
	}
	c.page, c.off = p.GetPageID(), r.end
	c.addr = addressOf(c.page, r)
	if err := yield(p, r); err != nil {
		c.err, c.done = err, true
		sc.drop(p)
		return false
	}
	sc.drop(p)
	return true
}

// RawIterator walks the records of a chain in storage order and yields copies
// of their values. Every step takes the store lock for its own duration only,
// so writers may change the chain between steps.
type RawIterator struct {
	c     cursor
	value []byte
}

// NewRawIterator starts at the record stored at addr.
func (s *Store) NewRawIterator(addr pagemanager.Address) (*RawIterator, error) {
	it := &RawIterator{c: cursor{s: s}}
	if err := it.Seek(addr); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *RawIterator) Seek(addr pagemanager.Address) error {
	s := it.c.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc := s.newScope()
	defer sc.close()
	return it.c.seek(sc, addr)
}

func (it *RawIterator) SeekNode(docID uint32, id dom.NodeID) error {
	return it.c.seekNode(docID, id)
}

func (it *RawIterator) Next() bool {
	s := it.c.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc := s.newScope()
	defer sc.close()
	return it.c.step(sc, func(p *pagemanager.Page, r record) error {
		if r.isOverflow() {
			v, err := s.readOverflow(sc, r.overflow)
			it.value = v
			return err
		}
		it.value = bytes.Clone(r.value(p.Body()))
		return nil
	})
}

// Address is the stable address of the current record.
func (it *RawIterator) Address() pagemanager.Address { return it.c.addr }
func (it *RawIterator) Value() []byte                { return it.value }
func (it *RawIterator) Err() error                   { return it.c.err }
func (it *RawIterator) Close()                       { it.c.done = true }

// NodeIterator decodes every record it visits into a node.
type NodeIterator struct {
	raw  RawIterator
	node *dom.Node
}

func (s *Store) NewNodeIterator(addr pagemanager.Address) (*NodeIterator, error) {
	it := &NodeIterator{raw: RawIterator{c: cursor{s: s}}}
	if err := it.raw.Seek(addr); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *NodeIterator) Seek(addr pagemanager.Address) error { return it.raw.Seek(addr) }
func (it *NodeIterator) SeekNode(docID uint32, id dom.NodeID) error {
	return it.raw.SeekNode(docID, id)
}

func (it *NodeIterator) Next() bool {
	if !it.raw.Next() {
		return false
	}
	n, err := dom.Decode(it.raw.value)
	if err != nil {
		it.raw.c.err, it.raw.c.done = err, true
		return false
	}
	it.node = n
	return true
}

func (it *NodeIterator) Node() *dom.Node              { return it.node }
func (it *NodeIterator) Address() pagemanager.Address { return it.raw.Address() }
func (it *NodeIterator) Err() error                   { return it.raw.Err() }
func (it *NodeIterator) Close()                       { it.raw.Close() }

// PositionIterator keeps the page of the current record pinned between steps
// and yields values that alias the page buffer. A value is valid until the
// next call to Next or Close. Close must be called to release the pin.
type PositionIterator struct {
	c     cursor
	sc    *pageScope
	held  *pagemanager.Page
	value []byte
}

func (s *Store) NewPositionIterator(addr pagemanager.Address) (*PositionIterator, error) {
	it := &PositionIterator{c: cursor{s: s}, sc: s.newScope()}
	if err := it.Seek(addr); err != nil {
		it.sc.close()
		return nil, err
	}
	return it, nil
}

func (it *PositionIterator) Seek(addr pagemanager.Address) error {
	s := it.c.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return it.c.seek(it.sc, addr)
}

func (it *PositionIterator) SeekNode(docID uint32, id dom.NodeID) error {
	return it.c.seekNode(docID, id)
}

func (it *PositionIterator) Next() bool {
	s := it.c.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	prev := it.held
	ok := it.c.step(it.sc, func(p *pagemanager.Page, r record) error {
		if p != prev {
			it.sc.retain(p)
			it.sc.drop(prev)
			it.held = p
		}
		if r.isOverflow() {
			v, err := s.readOverflow(it.sc, r.overflow)
			it.value = v
			return err
		}
		it.value = r.value(p.Body())
		return nil
	})
	if !ok {
		it.value = nil
	}
	return ok
}

func (it *PositionIterator) Address() pagemanager.Address { return it.c.addr }

// Bytes returns the current value without copying it.
func (it *PositionIterator) Bytes() []byte { return it.value }
func (it *PositionIterator) Err() error    { return it.c.err }

func (it *PositionIterator) Close() {
	it.c.done = true
	it.value = nil
	it.held = nil
	it.sc.close()
}

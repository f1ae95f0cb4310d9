package domstore

import (
	"bytes"

	"github.com/sushant-115/domstore/core/dom"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
)

// recordCursor reads the records of a chain in storage order, skipping links.
// It keeps the current page pinned in its scope.
type recordCursor struct {
	s   *Store
	sc  *pageScope
	p   *pagemanager.Page
	off int
	// hops bounds the number of pages visited.
	hops uint64
}

func (c *recordCursor) release() {
	c.sc.drop(c.p)
	c.p = nil
}

// next returns the value of the next non-link record and its tid. Values in
// overflow chains are read in full. The result may alias the page.
func (c *recordCursor) next() ([]byte, pagemanager.TID, error) {
	limit := c.s.dm.GetNumPages()
	for {
		h := c.p.Header()
		if c.off >= h.DataLength() {
			next := h.NextDataPage()
			if next == pagemanager.InvalidPageID {
				return nil, 0, c.s.corrupt(c.p.GetPageID(), 0, "page chain ends inside a node")
			}
			if c.hops++; c.hops > limit {
				return nil, 0, c.s.corrupt(c.p.GetPageID(), 0, "circular page chain")
			}
			np, err := c.sc.fetch(next)
			if err != nil {
				return nil, 0, err
			}
			c.release()
			c.p, c.off = np, 0
			continue
		}
		r, err := c.s.parseRecord(c.p.GetPageID(), c.p.Body(), h.DataLength(), c.off)
		if err != nil {
			return nil, 0, err
		}
		c.off = r.end
		if r.isLink() {
			continue
		}
		if r.isOverflow() {
			v, err := c.s.readOverflow(c.sc, r.overflow)
			return v, r.tid, err
		}
		return r.value(c.p.Body()), r.tid, nil
	}
}

// GetNodeValue computes the string value of the node stored at addr: the
// concatenated text of the node and its descendants, read from the records
// following it in the chain. With addWhitespace set, a space follows every
// child of an element that has more than one non-attribute child.
func (s *Store) GetNodeValue(addr pagemanager.Address, addWhitespace bool) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	sc := s.newScope()
	defer sc.close()

	p, r, err := s.findRecord(sc, addr, true)
	if isMissing(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c := &recordCursor{s: s, sc: sc, p: p, off: r.end}
	defer c.release()

	top := r.value(p.Body())
	if r.isOverflow() {
		if top, err = s.readOverflow(sc, r.overflow); err != nil {
			return nil, err
		}
	}

	type frame struct {
		remaining int
		ws        bool
	}
	var (
		out   bytes.Buffer
		stack []frame
	)
	// visit writes the part of one node and opens a frame for an element
	// with children. It reports whether the node is complete.
	visit := func(v []byte, isTop bool) (bool, error) {
		part, err := dom.StringValuePart(v, isTop)
		if err != nil {
			return false, err
		}
		out.Write(part)
		if t, _ := dom.PeekType(v); t != dom.ElementNode {
			return true, nil
		}
		children, attrs, err := dom.ElementCounts(v)
		if err != nil {
			return false, err
		}
		if children == 0 {
			return true, nil
		}
		stack = append(stack, frame{remaining: children, ws: addWhitespace && children-attrs > 1})
		return false, nil
	}
	childDone := func() {
		if n := len(stack); n > 0 && stack[n-1].ws {
			out.WriteByte(' ')
		}
	}

	if _, err := visit(top, true); err != nil {
		return nil, s.corrupt(addr.Page(), addr.TID(), "bad node at %s: %v", addr, err)
	}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.remaining == 0 {
			stack = stack[:len(stack)-1]
			childDone()
			continue
		}
		f.remaining--
		v, tid, err := c.next()
		if err != nil {
			return nil, err
		}
		done, err := visit(v, false)
		if err != nil {
			return nil, s.corrupt(c.p.GetPageID(), tid, "bad descendant node of %s: %v", addr, err)
		}
		if done {
			childDone()
		}
	}
	return out.Bytes(), nil
}

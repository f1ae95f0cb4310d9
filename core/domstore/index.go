package domstore

import (
	"encoding/binary"
	"fmt"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/sushant-115/domstore/core/dom"
	"github.com/sushant-115/domstore/core/transaction"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// NodeIndex maps application keys to record addresses. Lookup returns
// InvalidAddress for an unknown key.
type NodeIndex interface {
	Lookup(key []byte) (pagemanager.Address, error)
	Insert(key []byte, addr pagemanager.Address) error
	Delete(key []byte) error
}

// NodeKey is the index key of a node: the document id followed by the node
// id units, so that keys of one document sort in document order.
func NodeKey(docID uint32, id dom.NodeID) []byte {
	key := binary.BigEndian.AppendUint32(make([]byte, 0, 4+dom.LengthInBytes(id.Units())), docID)
	return append(key, id.Bytes()...)
}

// RadixIndex is an in-memory NodeIndex. It is not persisted; it is rebuilt
// by whoever owns the keys.
type RadixIndex struct {
	mu   sync.RWMutex
	tree *iradix.Tree
}

func NewRadixIndex() *RadixIndex {
	return &RadixIndex{tree: iradix.New()}
}

func (x *RadixIndex) Lookup(key []byte) (pagemanager.Address, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	v, ok := x.tree.Get(key)
	if !ok {
		return pagemanager.InvalidAddress, nil
	}
	return v.(pagemanager.Address), nil
}

func (x *RadixIndex) Insert(key []byte, addr pagemanager.Address) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.tree, _, _ = x.tree.Insert(key, addr)
	return nil
}

func (x *RadixIndex) Delete(key []byte) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.tree, _, _ = x.tree.Delete(key)
	return nil
}

func (x *RadixIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}

// Range calls fn for every key with prefix in key order until fn returns
// false. It works on a snapshot of the tree.
func (x *RadixIndex) Range(prefix []byte, fn func(key []byte, addr pagemanager.Address) bool) {
	x.mu.RLock()
	root := x.tree.Root()
	x.mu.RUnlock()
	root.WalkPrefix(prefix, func(k []byte, v interface{}) bool {
		return !fn(k, v.(pagemanager.Address))
	})
}

// Put appends value for owner o and indexes it under key.
func (s *Store) Put(txn *transaction.Transaction, o Owner, key, value []byte) (pagemanager.Address, error) {
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
	addr, err := s.appendValue(sc, txn, o, value)
	if err != nil {
		return pagemanager.InvalidAddress, err
	}
	if err := s.index.Insert(key, addr); err != nil {
		return addr, fmt.Errorf("indexing %s: %w", addr, err)
	}
	return addr, nil
}

// InsertAfterKey stores value behind the record indexed by afterKey and
// indexes it under key.
func (s *Store) InsertAfterKey(txn *transaction.Transaction, o Owner, afterKey, key, value []byte) (pagemanager.Address, error) {
	if len(value) == 0 {
		return pagemanager.InvalidAddress, ErrEmptyValue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return pagemanager.InvalidAddress, err
	}
	after, err := s.lookup(afterKey)
	if err != nil {
		return pagemanager.InvalidAddress, err
	}
	sc := s.newScope()
	defer sc.close()
	addr, err := s.insertAfter(sc, txn, o, after, value)
	if err != nil {
		return pagemanager.InvalidAddress, err
	}
	if err := s.index.Insert(key, addr); err != nil {
		return addr, fmt.Errorf("indexing %s: %w", addr, err)
	}
	return addr, nil
}

// GetByKey returns the value indexed by key, or nil when there is none.
func (s *Store) GetByKey(key []byte) ([]byte, error) {
	addr, err := s.index.Lookup(key)
	if err != nil || !addr.IsValid() {
		return nil, err
	}
	return s.Get(addr)
}

func (s *Store) UpdateByKey(txn *transaction.Transaction, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	addr, err := s.lookup(key)
	if err != nil {
		return err
	}
	sc := s.newScope()
	defer sc.close()
	return s.update(sc, txn, addr, value)
}

// RemoveByKey removes the value indexed by key and the key itself.
func (s *Store) RemoveByKey(txn *transaction.Transaction, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	addr, err := s.lookup(key)
	if err != nil {
		return err
	}
	sc := s.newScope()
	defer sc.close()
	if err := s.remove(sc, txn, addr); err != nil {
		return err
	}
	return s.index.Delete(key)
}

func (s *Store) lookup(key []byte) (pagemanager.Address, error) {
	addr, err := s.index.Lookup(key)
	if err != nil {
		return pagemanager.InvalidAddress, err
	}
	if !addr.IsValid() {
		return pagemanager.InvalidAddress, fmt.Errorf("%w: key %x", ErrNotFound, key)
	}
	return addr, nil
}

// FindNode returns the address of a node. A node missing from the index is
// searched in the records following its nearest indexed ancestor; the scan
// stops at the node, past it, or at the end of the ancestor's subtree.
// InvalidAddress means the node was not found.
func (s *Store) FindNode(docID uint32, id dom.NodeID) (pagemanager.Address, error) {
	addr, err := s.index.Lookup(NodeKey(docID, id))
	if err != nil || addr.IsValid() {
		return addr, err
	}
	ancestor := id.Parent()
	for ; ancestor != nil; ancestor = ancestor.Parent() {
		if addr, err = s.index.Lookup(NodeKey(docID, ancestor)); err != nil {
			return pagemanager.InvalidAddress, err
		}
		if addr.IsValid() {
			break
		}
	}
	if ancestor == nil {
		return pagemanager.InvalidAddress, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return pagemanager.InvalidAddress, ErrClosed
	}
	sc := s.newScope()
	defer sc.close()
	p, r, err := s.findRecord(sc, addr, true)
	if isMissing(err) {
		return pagemanager.InvalidAddress, nil
	}
	if err != nil {
		return pagemanager.InvalidAddress, err
	}
	for {
		var v []byte
		if r.isOverflow() {
			if v, err = s.readOverflow(sc, r.overflow); err != nil {
				sc.drop(p)
				return pagemanager.InvalidAddress, err
			}
		} else {
			v = r.value(p.Body())
		}
		other, err := dom.PeekID(v)
		if err != nil {
			sc.drop(p)
			return pagemanager.InvalidAddress, s.corrupt(p.GetPageID(), r.tid, "bad node while searching %s: %v", id, err)
		}
		switch {
		case other.Equal(id):
			found := addressOf(p.GetPageID(), r)
			sc.drop(p)
			return found, nil
		case other.Compare(id) > 0, !other.Equal(ancestor) && !other.IsDescendantOf(ancestor):
			sc.drop(p)
			s.logger.Debug("node not found below its ancestor",
				zap.Uint32("doc", docID), zap.Stringer("node", id), zap.Stringer("ancestor", ancestor))
			return pagemanager.InvalidAddress, nil
		}
		var ok bool
		if p, r, ok, err = s.nextRecord(sc, p, r.end); err != nil || !ok {
			return pagemanager.InvalidAddress, err
		}
	}
}

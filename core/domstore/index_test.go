package domstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushant-115/domstore/core/dom"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
)

func nodeID(t *testing.T, s string) dom.NodeID {
	t.Helper()
	id, err := dom.ParseNodeID(s)
	require.NoError(t, err)
	return id
}

// sampleDoc is <doc lang="en"><p>hello</p>world</doc> in document order.
func sampleDoc(t *testing.T) []*dom.Node {
	return []*dom.Node{
		{Type: dom.ElementNode, ID: nodeID(t, "1"), Name: "doc", ChildCount: 3, AttrCount: 1},
		{Type: dom.AttributeNode, ID: nodeID(t, "1.1"), Name: "lang", Value: []byte("en")},
		{Type: dom.ElementNode, ID: nodeID(t, "1.2"), Name: "p", ChildCount: 1},
		{Type: dom.TextNode, ID: nodeID(t, "1.2.1"), Value: []byte("hello")},
		{Type: dom.TextNode, ID: nodeID(t, "1.3"), Value: []byte("world")},
	}
}

// storeDoc appends the nodes and indexes only the ids listed in indexed.
func storeDoc(t *testing.T, s *Store, docID uint32, nodes []*dom.Node, indexed ...string) map[string]pagemanager.Address {
	t.Helper()
	o := NewOwner()
	keep := map[string]bool{}
	for _, id := range indexed {
		keep[id] = true
	}
	addrs := map[string]pagemanager.Address{}
	for _, n := range nodes {
		var (
			addr pagemanager.Address
			err  error
		)
		if keep[n.ID.String()] {
			addr, err = s.Put(nil, o, NodeKey(docID, n.ID), dom.Encode(n))
		} else {
			addr, err = s.Append(nil, o, dom.Encode(n))
		}
		require.NoError(t, err)
		addrs[n.ID.String()] = addr
	}
	return addrs
}

func TestRadixIndex(t *testing.T) {
	x := NewRadixIndex()
	a := pagemanager.NewAddress(3, 1)
	b := pagemanager.NewAddress(3, 2)
	c := pagemanager.NewAddress(4, 1)

	require.NoError(t, x.Insert(NodeKey(1, nodeID(t, "1.2")), b))
	require.NoError(t, x.Insert(NodeKey(1, nodeID(t, "1")), a))
	require.NoError(t, x.Insert(NodeKey(2, nodeID(t, "1")), c))
	require.Equal(t, 3, x.Len())

	got, err := x.Lookup(NodeKey(1, nodeID(t, "1.2")))
	require.NoError(t, err)
	require.Equal(t, b, got)
	got, err = x.Lookup(NodeKey(1, nodeID(t, "1.3")))
	require.NoError(t, err)
	require.Equal(t, pagemanager.InvalidAddress, got)

	var doc1 []pagemanager.Address
	x.Range(NodeKey(1, nil), func(_ []byte, addr pagemanager.Address) bool {
		doc1 = append(doc1, addr)
		return true
	})
	require.Equal(t, []pagemanager.Address{a, b}, doc1, "keys of one document in document order")

	require.NoError(t, x.Delete(NodeKey(1, nodeID(t, "1"))))
	require.Equal(t, 2, x.Len())
}

func TestKeyedAccess(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()

	addr, err := s.Put(nil, o, []byte("k1"), []byte("one"))
	require.NoError(t, err)
	v, err := s.GetByKey([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v)

	_, err = s.InsertAfterKey(nil, o, []byte("k1"), []byte("k2"), []byte("two"))
	require.NoError(t, err)
	it, err := s.NewRawIterator(addr)
	require.NoError(t, err)
	var got []string
	for it.Next() {
		got = append(got, string(it.Value()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"one", "two"}, got)

	require.NoError(t, s.UpdateByKey(nil, []byte("k2"), []byte("TWO")))
	v, err = s.GetByKey([]byte("k2"))
	require.NoError(t, err)
	require.Equal(t, []byte("TWO"), v)

	require.NoError(t, s.RemoveByKey(nil, []byte("k1")))
	v, err = s.GetByKey([]byte("k1"))
	require.NoError(t, err)
	require.Nil(t, v)
	require.Nil(t, mustGet(t, s, addr))

	require.ErrorIs(t, s.RemoveByKey(nil, []byte("k1")), ErrNotFound)
	require.ErrorIs(t, s.UpdateByKey(nil, []byte("nope"), []byte("x")), ErrNotFound)
	_, err = s.InsertAfterKey(nil, o, []byte("nope"), []byte("k3"), []byte("x"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindNode(t *testing.T) {
	s := newTestStore(t)
	addrs := storeDoc(t, s, 7, sampleDoc(t), "1")

	for _, id := range []string{"1", "1.1", "1.2", "1.2.1", "1.3"} {
		got, err := s.FindNode(7, nodeID(t, id))
		require.NoError(t, err)
		assert.Equal(t, addrs[id], got, "node %s", id)
	}

	for _, id := range []string{"1.4", "1.2.2", "2"} {
		got, err := s.FindNode(7, nodeID(t, id))
		require.NoError(t, err)
		assert.Equal(t, pagemanager.InvalidAddress, got, "node %s", id)
	}

	got, err := s.FindNode(8, nodeID(t, "1.2"))
	require.NoError(t, err)
	require.Equal(t, pagemanager.InvalidAddress, got, "other documents are not searched")
}

func TestFindNode_AfterSplit(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()
	root := &dom.Node{Type: dom.ElementNode, ID: nodeID(t, "1"), Name: "list", ChildCount: 12}
	_, err := s.Put(nil, o, NodeKey(1, root.ID), dom.Encode(root))
	require.NoError(t, err)

	pad := make([]byte, 24)
	for i := uint32(1); i <= 12; i++ {
		if i == 6 {
			continue
		}
		n := &dom.Node{Type: dom.TextNode, ID: root.ID.Child(i), Value: pad}
		_, err := s.Append(nil, o, dom.Encode(n))
		require.NoError(t, err)
	}

	// insert child 6 behind child 5; the page is full and splits
	five, err := s.FindNode(1, root.ID.Child(5))
	require.NoError(t, err)
	require.True(t, five.IsValid())
	six := &dom.Node{Type: dom.TextNode, ID: root.ID.Child(6), Value: pad}
	sixAddr, err := s.InsertAfter(nil, o, five, dom.Encode(six))
	require.NoError(t, err)

	for i := uint32(1); i <= 12; i++ {
		addr, err := s.FindNode(1, root.ID.Child(i))
		require.NoError(t, err)
		require.True(t, addr.IsValid(), "child %d", i)
		v := mustGet(t, s, addr)
		id, err := dom.PeekID(v)
		require.NoError(t, err)
		require.True(t, id.Equal(root.ID.Child(i)), "child %d resolved to %s", i, id)
	}
	got, err := s.FindNode(1, six.ID)
	require.NoError(t, err)
	require.Equal(t, sixAddr, got)
}

func TestGetNodeValue(t *testing.T) {
	s := newTestStore(t)
	addrs := storeDoc(t, s, 1, sampleDoc(t))

	cases := []struct {
		id         string
		whitespace bool
		want       string
	}{
		{"1", false, "helloworld"},
		{"1", true, " hello world "},
		{"1.1", false, "en"},
		{"1.2", false, "hello"},
		{"1.2", true, "hello"},
		{"1.2.1", false, "hello"},
		{"1.3", true, "world"},
	}
	for _, tc := range cases {
		got, err := s.GetNodeValue(addrs[tc.id], tc.whitespace)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(got), "node %s whitespace=%v", tc.id, tc.whitespace)
	}

	v, err := s.GetNodeValue(pagemanager.NewAddress(999, 1), false)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestGetNodeValue_AcrossPagesAndOverflow(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()
	root := &dom.Node{Type: dom.ElementNode, ID: nodeID(t, "1"), Name: "r", ChildCount: 3}
	rootAddr, err := s.Append(nil, o, dom.Encode(root))
	require.NoError(t, err)

	texts := [][]byte{
		make([]byte, 300),
		make([]byte, 2*s.workSize),
		[]byte("tail"),
	}
	for i := range texts[0] {
		texts[0][i] = 'a'
	}
	for i := range texts[1] {
		texts[1][i] = 'b'
	}
	var want []byte
	for i, text := range texts {
		n := &dom.Node{Type: dom.TextNode, ID: root.ID.Child(uint32(i + 1)), Value: text}
		_, err := s.Append(nil, o, dom.Encode(n))
		require.NoError(t, err)
		want = append(want, text...)
	}

	got, err := s.GetNodeValue(rootAddr, false)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestNodeIterator(t *testing.T) {
	s := newTestStore(t)
	nodes := sampleDoc(t)
	addrs := storeDoc(t, s, 3, nodes, "1")

	it, err := s.NewNodeIterator(addrs["1"])
	require.NoError(t, err)
	defer it.Close()
	require.True(t, it.Next())
	require.Equal(t, "doc", it.Node().Name)

	require.NoError(t, it.SeekNode(3, nodeID(t, "1.2")))
	var got []string
	for it.Next() {
		n := it.Node()
		got = append(got, n.Type.String()+":"+n.ID.String())
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"element:1.2", "text:1.2.1", "text:1.3"}, got)

	require.ErrorIs(t, it.SeekNode(3, nodeID(t, "1.9")), ErrNotFound)
}

func TestPositionIterator(t *testing.T) {
	s := newTestStore(t)
	addrs, values := fillPage(t, s, NewOwner())
	_, err := s.Append(nil, NewOwner(), []byte("elsewhere"))
	require.NoError(t, err)
	more, err := s.InsertAfter(nil, NewOwner(), addrs[9], []byte("spill"))
	require.NoError(t, err)

	it, err := s.NewPositionIterator(addrs[3])
	require.NoError(t, err)
	var got [][]byte
	var gotAddrs []pagemanager.Address
	for it.Next() {
		got = append(got, append([]byte(nil), it.Bytes()...))
		gotAddrs = append(gotAddrs, it.Address())
	}
	require.NoError(t, it.Err())
	it.Close()

	want := append(append([][]byte{}, values[3:]...), []byte("spill"))
	require.Equal(t, want, got)
	require.Equal(t, append(append([]pagemanager.Address{}, addrs[3:]...), more), gotAddrs)

	_, err = s.Get(addrs[0])
	require.NoError(t, err, "closing the iterator releases its pages")
	require.Zero(t, s.bpm.Stats().Pinned)
}

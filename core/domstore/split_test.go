package domstore

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
)

// fillPage appends ten 40-byte values, which fill one 512-byte page.
func fillPage(t *testing.T, s *Store, o Owner) ([]pagemanager.Address, [][]byte) {
	t.Helper()
	var addrs []pagemanager.Address
	var values [][]byte
	for i := 0; i < 10; i++ {
		v := bytes.Repeat([]byte{byte('a' + i)}, 40)
		addr, err := s.Append(nil, o, v)
		require.NoError(t, err)
		addrs = append(addrs, addr)
		values = append(values, v)
	}
	require.Equal(t, addrs[0].Page(), addrs[9].Page())
	return addrs, values
}

func linkCount(t *testing.T, s *Store, page pagemanager.PageID) int {
	t.Helper()
	sc := s.newScope()
	defer sc.close()
	p, err := sc.fetch(page)
	require.NoError(t, err)
	n := 0
	body, dataLen := p.Body(), p.Header().DataLength()
	for off := 0; off < dataLen; {
		r, err := s.parseRecord(page, body, dataLen, off)
		require.NoError(t, err)
		if r.isLink() {
			n++
		}
		off = r.end
	}
	return n
}

func TestInsertAfter_FitsInPage(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()
	a, err := s.Append(nil, o, []byte("first"))
	require.NoError(t, err)
	c, err := s.Append(nil, o, []byte("third"))
	require.NoError(t, err)

	b, err := s.InsertAfter(nil, o, a, []byte("second"))
	require.NoError(t, err)
	require.Equal(t, a.Page(), b.Page())

	it, err := s.NewRawIterator(a)
	require.NoError(t, err)
	var got []string
	for it.Next() {
		got = append(got, string(it.Value()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"first", "second", "third"}, got)
	require.Equal(t, []byte("third"), mustGet(t, s, c))
}

func TestInsertAfter_SplitKeepsAddresses(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()
	addrs, values := fillPage(t, s, o)
	first := addrs[0].Page()

	x := bytes.Repeat([]byte{'X'}, 40)
	xAddr, err := s.InsertAfter(nil, o, addrs[0], x)
	require.NoError(t, err)
	require.Equal(t, first, xAddr.Page(), "the new value lands behind the links")
	require.Equal(t, 9, linkCount(t, s, first))
	require.Equal(t, 11, recordCount(t, s, first), "first value, nine links and the new value")

	for i, addr := range addrs {
		require.Equal(t, values[i], mustGet(t, s, addr), "value %d after split", i)
	}
	require.Equal(t, x, mustGet(t, s, xAddr))

	// Split a split page: the moved values are moved again and their links
	// updated in place.
	y := bytes.Repeat([]byte{'Y'}, 100)
	yAddr, err := s.InsertAfter(nil, o, addrs[1], y)
	require.NoError(t, err)
	require.Equal(t, 9, linkCount(t, s, first), "no new links on the original page")
	for i, addr := range addrs {
		require.Equal(t, values[i], mustGet(t, s, addr), "value %d after second split", i)
	}
	require.Equal(t, y, mustGet(t, s, yAddr))

	// storage order is document order
	it, err := s.NewRawIterator(addrs[0])
	require.NoError(t, err)
	var gotValues [][]byte
	var gotAddrs []pagemanager.Address
	for it.Next() {
		gotValues = append(gotValues, it.Value())
		gotAddrs = append(gotAddrs, it.Address())
	}
	require.NoError(t, it.Err())
	wantValues := append([][]byte{values[0], x, values[1], y}, values[2:]...)
	wantAddrs := append([]pagemanager.Address{addrs[0], xAddr, addrs[1], yAddr}, addrs[2:]...)
	require.Equal(t, wantValues, gotValues)
	require.Equal(t, wantAddrs, gotAddrs)
}

func TestSplit_RemoveRelocatedValue(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()
	addrs, values := fillPage(t, s, o)
	_, err := s.InsertAfter(nil, o, addrs[0], bytes.Repeat([]byte{'x'}, 40))
	require.NoError(t, err)
	first := addrs[0].Page()
	require.Equal(t, 9, linkCount(t, s, first))

	require.NoError(t, s.Remove(nil, addrs[5]))
	require.Nil(t, mustGet(t, s, addrs[5]))
	require.Equal(t, 8, linkCount(t, s, first), "the link goes with the value")
	for i, addr := range addrs {
		if i != 5 {
			require.Equal(t, values[i], mustGet(t, s, addr))
		}
	}
}

func TestSplit_ManyInsertsStayReadable(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()
	addrs, values := fillPage(t, s, o)
	want := map[pagemanager.Address][]byte{}
	for i, a := range addrs {
		want[a] = values[i]
	}

	anchor := addrs[0]
	for i := 0; i < 60; i++ {
		v := []byte(fmt.Sprintf("inserted-%02d-%s", i, bytes.Repeat([]byte{'-'}, i%30)))
		addr, err := s.InsertAfter(nil, o, anchor, v)
		require.NoError(t, err)
		want[addr] = v
		anchor = addr
	}
	for addr, v := range want {
		require.Equal(t, v, mustGet(t, s, addr), "address %s", addr)
	}

	it, err := s.NewRawIterator(addrs[0])
	require.NoError(t, err)
	seen := map[pagemanager.Address]int{}
	for it.Next() {
		seen[it.Address()]++
	}
	require.NoError(t, it.Err())
	require.Len(t, seen, len(want))
	for addr, n := range seen {
		require.Equal(t, 1, n, "address %s visited more than once", addr)
	}
}

package domstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushant-115/domstore/core/domstore/mocks"
	"github.com/sushant-115/domstore/core/transaction"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"github.com/sushant-115/domstore/core/write_engine/wal"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

const testPageSize = 512

func testOptions(dir string) Options {
	return Options{
		DataFile:   filepath.Join(dir, "nodes.dbx"),
		PageSize:   testPageSize,
		CachePages: 64,
		WAL: wal.Options{
			Dir:         filepath.Join(dir, "wal"),
			BufferSize:  4096,
			SegmentSize: 1 << 20,
		},
		Logger: zap.NewNop(),
	}
}

func openStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return openStore(t, testOptions(t.TempDir()))
}

// crash drops the store the way a killed process would: the journal is on
// disk, dirty pages are not, and the file is not marked clean.
func crash(t *testing.T, s *Store) {
	t.Helper()
	s.mu.Lock()
	s.closed = true
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
	require.NoError(t, s.lm.Close())
	require.NoError(t, s.dm.Close())
}

func begin(t *testing.T, s *Store) *transaction.Transaction {
	t.Helper()
	txn, err := s.Begin()
	require.NoError(t, err)
	return txn
}

func mustGet(t *testing.T, s *Store, addr pagemanager.Address) []byte {
	t.Helper()
	v, err := s.Get(addr)
	require.NoError(t, err)
	return v
}

func recordCount(t *testing.T, s *Store, page pagemanager.PageID) int {
	t.Helper()
	p, err := s.bpm.FetchPage(page)
	require.NoError(t, err)
	defer s.bpm.UnpinPage(page, false)
	return int(p.Header().RecordCount())
}

func TestAppend_SmallValues(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()

	values := []string{"A", "B", "C"}
	addrs := make([]pagemanager.Address, len(values))
	for i, v := range values {
		addr, err := s.Append(nil, o, []byte(v))
		require.NoError(t, err)
		addrs[i] = addr
	}

	seen := map[pagemanager.Address]bool{}
	for i, addr := range addrs {
		require.True(t, addr.IsValid())
		require.False(t, seen[addr], "address %s handed out twice", addr)
		seen[addr] = true
		require.Equal(t, addrs[0].Page(), addr.Page(), "small values share one page")
		require.Equal(t, []byte(values[i]), mustGet(t, s, addr))
	}
	require.Equal(t, 3, recordCount(t, s, addrs[0].Page()))
	require.Equal(t, addrs[0].Page(), s.CurrentPage(o))
}

func TestAppend_OwnersUseSeparateChains(t *testing.T) {
	s := newTestStore(t)
	a, b := NewOwner(), NewOwner()

	addrA, err := s.Append(nil, a, []byte("from a"))
	require.NoError(t, err)
	addrB, err := s.Append(nil, b, []byte("from b"))
	require.NoError(t, err)
	require.NotEqual(t, addrA.Page(), addrB.Page())

	s.CloseOwner(a)
	require.Equal(t, pagemanager.InvalidPageID, s.CurrentPage(a))
	addrA2, err := s.Append(nil, a, []byte("again"))
	require.NoError(t, err)
	require.NotEqual(t, addrA.Page(), addrA2.Page(), "a closed owner starts a new chain")
}

func TestAppend_FillsPagesAndReportsToDocument(t *testing.T) {
	ctrl := gomock.NewController(t)
	doc := mocks.NewMockDocument(ctrl)
	doc.EXPECT().IncPageCount().Times(2)

	s := newTestStore(t)
	o := NewOwner()
	s.SetDocument(o, doc)

	value := bytes.Repeat([]byte{'x'}, 40) // 44-byte records, ten per page
	var addrs []pagemanager.Address
	for i := 0; i < 11; i++ {
		addr, err := s.Append(nil, o, value)
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}
	require.Equal(t, addrs[0].Page(), addrs[9].Page())
	require.NotEqual(t, addrs[9].Page(), addrs[10].Page())

	chain, err := s.PageChain(addrs[0].Page())
	require.NoError(t, err)
	require.Equal(t, []pagemanager.PageID{addrs[0].Page(), addrs[10].Page()}, chain)
}

func TestAppend_Overflow(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()

	value := make([]byte, s.workSize+1)
	for i := range value {
		value[i] = byte(i % 251)
	}
	pagesBefore := s.dm.GetNumPages()
	addr, err := s.Append(nil, o, value)
	require.NoError(t, err)
	// one record page and a two page overflow chain
	require.Equal(t, pagesBefore+3, s.dm.GetNumPages())

	got := mustGet(t, s, addr)
	require.Len(t, got, len(value))
	require.Equal(t, value, got)

	require.NoError(t, s.Remove(nil, addr))
	require.Nil(t, mustGet(t, s, addr))

	// the freed pages come back before the file grows
	_, err = s.Append(nil, o, value)
	require.NoError(t, err)
	require.Equal(t, pagesBefore+3, s.dm.GetNumPages())
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()

	a, err := s.Append(nil, o, []byte("one"))
	require.NoError(t, err)
	b, err := s.Append(nil, o, []byte("two"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(nil, a))
	require.Nil(t, mustGet(t, s, a))
	require.Equal(t, []byte("two"), mustGet(t, s, b))
	require.Equal(t, 1, recordCount(t, s, b.Page()))

	require.ErrorIs(t, s.Remove(nil, a), ErrNotFound)

	// the last record takes its page with it
	require.NoError(t, s.Remove(nil, b))
	require.Equal(t, pagemanager.InvalidPageID, s.CurrentPage(o))
	require.Equal(t, b.Page(), s.dm.Header().FreeListHead)
}

func TestRemoveAll(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()

	value := bytes.Repeat([]byte{'r'}, 100)
	first, err := s.Append(nil, o, value)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		_, err := s.Append(nil, o, value)
		require.NoError(t, err)
	}
	big, err := s.Append(nil, o, make([]byte, 2*s.workSize))
	require.NoError(t, err)

	chain, err := s.PageChain(first.Page())
	require.NoError(t, err)
	require.Greater(t, len(chain), 1)

	require.NoError(t, s.RemoveAll(nil, first.Page()))
	require.Nil(t, mustGet(t, s, first))
	require.Nil(t, mustGet(t, s, big))
	require.Equal(t, pagemanager.InvalidPageID, s.CurrentPage(o))
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()

	addr, err := s.Append(nil, o, []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, s.Update(nil, addr, []byte("xyz")))
	require.Equal(t, []byte("xyz"), mustGet(t, s, addr))

	require.ErrorIs(t, s.Update(nil, addr, []byte("toolong")), ErrLengthMismatch)

	big, err := s.Append(nil, o, make([]byte, s.workSize+10))
	require.NoError(t, err)
	require.ErrorIs(t, s.Update(nil, big, make([]byte, s.workSize+10)), ErrLengthMismatch)
}

func TestGet_Missing(t *testing.T) {
	s := newTestStore(t)

	v, err := s.Get(pagemanager.InvalidAddress)
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = s.Get(pagemanager.NewAddress(999, 1))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestEmptyValueRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(nil, NewOwner(), nil)
	require.ErrorIs(t, err, ErrEmptyValue)
}

func TestReadOnly(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	s, err := Open(opts)
	require.NoError(t, err)
	addr, err := s.Append(nil, NewOwner(), []byte("kept"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	opts.ReadOnly = true
	ro := openStore(t, opts)
	require.Equal(t, []byte("kept"), mustGet(t, ro, addr))

	_, err = ro.Append(nil, NewOwner(), []byte("x"))
	require.ErrorIs(t, err, ErrReadOnly)
	require.ErrorIs(t, ro.Remove(nil, addr), ErrReadOnly)
	require.ErrorIs(t, ro.Update(nil, addr, []byte("KEPT")), ErrReadOnly)
	_, err = ro.Begin()
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	_, err := s.Get(pagemanager.NewAddress(1, 1))
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Append(nil, NewOwner(), []byte("x"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestReopen_KeepsData(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	s, err := Open(opts)
	require.NoError(t, err)
	o := NewOwner()
	addr, err := s.Append(nil, o, []byte("durable"))
	require.NoError(t, err)
	big, err := s.Append(nil, o, make([]byte, 3*s.workSize))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openStore(t, opts)
	assert.Equal(t, []byte("durable"), mustGet(t, s, addr))
	assert.Len(t, mustGet(t, s, big), 3*s.workSize)
	assert.NotZero(t, s.dm.Header().CheckpointLSN)
}

func TestCorruptChainIsReported(t *testing.T) {
	s := newTestStore(t)
	addr, err := s.Append(nil, NewOwner(), []byte("v"))
	require.NoError(t, err)

	p, err := s.bpm.FetchPage(addr.Page())
	require.NoError(t, err)
	p.Header().SetDataLength(s.workSize + 1)
	require.NoError(t, s.bpm.UnpinPage(addr.Page(), true))

	_, err = s.Get(addr)
	require.ErrorIs(t, err, ErrCorruption)
	var ce *CorruptionError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, addr.Page(), ce.Page)
}

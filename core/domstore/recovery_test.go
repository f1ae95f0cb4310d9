package domstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
)

func TestRecovery_RedoesCommittedAndUndoesLosers(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	s, err := Open(opts)
	require.NoError(t, err)
	o := NewOwner()

	winner := begin(t, s)
	a, err := s.Append(winner, o, []byte("A"))
	require.NoError(t, err)
	b, err := s.Append(winner, o, []byte("B"))
	require.NoError(t, err)
	big := bytes.Repeat([]byte{'w'}, 2*s.workSize)
	bigAddr, err := s.Append(winner, o, big)
	require.NoError(t, err)
	require.NoError(t, s.Commit(winner))

	loser := begin(t, s)
	c, err := s.Append(loser, o, []byte("C"))
	require.NoError(t, err)
	require.NoError(t, s.Update(loser, a, []byte("Z")))
	crash(t, s)

	s = openStore(t, opts)
	require.Equal(t, []byte("A"), mustGet(t, s, a))
	require.Equal(t, []byte("B"), mustGet(t, s, b))
	require.Equal(t, big, mustGet(t, s, bigAddr))
	require.Nil(t, mustGet(t, s, c))
	next := begin(t, s)
	require.Greater(t, next.ID, loser.ID, "ids are not handed out twice")
	require.NoError(t, s.Commit(next))

	// a second recovery finds nothing left to undo
	stats, err := s.Recover(context.Background())
	require.NoError(t, err)
	require.Empty(t, stats.Losers)
	require.Zero(t, stats.Undone)
}

func TestRecovery_AbortedTransactionIsRolledBack(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	s, err := Open(opts)
	require.NoError(t, err)
	o := NewOwner()

	keep, err := s.Append(nil, o, []byte("keep"))
	require.NoError(t, err)
	require.NoError(t, s.Checkpoint(context.Background()))

	txn := begin(t, s)
	gone, err := s.Append(txn, o, []byte("gone"))
	require.NoError(t, err)
	require.NoError(t, s.Abort(txn))
	// abort leaves the value in place until recovery
	require.Equal(t, []byte("gone"), mustGet(t, s, gone))
	crash(t, s)

	s = openStore(t, opts)
	require.Equal(t, []byte("keep"), mustGet(t, s, keep))
	require.Nil(t, mustGet(t, s, gone))
}

func TestRecovery_SplitSurvivesCrash(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	s, err := Open(opts)
	require.NoError(t, err)
	o := NewOwner()

	txn := begin(t, s)
	var addrs []pagemanager.Address
	var values [][]byte
	for i := 0; i < 10; i++ {
		v := bytes.Repeat([]byte{byte('a' + i)}, 40)
		addr, err := s.Append(txn, o, v)
		require.NoError(t, err)
		addrs, values = append(addrs, addr), append(values, v)
	}
	x := bytes.Repeat([]byte{'X'}, 40)
	xAddr, err := s.InsertAfter(txn, o, addrs[0], x)
	require.NoError(t, err)
	require.NoError(t, s.Commit(txn))
	crash(t, s)

	s = openStore(t, opts)
	for i, addr := range addrs {
		require.Equal(t, values[i], mustGet(t, s, addr))
	}
	require.Equal(t, x, mustGet(t, s, xAddr))
}

func TestRecovery_LoserSplitIsUndone(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	s, err := Open(opts)
	require.NoError(t, err)
	o := NewOwner()

	txn := begin(t, s)
	addrs, values := fillPage(t, s, o)
	require.NoError(t, s.Commit(txn))
	require.NoError(t, s.Checkpoint(context.Background()))

	loser := begin(t, s)
	_, err = s.InsertAfter(loser, o, addrs[0], bytes.Repeat([]byte{'L'}, 40))
	require.NoError(t, err)
	crash(t, s)

	s = openStore(t, opts)
	require.Zero(t, linkCount(t, s, addrs[0].Page()))
	require.Equal(t, 10, recordCount(t, s, addrs[0].Page()))
	for i, addr := range addrs {
		require.Equal(t, values[i], mustGet(t, s, addr))
	}
}

func TestRecovery_ReadOnlySkipsRecovery(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	s, err := Open(opts)
	require.NoError(t, err)
	txn := begin(t, s)
	_, err = s.Append(txn, NewOwner(), []byte("v"))
	require.NoError(t, err)
	require.NoError(t, s.Commit(txn))
	crash(t, s)

	opts.ReadOnly = true
	ro := openStore(t, opts)
	_, err = ro.Recover(context.Background())
	require.ErrorIs(t, err, ErrReadOnly)
}

// haltingContext reports cancellation once halt returns true.
type haltingContext struct {
	context.Context
	halt func() bool
}

func (c haltingContext) Err() error {
	if c.halt() {
		return context.Canceled
	}
	return c.Context.Err()
}

func rolledBack(t *testing.T, s *Store, txnID uint64) bool {
	t.Helper()
	for _, e := range journalEntries(t, s, txnID) {
		if e.EntryType() == EntryRolledBack {
			return true
		}
	}
	return false
}

func TestRecovery_InterruptedUndoKeepsFinishedLosers(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	s, err := Open(opts)
	require.NoError(t, err)

	older := begin(t, s)
	x, err := s.Append(older, NewOwner(), []byte("older loser"))
	require.NoError(t, err)
	newer := begin(t, s)
	y, err := s.Append(newer, NewOwner(), []byte("newer loser"))
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	// stop right after the newer loser is undone and marked
	ctx := haltingContext{Context: context.Background(), halt: func() bool { return rolledBack(t, s, newer.ID) }}
	_, err = s.Recover(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, rolledBack(t, s, older.ID))
	crash(t, s)

	s = openStore(t, opts)
	require.Nil(t, mustGet(t, s, x))
	require.Nil(t, mustGet(t, s, y))
	require.True(t, rolledBack(t, s, older.ID))
	stats, err := s.Recover(context.Background())
	require.NoError(t, err)
	require.Empty(t, stats.Losers)
}

package domstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/domstore/core/domstore/mocks"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"go.uber.org/mock/gomock"
)

func setNextTID(t *testing.T, s *Store, id pagemanager.PageID, next uint16) {
	t.Helper()
	p, err := s.bpm.FetchPage(id)
	require.NoError(t, err)
	p.Header().SetNextTID(next)
	require.NoError(t, s.bpm.UnpinPage(id, true))
}

func TestInsertAfter_TriggersDefragPastHighWater(t *testing.T) {
	ctrl := gomock.NewController(t)
	doc := mocks.NewMockDocument(ctrl)
	doc.EXPECT().IncPageCount().AnyTimes()
	doc.EXPECT().TriggerDefrag().Times(1)

	s := newTestStore(t)
	o := NewOwner()
	s.SetDocument(o, doc)
	first, err := s.Append(nil, o, []byte("root"))
	require.NoError(t, err)
	setNextTID(t, s, first.Page(), pagemanager.DefragLimit)

	atLimit, err := s.InsertAfter(nil, o, first, []byte("a"))
	require.NoError(t, err)
	require.EqualValues(t, pagemanager.DefragLimit, atLimit.TID().ID())

	past, err := s.InsertAfter(nil, o, atLimit, []byte("b"))
	require.NoError(t, err)
	require.EqualValues(t, pagemanager.DefragLimit+1, past.TID().ID())
}

func TestInsertAfter_TupleIDsExhausted(t *testing.T) {
	s := newTestStore(t)
	o := NewOwner()
	first, err := s.Append(nil, o, []byte("root"))
	require.NoError(t, err)
	setNextTID(t, s, first.Page(), pagemanager.MaxTupleID)

	last, err := s.InsertAfter(nil, o, first, []byte("last"))
	require.NoError(t, err)
	require.EqualValues(t, pagemanager.MaxTupleID, last.TID().ID())
	require.False(t, last.TID().IsLink())
	require.False(t, last.TID().IsRelocated())

	_, err = s.InsertAfter(nil, o, last, []byte("one too many"))
	require.ErrorIs(t, err, ErrCorruption)
	var cerr *CorruptionError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, first.Page(), cerr.Page)

	chain, err := s.PageChain(first.Page())
	require.NoError(t, err)
	require.Len(t, chain, 1, "no page is created for the rejected value")
	require.Equal(t, []byte("last"), mustGet(t, s, last))

	// appends move on to a fresh page with its own ids
	next, err := s.Append(nil, o, []byte("appended"))
	require.NoError(t, err)
	require.NotEqual(t, first.Page(), next.Page())
	require.Zero(t, next.TID().ID())
}

func TestInsertAfter_InheritedIDsRunOut(t *testing.T) {
	if testing.Short() {
		t.Skip("inserts until the tuple ids of the chain are used up")
	}
	s := newTestStore(t)
	o := NewOwner()
	first, err := s.Append(nil, o, []byte("r"))
	require.NoError(t, err)

	anchor, inserted := first, 0
	for {
		addr, err := s.InsertAfter(nil, o, anchor, []byte("v"))
		if err != nil {
			require.ErrorIs(t, err, ErrCorruption)
			break
		}
		require.LessOrEqual(t, addr.TID().ID(), uint16(pagemanager.MaxTupleID))
		require.False(t, addr.TID().IsRelocated(), "address %s", addr)
		anchor = addr
		inserted++
		require.LessOrEqual(t, inserted, pagemanager.MaxTupleID, "ids must run out")
	}
	require.Equal(t, pagemanager.MaxTupleID, inserted)

	it, err := s.NewRawIterator(first)
	require.NoError(t, err)
	defer it.Close()
	seen := 0
	for it.Next() {
		require.True(t, it.Address().IsValid())
		seen++
	}
	require.NoError(t, it.Err())
	require.Equal(t, inserted+1, seen)
	require.NoError(t, s.Remove(nil, anchor))
}

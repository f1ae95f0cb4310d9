package pagemanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTIDFlags(t *testing.T) {
	tid := TID(42)
	require.False(t, tid.IsLink())
	require.False(t, tid.IsRelocated())

	link := tid.WithLink()
	require.True(t, link.IsLink())
	require.Equal(t, uint16(42), link.ID())
	require.True(t, link.Matches(tid))

	reloc := tid.WithRelocated()
	require.True(t, reloc.IsRelocated())
	require.False(t, reloc.IsLink())
	require.Equal(t, tid, reloc.Plain())
	require.False(t, reloc.Matches(TID(43)))
	require.Equal(t, "42R", reloc.String())
}

func TestAddressRoundTrip(t *testing.T) {
	cases := []struct {
		page PageID
		tid  TID
	}{
		{1, 0},
		{7, 42},
		{0xFFFFFFFF, MaxTupleID},
	}
	for _, c := range cases {
		addr := NewAddress(c.page, c.tid)
		require.Equal(t, c.page, addr.Page())
		require.Equal(t, c.tid, addr.TID())
		require.True(t, addr.IsValid())

		parsed, err := ParseAddress(addr.String())
		require.NoError(t, err)
		require.Equal(t, addr, parsed)
	}

	// flags never leak into an address
	require.Equal(t, NewAddress(3, 5), NewAddress(3, TID(5).WithLink()))
	require.False(t, InvalidAddress.IsValid())
	require.False(t, NewAddress(InvalidPageID, 9).IsValid())

	_, err := ParseAddress("12")
	require.Error(t, err)
}

func TestHeaderFields(t *testing.T) {
	p := NewPage(5, 512)
	h := p.Header()
	h.Init(StatusRecord)
	h.SetRecordCount(3)
	h.SetDataLength(120)
	h.SetNextDataPage(9)
	h.SetPrevDataPage(4)
	h.SetNextPage(11)
	p.SetLSN(77)

	require.Equal(t, StatusRecord, h.Status())
	require.Equal(t, uint16(3), h.RecordCount())
	require.Equal(t, 120, h.DataLength())
	require.Equal(t, PageID(9), h.NextDataPage())
	require.Equal(t, PageID(4), h.PrevDataPage())
	require.Equal(t, PageID(11), h.NextPage())
	require.Equal(t, LSN(77), h.LSN())
	require.Equal(t, 512-HeaderSize, len(p.Body()))

	// Init keeps the LSN so replay can still compare against it
	h.Init(StatusUnused)
	require.Equal(t, LSN(77), h.LSN())
	require.Equal(t, 0, h.DataLength())

	p.SetLSN(0)
	h.SetLSN(99)
	p.SyncLSN()
	require.Equal(t, LSN(99), p.GetLSN())
}

func TestHeaderAllocateTID(t *testing.T) {
	h := NewPage(1, 256).Header()
	h.Init(StatusRecord)

	tid, err := h.AllocateTID()
	require.NoError(t, err)
	require.Equal(t, TID(0), tid)
	tid, err = h.AllocateTID()
	require.NoError(t, err)
	require.Equal(t, TID(1), tid)

	h.SetNextTID(MaxTupleID)
	require.True(t, h.HasRoomForTID())
	_, err = h.AllocateTID()
	require.NoError(t, err)
	require.False(t, h.HasRoomForTID())
	_, err = h.AllocateTID()
	require.Error(t, err)
}

func TestPagePinning(t *testing.T) {
	p := NewPage(3, 128)
	p.Pin()
	p.Pin()
	require.Equal(t, uint32(2), p.GetPinCount())
	p.Unpin()
	p.Unpin()
	p.Unpin()
	require.Equal(t, uint32(0), p.GetPinCount())

	p.SetDirty(true)
	p.GetData()[HeaderSize] = 0xAB
	p.Reset()
	require.Equal(t, InvalidPageID, p.GetPageID())
	require.False(t, p.IsDirty())
	require.Equal(t, byte(0), p.GetData()[HeaderSize])
}

package pagemanager

import (
	"encoding/binary"
	"fmt"
)

// PageStatus tells what a page currently holds.
type PageStatus byte

const (
	StatusUnused   PageStatus = 0
	StatusRecord   PageStatus = 1 // ordinary record page in a document chain
	StatusOverflow PageStatus = 2 // one chunk of an overflow chain
)

func (s PageStatus) String() string {
	switch s {
	case StatusUnused:
		return "unused"
	case StatusRecord:
		return "record"
	case StatusOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("status(%d)", byte(s))
	}
}

// Header layout. All fields are big-endian.
const (
	offStatus       = 0
	offRecordCount  = 1
	offDataLength   = 3
	offNextDataPage = 7
	offPrevDataPage = 15
	offNextTID      = 23
	offLSN          = 25
	offNextPage     = 33

	// HeaderSize is the number of bytes reserved at the front of every page.
	HeaderSize = 48
)

// WorkingSize is the usable data region of a page of the given size.
func WorkingSize(pageSize int) int { return pageSize - HeaderSize }

// Header is a view over the first HeaderSize bytes of a page. Writes go
// straight into the page buffer.
type Header []byte

// Init resets every field and sets the status.
func (h Header) Init(status PageStatus) {
	lsn := h.LSN()
	clear(h)
	h[offStatus] = byte(status)
	h.SetLSN(lsn)
}

func (h Header) Status() PageStatus      { return PageStatus(h[offStatus]) }
func (h Header) SetStatus(s PageStatus)  { h[offStatus] = byte(s) }
func (h Header) RecordCount() uint16     { return binary.BigEndian.Uint16(h[offRecordCount:]) }
func (h Header) SetRecordCount(n uint16) { binary.BigEndian.PutUint16(h[offRecordCount:], n) }
func (h Header) IncRecordCount()         { h.SetRecordCount(h.RecordCount() + 1) }

// DecRecordCount never goes below zero.
func (h Header) DecRecordCount() {
	if n := h.RecordCount(); n > 0 {
		h.SetRecordCount(n - 1)
	}
}

func (h Header) DataLength() int     { return int(binary.BigEndian.Uint32(h[offDataLength:])) }
func (h Header) SetDataLength(n int) { binary.BigEndian.PutUint32(h[offDataLength:], uint32(n)) }
func (h Header) NextDataPage() PageID {
	return PageID(binary.BigEndian.Uint64(h[offNextDataPage:]))
}
func (h Header) SetNextDataPage(p PageID) {
	binary.BigEndian.PutUint64(h[offNextDataPage:], uint64(p))
}
func (h Header) PrevDataPage() PageID {
	return PageID(binary.BigEndian.Uint64(h[offPrevDataPage:]))
}
func (h Header) SetPrevDataPage(p PageID) {
	binary.BigEndian.PutUint64(h[offPrevDataPage:], uint64(p))
}
func (h Header) NextTID() uint16      { return binary.BigEndian.Uint16(h[offNextTID:]) }
func (h Header) SetNextTID(id uint16) { binary.BigEndian.PutUint16(h[offNextTID:], id) }
func (h Header) LSN() LSN             { return LSN(binary.BigEndian.Uint64(h[offLSN:])) }
func (h Header) SetLSN(lsn LSN)       { binary.BigEndian.PutUint64(h[offLSN:], uint64(lsn)) }
func (h Header) NextPage() PageID     { return PageID(binary.BigEndian.Uint64(h[offNextPage:])) }
func (h Header) SetNextPage(p PageID) { binary.BigEndian.PutUint64(h[offNextPage:], uint64(p)) }

// HasRoomForTID reports whether another tuple id can still be handed out.
func (h Header) HasRoomForTID() bool { return h.NextTID() <= MaxTupleID }

// AllocateTID hands out the next tuple id of the page.
func (h Header) AllocateTID() (TID, error) {
	id := h.NextTID()
	if id > MaxTupleID {
		return 0, fmt.Errorf("tuple id overflow: next id %#x exceeds %#x", id, MaxTupleID)
	}
	h.SetNextTID(id + 1)
	return TID(id), nil
}

func (h Header) String() string {
	return fmt.Sprintf("status=%s records=%d len=%d prev=%d next=%d nextTID=%d lsn=%d nextPage=%d",
		h.Status(), h.RecordCount(), h.DataLength(), h.PrevDataPage(), h.NextDataPage(),
		h.NextTID(), h.LSN(), h.NextPage())
}

package domstore

import (
	"encoding/binary"

	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
)

// Record layout inside the data region of a page:
//
//	ordinary:  tid | len u16 | payload
//	overflow:  tid | 0 u16 | firstPage u64
//	link:      tid|L | forward address u64
//	relocated: tid|R | len u16 | backLink u64 | payload (or firstPage when len is 0)
const (
	tidLen     = 2
	lengthLen  = 2
	addressLen = 8

	linkRecordSize = tidLen + addressLen
	// overflowPtrLen is the size of the first-page pointer of an overflow marker.
	overflowPtrLen = 8
)

// record is a parsed view of one record of a page.
type record struct {
	offset     int // start of the tid
	tid        pagemanager.TID
	length     int // length field; 0 marks an overflow value
	backLink   pagemanager.Address
	link       pagemanager.Address
	overflow   pagemanager.PageID
	payloadOff int // start of the payload or of the overflow pointer
	end        int // first byte after the record
}

func (r record) isLink() bool     { return r.tid.IsLink() }
func (r record) isOverflow() bool { return !r.tid.IsLink() && r.length == 0 }

// value returns the stored value bytes: the payload, or the 8-byte overflow
// pointer for an overflow marker. It aliases body.
func (r record) value(body []byte) []byte {
	if r.isOverflow() {
		return body[r.payloadOff : r.payloadOff+overflowPtrLen]
	}
	return body[r.payloadOff : r.payloadOff+r.length]
}

func (r record) size() int { return r.end - r.offset }

// parseRecord reads the record starting at off. Every field must lie inside
// the first dataLen bytes of body.
func (s *Store) parseRecord(page pagemanager.PageID, body []byte, dataLen, off int) (record, error) {
	if dataLen > len(body) {
		return record{}, s.corrupt(page, 0, "data length %d exceeds working size %d", dataLen, len(body))
	}
	if off < 0 || off+tidLen > dataLen {
		return record{}, s.corrupt(page, 0, "record offset %d outside data length %d", off, dataLen)
	}
	r := record{offset: off, tid: pagemanager.TID(binary.BigEndian.Uint16(body[off:]))}
	p := off + tidLen
	if r.tid.IsLink() {
		if p+addressLen > dataLen {
			return record{}, s.corrupt(page, r.tid, "truncated link at offset %d", off)
		}
		r.link = pagemanager.Address(binary.BigEndian.Uint64(body[p:]))
		r.end = p + addressLen
		return r, nil
	}
	if p+lengthLen > dataLen {
		return record{}, s.corrupt(page, r.tid, "truncated length at offset %d", off)
	}
	r.length = int(binary.BigEndian.Uint16(body[p:]))
	p += lengthLen
	if r.tid.IsRelocated() {
		if p+addressLen > dataLen {
			return record{}, s.corrupt(page, r.tid, "truncated back-link at offset %d", off)
		}
		r.backLink = pagemanager.Address(binary.BigEndian.Uint64(body[p:]))
		p += addressLen
	}
	r.payloadOff = p
	if r.length == 0 {
		if p+overflowPtrLen > dataLen {
			return record{}, s.corrupt(page, r.tid, "truncated overflow pointer at offset %d", off)
		}
		r.overflow = pagemanager.PageID(binary.BigEndian.Uint64(body[p:]))
		r.end = p + overflowPtrLen
		return r, nil
	}
	if p+r.length > dataLen {
		return record{}, s.corrupt(page, r.tid, "record of %d bytes at offset %d overruns data length %d", r.length, off, dataLen)
	}
	r.end = p + r.length
	return r, nil
}

// findInPage looks up tid (flags ignored) among the records of p.
func (s *Store) findInPage(p *pagemanager.Page, tid pagemanager.TID) (record, bool, error) {
	body := p.Body()
	dataLen := p.Header().DataLength()
	for off := 0; off < dataLen; {
		r, err := s.parseRecord(p.GetPageID(), body, dataLen, off)
		if err != nil {
			return record{}, false, err
		}
		if r.tid.Matches(tid) {
			return r, true, nil
		}
		off = r.end
	}
	return record{}, false, nil
}

// recordOffsetOf returns the offset of the record with exactly tid (flags
// included) or -1.
func (s *Store) recordOffsetOf(p *pagemanager.Page, tid pagemanager.TID) (int, error) {
	body := p.Body()
	dataLen := p.Header().DataLength()
	for off := 0; off < dataLen; {
		r, err := s.parseRecord(p.GetPageID(), body, dataLen, off)
		if err != nil {
			return -1, err
		}
		if r.tid == tid {
			return off, nil
		}
		off = r.end
	}
	return -1, nil
}

// valueRecordSize is the encoded size of a value record. For overflow values
// value is the 8-byte pointer.
func valueRecordSize(relocated bool, valueLen int) int {
	n := tidLen + lengthLen + valueLen
	if relocated {
		n += addressLen
	}
	return n
}

// encodeValueRecord builds an ordinary, overflow or relocated record. A
// relocated tid puts backLink in front of the value.
func encodeValueRecord(tid pagemanager.TID, isOverflow bool, backLink pagemanager.Address, value []byte) []byte {
	out := make([]byte, 0, valueRecordSize(tid.IsRelocated(), len(value)))
	out = binary.BigEndian.AppendUint16(out, uint16(tid))
	if isOverflow {
		out = binary.BigEndian.AppendUint16(out, 0)
	} else {
		out = binary.BigEndian.AppendUint16(out, uint16(len(value)))
	}
	if tid.IsRelocated() {
		out = binary.BigEndian.AppendUint64(out, uint64(backLink))
	}
	return append(out, value...)
}

func encodeLinkRecord(tid pagemanager.TID, forward pagemanager.Address) []byte {
	out := make([]byte, 0, linkRecordSize)
	out = binary.BigEndian.AppendUint16(out, uint16(tid.WithLink()))
	return binary.BigEndian.AppendUint64(out, uint64(forward))
}

func overflowPointer(first pagemanager.PageID) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, overflowPtrLen), uint64(first))
}

// insertRaw places rec at off, shifting the bytes behind it.
func insertRaw(p *pagemanager.Page, off int, rec []byte) {
	h := p.Header()
	body := p.Body()
	dataLen := h.DataLength()
	copy(body[off+len(rec):dataLen+len(rec)], body[off:dataLen])
	copy(body[off:], rec)
	h.SetDataLength(dataLen + len(rec))
}

// removeRaw cuts n bytes at off and clears the freed tail.
func removeRaw(p *pagemanager.Page, off, n int) {
	h := p.Header()
	body := p.Body()
	dataLen := h.DataLength()
	copy(body[off:], body[off+n:dataLen])
	clear(body[dataLen-n : dataLen])
	h.SetDataLength(dataLen - n)
}

func freeSpace(p *pagemanager.Page) int {
	return len(p.Body()) - p.Header().DataLength()
}

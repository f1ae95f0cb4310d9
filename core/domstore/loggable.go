package domstore

import (
	"encoding/binary"
	"fmt"

	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"github.com/sushant-115/domstore/core/write_engine/wal"
)

// Journal entry types of the store. Every entry touches exactly one page.
const (
	EntryCreatePage      wal.EntryType = 0x10
	EntryAddValue        wal.EntryType = 0x11
	EntryRemoveValue     wal.EntryType = 0x12
	EntryRemoveEmptyPage wal.EntryType = 0x13
	EntryUpdateValue     wal.EntryType = 0x14
	EntryRemovePage      wal.EntryType = 0x15
	EntryWriteOverflow   wal.EntryType = 0x16
	EntryRemoveOverflow  wal.EntryType = 0x17
	EntryInsertValue     wal.EntryType = 0x18
	EntrySplitPage       wal.EntryType = 0x19
	EntryAddLink         wal.EntryType = 0x1A
	EntryAddMovedValue   wal.EntryType = 0x1B
	EntryUpdateHeader    wal.EntryType = 0x1C
	EntryUpdateLink      wal.EntryType = 0x1D
	// EntryRolledBack marks a transaction whose changes recovery has undone.
	EntryRolledBack wal.EntryType = 0x1F
)

var registry = wal.NewRegistry[*Store]()

func init() {
	registry.Register(EntryCreatePage, "create-page", func() wal.Loggable[*Store] { return &createPageEntry{} })
	registry.Register(EntryAddValue, "add-value", func() wal.Loggable[*Store] { return &addValueEntry{} })
	registry.Register(EntryRemoveValue, "remove-value", func() wal.Loggable[*Store] { return &removeValueEntry{} })
	registry.Register(EntryRemoveEmptyPage, "remove-empty-page", func() wal.Loggable[*Store] { return &removeEmptyPageEntry{} })
	registry.Register(EntryUpdateValue, "update-value", func() wal.Loggable[*Store] { return &updateValueEntry{} })
	registry.Register(EntryRemovePage, "remove-page", func() wal.Loggable[*Store] { return &removePageEntry{} })
	registry.Register(EntryWriteOverflow, "write-overflow", func() wal.Loggable[*Store] { return &writeOverflowEntry{} })
	registry.Register(EntryRemoveOverflow, "remove-overflow", func() wal.Loggable[*Store] { return &removeOverflowEntry{} })
	registry.Register(EntryInsertValue, "insert-value", func() wal.Loggable[*Store] { return &insertValueEntry{} })
	registry.Register(EntrySplitPage, "split-page", func() wal.Loggable[*Store] { return &splitPageEntry{} })
	registry.Register(EntryAddLink, "add-link", func() wal.Loggable[*Store] { return &addLinkEntry{} })
	registry.Register(EntryAddMovedValue, "add-moved-value", func() wal.Loggable[*Store] { return &addMovedValueEntry{} })
	registry.Register(EntryUpdateHeader, "update-header", func() wal.Loggable[*Store] { return &updateHeaderEntry{} })
	registry.Register(EntryUpdateLink, "update-link", func() wal.Loggable[*Store] { return &updateLinkEntry{} })
	registry.Register(EntryRolledBack, "rolled-back", func() wal.Loggable[*Store] { return &rolledBackEntry{} })
}

// storeEntry is a loggable bound to a single page. apply and revert work on
// the page bytes only; redo, undo and the live path handle pinning and LSNs.
type storeEntry interface {
	wal.Loggable[*Store]
	pageID() pagemanager.PageID
	apply(s *Store, p *pagemanager.Page) error
	revert(s *Store, p *pagemanager.Page) error
}

type pageEntry struct {
	wal.EntryBase
	Page pagemanager.PageID
}

func (e *pageEntry) pageID() pagemanager.PageID { return e.Page }

func (e *pageEntry) prefix(t wal.EntryType) string {
	return fmt.Sprintf("[%s] txn=%d lsn=%d page=%d", t, e.Txn, e.Lsn, e.Page)
}

func putBytes(enc *wal.Encoder, b []byte) {
	enc.U32(uint32(len(b)))
	enc.Raw(b)
}

func getBytes(d *wal.Decoder) []byte {
	n := d.U32()
	if d.Err() != nil {
		return nil
	}
	return d.Raw(int(n))
}

func zeroPage(p *pagemanager.Page) {
	p.Header().Init(pagemanager.StatusUnused)
	clear(p.Body())
}

func raiseNextTID(h pagemanager.Header, tid pagemanager.TID) {
	if h.NextTID() <= tid.ID() {
		h.SetNextTID(tid.ID() + 1)
	}
}

func lowerNextTID(h pagemanager.Header, tid pagemanager.TID) {
	if h.NextTID() == tid.ID()+1 {
		h.SetNextTID(tid.ID())
	}
}

func (s *Store) room(p *pagemanager.Page, n int) error {
	if freeSpace(p) < n {
		return s.corrupt(p.GetPageID(), 0, "record of %d bytes does not fit, %d bytes free", n, freeSpace(p))
	}
	return nil
}

// removeExact cuts the record whose tid, flags included, equals tid.
func (s *Store) removeExact(p *pagemanager.Page, tid pagemanager.TID) error {
	off, err := s.recordOffsetOf(p, tid)
	if err != nil {
		return err
	}
	if off < 0 {
		return s.corrupt(p.GetPageID(), tid, "record to remove is missing")
	}
	r, err := s.parseRecord(p.GetPageID(), p.Body(), p.Header().DataLength(), off)
	if err != nil {
		return err
	}
	removeRaw(p, off, r.size())
	p.Header().DecRecordCount()
	return nil
}

// ---- create page ----

type createPageEntry struct {
	pageEntry
	Prev, Next pagemanager.PageID
	NextTID    uint16
}

func (e *createPageEntry) EntryType() wal.EntryType { return EntryCreatePage }
func (e *createPageEntry) LogSize() int             { return 8 + 8 + 8 + 2 }
func (e *createPageEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U64(uint64(e.Prev))
	enc.U64(uint64(e.Next))
	enc.U16(e.NextTID)
}
func (e *createPageEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.Prev = pagemanager.PageID(d.U64())
	e.Next = pagemanager.PageID(d.U64())
	e.NextTID = d.U16()
	return d.Err()
}
func (e *createPageEntry) Dump() string {
	return fmt.Sprintf("%s prev=%d next=%d nextTID=%d", e.prefix(EntryCreatePage), e.Prev, e.Next, e.NextTID)
}
func (e *createPageEntry) apply(_ *Store, p *pagemanager.Page) error {
	clear(p.Body())
	h := p.Header()
	h.Init(pagemanager.StatusRecord)
	h.SetPrevDataPage(e.Prev)
	h.SetNextDataPage(e.Next)
	h.SetNextTID(e.NextTID)
	return nil
}
func (e *createPageEntry) revert(_ *Store, p *pagemanager.Page) error {
	zeroPage(p)
	return nil
}
func (e *createPageEntry) Redo(s *Store) error { return s.redo(e) }
func (e *createPageEntry) Undo(s *Store) error { return s.undo(e) }

// ---- add value ----

type addValueEntry struct {
	pageEntry
	TID        pagemanager.TID
	IsOverflow bool
	Value      []byte
}

func (e *addValueEntry) EntryType() wal.EntryType { return EntryAddValue }
func (e *addValueEntry) LogSize() int             { return 8 + 2 + 1 + 4 + len(e.Value) }
func (e *addValueEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U16(uint16(e.TID))
	enc.Bool(e.IsOverflow)
	putBytes(enc, e.Value)
}
func (e *addValueEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.TID = pagemanager.TID(d.U16())
	e.IsOverflow = d.Bool()
	e.Value = getBytes(d)
	return d.Err()
}
func (e *addValueEntry) Dump() string {
	return fmt.Sprintf("%s tid=%s overflow=%t len=%d", e.prefix(EntryAddValue), e.TID, e.IsOverflow, len(e.Value))
}
func (e *addValueEntry) apply(s *Store, p *pagemanager.Page) error {
	rec := encodeValueRecord(e.TID, e.IsOverflow, 0, e.Value)
	if err := s.room(p, len(rec)); err != nil {
		return err
	}
	h := p.Header()
	insertRaw(p, h.DataLength(), rec)
	h.IncRecordCount()
	raiseNextTID(h, e.TID)
	return nil
}
func (e *addValueEntry) revert(s *Store, p *pagemanager.Page) error {
	if err := s.removeExact(p, e.TID); err != nil {
		return err
	}
	lowerNextTID(p.Header(), e.TID)
	return nil
}
func (e *addValueEntry) Redo(s *Store) error { return s.redo(e) }
func (e *addValueEntry) Undo(s *Store) error { return s.undo(e) }

// ---- remove value ----

// removeValueEntry removes a value or link record. OldData holds the value
// (or the 8-byte forward address of a link) for undo.
type removeValueEntry struct {
	pageEntry
	TID        pagemanager.TID
	Offset     int
	IsOverflow bool
	BackLink   pagemanager.Address
	OldData    []byte
}

func (e *removeValueEntry) EntryType() wal.EntryType { return EntryRemoveValue }
func (e *removeValueEntry) LogSize() int             { return 8 + 2 + 4 + 1 + 8 + 4 + len(e.OldData) }
func (e *removeValueEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U16(uint16(e.TID))
	enc.U32(uint32(e.Offset))
	enc.Bool(e.IsOverflow)
	enc.U64(uint64(e.BackLink))
	putBytes(enc, e.OldData)
}
func (e *removeValueEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.TID = pagemanager.TID(d.U16())
	e.Offset = int(d.U32())
	e.IsOverflow = d.Bool()
	e.BackLink = pagemanager.Address(d.U64())
	e.OldData = getBytes(d)
	return d.Err()
}
func (e *removeValueEntry) Dump() string {
	return fmt.Sprintf("%s tid=%s offset=%d overflow=%t backLink=%s len=%d",
		e.prefix(EntryRemoveValue), e.TID, e.Offset, e.IsOverflow, e.BackLink, len(e.OldData))
}
func (e *removeValueEntry) encoded() []byte {
	if e.TID.IsLink() && len(e.OldData) == addressLen {
		return encodeLinkRecord(e.TID, pagemanager.Address(binary.BigEndian.Uint64(e.OldData)))
	}
	return encodeValueRecord(e.TID, e.IsOverflow, e.BackLink, e.OldData)
}
func (e *removeValueEntry) apply(s *Store, p *pagemanager.Page) error {
	return s.removeExact(p, e.TID)
}
func (e *removeValueEntry) revert(s *Store, p *pagemanager.Page) error {
	rec := e.encoded()
	if err := s.room(p, len(rec)); err != nil {
		return err
	}
	if e.Offset > p.Header().DataLength() {
		return s.corrupt(p.GetPageID(), e.TID, "reinsert offset %d beyond data length %d", e.Offset, p.Header().DataLength())
	}
	insertRaw(p, e.Offset, rec)
	p.Header().IncRecordCount()
	return nil
}
func (e *removeValueEntry) Redo(s *Store) error { return s.redo(e) }
func (e *removeValueEntry) Undo(s *Store) error { return s.undo(e) }

// ---- remove empty page ----

type removeEmptyPageEntry struct {
	pageEntry
	Prev, Next pagemanager.PageID
	NextTID    uint16
}

func (e *removeEmptyPageEntry) EntryType() wal.EntryType { return EntryRemoveEmptyPage }
func (e *removeEmptyPageEntry) LogSize() int             { return 8 + 8 + 8 + 2 }
func (e *removeEmptyPageEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U64(uint64(e.Prev))
	enc.U64(uint64(e.Next))
	enc.U16(e.NextTID)
}
func (e *removeEmptyPageEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.Prev = pagemanager.PageID(d.U64())
	e.Next = pagemanager.PageID(d.U64())
	e.NextTID = d.U16()
	return d.Err()
}
func (e *removeEmptyPageEntry) Dump() string {
	return fmt.Sprintf("%s prev=%d next=%d nextTID=%d", e.prefix(EntryRemoveEmptyPage), e.Prev, e.Next, e.NextTID)
}
func (e *removeEmptyPageEntry) apply(_ *Store, p *pagemanager.Page) error {
	zeroPage(p)
	return nil
}
func (e *removeEmptyPageEntry) revert(_ *Store, p *pagemanager.Page) error {
	clear(p.Body())
	h := p.Header()
	h.Init(pagemanager.StatusRecord)
	h.SetPrevDataPage(e.Prev)
	h.SetNextDataPage(e.Next)
	h.SetNextTID(e.NextTID)
	return nil
}
func (e *removeEmptyPageEntry) Redo(s *Store) error { return s.redo(e) }
func (e *removeEmptyPageEntry) Undo(s *Store) error { return s.undo(e) }

// ---- update value ----

type updateValueEntry struct {
	pageEntry
	TID      pagemanager.TID
	Value    []byte
	OldValue []byte
}

func (e *updateValueEntry) EntryType() wal.EntryType { return EntryUpdateValue }
func (e *updateValueEntry) LogSize() int             { return 8 + 2 + 4 + len(e.Value) + 4 + len(e.OldValue) }
func (e *updateValueEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U16(uint16(e.TID))
	putBytes(enc, e.Value)
	putBytes(enc, e.OldValue)
}
func (e *updateValueEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.TID = pagemanager.TID(d.U16())
	e.Value = getBytes(d)
	e.OldValue = getBytes(d)
	return d.Err()
}
func (e *updateValueEntry) Dump() string {
	return fmt.Sprintf("%s tid=%s len=%d", e.prefix(EntryUpdateValue), e.TID, len(e.Value))
}
func (e *updateValueEntry) overwrite(s *Store, p *pagemanager.Page, v []byte) error {
	r, ok, err := s.findInPage(p, e.TID)
	if err != nil {
		return err
	}
	if !ok || r.isLink() || r.isOverflow() || r.length != len(v) {
		return s.corrupt(p.GetPageID(), e.TID, "no value record of %d bytes to overwrite", len(v))
	}
	copy(r.value(p.Body()), v)
	return nil
}
func (e *updateValueEntry) apply(s *Store, p *pagemanager.Page) error {
	return e.overwrite(s, p, e.Value)
}
func (e *updateValueEntry) revert(s *Store, p *pagemanager.Page) error {
	return e.overwrite(s, p, e.OldValue)
}
func (e *updateValueEntry) Redo(s *Store) error { return s.redo(e) }
func (e *updateValueEntry) Undo(s *Store) error { return s.undo(e) }

// ---- remove page ----

type removePageEntry struct {
	pageEntry
	Prev, Next  pagemanager.PageID
	NextTID     uint16
	RecordCount uint16
	OldData     []byte
}

func (e *removePageEntry) EntryType() wal.EntryType { return EntryRemovePage }
func (e *removePageEntry) LogSize() int             { return 8 + 8 + 8 + 2 + 2 + 4 + len(e.OldData) }
func (e *removePageEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U64(uint64(e.Prev))
	enc.U64(uint64(e.Next))
	enc.U16(e.NextTID)
	enc.U16(e.RecordCount)
	putBytes(enc, e.OldData)
}
func (e *removePageEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.Prev = pagemanager.PageID(d.U64())
	e.Next = pagemanager.PageID(d.U64())
	e.NextTID = d.U16()
	e.RecordCount = d.U16()
	e.OldData = getBytes(d)
	return d.Err()
}
func (e *removePageEntry) Dump() string {
	return fmt.Sprintf("%s prev=%d next=%d records=%d len=%d",
		e.prefix(EntryRemovePage), e.Prev, e.Next, e.RecordCount, len(e.OldData))
}
func (e *removePageEntry) apply(_ *Store, p *pagemanager.Page) error {
	zeroPage(p)
	return nil
}
func (e *removePageEntry) revert(s *Store, p *pagemanager.Page) error {
	if len(e.OldData) > len(p.Body()) {
		return s.corrupt(p.GetPageID(), 0, "saved page data of %d bytes exceeds working size", len(e.OldData))
	}
	clear(p.Body())
	h := p.Header()
	h.Init(pagemanager.StatusRecord)
	h.SetPrevDataPage(e.Prev)
	h.SetNextDataPage(e.Next)
	h.SetNextTID(e.NextTID)
	h.SetRecordCount(e.RecordCount)
	copy(p.Body(), e.OldData)
	h.SetDataLength(len(e.OldData))
	return nil
}
func (e *removePageEntry) Redo(s *Store) error { return s.redo(e) }
func (e *removePageEntry) Undo(s *Store) error { return s.undo(e) }

// ---- overflow chunks ----

type writeOverflowEntry struct {
	pageEntry
	NextPage pagemanager.PageID
	Chunk    []byte
}

func (e *writeOverflowEntry) EntryType() wal.EntryType { return EntryWriteOverflow }
func (e *writeOverflowEntry) LogSize() int             { return 8 + 8 + 4 + len(e.Chunk) }
func (e *writeOverflowEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U64(uint64(e.NextPage))
	putBytes(enc, e.Chunk)
}
func (e *writeOverflowEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.NextPage = pagemanager.PageID(d.U64())
	e.Chunk = getBytes(d)
	return d.Err()
}
func (e *writeOverflowEntry) Dump() string {
	return fmt.Sprintf("%s nextPage=%d len=%d", e.prefix(EntryWriteOverflow), e.NextPage, len(e.Chunk))
}
func (e *writeOverflowEntry) apply(s *Store, p *pagemanager.Page) error {
	return writeChunk(s, p, e.NextPage, e.Chunk)
}
func (e *writeOverflowEntry) revert(_ *Store, p *pagemanager.Page) error {
	zeroPage(p)
	return nil
}
func (e *writeOverflowEntry) Redo(s *Store) error { return s.redo(e) }
func (e *writeOverflowEntry) Undo(s *Store) error { return s.undo(e) }

func writeChunk(s *Store, p *pagemanager.Page, next pagemanager.PageID, chunk []byte) error {
	if len(chunk) > len(p.Body()) {
		return s.corrupt(p.GetPageID(), 0, "overflow chunk of %d bytes exceeds working size", len(chunk))
	}
	clear(p.Body())
	h := p.Header()
	h.Init(pagemanager.StatusOverflow)
	h.SetNextPage(next)
	copy(p.Body(), chunk)
	h.SetDataLength(len(chunk))
	return nil
}

type removeOverflowEntry struct {
	pageEntry
	NextPage pagemanager.PageID
	OldData  []byte
}

func (e *removeOverflowEntry) EntryType() wal.EntryType { return EntryRemoveOverflow }
func (e *removeOverflowEntry) LogSize() int             { return 8 + 8 + 4 + len(e.OldData) }
func (e *removeOverflowEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U64(uint64(e.NextPage))
	putBytes(enc, e.OldData)
}
func (e *removeOverflowEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.NextPage = pagemanager.PageID(d.U64())
	e.OldData = getBytes(d)
	return d.Err()
}
func (e *removeOverflowEntry) Dump() string {
	return fmt.Sprintf("%s nextPage=%d len=%d", e.prefix(EntryRemoveOverflow), e.NextPage, len(e.OldData))
}
func (e *removeOverflowEntry) apply(_ *Store, p *pagemanager.Page) error {
	zeroPage(p)
	return nil
}
func (e *removeOverflowEntry) revert(s *Store, p *pagemanager.Page) error {
	return writeChunk(s, p, e.NextPage, e.OldData)
}
func (e *removeOverflowEntry) Redo(s *Store) error { return s.redo(e) }
func (e *removeOverflowEntry) Undo(s *Store) error { return s.undo(e) }

// ---- insert value ----

type insertValueEntry struct {
	pageEntry
	TID        pagemanager.TID
	IsOverflow bool
	Offset     int
	Value      []byte
}

func (e *insertValueEntry) EntryType() wal.EntryType { return EntryInsertValue }
func (e *insertValueEntry) LogSize() int             { return 8 + 2 + 1 + 4 + 4 + len(e.Value) }
func (e *insertValueEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U16(uint16(e.TID))
	enc.Bool(e.IsOverflow)
	enc.U32(uint32(e.Offset))
	putBytes(enc, e.Value)
}
func (e *insertValueEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.TID = pagemanager.TID(d.U16())
	e.IsOverflow = d.Bool()
	e.Offset = int(d.U32())
	e.Value = getBytes(d)
	return d.Err()
}
func (e *insertValueEntry) Dump() string {
	return fmt.Sprintf("%s tid=%s offset=%d overflow=%t len=%d",
		e.prefix(EntryInsertValue), e.TID, e.Offset, e.IsOverflow, len(e.Value))
}
func (e *insertValueEntry) apply(s *Store, p *pagemanager.Page) error {
	rec := encodeValueRecord(e.TID, e.IsOverflow, 0, e.Value)
	if err := s.room(p, len(rec)); err != nil {
		return err
	}
	h := p.Header()
	if e.Offset > h.DataLength() {
		return s.corrupt(p.GetPageID(), e.TID, "insert offset %d beyond data length %d", e.Offset, h.DataLength())
	}
	insertRaw(p, e.Offset, rec)
	h.IncRecordCount()
	raiseNextTID(h, e.TID)
	return nil
}
func (e *insertValueEntry) revert(s *Store, p *pagemanager.Page) error {
	h := p.Header()
	r, err := s.parseRecord(p.GetPageID(), p.Body(), h.DataLength(), e.Offset)
	if err != nil {
		return err
	}
	if r.tid != e.TID {
		return s.corrupt(p.GetPageID(), e.TID, "found tid %s at insert offset %d", r.tid, e.Offset)
	}
	removeRaw(p, e.Offset, r.size())
	h.DecRecordCount()
	lowerNextTID(h, e.TID)
	return nil
}
func (e *insertValueEntry) Redo(s *Store) error { return s.redo(e) }
func (e *insertValueEntry) Undo(s *Store) error { return s.undo(e) }

// ---- split page ----

// splitPageEntry truncates a page at SplitOffset. The cut bytes are kept for
// undo; the moved records are logged separately on their new pages.
type splitPageEntry struct {
	pageEntry
	SplitOffset    int
	OldRecordCount uint16
	NewRecordCount uint16
	OldData        []byte
}

func (e *splitPageEntry) EntryType() wal.EntryType { return EntrySplitPage }
func (e *splitPageEntry) LogSize() int             { return 8 + 4 + 2 + 2 + 4 + len(e.OldData) }
func (e *splitPageEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U32(uint32(e.SplitOffset))
	enc.U16(e.OldRecordCount)
	enc.U16(e.NewRecordCount)
	putBytes(enc, e.OldData)
}
func (e *splitPageEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.SplitOffset = int(d.U32())
	e.OldRecordCount = d.U16()
	e.NewRecordCount = d.U16()
	e.OldData = getBytes(d)
	return d.Err()
}
func (e *splitPageEntry) Dump() string {
	return fmt.Sprintf("%s splitOffset=%d records=%d->%d cut=%d",
		e.prefix(EntrySplitPage), e.SplitOffset, e.OldRecordCount, e.NewRecordCount, len(e.OldData))
}
func (e *splitPageEntry) apply(s *Store, p *pagemanager.Page) error {
	h := p.Header()
	dataLen := h.DataLength()
	if e.SplitOffset > dataLen {
		return s.corrupt(p.GetPageID(), 0, "split offset %d beyond data length %d", e.SplitOffset, dataLen)
	}
	clear(p.Body()[e.SplitOffset:dataLen])
	h.SetDataLength(e.SplitOffset)
	h.SetRecordCount(e.NewRecordCount)
	return nil
}
func (e *splitPageEntry) revert(s *Store, p *pagemanager.Page) error {
	if e.SplitOffset+len(e.OldData) > len(p.Body()) {
		return s.corrupt(p.GetPageID(), 0, "split data of %d bytes at %d exceeds working size", len(e.OldData), e.SplitOffset)
	}
	h := p.Header()
	copy(p.Body()[e.SplitOffset:], e.OldData)
	h.SetDataLength(e.SplitOffset + len(e.OldData))
	h.SetRecordCount(e.OldRecordCount)
	return nil
}
func (e *splitPageEntry) Redo(s *Store) error { return s.redo(e) }
func (e *splitPageEntry) Undo(s *Store) error { return s.undo(e) }

// ---- links ----

type addLinkEntry struct {
	pageEntry
	TID  pagemanager.TID
	Link pagemanager.Address
}

func (e *addLinkEntry) EntryType() wal.EntryType { return EntryAddLink }
func (e *addLinkEntry) LogSize() int             { return 8 + 2 + 8 }
func (e *addLinkEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U16(uint16(e.TID))
	enc.U64(uint64(e.Link))
}
func (e *addLinkEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.TID = pagemanager.TID(d.U16())
	e.Link = pagemanager.Address(d.U64())
	return d.Err()
}
func (e *addLinkEntry) Dump() string {
	return fmt.Sprintf("%s tid=%s link=%s", e.prefix(EntryAddLink), e.TID, e.Link)
}
func (e *addLinkEntry) apply(s *Store, p *pagemanager.Page) error {
	if err := s.room(p, linkRecordSize); err != nil {
		return err
	}
	h := p.Header()
	insertRaw(p, h.DataLength(), encodeLinkRecord(e.TID, e.Link))
	h.IncRecordCount()
	return nil
}
func (e *addLinkEntry) revert(s *Store, p *pagemanager.Page) error {
	return s.removeExact(p, e.TID.WithLink())
}
func (e *addLinkEntry) Redo(s *Store) error { return s.redo(e) }
func (e *addLinkEntry) Undo(s *Store) error { return s.undo(e) }

type updateLinkEntry struct {
	pageEntry
	// Offset of the forward address inside the data region.
	Offset        int
	Link, OldLink pagemanager.Address
}

func (e *updateLinkEntry) EntryType() wal.EntryType { return EntryUpdateLink }
func (e *updateLinkEntry) LogSize() int             { return 8 + 4 + 8 + 8 }
func (e *updateLinkEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U32(uint32(e.Offset))
	enc.U64(uint64(e.Link))
	enc.U64(uint64(e.OldLink))
}
func (e *updateLinkEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.Offset = int(d.U32())
	e.Link = pagemanager.Address(d.U64())
	e.OldLink = pagemanager.Address(d.U64())
	return d.Err()
}
func (e *updateLinkEntry) Dump() string {
	return fmt.Sprintf("%s offset=%d link=%s old=%s", e.prefix(EntryUpdateLink), e.Offset, e.Link, e.OldLink)
}
func (e *updateLinkEntry) write(s *Store, p *pagemanager.Page, a pagemanager.Address) error {
	if e.Offset+addressLen > p.Header().DataLength() {
		return s.corrupt(p.GetPageID(), 0, "link offset %d beyond data length %d", e.Offset, p.Header().DataLength())
	}
	binary.BigEndian.PutUint64(p.Body()[e.Offset:], uint64(a))
	return nil
}
func (e *updateLinkEntry) apply(s *Store, p *pagemanager.Page) error {
	return e.write(s, p, e.Link)
}
func (e *updateLinkEntry) revert(s *Store, p *pagemanager.Page) error {
	return e.write(s, p, e.OldLink)
}
func (e *updateLinkEntry) Redo(s *Store) error { return s.redo(e) }
func (e *updateLinkEntry) Undo(s *Store) error { return s.undo(e) }

// ---- moved value ----

// addMovedValueEntry appends a relocated copy of a value to a split page. TID
// carries the relocated flag.
type addMovedValueEntry struct {
	pageEntry
	TID        pagemanager.TID
	IsOverflow bool
	BackLink   pagemanager.Address
	Value      []byte
}

func (e *addMovedValueEntry) EntryType() wal.EntryType { return EntryAddMovedValue }
func (e *addMovedValueEntry) LogSize() int             { return 8 + 2 + 1 + 8 + 4 + len(e.Value) }
func (e *addMovedValueEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U16(uint16(e.TID))
	enc.Bool(e.IsOverflow)
	enc.U64(uint64(e.BackLink))
	putBytes(enc, e.Value)
}
func (e *addMovedValueEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.TID = pagemanager.TID(d.U16())
	e.IsOverflow = d.Bool()
	e.BackLink = pagemanager.Address(d.U64())
	e.Value = getBytes(d)
	return d.Err()
}
func (e *addMovedValueEntry) Dump() string {
	return fmt.Sprintf("%s tid=%s overflow=%t backLink=%s len=%d",
		e.prefix(EntryAddMovedValue), e.TID, e.IsOverflow, e.BackLink, len(e.Value))
}
func (e *addMovedValueEntry) apply(s *Store, p *pagemanager.Page) error {
	rec := encodeValueRecord(e.TID, e.IsOverflow, e.BackLink, e.Value)
	if err := s.room(p, len(rec)); err != nil {
		return err
	}
	h := p.Header()
	insertRaw(p, h.DataLength(), rec)
	h.IncRecordCount()
	return nil
}
func (e *addMovedValueEntry) revert(s *Store, p *pagemanager.Page) error {
	return s.removeExact(p, e.TID)
}
func (e *addMovedValueEntry) Redo(s *Store) error { return s.redo(e) }
func (e *addMovedValueEntry) Undo(s *Store) error { return s.undo(e) }

// ---- header ----

type updateHeaderEntry struct {
	pageEntry
	NewPrev, NewNext pagemanager.PageID
	OldPrev, OldNext pagemanager.PageID
}

func (e *updateHeaderEntry) EntryType() wal.EntryType { return EntryUpdateHeader }
func (e *updateHeaderEntry) LogSize() int             { return 8 * 5 }
func (e *updateHeaderEntry) Encode(enc *wal.Encoder) {
	enc.U64(uint64(e.Page))
	enc.U64(uint64(e.NewPrev))
	enc.U64(uint64(e.NewNext))
	enc.U64(uint64(e.OldPrev))
	enc.U64(uint64(e.OldNext))
}
func (e *updateHeaderEntry) Decode(d *wal.Decoder) error {
	e.Page = pagemanager.PageID(d.U64())
	e.NewPrev = pagemanager.PageID(d.U64())
	e.NewNext = pagemanager.PageID(d.U64())
	e.OldPrev = pagemanager.PageID(d.U64())
	e.OldNext = pagemanager.PageID(d.U64())
	return d.Err()
}
func (e *updateHeaderEntry) Dump() string {
	return fmt.Sprintf("%s prev=%d->%d next=%d->%d", e.prefix(EntryUpdateHeader), e.OldPrev, e.NewPrev, e.OldNext, e.NewNext)
}
func (e *updateHeaderEntry) apply(_ *Store, p *pagemanager.Page) error {
	p.Header().SetPrevDataPage(e.NewPrev)
	p.Header().SetNextDataPage(e.NewNext)
	return nil
}
func (e *updateHeaderEntry) revert(_ *Store, p *pagemanager.Page) error {
	p.Header().SetPrevDataPage(e.OldPrev)
	p.Header().SetNextDataPage(e.OldNext)
	return nil
}
func (e *updateHeaderEntry) Redo(s *Store) error { return s.redo(e) }
func (e *updateHeaderEntry) Undo(s *Store) error { return s.undo(e) }

// ---- rollback marker ----

// rolledBackEntry is written by recovery after it undid a transaction, so a
// later recovery does not undo it again. It touches no page.
type rolledBackEntry struct {
	wal.EntryBase
}

func (e *rolledBackEntry) EntryType() wal.EntryType    { return EntryRolledBack }
func (e *rolledBackEntry) LogSize() int                { return 0 }
func (e *rolledBackEntry) Encode(*wal.Encoder)         {}
func (e *rolledBackEntry) Decode(d *wal.Decoder) error { return d.Err() }
func (e *rolledBackEntry) Dump() string {
	return fmt.Sprintf("[%s] txn=%d lsn=%d", EntryRolledBack, e.Txn, e.Lsn)
}
func (e *rolledBackEntry) Redo(*Store) error { return nil }
func (e *rolledBackEntry) Undo(*Store) error { return nil }

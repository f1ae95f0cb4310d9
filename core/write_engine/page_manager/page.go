package pagemanager

import (
	"container/list"
)

// Page 0 holds the file header, so it never names a data page.
const InvalidPageID PageID = 0

// LSN is the position of a journal entry. Zero means "never logged".
type LSN uint64

const InvalidLSN LSN = 0

// PageID is the number of a page in the data file.
type PageID uint64

// Page is one buffer pool frame holding an in-memory copy of a disk page.
// The header of a store page lives inside data (see Header); lsn mirrors the
// persisted LSN so the buffer pool can order write-back against the journal.
// Frames are guarded by the buffer pool and the store lock, not by a latch of
// their own.
type Page struct {
	id       PageID
	data     []byte
	pinCount uint32
	isDirty  bool
	lsn      LSN

	lruElement *list.Element
}

func NewPage(id PageID, size int) *Page {
	return &Page{id: id, data: make([]byte, size)}
}

// Reset clears the frame so it can host another page.
func (p *Page) Reset() {
	p.id = InvalidPageID
	p.pinCount = 0
	p.isDirty = false
	p.lsn = InvalidLSN
	p.lruElement = nil
	clear(p.data)
}

func (p *Page) GetLruElement() *list.Element     { return p.lruElement }
func (p *Page) SetLruElement(elem *list.Element) { p.lruElement = elem }
func (p *Page) GetData() []byte                  { return p.data }
func (p *Page) SetData(newData []byte) bool      { copy(p.data, newData); return true }
func (p *Page) GetPageID() PageID                { return p.id }
func (p *Page) SetPageID(id PageID)              { p.id = id }
func (p *Page) IsDirty() bool                    { return p.isDirty }
func (p *Page) SetDirty(dirty bool)              { p.isDirty = dirty }
func (p *Page) Pin()                             { p.pinCount++ }
func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}
func (p *Page) GetPinCount() uint32         { return p.pinCount }
func (p *Page) SetPinCount(pinCount uint32) { p.pinCount = pinCount }
func (p *Page) GetLSN() LSN                 { return p.lsn }

// SetLSN stamps the frame and the persisted header with lsn.
func (p *Page) SetLSN(lsn LSN) {
	p.lsn = lsn
	if len(p.data) >= HeaderSize {
		p.Header().SetLSN(lsn)
	}
}

// SyncLSN reloads the frame LSN from the header after the bytes were read
// from disk.
func (p *Page) SyncLSN() {
	if len(p.data) >= HeaderSize {
		p.lsn = p.Header().LSN()
	}
}

// Header returns a view over the first HeaderSize bytes.
func (p *Page) Header() Header { return Header(p.data[:HeaderSize]) }

// Body is the working data region that follows the header.
func (p *Page) Body() []byte { return p.data[HeaderSize:] }

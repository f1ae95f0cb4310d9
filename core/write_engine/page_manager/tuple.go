package pagemanager

import (
	"fmt"
	"strconv"
	"strings"
)

// TID is the 16-bit tuple id of a record inside a page. The two top bits flag
// link and relocated records; the remaining 14 bits are the id proper.
type TID uint16

const (
	LinkFlag      TID = 0x8000
	RelocatedFlag TID = 0x4000
	TIDMask       TID = 0x3FFF

	// MaxTupleID is the largest id a page may hand out.
	MaxTupleID = 0x3FFE
	// DefragLimit is the high-water mark after which the owning document is
	// asked to defragment.
	DefragLimit = 0x2FFF
)

func (t TID) ID() uint16         { return uint16(t & TIDMask) }
func (t TID) IsLink() bool       { return t&LinkFlag != 0 }
func (t TID) IsRelocated() bool  { return t&RelocatedFlag != 0 }
func (t TID) WithLink() TID      { return t | LinkFlag }
func (t TID) WithRelocated() TID { return t | RelocatedFlag }
func (t TID) Plain() TID         { return t & TIDMask }
func (t TID) Matches(o TID) bool { return t&TIDMask == o&TIDMask }

func (t TID) String() string {
	s := strconv.Itoa(int(t.ID()))
	if t.IsLink() {
		s += "L"
	}
	if t.IsRelocated() {
		s += "R"
	}
	return s
}

// Address is the 64-bit virtual address of a record: page << 16 | tid.
// Address 0 never resolves because page 0 is the file header.
type Address uint64

const InvalidAddress Address = 0

// NewAddress builds a virtual address. Only the plain id of tid is kept.
func NewAddress(page PageID, tid TID) Address {
	return Address(uint64(page)<<16 | uint64(tid.Plain()))
}

func (a Address) Page() PageID  { return PageID(uint64(a) >> 16) }
func (a Address) TID() TID      { return TID(uint64(a) & 0xFFFF) }
func (a Address) IsValid() bool { return a != InvalidAddress && a.Page() != InvalidPageID }

func (a Address) String() string {
	if !a.IsValid() {
		return "<none>"
	}
	return fmt.Sprintf("%d:%d", a.Page(), a.TID().ID())
}

// ParseAddress reads the "page:tid" form produced by String.
func ParseAddress(s string) (Address, error) {
	pageStr, tidStr, ok := strings.Cut(s, ":")
	if !ok {
		return InvalidAddress, fmt.Errorf("address %q: expected page:tid", s)
	}
	page, err := strconv.ParseUint(pageStr, 10, 32)
	if err != nil {
		return InvalidAddress, fmt.Errorf("address %q: bad page: %w", s, err)
	}
	tid, err := strconv.ParseUint(tidStr, 10, 14)
	if err != nil {
		return InvalidAddress, fmt.Errorf("address %q: bad tid: %w", s, err)
	}
	return NewAddress(PageID(page), TID(tid)), nil
}

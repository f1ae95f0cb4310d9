package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	flushmanager "github.com/sushant-115/domstore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
)

// LSN is the log sequence number of a journal entry. LSNs start at 1.
type LSN = pagemanager.LSN

const InvalidLSN = pagemanager.InvalidLSN

// EntryType is the single-byte type id written in front of every entry.
type EntryType byte

// Control entries are understood by the journal itself; storage entries are
// registered by the subsystems that own them.
const (
	EntryCheckpoint EntryType = 0x01
	EntryTxnStart   EntryType = 0x02
	EntryTxnCommit  EntryType = 0x03
	EntryTxnAbort   EntryType = 0x04
)

// IsControl reports whether t is one of the journal's own control types.
func (t EntryType) IsControl() bool { return t >= EntryCheckpoint && t <= EntryTxnAbort }

func (t EntryType) String() string {
	switch t {
	case EntryCheckpoint:
		return "checkpoint"
	case EntryTxnStart:
		return "txn-start"
	case EntryTxnCommit:
		return "txn-commit"
	case EntryTxnAbort:
		return "txn-abort"
	}
	if name, ok := typeNames.Load(t); ok {
		return name.(string)
	}
	return fmt.Sprintf("type(0x%02x)", byte(t))
}

var typeNames sync.Map // EntryType -> string

// Entry is anything that can be appended to the journal.
type Entry interface {
	EntryType() EntryType
	TxnID() uint64
	SetTxnID(id uint64)
	LSN() LSN
	SetLSN(lsn LSN)
	// Encode writes the type-specific fields.
	Encode(e *Encoder)
	// Decode reads what Encode wrote.
	Decode(d *Decoder) error
	// LogSize is the encoded size of the type-specific fields.
	LogSize() int
	// Dump renders the entry for traces and diagnostics.
	Dump() string
}

// Loggable is an entry that can be replayed against a target of type T.
type Loggable[T any] interface {
	Entry
	Redo(target T) error
	Undo(target T) error
}

// EntryBase carries the fields common to every entry.
type EntryBase struct {
	Txn uint64
	Lsn LSN
}

func (b *EntryBase) TxnID() uint64      { return b.Txn }
func (b *EntryBase) SetTxnID(id uint64) { b.Txn = id }
func (b *EntryBase) LSN() LSN           { return b.Lsn }
func (b *EntryBase) SetLSN(lsn LSN)     { b.Lsn = lsn }

// ControlEntry marks transaction boundaries and checkpoints. It has no payload.
type ControlEntry struct {
	EntryBase
	Type EntryType
}

// NewControlEntry builds a control entry for txnID.
func NewControlEntry(t EntryType, txnID uint64) *ControlEntry {
	return &ControlEntry{EntryBase: EntryBase{Txn: txnID}, Type: t}
}

func (c *ControlEntry) EntryType() EntryType  { return c.Type }
func (c *ControlEntry) Encode(*Encoder)       {}
func (c *ControlEntry) Decode(*Decoder) error { return nil }
func (c *ControlEntry) LogSize() int          { return 0 }
func (c *ControlEntry) Dump() string {
	return fmt.Sprintf("[%s] txn=%d lsn=%d", c.Type, c.Txn, c.Lsn)
}

// Registry maps entry type ids to constructors of loggables replayable
// against T. Subsystems fill it from init functions.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[EntryType]func() Loggable[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{factories: make(map[EntryType]func() Loggable[T])}
}

// Register binds a type id to a constructor. Registering a type twice, or a
// control type, panics.
func (r *Registry[T]) Register(t EntryType, name string, factory func() Loggable[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.IsControl() {
		panic(fmt.Sprintf("wal: entry type 0x%02x is reserved for control entries", byte(t)))
	}
	if _, dup := r.factories[t]; dup {
		panic(fmt.Sprintf("wal: entry type 0x%02x registered twice", byte(t)))
	}
	r.factories[t] = factory
	typeNames.Store(t, name)
}

// Has reports whether t is registered.
func (r *Registry[T]) Has(t EntryType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[t]
	return ok
}

// Decode rebuilds the loggable stored in rec.
func (r *Registry[T]) Decode(rec Record) (Loggable[T], error) {
	r.mu.RLock()
	factory, ok := r.factories[rec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x at lsn %d", flushmanager.ErrUnknownLogType, byte(rec.Type), rec.LSN)
	}
	entry := factory()
	d := NewDecoder(rec.Payload)
	if err := entry.Decode(d); err != nil {
		return nil, fmt.Errorf("%w: %s at lsn %d: %v", flushmanager.ErrDeserialization, rec.Type, rec.LSN, err)
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %s at lsn %d has %d trailing bytes", flushmanager.ErrDeserialization, rec.Type, rec.LSN, d.Remaining())
	}
	entry.SetTxnID(rec.TxnID)
	entry.SetLSN(rec.LSN)
	return entry, nil
}

// Encoder appends big-endian fixed-size fields to a byte slice.
type Encoder struct {
	buf []byte
}

func NewEncoder(capacity int) *Encoder { return &Encoder{buf: make([]byte, 0, capacity)} }

func (e *Encoder) U8(v uint8)   { e.buf = append(e.buf, v) }
func (e *Encoder) U16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *Encoder) U32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *Encoder) U64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }
func (e *Encoder) Bool(v bool) {
	if v {
		e.U8(1)
	} else {
		e.U8(0)
	}
}

// Raw appends b without a length prefix.
func (e *Encoder) Raw(b []byte) { e.buf = append(e.buf, b...) }

func (e *Encoder) Bytes() []byte { return e.buf }
func (e *Encoder) Len() int      { return len(e.buf) }

var errShortPayload = errors.New("payload too short")

// Decoder reads what an Encoder wrote. The first failure sticks; check Err
// once after reading all fields.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(b []byte) *Decoder { return &Decoder{buf: b} }

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", errShortPayload, n, d.off, len(d.buf)-d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) U8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *Decoder) U16() uint16 {
	if b := d.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *Decoder) U32() uint32 {
	if b := d.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *Decoder) U64() uint64 {
	if b := d.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *Decoder) Bool() bool { return d.U8() != 0 }

// Raw returns a copy of the next n bytes.
func (d *Decoder) Raw(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (d *Decoder) Remaining() int { return len(d.buf) - d.off }
func (d *Decoder) Err() error     { return d.err }

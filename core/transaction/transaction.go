package transaction

import (
	"fmt"
	"sync"
	"sync/atomic"

	flushmanager "github.com/sushant-115/domstore/core/write_engine/flush_manager"
	"github.com/sushant-115/domstore/core/write_engine/wal"
	"go.uber.org/zap"
)

// TransactionState represents the in-memory state of a transaction.
type TransactionState int

const (
	TxnStateRunning   TransactionState = iota // Transaction is active, operations are being applied
	TxnStateCommitted                         // Commit record is durable
	TxnStateAborted                           // Abort record written; effects are undone by recovery
)

func (s TransactionState) String() string {
	switch s {
	case TxnStateRunning:
		return "running"
	case TxnStateCommitted:
		return "committed"
	case TxnStateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transaction is the handle passed to every mutating store call. A nil
// *Transaction means the call is not journaled.
type Transaction struct {
	ID    uint64
	State TransactionState
}

// Manager hands out transaction ids and writes the boundary records.
type Manager struct {
	lm     *wal.LogManager
	nextID atomic.Uint64
	mu     sync.Mutex
	active map[uint64]*Transaction
	logger *zap.Logger
}

// NewManager starts ids after lastID, typically the highest id seen in the journal.
func NewManager(lm *wal.LogManager, lastID uint64, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{lm: lm, active: make(map[uint64]*Transaction), logger: logger.Named("txn")}
	m.nextID.Store(lastID)
	return m
}

// Begin starts a transaction and journals its start record.
func (m *Manager) Begin() (*Transaction, error) {
	txn := &Transaction{ID: m.nextID.Add(1), State: TxnStateRunning}
	if _, err := m.lm.Append(wal.NewControlEntry(wal.EntryTxnStart, txn.ID)); err != nil {
		return nil, fmt.Errorf("failed to log start of txn %d: %w", txn.ID, err)
	}
	m.mu.Lock()
	m.active[txn.ID] = txn
	m.mu.Unlock()
	return txn, nil
}

// Commit journals the commit record and waits until it is durable.
func (m *Manager) Commit(txn *Transaction) error {
	if err := m.finish(txn, wal.EntryTxnCommit); err != nil {
		return err
	}
	if err := m.lm.Flush(wal.InvalidLSN); err != nil {
		return fmt.Errorf("failed to flush commit of txn %d: %w", txn.ID, err)
	}
	txn.State = TxnStateCommitted
	return nil
}

// Abort journals the abort record. The changes of the transaction stay in the
// pages until recovery undoes them.
func (m *Manager) Abort(txn *Transaction) error {
	if err := m.finish(txn, wal.EntryTxnAbort); err != nil {
		return err
	}
	txn.State = TxnStateAborted
	return nil
}

func (m *Manager) finish(txn *Transaction, t wal.EntryType) error {
	if txn == nil {
		return fmt.Errorf("%w: nil transaction", flushmanager.ErrTxnNotFound)
	}
	if txn.State != TxnStateRunning {
		return fmt.Errorf("%w: txn %d is %s", flushmanager.ErrTxnInvalidState, txn.ID, txn.State)
	}
	m.mu.Lock()
	_, ok := m.active[txn.ID]
	delete(m.active, txn.ID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: txn %d", flushmanager.ErrTxnNotFound, txn.ID)
	}
	if _, err := m.lm.Append(wal.NewControlEntry(t, txn.ID)); err != nil {
		return fmt.Errorf("failed to log %s of txn %d: %w", t, txn.ID, err)
	}
	m.logger.Debug("transaction finished", zap.Uint64("txn", txn.ID), zap.Stringer("record", t))
	return nil
}

// LastID returns the highest id handed out so far.
func (m *Manager) LastID() uint64 { return m.nextID.Load() }

// Active returns the number of running transactions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

package domstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/sushant-115/domstore/core/transaction"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"github.com/sushant-115/domstore/core/write_engine/wal"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RecoveryStats summarizes one recovery run.
type RecoveryStats struct {
	Entries  int // journal entries read by the analysis pass
	Redone   int
	Undone   int
	Losers   []uint64
	Duration time.Duration
}

type txnOutcome int

const (
	txnRunning txnOutcome = iota
	txnCommitted
	txnAborted
	txnRolledBack
)

// Recover replays the journal: an analysis pass finds the transactions that
// did not commit, a redo pass brings pages up to the journal from the last
// checkpoint, and an undo pass reverts the changes of those transactions in
// reverse order. A checkpoint closes the run.
func (s *Store) Recover(ctx context.Context) (RecoveryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return RecoveryStats{}, err
	}
	return s.recover(ctx)
}

func (s *Store) recover(ctx context.Context) (stats RecoveryStats, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "domstore.recover")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		} else {
			span.SetStatus(otelcodes.Ok, "recovered")
		}
		span.End()
	}()

	s.recovering = true
	s.redone, s.undone = 0, 0
	defer func() { s.recovering = false }()

	outcomes, maxTxn, entries, err := s.analyze(ctx)
	if err != nil {
		return stats, err
	}
	stats.Entries = entries
	if maxTxn > s.txns.LastID() {
		s.txns = transaction.NewManager(s.lm, maxTxn, s.logger)
	}
	for id, o := range outcomes {
		if o == txnRunning || o == txnAborted {
			stats.Losers = append(stats.Losers, id)
		}
	}
	slices.Sort(stats.Losers)
	span.SetAttributes(attribute.Int("journal.entries", entries), attribute.Int("txn.losers", len(stats.Losers)))

	// Freed pages are not journaled, so the list may name pages that redo
	// brings back to life.
	if head := s.dm.Header().FreeListHead; head != pagemanager.InvalidPageID {
		s.logger.Info("dropping free list before replay", zap.Uint64("head", uint64(head)))
		s.dm.UpdateHeader(func(h *fileHeader) { h.FreeListHead = pagemanager.InvalidPageID })
	}

	from := max(s.dm.Header().CheckpointLSN, 1)
	if err := s.redoPass(ctx, from); err != nil {
		return stats, err
	}
	if len(stats.Losers) > 0 {
		if err := s.undoPass(ctx, stats.Losers); err != nil {
			return stats, err
		}
	}
	stats.Redone, stats.Undone = s.redone, s.undone

	if err := s.checkpoint(ctx); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)
	s.metrics.RecoveryLatency.Record(ctx, stats.Duration.Milliseconds())
	span.SetAttributes(attribute.Int("redo.applied", stats.Redone), attribute.Int("undo.applied", stats.Undone))
	return stats, nil
}

// analyze reads the whole journal and classifies every transaction.
func (s *Store) analyze(ctx context.Context) (map[uint64]txnOutcome, uint64, int, error) {
	r, err := s.lm.NewReader(1)
	if err != nil {
		return nil, 0, 0, err
	}
	defer r.Close()

	outcomes := make(map[uint64]txnOutcome)
	var maxTxn uint64
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, n, err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, n, fmt.Errorf("analysis: %w", err)
		}
		n++
		if rec.TxnID == 0 {
			continue
		}
		maxTxn = max(maxTxn, rec.TxnID)
		switch rec.Type {
		case wal.EntryTxnCommit:
			outcomes[rec.TxnID] = txnCommitted
		case wal.EntryTxnAbort:
			outcomes[rec.TxnID] = txnAborted
		case EntryRolledBack:
			outcomes[rec.TxnID] = txnRolledBack
		default:
			if _, seen := outcomes[rec.TxnID]; !seen {
				outcomes[rec.TxnID] = txnRunning
			}
		}
	}
	return outcomes, maxTxn, n, nil
}

func (s *Store) redoPass(ctx context.Context, from wal.LSN) error {
	ctx, span := s.tracer.Start(ctx, "domstore.redo", trace.WithAttributes(attribute.Int64("lsn.from", int64(from))))
	defer span.End()
	r, err := s.lm.NewReader(from)
	if err != nil {
		return err
	}
	defer r.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redo: %w", err)
		}
		if rec.Type.IsControl() {
			continue
		}
		e, err := registry.Decode(rec)
		if err != nil {
			span.RecordError(err)
			return &RecoveryError{LSN: rec.LSN, Type: rec.Type, Err: err}
		}
		if err := e.Redo(s); err != nil {
			span.RecordError(err)
			return &RecoveryError{LSN: rec.LSN, Type: rec.Type, Err: err}
		}
	}
}

// undoPass reverts the entries of losers, newest first. A loser is marked
// rolled back as soon as its oldest entry is undone, after the pages it
// touched reached the disk; a later recovery leaves marked losers alone.
func (s *Store) undoPass(ctx context.Context, losers []uint64) error {
	ctx, span := s.tracer.Start(ctx, "domstore.undo", trace.WithAttributes(attribute.Int("txn.losers", len(losers))))
	defer span.End()
	r, err := s.lm.NewReader(1)
	if err != nil {
		return err
	}
	var todo []wal.Loggable[*Store]
	oldest := make(map[uint64]int, len(losers))
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.Close()
			return fmt.Errorf("undo: %w", err)
		}
		if rec.Type.IsControl() || !slices.Contains(losers, rec.TxnID) {
			continue
		}
		e, err := registry.Decode(rec)
		if err != nil {
			r.Close()
			return &RecoveryError{LSN: rec.LSN, Type: rec.Type, Err: err}
		}
		if _, ok := oldest[rec.TxnID]; !ok {
			oldest[rec.TxnID] = len(todo)
		}
		todo = append(todo, e)
	}
	r.Close()

	for i := len(todo) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := todo[i]
		if err := e.Undo(s); err != nil {
			span.RecordError(err)
			return &RecoveryError{LSN: e.LSN(), Type: e.EntryType(), Err: err}
		}
		if oldest[e.TxnID()] == i {
			if err := s.markRolledBack(ctx, e.TxnID()); err != nil {
				return err
			}
		}
	}
	// losers that logged nothing but their abort
	for _, id := range losers {
		if _, ok := oldest[id]; !ok {
			if err := s.markRolledBack(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// markRolledBack makes the undone pages durable, then journals and flushes
// the rolled-back marker of txn.
func (s *Store) markRolledBack(ctx context.Context, txn uint64) error {
	if err := s.bpm.FlushAllPages(ctx); err != nil {
		return fmt.Errorf("flushing pages of txn %d: %w", txn, err)
	}
	marker := &rolledBackEntry{}
	marker.SetTxnID(txn)
	lsn, err := s.lm.Append(marker)
	if err == nil {
		err = s.lm.Flush(lsn)
	}
	if err != nil {
		return fmt.Errorf("marking txn %d rolled back: %w", txn, err)
	}
	s.logger.Info("rolled back transaction", zap.Uint64("txn", txn))
	return nil
}

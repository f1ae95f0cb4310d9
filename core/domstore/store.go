// Package domstore stores serialized document nodes in chains of fixed-size
// pages. Records are addressed by stable virtual addresses (page and tuple
// id), survive page splits through link records, spill large values into
// overflow chains, and are journaled for crash recovery.
package domstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sushant-115/domstore/core/transaction"
	flushmanager "github.com/sushant-115/domstore/core/write_engine/flush_manager"
	"github.com/sushant-115/domstore/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"github.com/sushant-115/domstore/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/domstore/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type fileHeader = flushmanager.DBFileHeader

const tracerName = "github.com/sushant-115/domstore/core/domstore"

// Owner identifies one writer. Each owner appends to its own page chain.
type Owner uuid.UUID

func NewOwner() Owner          { return Owner(uuid.New()) }
func (o Owner) String() string { return uuid.UUID(o).String() }

//go:generate mockgen -destination=mocks/mock_document.go -package=mocks . Document

// Document receives bookkeeping signals about the chain an owner writes.
type Document interface {
	IncPageCount()
	IncSplitCount()
	// TriggerDefrag is called once a page of the document runs low on tuple ids.
	TriggerDefrag()
}

type noopDocument struct{}

func (noopDocument) IncPageCount()  {}
func (noopDocument) IncSplitCount() {}
func (noopDocument) TriggerDefrag() {}

type ownerState struct {
	page pagemanager.PageID
	doc  Document
}

func (o *ownerState) document() Document {
	if o == nil || o.doc == nil {
		return noopDocument{}
	}
	return o.doc
}

// Store is the page/record store. Public methods take the store lock; a
// writer holds it exclusively for one call, an iterator for one step.
type Store struct {
	mu sync.RWMutex

	opts    Options
	dm      *flushmanager.DiskManager
	lm      *wal.LogManager
	bpm     *memtable.BufferPoolManager
	txns    *transaction.Manager
	index   NodeIndex
	logger  *zap.Logger
	metrics *internaltelemetry.StoreMetrics
	tracer  trace.Tracer

	workSize  int
	maxInline int

	ownersMu sync.Mutex
	owners   map[Owner]*ownerState

	recovering     bool
	redone, undone int
	closed         bool
	stop           chan struct{}
	wg             sync.WaitGroup
}

// Open opens or creates the data file and journal described by opts. A file
// that was not closed cleanly is recovered before Open returns.
func Open(opts Options) (*Store, error) {
	opts.applyDefaults()
	if opts.DataFile == "" {
		return nil, fmt.Errorf("domstore: data file path is required")
	}
	if opts.WAL.Dir == "" {
		return nil, fmt.Errorf("domstore: journal directory is required")
	}
	logger := opts.Logger.Named("domstore")
	if err := os.MkdirAll(filepath.Dir(opts.DataFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dm, err := flushmanager.NewDiskManager(opts.DataFile, opts.PageSize, logger)
	if err != nil {
		return nil, err
	}
	hdr, created, err := dm.OpenOrCreateFile()
	if err != nil {
		return nil, err
	}
	lm, err := wal.NewLogManager(opts.WAL, logger)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to open journal: %w", err), dm.Close())
	}
	bpm, err := memtable.NewBufferPoolManager(opts.CachePages, dm, lm, logger, memtable.Options{
		FlushRateBytes: opts.FlushRateBytes,
		Metrics:        opts.Metrics,
	})
	if err != nil {
		return nil, multierr.Combine(err, lm.Close(), dm.Close())
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	index := opts.Index
	if index == nil {
		index = NewRadixIndex()
	}
	workSize := pagemanager.WorkingSize(opts.PageSize)
	s := &Store{
		opts:      opts,
		dm:        dm,
		lm:        lm,
		bpm:       bpm,
		txns:      transaction.NewManager(lm, hdr.LastTxnID, logger),
		index:     index,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    tracer,
		workSize:  workSize,
		maxInline: min(workSize-valueRecordSize(true, 0), 0xFFFF),
		owners:    make(map[Owner]*ownerState),
		stop:      make(chan struct{}),
	}

	if !created && hdr.CleanShutdown == 0 {
		if opts.ReadOnly {
			logger.Warn("data file was not closed cleanly; opened read-only without recovery")
		} else {
			stats, err := s.recover(context.Background())
			if err != nil {
				return nil, multierr.Combine(err, lm.Close(), dm.Close())
			}
			logger.Info("recovered data file", zap.Int("entries", stats.Entries),
				zap.Int("redone", stats.Redone), zap.Int("undone", stats.Undone),
				zap.Int("losers", len(stats.Losers)), zap.Duration("took", stats.Duration))
		}
	}

	if !opts.ReadOnly {
		dm.UpdateHeader(func(h *fileHeader) { h.CleanShutdown = 0 })
		if err := dm.Sync(); err != nil {
			return nil, multierr.Combine(err, lm.Close(), dm.Close())
		}
	}
	if opts.SyncInterval > 0 {
		s.wg.Add(1)
		go s.syncLoop(opts.SyncInterval)
	}
	logger.Info("store opened", zap.String("data_file", opts.DataFile),
		zap.Int("page_size", opts.PageSize), zap.Bool("created", created), zap.Bool("read_only", opts.ReadOnly))
	return s, nil
}

func (s *Store) syncLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.RLock()
			err := s.bpm.FlushAllPages(context.Background())
			s.mu.RUnlock()
			if err != nil {
				s.logger.Warn("background page flush failed", zap.Error(err))
			}
		}
	}
}

// writable reports why the store cannot be changed, if it cannot.
// Must be called with s.mu held.
func (s *Store) writable() error {
	if s.closed {
		return ErrClosed
	}
	if s.opts.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// Begin starts a journaled transaction.
func (s *Store) Begin() (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.writable(); err != nil {
		return nil, err
	}
	return s.txns.Begin()
}

// Commit makes the transaction durable.
func (s *Store) Commit(txn *transaction.Transaction) error { return s.txns.Commit(txn) }

// Abort journals the abort. Its changes stay in the pages until a recovery
// rolls them back.
func (s *Store) Abort(txn *transaction.Transaction) error { return s.txns.Abort(txn) }

// SetDocument attaches the bookkeeping target of an owner.
func (s *Store) SetDocument(o Owner, doc Document) {
	s.ownersMu.Lock()
	defer s.ownersMu.Unlock()
	s.ownerLocked(o).doc = doc
}

// CloseOwner forgets the current page of an owner.
func (s *Store) CloseOwner(o Owner) {
	s.ownersMu.Lock()
	defer s.ownersMu.Unlock()
	delete(s.owners, o)
}

// CurrentPage returns the page an owner appends to.
func (s *Store) CurrentPage(o Owner) pagemanager.PageID {
	s.ownersMu.Lock()
	defer s.ownersMu.Unlock()
	if st, ok := s.owners[o]; ok {
		return st.page
	}
	return pagemanager.InvalidPageID
}

// SetCurrentPage points an owner at an existing chain, for example to append
// to a document opened again.
func (s *Store) SetCurrentPage(o Owner, page pagemanager.PageID) {
	s.ownersMu.Lock()
	defer s.ownersMu.Unlock()
	s.ownerLocked(o).page = page
}

func (s *Store) document(o Owner) Document {
	s.ownersMu.Lock()
	defer s.ownersMu.Unlock()
	return s.owners[o].document()
}

// ownerLocked must be called with s.ownersMu held.
func (s *Store) ownerLocked(o Owner) *ownerState {
	st, ok := s.owners[o]
	if !ok {
		st = &ownerState{}
		s.owners[o] = st
	}
	return st
}

// forgetPage moves owners off a page that is going away.
func (s *Store) forgetPage(page, successor pagemanager.PageID) {
	s.ownersMu.Lock()
	defer s.ownersMu.Unlock()
	for _, st := range s.owners {
		if st.page == page {
			st.page = successor
		}
	}
}

// Flush writes every dirty page and the file header.
func (s *Store) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.bpm.FlushAllPages(context.Background())
}

// Checkpoint flushes journal and pages, then records a checkpoint so that
// recovery can start its redo pass there.
func (s *Store) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	return s.checkpoint(ctx)
}

func (s *Store) checkpoint(ctx context.Context) error {
	if err := s.bpm.FlushAllPages(ctx); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	lsn, err := s.lm.Append(wal.NewControlEntry(wal.EntryCheckpoint, 0))
	if err != nil {
		return fmt.Errorf("checkpoint record: %w", err)
	}
	if err := s.lm.Flush(lsn); err != nil {
		return fmt.Errorf("checkpoint flush: %w", err)
	}
	lastTxn := s.txns.LastID()
	s.dm.UpdateHeader(func(h *fileHeader) {
		h.CheckpointLSN = lsn
		h.LastTxnID = lastTxn
	})
	if err := s.dm.Sync(); err != nil {
		return fmt.Errorf("checkpoint sync: %w", err)
	}
	s.logger.Debug("checkpoint written", zap.Uint64("lsn", uint64(lsn)))
	return nil
}

// Close checkpoints, marks the file clean and releases journal and file.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if !s.opts.ReadOnly {
		if cerr := s.checkpoint(context.Background()); cerr != nil {
			err = cerr
		} else {
			s.dm.UpdateHeader(func(h *fileHeader) { h.CleanShutdown = 1 })
		}
	}
	err = multierr.Combine(err, s.lm.Close(), s.dm.Close())
	s.logger.Info("store closed", zap.Error(err))
	return err
}

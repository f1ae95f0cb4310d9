package memtable

import (
	"container/list" // For LRU
	"context"
	"errors"
	"fmt"
	"sync"

	flushmanager "github.com/sushant-115/domstore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"github.com/sushant-115/domstore/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/domstore/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options tunes a BufferPoolManager.
type Options struct {
	// FlushRateBytes paces FlushAllPages write-back; zero means unpaced.
	FlushRateBytes int
	Metrics        *internaltelemetry.StoreMetrics
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Writes    uint64
	Resident  int
	Pinned    int
	Dirty     int
}

// BufferPoolManager manages in-memory pages (frames) and interacts with the DiskManager.
// It implements a simple LRU (Least Recently Used) eviction policy and never
// writes a page before the journal is durable up to the page LSN.
type BufferPoolManager struct {
	diskManager *flushmanager.DiskManager
	logManager  *wal.LogManager
	poolSize    int
	pages       []*pagemanager.Page        // Page frames
	pageTable   map[pagemanager.PageID]int // PageID to frame index
	lruList     *list.List                 // LRU order of frame indices, most recent at the front
	mu          sync.Mutex
	pageSize    int
	limiter     *rate.Limiter
	metrics     *internaltelemetry.StoreMetrics
	stats       Stats
	logger      *zap.Logger
}

// NewBufferPoolManager creates and initializes a new BufferPoolManager.
// logManager may be nil for a store that does not journal.
func NewBufferPoolManager(poolSize int, diskManager *flushmanager.DiskManager, logManager *wal.LogManager, logger *zap.Logger, opts Options) (*BufferPoolManager, error) {
	if diskManager == nil {
		return nil, fmt.Errorf("buffer pool needs a disk manager")
	}
	if poolSize < 2 {
		return nil, fmt.Errorf("buffer pool size %d too small", poolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = internaltelemetry.NoopStoreMetrics()
	}
	bpm := &BufferPoolManager{
		diskManager: diskManager,
		logManager:  logManager,
		poolSize:    poolSize,
		pages:       make([]*pagemanager.Page, poolSize),
		pageTable:   make(map[pagemanager.PageID]int),
		lruList:     list.New(),
		pageSize:    diskManager.GetPageSize(),
		metrics:     opts.Metrics,
		logger:      logger.Named("buffer_pool"),
	}
	if opts.FlushRateBytes > 0 {
		burst := max(opts.FlushRateBytes, bpm.pageSize)
		bpm.limiter = rate.NewLimiter(rate.Limit(opts.FlushRateBytes), burst)
	}
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = pagemanager.NewPage(pagemanager.InvalidPageID, bpm.pageSize)
	}
	bpm.logger.Info("buffer pool initialized", zap.Int("pool_size", poolSize), zap.Int("page_size", bpm.pageSize))
	return bpm, nil
}

// FetchPage returns the page pinned. It reads the page from disk on a miss.
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameIdx, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frameIdx]
		page.Pin()
		bpm.lruList.MoveToFront(page.GetLruElement())
		bpm.stats.Hits++
		bpm.metrics.CacheHits.Add(context.Background(), 1)
		return page, nil
	}

	frameIdx, err := bpm.evictInternal()
	if err != nil {
		return nil, fmt.Errorf("no frame for page %d: %w", pageID, err)
	}
	page := bpm.pages[frameIdx]
	if err := bpm.diskManager.ReadPage(pageID, page.GetData()); err != nil {
		page.Reset()
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
	}
	bpm.installInternal(page, frameIdx, pageID)
	page.SetDirty(false)
	page.SyncLSN()
	bpm.stats.Misses++
	bpm.metrics.CacheMisses.Add(context.Background(), 1)
	return page, nil
}

// NewPage allocates a new page at the end of the file and returns it pinned and dirty.
func (bpm *BufferPoolManager) NewPage() (*pagemanager.Page, pagemanager.PageID, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, err := bpm.evictInternal()
	if err != nil {
		return nil, pagemanager.InvalidPageID, fmt.Errorf("no frame for a new page: %w", err)
	}
	newPageID, err := bpm.diskManager.AllocatePage()
	if err != nil {
		return nil, pagemanager.InvalidPageID, fmt.Errorf("failed to allocate new page on disk: %w", err)
	}
	page := bpm.pages[frameIdx]
	bpm.installInternal(page, frameIdx, newPageID)
	page.SetDirty(true)
	bpm.logger.Debug("allocated page", zap.Uint64("page", uint64(newPageID)), zap.Int("frame", frameIdx))
	return page, newPageID, nil
}

// installInternal binds a reset frame to pageID with one pin. Must be called with bpm.mu held.
func (bpm *BufferPoolManager) installInternal(page *pagemanager.Page, frameIdx int, pageID pagemanager.PageID) {
	page.SetPageID(pageID)
	page.SetPinCount(1)
	bpm.pageTable[pageID] = frameIdx
	page.SetLruElement(bpm.lruList.PushFront(frameIdx))
}

// evictInternal finds a frame to reuse, writing back its page when dirty.
// The returned frame is reset. Must be called with bpm.mu held.
func (bpm *BufferPoolManager) evictInternal() (int, error) {
	frameIdx := -1
	for i := 0; i < bpm.poolSize; i++ {
		if bpm.pages[i].GetPageID() == pagemanager.InvalidPageID {
			frameIdx = i
			break
		}
	}
	if frameIdx < 0 {
		for e := bpm.lruList.Back(); e != nil; e = e.Prev() {
			idx := e.Value.(int)
			if bpm.pages[idx].GetPinCount() == 0 {
				frameIdx = idx
				break
			}
		}
	}
	if frameIdx < 0 {
		bpm.logger.Error("buffer pool exhausted, every frame is pinned", zap.Int("pool_size", bpm.poolSize))
		return -1, flushmanager.ErrBufferPoolFull
	}

	victim := bpm.pages[frameIdx]
	if victim.GetPageID() != pagemanager.InvalidPageID {
		if victim.IsDirty() {
			if err := bpm.writeBackInternal(victim); err != nil {
				return -1, err
			}
		}
		delete(bpm.pageTable, victim.GetPageID())
		if victim.GetLruElement() != nil {
			bpm.lruList.Remove(victim.GetLruElement())
		}
		bpm.stats.Evictions++
		bpm.metrics.CacheEvictions.Add(context.Background(), 1)
	}
	victim.Reset()
	return frameIdx, nil
}

// writeBackInternal writes one dirty page after making its journal entries
// durable. Must be called with bpm.mu held.
func (bpm *BufferPoolManager) writeBackInternal(page *pagemanager.Page) error {
	if bpm.logManager != nil && page.GetLSN() != pagemanager.InvalidLSN {
		if err := bpm.logManager.Flush(page.GetLSN()); err != nil {
			bpm.logger.Error("journal flush before page write failed",
				zap.Uint64("page", uint64(page.GetPageID())), zap.Uint64("lsn", uint64(page.GetLSN())), zap.Error(err))
			return fmt.Errorf("failed to flush log for page %d: %w", page.GetPageID(), err)
		}
	}
	if err := bpm.diskManager.WritePage(page.GetPageID(), page.GetData()); err != nil {
		return fmt.Errorf("failed to write page %d: %w", page.GetPageID(), err)
	}
	page.SetDirty(false)
	bpm.stats.Writes++
	return nil
}

// UnpinPage decrements the pin count for a page. If isDirty is true, it marks the page as dirty.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to unpin", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if page.GetPinCount() == 0 {
		bpm.logger.Warn("unpin of a page with pin count 0", zap.Uint64("page", uint64(pageID)))
		return fmt.Errorf("cannot unpin page %d with pin count 0", pageID)
	}
	page.Unpin()
	if isDirty {
		page.SetDirty(true)
		}
	return nil
}

// FlushPage writes a specific page to disk if it is dirty.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to flush", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if !page.IsDirty() {
		return nil
	}
	return bpm.writeBackInternal(page)
}

// FlushAllPages writes every dirty page, paced by the configured write-back
// rate, then syncs the data file.
func (bpm *BufferPoolManager) FlushAllPages(ctx context.Context) error {
	if bpm.logManager != nil {
		if err := bpm.logManager.Flush(wal.InvalidLSN); err != nil {
			return fmt.Errorf("failed to flush journal before pages: %w", err)
		}
	}

	bpm.mu.Lock()
	var dirty []pagemanager.PageID
	for _, page := range bpm.pages {
		if page.GetPageID() != pagemanager.InvalidPageID && page.IsDirty() {
			dirty = append(dirty, page.GetPageID())
		}
	}
	bpm.mu.Unlock()

	var firstErr error
	for _, pageID := range dirty {
		if bpm.limiter != nil {
			if err := bpm.limiter.WaitN(ctx, bpm.pageSize); err != nil {
				return fmt.Errorf("write-back interrupted: %w", err)
			}
		}
		err := bpm.FlushPage(pageID)
		if err != nil && !errors.Is(err, flushmanager.ErrPageNotFound) && firstErr == nil {
			// the page may have been evicted (and written) meanwhile
			firstErr = err
			bpm.logger.Error("page flush failed", zap.Uint64("page", uint64(pageID)), zap.Error(err))
		}
	}
	if err := bpm.diskManager.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	bpm.logger.Debug("flushed dirty pages", zap.Int("count", len(dirty)))
	return firstErr
}

// DirtyPages returns the ids of resident dirty pages.
func (bpm *BufferPoolManager) DirtyPages() []pagemanager.PageID {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	var out []pagemanager.PageID
	for _, page := range bpm.pages {
		if page.GetPageID() != pagemanager.InvalidPageID && page.IsDirty() {
			out = append(out, page.GetPageID())
		}
	}
	return out
}

// Stats returns a snapshot of the pool counters.
func (bpm *BufferPoolManager) Stats() Stats {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	s := bpm.stats
	for _, page := range bpm.pages {
		if page.GetPageID() == pagemanager.InvalidPageID {
			continue
		}
		s.Resident++
		if page.GetPinCount() > 0 {
			s.Pinned++
		}
		if page.IsDirty() {
			s.Dirty++
		}
	}
	return s
}

func (bpm *BufferPoolManager) GetPageSize() int {
	return bpm.pageSize
}

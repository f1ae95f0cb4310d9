package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// StoreMetrics holds the metric instruments of the page store, its cache and
// its journal.
type StoreMetrics struct {
	PagesAllocated  metric.Int64Counter
	PagesFreed      metric.Int64Counter
	PageSplits      metric.Int64Counter
	OverflowPages   metric.Int64Counter
	JournalEntries  metric.Int64Counter
	JournalFailures metric.Int64Counter
	RedoApplied     metric.Int64Counter
	UndoApplied     metric.Int64Counter
	CacheHits       metric.Int64Counter
	CacheMisses     metric.Int64Counter
	CacheEvictions  metric.Int64Counter
	RecoveryLatency metric.Int64Histogram
}

// NewStoreMetrics creates and registers all the metrics of the page store.
func NewStoreMetrics(meter metric.Meter) (*StoreMetrics, error) {
	m := &StoreMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.PagesAllocated, "domstore.pages.allocated_total", "Pages taken from the file or the free list."},
		{&m.PagesFreed, "domstore.pages.freed_total", "Pages returned to the free list."},
		{&m.PageSplits, "domstore.pages.splits_total", "Page splits caused by mid-page inserts."},
		{&m.OverflowPages, "domstore.overflow.pages_written_total", "Overflow chain pages written."},
		{&m.JournalEntries, "domstore.journal.entries_total", "Journal entries appended."},
		{&m.JournalFailures, "domstore.journal.failures_total", "Journal appends that failed and were skipped."},
		{&m.RedoApplied, "domstore.recovery.redo_total", "Journal entries redone during recovery."},
		{&m.UndoApplied, "domstore.recovery.undo_total", "Journal entries undone during recovery."},
		{&m.CacheHits, "domstore.cache.hits_total", "Page fetches served from the buffer pool."},
		{&m.CacheMisses, "domstore.cache.misses_total", "Page fetches that read from disk."},
		{&m.CacheEvictions, "domstore.cache.evictions_total", "Frames reused for another page."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	recoveryLatency, err := meter.Int64Histogram(
		"domstore.recovery.duration",
		metric.WithDescription("Duration of a recovery run."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	m.RecoveryLatency = recoveryLatency
	return m, nil
}

// NoopStoreMetrics returns instruments that record nothing.
func NoopStoreMetrics() *StoreMetrics {
	m, err := NewStoreMetrics(noop.NewMeterProvider().Meter(""))
	if err != nil {
		// the noop meter never fails
		panic(err)
	}
	return m
}

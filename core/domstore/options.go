package domstore

import (
	"fmt"
	"time"

	"github.com/sushant-115/domstore/config"
	"github.com/sushant-115/domstore/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/domstore/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options configures a Store.
type Options struct {
	DataFile   string
	PageSize   int
	CachePages int
	ReadOnly   bool
	// FlushRateBytes paces page write-back and snapshot copies; zero is unpaced.
	FlushRateBytes int
	// SyncInterval is the period of the background page flush. Zero disables it.
	SyncInterval time.Duration
	WAL          wal.Options
	// Index maps node keys to addresses. A RadixIndex is used when nil.
	Index NodeIndex

	Logger  *zap.Logger
	Metrics *internaltelemetry.StoreMetrics
	Tracer  trace.Tracer
}

// OptionsFromConfig maps a loaded configuration onto store options.
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	codec, err := wal.ParseCompression(cfg.WAL.Compression)
	if err != nil {
		return Options{}, fmt.Errorf("wal.compression: %w", err)
	}
	return Options{
		DataFile:       cfg.Storage.DataFile,
		PageSize:       cfg.Storage.PageSize,
		CachePages:     cfg.Storage.CachePages,
		ReadOnly:       cfg.Storage.ReadOnly,
		FlushRateBytes: cfg.Storage.FlushRateBytes,
		SyncInterval:   cfg.Storage.SyncInterval,
		WAL: wal.Options{
			Dir:               cfg.WAL.Dir,
			ArchiveDir:        cfg.WAL.ArchiveDir,
			BufferSize:        cfg.WAL.BufferSize,
			SegmentSize:       cfg.WAL.SegmentSize,
			Compression:       codec,
			CompressThreshold: cfg.WAL.CompressThreshold,
		},
		Logger: logger,
	}, nil
}

func (o *Options) applyDefaults() {
	if o.PageSize == 0 {
		o.PageSize = config.DefaultPageSize
	}
	if o.CachePages < 16 {
		o.CachePages = 16
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = internaltelemetry.NoopStoreMetrics()
	}
	if o.WAL.BufferSize == 0 {
		o.WAL.BufferSize = 64 * 1024
	}
	if o.WAL.SegmentSize == 0 {
		o.WAL.SegmentSize = 16 * 1024 * 1024
	}
}

// Package config loads the YAML configuration of a domstore process.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sushant-115/domstore/core/write_engine/wal"
	"github.com/sushant-115/domstore/pkg/logger"
	"github.com/sushant-115/domstore/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// StorageConfig describes the data file and its page cache.
type StorageConfig struct {
	DataFile   string `yaml:"data_file"`
	PageSize   int    `yaml:"page_size"`
	CachePages int    `yaml:"cache_pages"`
	ReadOnly   bool   `yaml:"read_only"`
	// FlushRateBytes paces dirty page write-back and snapshot copies, in
	// bytes per second. Zero means unpaced.
	FlushRateBytes int `yaml:"flush_rate_bytes"`
	// SyncInterval is the period of the background page flush. Zero disables it.
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// WALConfig describes the journal.
type WALConfig struct {
	Dir               string `yaml:"dir"`
	ArchiveDir        string `yaml:"archive_dir"`
	BufferSize        int    `yaml:"buffer_size"`
	SegmentSize       int64  `yaml:"segment_size"`
	Compression       string `yaml:"compression"`
	CompressThreshold int    `yaml:"compress_threshold"`
}

// Config is the root of the configuration file.
type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	WAL       WALConfig        `yaml:"wal"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

const (
	DefaultPageSize     = 4096
	DefaultCachePages   = 256
	DefaultSyncInterval = 4200 * time.Millisecond
	minCachePages       = 16
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataFile:     "data/dom.dbx",
			PageSize:     DefaultPageSize,
			CachePages:   DefaultCachePages,
			SyncInterval: DefaultSyncInterval,
		},
		WAL: WALConfig{
			Dir:               "data/wal",
			BufferSize:        64 * 1024,
			SegmentSize:       16 * 1024 * 1024,
			Compression:       wal.CompressionSnappy.String(),
			CompressThreshold: 256,
		},
		Logger: logger.Config{Level: "info", Format: "console", OutputFile: "stderr", SampleBurst: 20},
		Telemetry: telemetry.Config{
			ServiceName:      logger.ServiceName,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// resolve makes relative paths relative to the directory of the config file.
func (c *Config) resolve(base string) {
	for _, p := range []*string{&c.Storage.DataFile, &c.WAL.Dir, &c.WAL.ArchiveDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Storage.DataFile == "" {
		return fmt.Errorf("storage.data_file is required")
	}
	if c.Storage.PageSize < 512 || c.Storage.PageSize&(c.Storage.PageSize-1) != 0 {
		return fmt.Errorf("storage.page_size %d must be a power of two of at least 512", c.Storage.PageSize)
	}
	if c.Storage.PageSize > 64*1024 {
		return fmt.Errorf("storage.page_size %d exceeds 65536", c.Storage.PageSize)
	}
	if c.Storage.CachePages < minCachePages {
		return fmt.Errorf("storage.cache_pages %d below minimum %d", c.Storage.CachePages, minCachePages)
	}
	if c.Storage.FlushRateBytes < 0 {
		return fmt.Errorf("storage.flush_rate_bytes must not be negative")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	if c.WAL.BufferSize <= 0 || c.WAL.SegmentSize < int64(c.WAL.BufferSize) {
		return fmt.Errorf("wal.segment_size (%d) must be at least wal.buffer_size (%d) and both positive", c.WAL.SegmentSize, c.WAL.BufferSize)
	}
	if _, err := wal.ParseCompression(c.WAL.Compression); err != nil {
		return fmt.Errorf("wal.compression: %w", err)
	}
	return nil
}

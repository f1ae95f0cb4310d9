package domstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sushant-115/domstore/core/storage_engine/common"
	"github.com/sushant-115/domstore/core/write_engine/wal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SnapshotFile is one copied file of a snapshot.
type SnapshotFile struct {
	Path     string
	Bytes    int64
	Checksum uint64 // xxhash64 of the content
}

// SnapshotInfo describes a finished snapshot.
type SnapshotInfo struct {
	Dir   string
	Files []SnapshotFile
	// LSN is the last journal entry contained in the snapshot.
	LSN wal.LSN
}

const snapshotCopiers = 4

// Snapshot flushes pages and journal and copies the data file and every
// journal segment to dstDir, paced by FlushRateBytes. Writers wait until the
// copy is done. A failed snapshot removes the files it created.
func (s *Store) Snapshot(ctx context.Context, dstDir string) (SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return SnapshotInfo{}, ErrClosed
	}
	if err := s.bpm.FlushAllPages(ctx); err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot flush: %w", err)
	}
	if err := s.lm.Flush(wal.InvalidLSN); err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot journal flush: %w", err)
	}
	info := SnapshotInfo{Dir: dstDir, LSN: s.lm.FlushedLSN()}

	type job struct{ src, dst string }
	jobs := []job{{src: s.opts.DataFile, dst: filepath.Join(dstDir, filepath.Base(s.opts.DataFile))}}
	archive := s.opts.WAL.ArchiveDir
	if archive == "" {
		archive = filepath.Join(s.opts.WAL.Dir, "archive")
	}
	for _, d := range []struct{ src, dst string }{
		{s.opts.WAL.Dir, filepath.Join(dstDir, "wal")},
		{archive, filepath.Join(dstDir, "wal", "archive")},
	} {
		entries, err := os.ReadDir(d.src)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return SnapshotInfo{}, fmt.Errorf("listing %s: %w", d.src, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				jobs = append(jobs, job{src: filepath.Join(d.src, e.Name()), dst: filepath.Join(d.dst, e.Name())})
			}
		}
	}

	var (
		mu      sync.Mutex
		created []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotCopiers)
	info.Files = make([]SnapshotFile, len(jobs))
	for i, j := range jobs {
		g.Go(func() error {
			if err := os.MkdirAll(filepath.Dir(j.dst), 0755); err != nil {
				return err
			}
			mu.Lock()
			created = append(created, j.dst)
			mu.Unlock()
			res, err := common.CopyThrottled(gctx, j.src, j.dst, int64(s.opts.FlushRateBytes))
			if err != nil {
				return fmt.Errorf("copying %s: %w", j.src, err)
			}
			info.Files[i] = SnapshotFile{Path: j.dst, Bytes: res.Bytes, Checksum: res.Checksum}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, p := range created {
			if rerr := os.Remove(p); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
				err = multierr.Append(err, rerr)
			}
		}
		s.logger.Error("snapshot failed", zap.String("dir", dstDir), zap.Error(err))
		return SnapshotInfo{}, err
	}
	s.logger.Info("snapshot written", zap.String("dir", dstDir),
		zap.Int("files", len(info.Files)), zap.Uint64("lsn", uint64(info.LSN)))
	return info, nil
}

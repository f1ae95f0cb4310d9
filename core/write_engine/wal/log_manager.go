package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	flushmanager "github.com/sushant-115/domstore/core/write_engine/flush_manager"
	"go.uber.org/zap"
)

// Frame layout, big-endian:
//
//	size u32 | checksum u64 | lsn u64 | type u8 | txnID u64 | codec u8 | payload
//
// size counts every byte after itself; checksum is xxhash64 over the bytes
// that follow it.
const (
	frameSizeLen     = 4
	frameChecksumLen = 8
	frameHeaderLen   = frameSizeLen + frameChecksumLen + 8 + 1 + 8 + 1
	maxFrameSize     = 64 << 20

	defaultFlushInterval     = 100 * time.Millisecond
	defaultCompressThreshold = 256
)

// Options configures a LogManager.
type Options struct {
	Dir         string // active segments
	ArchiveDir  string // rolled segments
	BufferSize  int    // in-memory buffer before a write to the segment file
	SegmentSize int64  // segment size before rolling
	Compression Compression
	// CompressThreshold is the payload size from which compression is tried.
	CompressThreshold int
	// FlushInterval paces the background flusher; zero selects 100ms.
	FlushInterval time.Duration
}

// Record is a raw journal entry as stored in a segment.
type Record struct {
	LSN     LSN
	Type    EntryType
	TxnID   uint64
	Payload []byte
}

// LogManager owns the journal segments. It assigns LSNs, buffers frames,
// rolls and archives segments, and makes entries durable on Flush.
type LogManager struct {
	opts                     Options
	logFile                  *os.File
	currentSegmentID         uint64
	currentSegmentFileOffset int64 // bytes written to the file plus bytes in the buffer
	nextLSN                  LSN
	flushedLSN               LSN // highest LSN known to be on stable storage
	buffer                   *bytes.Buffer
	mu                       sync.Mutex
	stopChan                 chan struct{}
	wg                       sync.WaitGroup
	closed                   bool
	logger                   *zap.Logger
}

// NewLogManager opens (or starts) the journal in opts.Dir. The LSN sequence
// continues after the last intact frame; a torn tail of the active segment is cut off.
func NewLogManager(opts Options, logger *zap.Logger) (*LogManager, error) {
	if opts.BufferSize <= 0 {
		return nil, fmt.Errorf("log buffer size must be positive")
	}
	if opts.SegmentSize <= 0 {
		return nil, fmt.Errorf("log segment size limit must be positive")
	}
	if opts.SegmentSize < int64(opts.BufferSize) {
		return nil, fmt.Errorf("log segment size limit (%d) must be greater than or equal to buffer size (%d)", opts.SegmentSize, opts.BufferSize)
	}
	if opts.ArchiveDir == "" {
		opts.ArchiveDir = filepath.Join(opts.Dir, "archive")
	}
	if opts.CompressThreshold <= 0 {
		opts.CompressThreshold = defaultCompressThreshold
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", opts.Dir, err)
	}
	if err := os.MkdirAll(opts.ArchiveDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", opts.ArchiveDir, err)
	}

	lm := &LogManager{
		opts:     opts,
		buffer:   bytes.NewBuffer(make([]byte, 0, opts.BufferSize)),
		stopChan: make(chan struct{}),
		logger:   logger.Named("wal"),
	}
	if err := lm.findOrCreateLatestLogSegment(); err != nil {
		return nil, fmt.Errorf("failed to initialize log segment: %w", err)
	}

	lm.wg.Add(1)
	go lm.flusher()

	lm.logger.Info("log manager initialized",
		zap.String("dir", opts.Dir), zap.String("archive_dir", opts.ArchiveDir),
		zap.Uint64("segment", lm.currentSegmentID), zap.Uint64("next_lsn", uint64(lm.nextLSN)),
		zap.Stringer("compression", opts.Compression))
	return lm, nil
}

type segmentInfo struct {
	path string
	id   uint64
}

// getOrderedLogSegments lists archived and active segments by id.
func (lm *LogManager) getOrderedLogSegments() ([]segmentInfo, error) {
	var segments []segmentInfo
	for _, dir := range []string{lm.opts.ArchiveDir, lm.opts.Dir} {
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			name := file.Name()
			if !strings.HasPrefix(name, "log_") || !strings.HasSuffix(name, ".log") {
				continue
			}
			id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "log_"), ".log"), 10, 64)
			if err != nil {
				continue
			}
			segments = append(segments, segmentInfo{path: filepath.Join(dir, name), id: id})
		}
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].id < segments[j].id })
	return segments, nil
}

// findOrCreateLatestLogSegment scans every segment to find the last intact
// frame, truncates a torn tail of the active segment and opens it for append.
func (lm *LogManager) findOrCreateLatestLogSegment() error {
	segments, err := lm.getOrderedLogSegments()
	if err != nil {
		return err
	}

	lastLSN := InvalidLSN
	var activeID uint64
	var activeEnd int64
	for _, seg := range segments {
		end, last, err := scanSegment(seg.path)
		if err != nil {
			return err
		}
		if last != InvalidLSN {
			lastLSN = last
		}
		if filepath.Dir(seg.path) == filepath.Clean(lm.opts.Dir) {
			activeID, activeEnd = seg.id, end
		} else if seg.id >= activeID {
			activeID, activeEnd = seg.id+1, 0
		}
	}
	if activeID == 0 {
		activeID = 1
	}

	path := lm.getLogSegmentPath(activeID)
	logFile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return fmt.Errorf("failed to open/create log segment %s: %w", path, err)
	}
	if fi, err := logFile.Stat(); err == nil && fi.Size() > activeEnd {
		lm.logger.Warn("truncating torn journal tail", zap.String("segment", path),
			zap.Int64("size", fi.Size()), zap.Int64("valid", activeEnd))
		if err := logFile.Truncate(activeEnd); err != nil {
			logFile.Close()
			return fmt.Errorf("failed to truncate torn tail of %s: %w", path, err)
		}
	}
	if _, err := logFile.Seek(activeEnd, io.SeekStart); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to seek log segment %s: %w", path, err)
	}

	lm.logFile = logFile
	lm.currentSegmentID = activeID
	lm.currentSegmentFileOffset = activeEnd
	lm.nextLSN = lastLSN + 1
	lm.flushedLSN = lastLSN
	return nil
}

// scanSegment returns the offset after the last intact frame and its LSN.
func scanSegment(path string) (int64, LSN, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, InvalidLSN, fmt.Errorf("failed to open log segment %s: %w", path, err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var offset int64
	last := InvalidLSN
	for {
		rec, n, err := readFrame(reader)
		if err != nil {
			// EOF or a torn frame: everything before offset is intact
			return offset, last, nil
		}
		offset += int64(n)
		last = rec.LSN
	}
}

func (lm *LogManager) getLogSegmentPath(segmentID uint64) string {
	return filepath.Join(lm.opts.Dir, fmt.Sprintf("log_%05d.log", segmentID))
}

// encodeFrame serializes entry into a frame carrying lsn.
func (lm *LogManager) encodeFrame(entry Entry, lsn LSN) ([]byte, error) {
	enc := NewEncoder(entry.LogSize())
	entry.Encode(enc)
	payload := enc.Bytes()

	codec := CompressionNone
	if lm.opts.Compression != CompressionNone && len(payload) >= lm.opts.CompressThreshold {
		packed, err := compress(lm.opts.Compression, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: compressing %s payload: %v", flushmanager.ErrSerialization, entry.EntryType(), err)
		}
		if len(packed) < len(payload) {
			payload, codec = packed, lm.opts.Compression
		}
	}

	frame := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(frame[0:], uint32(len(frame)-frameSizeLen))
	binary.BigEndian.PutUint64(frame[12:], uint64(lsn))
	frame[20] = byte(entry.EntryType())
	binary.BigEndian.PutUint64(frame[21:], entry.TxnID())
	frame[29] = byte(codec)
	copy(frame[frameHeaderLen:], payload)
	binary.BigEndian.PutUint64(frame[4:], xxhash.Sum64(frame[frameSizeLen+frameChecksumLen:]))
	return frame, nil
}

// readFrame reads one frame. It returns io.EOF at a clean end and
// ErrTornLogRecord for a partial or corrupt frame.
func readFrame(r io.Reader) (Record, int, error) {
	var sizeBuf [frameSizeLen]byte
	n, err := io.ReadFull(r, sizeBuf[:])
	if err == io.EOF {
		return Record{}, 0, io.EOF
	}
	if err != nil {
		return Record{}, n, fmt.Errorf("%w: reading frame size: %v", flushmanager.ErrTornLogRecord, err)
	}
	size := binary.BigEndian.Uint32(sizeBuf[:])
	if size < frameHeaderLen-frameSizeLen || size > maxFrameSize {
		return Record{}, n, fmt.Errorf("%w: implausible frame size %d", flushmanager.ErrTornLogRecord, size)
	}
	body := make([]byte, size)
	m, err := io.ReadFull(r, body)
	if err != nil {
		return Record{}, n + m, fmt.Errorf("%w: reading frame body: %v", flushmanager.ErrTornLogRecord, err)
	}
	if xxhash.Sum64(body[frameChecksumLen:]) != binary.BigEndian.Uint64(body[:frameChecksumLen]) {
		return Record{}, n + m, fmt.Errorf("%w: frame checksum mismatch", flushmanager.ErrTornLogRecord)
	}
	rec := Record{
		LSN:   LSN(binary.BigEndian.Uint64(body[8:])),
		Type:  EntryType(body[16]),
		TxnID: binary.BigEndian.Uint64(body[17:]),
	}
	payload, err := decompress(Compression(body[25]), body[frameHeaderLen-frameSizeLen:])
	if err != nil {
		return Record{}, n + m, fmt.Errorf("%w: decompressing payload at lsn %d: %v", flushmanager.ErrDeserialization, rec.LSN, err)
	}
	rec.Payload = payload
	return rec, n + m, nil
}

// Append assigns the next LSN to entry, stamps it and buffers its frame.
// The entry is durable only after a Flush covering its LSN.
func (lm *LogManager) Append(entry Entry) (LSN, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return InvalidLSN, flushmanager.ErrLogClosed
	}

	lsn := lm.nextLSN
	frame, err := lm.encodeFrame(entry, lsn)
	if err != nil {
		return InvalidLSN, err
	}
	frameSize := int64(len(frame))
	if frameSize > lm.opts.SegmentSize {
		return InvalidLSN, fmt.Errorf("%w: %d bytes, segment limit %d", flushmanager.ErrLogRecordTooLarge, frameSize, lm.opts.SegmentSize)
	}

	if lm.buffer.Len()+len(frame) > lm.opts.BufferSize {
		if err := lm.flushInternal(); err != nil {
			return InvalidLSN, fmt.Errorf("failed to flush log buffer before append: %w", err)
		}
	}
	if lm.currentSegmentFileOffset+frameSize > lm.opts.SegmentSize {
		if err := lm.rollLogSegment(); err != nil {
			return InvalidLSN, fmt.Errorf("failed to roll log segment before append: %w", err)
		}
	}

	lm.buffer.Write(frame)
	lm.currentSegmentFileOffset += frameSize
	lm.nextLSN++
	entry.SetLSN(lsn)

	if lm.buffer.Len() > lm.opts.BufferSize {
		// a single frame larger than the buffer goes straight to the file
		if err := lm.flushInternal(); err != nil {
			return lsn, fmt.Errorf("failed to write oversized log record: %w", err)
		}
	}
	return lsn, nil
}

// CurrentLSN returns the LSN of the last appended entry.
func (lm *LogManager) CurrentLSN() LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.nextLSN - 1
}

// FlushedLSN returns the highest LSN known to be durable.
func (lm *LogManager) FlushedLSN() LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushedLSN
}

// Flush makes every entry up to targetLSN durable. InvalidLSN flushes everything.
func (lm *LogManager) Flush(targetLSN LSN) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if targetLSN != InvalidLSN && targetLSN <= lm.flushedLSN {
		return nil
	}
	return lm.syncInternal()
}

// syncInternal writes the buffer and fsyncs. Must be called with lm.mu held.
func (lm *LogManager) syncInternal() error {
	if err := lm.flushInternal(); err != nil {
		return fmt.Errorf("failed to flush log buffer: %w", err)
	}
	if lm.logFile != nil {
		if err := lm.logFile.Sync(); err != nil {
			return fmt.Errorf("%w: failed to sync log file: %v", flushmanager.ErrLogFileError, err)
		}
	}
	lm.flushedLSN = lm.nextLSN - 1
	return nil
}

// flushInternal writes the buffered frames to the segment file without fsync.
// Must be called with lm.mu held.
func (lm *LogManager) flushInternal() error {
	if lm.buffer.Len() == 0 {
		return nil
	}
	if lm.logFile == nil {
		return fmt.Errorf("%w: log file is not open", flushmanager.ErrLogFileError)
	}
	n, err := lm.logFile.Write(lm.buffer.Bytes())
	if err != nil {
		return fmt.Errorf("%w: writing log buffer: %v", flushmanager.ErrLogFileError, err)
	}
	if n != lm.buffer.Len() {
		return fmt.Errorf("%w: short write, expected %d, wrote %d", flushmanager.ErrLogFileError, lm.buffer.Len(), n)
	}
	lm.buffer.Reset()
	return nil
}

// rollLogSegment syncs and archives the active segment and opens the next one.
// Must be called with lm.mu held.
func (lm *LogManager) rollLogSegment() error {
	if err := lm.syncInternal(); err != nil {
		return fmt.Errorf("failed to sync before rolling segment: %w", err)
	}
	if lm.logFile != nil {
		if err := lm.logFile.Close(); err != nil {
			return fmt.Errorf("failed to close log file %s: %w", lm.getLogSegmentPath(lm.currentSegmentID), err)
		}
		lm.logFile = nil
	}

	oldSegmentPath := lm.getLogSegmentPath(lm.currentSegmentID)
	archivePath := filepath.Join(lm.opts.ArchiveDir, filepath.Base(oldSegmentPath))
	if err := os.Rename(oldSegmentPath, archivePath); err != nil {
		return fmt.Errorf("failed to archive log segment %s to %s: %w", oldSegmentPath, archivePath, err)
	}

	lm.currentSegmentID++
	newSegmentPath := lm.getLogSegmentPath(lm.currentSegmentID)
	newLogFile, err := os.OpenFile(newSegmentPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open new log segment %s: %w", newSegmentPath, err)
	}
	lm.logFile = newLogFile
	lm.currentSegmentFileOffset = 0
	lm.logger.Debug("rolled log segment", zap.String("archived", archivePath), zap.String("active", newSegmentPath))
	return nil
}

// flusher periodically writes and syncs the buffer.
func (lm *LogManager) flusher() {
	defer lm.wg.Done()
	ticker := time.NewTicker(lm.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stopChan:
			return
		case <-ticker.C:
			lm.mu.Lock()
			if lm.buffer.Len() > 0 {
				if err := lm.syncInternal(); err != nil {
					lm.logger.Error("periodic journal flush failed", zap.Error(err))
				}
			}
			lm.mu.Unlock()
		}
	}
}

// NewReader returns a reader positioned at the first entry with LSN >= fromLSN.
// Everything appended before the call is visible to the reader.
func (lm *LogManager) NewReader(fromLSN LSN) (*Reader, error) {
	lm.mu.Lock()
	if err := lm.flushInternal(); err != nil {
		lm.mu.Unlock()
		return nil, err
	}
	segments, err := lm.getOrderedLogSegments()
	lm.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &Reader{segments: segments, from: fromLSN, logger: lm.logger}, nil
}

// Close stops the flusher, makes the buffer durable and closes the active segment.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	if lm.closed {
		lm.mu.Unlock()
		return nil
	}
	lm.closed = true
	lm.mu.Unlock()

	close(lm.stopChan)
	lm.wg.Wait()

	lm.mu.Lock()
	defer lm.mu.Unlock()
	var firstErr error
	if err := lm.syncInternal(); err != nil {
		firstErr = err
	}
	if lm.logFile != nil {
		if err := lm.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		lm.logFile = nil
	}
	lm.logger.Info("log manager closed", zap.Uint64("last_lsn", uint64(lm.nextLSN-1)))
	return firstErr
}

// Reader iterates journal records across archived and active segments.
type Reader struct {
	segments []segmentInfo
	idx      int
	file     *os.File
	br       *bufio.Reader
	from     LSN
	logger   *zap.Logger
}

// Next returns the next record, or io.EOF after the last intact one.
func (r *Reader) Next() (Record, error) {
	for {
		if r.br == nil {
			if r.idx >= len(r.segments) {
				return Record{}, io.EOF
			}
			f, err := os.Open(r.segments[r.idx].path)
			if err != nil {
				return Record{}, fmt.Errorf("failed to open log segment %s: %w", r.segments[r.idx].path, err)
			}
			r.file, r.br = f, bufio.NewReader(f)
		}
		rec, _, err := readFrame(r.br)
		if err != nil {
			last := r.idx == len(r.segments)-1
			path := r.segments[r.idx].path
			r.closeSegment()
			r.idx++
			if errors.Is(err, io.EOF) {
				continue
			}
			if last && errors.Is(err, flushmanager.ErrTornLogRecord) {
				r.logger.Warn("journal ends with a torn record", zap.String("segment", path), zap.Error(err))
				return Record{}, io.EOF
			}
			return Record{}, err
		}
		if rec.LSN < r.from {
			continue
		}
		return rec, nil
	}
}

func (r *Reader) closeSegment() {
	if r.file != nil {
		r.file.Close()
	}
	r.file, r.br = nil, nil
}

// Close releases the open segment, if any.
func (r *Reader) Close() error {
	r.closeSegment()
	r.idx = len(r.segments)
	return nil
}

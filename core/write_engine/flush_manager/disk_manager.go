package flushmanager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

const (
	// DBMagic identifies a domstore data file.
	DBMagic uint32 = 0xD0A5707E
	// DBVersion is the on-disk format version.
	DBVersion uint32 = 1

	dbFileHeaderSize  = 64
	MaxFilenameLength = 255
	MinPageSize       = 512
)

// DBFileHeader is stored at the start of page 0.
// All fields have fixed sizes so binary.Read/Write stay consistent.
type DBFileHeader struct {
	Magic         uint32
	Version       uint32
	PageSize      uint32
	CleanShutdown uint32             // 1 when the file was closed after a full flush
	FreeListHead  pagemanager.PageID // first page of the free page list
	CheckpointLSN pagemanager.LSN    // every journal entry below this LSN is reflected in the file
	LastTxnID     uint64             // highest transaction id handed out before the last sync
	_             [dbFileHeaderSize - (4*4 + 3*8)]byte
}

// DiskManager reads and writes fixed-size pages of a single data file.
// The file header is cached in memory and written back on Sync.
type DiskManager struct {
	filePath    string
	file        *os.File
	pageSize    int
	numPages    uint64 // highest page id + 1, page 0 included
	header      DBFileHeader
	headerDirty bool
	mu          sync.Mutex
	logger      *zap.Logger
}

// NewDiskManager validates the arguments; the file is opened by OpenOrCreateFile.
func NewDiskManager(filePath string, pageSize int, logger *zap.Logger) (*DiskManager, error) {
	if len(filePath) > MaxFilenameLength {
		return nil, fmt.Errorf("file path too long: %s", filePath)
	}
	if pageSize < MinPageSize {
		return nil, fmt.Errorf("page size %d below minimum %d", pageSize, MinPageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskManager{
		filePath: filePath,
		pageSize: pageSize,
		logger:   logger.Named("disk_manager"),
	}, nil
}

// OpenOrCreateFile opens the data file, creating and initializing it when it does
// not exist. It returns the header as found on disk and whether the file was created.
func (dm *DiskManager) OpenOrCreateFile() (DBFileHeader, bool, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	_, statErr := os.Stat(dm.filePath)
	switch {
	case os.IsNotExist(statErr):
		file, err := os.OpenFile(dm.filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return DBFileHeader{}, false, fmt.Errorf("%w: creating file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file
		dm.header = DBFileHeader{
			Magic:         DBMagic,
			Version:       DBVersion,
			PageSize:      uint32(dm.pageSize),
			CleanShutdown: 1,
		}
		// Page 0 is reserved for the header; data pages start at 1.
		if _, err := dm.file.WriteAt(make([]byte, dm.pageSize), 0); err != nil {
			_ = os.Remove(dm.filePath)
			return DBFileHeader{}, false, fmt.Errorf("%w: reserving header page: %v", ErrIO, err)
		}
		if err := dm.writeHeader(); err != nil {
			_ = os.Remove(dm.filePath)
			return DBFileHeader{}, false, fmt.Errorf("failed to write initial header: %w", err)
		}
		dm.numPages = 1
		dm.logger.Info("created data file", zap.String("path", dm.filePath), zap.Int("page_size", dm.pageSize))
		return dm.header, true, nil

	case statErr == nil:
		file, err := os.OpenFile(dm.filePath, os.O_RDWR, 0666)
		if err != nil {
			return DBFileHeader{}, false, fmt.Errorf("%w: opening file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file
		if err := dm.readHeader(); err != nil {
			dm.closeInternal()
			return DBFileHeader{}, false, fmt.Errorf("failed to read data file header: %w", err)
		}
		if dm.header.Magic != DBMagic {
			dm.closeInternal()
			return DBFileHeader{}, false, fmt.Errorf("%w: got 0x%x in %s", ErrBadMagic, dm.header.Magic, dm.filePath)
		}
		if dm.header.PageSize != uint32(dm.pageSize) {
			dm.closeInternal()
			return DBFileHeader{}, false, fmt.Errorf("%w: file has %d, configured %d", ErrPageSizeMismatch, dm.header.PageSize, dm.pageSize)
		}
		fi, err := dm.file.Stat()
		if err != nil {
			dm.closeInternal()
			return DBFileHeader{}, false, fmt.Errorf("%w: getting file info: %v", ErrIO, err)
		}
		dm.numPages = uint64(fi.Size()) / uint64(dm.pageSize)
		if dm.numPages == 0 {
			dm.numPages = 1
		}
		dm.logger.Info("opened data file", zap.String("path", dm.filePath),
			zap.Uint64("pages", dm.numPages), zap.Bool("clean", dm.header.CleanShutdown == 1))
		return dm.header, false, nil

	default:
		return DBFileHeader{}, false, fmt.Errorf("%w: stating file %s: %v", ErrIO, dm.filePath, statErr)
	}
}

// writeHeader serializes the cached header into the start of page 0.
// Must be called with dm.mu held.
func (dm *DiskManager) writeHeader() error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, &dm.header); err != nil {
		return fmt.Errorf("%w: serializing header: %v", ErrSerialization, err)
	}
	if buf.Len() != dbFileHeaderSize {
		return fmt.Errorf("header serialization size (%d) differs from declared header size (%d)", buf.Len(), dbFileHeaderSize)
	}
	if _, err := dm.file.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("%w: writing header to disk: %v", ErrIO, err)
	}
	dm.headerDirty = false
	return nil
}

// readHeader loads the header from page 0. Must be called with dm.mu held.
func (dm *DiskManager) readHeader() error {
	data := make([]byte, dbFileHeaderSize)
	n, err := dm.file.ReadAt(data, 0)
	if err != nil {
		if err == io.EOF && n < dbFileHeaderSize {
			return fmt.Errorf("%w: data file too small (header too short)", ErrInvalidPageData)
		}
		return fmt.Errorf("%w: reading header from disk: %v", ErrIO, err)
	}
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &dm.header); err != nil {
		return fmt.Errorf("%w: deserializing header: %v", ErrDeserialization, err)
	}
	return nil
}

// Header returns a copy of the cached file header.
func (dm *DiskManager) Header() DBFileHeader {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.header
}

// UpdateHeader changes the cached header; it reaches disk on the next Sync.
func (dm *DiskManager) UpdateHeader(updateFunc func(header *DBFileHeader)) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	updateFunc(&dm.header)
	dm.headerDirty = true
}

// ReadPage reads a page's bytes into pageData.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileClosed
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("page data buffer size (%d) != disk manager page size (%d)", len(pageData), dm.pageSize)
	}
	if pageID == pagemanager.InvalidPageID || uint64(pageID) >= dm.numPages {
		return fmt.Errorf("%w: page %d (file has %d pages)", ErrPageOutOfBounds, pageID, dm.numPages)
	}
	offset := int64(pageID) * int64(dm.pageSize)
	n, err := dm.file.ReadAt(pageData, offset)
	if err == io.EOF && n < dm.pageSize {
		// pages reserved by EnsurePage but never written read back as zeros
		clear(pageData[n:])
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	return nil
}

// WritePage writes pageData at the location of pageID.
func (dm *DiskManager) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileClosed
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("page data buffer size (%d) != disk manager page size (%d)", len(pageData), dm.pageSize)
	}
	if pageID == pagemanager.InvalidPageID {
		return fmt.Errorf("%w: refusing to overwrite the header page", ErrInvalidPageData)
	}
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(pageData, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	if uint64(pageID) >= dm.numPages {
		dm.numPages = uint64(pageID) + 1
	}
	return nil
}

// allocateRawPageInternal extends the file by one zeroed page.
func (dm *DiskManager) allocateRawPageInternal() (pagemanager.PageID, error) {
	newPageID := pagemanager.PageID(dm.numPages)
	offset := int64(newPageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(make([]byte, dm.pageSize), offset); err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("%w: extending file for new page %d: %v", ErrIO, newPageID, err)
	}
	dm.numPages++
	return newPageID, nil
}

// AllocatePage appends a new page to the file and returns its ID.
func (dm *DiskManager) AllocatePage() (pagemanager.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return pagemanager.InvalidPageID, ErrFileClosed
	}
	return dm.allocateRawPageInternal()
}

// EnsurePage grows the file so that pageID can be read. Journal replay needs it
// for pages that were allocated but never flushed before a crash.
func (dm *DiskManager) EnsurePage(pageID pagemanager.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileClosed
	}
	if uint64(pageID) < dm.numPages {
		return nil
	}
	if err := dm.file.Truncate(int64(pageID+1) * int64(dm.pageSize)); err != nil {
		return fmt.Errorf("%w: growing file to page %d: %v", ErrIO, pageID, err)
	}
	dm.logger.Debug("grew data file", zap.Uint64("from_pages", dm.numPages), zap.Uint64("to_page", uint64(pageID)))
	dm.numPages = uint64(pageID) + 1
	return nil
}

func (dm *DiskManager) GetPageSize() int { return dm.pageSize }
func (dm *DiskManager) FilePath() string { return dm.filePath }

// GetNumPages returns the number of pages in the file, header page included.
func (dm *DiskManager) GetNumPages() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numPages
}

// Sync writes a changed header and flushes the file to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.syncInternal()
}

func (dm *DiskManager) syncInternal() error {
	if dm.file == nil {
		return nil
	}
	if dm.headerDirty {
		if err := dm.writeHeader(); err != nil {
			return err
		}
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, dm.filePath, err)
	}
	return nil
}

// Close syncs and closes the underlying file handle.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	if err := dm.syncInternal(); err != nil {
		dm.logger.Error("sync on close failed", zap.Error(err))
	}
	return dm.closeInternal()
}

func (dm *DiskManager) closeInternal() error {
	err := dm.file.Close()
	dm.file = nil
	return err
}

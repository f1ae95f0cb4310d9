package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrPageNotFound      = errors.New("page not found in buffer pool")
	ErrBufferPoolFull    = errors.New("buffer pool is full and no pages can be evicted")
	ErrPagePinned        = errors.New("page is pinned and cannot be evicted")
	ErrPageOutOfBounds   = errors.New("page id beyond end of data file")
	ErrSerialization     = errors.New("error during serialization")
	ErrDeserialization   = errors.New("error during deserialization")
	ErrIO                = errors.New("i/o error")
	ErrChecksumMismatch  = errors.New("checksum mismatch, data corruption suspected")
	ErrInvalidPageData   = errors.New("invalid page data")
	ErrDBFileExists      = errors.New("data file already exists")
	ErrDBFileNotFound    = errors.New("data file not found")
	ErrBadMagic          = errors.New("invalid data file magic number")
	ErrPageSizeMismatch  = errors.New("data file page size does not match configuration")
	ErrFileClosed        = errors.New("data file is not open")
	ErrLogRecordTooLarge = errors.New("log record too large for log buffer")
	ErrLogFileError      = errors.New("log file operation error")
	ErrLogClosed         = errors.New("log manager is closed")
	ErrTornLogRecord     = errors.New("torn or truncated log record")
	ErrUnknownLogType    = errors.New("unknown log entry type")
	ErrTxnNotFound       = errors.New("transaction not found")
	ErrTxnInvalidState   = errors.New("transaction is in an invalid state for this operation")
	ErrIteratorInvalid   = errors.New("iterator is invalid or exhausted")
)

package domstore

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"github.com/sushant-115/domstore/core/write_engine/wal"
	"go.uber.org/zap"
)

var (
	ErrReadOnly       = errors.New("store is read-only")
	ErrNotFound       = errors.New("record not found")
	ErrLengthMismatch = errors.New("new value length differs from stored value")
	ErrLinkRemoval    = errors.New("link record of relocated value not found")
	ErrEmptyValue     = errors.New("empty value")
	ErrCorruption     = errors.New("store corruption")
	ErrClosed         = errors.New("store is closed")
)

// CorruptionError reports a broken page invariant. It unwraps to ErrCorruption.
type CorruptionError struct {
	Page   pagemanager.PageID
	TID    pagemanager.TID
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corruption at page %d tid %s: %s", e.Page, e.TID, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrCorruption }

// corrupt logs and returns a stack-carrying corruption error.
func (s *Store) corrupt(page pagemanager.PageID, tid pagemanager.TID, format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	s.logger.Error("page corruption detected",
		zap.Uint64("page", uint64(page)), zap.Stringer("tid", tid), zap.String("reason", reason))
	return pkgerrors.WithStack(&CorruptionError{Page: page, TID: tid, Reason: reason})
}

// RecoveryError stops a recovery pass at the entry that failed.
type RecoveryError struct {
	LSN  wal.LSN
	Type wal.EntryType
	Err  error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recovery failed at lsn %d (%s): %v", e.LSN, e.Type, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

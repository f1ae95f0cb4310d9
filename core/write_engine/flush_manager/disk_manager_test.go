package flushmanager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

const testPageSize = 512

func setupDiskManager(t *testing.T, path string) *DiskManager {
	t.Helper()
	dm, err := NewDiskManager(path, testPageSize, zap.NewNop())
	require.NoError(t, err)
	_, _, err = dm.OpenOrCreateFile()
	require.NoError(t, err)
	return dm
}

func TestDiskManager_CreateAllocateReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dom.dbx")
	dm, err := NewDiskManager(path, testPageSize, zap.NewNop())
	require.NoError(t, err)

	header, created, err := dm.OpenOrCreateFile()
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, DBMagic, header.Magic)
	require.Equal(t, uint64(1), dm.GetNumPages())

	pageID, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(1), pageID)

	data := make([]byte, testPageSize)
	copy(data, "hello page")
	require.NoError(t, dm.WritePage(pageID, data))

	readBack := make([]byte, testPageSize)
	require.NoError(t, dm.ReadPage(pageID, readBack))
	require.Equal(t, data, readBack)

	require.ErrorIs(t, dm.ReadPage(9, readBack), ErrPageOutOfBounds)
	require.ErrorIs(t, dm.WritePage(pagemanager.InvalidPageID, data), ErrInvalidPageData)
	require.NoError(t, dm.Close())
}

func TestDiskManager_HeaderPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dom.dbx")
	dm := setupDiskManager(t, path)
	_, err := dm.AllocatePage()
	require.NoError(t, err)

	dm.UpdateHeader(func(h *DBFileHeader) {
		h.FreeListHead = 1
		h.CheckpointLSN = 42
		h.CleanShutdown = 0
	})
	require.NoError(t, dm.Close())

	reopened, err := NewDiskManager(path, testPageSize, zap.NewNop())
	require.NoError(t, err)
	header, created, err := reopened.OpenOrCreateFile()
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, pagemanager.PageID(1), header.FreeListHead)
	require.Equal(t, pagemanager.LSN(42), header.CheckpointLSN)
	require.Equal(t, uint32(0), header.CleanShutdown)
	require.Equal(t, uint64(2), reopened.GetNumPages())
	require.NoError(t, reopened.Close())
}

func TestDiskManager_PageSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dom.dbx")
	require.NoError(t, setupDiskManager(t, path).Close())

	other, err := NewDiskManager(path, testPageSize*2, zap.NewNop())
	require.NoError(t, err)
	_, _, err = other.OpenOrCreateFile()
	require.ErrorIs(t, err, ErrPageSizeMismatch)
}

// EnsurePage lets replay touch pages that never reached the file.
func TestDiskManager_EnsurePage(t *testing.T) {
	dm := setupDiskManager(t, filepath.Join(t.TempDir(), "dom.dbx"))
	defer dm.Close()

	buf := make([]byte, testPageSize)
	require.ErrorIs(t, dm.ReadPage(5, buf), ErrPageOutOfBounds)
	require.NoError(t, dm.EnsurePage(5))
	require.Equal(t, uint64(6), dm.GetNumPages())
	require.NoError(t, dm.ReadPage(5, buf))
	require.Equal(t, make([]byte, testPageSize), buf)

	next, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(6), next)
}

package common

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"
)

func TestCopyThrottled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	data := make([]byte, chunkSize+12345)
	rand.New(rand.NewSource(7)).Read(data)
	require.NoError(t, os.WriteFile(src, data, 0644))

	dst := filepath.Join(dir, "dst.bin")
	res, err := CopyThrottled(context.Background(), src, dst, 0)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), res.Bytes)
	require.Equal(t, xxhash.Sum64(data), res.Checksum)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))

	sum, err := ChecksumFile(dst)
	require.NoError(t, err)
	require.Equal(t, res.Checksum, sum)
}

func TestCopyThrottled_Cancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CopyThrottled(ctx, src, filepath.Join(dir, "dst.bin"), 1024)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCopyThrottled_MissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := CopyThrottled(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "dst"), 0)
	require.Error(t, err)
}

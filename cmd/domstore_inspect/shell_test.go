package main

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushant-115/domstore/core/domstore"
	"github.com/sushant-115/domstore/core/write_engine/wal"
	"go.uber.org/zap"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()
	store, err := domstore.Open(domstore.Options{
		DataFile: filepath.Join(dir, "inspect.dbx"),
		PageSize: 512,
		WAL:      wal.Options{Dir: filepath.Join(dir, "wal")},
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	var out bytes.Buffer
	return newShell(store, &out), &out
}

var storedAt = regexp.MustCompile(`stored at (\d+:\d+)`)

func lastAddress(t *testing.T, out string) string {
	t.Helper()
	m := storedAt.FindAllStringSubmatch(out, -1)
	require.NotEmpty(t, m, out)
	return m[len(m)-1][1]
}

func TestShell_Commands(t *testing.T) {
	sh, out := newTestShell(t)
	ctx := context.Background()

	require.NoError(t, sh.exec(ctx, "append hello world"))
	first := lastAddress(t, out.String())
	require.NoError(t, sh.exec(ctx, "append third"))
	require.NoError(t, sh.exec(ctx, "insert "+first+" second"))

	out.Reset()
	require.NoError(t, sh.exec(ctx, "get "+first))
	assert.Equal(t, "\"hello world\"\n", out.String())

	out.Reset()
	require.NoError(t, sh.exec(ctx, "scan "+first))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], `"second"`)

	require.NoError(t, sh.exec(ctx, "update "+first+" HELLO WORLD"))
	out.Reset()
	require.NoError(t, sh.exec(ctx, "get "+first))
	assert.Equal(t, "\"HELLO WORLD\"\n", out.String())
	require.Error(t, sh.exec(ctx, "update "+first+" short"))

	page, _, _ := strings.Cut(first, ":")
	out.Reset()
	require.NoError(t, sh.exec(ctx, "dump "+page))
	assert.Contains(t, out.String(), "records=3")
	out.Reset()
	require.NoError(t, sh.exec(ctx, "chain "+page))
	assert.Contains(t, out.String(), "(1 pages)")

	require.NoError(t, sh.exec(ctx, "remove "+first))
	out.Reset()
	require.NoError(t, sh.exec(ctx, "get "+first))
	assert.Contains(t, out.String(), "no value at")

	require.NoError(t, sh.exec(ctx, "flush"))
	require.NoError(t, sh.exec(ctx, "checkpoint"))
	out.Reset()
	require.NoError(t, sh.exec(ctx, "stats"))
	assert.Contains(t, out.String(), "WorkingSize")

	require.ErrorIs(t, sh.exec(ctx, "quit"), errQuit)
	require.Error(t, sh.exec(ctx, "frobnicate"))
	require.Error(t, sh.exec(ctx, "get nonsense"))
	require.Error(t, sh.exec(ctx, "dump 0"))
}

func TestShell_ScanLimit(t *testing.T) {
	sh, out := newTestShell(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, sh.exec(ctx, "append v"))
	}
	first := storedAt.FindStringSubmatch(out.String())[1]

	out.Reset()
	require.NoError(t, sh.exec(ctx, "scan "+first+" 2"))
	assert.Contains(t, out.String(), "stopped after 2 values")
	require.Error(t, sh.exec(ctx, "scan "+first+" zero"))
}

func TestBatch(t *testing.T) {
	sh, out := newTestShell(t)
	script := strings.Join([]string{
		"# comment",
		"append one",
		"",
		"help",
		"quit",
		"append never",
	}, "\n")
	require.NoError(t, batch(context.Background(), sh, strings.NewReader(script)))
	assert.Equal(t, 1, strings.Count(out.String(), "stored at"))
	assert.Contains(t, out.String(), "snapshot <dir>")

	err := batch(context.Background(), sh, strings.NewReader("append x\nbogus\n"))
	require.ErrorContains(t, err, "line 2")
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig("", filepath.Join(dir, "x.dbx"), "", true, "debug")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x.dbx"), cfg.Storage.DataFile)
	assert.Equal(t, filepath.Join(dir, "wal"), cfg.WAL.Dir)
	assert.True(t, cfg.Storage.ReadOnly)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

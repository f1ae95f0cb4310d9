// Command domstore_inspect opens a page store and runs an interactive shell
// over it.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sushant-115/domstore/config"
	"github.com/sushant-115/domstore/core/domstore"
	internaltelemetry "github.com/sushant-115/domstore/internal/telemetry"
	"github.com/sushant-115/domstore/pkg/logger"
	"github.com/sushant-115/domstore/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		dataFile   = flag.String("data", "", "data file, overrides storage.data_file")
		walDir     = flag.String("wal", "", "journal directory, overrides wal.dir")
		readOnly   = flag.Bool("read-only", false, "open without recovery and reject writes")
		logLevel   = flag.String("log-level", "", "log level, overrides logger.level")
	)
	flag.Parse()

	if err := run(*configPath, *dataFile, *walDir, *readOnly, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("domstore_inspect: %v", err))
		os.Exit(1)
	}
}

func loadConfig(path, dataFile, walDir string, readOnly bool, logLevel string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if dataFile != "" {
		cfg.Storage.DataFile = dataFile
		if walDir == "" && path == "" {
			cfg.WAL.Dir = filepath.Join(filepath.Dir(dataFile), "wal")
		}
	}
	if walDir != "" {
		cfg.WAL.Dir = walDir
	}
	if readOnly {
		cfg.Storage.ReadOnly = true
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func run(configPath, dataFile, walDir string, readOnly bool, logLevel string) error {
	cfg, err := loadConfig(configPath, dataFile, walDir, readOnly, logLevel)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer log.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()
	metrics, err := internaltelemetry.NewStoreMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("store metrics: %w", err)
	}

	opts, err := domstore.OptionsFromConfig(cfg, log)
	if err != nil {
		return err
	}
	opts.Metrics = metrics
	opts.Tracer = tel.Tracer

	store, err := domstore.Open(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("closing store", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	sh := newShell(store, os.Stdout)
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		color.NoColor = true
		return batch(ctx, sh, os.Stdin)
	}
	return interactive(ctx, sh, cfg.Storage.DataFile)
}

// batch runs one command per input line and stops at the first error.
func batch(ctx context.Context, sh *shell, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := sh.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}

func interactive(ctx context.Context, sh *shell, dataFile string) error {
	items := make([]readline.PrefixCompleterInterface, 0, len(commandHelp))
	for _, h := range commandHelp {
		name, _, _ := strings.Cut(h.usage, " ")
		items = append(items, readline.PcItem(name))
	}
	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          color.CyanString("domstore> "),
		HistoryFile:     filepath.Join(home, ".domstore_inspect_history"),
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(sh.out, "inspecting %s, type help for commands\n", dataFile)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		if err := sh.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			sh.report(err)
		}
	}
}

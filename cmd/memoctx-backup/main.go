// Command memoctx-backup copies the memo store to and from blob storage.
// The store and blob backends are selected with the MEMOCTX_STORAGE_* and
// MEMOCTX_BLOB_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"memoctx/internal/blob"
	"memoctx/internal/core"
)

const (
	modeBackup  = "backup"
	modeRestore = "restore"
	modeList    = "list"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("memoctx-backup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var mode, key string
	fs.StringVar(&mode, "mode", modeBackup, "backup|restore|list")
	fs.StringVar(&key, "key", "memoctx/backup.json", "blob key of the backup document")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	switch mode {
	case modeBackup, modeRestore, modeList:
	default:
		_, _ = fmt.Fprintf(stderr, "unknown mode %q\n", mode)
		return 2
	}

	logger := newLogger(stderr)
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), mode, key, stdout, logger); err != nil {
		logger.Error("memoctx-backup failed", zap.String("mode", mode), zap.String("key", key), zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, mode, key string, stdout io.Writer, logger *zap.Logger) (err error) {
	store, err := core.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()

	if mode == modeList {
		memos, err := store.List(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(memos)
	}

	blobs, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	switch mode {
	case modeBackup:
		info, err := core.BackupStore(ctx, store, blobs, key)
		if err != nil {
			return err
		}
		logger.Info("backup written", zap.String("key", info.Key), zap.Int64("size_bytes", info.Size), zap.String("driver", string(blobs.Driver())))
	case modeRestore:
		n, err := core.RestoreStore(ctx, blobs, key, store)
		if err != nil {
			return err
		}
		logger.Info("backup restored", zap.String("key", key), zap.Int("rows", n))
	}
	return nil
}

func newLogger(w io.Writer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), zapcore.InfoLevel))
}

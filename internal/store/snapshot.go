// Package store publishes snapshots and history rows to the shared files
// that presenters read.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hwpulse/internal/monitoring"
)

const (
	filePerm       = 0644
	initialBackoff = 50 * time.Millisecond
)

// WriteFileAtomic replaces path with data so that concurrent readers see
// either the previous content or the new content, never a partial file.
// The temp file lives in the destination directory so the rename stays on
// one filesystem.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// SnapshotWriter publishes the snapshot document with bounded retries.
type SnapshotWriter struct {
	path    string
	retries int
	backoff time.Duration
	logger  *slog.Logger
	write   func(path string, data []byte) error
}

// NewSnapshotWriter returns a writer for path that retries a failed write
// up to retries more times.
func NewSnapshotWriter(path string, retries int, logger *slog.Logger) *SnapshotWriter {
	if retries < 0 {
		retries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotWriter{
		path:    path,
		retries: retries,
		backoff: initialBackoff,
		logger:  logger,
		write:   WriteFileAtomic,
	}
}

// Path returns the published snapshot location.
func (w *SnapshotWriter) Path() string {
	return w.path
}

// Encode renders a snapshot the way it is published.
func Encode(snap monitoring.Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap.Normalize(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Write publishes snap, retrying failed writes with a doubling backoff.
// The previous document stays in place when every attempt fails.
func (w *SnapshotWriter) Write(ctx context.Context, snap monitoring.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	data, err := Encode(snap)
	if err != nil {
		return err
	}

	backoff := w.backoff
	for attempt := 0; ; attempt++ {
		err = w.write(w.path, data)
		if err == nil {
			return nil
		}
		if attempt >= w.retries {
			return fmt.Errorf("publishing snapshot after %d attempts: %w", attempt+1, err)
		}

		w.logger.Debug("snapshot write failed, retrying", "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("publishing snapshot: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

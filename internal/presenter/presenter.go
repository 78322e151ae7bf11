// Package presenter is the read side of the snapshot file. It never writes
// collector files and tolerates the file being absent, stale or malformed.
package presenter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"hwpulse/internal/monitoring"
)

// Status describes how fresh the presented snapshot is.
type Status string

const (
	// StatusWaiting means no good snapshot has been read yet.
	StatusWaiting Status = "waiting"
	// StatusLive means the last read succeeded and is recent.
	StatusLive Status = "live"
	// StatusStale means the file is readable but its timestamp is too old.
	StatusStale Status = "stale"
	// StatusDisconnected means reads started failing after a good one.
	StatusDisconnected Status = "disconnected"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultStaleAfter   = 10 * time.Second
)

// View is what a presenter shows: the status plus the last good snapshot.
type View struct {
	Status   Status              `json:"status"`
	Snapshot monitoring.Snapshot `json:"snapshot"`
	// ReadAt is when the last good snapshot was read; zero while waiting.
	ReadAt time.Time `json:"read_at"`
	Error  string    `json:"error,omitempty"`

	raw []byte
}

// Raw returns the bytes of the last good snapshot file, or nil.
func (v View) Raw() []byte {
	return v.raw
}

// ReadSnapshot reads and decodes the snapshot at path. Missing keys take
// their sentinel values and every field is normalized.
func ReadSnapshot(path string) (monitoring.Snapshot, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return monitoring.Snapshot{}, nil, err
	}
	snap, err := Decode(data)
	if err != nil {
		return monitoring.Snapshot{}, nil, err
	}
	return snap, data, nil
}

// Decode parses a snapshot document leniently.
func Decode(data []byte) (monitoring.Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return monitoring.Snapshot{}, fmt.Errorf("empty snapshot document")
	}
	snap := monitoring.Empty()
	if err := json.Unmarshal(data, &snap); err != nil {
		return monitoring.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap.Normalize(), nil
}

// Options configures a Poller. Zero values take the defaults.
type Options struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// Poller reads the snapshot file on a fixed timer and keeps the current
// View. It is safe for concurrent use.
type Poller struct {
	path       string
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	view    View
	hadGood bool
}

// NewPoller watches the snapshot file at path. Zero options take defaults.
func NewPoller(path string, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{
		path:       path,
		interval:   opts.Interval,
		staleAfter: opts.StaleAfter,
		logger:     opts.Logger,
		now:        time.Now,
		view:       View{Status: StatusWaiting, Snapshot: monitoring.Empty()},
	}
}

// Path returns the snapshot file being watched.
func (p *Poller) Path() string {
	return p.path
}

// View returns the current view.
func (p *Poller) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view
}

// Poll reads the file once and returns the updated view.
func (p *Poller) Poll() View {
	snap, raw, err := ReadSnapshot(p.path)
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		next := p.view
		next.Error = err.Error()
		if p.hadGood {
			next.Status = StatusDisconnected
		} else {
			next.Status = StatusWaiting
		}
		if next.Status != p.view.Status {
			p.logger.Warn("snapshot unavailable", "path", p.path, "status", next.Status, "error", err)
		}
		p.view = next
		return next
	}

	status := StatusLive
	if ts, err := snap.Time(); err != nil || now.Sub(ts) > p.staleAfter {
		status = StatusStale
	}
	if status != p.view.Status {
		p.logger.Info("snapshot status changed", "path", p.path, "from", p.view.Status, "to", status)
	}

	p.hadGood = true
	p.view = View{Status: status, Snapshot: snap, ReadAt: now, raw: raw}
	return p.view
}

// Run polls until ctx is cancelled. onUpdate, when set, is called with
// every view whose status or timestamp differs from the previous one.
func (p *Poller) Run(ctx context.Context, onUpdate func(View)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := p.View()
	for {
		view := p.Poll()
		if onUpdate != nil && changed(last, view) {
			onUpdate(view)
		}
		last = view

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func changed(prev, next View) bool {
	return prev.Status != next.Status || prev.Snapshot.Timestamp != next.Snapshot.Timestamp
}

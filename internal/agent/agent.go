// Package agent runs the collection cycle on a fixed interval.
package agent

import (
	"context"
	"log/slog"
	"time"

	"hwpulse/internal/alerts"
	"hwpulse/internal/monitoring"
	"hwpulse/internal/store"
)

// Archiver is an optional extra sink for history records.
type Archiver interface {
	Append(ctx context.Context, r store.Record) error
}

// Options wires an Agent. History and Archive may be nil.
type Options struct {
	Collector *monitoring.Collector
	Writer    *store.SnapshotWriter
	History   *store.History
	Archive   Archiver
	Interval  time.Duration
	Logger    *slog.Logger
}

// Agent owns the sampling state between cycles. It is not safe for
// concurrent use; cycles run strictly one after another.
type Agent struct {
	collector *monitoring.Collector
	writer    *store.SnapshotWriter
	history   *store.History
	archive   Archiver
	interval  time.Duration
	logger    *slog.Logger

	state  monitoring.State
	cycles int
}

// New builds an agent from opts. Nil writer, history or archive disable
// that output.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Agent{
		collector: opts.Collector,
		writer:    opts.Writer,
		history:   opts.History,
		archive:   opts.Archive,
		interval:  interval,
		logger:    logger,
	}
}

// Cycles reports how many cycles have completed.
func (a *Agent) Cycles() int {
	return a.cycles
}

// Sample reads the host and evaluates alerts without publishing anything.
func (a *Agent) Sample(ctx context.Context) monitoring.Snapshot {
	snap, next := a.collector.Sample(ctx, a.state)
	a.state = next
	snap.Alerts = alerts.Evaluate(snap)
	return snap
}

// Warmup takes a baseline sample and waits window so the next sample has
// meaningful CPU and network rates.
func (a *Agent) Warmup(ctx context.Context, window time.Duration) error {
	_, a.state = a.collector.Sample(ctx, a.state)

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunOnce performs a single cycle: sample, evaluate alerts, publish the
// snapshot, then append history. Publication failures are logged and the
// cycle still completes. A cycle interrupted by ctx publishes nothing and
// is not counted.
func (a *Agent) RunOnce(ctx context.Context) monitoring.Snapshot {
	snap := a.Sample(ctx)
	if ctx.Err() != nil {
		a.logger.Debug("cycle interrupted, nothing published", "error", ctx.Err())
		return snap
	}

	if a.writer != nil {
		if err := a.writer.Write(ctx, snap); err != nil {
			a.logger.Warn("snapshot not published this cycle", "path", a.writer.Path(), "error", err)
		}
	}

	if a.history != nil {
		if err := a.history.Append(snap); err != nil {
			a.logger.Warn("history append failed", "path", a.history.Path(), "error", err)
		}
	}

	if a.archive != nil && ctx.Err() == nil {
		if err := a.archive.Append(ctx, store.RecordFromSnapshot(snap)); err != nil {
			a.logger.Warn("archive append failed", "error", err)
		}
	}

	a.cycles++
	if len(snap.Alerts) > 0 {
		a.logger.Info("alerts raised", "count", len(snap.Alerts), "alerts", snap.Alerts)
	}
	return snap
}

// Run executes cycles until ctx is cancelled, sleeping for whatever is left
// of the interval after each one. Cycles never overlap.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("collector started", "interval", a.interval)
	defer a.logger.Info("collector stopped", "cycles", a.cycles)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		start := time.Now()
		a.RunOnce(ctx)
		elapsed := time.Since(start)
		a.logger.Debug("cycle complete", "cycle", a.cycles, "elapsed", elapsed)

		timer.Reset(nextDelay(a.interval, elapsed))
	}
}

// nextDelay is max(0, interval - elapsed).
func nextDelay(interval, elapsed time.Duration) time.Duration {
	if d := interval - elapsed; d > 0 {
		return d
	}
	return 0
}

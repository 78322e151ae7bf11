package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Probe is one strategy for acquiring a metric family. Probes are tried in
// order and the first one that returns without error wins.
type Probe[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// chain runs probes in order, time-boxing each one.
type chain[T any] struct {
	family  string
	probes  []Probe[T]
	timeout time.Duration
	logger  *slog.Logger
}

func newChain[T any](family string, timeout time.Duration, logger *slog.Logger, probes ...Probe[T]) chain[T] {
	return chain[T]{
		family:  family,
		probes:  probes,
		timeout: timeout,
		logger:  logger,
	}
}

// run returns the first successful result and the name of the probe that
// produced it. When every probe fails the joined failures are returned.
func (c chain[T]) run(ctx context.Context) (T, string, error) {
	var zero T
	var errs []error

	for _, probe := range c.probes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		value, err := bounded(ctx, c.timeout, probe.Name, probe.Run)
		if err == nil {
			return value, probe.Name, nil
		}

		c.logger.Debug("probe unavailable", "family", c.family, "probe", probe.Name, "error", err)
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		errs = append(errs, noDevice(c.family, "no probes configured"))
	}
	return zero, "", errors.Join(errs...)
}

func (c chain[T]) names() []string {
	names := make([]string, 0, len(c.probes))
	for _, p := range c.probes {
		names = append(names, p.Name)
	}
	return names
}

// bounded runs fn on a helper goroutine and gives up once timeout elapses.
// fn receives a context that is cancelled at the deadline, which kills any
// subprocess started with exec.CommandContext.
func bounded[T any](ctx context.Context, timeout time.Duration, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: newProbeError(name, ErrorCodeCommandFailed, "probe panicked", fmt.Errorf("%v", r))}
			}
		}()
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		return zero, newProbeError(name, ErrorCodeTimeout, "timed out", ctx.Err())
	}
}

package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainFirstSuccessWins(t *testing.T) {
	var unreached atomic.Bool
	c := newChain("test", time.Second, discardLogger(),
		Probe[int]{Name: "broken", Run: func(ctx context.Context) (int, error) {
			return 0, noDevice("broken", "nothing here")
		}},
		Probe[int]{Name: "good", Run: func(ctx context.Context) (int, error) {
			return 7, nil
		}},
		Probe[int]{Name: "unreached", Run: func(ctx context.Context) (int, error) {
			unreached.Store(true)
			return 9, nil
		}},
	)

	value, name, err := c.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, value)
	assert.Equal(t, "good", name)
	assert.False(t, unreached.Load())
}

func TestChainTimedOutProbeFallsThrough(t *testing.T) {
	c := newChain("test", 20*time.Millisecond, discardLogger(),
		Probe[int]{Name: "hung", Run: func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}},
		Probe[int]{Name: "fallback", Run: func(ctx context.Context) (int, error) {
			return 3, nil
		}},
	)

	start := time.Now()
	value, name, err := c.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, value)
	assert.Equal(t, "fallback", name)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBoundedAbandonsProbeIgnoringContext(t *testing.T) {
	start := time.Now()
	_, err := bounded(context.Background(), 20*time.Millisecond, "sleepy", func(ctx context.Context) (int, error) {
		time.Sleep(300 * time.Millisecond)
		return 1, nil
	})

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestBoundedRecoversPanic(t *testing.T) {
	_, err := bounded(context.Background(), time.Second, "panicky", func(ctx context.Context) (int, error) {
		panic("boom")
	})

	var probeErr *ProbeError
	require.True(t, errors.As(err, &probeErr))
	assert.Equal(t, "panicky", probeErr.Probe)
}

func TestChainAllFailJoinsErrors(t *testing.T) {
	c := newChain("test", time.Second, discardLogger(),
		Probe[string]{Name: "missing", Run: func(ctx context.Context) (string, error) {
			return "", newProbeError("missing", ErrorCodeToolNotFound, "not installed", nil)
		}},
		Probe[string]{Name: "denied", Run: func(ctx context.Context) (string, error) {
			return "", newProbeError("denied", ErrorCodePermissionDenied, "permission denied", nil)
		}},
	)

	_, name, err := c.run(context.Background())
	require.Error(t, err)
	assert.Empty(t, name)
	assert.True(t, errors.Is(err, ErrToolNotFound))
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	assert.False(t, errors.Is(err, ErrParse))
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called atomic.Bool
	c := newChain("test", time.Second, discardLogger(),
		Probe[int]{Name: "never", Run: func(ctx context.Context) (int, error) {
			called.Store(true)
			return 1, nil
		}},
	)

	_, _, err := c.run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, called.Load())
}

func TestEmptyChain(t *testing.T) {
	_, _, err := newChain[int]("test", time.Second, discardLogger()).run(context.Background())
	assert.True(t, errors.Is(err, ErrNoDevice))
}

func TestProbeErrorFormatting(t *testing.T) {
	err := newProbeError("smartctl", ErrorCodePermissionDenied, "permission denied", errors.New("exit status 2"))
	assert.Equal(t, "[smartctl] permission denied (Code: 2004): exit status 2", err.Error())
	assert.Equal(t, "exit status 2", errors.Unwrap(err).Error())
}

package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jobwatch/internal/metrics"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// tickRecorder records the time of every action invocation
type tickRecorder struct {
	mu    sync.Mutex
	times []time.Time
}

func (r *tickRecorder) action(ctx context.Context) error {
	r.mu.Lock()
	r.times = append(r.times, time.Now())
	r.mu.Unlock()
	return nil
}

func (r *tickRecorder) snapshot() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...)
}

func waitDone(t *testing.T, p *Poller, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(timeout):
		t.Fatal("poller did not stop in time")
	}
}

// ============================================================================
// Basic Functionality Tests
// ============================================================================

func TestStartFiresImmediately(t *testing.T) {
	p := New()
	fired := make(chan struct{}, 1)

	err := p.Start(context.Background(), time.Hour, 2*time.Hour, func(ctx context.Context) error {
		fired <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	defer p.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("first tick should fire on Start")
	}
	assert.True(t, p.Running())
}

func TestStartRejectsInvalidDurations(t *testing.T) {
	p := New()
	noop := func(ctx context.Context) error { return nil }

	assert.ErrorIs(t, p.Start(context.Background(), 0, time.Second, noop), ErrInvalidInterval)
	assert.ErrorIs(t, p.Start(context.Background(), time.Second, 0, noop), ErrInvalidInterval)
	assert.False(t, p.Running())
}

func TestStartTwiceFails(t *testing.T) {
	p := New()
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, p.Start(context.Background(), time.Hour, time.Hour, noop))
	defer p.Stop()

	assert.ErrorIs(t, p.Start(context.Background(), time.Hour, time.Hour, noop), ErrAlreadyStarted)
}

func TestStopIsIdempotent(t *testing.T) {
	p := New()

	// before start
	assert.NotPanics(t, p.Stop)

	require.NoError(t, p.Start(context.Background(), 10*time.Millisecond, time.Hour, func(ctx context.Context) error {
		return nil
	}))

	assert.NotPanics(t, func() {
		p.Stop()
		p.Stop()
	})
	waitDone(t, p, time.Second)
	assert.Equal(t, Stopped, p.Reason())

	// after the loop has ended
	assert.NotPanics(t, p.Stop)
}

func TestDoneClosedBeforeStart(t *testing.T) {
	p := New()

	select {
	case <-p.Done():
	default:
		t.Fatal("Done should be closed for a poller that never started")
	}
	assert.NotPanics(t, p.Wait)
}

// ============================================================================
// Timeout Bound Tests
// ============================================================================

func TestTimeoutBound(t *testing.T) {
	const (
		interval    = 20 * time.Millisecond
		maxDuration = 90 * time.Millisecond
	)

	p := New()
	rec := &tickRecorder{}
	require.NoError(t, p.Start(context.Background(), interval, maxDuration, rec.action))

	waitDone(t, p, time.Second)
	p.Wait()

	times := rec.snapshot()
	require.NotEmpty(t, times)

	maxTicks := int(maxDuration/interval) + 1
	assert.LessOrEqual(t, len(times), maxTicks, "ticks must not exceed floor(T/I)+1")
	assert.Equal(t, len(times), p.Ticks())
	assert.Equal(t, TimedOut, p.Reason())

	for _, ts := range times {
		assert.Less(t, ts.Sub(times[0]), maxDuration, "no tick may fire at or after the deadline")
	}

	// nothing fires once the loop has ended
	time.Sleep(3 * interval)
	assert.Len(t, rec.snapshot(), len(times))
}

func TestStopPreventsFutureTicks(t *testing.T) {
	p := New()
	rec := &tickRecorder{}
	require.NoError(t, p.Start(context.Background(), 5*time.Millisecond, time.Hour, rec.action))

	time.Sleep(20 * time.Millisecond)
	p.Stop()
	p.Wait()

	count := len(rec.snapshot())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, len(rec.snapshot()))
}

func TestContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New()
	require.NoError(t, p.Start(ctx, 5*time.Millisecond, time.Hour, func(ctx context.Context) error {
		return nil
	}))

	cancel()
	waitDone(t, p, time.Second)
	assert.Equal(t, Cancelled, p.Reason())
}

// ============================================================================
// Action Failure Tests
// ============================================================================

func TestActionErrorsDoNotStopLoop(t *testing.T) {
	var failures atomic.Int32
	p := New(WithOnError(func(err error) {
		failures.Add(1)
	}))

	require.NoError(t, p.Start(context.Background(), 5*time.Millisecond, 40*time.Millisecond, func(ctx context.Context) error {
		return errors.New("network down")
	}))
	waitDone(t, p, time.Second)
	p.Wait()

	assert.Equal(t, TimedOut, p.Reason(), "errors must not end the loop early")
	assert.Greater(t, p.Ticks(), 1)
	assert.Equal(t, int32(p.Ticks()), failures.Load())
}

func TestActionPanicIsReported(t *testing.T) {
	var reported atomic.Bool
	p := New(WithOnError(func(err error) {
		reported.Store(true)
	}))

	require.NoError(t, p.Start(context.Background(), time.Hour, time.Hour, func(ctx context.Context) error {
		panic("boom")
	}))
	defer p.Stop()

	assert.Eventually(t, reported.Load, time.Second, 5*time.Millisecond)
	assert.True(t, p.Running())
}

func TestOverlappingActionsAllowed(t *testing.T) {
	var current, peak atomic.Int32
	p := New()

	require.NoError(t, p.Start(context.Background(), 5*time.Millisecond, 60*time.Millisecond, func(ctx context.Context) error {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		current.Add(-1)
		return nil
	}))

	p.Wait()
	assert.GreaterOrEqual(t, peak.Load(), int32(2), "slow actions should overlap with later ticks")
	assert.Equal(t, int32(0), current.Load(), "Wait returns after in-flight actions finish")
}

func TestInFlightActionCompletesAfterStop(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	p := New()

	require.NoError(t, p.Start(context.Background(), time.Hour, time.Hour, func(ctx context.Context) error {
		<-release
		finished.Store(true)
		return nil
	}))

	p.Stop()
	waitDone(t, p, time.Second)
	assert.False(t, finished.Load())

	close(release)
	p.Wait()
	assert.True(t, finished.Load())
}

func TestRestartAfterStop(t *testing.T) {
	p := New()
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, p.Start(context.Background(), time.Hour, time.Hour, noop))
	p.Stop()
	p.Wait()

	require.NoError(t, p.Start(context.Background(), time.Hour, time.Hour, noop))
	defer p.Stop()
	assert.Eventually(t, func() bool { return p.Ticks() == 2 }, time.Second, 5*time.Millisecond)
}

func TestTicksAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	p := New(WithMetrics(collector), WithName("test"))

	require.NoError(t, p.Start(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(ctx context.Context) error {
		return nil
	}))
	p.Wait()

	count, err := testutil.GatherAndCount(reg, "jobwatch_poll_ticks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.GreaterOrEqual(t, p.Ticks(), 1)
}

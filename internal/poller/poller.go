// ============================================================================
// jobwatch Poller - interval fetch loop with a hard deadline
// ============================================================================
//
// Package: internal/poller
// File: poller.go
// Purpose: Invoke an action every interval until stopped or until the maximum
//          polling duration elapses
//
// Tick model:
//   ┌──────────────────────────────────────────────┐
//   │ t=0   tick (immediately on Start)            │
//   │ t=I   tick                                   │
//   │ ...                                          │
//   │ t=kI  tick while kI < maxDuration            │
//   │ t=T   deadline fires, loop exits             │
//   └──────────────────────────────────────────────┘
//   At most floor(T/I)+1 ticks fire and none fires at or after T.
//
// Action semantics:
//   - Each tick runs the action on its own goroutine, so a slow action can
//     overlap the next tick. Callers reconcile with full-snapshot
//     replacement, which makes overlap harmless.
//   - Action errors and panics are reported and never end the loop.
//   - Stop only prevents future ticks. In-flight actions run to completion;
//     use Wait to block until they have returned.
//
// ============================================================================

package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/jobwatch/internal/metrics"
)

var log = slog.Default()

var (
	// ErrAlreadyStarted is returned when Start is called on a running poller
	ErrAlreadyStarted = errors.New("poller already started")
	// ErrInvalidInterval is returned for non-positive interval or duration
	ErrInvalidInterval = errors.New("poll interval and max duration must be positive")
)

// Action is invoked once per tick.
type Action func(ctx context.Context) error

// StopReason describes why the loop ended.
type StopReason int

const (
	// NotStopped means the loop is still running or never started
	NotStopped StopReason = iota
	// Stopped means Stop was called
	Stopped
	// TimedOut means the max duration elapsed
	TimedOut
	// Cancelled means the context passed to Start was cancelled
	Cancelled
)

func (r StopReason) String() string {
	switch r {
	case Stopped:
		return "stopped"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "not_stopped"
	}
}

// Option configures a Poller.
type Option func(*Poller)

// WithName sets the name used in log lines.
func WithName(name string) Option {
	return func(p *Poller) {
		p.name = name
	}
}

// WithOnError sets a hook invoked for every failed action.
func WithOnError(fn func(error)) Option {
	return func(p *Poller) {
		p.onError = fn
	}
}

// WithMetrics counts ticks on the collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// Poller runs an action on a fixed cadence.
type Poller struct {
	name    string
	onError func(error)
	metrics *metrics.Collector

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
	reason   StopReason
	ticks    int
	inFlight sync.WaitGroup
}

// New creates an idle poller.
func New(opts ...Option) *Poller {
	p := &Poller{
		name:    "poller",
		onError: func(error) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins invoking action every interval. The loop ends on Stop, when
// ctx is cancelled, or once maxDuration has elapsed. A stopped poller may be
// started again; tick counts accumulate across runs.
func (p *Poller) Start(ctx context.Context, interval, maxDuration time.Duration, action Action) error {
	if interval <= 0 || maxDuration <= 0 {
		return ErrInvalidInterval
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.running = true
	p.reason = NotStopped
	p.stopCh = make(chan struct{})
	p.stopOnce = &sync.Once{}
	p.done = make(chan struct{})
	stopCh, done := p.stopCh, p.done
	p.mu.Unlock()

	go p.loop(ctx, interval, maxDuration, action, stopCh, done)
	return nil
}

func (p *Poller) loop(ctx context.Context, interval, maxDuration time.Duration, action Action, stopCh, done chan struct{}) {
	start := time.Now()
	deadline := time.NewTimer(maxDuration)
	ticker := time.NewTicker(interval)
	defer deadline.Stop()
	defer ticker.Stop()

	reason := NotStopped
	defer func() {
		p.mu.Lock()
		p.running = false
		p.reason = reason
		p.mu.Unlock()
		close(done)
		log.Debug("Poll loop exited", "poller", p.name, "reason", reason.String(), "elapsed", time.Since(start))
	}()

	p.fire(ctx, action)

	for {
		select {
		case <-stopCh:
			reason = Stopped
			return
		case <-ctx.Done():
			reason = Cancelled
			return
		case <-deadline.C:
			reason = TimedOut
			return
		case <-ticker.C:
			// the deadline may be ready in the same select round
			if time.Since(start) >= maxDuration {
				reason = TimedOut
				return
			}
			select {
			case <-stopCh:
				reason = Stopped
				return
			default:
			}
			p.fire(ctx, action)
		}
	}
}

func (p *Poller) fire(ctx context.Context, action Action) {
	p.mu.Lock()
	p.ticks++
	p.mu.Unlock()
	p.metrics.RecordPollTick()

	p.inFlight.Add(1)
	go func() {
		defer p.inFlight.Done()
		defer func() {
			if r := recover(); r != nil {
				p.report(fmt.Errorf("poll action panicked: %v", r))
			}
		}()

		if err := action(ctx); err != nil {
			p.report(err)
		}
	}()
}

func (p *Poller) report(err error) {
	log.Warn("Poll action failed", "poller", p.name, "error", err)
	p.onError(err)
}

// Stop prevents any further ticks. Safe to call before Start, repeatedly,
// or after the loop has already ended.
func (p *Poller) Stop() {
	p.mu.Lock()
	stopCh, once := p.stopCh, p.stopOnce
	p.mu.Unlock()

	if once == nil {
		return
	}
	once.Do(func() {
		close(stopCh)
	})
}

// Done returns a channel closed when the current loop exits. For a poller
// that was never started the channel is already closed.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Wait blocks until the loop has exited and every in-flight action returned.
func (p *Poller) Wait() {
	<-p.Done()
	p.inFlight.Wait()
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Ticks returns the number of ticks fired so far.
func (p *Poller) Ticks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks
}

// Reason returns why the last loop ended.
func (p *Poller) Reason() StopReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

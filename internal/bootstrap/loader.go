// ============================================================================
// jobwatch Bootstrap Loader - startup status polling
// ============================================================================
//
// Package: internal/bootstrap
// File: loader.go
// Purpose: Poll the server's startup status until it hands out a redirect
//          target, surfacing progress and errors along the way
//
// State machine:
//
//   ┌──────────┐ redirect  ┌─────────────┐
//   │ Checking │──────────►│ Redirecting │──► Navigate (once)
//   └──────────┘           └─────────────┘
//     │  ▲   ▲
//     │  │   └── progress / transport failure (wait, check again)
//     │  │
//     │  └── Retry()
//     ▼  │
//   ┌─────────┐
//   │ Errored │  error shown, retry visible, polling suspended
//   └─────────┘
//
// Unlike the Job Controller there is no timeout: the loader polls until the
// server redirects or reports an error.
//
// ============================================================================

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var log = slog.Default()

// Messages shown by the loader itself.
const (
	ConnectionRetryMessage = "Connection error. Retrying..."
	RetryingMessage        = "Retrying..."
	UnknownErrorMessage    = "Unknown error"
)

// ErrNavigate wraps a failure of the Navigator.
var ErrNavigate = errors.New("navigate failed")

// Phase of the loader.
type Phase int

const (
	PhaseChecking Phase = iota
	PhaseRedirecting
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseChecking:
		return "checking"
	case PhaseRedirecting:
		return "redirecting"
	case PhaseErrored:
		return "errored"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is what the loading page displays.
type State struct {
	Phase        Phase
	Progress     int    // 0..100
	Message      string // last server message
	Notice       string // transient transport notice, cleared by the next response
	Error        string
	Redirect     string
	RetryVisible bool
}

// StatusSource fetches the startup status.
type StatusSource interface {
	Status(ctx context.Context) (types.StatusResponse, error)
}

// Navigator leaves the loading page for target.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, target string) error

// Navigate calls f.
func (f NavigatorFunc) Navigate(ctx context.Context, target string) error {
	return f(ctx, target)
}

// Config holds the loader delays.
type Config struct {
	PollDelay     time.Duration // between successful checks
	RetryDelay    time.Duration // after a transport failure
	RedirectDelay time.Duration // before navigating
}

// DefaultConfig returns 500ms polls, 1s transport retries and a 500ms
// redirect delay.
func DefaultConfig() Config {
	return Config{
		PollDelay:     500 * time.Millisecond,
		RetryDelay:    time.Second,
		RedirectDelay: 500 * time.Millisecond,
	}
}

// Option configures a Loader.
type Option func(*Loader)

// WithObserver registers fn for every state change. Observers run on the
// goroutine calling Run and must not block.
func WithObserver(fn func(State)) Option {
	return func(l *Loader) {
		l.observers = append(l.observers, fn)
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

// Loader drives one loading page.
type Loader struct {
	source    StatusSource
	navigator Navigator
	config    Config
	observers []func(State)
	metrics   *metrics.Collector

	retryCh chan struct{}

	mu     sync.Mutex
	state  State
	checks int
}

// New creates a loader in the Checking phase.
func New(source StatusSource, navigator Navigator, config Config, opts ...Option) *Loader {
	def := DefaultConfig()
	if config.PollDelay <= 0 {
		config.PollDelay = def.PollDelay
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if config.RedirectDelay < 0 {
		config.RedirectDelay = def.RedirectDelay
	}

	l := &Loader{
		source:    source,
		navigator: navigator,
		config:    config,
		retryCh:   make(chan struct{}, 1),
		state:     State{Phase: PhaseChecking},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run polls until the loader navigates away or ctx is done. It returns nil
// after a successful navigation.
func (l *Loader) Run(ctx context.Context) error {
	l.notify()

	for {
		l.mu.Lock()
		l.checks++
		l.mu.Unlock()

		resp, err := l.source.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.metrics.RecordLoaderCheck("transport_error")
			log.Warn("Status check failed", "error", err)
			l.update(func(s *State) {
				s.Notice = ConnectionRetryMessage
			})
			if err := sleep(ctx, l.config.RetryDelay); err != nil {
				return err
			}
			continue
		}

		l.update(func(s *State) {
			s.Notice = ""
			if resp.Data != nil {
				s.Progress = clamp(resp.Data.Progress)
				s.Message = resp.Data.Message
			}
		})

		switch {
		case resp.Redirect != "":
			l.metrics.RecordLoaderCheck("redirect")
			return l.redirect(ctx, resp.Redirect)

		case resp.Data != nil && resp.Data.Error == "":
			l.metrics.RecordLoaderCheck("progress")
			if err := sleep(ctx, l.config.PollDelay); err != nil {
				return err
			}

		default:
			l.metrics.RecordLoaderCheck("error")
			if err := l.waitForRetry(ctx, errorMessage(resp)); err != nil {
				return err
			}
		}
	}
}

func (l *Loader) redirect(ctx context.Context, target string) error {
	l.update(func(s *State) {
		s.Phase = PhaseRedirecting
		s.Redirect = target
	})
	log.Info("Startup complete, redirecting", "target", target)

	if err := sleep(ctx, l.config.RedirectDelay); err != nil {
		return err
	}
	if err := l.navigator.Navigate(ctx, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigate, target, err)
	}
	return nil
}

// waitForRetry parks the loader in Errored until Retry or ctx is done.
func (l *Loader) waitForRetry(ctx context.Context, msg string) error {
	// drop a Retry that raced ahead of the error
	select {
	case <-l.retryCh:
	default:
	}

	l.update(func(s *State) {
		s.Phase = PhaseErrored
		s.Error = msg
		s.RetryVisible = true
	})
	log.Error("Startup failed", "error", msg)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.retryCh:
	}

	l.update(func(s *State) {
		s.Phase = PhaseChecking
		s.Error = ""
		s.RetryVisible = false
		s.Message = RetryingMessage
	})
	return nil
}

// Retry leaves the Errored phase and restarts checking. It reports whether
// the loader was waiting for a retry.
func (l *Loader) Retry() bool {
	l.mu.Lock()
	errored := l.state.Phase == PhaseErrored
	l.mu.Unlock()

	if !errored {
		return false
	}
	select {
	case l.retryCh <- struct{}{}:
	default:
	}
	return true
}

// State returns the current state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Checks returns the number of status requests issued.
func (l *Loader) Checks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checks
}

func (l *Loader) update(fn func(*State)) {
	l.mu.Lock()
	fn(&l.state)
	l.mu.Unlock()
	l.notify()
}

func (l *Loader) notify() {
	s := l.State()
	for _, fn := range l.observers {
		fn(s)
	}
}

func errorMessage(resp types.StatusResponse) string {
	if resp.Data != nil && resp.Data.Error != "" {
		return resp.Data.Error
	}
	if resp.Message != "" {
		return resp.Message
	}
	return UnknownErrorMessage
}

func clamp(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

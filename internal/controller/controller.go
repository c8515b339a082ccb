// ============================================================================
// jobwatch Job Controller - compile session state machine
// ============================================================================
//
// Package: internal/controller
// File: controller.go
// Purpose: Submit a compile job, then keep the console and insights views in
//          sync with the server until the polling window closes
//
// State machine:
//
//   Idle ──Compile()──► Submitting ──ack/err──► Polling ──timeout──► Stopped
//                           ▲                                          │
//                           └──────────────Compile()───────────────────┘
//
//   - Idle → Submitting: the console is reset to a single placeholder line
//     and the insights view is cleared
//   - Submitting → Polling: happens even when the ack is not "started" or
//     the request failed (an error line is appended instead). Set
//     PollOnSubmitFailure=false to stop there.
//   - Polling → Stopped: only when MaxPollDuration elapses (or Stop / ctx
//     cancellation). The server never signals completion.
//
// Sessions:
//   Every Compile increments a session token. The previous poller is stopped
//   first, and both reconcilers reject responses stamped with an older token,
//   so a slow reply from a superseded job is never displayed.
//
// Each tick issues the console and insights requests concurrently. Failures
// are logged and counted; the next tick retries.
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/jobwatch/internal/console"
	"github.com/ChuLiYu/jobwatch/internal/insights"
	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/internal/poller"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var log = slog.Default()

// Console lines written by the controller itself.
const (
	PlaceholderLine     = "▶ Starting compilation..."
	FailedToStartLine   = "❌ Failed to start"
	ConnectionErrorLine = "❌ Connection error"
)

var (
	// ErrSuperseded is returned when a newer Compile replaced this one
	// before polling began
	ErrSuperseded = errors.New("compile session superseded")
	// ErrNotStarted is returned when the submission failed and
	// PollOnSubmitFailure is disabled
	ErrNotStarted = errors.New("compile job was not started")
)

// ============================================================================
// Data Structures
// ============================================================================

// State of the controller.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config Controller configuration
type Config struct {
	PollInterval        time.Duration // cadence of console/insights ticks
	MaxPollDuration     time.Duration // hard stop for one session
	PollOnSubmitFailure bool          // keep polling after a failed submission
}

// DefaultConfig returns the reference timings: 500ms ticks for 30s.
func DefaultConfig() Config {
	return Config{
		PollInterval:        500 * time.Millisecond,
		MaxPollDuration:     30 * time.Second,
		PollOnSubmitFailure: true,
	}
}

// API is the subset of the server protocol the controller uses.
type API interface {
	Submit(ctx context.Context, content string) (types.SubmitAck, error)
	Console(ctx context.Context) (types.ConsoleSnapshot, error)
	Insights(ctx context.Context) (types.InsightsSnapshot, error)
}

// Renderer is notified whenever a view changes. Calls may arrive from
// several goroutines.
type Renderer interface {
	RenderConsole(view console.View)
	RenderInsights(view insights.View)
}

// Option configures a Controller.
type Option func(*Controller)

// WithRenderer attaches a renderer.
func WithRenderer(r Renderer) Option {
	return func(c *Controller) {
		c.renderer = r
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller owns at most one active compile session.
type Controller struct {
	api      API
	config   Config
	renderer Renderer
	metrics  *metrics.Collector

	console  *console.Reconciler
	insights *insights.Reconciler

	mu      sync.Mutex
	state   State
	session uint64
	jobID   string
	poller  *poller.Poller
	done    chan struct{}
}

// ============================================================================
// Core Methods
// ============================================================================

// NewController creates an idle controller.
func NewController(api API, config Config, opts ...Option) *Controller {
	def := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.MaxPollDuration <= 0 {
		config.MaxPollDuration = def.MaxPollDuration
	}

	done := make(chan struct{})
	close(done)

	c := &Controller{
		api:      api,
		config:   config,
		console:  console.New(),
		insights: insights.New(),
		state:    StateIdle,
		done:     done,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile starts a new session for content and returns its token. It blocks
// until the submission is acknowledged (or fails) and polling has begun.
// The session keeps polling after Compile returns; ctx bounds the whole
// session, not just the submission.
func (c *Controller) Compile(ctx context.Context, content string) (uint64, error) {
	// 1. Supersede the previous session
	c.mu.Lock()
	if c.poller != nil {
		if c.state == StatePolling {
			c.metrics.RecordSessionSuperseded()
			log.Info("Superseding compile session", "session", c.session)
		}
		c.poller.Stop()
		c.poller = nil
	}
	c.session++
	token := c.session
	c.state = StateSubmitting
	c.jobID = ""
	done := make(chan struct{})
	c.done = done
	// reset under c.mu so a concurrent Compile cannot leave the
	// reconcilers on an older token
	c.console.Reset(token, PlaceholderLine)
	c.insights.Reset(token)
	c.mu.Unlock()

	c.metrics.RecordSessionStarted()
	c.renderConsole()
	c.renderInsights()

	// 2. Submit
	failed := false
	ack, err := c.api.Submit(ctx, content)
	switch {
	case err != nil:
		failed = true
		log.Warn("Compile submission failed", "session", token, "error", err)
		c.appendLine(token, ConnectionErrorLine)
	case !ack.Started():
		failed = true
		log.Warn("Compile not started", "session", token, "status", ack.Status, "message", ack.Message)
		c.appendLine(token, FailedToStartLine)
	default:
		log.Info("Compile started", "session", token, "job_id", ack.JobID)
	}

	// 3. Transition to polling
	c.mu.Lock()
	if c.session != token {
		c.mu.Unlock()
		close(done)
		return token, ErrSuperseded
	}
	c.jobID = ack.JobID

	if failed && !c.config.PollOnSubmitFailure {
		c.state = StateStopped
		c.mu.Unlock()
		close(done)
		return token, ErrNotStarted
	}

	p := poller.New(
		poller.WithName(fmt.Sprintf("session-%d", token)),
		poller.WithMetrics(c.metrics),
	)
	if err := p.Start(ctx, c.config.PollInterval, c.config.MaxPollDuration, c.tick(token)); err != nil {
		c.state = StateStopped
		c.mu.Unlock()
		close(done)
		return token, fmt.Errorf("start polling: %w", err)
	}
	c.poller = p
	c.state = StatePolling
	c.mu.Unlock()

	go c.watchSession(token, p, done)

	return token, nil
}

// watchSession moves the controller to Stopped once the poller of session
// token is finished, then closes done.
func (c *Controller) watchSession(token uint64, p *poller.Poller, done chan struct{}) {
	p.Wait()

	c.mu.Lock()
	if c.session == token {
		c.state = StateStopped
		c.poller = nil
	}
	c.mu.Unlock()

	log.Info("Compile session stopped",
		"session", token,
		"reason", p.Reason().String(),
		"ticks", p.Ticks())
	close(done)
}

// tick returns the poll action of session token.
func (c *Controller) tick(token uint64) poller.Action {
	return func(ctx context.Context) error {
		var (
			wg          sync.WaitGroup
			consoleErr  error
			insightsErr error
		)

		wg.Add(2)
		go func() {
			defer wg.Done()
			consoleErr = c.pollConsole(ctx, token)
		}()
		go func() {
			defer wg.Done()
			insightsErr = c.pollInsights(ctx, token)
		}()
		wg.Wait()

		return errors.Join(consoleErr, insightsErr)
	}
}

func (c *Controller) pollConsole(ctx context.Context, token uint64) error {
	snap, err := c.api.Console(ctx)
	if err != nil {
		c.metrics.RecordPollError("console")
		return err
	}

	changed, err := c.console.Apply(token, snap.Output)
	if errors.Is(err, console.ErrStaleSession) {
		c.metrics.RecordStaleResponse("console")
		log.Debug("Discarded stale console snapshot", "session", token)
		return nil
	}
	if changed {
		c.renderConsole()
	}
	return nil
}

func (c *Controller) pollInsights(ctx context.Context, token uint64) error {
	snap, err := c.api.Insights(ctx)
	if err != nil {
		c.metrics.RecordPollError("insights")
		return err
	}

	if err := c.insights.Apply(token, snap); errors.Is(err, insights.ErrStaleSession) {
		c.metrics.RecordStaleResponse("insights")
		log.Debug("Discarded stale insights snapshot", "session", token)
		return nil
	}
	c.renderInsights()
	return nil
}

func (c *Controller) appendLine(token uint64, text string) {
	if err := c.console.Append(token, text, console.ClassError); err != nil {
		c.metrics.RecordStaleResponse("console")
		return
	}
	c.renderConsole()
}

func (c *Controller) renderConsole() {
	if c.renderer != nil {
		c.renderer.RenderConsole(c.console.View())
	}
}

func (c *Controller) renderInsights() {
	if c.renderer != nil {
		c.renderer.RenderInsights(c.insights.View())
	}
}

// ============================================================================
// Public Accessors
// ============================================================================

// Stop ends polling for the current session. In-flight requests still
// complete. Safe to call at any time.
func (c *Controller) Stop() {
	c.mu.Lock()
	p := c.poller
	c.mu.Unlock()

	if p != nil {
		p.Stop()
	}
}

// Done returns a channel closed when the current session has stopped and
// no further updates will be applied for it.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Wait blocks until the current session is done.
func (c *Controller) Wait() {
	<-c.Done()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the current session token (0 before the first Compile).
func (c *Controller) Session() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// JobID returns the server-assigned id of the current job, if any.
func (c *Controller) JobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID
}

// Console returns the displayed console.
func (c *Controller) Console() console.View {
	return c.console.View()
}

// Insights returns the displayed phases and insights.
func (c *Controller) Insights() insights.View {
	return c.insights.View()
}

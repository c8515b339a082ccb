// ============================================================================
// jobwatch Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose runtime metrics for both sides of the protocol
//
// Metric groups:
//
//   1. Client polling (Counter):
//      - jobwatch_poll_ticks_total: poll ticks fired by any poller
//      - jobwatch_poll_errors_total{endpoint}: failed poll requests
//      - jobwatch_sessions_started_total: compile sessions started
//      - jobwatch_sessions_superseded_total: sessions cancelled by a newer one
//      - jobwatch_stale_responses_total{view}: responses dropped by session token
//      - jobwatch_loader_checks_total{outcome}: bootstrap status checks
//
//   2. Server execution:
//      - jobwatch_compiles_started_total (Counter)
//      - jobwatch_compile_failures_total (Counter)
//      - jobwatch_compile_duration_seconds (Histogram)
//      - jobwatch_console_lines_total (Counter)
//      - jobwatch_saves_total{outcome} (Counter)
//
// Every method is safe on a nil *Collector so components can run without
// instrumentation in tests.
//
// ============================================================================

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus metric collector
type Collector struct {
	// client side
	pollTicks          prometheus.Counter
	pollErrors         *prometheus.CounterVec
	sessionsStarted    prometheus.Counter
	sessionsSuperseded prometheus.Counter
	staleResponses     *prometheus.CounterVec
	loaderChecks       *prometheus.CounterVec

	// server side
	compilesStarted prometheus.Counter
	compileFailures prometheus.Counter
	compileDuration prometheus.Histogram
	consoleLines    prometheus.Counter
	saves           *prometheus.CounterVec
}

// NewCollector creates a collector and registers it with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		pollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwatch_poll_ticks_total",
			Help: "Total number of poll ticks fired",
		}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_poll_errors_total",
			Help: "Total number of failed poll requests by endpoint",
		}, []string{"endpoint"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwatch_sessions_started_total",
			Help: "Total number of compile sessions started",
		}),
		sessionsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwatch_sessions_superseded_total",
			Help: "Total number of sessions cancelled by a newer submission",
		}),
		staleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_stale_responses_total",
			Help: "Total number of responses discarded because their session was superseded",
		}, []string{"view"}),
		loaderChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_loader_checks_total",
			Help: "Total number of bootstrap status checks by outcome",
		}, []string{"outcome"}),
		compilesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwatch_compiles_started_total",
			Help: "Total number of compile jobs started on the server",
		}),
		compileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwatch_compile_failures_total",
			Help: "Total number of compile jobs that failed",
		}),
		compileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobwatch_compile_duration_seconds",
			Help:    "Compile job duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		consoleLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwatch_console_lines_total",
			Help: "Total number of console lines produced by compile jobs",
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_saves_total",
			Help: "Total number of file saves by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.pollTicks,
		c.pollErrors,
		c.sessionsStarted,
		c.sessionsSuperseded,
		c.staleResponses,
		c.loaderChecks,
		c.compilesStarted,
		c.compileFailures,
		c.compileDuration,
		c.consoleLines,
		c.saves,
	)

	return c
}

// RecordPollTick records one poll tick
func (c *Collector) RecordPollTick() {
	if c == nil {
		return
	}
	c.pollTicks.Inc()
}

// RecordPollError records a failed poll request against endpoint
func (c *Collector) RecordPollError(endpoint string) {
	if c == nil {
		return
	}
	c.pollErrors.WithLabelValues(endpoint).Inc()
}

// RecordSessionStarted records a new compile session
func (c *Collector) RecordSessionStarted() {
	if c == nil {
		return
	}
	c.sessionsStarted.Inc()
}

// RecordSessionSuperseded records a session replaced before it timed out
func (c *Collector) RecordSessionSuperseded() {
	if c == nil {
		return
	}
	c.sessionsSuperseded.Inc()
}

// RecordStaleResponse records a response dropped for view
func (c *Collector) RecordStaleResponse(view string) {
	if c == nil {
		return
	}
	c.staleResponses.WithLabelValues(view).Inc()
}

// RecordLoaderCheck records a bootstrap status check outcome
func (c *Collector) RecordLoaderCheck(outcome string) {
	if c == nil {
		return
	}
	c.loaderChecks.WithLabelValues(outcome).Inc()
}

// RecordCompileStarted records a compile job accepted by the server
func (c *Collector) RecordCompileStarted() {
	if c == nil {
		return
	}
	c.compilesStarted.Inc()
}

// RecordCompileFinished records a finished compile job
func (c *Collector) RecordCompileFinished(seconds float64, failed bool) {
	if c == nil {
		return
	}
	c.compileDuration.Observe(seconds)
	if failed {
		c.compileFailures.Inc()
	}
}

// RecordConsoleLine records one console line produced by a job
func (c *Collector) RecordConsoleLine() {
	if c == nil {
		return
	}
	c.consoleLines.Inc()
}

// RecordSave records a save outcome ("saved" or "error")
func (c *Collector) RecordSave(outcome string) {
	if c == nil {
		return
	}
	c.saves.WithLabelValues(outcome).Inc()
}

// Handler returns the /metrics handler for gatherer.
// A nil gatherer serves prometheus.DefaultGatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

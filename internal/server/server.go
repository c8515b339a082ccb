// ============================================================================
// jobwatch Server - HTTP surface for the compile/watch protocol
// ============================================================================
//
// Package: internal/server
// File: server.go
// Purpose: Own the server-side state (current job, editor buffer, startup
//          progress) and expose it over HTTP + JSON
//
// Components:
//   ┌──────────────┐  Begin/Sink   ┌────────────┐
//   │ HTTP handler │ ────────────→ │ JobManager │ ←── compiler output
//   └──────────────┘               └────────────┘
//          │ Submit(Task)                ↑ MarkCompleted/MarkFailed
//          ↓                             │
//   ┌──────────────┐   Results()   ┌────────────┐
//   │ worker.Pool  │ ────────────→ │ resultLoop │
//   └──────────────┘               └────────────┘
//
// App state:
//   loading → ide once the startup sequence completes. "/" redirects to
//   the IDE target only after that.
//
// gRPC:
//   The health service reports NOT_SERVING until startup completes and
//   SERVING afterwards. The listener is owned by the caller.
//
// History:
//   With HistoryPath set, every job transition is appended to the history
//   journal, and /jobs/{id} falls back to it for jobs no longer in memory.
//
// ============================================================================

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ChuLiYu/jobwatch/internal/compiler"
	"github.com/ChuLiYu/jobwatch/internal/filestore"
	"github.com/ChuLiYu/jobwatch/internal/history"
	"github.com/ChuLiYu/jobwatch/internal/jobmanager"
	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/internal/worker"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var log = slog.Default()

// ============================================================================
// Error Definitions
// ============================================================================

var (
	// ErrAlreadyStarted Start was called twice
	ErrAlreadyStarted = errors.New("server already started")
	// ErrNoFileSelected save without a name and no current file
	ErrNoFileSelected = errors.New("No file selected")
)

// HealthService is the service name registered with the health server in
// addition to the overall ("") status.
const HealthService = "jobwatch"

// IDEPath is the redirect target once startup completes.
const IDEPath = "/ide"

// ============================================================================
// Configuration
// ============================================================================

// Config holds server settings
type Config struct {
	WorkspaceDir     string        // state file location
	ConsoleMaxLines  int           // console transcript cap
	Workers          int           // compile workers
	QueueSize        int           // buffered compile tasks
	CompileTimeout   time.Duration // per-job upper bound, 0 = none
	StartupStepDelay time.Duration // pause after each startup message
	NetworkCheckAddr string        // host:port dialed by the network step, empty skips
	BackendAddr      string        // gRPC health address of a compiler backend, empty skips
	ProbeTimeout     time.Duration // network and backend check timeout
	HistoryPath      string        // compile history journal, empty disables
	HistoryMaxEvents int           // rotate the journal past this many events, 0 = never
}

// DefaultConfig returns the defaults used by the serve command.
func DefaultConfig() Config {
	return Config{
		WorkspaceDir:     "workspace",
		ConsoleMaxLines:  jobmanager.DefaultMaxLines,
		Workers:          2,
		QueueSize:        16,
		CompileTimeout:   60 * time.Second,
		StartupStepDelay: 300 * time.Millisecond,
		ProbeTimeout:     5 * time.Second,
		HistoryMaxEvents: 10000,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics instruments the server.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithStartupStep appends a custom check to the startup sequence. It runs
// during "Preparing files..." after the built-in preparation.
func WithStartupStep(fn func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.extraSteps = append(s.extraSteps, fn)
	}
}

// ============================================================================
// Server
// ============================================================================

// Server is the compile server.
type Server struct {
	cfg     Config
	jobs    *jobmanager.JobManager
	pool    *worker.Pool
	store   filestore.Store
	state   *filestore.StateManager
	history *history.Journal
	metrics *metrics.Collector
	health  *health.Server

	extraSteps []func(ctx context.Context) error

	mu      sync.RWMutex
	status  types.StartupStatus
	ready   bool
	content string
	file    *string

	startOnce sync.Once
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New wires a server around c and store. Nothing runs until Start.
func New(cfg Config, c compiler.Compiler, store filestore.Store, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		health: health.NewServer(),
		status: types.StartupStatus{Message: "Initializing...", Progress: 0},
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.WorkspaceDir != "" {
		s.state = filestore.NewStateManager(cfg.WorkspaceDir)
	}
	s.openHistory()

	s.jobs = jobmanager.NewJobManager(cfg.ConsoleMaxLines, s.metrics)
	s.pool = worker.NewPool(cfg.QueueSize, c, s.sinkFor, s.metrics)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// sinkFor is the pool's SinkFactory. A worker asks for the sink when it
// picks the task up, which is when the job starts running.
func (s *Server) sinkFor(jobID string) compiler.Sink {
	if err := s.jobs.MarkRunning(jobID); err != nil {
		log.Warn("Failed to mark job running", "job_id", jobID, "error", err)
	} else {
		s.record(jobID)
	}
	return s.jobs.Sink(jobID)
}

// Start launches the worker pool, the result loop and the startup
// sequence. It returns immediately.
func (s *Server) Start(ctx context.Context) error {
	var err error = ErrAlreadyStarted
	s.startOnce.Do(func() {
		err = s.pool.Start(s.cfg.Workers)
		if err != nil {
			return
		}
		ctx, s.cancel = context.WithCancel(ctx)

		s.mu.Lock()
		s.started = true
		s.mu.Unlock()

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.resultLoop(ctx)
		}()
		go func() {
			defer s.wg.Done()
			s.runStartup(ctx)
		}()
	})
	return err
}

// Stop cancels startup and any running compile, stops the pool and waits
// for background loops, then closes the history journal.
func (s *Server) Stop() {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if started {
		s.health.Shutdown()
		s.cancel()
		s.pool.Stop()
		s.wg.Wait()
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			log.Warn("Failed to close history", "error", err)
		}
	}
	log.Info("Server stopped")
}

// resultLoop records each compile outcome on its job
func (s *Server) resultLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-s.pool.Results():
			var err error
			if result.Success {
				err = s.jobs.MarkCompleted(result.JobID)
			} else {
				err = s.jobs.MarkFailed(result.JobID, result.Error)
			}
			if err != nil {
				log.Warn("Failed to record compile result", "job_id", result.JobID, "error", err)
				continue
			}
			s.record(result.JobID)
			log.Info("Compile finished",
				"job_id", result.JobID,
				"success", result.Success,
				"duration", result.Duration)
		}
	}
}

// ============================================================================
// Accessors
// ============================================================================

// Health returns the gRPC health server to register on a grpc.Server.
func (s *Server) Health() *health.Server {
	return s.health
}

// History returns the compile history journal, nil when disabled.
func (s *Server) History() *history.Journal {
	return s.history
}

// Jobs exposes the job manager.
func (s *Server) Jobs() *jobmanager.JobManager {
	return s.jobs
}

// Ready reports whether startup completed.
func (s *Server) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// StartupStatus returns the latest startup progress.
func (s *Server) StartupStatus() types.StartupStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET "+IDEPath, s.handleIDE)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /compile", s.handleCompile)
	mux.HandleFunc("GET /console/output", s.handleConsole)
	mux.HandleFunc("GET /insights/data", s.handleInsights)
	mux.HandleFunc("GET /editor/content", s.handleGetContent)
	mux.HandleFunc("POST /editor/content", s.handleUpdateContent)
	mux.HandleFunc("POST /file/save", s.handleSave)
	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("GET /jobs/{id}", s.handleJob)
	return mux
}

// persistState writes the editor buffer to the state file, if any
func (s *Server) persistState(content string, file *string) {
	if s.state == nil {
		return
	}
	ws := filestore.WorkspaceState{Content: content}
	if file != nil {
		ws.Filename = *file
	}
	if err := s.state.Write(ws); err != nil {
		log.Warn("Failed to persist workspace state", "error", err)
	}
}

// restoreState loads the editor buffer from the state file. Broken state
// files are logged and ignored.
func (s *Server) restoreState() error {
	if s.state == nil {
		return nil
	}
	ws, ok, err := s.state.Load()
	if err != nil {
		if errors.Is(err, filestore.ErrCorruptedState) || errors.Is(err, filestore.ErrIncompatibleVersion) {
			log.Warn("Ignoring workspace state", "path", s.state.Path(), "error", err)
			return nil
		}
		return fmt.Errorf("restore workspace state: %w", err)
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.content = ws.Content
	if ws.Filename != "" {
		s.file = types.StrPtr(ws.Filename)
	}
	s.mu.Unlock()
	log.Info("Workspace state restored", "file", ws.Filename, "saved_at", ws.SavedAt)
	return nil
}

// openHistory opens the journal. A journal that cannot be opened disables
// history for this run.
func (s *Server) openHistory() {
	if s.cfg.HistoryPath == "" {
		return
	}
	j, err := history.Open(s.cfg.HistoryPath)
	if err != nil {
		log.Warn("Compile history disabled", "path", s.cfg.HistoryPath, "error", err)
		return
	}
	s.history = j
}

// record appends the job's current status to the history journal
func (s *Server) record(jobID string) {
	if s.history == nil {
		return
	}
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return
	}
	if err := s.history.Append(job); err != nil {
		log.Warn("Failed to append history", "job_id", jobID, "error", err)
		return
	}
	if limit := s.cfg.HistoryMaxEvents; limit > 0 && s.history.Events() >= limit {
		if _, err := s.history.Rotate(); err != nil {
			log.Warn("Failed to rotate history", "error", err)
		}
	}
}

// lookupJob finds a job in memory, then in the history journal.
func (s *Server) lookupJob(id string) (types.Job, error) {
	job, err := s.jobs.Get(id)
	if err == nil || s.history == nil {
		return job, err
	}
	if past, ok := s.history.Job(id); ok {
		return past, nil
	}
	return types.Job{}, err
}

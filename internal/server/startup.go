package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// Startup messages, in order.
const (
	MsgCheckingNetwork = "Checking network..."
	MsgCheckingBackend = "Checking compiler backend..."
	MsgPreparingFiles  = "Preparing files..."
	MsgStartingIDE     = "Starting IDE..."
	MsgReady           = "Ready!"
	MsgError           = "Error"
)

var (
	ErrNetworkUnavailable = errors.New("Network connection failed")
	// ErrWorkersNotRunning the compile pool has no running workers
	ErrWorkersNotRunning = errors.New("compile workers are not running")
)

type startupStep struct {
	message  string
	progress int
	run      func(ctx context.Context) error
}

func (s *Server) startupSteps() []startupStep {
	return []startupStep{
		{MsgCheckingNetwork, 25, s.checkNetwork},
		{MsgCheckingBackend, 50, s.checkBackend},
		{MsgPreparingFiles, 75, s.prepareFiles},
		{MsgStartingIDE, 100, s.checkWorkers},
	}
}

// runStartup publishes each step, pauses, then runs its check. The first
// failing check publishes an error status and stops the sequence.
func (s *Server) runStartup(ctx context.Context) {
	log.Info("Beginning startup checks")

	for _, step := range s.startupSteps() {
		s.publish(types.StartupStatus{Message: step.message, Progress: step.progress})

		if err := sleepCtx(ctx, s.cfg.StartupStepDelay); err != nil {
			return
		}
		if step.run == nil {
			continue
		}
		if err := step.run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Startup failed", "step", step.message, "error", err)
			s.publish(types.StartupStatus{Message: MsgError, Progress: 100, Error: err.Error()})
			return
		}
	}

	s.mu.Lock()
	s.ready = true
	s.status = types.StartupStatus{Message: MsgReady, Progress: 100, Complete: true}
	s.mu.Unlock()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	log.Info("Application ready")
}

func (s *Server) publish(status types.StartupStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	log.Debug("Startup status", "message", status.Message, "progress", status.Progress)
}

func (s *Server) checkNetwork(ctx context.Context) error {
	if s.cfg.NetworkCheckAddr == "" {
		return nil
	}
	d := net.Dialer{Timeout: s.cfg.ProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.cfg.NetworkCheckAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return conn.Close()
}

func (s *Server) checkBackend(ctx context.Context) error {
	if s.cfg.BackendAddr == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	return ProbeBackend(ctx, s.cfg.BackendAddr)
}

func (s *Server) prepareFiles(ctx context.Context) error {
	if s.cfg.WorkspaceDir != "" {
		if err := os.MkdirAll(s.cfg.WorkspaceDir, 0o755); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
	}
	if err := s.restoreState(); err != nil {
		return err
	}
	for _, fn := range s.extraSteps {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// checkWorkers confirms the pool is running before the IDE is handed out
func (s *Server) checkWorkers(ctx context.Context) error {
	if !s.pool.IsStarted() || s.pool.GetWorkerCount() == 0 {
		return ErrWorkersNotRunning
	}
	log.Info("Compile workers running", "workers", s.pool.GetWorkerCount())
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

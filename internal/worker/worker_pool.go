// ============================================================================
// jobwatch Worker Pool - background compile executor
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Function: Manage Worker goroutines and dispatch compile tasks to them
//
// Design:
//   Fixed-size Worker Pool:
//   1. A fixed number of Worker goroutines keep running
//   2. Tasks are dispatched over a shared buffered channel
//   3. Results are collected over a result channel
//
// Architecture:
//   ┌─────────────┐
//   │ HTTP server │ --Submit()--> taskCh
//   └─────────────┘
//         ↑
//     Results()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  └────────┘ │
//   └─────────────┘
//
// Lifecycle:
//   1. NewPool() - create the pool and its channels
//   2. Start(n) - launch n Worker goroutines
//   3. Submit(task) - enqueue a task
//   4. Results() - read results in a select loop
//   5. Stop() - cancel running compiles, wait for workers to return
//
// Shutdown:
//   taskCh is never closed. Workers and Submit both select on stopCh, so a
//   Submit racing with Stop returns ErrPoolClosed instead of sending on a
//   closed channel. Tasks still buffered at Stop are dropped. Every compile
//   runs under the pool's base context, which Stop cancels first.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/jobwatch/internal/compiler"
	"github.com/ChuLiYu/jobwatch/internal/metrics"
)

var log = slog.Default()

// ============================================================================
// Error Definitions
// ============================================================================

var (
	// ErrPoolClosed pool is stopped and accepts no new tasks
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted pool has not been started yet
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStarted pool was already started
	ErrPoolStarted = errors.New("pool already started")
)

// ============================================================================
// Data Structures
// ============================================================================

// Pool manages concurrent Workers
type Pool struct {
	compiler compiler.Compiler
	sinks    SinkFactory
	metrics  *metrics.Collector

	workers  []*Worker          // started Workers
	taskCh   chan Task          // task dispatch
	resultCh chan Result        // result collection
	stopCh   chan struct{}      // stop signal
	ctx      context.Context    // parent of every compile context
	cancel   context.CancelFunc // cancels running compiles on Stop
	wg       sync.WaitGroup     // tracks running Workers
	started  bool
	stopped  bool
	mu       sync.Mutex // guards started and stopped
}

// ============================================================================
// Core Methods
// ============================================================================

// NewPool creates a Worker Pool whose channels buffer bufferSize entries.
func NewPool(bufferSize int, c compiler.Compiler, sinks SinkFactory, m *metrics.Collector) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:      ctx,
		cancel:   cancel,
		compiler: c,
		sinks:    sinks,
		metrics:  m,
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches workerCount Workers
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}

	for i := 0; i < workerCount; i++ {
		w := &Worker{
			id:       i,
			ctx:      p.ctx,
			compiler: p.compiler,
			sinks:    p.sinks,
			metrics:  p.metrics,
			taskCh:   p.taskCh,
			resultCh: p.resultCh,
			stopCh:   p.stopCh,
		}
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(w)
	}

	p.started = true
	log.Info("Worker pool started", "workers", workerCount)
	return nil
}

// Submit enqueues a task. It blocks while the buffer is full.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case <-p.stopCh:
		return ErrPoolClosed
	default:
	}

	select {
	case p.taskCh <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	}
}

// Results exposes the result channel for select loops.
func (p *Pool) Results() <-chan Result {
	return p.resultCh
}

// Stop cancels running compiles, signals all Workers and waits for them
// to return
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	close(p.stopCh)
	p.wg.Wait()
	log.Info("Worker pool stopped")
}

// GetWorkerCount returns the number of Workers
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsStarted reports whether Start succeeded
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// ============================================================================
// jobwatch Worker - compile execution unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Work unit that runs compile tasks, each Worker runs in an
//           independent goroutine
//
// How it works:
//   Each Worker is an independent goroutine that continuously executes the
//   following loop:
//   1. Receive task from taskCh (blocking wait, or exit on stop)
//   2. Run the compiler with the task's sink (with timeout control)
//   3. Send result to resultCh
//   4. Repeat until the pool stops
//
// Execution Model:
//   ┌─────────────────────────────────────┐
//   │  Worker Goroutine                   │
//   │  ┌──────────────────────────────┐   │
//   │  │ select task / stop           │   │
//   │  │   ├─ Context with timeout    │   │
//   │  │   ├─ compiler.Run(...)       │   │
//   │  │   └─ send result to resultCh │   │
//   │  └──────────────────────────────┘   │
//   └─────────────────────────────────────┘
//
// Output:
//   The compiler writes lines, phases and insights straight into the sink
//   for the task's job. Failures also land in the transcript as a
//   "Compilation pipeline failed" line (see compiler.Run).
//
// ============================================================================

package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/jobwatch/internal/compiler"
	"github.com/ChuLiYu/jobwatch/internal/metrics"
)

// Worker represents a work execution unit
type Worker struct {
	id       int                // Worker identifier, used for logging
	ctx      context.Context    // pool base context, cancelled on Stop
	compiler compiler.Compiler  // compiles task sources
	sinks    SinkFactory        // output destination per job
	metrics  *metrics.Collector // compile counters
	taskCh   <-chan Task        // Task channel (read-only)
	resultCh chan<- Result      // Result channel (write-only)
	stopCh   <-chan struct{}    // closed when the pool stops
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.taskCh:
			result := w.execute(task)

			select {
			case w.resultCh <- result:
			case <-w.stopCh:
				return
			}
		}
	}
}

// execute runs one task with its timeout under the pool's context
func (w *Worker) execute(task Task) Result {
	start := time.Now()
	w.metrics.RecordCompileStarted()
	log.Debug("Worker picked up task", "worker", w.id, "job_id", task.JobID)

	ctx := w.ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	err := compiler.Run(ctx, w.compiler, task.Source, w.sinks(task.JobID))

	elapsed := time.Since(start)
	w.metrics.RecordCompileFinished(elapsed.Seconds(), err != nil)

	return Result{
		JobID:    task.JobID,
		Success:  err == nil,
		Error:    err,
		Duration: elapsed,
	}
}

package worker

// ============================================================================
// Worker Pool Test File
// Purpose: Verify compile execution, timeouts, graceful shutdown
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jobwatch/internal/compiler"
	"github.com/ChuLiYu/jobwatch/internal/jobmanager"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// echoCompiler writes the source back as a success line
var echoCompiler = compiler.Func(func(ctx context.Context, source string, sink compiler.Sink) error {
	sink.Line(source, types.SeveritySuccess)
	return nil
})

// blockingCompiler waits for ctx
var blockingCompiler = compiler.Func(func(ctx context.Context, source string, sink compiler.Sink) error {
	<-ctx.Done()
	return ctx.Err()
})

type discardSink struct{}

func (discardSink) Line(string, types.Severity)     {}
func (discardSink) StartPhase(string, string)       {}
func (discardSink) EndPhase(string, string, bool)   {}
func (discardSink) Insight(string, *string, string) {}

func discardSinks(string) compiler.Sink { return discardSink{} }

// receive waits for the next result or fails the test
func receive(t *testing.T, pool *Pool) Result {
	t.Helper()
	select {
	case result := <-pool.Results():
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a result")
		return Result{}
	}
}

// ============================================================================
// Basic Functionality Tests
// ============================================================================

// TestNewPool tests creating Worker Pool
func TestNewPool(t *testing.T) {
	pool := NewPool(10, echoCompiler, discardSinks, nil)
	assert.NotNil(t, pool)
	assert.Equal(t, 0, pool.GetWorkerCount())
	assert.False(t, pool.IsStarted())
}

// TestPoolStart tests starting Worker Pool
func TestPoolStart(t *testing.T) {
	pool := NewPool(10, echoCompiler, discardSinks, nil)

	require.NoError(t, pool.Start(4))
	assert.Equal(t, 4, pool.GetWorkerCount())
	assert.True(t, pool.IsStarted())

	assert.ErrorIs(t, pool.Start(2), ErrPoolStarted)

	pool.Stop()
}

// TestWorkerWritesToJobSink tests that output reaches the job manager
func TestWorkerWritesToJobSink(t *testing.T) {
	jm := jobmanager.NewJobManager(0, nil)
	sinks := func(jobID string) compiler.Sink { return jm.Sink(jobID) }

	pool := NewPool(10, echoCompiler, sinks, nil)
	require.NoError(t, pool.Start(1))
	defer pool.Stop()

	job := jm.Begin("1")
	require.NoError(t, pool.Submit(Task{JobID: job.ID, Source: "1", Timeout: time.Second}))

	result := receive(t, pool)
	assert.True(t, result.Success)
	assert.Equal(t, job.ID, result.JobID)

	assert.Equal(t, []types.ConsoleLine{{Text: "1", Type: types.SeveritySuccess}}, jm.Console().Output)
}

// TestCompileFailureIsReported tests failing compiles
func TestCompileFailureIsReported(t *testing.T) {
	jm := jobmanager.NewJobManager(0, nil)
	failing := compiler.Func(func(ctx context.Context, source string, sink compiler.Sink) error {
		return errors.New("syntax error")
	})

	pool := NewPool(1, failing, func(id string) compiler.Sink { return jm.Sink(id) }, nil)
	require.NoError(t, pool.Start(1))
	defer pool.Stop()

	job := jm.Begin("x")
	require.NoError(t, pool.Submit(Task{JobID: job.ID, Source: "x"}))

	result := receive(t, pool)
	assert.False(t, result.Success)
	assert.EqualError(t, result.Error, "syntax error")

	out := jm.Console().Output
	require.Len(t, out, 1)
	assert.Equal(t, "Compilation pipeline failed: syntax error", out[0].Text)
	assert.Equal(t, types.SeverityError, out[0].Type)
}

// TestTimeout tests task timeout
func TestTimeout(t *testing.T) {
	pool := NewPool(10, blockingCompiler, discardSinks, nil)
	require.NoError(t, pool.Start(1))
	defer pool.Stop()

	require.NoError(t, pool.Submit(Task{JobID: "timeout-task", Timeout: 10 * time.Millisecond}))

	result := receive(t, pool)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
}

// ============================================================================
// Concurrency Tests
// ============================================================================

// TestConcurrency tests parallel execution across workers
func TestConcurrency(t *testing.T) {
	var (
		running int32
		peak    int32
	)
	slow := compiler.Func(func(ctx context.Context, source string, sink compiler.Sink) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	pool := NewPool(20, slow, discardSinks, nil)
	require.NoError(t, pool.Start(4))
	defer pool.Stop()

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(Task{JobID: fmt.Sprintf("job-%d", i)}))
	}

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		seen[receive(t, pool).JobID] = true
	}

	assert.Len(t, seen, 20)
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1), "tasks should overlap")
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
}

// TestConcurrentSubmit tests Submit from many goroutines
func TestConcurrentSubmit(t *testing.T) {
	pool := NewPool(100, echoCompiler, discardSinks, nil)
	require.NoError(t, pool.Start(4))
	defer pool.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, pool.Submit(Task{JobID: fmt.Sprintf("%d-%d", n, j)}))
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 100; i++ {
		receive(t, pool)
	}
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

// TestGracefulShutdown tests that Stop waits for the running compile
func TestGracefulShutdown(t *testing.T) {
	var finished atomic.Bool
	slow := compiler.Func(func(ctx context.Context, source string, sink compiler.Sink) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	pool := NewPool(1, slow, discardSinks, nil)
	require.NoError(t, pool.Start(1))
	require.NoError(t, pool.Submit(Task{JobID: "slow"}))

	time.Sleep(10 * time.Millisecond)
	pool.Stop()

	assert.True(t, finished.Load(), "Stop should wait for the running compile")
}

// TestStopBeforeStart tests Stop on an idle pool
func TestStopBeforeStart(t *testing.T) {
	pool := NewPool(1, echoCompiler, discardSinks, nil)
	pool.Stop()
	assert.False(t, pool.IsStarted())
}

// TestSubmitAfterStop tests Submit on a stopped pool
func TestSubmitAfterStop(t *testing.T) {
	pool := NewPool(1, echoCompiler, discardSinks, nil)
	require.NoError(t, pool.Start(1))
	pool.Stop()
	pool.Stop()

	assert.ErrorIs(t, pool.Submit(Task{JobID: "late"}), ErrPoolClosed)
}

// TestSubmitBeforeStart tests Submit on an unstarted pool
func TestSubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, echoCompiler, discardSinks, nil)
	assert.ErrorIs(t, pool.Submit(Task{JobID: "early"}), ErrPoolNotStarted)
}

// TestStopCancelsRunningCompile tests that Stop does not wait out a compile
// that only ends when its context is cancelled
func TestStopCancelsRunningCompile(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	blocking := compiler.Func(func(ctx context.Context, source string, sink compiler.Sink) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	pool := NewPool(1, blocking, discardSinks, nil)
	require.NoError(t, pool.Start(1))
	require.NoError(t, pool.Submit(Task{JobID: "long", Timeout: time.Minute}))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("compile never started")
	}

	begin := time.Now()
	pool.Stop()

	assert.Less(t, time.Since(begin), time.Second, "Stop should cancel the running compile")
	assert.True(t, cancelled.Load())
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkPoolThroughput(b *testing.B) {
	pool := NewPool(100, echoCompiler, discardSinks, nil)
	if err := pool.Start(4); err != nil {
		b.Fatal(err)
	}
	defer pool.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := pool.Submit(Task{JobID: "bench"}); err != nil {
			b.Fatal(err)
		}
		<-pool.Results()
	}
}

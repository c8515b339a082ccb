// ============================================================================
// jobwatch Compiler - compile execution contract
// ============================================================================
//
// Package: internal/compiler
// File: compiler.go
// Purpose: Define how a compile job reports progress and run it safely
//
// Reporting:
//   A Compiler never returns output directly. It writes to a Sink, which the
//   server binds to a single job, so that lines from a superseded job are
//   dropped instead of leaking into the current transcript.
//
//   Sink.Line        → console transcript
//   Sink.StartPhase  → phase timeline (status "running")
//   Sink.EndPhase    → phase timeline (status "completed", optional error)
//   Sink.Insight     → insight list
//
// ============================================================================

package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var log = slog.Default()

// Messages written by Run.
const (
	NoOutputMessage      = "Code executed with no output."
	PipelineFailedPrefix = "Compilation pipeline failed: "
)

// Sink receives the observable progress of one job.
type Sink interface {
	Line(text string, severity types.Severity)
	StartPhase(name, description string)
	EndPhase(name, result string, isError bool)
	Insight(title string, code *string, explanation string)
}

// Compiler turns source text into console output, phases and insights.
type Compiler interface {
	Compile(ctx context.Context, source string, sink Sink) error
}

// Func adapts a function to Compiler.
type Func func(ctx context.Context, source string, sink Sink) error

// Compile calls f.
func (f Func) Compile(ctx context.Context, source string, sink Sink) error {
	return f(ctx, source, sink)
}

// Run executes c and converts a failure or panic into a console error line.
// The returned error is the compiler's, for bookkeeping by the caller.
func Run(ctx context.Context, c Compiler, source string, sink Sink) (err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compiler panicked: %v", r)
		}
		if err != nil {
			log.Error("Compilation failed", "error", err, "duration", time.Since(start))
			sink.Line(PipelineFailedPrefix+err.Error(), types.SeverityError)
			return
		}
		log.Info("Compilation finished", "duration", time.Since(start))
	}()

	return c.Compile(ctx, source, sink)
}

package worker

import (
	"time"

	"github.com/ChuLiYu/jobwatch/internal/compiler"
)

// Task is one compile job to execute
type Task struct {
	JobID   string        // job the output belongs to
	Source  string        // program text
	Timeout time.Duration // upper bound for the whole compile
}

// Result is the outcome of a Task
type Result struct {
	JobID    string        // job ID
	Success  bool          // whether the compiler returned without error
	Error    error         // compiler error, if any
	Duration time.Duration // wall time spent compiling
}

// SinkFactory returns the output sink for a job.
type SinkFactory func(jobID string) compiler.Sink

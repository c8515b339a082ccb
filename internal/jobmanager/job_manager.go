// ============================================================================
// jobwatch Job Manager - server-side compile job state
// ============================================================================
//
// Package: internal/jobmanager
// File: job_manager.go
// Purpose: Track compile jobs and hold the observable state of the current
//          one: console transcript, phase timeline and insights
//
// Job state machine:
//   Pending
//      ↓ MarkRunning()
//   Running
//      ↓ MarkCompleted() / MarkFailed()
//   Completed / Failed
//
// Current job:
//   Begin() registers a new job and makes it current, clearing the
//   transcript, phases and insights. Only one job is current at a time.
//   Writes through a Sink bound to an older job are dropped, so a slow
//   compile that was superseded never pollutes the new transcript.
//
// Snapshots:
//   Console() and Insights() return full copies of the current job's
//   state. The client replaces its view with each snapshot, so nothing
//   here is ever sent as a delta.
//
// Concurrency:
//   - sync.RWMutex protects all state
//   - read accessors use RLock, writers use Lock
//
// ============================================================================

package jobmanager

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// ============================================================================
// Error Definitions
// ============================================================================

var (
	// ErrJobNotFound job does not exist
	ErrJobNotFound = errors.New("job not found")
	// ErrNotPending job is not waiting to run
	ErrNotPending = errors.New("job not in pending status")
	// ErrNotRunning job is not running
	ErrNotRunning = errors.New("job not running")
)

const (
	// DefaultMaxLines caps the console transcript
	DefaultMaxLines = 1000
	// historyLimit caps the number of finished jobs kept for lookup
	historyLimit = 100
)

// ============================================================================
// Data Structures
// ============================================================================

// JobManager holds every known job and the output of the current one.
type JobManager struct {
	mu       sync.RWMutex
	maxLines int
	metrics  *metrics.Collector

	jobs    map[string]*types.Job // all known jobs, by ID
	order   []string              // creation order, oldest first
	current string                // ID of the job whose output is shown

	console  []types.ConsoleLine
	phases   []types.Phase
	insights []types.Insight
}

// NewJobManager creates an empty manager. maxLines <= 0 uses
// DefaultMaxLines.
func NewJobManager(maxLines int, m *metrics.Collector) *JobManager {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &JobManager{
		maxLines: maxLines,
		metrics:  m,
		jobs:     make(map[string]*types.Job),
		order:    make([]string, 0),
	}
}

// ============================================================================
// Job Lifecycle
// ============================================================================

// Begin registers a job for source, makes it current and clears the
// previous job's output.
func (jm *JobManager) Begin(source string) types.Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	now := time.Now().UnixMilli()
	job := &types.Job{
		ID:        uuid.NewString(),
		Status:    types.JobPending,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}

	jm.jobs[job.ID] = job
	jm.order = append(jm.order, job.ID)
	jm.current = job.ID
	jm.clearLocked()
	jm.pruneLocked()

	return *job
}

// MarkRunning moves a pending job to running.
func (jm *JobManager) MarkRunning(jobID string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != types.JobPending {
		return ErrNotPending
	}

	job.Status = types.JobRunning
	job.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// MarkCompleted finishes a running job successfully.
func (jm *JobManager) MarkCompleted(jobID string) error {
	return jm.finish(jobID, types.JobCompleted, "")
}

// MarkFailed finishes a running job with an error.
func (jm *JobManager) MarkFailed(jobID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return jm.finish(jobID, types.JobFailed, msg)
}

func (jm *JobManager) finish(jobID string, status types.JobStatus, msg string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != types.JobRunning {
		return ErrNotRunning
	}

	job.Status = status
	job.Error = msg
	job.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// Get returns a copy of a job.
func (jm *JobManager) Get(jobID string) (types.Job, error) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return types.Job{}, ErrJobNotFound
	}
	return *job, nil
}

// Current returns the current job, if any.
func (jm *JobManager) Current() (types.Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[jm.current]
	if !exists {
		return types.Job{}, false
	}
	return *job, true
}

// Stats counts jobs per status.
func (jm *JobManager) Stats() map[string]int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	stats := map[string]int{
		string(types.JobPending):   0,
		string(types.JobRunning):   0,
		string(types.JobCompleted): 0,
		string(types.JobFailed):    0,
	}
	for _, job := range jm.jobs {
		stats[string(job.Status)]++
	}
	return stats
}

// Clear empties the current output without starting a new job.
func (jm *JobManager) Clear() {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.clearLocked()
}

func (jm *JobManager) clearLocked() {
	jm.console = nil
	jm.phases = nil
	jm.insights = nil
}

// pruneLocked drops the oldest finished jobs beyond historyLimit.
func (jm *JobManager) pruneLocked() {
	for len(jm.order) > historyLimit {
		oldest := jm.order[0]
		job := jm.jobs[oldest]
		if oldest == jm.current || job.Status == types.JobPending || job.Status == types.JobRunning {
			return
		}
		delete(jm.jobs, oldest)
		jm.order = jm.order[1:]
	}
}

// ============================================================================
// Output Writers
// ============================================================================

// AddLine appends a console line for jobID. It reports false when jobID is
// not the current job.
func (jm *JobManager) AddLine(jobID, text string, severity types.Severity) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if jobID != jm.current {
		return false
	}
	jm.console = append(jm.console, types.ConsoleLine{Text: text, Type: severity})
	if over := len(jm.console) - jm.maxLines; over > 0 {
		jm.console = append(jm.console[:0:0], jm.console[over:]...)
	}
	jm.metrics.RecordConsoleLine()
	return true
}

// StartPhase appends a running phase, or restarts one with the same name.
func (jm *JobManager) StartPhase(jobID, name, description string) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if jobID != jm.current {
		return false
	}
	phase := types.Phase{Name: name, Status: types.PhaseRunning, Description: description}
	if i := jm.phaseIndexLocked(name); i >= 0 {
		jm.phases[i] = phase
		return true
	}
	jm.phases = append(jm.phases, phase)
	return true
}

// EndPhase completes a phase. A phase that was never started is appended
// as completed.
func (jm *JobManager) EndPhase(jobID, name, result string, isError bool) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if jobID != jm.current {
		return false
	}
	res := result
	i := jm.phaseIndexLocked(name)
	if i < 0 {
		jm.phases = append(jm.phases, types.Phase{Name: name})
		i = len(jm.phases) - 1
	}
	jm.phases[i].Status = types.PhaseCompleted
	jm.phases[i].Result = &res
	jm.phases[i].IsError = isError
	return true
}

// AddInsight appends an insight.
func (jm *JobManager) AddInsight(jobID, title string, code *string, explanation string) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if jobID != jm.current {
		return false
	}
	var c *string
	if code != nil {
		v := *code
		c = &v
	}
	jm.insights = append(jm.insights, types.Insight{Title: title, Code: c, Explanation: explanation})
	return true
}

func (jm *JobManager) phaseIndexLocked(name string) int {
	for i := range jm.phases {
		if jm.phases[i].Name == name {
			return i
		}
	}
	return -1
}

// ============================================================================
// Snapshots
// ============================================================================

// Console returns the full transcript of the current job.
func (jm *JobManager) Console() types.ConsoleSnapshot {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	return types.ConsoleSnapshot{Output: append([]types.ConsoleLine{}, jm.console...)}
}

// Insights returns the phases and insights of the current job.
func (jm *JobManager) Insights() types.InsightsSnapshot {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	snap := types.InsightsSnapshot{
		Phases:   make([]types.Phase, len(jm.phases)),
		Insights: make([]types.Insight, len(jm.insights)),
	}
	for i, p := range jm.phases {
		if p.Result != nil {
			r := *p.Result
			p.Result = &r
		}
		snap.Phases[i] = p
	}
	for i, in := range jm.insights {
		if in.Code != nil {
			c := *in.Code
			in.Code = &c
		}
		snap.Insights[i] = in
	}
	return snap
}

// ============================================================================
// Sink
// ============================================================================

// Sink writes output on behalf of one job.
type Sink struct {
	jm    *JobManager
	jobID string
}

// Sink returns a writer bound to jobID.
func (jm *JobManager) Sink(jobID string) *Sink {
	return &Sink{jm: jm, jobID: jobID}
}

// Line appends a console line.
func (s *Sink) Line(text string, severity types.Severity) {
	s.jm.AddLine(s.jobID, text, severity)
}

// StartPhase marks a phase running.
func (s *Sink) StartPhase(name, description string) {
	s.jm.StartPhase(s.jobID, name, description)
}

// EndPhase marks a phase completed.
func (s *Sink) EndPhase(name, result string, isError bool) {
	s.jm.EndPhase(s.jobID, name, result, isError)
}

// Insight appends an insight.
func (s *Sink) Insight(title string, code *string, explanation string) {
	s.jm.AddInsight(s.jobID, title, code, explanation)
}

package history

// ============================================================================
// Compile history journal
// Responsibilities:
// 1. Append job lifecycle events to a JSON-lines file (append-only)
// 2. Replay the file on open so past jobs stay queryable after a restart
// 3. Rotate the file once it grows past a configured number of events
//
// File format, one event per line:
//   {"seq":1,"job_id":"...","status":"pending","timestamp":...,"checksum":...}
//
// A torn final line (crash mid-write) is truncated on open. Anything else
// that fails to parse or verify is reported as corruption.
// ============================================================================

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var log = slog.Default()

// maxLineSize bounds one encoded event.
const maxLineSize = 1 << 20

// Event is one job status transition.
type Event struct {
	Seq       uint64          `json:"seq"`
	JobID     string          `json:"job_id"`
	Status    types.JobStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix millis
	Checksum  uint32          `json:"checksum"`
}

// Handler is called for each event during Replay.
type Handler func(Event) error

// Journal is an append-only log of job transitions plus an in-memory
// index of the latest state of every job it has seen.
type Journal struct {
	mu           sync.Mutex
	file         *os.File
	path         string
	seq          uint64
	events       int // events in the current file
	syncOnAppend bool
	closed       bool

	jobs map[string]types.Job
}

// Option configures a Journal.
type Option func(*Journal)

// WithSync fsyncs after every append.
func WithSync() Option {
	return func(j *Journal) {
		j.syncOnAppend = true
	}
}

// Open opens or creates the journal at path and replays it into the index.
func Open(path string, opts ...Option) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	j := &Journal{path: path, jobs: make(map[string]types.Job)}
	for _, opt := range opts {
		opt(j)
	}

	valid, err := j.scan(func(ev Event) error {
		j.apply(ev)
		j.seq = ev.Seq
		j.events++
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size() > valid {
		log.Warn("Truncating torn history tail", "path", path, "offset", valid, "size", info.Size())
		if err := file.Truncate(valid); err != nil {
			file.Close()
			return nil, fmt.Errorf("truncate history: %w", err)
		}
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, err
	}
	j.file = file

	log.Info("History opened", "path", path, "events", j.events, "jobs", len(j.jobs), "last_seq", j.seq)
	return j, nil
}

// Append records job's current status.
func (j *Journal) Append(job types.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}

	ev := Event{
		Seq:       j.seq + 1,
		JobID:     job.ID,
		Status:    job.Status,
		Error:     job.Error,
		Timestamp: time.Now().UnixMilli(),
	}
	ev.Checksum = Checksum(ev)

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if j.syncOnAppend {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
	}

	j.seq = ev.Seq
	j.events++
	j.apply(ev)
	return nil
}

// Replay calls handler for every event in the current file, in order.
func (j *Journal) Replay(handler Handler) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	_, err := j.scan(handler)
	return err
}

// Job returns the latest recorded state of id.
func (j *Journal) Job(id string) (types.Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	return job, ok
}

// Len is the number of distinct jobs in the index.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.jobs)
}

// Events is the number of events in the current file.
func (j *Journal) Events() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.events
}

// LastSeq returns the sequence number of the last appended event.
func (j *Journal) LastSeq() uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Rotate moves the current file aside with a timestamp suffix and starts
// an empty one. Sequence numbers and the index carry over.
func (j *Journal) Rotate() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return "", ErrClosed
	}
	if err := j.file.Close(); err != nil {
		return "", err
	}

	backup := j.path + "." + time.Now().Format("20060102_150405.000")
	if err := os.Rename(j.path, backup); err != nil {
		return "", fmt.Errorf("rotate history: %w", err)
	}

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		j.closed = true
		return "", fmt.Errorf("reopen history: %w", err)
	}
	j.file = file
	j.events = 0
	log.Info("History rotated", "backup", backup, "last_seq", j.seq)
	return backup, nil
}

// Close syncs and closes the file. The journal is unusable afterwards.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Sync(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// apply folds ev into the index
func (j *Journal) apply(ev Event) {
	job, ok := j.jobs[ev.JobID]
	if !ok {
		job = types.Job{ID: ev.JobID, CreatedAt: ev.Timestamp}
	}
	job.Status = ev.Status
	job.Error = ev.Error
	job.UpdatedAt = ev.Timestamp
	j.jobs[ev.JobID] = job
}

// scan reads the file and returns the byte offset after the last complete
// valid event. An unterminated final line is treated as a torn write.
func (j *Journal) scan(handler Handler) (int64, error) {
	file, err := os.Open(j.path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// a non-empty unterminated line is a torn write
			return offset, nil
		}
		if err != nil {
			return offset, err
		}
		if len(line) > maxLineSize {
			return offset, &CorruptionError{Offset: offset, Cause: errors.New("line too long")}
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			offset += int64(len(line))
			continue
		}

		var ev Event
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return offset, &CorruptionError{Offset: offset, Cause: err}
		}
		if want := Checksum(ev); ev.Checksum != want {
			return offset, &ChecksumError{Seq: ev.Seq, Expected: want, Actual: ev.Checksum}
		}
		if err := handler(ev); err != nil {
			return offset, err
		}
		offset += int64(len(line))
	}
}

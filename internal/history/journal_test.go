package history

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func openTemp(t *testing.T, opts ...Option) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history", "jobs.log")
	j, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

func lifecycle(t *testing.T, j *Journal, id string, final types.JobStatus, errMsg string) {
	t.Helper()
	require.NoError(t, j.Append(types.Job{ID: id, Status: types.JobPending}))
	require.NoError(t, j.Append(types.Job{ID: id, Status: types.JobRunning}))
	require.NoError(t, j.Append(types.Job{ID: id, Status: final, Error: errMsg}))
}

// ============================================================================
// Tests
// ============================================================================

func TestOpen_Empty(t *testing.T) {
	j, path := openTemp(t)

	assert.Equal(t, uint64(0), j.LastSeq())
	assert.Equal(t, 0, j.Len())
	assert.Equal(t, path, j.Path())
	assert.FileExists(t, path)
}

func TestAppendAndIndex(t *testing.T) {
	j, _ := openTemp(t, WithSync())

	lifecycle(t, j, "job-1", types.JobCompleted, "")
	lifecycle(t, j, "job-2", types.JobFailed, "compiler panicked")

	assert.Equal(t, uint64(6), j.LastSeq())
	assert.Equal(t, 2, j.Len())
	assert.Equal(t, 6, j.Events())

	job, ok := j.Job("job-2")
	require.True(t, ok)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Equal(t, "compiler panicked", job.Error)
	assert.LessOrEqual(t, job.CreatedAt, job.UpdatedAt)

	_, ok = j.Job("missing")
	assert.False(t, ok)
}

func TestReopenReplays(t *testing.T) {
	j, path := openTemp(t)
	lifecycle(t, j, "job-1", types.JobCompleted, "")
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(3), reopened.LastSeq())
	job, ok := reopened.Job("job-1")
	require.True(t, ok)
	assert.Equal(t, types.JobCompleted, job.Status)

	// sequence continues
	require.NoError(t, reopened.Append(types.Job{ID: "job-2", Status: types.JobPending}))
	assert.Equal(t, uint64(4), reopened.LastSeq())

	var seqs []uint64
	require.NoError(t, reopened.Replay(func(ev Event) error {
		seqs = append(seqs, ev.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
}

func TestReplay_HandlerError(t *testing.T) {
	j, _ := openTemp(t)
	lifecycle(t, j, "job-1", types.JobCompleted, "")

	stop := errors.New("stop")
	calls := 0
	err := j.Replay(func(ev Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOpen_TornTail(t *testing.T) {
	j, path := openTemp(t)
	lifecycle(t, j, "job-1", types.JobCompleted, "")
	require.NoError(t, j.Close())

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":4,"job_id":"job-`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path)
	require.NoError(t, err, "torn tail is repaired, not fatal")
	defer reopened.Close()

	assert.Equal(t, uint64(3), reopened.LastSeq())
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOpen_Corrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.log")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestOpen_ChecksumMismatch(t *testing.T) {
	j, path := openTemp(t)
	require.NoError(t, j.Append(types.Job{ID: "job-1", Status: types.JobPending}))
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "job-1", "job-9", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	var csErr *ChecksumError
	require.True(t, errors.As(err, &csErr))
	assert.Equal(t, uint64(1), csErr.Seq)
	assert.Contains(t, csErr.Error(), "seq=1")
}

func TestRotate(t *testing.T) {
	j, path := openTemp(t)
	lifecycle(t, j, "job-1", types.JobCompleted, "")

	backup, err := j.Rotate()
	require.NoError(t, err)
	assert.FileExists(t, backup)
	assert.True(t, strings.HasPrefix(backup, path+"."))

	assert.Equal(t, 0, j.Events())
	assert.Equal(t, 1, j.Len(), "index survives rotation")

	require.NoError(t, j.Append(types.Job{ID: "job-2", Status: types.JobPending}))
	assert.Equal(t, uint64(4), j.LastSeq())

	var count int
	require.NoError(t, j.Replay(func(Event) error { count++; return nil }))
	assert.Equal(t, 1, count)
}

func TestClosed(t *testing.T) {
	j, _ := openTemp(t)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "second close is a no-op")

	assert.ErrorIs(t, j.Append(types.Job{ID: "x"}), ErrClosed)
	assert.ErrorIs(t, j.Replay(func(Event) error { return nil }), ErrClosed)
	_, err := j.Rotate()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentAppend(t *testing.T) {
	j, _ := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for k := 0; k < 20; k++ {
				assert.NoError(t, j.Append(types.Job{ID: "job", Status: types.JobRunning}))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(200), j.LastSeq())
	var prev uint64
	require.NoError(t, j.Replay(func(ev Event) error {
		assert.Equal(t, prev+1, ev.Seq)
		prev = ev.Seq
		return nil
	}))
}

func TestChecksum(t *testing.T) {
	ev := Event{Seq: 1, JobID: "a", Status: types.JobPending, Timestamp: 10}
	sum := Checksum(ev)

	assert.Equal(t, sum, Checksum(ev))
	ev.Seq = 2
	assert.NotEqual(t, sum, Checksum(ev))
	ev.Seq = 1
	ev.Checksum = 12345
	assert.Equal(t, sum, Checksum(ev), "checksum field is excluded")
}

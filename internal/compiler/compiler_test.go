package compiler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

type phaseEvent struct {
	name    string
	result  string
	isError bool
	started bool
}

type recordingSink struct {
	mu       sync.Mutex
	lines    []types.ConsoleLine
	phases   []phaseEvent
	insights []types.Insight
}

func (s *recordingSink) Line(text string, sev types.Severity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, types.ConsoleLine{Text: text, Type: sev})
}

func (s *recordingSink) StartPhase(name, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phaseEvent{name: name, started: true})
}

func (s *recordingSink) EndPhase(name, result string, isError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phaseEvent{name: name, result: result, isError: isError})
}

func (s *recordingSink) Insight(title string, code *string, explanation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, types.Insight{Title: title, Code: code, Explanation: explanation})
}

func (s *recordingSink) linesOf(sev types.Severity) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.lines {
		if l.Type == sev {
			out = append(out, l.Text)
		}
	}
	return out
}

// ============================================================================
// Run Tests
// ============================================================================

func TestRunReportsFailureLine(t *testing.T) {
	sink := &recordingSink{}
	failing := Func(func(ctx context.Context, source string, sink Sink) error {
		return errors.New("unexpected token")
	})

	err := Run(context.Background(), failing, "x", sink)

	require.Error(t, err)
	assert.Equal(t, []string{"Compilation pipeline failed: unexpected token"}, sink.linesOf(types.SeverityError))
}

func TestRunRecoversPanic(t *testing.T) {
	sink := &recordingSink{}
	panicking := Func(func(ctx context.Context, source string, sink Sink) error {
		panic("boom")
	})

	err := Run(context.Background(), panicking, "x", sink)

	assert.ErrorContains(t, err, "boom")
	require.Len(t, sink.linesOf(types.SeverityError), 1)
	assert.True(t, strings.HasPrefix(sink.linesOf(types.SeverityError)[0], PipelineFailedPrefix))
}

func TestRunSuccessWritesNothingExtra(t *testing.T) {
	sink := &recordingSink{}
	ok := Func(func(ctx context.Context, source string, sink Sink) error {
		sink.Line(source, types.SeveritySuccess)
		return nil
	})

	require.NoError(t, Run(context.Background(), ok, "1", sink))
	assert.Equal(t, []types.ConsoleLine{{Text: "1", Type: types.SeveritySuccess}}, sink.lines)
}

// ============================================================================
// CommandCompiler Tests
// ============================================================================

func TestCommandStreamsStdoutAsSuccess(t *testing.T) {
	sink := &recordingSink{}
	c := &CommandCompiler{Command: "cat", ExecutionTimeout: 5 * time.Second}

	require.NoError(t, c.Compile(context.Background(), "1\n2\n", sink))

	assert.Equal(t, []string{"1", "2"}, sink.linesOf(types.SeveritySuccess))
	require.Len(t, sink.phases, 2)
	assert.True(t, sink.phases[0].started)
	assert.Equal(t, ExecutePhase, sink.phases[1].name)
	assert.Equal(t, "Completed successfully", sink.phases[1].result)
	assert.False(t, sink.phases[1].isError)
	assert.Len(t, sink.insights, 1)
}

func TestCommandStderrAsError(t *testing.T) {
	sink := &recordingSink{}
	c := &CommandCompiler{Command: "echo 'bad syntax' >&2; exit 3"}

	err := c.Compile(context.Background(), "", sink)

	require.Error(t, err)
	assert.Equal(t, []string{"bad syntax"}, sink.linesOf(types.SeverityError))
	last := sink.phases[len(sink.phases)-1]
	assert.True(t, last.isError)
	assert.Equal(t, "Failed", last.result)
}

func TestCommandNoOutput(t *testing.T) {
	sink := &recordingSink{}
	c := &CommandCompiler{Command: "true"}

	require.NoError(t, c.Compile(context.Background(), "", sink))
	assert.Equal(t, []string{NoOutputMessage}, sink.linesOf(types.SeverityNormal))
}

func TestCommandInactivityTimeout(t *testing.T) {
	sink := &recordingSink{}
	c := &CommandCompiler{
		Command:           "sleep 5",
		ExecutionTimeout:  10 * time.Second,
		InactivityTimeout: 100 * time.Millisecond,
	}

	start := time.Now()
	err := c.Compile(context.Background(), "", sink)

	assert.ErrorIs(t, err, ErrInactive)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCommandExecutionTimeout(t *testing.T) {
	sink := &recordingSink{}
	c := &CommandCompiler{
		Command:           "while true; do echo tick; sleep 0.02; done",
		ExecutionTimeout:  200 * time.Millisecond,
		InactivityTimeout: 5 * time.Second,
	}

	err := c.Compile(context.Background(), "", sink)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, sink.linesOf(types.SeveritySuccess))
}

func TestCommandEmpty(t *testing.T) {
	c := &CommandCompiler{Command: "  "}
	assert.ErrorIs(t, c.Compile(context.Background(), "", &recordingSink{}), ErrEmptyCommand)
}

package compiler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// ExecutePhase is the phase reported by CommandCompiler.
const ExecutePhase = "Execute"

const (
	scannerBufferInitial = 64 * 1024
	scannerBufferMax     = 8 * 1024 * 1024
)

var (
	// ErrEmptyCommand is returned when no command is configured
	ErrEmptyCommand = errors.New("compiler command is empty")
	// ErrInactive is returned when the command stops producing output
	ErrInactive = errors.New("compiler produced no output within the inactivity timeout")
)

// CommandCompiler runs a shell command with the source on stdin. Stdout
// lines are reported as success lines and stderr lines as error lines.
type CommandCompiler struct {
	Command           string
	Dir               string
	Env               []string
	ExecutionTimeout  time.Duration
	InactivityTimeout time.Duration
}

// Compile runs the command once.
func (c *CommandCompiler) Compile(ctx context.Context, source string, sink Sink) error {
	if strings.TrimSpace(c.Command) == "" {
		return ErrEmptyCommand
	}
	execTimeout := c.ExecutionTimeout
	if execTimeout <= 0 {
		execTimeout = 30 * time.Second
	}
	idleTimeout := c.InactivityTimeout
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Second
	}

	sink.StartPhase(ExecutePhase, "Running "+strings.Fields(c.Command)[0])
	start := time.Now()

	timeoutCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()
	runCtx, kill := context.WithCancel(timeoutCtx)
	defer kill()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", c.Command)
	cmd.Dir = c.Dir
	cmd.Stdin = strings.NewReader(source)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	// children of the shell may keep the pipes open after a kill
	cmd.WaitDelay = 500 * time.Millisecond
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if err := cmd.Start(); err != nil {
		return c.fail(sink, fmt.Errorf("start command: %w", err))
	}

	var (
		mu      sync.Mutex
		lastOut = time.Now()
		outputs int
		streams sync.WaitGroup
	)

	copyStream := func(r io.Reader, sev types.Severity) {
		defer streams.Done()
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, scannerBufferInitial), scannerBufferMax)
		for sc.Scan() {
			mu.Lock()
			lastOut = time.Now()
			if sev == types.SeveritySuccess {
				outputs++
			}
			mu.Unlock()
			sink.Line(sc.Text(), sev)
		}
		if err := sc.Err(); err != nil {
			sink.Line("scanner_error: "+err.Error(), types.SeverityWarning)
		}
		// unblock the writer if the scanner gave up early
		_, _ = io.Copy(io.Discard, r)
	}

	streams.Add(2)
	go copyStream(stdoutR, types.SeveritySuccess)
	go copyStream(stderrR, types.SeverityError)

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		streams.Wait()
		waitCh <- err
	}()

	check := idleTimeout / 4
	if check > time.Second {
		check = time.Second
	}
	ticker := time.NewTicker(check)
	defer ticker.Stop()

	idled := false
	for {
		select {
		case err := <-waitCh:
			switch {
			case idled:
				return c.fail(sink, ErrInactive)
			case err == nil:
				return c.succeed(sink, outputs, time.Since(start))
			case timeoutCtx.Err() != nil:
				return c.fail(sink, fmt.Errorf("command exited: %w", timeoutCtx.Err()))
			default:
				return c.fail(sink, fmt.Errorf("command exited: %w", err))
			}

		case <-ticker.C:
			if idled {
				continue
			}
			mu.Lock()
			idle := time.Since(lastOut)
			mu.Unlock()
			if idle > idleTimeout {
				idled = true
				kill()
			}
		}
	}
}

func (c *CommandCompiler) succeed(sink Sink, outputs int, elapsed time.Duration) error {
	if outputs == 0 {
		sink.Line(NoOutputMessage, types.SeverityNormal)
	}
	sink.EndPhase(ExecutePhase, "Completed successfully", false)
	sink.Insight("Compiler", nil, fmt.Sprintf("Program finished in %s.", elapsed.Round(time.Millisecond)))
	return nil
}

func (c *CommandCompiler) fail(sink Sink, err error) error {
	sink.EndPhase(ExecutePhase, "Failed", true)
	return err
}

package reload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on pipes held open by grandchildren
// (frr-reload spawns vtysh) after the reloader itself has exited.
const waitDelay = 5 * time.Second

// RunResult is the observable result of one reloader invocation.
type RunResult struct {
	// ExitCode is the process exit code (-1 if killed by a signal).
	ExitCode int
	// Stdout is the captured standard output.
	Stdout []byte
	// Stderr is the captured standard error.
	Stderr []byte
}

// Runner runs a command to completion with captured output.
// Implementations return *SpawnError when the process cannot be started and
// *WaitError when its termination cannot be observed. A non-zero exit is not
// an error: it is reported through RunResult.ExitCode.
type Runner interface {
	Run(ctx context.Context, path string, args []string) (*RunResult, error)
}

// SpawnError reports a reloader process that could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// WaitError reports a failure while waiting for a started reloader.
type WaitError struct {
	Path string
	Err  error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("failed to wait for %s: %v", e.Path, e.Err)
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands as child processes.
// Stdout and stderr are captured in memory, never streamed.
type ExecRunner struct{}

// Run starts path with args and waits for it to exit.
// If ctx ends first the process is killed and a *WaitError wrapping
// ctx.Err() is returned alongside the partial output.
func (ExecRunner) Run(ctx context.Context, path string, args []string) (*RunResult, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}

	waitErr := cmd.Wait()
	result := &RunResult{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	exitCode, err := waitOutcome(ctx, path, cmd.ProcessState, waitErr)
	result.ExitCode = exitCode
	return result, err
}

// waitOutcome classifies the result of Wait. A process that exited on its
// own reports its exit status even if ctx ended in the meantime: a reloader
// that finished --reload has already applied the config. Only a process
// killed after ctx ended is reported as a *WaitError wrapping ctx.Err().
func waitOutcome(ctx context.Context, path string, state *os.ProcessState, err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	// Also covers exec.ErrWaitDelay: a grandchild kept our pipes open past
	// waitDelay, but the exit status is authoritative.
	if state != nil && state.Exited() {
		return state.ExitCode(), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, &WaitError{Path: path, Err: ctxErr}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return -1, &WaitError{Path: path, Err: err}
}

var _ Runner = ExecRunner{}

package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
)

// LaunchError means the step's executable could not be found or is not
// executable. For halting purposes it is treated like a nonzero exit.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("cannot launch %q: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// SpawnError means the OS failed to create the process, e.g. resource
// exhaustion. Distinct from LaunchError: the executable was fine, the fork
// was not.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("cannot spawn %q: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// NonZeroExitError means the step ran to completion and exited nonzero.
type NonZeroExitError struct {
	Code int
}

func (e *NonZeroExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// SignaledError means the step was terminated by a signal before it could
// exit.
type SignaledError struct {
	Signal syscall.Signal
}

func (e *SignaledError) Error() string {
	return fmt.Sprintf("terminated by signal %s", e.Signal)
}

// classifyStartError maps a cmd.Start failure onto the taxonomy: a missing
// or non-executable binary is a LaunchError, anything else is a SpawnError.
func classifyStartError(path string, err error) error {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return &LaunchError{Path: path, Err: execErr.Err}
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return &LaunchError{Path: path, Err: err}
	}
	return &SpawnError{Path: path, Err: err}
}

// classifyWaitError maps a cmd.Wait failure onto the taxonomy. Non-exit
// errors (I/O failures copying streams) are reported as spawn failures since
// the process state is unknown.
func classifyWaitError(path string, err error) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return &SpawnError{Path: path, Err: err}
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return &SignaledError{Signal: ws.Signal()}
	}
	return &NonZeroExitError{Code: exitErr.ExitCode()}
}

package runner

import (
	"io"
	"strings"
	"time"

	"stepflow/events"
	"stepflow/runner/storage"
)

// Command is one executable invocation: a resolvable path plus its ordered
// arguments.
type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Step is one named unit of work in a run. A step is either a single command
// or a pipeline of commands connected stdout to stdin. Env overrides are
// layered over the inherited environment for this step only; they never leak
// into later steps. Names are labels, not identifiers, so duplicates are
// allowed.
type Step struct {
	Name     string
	Command  Command
	Pipeline []Command // used instead of Command when non-empty
	Env      map[string]string
}

// commands returns the pipeline stages of the step, which is just the single
// command for the non-pipeline form.
func (s Step) commands() []Command {
	if len(s.Pipeline) > 0 {
		return s.Pipeline
	}
	return []Command{s.Command}
}

// CommandLine renders the step's command(s) for display and persistence.
func (s Step) CommandLine() string {
	cmds := s.commands()
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		parts[i] = c.String()
	}
	return strings.Join(parts, " | ")
}

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// StepResult records the outcome of one executed step. It is created when
// the step finishes and never mutated afterwards.
type StepResult struct {
	Name       string        `json:"name"`
	Status     string        `json:"status"`
	ExitCode   int           `json:"exit_code"`        // -1 when the step never exited normally
	Signal     string        `json:"signal,omitempty"` // set when the step was terminated by a signal
	Output     string        `json:"output"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"` // one of LaunchError, SpawnError, NonZeroExitError, SignaledError
}

// RunReport is the ordered outcome of a whole run. With stop-on-failure in
// effect the results are a strict prefix of the configured step list: nothing
// after the first failing step is ever launched, so nothing after it has a
// result.
type RunReport struct {
	Results     []StepResult  `json:"results"`
	Outcome     string        `json:"outcome"`
	FailedIndex int           `json:"failed_index"` // -1 when every step succeeded
	RunID       int64         `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// ExitCode translates the report into a process exit status: 0 when every
// step succeeded, the failing step's own exit code otherwise, or 1 when the
// failing step was signaled or never launched.
func (r *RunReport) ExitCode() int {
	if r.FailedIndex < 0 {
		return 0
	}
	if code := r.Results[r.FailedIndex].ExitCode; code > 0 {
		return code
	}
	return 1
}

// RunOptions configures how a run executes.
type RunOptions struct {
	// ContinueOnFailure runs the remaining steps after a failure instead of
	// halting at the first one. The zero value is shell errexit behavior.
	ContinueOnFailure bool

	// Storage, when set, persists the run and its step executions.
	Storage *storage.Storage

	// Broker, when set, receives run_started/step_started/step_finished/
	// run_finished events around each step.
	Broker *events.Broker

	// Stdout and Stderr receive each step's live output. They default to
	// the process streams.
	Stdout io.Writer
	Stderr io.Writer

	// ConfigPath and ProjectName are recorded with the run when Storage is
	// set.
	ConfigPath  string
	ProjectName string

	// Quiet suppresses the runner's own per-step progress lines. Step
	// output itself still streams.
	Quiet bool
}

package runner

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Runner executes steps strictly sequentially: each step's subprocess must
// terminate before the next step is considered. A Runner may be reused for
// consecutive runs but not for concurrent ones.
type Runner struct {
	mu      sync.Mutex
	current []*exec.Cmd // processes of the step currently running
}

func New() *Runner {
	return &Runner{}
}

// Interrupt forwards sig to the currently running step's process(es). The
// step then fails as Signaled and the run halts under stop-on-failure. It is
// safe to call from another goroutine, which is how the cmd layer wires
// SIGINT/SIGTERM through.
func (r *Runner) Interrupt(sig os.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cmd := range r.current {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(sig)
		}
	}
}

// RunFile loads a pipeline config and executes its steps. Execution happens
// with the config file's directory as working directory, so relative paths
// in step commands behave the same no matter where the runner was invoked
// from.
func (r *Runner) RunFile(configPath string, opts RunOptions) (*RunReport, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	originalDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	if err := os.Chdir(filepath.Dir(configPath)); err != nil {
		return nil, fmt.Errorf("failed to change to config directory: %w", err)
	}
	defer os.Chdir(originalDir)

	if opts.ConfigPath == "" {
		opts.ConfigPath = configPath
	}
	return r.Run(cfg.BuildSteps(), opts)
}

// Run executes steps in order and returns a report with one result per
// executed step. The returned error is the first step failure (nil when all
// steps succeeded); the report is always non-nil and the runner retains no
// reference to it.
func (r *Runner) Run(steps []Step, opts RunOptions) (*RunReport, error) {
	start := time.Now()
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	report := &RunReport{
		Results:     make([]StepResult, 0, len(steps)),
		FailedIndex: -1,
		StartedAt:   start,
	}

	if opts.Storage != nil {
		run, err := opts.Storage.CreateRun(opts.ConfigPath, opts.ProjectName)
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		report.RunID = run.ID
	}
	if opts.Broker != nil {
		opts.Broker.Broadcast("run_started", map[string]interface{}{
			"run_id":  report.RunID,
			"project": opts.ProjectName,
			"steps":   len(steps),
		})
	}

	var firstErr error
	for i, step := range steps {
		res := r.runStep(step, report.RunID, opts, stdout, stderr)
		report.Results = append(report.Results, res)

		if res.Err != nil {
			if report.FailedIndex < 0 {
				report.FailedIndex = i
				firstErr = fmt.Errorf("step %q failed: %w", step.Name, res.Err)
			}
			if !opts.ContinueOnFailure {
				break
			}
		}
	}

	report.Duration = time.Since(start)
	if report.FailedIndex >= 0 {
		report.Outcome = StatusFailed
	} else {
		report.Outcome = StatusSuccess
	}

	if opts.Storage != nil {
		failedStep := ""
		if report.FailedIndex >= 0 {
			failedStep = report.Results[report.FailedIndex].Name
		}
		_ = opts.Storage.FinishRun(report.RunID, report.Outcome, failedStep, report.Duration)
	}
	if opts.Broker != nil {
		opts.Broker.Broadcast("run_finished", map[string]interface{}{
			"run_id":    report.RunID,
			"project":   opts.ProjectName,
			"outcome":   report.Outcome,
			"exit_code": report.ExitCode(),
			"duration":  report.Duration.String(),
		})
	}

	return report, firstErr
}

// runStep executes a single step and returns its immutable result.
func (r *Runner) runStep(step Step, runID int64, opts RunOptions, stdout, stderr io.Writer) StepResult {
	started := time.Now()

	if !opts.Quiet {
		fmt.Fprintln(stdout, "→", step.Name)
	}
	if opts.Broker != nil {
		opts.Broker.Broadcast("step_started", map[string]interface{}{
			"run_id": runID,
			"name":   step.Name,
		})
	}

	var stepExecID int64
	if opts.Storage != nil {
		stepExec, err := opts.Storage.CreateStepExecution(runID, step.Name, step.CommandLine())
		if err == nil {
			stepExecID = stepExec.ID
		}
	}

	output, err := r.execute(step, stdout, stderr)
	finished := time.Now()

	res := StepResult{
		Name:       step.Name,
		Output:     output,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
		Err:        err,
	}

	switch e := err.(type) {
	case nil:
		res.Status = StatusSuccess
		res.ExitCode = 0
	case *NonZeroExitError:
		res.Status = StatusFailed
		res.ExitCode = e.Code
	case *SignaledError:
		res.Status = StatusFailed
		res.ExitCode = -1
		res.Signal = e.Signal.String()
	default:
		res.Status = StatusFailed
		res.ExitCode = -1
	}

	if !opts.Quiet {
		if err != nil {
			fmt.Fprintln(stderr, "✗ Step failed:", err)
		} else {
			fmt.Fprintf(stdout, "✓ Done: %s (%s)\n", step.Name, res.Duration.Round(time.Millisecond))
		}
	}

	if opts.Storage != nil && stepExecID != 0 {
		_ = opts.Storage.FinishStepExecution(stepExecID, res.Status, output, res.ExitCode, res.Signal, failureKind(err), res.Duration)
	}
	if opts.Broker != nil {
		opts.Broker.Broadcast("step_finished", map[string]interface{}{
			"run_id":    runID,
			"name":      step.Name,
			"status":    res.Status,
			"exit_code": res.ExitCode,
			"signal":    res.Signal,
			"duration":  res.Duration.String(),
		})
	}

	return res
}

// execute spawns the step's command or pipeline and waits for every stage.
// Stdout/stderr stream live to the given writers while also being captured
// for the result; io.MultiWriter keeps the interleaving the processes
// produced. The returned error is the step's classified failure, with
// pipeline stages reporting the first failing stage in stage order.
func (r *Runner) execute(step Step, stdout, stderr io.Writer) (string, error) {
	// Pipeline stages run concurrently and exec copies their streams from
	// separate goroutines, so writes into the shared capture buffer must be
	// serialized.
	var capture bytes.Buffer
	var wmu sync.Mutex
	outW := &lockedWriter{mu: &wmu, w: io.MultiWriter(stdout, &capture)}
	errW := &lockedWriter{mu: &wmu, w: io.MultiWriter(stderr, &capture)}

	stages := step.commands()
	env := mergeEnv(os.Environ(), step.Env)

	cmds := make([]*exec.Cmd, len(stages))
	for i, c := range stages {
		cmd := exec.Command(c.Path, c.Args...)
		cmd.Env = env
		cmd.Stderr = errW
		cmds[i] = cmd
	}
	cmds[len(cmds)-1].Stdout = outW

	// Connect pipeline stages with real OS pipes so each child owns a file
	// descriptor end and EOF propagates when the writer side exits.
	parentEnds := make([]*os.File, 0, 2*(len(cmds)-1))
	for i := 0; i < len(cmds)-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			closeAll(parentEnds)
			return capture.String(), &SpawnError{Path: stages[i].Path, Err: err}
		}
		cmds[i].Stdout = pw
		cmds[i+1].Stdin = pr
		parentEnds = append(parentEnds, pr, pw)
	}

	started := make([]*exec.Cmd, 0, len(cmds))
	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			closeAll(parentEnds)
			for _, c := range started {
				_ = c.Process.Kill()
				_ = c.Wait()
			}
			return capture.String(), classifyStartError(stages[i].Path, err)
		}
		started = append(started, cmd)
	}

	r.mu.Lock()
	r.current = started
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
	}()

	// The children hold their own copies now; the parent's must close or
	// downstream stages never see EOF.
	closeAll(parentEnds)

	// Wait in stage order and keep the first failure, which is exactly the
	// pipefail rule: a step's status is the first non-zero stage, not the
	// last.
	var stepErr error
	for i, cmd := range cmds {
		if err := cmd.Wait(); err != nil && stepErr == nil {
			stepErr = classifyWaitError(stages[i].Path, err)
		}
	}

	out := capture.String()
	if len(out) > 0 && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out, stepErr
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// failureKind names the taxonomy bucket of a step error for persistence.
func failureKind(err error) string {
	switch err.(type) {
	case nil:
		return ""
	case *LaunchError:
		return "launch"
	case *SpawnError:
		return "spawn"
	case *NonZeroExitError:
		return "exit"
	case *SignaledError:
		return "signaled"
	default:
		return "unknown"
	}
}

// mergeEnv layers overrides on top of the inherited environment. The base
// slice is never modified. Override keys replace inherited entries of the
// same name and are appended in sorted order so the result is deterministic.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	merged := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if _, shadowed := overrides[key]; shadowed {
			continue
		}
		merged = append(merged, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+overrides[k])
	}
	return merged
}

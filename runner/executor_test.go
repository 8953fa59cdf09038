package runner

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sh builds a step running a shell one-liner.
func sh(name, script string) Step {
	return Step{Name: name, Command: Command{Path: "/bin/sh", Args: []string{"-c", script}}}
}

// quiet runs steps with output captured instead of hitting the test's
// terminal.
func quiet(opts RunOptions) RunOptions {
	opts.Quiet = true
	if opts.Stdout == nil {
		opts.Stdout = &bytes.Buffer{}
	}
	if opts.Stderr == nil {
		opts.Stderr = &bytes.Buffer{}
	}
	return opts
}

func TestRunAllGreen(t *testing.T) {
	steps := []Step{
		sh("a", "exit 0"),
		sh("b", "exit 0"),
	}

	report, err := New().Run(steps, quiet(RunOptions{}))
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, report.Outcome)
	assert.Equal(t, -1, report.FailedIndex)
	assert.Equal(t, 0, report.ExitCode())
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, 0, res.ExitCode)
		assert.NoError(t, res.Err)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	steps := []Step{
		sh("lint", "exit 0"),
		sh("test", "exit 1"),
		sh("after", "touch "+marker),
	}

	report, err := New().Run(steps, quiet(RunOptions{}))
	require.Error(t, err)
	assert.ErrorContains(t, err, `step "test" failed`)

	// Results are a strict prefix: the failing step has a result, nothing
	// after it was ever launched.
	require.Len(t, report.Results, 2)
	assert.Equal(t, StatusFailed, report.Outcome)
	assert.Equal(t, 1, report.FailedIndex)
	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, StatusSuccess, report.Results[0].Status)
	assert.Equal(t, StatusFailed, report.Results[1].Status)
	assert.Equal(t, 1, report.Results[1].ExitCode)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "step after the failure must not run")
}

func TestRunContinueOnFailure(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	steps := []Step{
		sh("a", "exit 0"),
		sh("b", "exit 2"),
		sh("c", "touch "+marker),
	}

	report, err := New().Run(steps, quiet(RunOptions{ContinueOnFailure: true}))
	require.Error(t, err)

	require.Len(t, report.Results, 3, "continue mode runs every step")
	assert.Equal(t, StatusFailed, report.Outcome)
	assert.Equal(t, 1, report.FailedIndex)
	assert.Equal(t, 2, report.ExitCode())
	assert.Equal(t, StatusSuccess, report.Results[2].Status)

	_, statErr := os.Stat(marker)
	assert.NoError(t, statErr, "steps after the failure still run in continue mode")
}

func TestRunIdempotent(t *testing.T) {
	steps := []Step{
		sh("a", "exit 0"),
		sh("b", "exit 0"),
	}

	r := New()
	first, err := r.Run(steps, quiet(RunOptions{}))
	require.NoError(t, err)
	second, err := r.Run(steps, quiet(RunOptions{}))
	require.NoError(t, err)

	require.Len(t, second.Results, len(first.Results))
	for i := range first.Results {
		assert.Equal(t, first.Results[i].ExitCode, second.Results[i].ExitCode)
		assert.Equal(t, first.Results[i].Status, second.Results[i].Status)
	}
}

func TestEnvOverrideIsolation(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")

	steps := []Step{
		{
			Name:    "with-override",
			Command: Command{Path: "/bin/sh", Args: []string{"-c", `printf '%s' "$STEPFLOW_TEST_X" > ` + first}},
			Env:     map[string]string{"STEPFLOW_TEST_X": "1"},
		},
		sh("without-override", `printf '%s' "$STEPFLOW_TEST_X" > `+second),
	}

	_, err := New().Run(steps, quiet(RunOptions{}))
	require.NoError(t, err)

	firstData, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "1", string(firstData))

	secondData, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "", string(secondData), "override must not leak into the next step")
}

func TestEnvOverrideReplacesInherited(t *testing.T) {
	t.Setenv("STEPFLOW_TEST_Y", "inherited")

	out := filepath.Join(t.TempDir(), "out")
	steps := []Step{
		{
			Name:    "override",
			Command: Command{Path: "/bin/sh", Args: []string{"-c", `printf '%s' "$STEPFLOW_TEST_Y" > ` + out}},
			Env:     map[string]string{"STEPFLOW_TEST_Y": "override"},
		},
	}

	_, err := New().Run(steps, quiet(RunOptions{}))
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "override", string(data))
}

func TestPipelineExitStatusFirstFailingStage(t *testing.T) {
	step := Step{
		Name: "produce-consume",
		Pipeline: []Command{
			{Path: "/bin/sh", Args: []string{"-c", "exit 3"}},
			{Path: "cat"},
		},
	}

	report, err := New().Run([]Step{step}, quiet(RunOptions{}))
	require.Error(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.ExitCode, "status must come from the first failing stage, not the last")
	assert.Equal(t, 3, report.ExitCode())

	var exitErr *NonZeroExitError
	require.ErrorAs(t, res.Err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
}

func TestPipelineLastStageFailure(t *testing.T) {
	step := Step{
		Name: "consumer-fails",
		Pipeline: []Command{
			{Path: "echo", Args: []string{"hi"}},
			{Path: "/bin/sh", Args: []string{"-c", "cat >/dev/null; exit 7"}},
		},
	}

	report, err := New().Run([]Step{step}, quiet(RunOptions{}))
	require.Error(t, err)
	assert.Equal(t, 7, report.Results[0].ExitCode)
}

func TestPipelineDataFlow(t *testing.T) {
	var stdout bytes.Buffer
	step := Step{
		Name: "echo-cat",
		Pipeline: []Command{
			{Path: "echo", Args: []string{"hello"}},
			{Path: "cat"},
		},
	}

	report, err := New().Run([]Step{step}, quiet(RunOptions{Stdout: &stdout}))
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "hello")
	assert.Contains(t, report.Results[0].Output, "hello")
}

func TestLaunchErrorMissingAbsolutePath(t *testing.T) {
	steps := []Step{
		{Name: "missing", Command: Command{Path: "/nonexistent/stepflow-no-such-binary"}},
	}

	report, err := New().Run(steps, quiet(RunOptions{}))
	require.Error(t, err)

	var launchErr *LaunchError
	require.ErrorAs(t, report.Results[0].Err, &launchErr)
	assert.Equal(t, StatusFailed, report.Outcome)
	assert.Equal(t, 1, report.ExitCode())
}

func TestLaunchErrorUnresolvableName(t *testing.T) {
	steps := []Step{
		{Name: "missing", Command: Command{Path: "stepflow-no-such-binary-on-path"}},
	}

	report, _ := New().Run(steps, quiet(RunOptions{}))

	var launchErr *LaunchError
	require.ErrorAs(t, report.Results[0].Err, &launchErr)
}

func TestLaunchErrorHaltsRun(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	steps := []Step{
		{Name: "missing", Command: Command{Path: "/nonexistent/stepflow-no-such-binary"}},
		sh("after", "touch "+marker),
	}

	report, err := New().Run(steps, quiet(RunOptions{}))
	require.Error(t, err)
	require.Len(t, report.Results, 1)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSignaledStep(t *testing.T) {
	steps := []Step{
		sh("self-signal", "kill -TERM $$"),
	}

	report, err := New().Run(steps, quiet(RunOptions{}))
	require.Error(t, err)

	res := report.Results[0]
	var sigErr *SignaledError
	require.ErrorAs(t, res.Err, &sigErr)
	assert.Equal(t, syscall.SIGTERM, sigErr.Signal)
	assert.Equal(t, syscall.SIGTERM.String(), res.Signal)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, 1, report.ExitCode())
}

func TestInterruptHaltsCurrentStep(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	steps := []Step{
		sh("slow", "sleep 30"),
		sh("after", "touch "+marker),
	}

	r := New()
	go func() {
		time.Sleep(200 * time.Millisecond)
		r.Interrupt(syscall.SIGTERM)
	}()

	start := time.Now()
	report, err := r.Run(steps, quiet(RunOptions{}))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "interrupt must not wait for the child's natural exit")

	require.Len(t, report.Results, 1)
	var sigErr *SignaledError
	require.ErrorAs(t, report.Results[0].Err, &sigErr)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "run must halt after the interrupted step")
}

func TestStreamsReceiveLiveOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	steps := []Step{
		sh("out", "echo to-stdout"),
		sh("err", "echo to-stderr 1>&2"),
	}

	report, err := New().Run(steps, quiet(RunOptions{Stdout: &stdout, Stderr: &stderr}))
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "to-stdout")
	assert.Contains(t, stderr.String(), "to-stderr")
	assert.Contains(t, report.Results[0].Output, "to-stdout")
	assert.Contains(t, report.Results[1].Output, "to-stderr")
}

func TestStepTimingRecorded(t *testing.T) {
	report, err := New().Run([]Step{sh("nap", "sleep 0.2")}, quiet(RunOptions{}))
	require.NoError(t, err)

	res := report.Results[0]
	assert.False(t, res.StartedAt.IsZero())
	assert.False(t, res.FinishedAt.IsZero())
	assert.GreaterOrEqual(t, res.Duration, 150*time.Millisecond)
	assert.True(t, res.FinishedAt.After(res.StartedAt))
}

func TestDuplicateStepNamesAllowed(t *testing.T) {
	steps := []Step{
		sh("build", "exit 0"),
		sh("build", "exit 0"),
	}

	report, err := New().Run(steps, quiet(RunOptions{}))
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
}

func TestMergeEnv(t *testing.T) {
	base := []string{"A=1", "B=2", "C=3"}

	t.Run("no overrides returns base", func(t *testing.T) {
		assert.Equal(t, base, mergeEnv(base, nil))
	})

	t.Run("override shadows inherited", func(t *testing.T) {
		merged := mergeEnv(base, map[string]string{"B": "9"})
		assert.Contains(t, merged, "B=9")
		assert.NotContains(t, merged, "B=2")
		assert.Contains(t, merged, "A=1")
		assert.Contains(t, merged, "C=3")
	})

	t.Run("new keys appended", func(t *testing.T) {
		merged := mergeEnv(base, map[string]string{"D": "4"})
		assert.Contains(t, merged, "D=4")
		assert.Len(t, merged, 4)
	})
}

func TestRunFileUsesConfigDirectory(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "stepflow.yml")
	config := `steps:
  - name: write
    command: /bin/sh
    args: ["-c", "echo done > out.txt"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	report, err := New().RunFile(configPath, quiet(RunOptions{}))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, report.Outcome)

	// Relative paths in steps resolve against the config's directory.
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(data))
}

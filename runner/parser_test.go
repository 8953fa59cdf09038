package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stepflow.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
steps:
  - name: lint
    command: cargo
    args: ["clippy", "--", "-D", "warnings"]
    env:
      RUSTFLAGS: "-Dwarnings"
  - name: archive
    pipeline:
      - command: tar
        args: ["cf", "-", "target"]
      - command: zstd
schedules:
  - every: "1h"
  - at: "03:30"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Steps, 2)
	assert.Equal(t, "lint", cfg.Steps[0].Name)
	assert.Equal(t, "cargo", cfg.Steps[0].Command)
	assert.Equal(t, []string{"clippy", "--", "-D", "warnings"}, cfg.Steps[0].Args)
	assert.Equal(t, map[string]string{"RUSTFLAGS": "-Dwarnings"}, cfg.Steps[0].Env)
	require.Len(t, cfg.Steps[1].Pipeline, 2)
	assert.Equal(t, "tar", cfg.Steps[1].Pipeline[0].Command)

	require.Len(t, cfg.Schedules, 2)
	assert.Equal(t, "1h", cfg.Schedules[0].Every)
	assert.Equal(t, "03:30", cfg.Schedules[1].At)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "no steps",
			cfg:     Config{},
			wantErr: "no steps",
		},
		{
			name: "step without name",
			cfg: Config{Steps: []StepConfig{
				{Command: "true"},
			}},
			wantErr: "has no name",
		},
		{
			name: "step without command or pipeline",
			cfg: Config{Steps: []StepConfig{
				{Name: "empty"},
			}},
			wantErr: "neither command nor pipeline",
		},
		{
			name: "step with both command and pipeline",
			cfg: Config{Steps: []StepConfig{
				{Name: "both", Command: "true", Pipeline: []StageConfig{{Command: "cat"}}},
			}},
			wantErr: "both command and pipeline",
		},
		{
			name: "pipeline stage without command",
			cfg: Config{Steps: []StepConfig{
				{Name: "pipe", Pipeline: []StageConfig{{Command: "tar"}, {}}},
			}},
			wantErr: "stage 1 has no command",
		},
		{
			name: "schedule with neither every nor at",
			cfg: Config{
				Steps:     []StepConfig{{Name: "ok", Command: "true"}},
				Schedules: []Schedule{{}},
			},
			wantErr: "exactly one of every or at",
		},
		{
			name: "schedule with both every and at",
			cfg: Config{
				Steps:     []StepConfig{{Name: "ok", Command: "true"}},
				Schedules: []Schedule{{Every: "1h", At: "03:30"}},
			},
			wantErr: "exactly one of every or at",
		},
		{
			name: "valid",
			cfg: Config{
				Steps:     []StepConfig{{Name: "ok", Command: "true"}},
				Schedules: []Schedule{{Every: "30m"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestBuildSteps(t *testing.T) {
	cfg := Config{Steps: []StepConfig{
		{Name: "single", Command: "echo", Args: []string{"hi"}, Env: map[string]string{"K": "V"}},
		{Name: "piped", Pipeline: []StageConfig{
			{Command: "tar", Args: []string{"cf", "-", "."}},
			{Command: "zstd"},
		}},
	}}

	steps := cfg.BuildSteps()
	require.Len(t, steps, 2)

	assert.Equal(t, Command{Path: "echo", Args: []string{"hi"}}, steps[0].Command)
	assert.Equal(t, map[string]string{"K": "V"}, steps[0].Env)
	assert.Empty(t, steps[0].Pipeline)

	require.Len(t, steps[1].Pipeline, 2)
	assert.Equal(t, "tar cf - .", steps[1].Pipeline[0].String())
	assert.Equal(t, "tar cf - . | zstd", steps[1].CommandLine())
}

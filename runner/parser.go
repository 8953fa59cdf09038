package runner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StageConfig is one stage of a declared pipeline step.
type StageConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// StepConfig is the declarative form of a Step. Exactly one of command or
// pipeline must be set.
type StepConfig struct {
	Name     string            `yaml:"name"`
	Command  string            `yaml:"command"`
	Args     []string          `yaml:"args"`
	Pipeline []StageConfig     `yaml:"pipeline"`
	Env      map[string]string `yaml:"env"`
}

// Schedule declares an automatic run, either interval based (every: "30m")
// or at a fixed time of day (at: "03:30").
type Schedule struct {
	Every string `yaml:"every"`
	At    string `yaml:"at"`
}

type Config struct {
	Steps     []StepConfig `yaml:"steps"`
	Schedules []Schedule   `yaml:"schedules"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Steps) == 0 {
		return fmt.Errorf("config declares no steps")
	}
	for i, s := range c.Steps {
		if s.Name == "" {
			return fmt.Errorf("step %d has no name", i)
		}
		if s.Command == "" && len(s.Pipeline) == 0 {
			return fmt.Errorf("step %q has neither command nor pipeline", s.Name)
		}
		if s.Command != "" && len(s.Pipeline) > 0 {
			return fmt.Errorf("step %q declares both command and pipeline", s.Name)
		}
		for j, stage := range s.Pipeline {
			if stage.Command == "" {
				return fmt.Errorf("step %q pipeline stage %d has no command", s.Name, j)
			}
		}
	}
	for i, sched := range c.Schedules {
		if (sched.Every == "") == (sched.At == "") {
			return fmt.Errorf("schedule %d must set exactly one of every or at", i)
		}
	}
	return nil
}

// BuildSteps converts the declarative config into runnable steps.
func (c *Config) BuildSteps() []Step {
	steps := make([]Step, 0, len(c.Steps))
	for _, sc := range c.Steps {
		step := Step{Name: sc.Name, Env: sc.Env}
		if len(sc.Pipeline) > 0 {
			step.Pipeline = make([]Command, 0, len(sc.Pipeline))
			for _, stage := range sc.Pipeline {
				step.Pipeline = append(step.Pipeline, Command{Path: stage.Command, Args: stage.Args})
			}
		} else {
			step.Command = Command{Path: sc.Command, Args: sc.Args}
		}
		steps = append(steps, step)
	}
	return steps
}

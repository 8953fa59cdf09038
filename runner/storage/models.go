package storage

import "time"

// Run represents one pipeline execution.
type Run struct {
	ID          int64      `json:"id"`
	Status      string     `json:"status"` // "running", "success", "failed"
	ConfigPath  string     `json:"config_path"`
	ProjectName string     `json:"project_name,omitempty"`
	FailedStep  string     `json:"failed_step,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Duration    *string    `json:"duration,omitempty"`
}

// StepExecution represents execution of a single step within a run.
type StepExecution struct {
	ID         int64      `json:"id"`
	RunID      int64      `json:"run_id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"` // "running", "success", "failed"
	Command    string     `json:"command"`
	Output     string     `json:"output"`
	ExitCode   int        `json:"exit_code"`
	Signal     string     `json:"signal,omitempty"`
	Failure    string     `json:"failure,omitempty"` // "launch", "spawn", "exit", "signaled"
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   *string    `json:"duration,omitempty"`
}

package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateStepExecution records a step that has just started.
func (s *Storage) CreateStepExecution(runID int64, name, command string) (*StepExecution, error) {
	now := time.Now()
	result, err := s.db.Exec(
		"INSERT INTO step_executions (run_id, name, status, command, started_at) VALUES (?, ?, ?, ?, ?)",
		runID, name, "running", command, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step execution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get step execution ID: %w", err)
	}

	return &StepExecution{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    "running",
		Command:   command,
		StartedAt: now,
	}, nil
}

// FinishStepExecution records a step's outcome: status, captured output,
// exit code, terminating signal (if any), failure kind and duration.
func (s *Storage) FinishStepExecution(stepID int64, status, output string, exitCode int, signal, failure string, duration time.Duration) error {
	now := time.Now()
	_, err := s.db.Exec(
		"UPDATE step_executions SET status = ?, output = ?, exit_code = ?, signal = ?, failure = ?, finished_at = ?, duration = ? WHERE id = ?",
		status, output, exitCode, signal, failure, now, duration.String(), stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish step execution: %w", err)
	}
	return nil
}

// GetStepExecutions retrieves the step executions of a run, in execution
// order.
func (s *Storage) GetStepExecutions(runID int64) ([]*StepExecution, error) {
	rows, err := s.db.Query(
		"SELECT id, run_id, name, status, command, output, exit_code, signal, failure, started_at, finished_at, duration FROM step_executions WHERE run_id = ? ORDER BY id ASC",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}
	defer rows.Close()

	var steps []*StepExecution
	for rows.Next() {
		var step StepExecution
		var output sql.NullString
		var finishedAt sql.NullTime
		var duration sql.NullString

		err := rows.Scan(&step.ID, &step.RunID, &step.Name, &step.Status, &step.Command, &output, &step.ExitCode, &step.Signal, &step.Failure, &step.StartedAt, &finishedAt, &duration)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		if output.Valid {
			step.Output = output.String
		}
		if finishedAt.Valid {
			step.FinishedAt = &finishedAt.Time
		}
		if duration.Valid {
			durationStr := duration.String
			step.Duration = &durationStr
		}

		steps = append(steps, &step)
	}

	return steps, rows.Err()
}

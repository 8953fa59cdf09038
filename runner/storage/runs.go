package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateRun records a newly started run.
func (s *Storage) CreateRun(configPath, projectName string) (*Run, error) {
	now := time.Now()
	result, err := s.db.Exec(
		"INSERT INTO runs (status, config_path, project_name, started_at) VALUES (?, ?, ?, ?)",
		"running", configPath, projectName, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get run ID: %w", err)
	}

	return &Run{
		ID:          id,
		Status:      "running",
		ConfigPath:  configPath,
		ProjectName: projectName,
		StartedAt:   now,
	}, nil
}

// FinishRun records a run's final status, failing step (empty when the run
// succeeded) and duration.
func (s *Storage) FinishRun(runID int64, status, failedStep string, duration time.Duration) error {
	now := time.Now()
	_, err := s.db.Exec(
		"UPDATE runs SET status = ?, failed_step = ?, finished_at = ?, duration = ? WHERE id = ?",
		status, failedStep, now, duration.String(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRuns retrieves the most recent runs, newest first.
func (s *Storage) GetRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(
		"SELECT id, status, config_path, project_name, failed_step, started_at, finished_at, duration FROM runs ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetRunsByProject retrieves the most recent runs of one project.
func (s *Storage) GetRunsByProject(projectName string, limit int) ([]*Run, error) {
	rows, err := s.db.Query(
		"SELECT id, status, config_path, project_name, failed_step, started_at, finished_at, duration FROM runs WHERE project_name = ? ORDER BY started_at DESC LIMIT ?",
		projectName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetRun retrieves a single run by ID.
func (s *Storage) GetRun(runID int64) (*Run, error) {
	var r Run
	var finishedAt sql.NullTime
	var duration sql.NullString

	err := s.db.QueryRow(
		"SELECT id, status, config_path, project_name, failed_step, started_at, finished_at, duration FROM runs WHERE id = ?",
		runID,
	).Scan(&r.ID, &r.Status, &r.ConfigPath, &r.ProjectName, &r.FailedStep, &r.StartedAt, &finishedAt, &duration)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	if duration.Valid {
		durationStr := duration.String
		r.Duration = &durationStr
	}

	return &r, nil
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		var r Run
		var finishedAt sql.NullTime
		var duration sql.NullString

		err := rows.Scan(&r.ID, &r.Status, &r.ConfigPath, &r.ProjectName, &r.FailedStep, &r.StartedAt, &finishedAt, &duration)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if finishedAt.Valid {
			r.FinishedAt = &finishedAt.Time
		}
		if duration.Valid {
			durationStr := duration.String
			r.Duration = &durationStr
		}

		runs = append(runs, &r)
	}

	return runs, rows.Err()
}

package storage

import (
	"database/sql"
	"fmt"
)

// ProjectRunStats summarizes one recent run of a project.
type ProjectRunStats struct {
	RunID      int64   `json:"run_id"`
	Status     string  `json:"status"`
	FailedStep string  `json:"failed_step,omitempty"`
	Duration   *string `json:"duration,omitempty"`
	StartedAt  string  `json:"started_at"`
	StepCount  int     `json:"step_count"`
}

// GetProjectStats returns the latest runs of a project with their step
// counts, newest first.
func (s *Storage) GetProjectStats(projectName string, limit int) ([]ProjectRunStats, error) {
	query := `
		SELECT
			r.id,
			r.status,
			r.failed_step,
			r.duration,
			r.started_at,
			COUNT(se.id) as step_count
		FROM runs r
		LEFT JOIN step_executions se ON r.id = se.run_id
		WHERE r.project_name = ?
		GROUP BY r.id, r.status, r.failed_step, r.duration, r.started_at
		ORDER BY r.started_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, projectName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query project stats: %w", err)
	}
	defer rows.Close()

	stats := make([]ProjectRunStats, 0)
	for rows.Next() {
		var stat ProjectRunStats
		var duration sql.NullString

		err := rows.Scan(
			&stat.RunID,
			&stat.Status,
			&stat.FailedStep,
			&duration,
			&stat.StartedAt,
			&stat.StepCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run stats: %w", err)
		}

		if duration.Valid {
			durationStr := duration.String
			stat.Duration = &durationStr
		}

		stats = append(stats, stat)
	}

	return stats, rows.Err()
}

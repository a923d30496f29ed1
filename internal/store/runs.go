package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Run is one start..stop span of the engine.
type Run struct {
	ID           int64
	RunID        string
	Model        string
	Protocol     string
	StartedAt    int64
	EndedAt      *int64
	Status       string
	ThoughtCount int
}

// StartRun records a new active run. Starting an id that is already active
// returns the existing row.
func (db *DB) StartRun(runID, model, protocol string) (*Run, error) {
	existing, err := db.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == "active" {
		return existing, nil
	}

	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO runs (run_id, model, protocol, started_at, status)
		VALUES (?, ?, ?, ?, 'active')
		ON CONFLICT(run_id) DO UPDATE SET status = 'active', ended_at = NULL
	`, runID, model, protocol, now)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	if existing != nil {
		existing.Status = "active"
		existing.EndedAt = nil
		return existing, nil
	}
	id, _ := result.LastInsertId()
	return &Run{
		ID:        id,
		RunID:     runID,
		Model:     model,
		Protocol:  protocol,
		StartedAt: now,
		Status:    "active",
	}, nil
}

// EndRun marks a run stopped and records its final thought count.
func (db *DB) EndRun(runID string, thoughtCount int) error {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE runs SET status = 'stopped', ended_at = ?, thought_count = ?
		WHERE run_id = ? AND status = 'active'
	`, now, thoughtCount, runID)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("no active run found for %s", runID)
	}
	return nil
}

// GetRun returns a run by its run_id, or nil if none exists.
func (db *DB) GetRun(runID string) (*Run, error) {
	var r Run
	var protocol sql.NullString
	err := db.QueryRow(`
		SELECT id, run_id, model, protocol, started_at, ended_at, status, thought_count
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.ID, &r.RunID, &r.Model, &protocol, &r.StartedAt, &r.EndedAt, &r.Status, &r.ThoughtCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.Protocol = protocol.String
	return &r, nil
}

// RecentRuns returns the most recent runs, ordered by started_at DESC.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	rows, err := db.Query(`
		SELECT id, run_id, model, protocol, started_at, ended_at, status, thought_count
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var protocol sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.Model, &protocol, &r.StartedAt, &r.EndedAt, &r.Status, &r.ThoughtCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Protocol = protocol.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

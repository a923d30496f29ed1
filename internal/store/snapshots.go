package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lazypower/thoughtloop/internal/session"
)

// SnapshotStore keeps snapshots as rows of the snapshots table. It satisfies
// session.Store.
type SnapshotStore struct {
	db  *DB
	now func() time.Time
}

var _ session.Store = (*SnapshotStore)(nil)

// Snapshots returns a session.Store backed by db.
func (db *DB) Snapshots() *SnapshotStore {
	return &SnapshotStore{db: db, now: time.Now}
}

// Save inserts a new row numbered one past the highest existing number.
func (s *SnapshotStore) Save(snap session.Snapshot) (string, error) {
	payload, err := session.Encode(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRow("SELECT COALESCE(MAX(number), 0) + 1 FROM snapshots").Scan(&n); err != nil {
		return "", fmt.Errorf("next snapshot number: %w", err)
	}
	now := s.now()
	name := session.RecordName(n, now, snap)
	if _, err := tx.Exec(`
		INSERT INTO snapshots (number, name, tag, thought_count, model, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n, name, snap.Tag, snap.ThoughtCount, snap.Model, string(payload), now.UnixMilli()); err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit snapshot: %w", err)
	}
	return name, nil
}

// Load reads and validates a row.
func (s *SnapshotStore) Load(name string) (session.Snapshot, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM snapshots WHERE name = ?", name).Scan(&payload)
	if err == sql.ErrNoRows {
		return session.Snapshot{}, fmt.Errorf("%w: %s", session.ErrNotFound, name)
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	snap, err := session.Decode([]byte(payload))
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("load %s: %w", name, err)
	}
	return snap, nil
}

// Delete removes a row permanently.
func (s *SnapshotStore) Delete(name string) error {
	result, err := s.db.Exec("DELETE FROM snapshots WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", session.ErrNotFound, name)
	}
	return nil
}

// List returns all rows, highest number first.
func (s *SnapshotStore) List() ([]session.Info, error) {
	rows, err := s.db.Query(`
		SELECT number, name, LENGTH(payload), created_at
		FROM snapshots ORDER BY number DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var infos []session.Info
	for rows.Next() {
		var info session.Info
		var created int64
		if err := rows.Scan(&info.Number, &info.Name, &info.Size, &created); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		info.ModTime = time.UnixMilli(created)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

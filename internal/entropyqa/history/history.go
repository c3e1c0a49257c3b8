// Package history persists a rolling window of entropy-qa health reports to
// SQLite, for post-hoc audit distinct from the live JSON surface that
// entropyqa.HealthMonitor.ReportJSON serves on demand.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Version is the current on-disk schema version. There is only one shape so
// far; a later version bump would add a migration step the way
// internal/config does for its own on-disk format.
const Version = 1

const schema = `
CREATE TABLE IF NOT EXISTS qa_snapshots (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    monitor_id      TEXT NOT NULL,
    captured_at_ns  INTEGER NOT NULL,
    bytes_analysed  INTEGER NOT NULL,
    bytes_passed    INTEGER NOT NULL,
    overall_ok      INTEGER NOT NULL,
    report_json     BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_qa_snapshots_monitor ON qa_snapshots(monitor_id, captured_at_ns);
`

// Snapshot is one recorded HealthMonitor.ReportJSON capture.
type Snapshot struct {
	ID            int64
	MonitorID     string
	CapturedAtNs  int64
	BytesAnalysed uint64
	BytesPassed   uint64
	OverallOK     bool
	ReportJSON    []byte
}

// Store is the SQLite-backed audit trail of qa snapshots.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Insert records snap and then prunes monitor_id's history back down to
// keep rows, oldest first. keep <= 0 disables pruning.
func (s *Store) Insert(snap *Snapshot, keep int) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO qa_snapshots (monitor_id, captured_at_ns, bytes_analysed, bytes_passed, overall_ok, report_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.MonitorID, snap.CapturedAtNs, snap.BytesAnalysed, snap.BytesPassed, boolToInt(snap.OverallOK), snap.ReportJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	if keep > 0 {
		if _, err := tx.Exec(`
			DELETE FROM qa_snapshots
			WHERE monitor_id = ? AND id NOT IN (
				SELECT id FROM qa_snapshots
				WHERE monitor_id = ?
				ORDER BY id DESC
				LIMIT ?
			)`, snap.MonitorID, snap.MonitorID, keep,
		); err != nil {
			return 0, fmt.Errorf("prune history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}

	return id, nil
}

// Latest returns the limit most recent snapshots for monitorID, newest first.
func (s *Store) Latest(monitorID string, limit int) ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, monitor_id, captured_at_ns, bytes_analysed, bytes_passed, overall_ok, report_json
		FROM qa_snapshots
		WHERE monitor_id = ?
		ORDER BY id DESC
		LIMIT ?`, monitorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// Range returns snapshots for monitorID captured within [startNs, endNs],
// oldest first.
func (s *Store) Range(monitorID string, startNs, endNs int64) ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, monitor_id, captured_at_ns, bytes_analysed, bytes_passed, overall_ok, report_json
		FROM qa_snapshots
		WHERE monitor_id = ? AND captured_at_ns >= ? AND captured_at_ns <= ?
		ORDER BY captured_at_ns ASC`, monitorID, startNs, endNs,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshot range: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// MonitorIDs returns the distinct monitor ids with recorded history.
func (s *Store) MonitorIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT monitor_id FROM qa_snapshots ORDER BY monitor_id`)
	if err != nil {
		return nil, fmt.Errorf("query monitor ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan monitor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanSnapshots(rows *sql.Rows) ([]Snapshot, error) {
	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var overallOK int
		if err := rows.Scan(&snap.ID, &snap.MonitorID, &snap.CapturedAtNs, &snap.BytesAnalysed, &snap.BytesPassed, &overallOK, &snap.ReportJSON); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.OverallOK = overallOK != 0
		out = append(out, snap)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

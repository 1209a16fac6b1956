package db

import (
	"database/sql"
	"fmt"
)

// QuarantineEntry records a tool module that failed to import.
type QuarantineEntry struct {
	Path      string
	DeadPath  string
	Error     string
	RunID     string
	CreatedAt int64
}

// InsertQuarantine appends a quarantine record.
func InsertQuarantine(database *sql.DB, e QuarantineEntry) error {
	_, err := database.Exec(
		`INSERT INTO quarantine (path, dead_path, error, run_id) VALUES (?, ?, ?, ?)`,
		e.Path, e.DeadPath, e.Error, nullIfEmpty(e.RunID),
	)
	if err != nil {
		return fmt.Errorf("insert quarantine %s: %w", e.Path, err)
	}
	return nil
}

// ListQuarantine returns all quarantine records, oldest first.
func ListQuarantine(database *sql.DB) ([]QuarantineEntry, error) {
	rows, err := database.Query(
		`SELECT path, dead_path, error, run_id, created_at FROM quarantine ORDER BY id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuarantineEntry
	for rows.Next() {
		var e QuarantineEntry
		var runID sql.NullString
		if err := rows.Scan(&e.Path, &e.DeadPath, &e.Error, &runID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RunID = runID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

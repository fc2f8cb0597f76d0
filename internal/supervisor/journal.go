package supervisor

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Journal persists decisions to a local SQLite database so the audit trail
// survives the process.
type Journal struct {
	db *sql.DB
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id         TEXT PRIMARY KEY,
	agent      TEXT NOT NULL,
	action     TEXT NOT NULL,
	value      TEXT NOT NULL,
	verdict    TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// OpenJournal opens (creating if needed) the decision database at path.
func OpenJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append writes one decision row.
func (j *Journal) Append(d Decision) error {
	_, err := j.db.Exec(
		`INSERT INTO decisions (id, agent, action, value, verdict, reason, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Agent, d.Action, d.Value, d.Verdict, d.Reason, d.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit decisions, newest first.
func (j *Journal) Recent(limit int) ([]Decision, error) {
	rows, err := j.db.Query(
		`SELECT id, agent, action, value, verdict, reason, created_at FROM decisions ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var ts string
		if err := rows.Scan(&d.ID, &d.Agent, &d.Action, &d.Value, &d.Verdict, &d.Reason, &ts); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		d.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Package journal keeps a local SQLite history of runs: one row per run,
// written after the artifact. The journal is an operator convenience for
// postmortems ("when did runs against this file number start failing?");
// the JSON artifact remains the only contract the caller relies on.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lutra-labs/sospull/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	request_id    TEXT PRIMARY KEY,
	file_number   TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL,
	duration_ms   INTEGER NOT NULL,
	artifact_path TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_file_number ON runs(file_number, finished_at);
`

// Entry is one recorded run.
type Entry struct {
	RequestID    string
	FileNumber   string
	Status       string
	StartedAt    time.Time
	FinishedAt   time.Time
	DurationMs   int64
	ArtifactPath string
	ErrorMessage string
}

// Journal wraps the run-history database.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// NewWithDB wraps an already-opened database. The schema must be applied by
// the caller (tests use dbopen.OpenMemory with WithSchema(Schema)).
func NewWithDB(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Schema is exported for tests that open their own database.
const Schema = schema

// Record inserts one run row. The primary key enforces the one-artifact-per
// request-id invariant at the journal level too.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (request_id, file_number, status, started_at,
		finished_at, duration_ms, artifact_path, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.FileNumber, e.Status,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano),
		e.DurationMs, e.ArtifactPath, e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("journal: record run: %w", err)
	}
	return nil
}

// History returns run entries for a file number, newest first.
func (j *Journal) History(ctx context.Context, fileNumber string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT request_id, file_number, status, started_at, finished_at,
		duration_ms, artifact_path, error_message
		FROM runs WHERE file_number = ?
		ORDER BY finished_at DESC LIMIT ?`, fileNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		var e Entry
		var started, finished string
		if err := rows.Scan(&e.RequestID, &e.FileNumber, &e.Status,
			&started, &finished, &e.DurationMs, &e.ArtifactPath,
			&e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		result = append(result, &e)
	}
	return result, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

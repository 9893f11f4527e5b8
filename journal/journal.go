// Package journal keeps an append-only history of daemon requests in
// SQLite. It exists for operators: nothing in the daemon reads it back
// except the history command.
package journal

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded request.
type Entry struct {
	ID         int64
	RequestID  string
	Action     string
	SessionID  string
	VolumeName string
	Status     string
	Error      string
	Duration   time.Duration
	CreatedAt  time.Time
}

// Journal wraps the history database.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path and bootstraps the
// schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the history command read while the daemon writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	j := &Journal{db: db}
	if err := j.init(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id  TEXT NOT NULL DEFAULT '',
		action      TEXT NOT NULL,
		session_id  TEXT NOT NULL DEFAULT '',
		volume_name TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_action ON requests(action);
	CREATE INDEX IF NOT EXISTS idx_requests_session ON requests(session_id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one entry. A zero CreatedAt is filled in with the
// current time.
func (j *Journal) Record(e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.Exec(
		`INSERT INTO requests (request_id, action, session_id, volume_name, status, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Action, e.SessionID, e.VolumeName, e.Status, e.Error,
		e.Duration.Milliseconds(), e.CreatedAt,
	)
	return err
}

// Recent returns the newest limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, request_id, action, session_id, volume_name, status, error, duration_ms, created_at
		 FROM requests ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Session returns the newest limit entries for one session, newest first.
func (j *Journal) Session(sessionID string, limit int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, request_id, action, session_id, volume_name, status, error, duration_ms, created_at
		 FROM requests WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Action, &e.SessionID, &e.VolumeName,
			&e.Status, &e.Error, &ms, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

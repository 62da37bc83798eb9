// Package audit is an append-only deploy/lifecycle history for the
// orchestrator, backed by sqlite the way internal/db stores VM/app
// settings. It is explicitly NOT the authoritative source of routing or
// registry state: on restart the registry rebuilds entirely from config,
// and this log is read-only history for operators (post-incident review).
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EventType enumerates the lifecycle events worth recording.
type EventType string

const (
	EventDeployed   EventType = "deployed"
	EventActivated  EventType = "activated"
	EventRestored   EventType = "restored"
	EventRestarted  EventType = "restarted"
	EventTerminated EventType = "terminated"
	EventScaled     EventType = "scaled"
)

// Event is a single recorded occurrence.
type Event struct {
	ID         int64
	FunctionID string
	Type       EventType
	Detail     string
	CreatedAt  time.Time
}

// Log is a handle to the sqlite-backed event store.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema migration.
func Open(ctx context.Context, path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one event. Never returns an error that should block the
// caller's actual operation; callers log-and-continue on failure.
func (l *Log) Record(ctx context.Context, functionID string, eventType EventType, detail string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO deploy_events (function_id, event_type, detail, created_at) VALUES (?, ?, ?, ?)`,
		functionID, string(eventType), detail, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

// History returns the most recent events for functionID, newest first.
func (l *Log) History(ctx context.Context, functionID string, limit int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, function_id, event_type, detail, created_at FROM deploy_events
		 WHERE function_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		functionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.FunctionID, &eventType, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		e.Type = EventType(eventType)
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Package journal records every processed signal in a local sqlite database
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Outcome of a processed signal
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

const defaultRecentLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id              TEXT PRIMARY KEY,
	received_at     INTEGER NOT NULL,
	inst_id         TEXT NOT NULL,
	side            TEXT NOT NULL,
	red_button      INTEGER NOT NULL,
	client_order_id TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	error           TEXT NOT NULL,
	duration_ms     INTEGER NOT NULL,
	payload         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_received_at ON signals (received_at DESC);
`

// Entry is one journaled signal
type Entry struct {
	ID            string        `json:"id"`
	ReceivedAt    time.Time     `json:"received_at"`
	InstID        string        `json:"inst_id"`
	Side          string        `json:"side"`
	RedButton     bool          `json:"red_button"`
	ClientOrderID string        `json:"client_order_id,omitempty"`
	Outcome       string        `json:"outcome"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	Payload       string        `json:"payload,omitempty"`
}

// Store is a sqlite-backed journal
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal database at path and applies the schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts e, assigning an id and receive time when missing
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	const query = `INSERT INTO signals
		(id, received_at, inst_id, side, red_button, client_order_id, outcome, error, duration_ms, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.ReceivedAt.UnixNano(),
		e.InstID,
		e.Side,
		e.RedButton,
		e.ClientOrderID,
		e.Outcome,
		e.Error,
		e.Duration.Milliseconds(),
		e.Payload,
	)
	if err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	const query = `SELECT id, received_at, inst_id, side, red_button, client_order_id, outcome, error, duration_ms, payload
		FROM signals ORDER BY received_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			receivedAt int64
			durationMs int64
		)
		if err := rows.Scan(&e.ID, &receivedAt, &e.InstID, &e.Side, &e.RedButton, &e.ClientOrderID,
			&e.Outcome, &e.Error, &durationMs, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.ReceivedAt = time.Unix(0, receivedAt).UTC()
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CheckHealth pings the database
func (s *Store) CheckHealth(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

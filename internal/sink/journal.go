package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/brooks-builds/twitch-eventsub/internal/events"
)

var ErrJournalClosed = errors.New("journal closed")

// Entry is one journaled notification.
type Entry struct {
	MessageID      string    `json:"messageId"`
	RunID          string    `json:"runId"`
	Type           string    `json:"type"`
	WireType       string    `json:"wireType"`
	Version        string    `json:"version"`
	SubscriptionID string    `json:"subscriptionId"`
	OccurredAt     time.Time `json:"occurredAt"`
	RecordedAt     time.Time `json:"recordedAt"`
	Payload        string    `json:"payload"`
}

// Journal appends every dispatched notification to SQLite. Upstream may
// redeliver a message; rows are keyed by message id so duplicates are
// dropped.
type Journal struct {
	db    *sql.DB
	runID string

	mu     sync.RWMutex
	closed bool
}

// OpenJournal opens (creating if needed) the journal at path.
func OpenJournal(path, runID string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			message_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			type TEXT NOT NULL,
			wire_type TEXT NOT NULL,
			version TEXT NOT NULL,
			subscription_id TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			payload BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_notifications_type
		ON notifications(type, occurred_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Journal{db: db, runID: runID}, nil
}

// Handle implements dispatch.Handler.
func (j *Journal) Handle(ctx context.Context, ev events.Event) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrJournalClosed
	}

	id := ev.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	occurred := ev.Timestamp
	if occurred.IsZero() {
		occurred = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications
			(message_id, run_id, type, wire_type, version, subscription_id, occurred_at, recorded_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, j.runID, string(ev.Type), ev.WireType, ev.Version, ev.Subscription.ID,
		occurred.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano), []byte(ev.Raw))
	if err != nil {
		return fmt.Errorf("journal %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored notifications.
func (j *Journal) Count(ctx context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, ErrJournalClosed
	}
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications").Scan(&n); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return n, nil
}

// Recent returns up to limit notifications, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrJournalClosed
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT message_id, run_id, type, wire_type, version, subscription_id, occurred_at, recorded_at, payload
		FROM notifications
		ORDER BY occurred_at DESC, recorded_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                  Entry
			occurred, recorded string
			payload            []byte
		)
		if err := rows.Scan(&e.MessageID, &e.RunID, &e.Type, &e.WireType, &e.Version,
			&e.SubscriptionID, &occurred, &recorded, &payload); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		e.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurred)
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recorded)
		e.Payload = string(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database. Further calls fail with ErrJournalClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"isolend/core/events"
)

// ErrPathRequired is returned when the journal DSN is missing.
var ErrPathRequired = errors.New("journal path must be configured")

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

// Entry is one committed ledger event.
type Entry struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	PositionKey string            `json:"positionKey,omitempty"`
	Attributes  map[string]string `json:"attributes"`
	RecordedAt  time.Time         `json:"recordedAt"`
}

// Journal persists ledger events to SQLite for audit and settlement history.
// It implements events.Emitter.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	clock  func() time.Time
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Open initialises the journal using a sqlite-compatible DSN.
func Open(dsn string, logger *slog.Logger) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db, logger: logger, clock: time.Now}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit records evt. Failures are logged since the ledger state has already
// committed.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	wire := events.ToWire(evt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := j.Record(ctx, wire.Type, wire.Attributes); err != nil {
		j.logger.Error("journal record failed", "type", wire.Type, "error", err)
	}
}

// Record stores an event and returns the persisted entry.
func (j *Journal) Record(ctx context.Context, eventType string, attributes map[string]string) (Entry, error) {
	if j == nil || j.db == nil {
		return Entry{}, fmt.Errorf("journal not configured")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return Entry{}, fmt.Errorf("event type required")
	}
	if attributes == nil {
		attributes = map[string]string{}
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return Entry{}, fmt.Errorf("encode attributes: %w", err)
	}
	entry := Entry{
		ID:          uuid.NewString(),
		Type:        eventType,
		PositionKey: attributes["positionKey"],
		Attributes:  attributes,
		RecordedAt:  j.clock().UTC(),
	}
	_, err = j.db.ExecContext(ctx, `
        INSERT INTO ledger_events(id, type, position_key, attributes, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, entry.ID, entry.Type, entry.PositionKey, string(encoded), entry.RecordedAt.UnixNano())
	if err != nil {
		return Entry{}, fmt.Errorf("insert event: %w", err)
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.query(ctx, `
        SELECT id, type, position_key, attributes, recorded_at
        FROM ledger_events
        ORDER BY seq DESC
        LIMIT ?
    `, limit)
}

// ForPosition returns every entry recorded for a position key, oldest first.
func (j *Journal) ForPosition(ctx context.Context, key string) ([]Entry, error) {
	return j.query(ctx, `
        SELECT id, type, position_key, attributes, recorded_at
        FROM ledger_events
        WHERE position_key = ?
        ORDER BY seq ASC
    `, strings.ToLower(strings.TrimSpace(key)))
}

func (j *Journal) query(ctx context.Context, stmt string, args ...interface{}) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	rows, err := j.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			entry    Entry
			attrs    string
			recorded int64
		)
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.PositionKey, &attrs, &recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		entry.RecordedAt = time.Unix(0, recorded).UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    position_key TEXT NOT NULL DEFAULT '',
    attributes TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_events_position ON ledger_events(position_key);
`

// Package state persists the mapping between source events and the
// destination events created for them, plus an append-only activity log.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultLogCap is the retention ceiling for sync_logs rows. The oldest rows
// are dropped once the cap is exceeded so the log cannot grow without bound.
const DefaultLogCap = 10000

// Action is the outcome class recorded in the activity log.
type Action string

const (
	ActionCreate    Action = "CREATE"
	ActionUpdate    Action = "UPDATE"
	ActionDelete    Action = "DELETE"
	ActionUnchanged Action = "UNCHANGED"
	ActionError     Action = "ERROR"
)

// Record maps one source event to the destination event this system created
// for it. At most one Record exists per source event ID.
type Record struct {
	SourceEventID      string
	DestinationEventID string
	LastSyncedAt       time.Time
	SourceUpdatedAt    time.Time
}

// LogEntry is one row of the append-only activity log.
type LogEntry struct {
	ID                 int64
	Timestamp          time.Time
	Action             Action
	SourceEventID      string
	DestinationEventID string
	Detail             string
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS synced_events (
	source_event_id      TEXT PRIMARY KEY,
	destination_event_id TEXT NOT NULL,
	last_synced_at       TEXT NOT NULL,
	source_updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_logs (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp            TEXT NOT NULL,
	action               TEXT NOT NULL,
	source_event_id      TEXT,
	destination_event_id TEXT,
	detail               TEXT
);
`

// Store provides durable sync state backed by a local SQLite database.
// The design assumes a single engine instance per database file.
type Store struct {
	db *sql.DB

	// LogCap bounds the sync_logs table; AppendLog trims beyond it.
	LogCap int
}

// Open creates or opens the SQLite database at path and applies the schema.
// Idempotent, safe to call against an existing database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to state database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY under the engine's batched goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, LogCap: DefaultLogCap}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the record for a source event ID, or nil when absent.
func (s *Store) Get(ctx context.Context, sourceEventID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_event_id, destination_event_id, last_synced_at, source_updated_at
		 FROM synced_events WHERE source_event_id = ?`, sourceEventID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync record %q: %w", sourceEventID, err)
	}
	return rec, nil
}

// Upsert writes or replaces the record for a source event. Calling it again
// with identical arguments is a no-op apart from last_synced_at.
func (s *Store) Upsert(ctx context.Context, sourceEventID, destinationEventID string, sourceUpdatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO synced_events
		 (source_event_id, destination_event_id, last_synced_at, source_updated_at)
		 VALUES (?, ?, ?, ?)`,
		sourceEventID, destinationEventID,
		time.Now().UTC().Format(time.RFC3339Nano),
		sourceUpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert sync record %q: %w", sourceEventID, err)
	}
	return nil
}

// DeleteBySourceID removes the record keyed by a source event ID.
func (s *Store) DeleteBySourceID(ctx context.Context, sourceEventID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM synced_events WHERE source_event_id = ?`, sourceEventID); err != nil {
		return fmt.Errorf("failed to delete sync record %q: %w", sourceEventID, err)
	}
	return nil
}

// DeleteByDestinationID removes any records pointing at a destination event
// ID. Used to prune structurally invalid rows that lost their source key.
func (s *Store) DeleteByDestinationID(ctx context.Context, destinationEventID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM synced_events WHERE destination_event_id = ?`, destinationEventID); err != nil {
		return fmt.Errorf("failed to delete sync records for destination %q: %w", destinationEventID, err)
	}
	return nil
}

// ListAll enumerates every sync record.
func (s *Store) ListAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_event_id, destination_event_id, last_synced_at, source_updated_at
		 FROM synced_events`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}
	return records, nil
}

// AppendLog appends one activity log row and trims the log to LogCap.
func (s *Store) AppendLog(ctx context.Context, action Action, sourceEventID, destinationEventID, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_logs (timestamp, action, source_event_id, destination_event_id, detail)
		 VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(action),
		sourceEventID, destinationEventID, detail)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}

	logCap := s.LogCap
	if logCap <= 0 {
		logCap = DefaultLogCap
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_logs WHERE id <= (
			SELECT id FROM sync_logs ORDER BY id DESC LIMIT 1 OFFSET ?
		 )`, logCap); err != nil {
		return fmt.Errorf("failed to trim sync log: %w", err)
	}
	return nil
}

// RecentLogs returns up to limit log entries, newest first.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, source_event_id, destination_event_id, detail
		 FROM sync_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts, action string
		var src, dst, detail sql.NullString
		if err := rows.Scan(&e.ID, &ts, &action, &src, &dst, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sync log timestamp %q: %w", ts, err)
		}
		e.Action = Action(action)
		e.SourceEventID = src.String
		e.DestinationEventID = dst.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneOlderThan deletes sync records not touched within the given number of
// days, along with activity log rows older than the same horizon. It returns
// the number of records removed.
func (s *Store) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("prune horizon must be positive, got %d days", days)
	}
	horizon := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM synced_events WHERE last_synced_at < ?`, horizon)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync records: %w", err)
	}
	pruned, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_logs WHERE timestamp < ?`, horizon); err != nil {
		return pruned, fmt.Errorf("failed to prune sync logs: %w", err)
	}
	return pruned, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var lastSynced, sourceUpdated string
	if err := row.Scan(&rec.SourceEventID, &rec.DestinationEventID, &lastSynced, &sourceUpdated); err != nil {
		return nil, err
	}
	var err error
	if rec.LastSyncedAt, err = time.Parse(time.RFC3339Nano, lastSynced); err != nil {
		return nil, fmt.Errorf("invalid last_synced_at %q: %w", lastSynced, err)
	}
	if rec.SourceUpdatedAt, err = time.Parse(time.RFC3339Nano, sourceUpdated); err != nil {
		return nil, fmt.Errorf("invalid source_updated_at %q: %w", sourceUpdated, err)
	}
	return &rec, nil
}

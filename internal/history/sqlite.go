package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"tether/internal/codec"
	"tether/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	sender      TEXT    NOT NULL,
	target_kind INTEGER NOT NULL,
	target_id   TEXT    NOT NULL,
	message_id  TEXT    NOT NULL,
	revision    INTEGER NOT NULL,
	timestamp   INTEGER NOT NULL,
	direction   INTEGER NOT NULL,
	status      INTEGER NOT NULL,
	flagged     INTEGER NOT NULL DEFAULT 0,
	error       TEXT    NOT NULL DEFAULT '',
	body        BLOB    NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (sender, target_kind, target_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_records_conversation
	ON records(target_kind, target_id, timestamp);

-- Append-only: one row per revision that changed a record.
CREATE TABLE IF NOT EXISTS revisions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	sender      TEXT    NOT NULL,
	target_kind INTEGER NOT NULL,
	target_id   TEXT    NOT NULL,
	message_id  TEXT    NOT NULL,
	revision    INTEGER NOT NULL,
	body        BLOB    NOT NULL,
	applied_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revisions_key
	ON revisions(sender, target_kind, target_id, message_id, seq);
`

// Store is a SQLite-backed domain.HistoryStore.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time

	mu sync.RWMutex
}

// Open opens (or creates) the history database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{
		db:  db,
		log: logger.With().Str("component", "history").Logger(),
		now: time.Now,
	}, nil
}

// SetClock replaces the clock used for UpdatedAt stamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectRecord = `SELECT sender, target_kind, target_id, message_id, direction, status,
	flagged, error, body, updated_at FROM records`

func scanRecord(row interface{ Scan(...any) error }) (domain.HistoryRecord, error) {
	var (
		rec               domain.HistoryRecord
		sender, targetID  string
		messageID, errMsg string
		kind, dir, status uint8
		flagged           bool
		body              []byte
		updated           int64
	)
	if err := row.Scan(&sender, &kind, &targetID, &messageID, &dir, &status,
		&flagged, &errMsg, &body, &updated); err != nil {
		return rec, err
	}
	env, err := codec.DecodeEnvelope(body)
	if err != nil {
		return rec, fmt.Errorf("record %s/%s: %w", targetID, messageID, err)
	}
	rec.Envelope = env
	rec.Direction = domain.Direction(dir)
	rec.Status = domain.DeliveryStatus(status)
	rec.Flagged = flagged
	rec.Error = errMsg
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return rec, nil
}

func getRecord(ctx context.Context, q querier, key domain.RecordKey) (domain.HistoryRecord, bool, error) {
	row := q.QueryRowContext(ctx, selectRecord+`
		WHERE sender = ? AND target_kind = ? AND target_id = ? AND message_id = ?`,
		key.Sender, uint8(key.Target.Kind), key.Target.ID, string(key.MessageID))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HistoryRecord{}, false, nil
	}
	if err != nil {
		return domain.HistoryRecord{}, false, err
	}
	return rec, true, nil
}

// Get returns the record for key.
func (s *Store) Get(ctx context.Context, key domain.RecordKey) (domain.HistoryRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRecord(ctx, s.db, key)
}

var _ domain.HistoryStore = (*Store)(nil)

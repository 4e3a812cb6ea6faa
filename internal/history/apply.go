package history

import (
	"context"
	"database/sql"
	"fmt"

	"tether/internal/codec"
	"tether/internal/domain"
)

// Apply inserts rec or revises the stored record for the same key. The
// comparison and the write happen in one transaction. The returned record
// is what the store holds afterwards.
func (s *Store) Apply(ctx context.Context, rec domain.HistoryRecord) (domain.ApplyOutcome, domain.HistoryRecord, error) {
	if rec.Envelope.MessageID == "" || rec.Envelope.Target.IsZero() {
		return 0, domain.HistoryRecord{}, fmt.Errorf("%w: record without message id or target", domain.ErrInvalidEnvelope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.HistoryRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	stored, found, err := getRecord(ctx, tx, rec.Key())
	if err != nil {
		return 0, domain.HistoryRecord{}, err
	}
	outcome := decide(stored, found, rec)
	if !outcome.Changed() {
		return outcome, stored, nil
	}

	rec.UpdatedAt = s.now().UTC()
	body, err := codec.EncodeEnvelope(rec.Envelope)
	if err != nil {
		return 0, domain.HistoryRecord{}, err
	}
	if err := upsert(ctx, tx, rec, body); err != nil {
		return 0, domain.HistoryRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.HistoryRecord{}, err
	}
	s.log.Debug().
		Str("key", rec.Key().String()).
		Uint32("revision", rec.Envelope.Revision).
		Stringer("outcome", outcome).
		Msg("history applied")
	return outcome, rec, nil
}

// decide orders rec against the stored record of the same key.
func decide(stored domain.HistoryRecord, found bool, rec domain.HistoryRecord) domain.ApplyOutcome {
	if !found {
		return domain.OutcomeInserted
	}
	cur, next := stored.Envelope, rec.Envelope
	switch {
	case next.Revision > cur.Revision:
		return domain.OutcomeUpdated
	case next.Revision < cur.Revision:
		return domain.OutcomeStale
	case next.SameContent(cur):
		return domain.OutcomeUnchanged
	case next.Timestamp > cur.Timestamp:
		return domain.OutcomeUpdated
	default:
		return domain.OutcomeStale
	}
}

func upsert(ctx context.Context, tx *sql.Tx, rec domain.HistoryRecord, body []byte) error {
	env := rec.Envelope
	updated := rec.UpdatedAt.UnixMilli()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO records (sender, target_kind, target_id, message_id, revision, timestamp,
			direction, status, flagged, error, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sender, target_kind, target_id, message_id) DO UPDATE SET
			revision = excluded.revision,
			timestamp = excluded.timestamp,
			direction = excluded.direction,
			status = excluded.status,
			flagged = excluded.flagged,
			error = excluded.error,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		env.Sender, uint8(env.Target.Kind), env.Target.ID, string(env.MessageID),
		env.Revision, env.Timestamp, uint8(rec.Direction), uint8(rec.Status),
		rec.Flagged, rec.Error, body, updated)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO revisions (sender, target_kind, target_id, message_id, revision, body, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		env.Sender, uint8(env.Target.Kind), env.Target.ID, string(env.MessageID),
		env.Revision, body, updated)
	if err != nil {
		return fmt.Errorf("append revision: %w", err)
	}
	return nil
}

// SetStatus moves the record's delivery status forward. Backward moves
// leave the record as it is and are not errors.
func (s *Store) SetStatus(ctx context.Context, key domain.RecordKey, status domain.DeliveryStatus, detail string) (domain.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found, err := getRecord(ctx, s.db, key)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, fmt.Errorf("%w: %s", domain.ErrUnknownMessage, key)
	}
	if !rec.Status.Advances(status) {
		return rec, nil
	}
	rec.Status = status
	rec.Error = detail
	rec.UpdatedAt = s.now().UTC()
	if err := s.updateStatus(ctx, key, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Requeue moves a Failed record back to Queued.
func (s *Store) Requeue(ctx context.Context, key domain.RecordKey) (domain.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found, err := getRecord(ctx, s.db, key)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, fmt.Errorf("%w: %s", domain.ErrUnknownMessage, key)
	}
	if rec.Status != domain.StatusFailed {
		return rec, nil
	}
	rec.Status = domain.StatusQueued
	rec.Error = ""
	rec.UpdatedAt = s.now().UTC()
	return rec, s.updateStatus(ctx, key, rec)
}

func (s *Store) updateStatus(ctx context.Context, key domain.RecordKey, rec domain.HistoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET status = ?, error = ?, updated_at = ?
		WHERE sender = ? AND target_kind = ? AND target_id = ? AND message_id = ?`,
		uint8(rec.Status), rec.Error, rec.UpdatedAt.UnixMilli(),
		key.Sender, uint8(key.Target.Kind), key.Target.ID, string(key.MessageID))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

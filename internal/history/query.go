package history

import (
	"context"
	"slices"

	"tether/internal/codec"
	"tether/internal/domain"
)

// List returns the latest limit records of a conversation, oldest first.
// A non-positive limit returns the whole conversation.
func (s *Store) List(ctx context.Context, target domain.Target, limit int) ([]domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE target_kind = ? AND target_id = ?
		ORDER BY timestamp DESC, message_id DESC
		LIMIT ?`,
		uint8(target.Kind), target.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// Conversations returns every conversation with at least one record, most
// recently active first.
func (s *Store) Conversations(ctx context.Context) ([]domain.Target, error) {
	return s.targets(ctx, `
		SELECT target_kind, target_id FROM records
		GROUP BY target_kind, target_id
		ORDER BY MAX(timestamp) DESC, target_kind, target_id`)
}

// Engaged returns the conversations holding a message sent by this
// account, from this device or mirrored from another one.
func (s *Store) Engaged(ctx context.Context) ([]domain.Target, error) {
	return s.targets(ctx, `
		SELECT target_kind, target_id FROM records
		WHERE direction = ?
		GROUP BY target_kind, target_id
		ORDER BY MAX(timestamp) DESC, target_kind, target_id`, int(domain.DirectionSent))
}

func (s *Store) targets(ctx context.Context, query string, args ...any) ([]domain.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		var (
			kind uint8
			id   string
		)
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, err
		}
		out = append(out, domain.Target{Kind: domain.TargetKind(kind), ID: id})
	}
	return out, rows.Err()
}

// Revisions returns every applied revision of a message in the order it
// was applied.
func (s *Store) Revisions(ctx context.Context, key domain.RecordKey) ([]domain.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM revisions
		WHERE sender = ? AND target_kind = ? AND target_id = ? AND message_id = ?
		ORDER BY seq`,
		key.Sender, uint8(key.Target.Kind), key.Target.ID, string(key.MessageID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Envelope
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		env, err := codec.DecodeEnvelope(body)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

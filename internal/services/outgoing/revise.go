package outgoing

import (
	"context"
	"fmt"

	"tether/internal/domain"
	"tether/internal/richtext"
)

// Compose parses markdown markup and sends it to target.
func (p *Pipeline) Compose(ctx context.Context, target domain.Target, markup string) (domain.HistoryRecord, error) {
	spans := richtext.Parse(markup)
	if len(spans) == 0 {
		return domain.HistoryRecord{}, fmt.Errorf("%w: empty message", domain.ErrInvalidEnvelope)
	}
	return p.Send(ctx, domain.Envelope{Target: target, Spans: spans})
}

// Edit replaces the body of a message this device sent. Editing to the
// current body is a no-op.
func (p *Pipeline) Edit(
	ctx context.Context,
	target domain.Target,
	id domain.MessageID,
	spans []domain.Span,
) (domain.HistoryRecord, error) {
	stored, err := p.own(ctx, target, id)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	if stored.Envelope.Deleted {
		return domain.HistoryRecord{}, fmt.Errorf("%w: message %s was deleted", domain.ErrInvalidEnvelope, id)
	}
	spans = richtext.Normalize(spans)
	if domain.SpansEqual(stored.Envelope.Spans, spans) {
		return stored, nil
	}
	env := stored.Envelope
	env.Revision++
	env.Spans = spans
	env.Timestamp = p.now().UnixMilli()
	return p.Send(ctx, env)
}

// Delete retracts a message this device sent. Deleting twice is a no-op.
func (p *Pipeline) Delete(ctx context.Context, target domain.Target, id domain.MessageID) (domain.HistoryRecord, error) {
	stored, err := p.own(ctx, target, id)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	if stored.Envelope.Deleted {
		return stored, nil
	}
	env := stored.Envelope
	env.Revision++
	env.Spans = nil
	env.Deleted = true
	env.Timestamp = p.now().UnixMilli()
	return p.Send(ctx, env)
}

// own loads a message sent under the linked account.
func (p *Pipeline) own(ctx context.Context, target domain.Target, id domain.MessageID) (domain.HistoryRecord, error) {
	info, ok, err := p.sessions.CurrentSession()
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	if !ok {
		return domain.HistoryRecord{}, domain.ErrNotLinked
	}
	key := domain.RecordKey{Sender: info.AccountID, Target: target, MessageID: id}
	rec, found, err := p.history.Get(ctx, key)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	if !found {
		return domain.HistoryRecord{}, fmt.Errorf("%w: %s", domain.ErrUnknownMessage, key)
	}
	return rec, nil
}

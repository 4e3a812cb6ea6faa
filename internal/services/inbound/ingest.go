package inbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tether/internal/codec"
	"tether/internal/domain"
)

// Options tunes an Ingestor.
type Options struct {
	// Roster flags envelopes for unknown conversations or senders. Nil
	// flags nothing.
	Roster domain.Roster
	// OnDeviceRemoved runs when the primary announces this device was
	// removed. It is expected to unlink.
	OnDeviceRemoved func(ctx context.Context) error
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Ingestor implements domain.IngestService.
type Ingestor struct {
	history  domain.HistoryStore
	sessions domain.SessionStore
	roster   domain.Roster
	removed  func(ctx context.Context) error
	log      zerolog.Logger
	now      func() time.Time
}

// New constructs an Ingestor.
func New(history domain.HistoryStore, sessions domain.SessionStore, opts Options) *Ingestor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ingestor{
		history:  history,
		sessions: sessions,
		roster:   opts.Roster,
		removed:  opts.OnDeviceRemoved,
		log:      opts.Logger.With().Str("component", "inbound").Logger(),
		now:      opts.Now,
	}
}

// Ingest decodes one payload and applies it to history.
//
// Receipts advance the referenced sent record to Delivered and report
// OutcomeUpdated when its status moved. A DeviceRemoved command runs the
// unlink hook. Every other envelope is applied as a revision; replays and
// older revisions come back as OutcomeUnchanged or OutcomeStale without
// touching the store.
func (s *Ingestor) Ingest(ctx context.Context, raw []byte, meta domain.SourceMeta) (domain.ApplyOutcome, error) {
	env, err := codec.DecodeEnvelope(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("source", meta.Source).Msg("dropping malformed payload")
		return 0, err
	}
	if env.Sender == "" {
		env.Sender = meta.Sender
	}
	if env.Op != nil {
		if !meta.Authenticated() {
			s.log.Warn().Str("source", meta.Source).Stringer("op", env.Op.Kind).Msg("refusing command from unauthenticated source")
			return 0, fmt.Errorf("%w: %s command outside the secure channel", domain.ErrInvalidEnvelope, env.Op.Kind)
		}
		return s.command(ctx, env)
	}
	if env.Sender == "" {
		return 0, fmt.Errorf("%w: envelope without sender", domain.ErrMalformed)
	}

	info, linked, err := s.sessions.CurrentSession()
	if err != nil {
		return 0, err
	}
	if linked && env.Sender == info.AccountID && !meta.Authenticated() {
		s.log.Warn().Str("source", meta.Source).Msg("refusing own-account message from unauthenticated source")
		return 0, fmt.Errorf("%w: sender %s outside the secure channel", domain.ErrInvalidEnvelope, env.Sender)
	}
	rec := domain.HistoryRecord{
		Envelope:  env,
		Direction: domain.DirectionReceived,
		Status:    domain.StatusDelivered,
	}
	// Messages the account sent from another device are mirrored as sent.
	if linked && env.Sender == info.AccountID {
		rec.Direction = domain.DirectionSent
	}
	if s.roster != nil && (!s.roster.KnownTarget(env.Target) || !s.roster.KnownSender(env.Sender)) {
		rec.Flagged = true
	}

	outcome, _, err := s.history.Apply(ctx, rec)
	if err != nil {
		return 0, err
	}
	s.log.Debug().
		Str("key", rec.Key().String()).
		Uint32("revision", env.Revision).
		Bool("flagged", rec.Flagged).
		Str("source", meta.Source).
		Stringer("outcome", outcome).
		Msg("ingested")
	return outcome, nil
}

func (s *Ingestor) command(ctx context.Context, env domain.Envelope) (domain.ApplyOutcome, error) {
	switch env.Op.Kind {
	case domain.OpReceipt:
		return s.receipt(ctx, env)
	case domain.OpDeviceRemoved:
		s.log.Warn().Msg("primary removed this device")
		if s.removed == nil {
			return domain.OutcomeUnchanged, nil
		}
		if err := s.removed(ctx); err != nil {
			return 0, fmt.Errorf("unlink after removal: %w", err)
		}
		return domain.OutcomeUpdated, nil
	default:
		s.log.Debug().Stringer("op", env.Op.Kind).Msg("ignoring command")
		return domain.OutcomeUnchanged, nil
	}
}

func (s *Ingestor) receipt(ctx context.Context, env domain.Envelope) (domain.ApplyOutcome, error) {
	info, linked, err := s.sessions.CurrentSession()
	if err != nil {
		return 0, err
	}
	if !linked {
		return 0, domain.ErrNotLinked
	}
	key := domain.RecordKey{Sender: info.AccountID, Target: env.Target, MessageID: env.Op.Ref}
	before, found, err := s.history.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		s.log.Debug().Str("key", key.String()).Msg("receipt for unknown message")
		return domain.OutcomeStale, nil
	}
	after, err := s.history.SetStatus(ctx, key, domain.StatusDelivered, "")
	if err != nil {
		if errors.Is(err, domain.ErrUnknownMessage) {
			return domain.OutcomeStale, nil
		}
		return 0, err
	}
	if after.Status == before.Status {
		return domain.OutcomeUnchanged, nil
	}
	return domain.OutcomeUpdated, nil
}

// Consume ingests payloads from in until its producer closes it. Errors
// for single payloads are logged and do not stop the loop.
//
// The channel has committed each payload's frame counter before queueing
// it, so ending ctx does not abandon the queue: the remaining payloads are
// ingested under a context detached from ctx and Consume returns ctx.Err()
// once in is closed.
func (s *Ingestor) Consume(ctx context.Context, in <-chan []byte) error {
	for {
		select {
		case raw, ok := <-in:
			if !ok {
				return ctx.Err()
			}
			s.consume(ctx, raw)
		case <-ctx.Done():
			drain := context.WithoutCancel(ctx)
			n := 0
			for raw := range in {
				s.consume(drain, raw)
				n++
			}
			if n > 0 {
				s.log.Info().Int("payloads", n).Msg("drained inbound queue")
			}
			return ctx.Err()
		}
	}
}

func (s *Ingestor) consume(ctx context.Context, raw []byte) {
	meta := domain.SourceMeta{Source: domain.SourceChannel, ReceivedAt: s.now()}
	if _, err := s.Ingest(ctx, raw, meta); err != nil {
		s.log.Warn().Err(err).Msg("ingest failed")
	}
}

var _ domain.IngestService = (*Ingestor)(nil)

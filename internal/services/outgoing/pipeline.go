package outgoing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tether/internal/codec"
	"tether/internal/domain"
	"tether/internal/retry"
	"tether/internal/richtext"
)

// Config tunes delivery.
type Config struct {
	Retry retry.Policy `yaml:"retry" toml:"retry"`
	// AttemptTimeout bounds a single hand-off to the channel.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" toml:"attempt_timeout"`
	// Rate is the sustained number of sends per second; zero means no limit.
	Rate  float64 `yaml:"rate" toml:"rate"`
	Burst int     `yaml:"burst" toml:"burst"`
}

// DefaultConfig allows 5 sends per second with bursts of 10.
func DefaultConfig() Config {
	return Config{
		Retry:          retry.DefaultPolicy(),
		AttemptTimeout: 15 * time.Second,
		Rate:           5,
		Burst:          10,
	}
}

// SubmitError is the terminal failure of a submission.
type SubmitError struct {
	Attempts int
	Err      error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("send failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Pipeline implements domain.OutgoingService.
type Pipeline struct {
	sessions domain.SessionStore
	history  domain.HistoryStore
	sender   domain.FrameSender
	cfg      Config
	limiter  *rate.Limiter
	log      zerolog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	seen     func(domain.Target)

	wg sync.WaitGroup
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithTargetSeen registers fn to run for every conversation a message is
// recorded for, e.g. to mark it known in an inbound roster.
func WithTargetSeen(fn func(domain.Target)) Option { return func(p *Pipeline) { p.seen = fn } }

// WithSleep overrides how the pipeline waits between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

// New constructs a Pipeline.
func New(
	sessions domain.SessionStore,
	history domain.HistoryStore,
	sender domain.FrameSender,
	cfg Config,
	logger zerolog.Logger,
	opts ...Option,
) *Pipeline {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	p := &Pipeline{
		sessions: sessions,
		history:  history,
		sender:   sender,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		log:      logger.With().Str("component", "outgoing").Logger(),
		now:      time.Now,
		sleep:    retry.Sleep,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Submit records env as Queued and delivers it in the background. The
// returned channel yields exactly one result and is then closed.
//
// Steps:
//  1. Validate the envelope and require a linked session.
//  2. Fill sender, message id and timestamp when missing.
//  3. Apply the Queued record to history. A resubmission of the same
//     revision is not sent again unless the stored record Failed.
//  4. Encode and hand the payload to the channel, retrying with backoff.
func (p *Pipeline) Submit(ctx context.Context, env domain.Envelope) <-chan domain.SubmitResult {
	out := make(chan domain.SubmitResult, 1)
	rec, send, err := p.prepare(ctx, env)
	if err != nil || !send {
		out <- domain.SubmitResult{Record: rec, Err: err}
		close(out)
		return out
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(out)
		out <- p.deliver(ctx, rec)
	}()
	return out
}

// Send submits env and waits for the result.
func (p *Pipeline) Send(ctx context.Context, env domain.Envelope) (domain.HistoryRecord, error) {
	select {
	case res := <-p.Submit(ctx, env):
		return res.Record, res.Err
	case <-ctx.Done():
		return domain.HistoryRecord{}, ctx.Err()
	}
}

// Wait blocks until every background delivery has finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) prepare(ctx context.Context, env domain.Envelope) (domain.HistoryRecord, bool, error) {
	if err := validate(env); err != nil {
		return domain.HistoryRecord{}, false, err
	}
	info, ok, err := p.sessions.CurrentSession()
	if err != nil {
		return domain.HistoryRecord{}, false, err
	}
	if !ok {
		return domain.HistoryRecord{}, false, domain.ErrNotLinked
	}
	env.Sender = info.AccountID
	if env.MessageID == "" {
		env.MessageID = domain.MessageID(uuid.NewString())
	}
	if env.Timestamp == 0 {
		env.Timestamp = p.now().UnixMilli()
	}
	env = env.Canonical()

	outcome, stored, err := p.history.Apply(ctx, domain.HistoryRecord{
		Envelope:  env,
		Direction: domain.DirectionSent,
		Status:    domain.StatusQueued,
	})
	if err != nil {
		return domain.HistoryRecord{}, false, err
	}
	if p.seen != nil && outcome != domain.OutcomeStale {
		p.seen(env.Target)
	}
	switch outcome {
	case domain.OutcomeInserted, domain.OutcomeUpdated:
		return stored, true, nil
	case domain.OutcomeUnchanged:
		if stored.Status != domain.StatusFailed {
			return stored, false, nil
		}
		rec, err := p.history.Requeue(ctx, stored.Key())
		return rec, err == nil, err
	default:
		return stored, false, fmt.Errorf("%w: revision %d is older than stored revision %d",
			domain.ErrInvalidEnvelope, env.Revision, stored.Envelope.Revision)
	}
}

func (p *Pipeline) deliver(ctx context.Context, rec domain.HistoryRecord) domain.SubmitResult {
	key := rec.Key()
	log := p.log.With().Str("key", key.String()).Uint32("revision", rec.Envelope.Revision).Logger()

	payload, err := codec.EncodeEnvelope(rec.Envelope)
	if err != nil {
		return p.fail(ctx, key, 0, err)
	}
	b := p.cfg.Retry.Backoff()
	limit := p.cfg.Retry.Attempts()
	for attempt := 1; ; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return p.fail(ctx, key, attempt-1, err)
		}
		actx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		err := p.sender.Send(actx, payload)
		cancel()
		if err == nil {
			sent, serr := p.history.SetStatus(ctx, key, domain.StatusSent, "")
			if serr != nil {
				return domain.SubmitResult{Record: rec, Err: serr}
			}
			log.Debug().Int("attempt", attempt).Msg("message sent")
			return domain.SubmitResult{Record: sent}
		}
		if !retryable(err) || ctx.Err() != nil || attempt >= limit {
			return p.fail(ctx, key, attempt, err)
		}
		d := b.Duration()
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", d).Msg("send attempt failed")
		if err := p.sleep(ctx, d); err != nil {
			return p.fail(ctx, key, attempt, err)
		}
	}
}

// fail marks the record Failed. The status write is detached from ctx so a
// cancelled submission still leaves a terminal record.
func (p *Pipeline) fail(ctx context.Context, key domain.RecordKey, attempts int, err error) domain.SubmitResult {
	serr := &SubmitError{Attempts: attempts, Err: err}
	rec, uerr := p.history.SetStatus(context.WithoutCancel(ctx), key, domain.StatusFailed, err.Error())
	if uerr != nil {
		p.log.Error().Err(uerr).Str("key", key.String()).Msg("record failure")
	}
	p.log.Warn().Err(err).Str("key", key.String()).Int("attempts", attempts).Msg("message failed")
	return domain.SubmitResult{Record: rec, Err: serr}
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotLinked),
		errors.Is(err, domain.ErrSessionRevoked),
		errors.Is(err, domain.ErrInvalidEnvelope):
		return false
	}
	return true
}

func validate(env domain.Envelope) error {
	if env.Target.IsZero() {
		return fmt.Errorf("%w: missing target", domain.ErrInvalidEnvelope)
	}
	if env.Op != nil {
		if len(env.Spans) > 0 || env.Deleted {
			return fmt.Errorf("%w: command envelope carries a body", domain.ErrInvalidEnvelope)
		}
		return nil
	}
	if env.Deleted {
		if len(env.Spans) > 0 {
			return fmt.Errorf("%w: deleted envelope carries spans", domain.ErrInvalidEnvelope)
		}
		return nil
	}
	if len(env.Spans) == 0 {
		return fmt.Errorf("%w: empty message", domain.ErrInvalidEnvelope)
	}
	return richtext.Validate(env.Spans)
}

var _ domain.OutgoingService = (*Pipeline)(nil)

package outgoing_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether/internal/codec"
	"tether/internal/domain"
	"tether/internal/history"
	"tether/internal/retry"
	"tether/internal/services/outgoing"
)

type sessions struct {
	linked bool
}

func (s sessions) CurrentSession() (domain.SessionInfo, bool, error) {
	if !s.linked {
		return domain.SessionInfo{}, false, nil
	}
	return domain.SessionInfo{SessionID: "s-1", AccountID: "me"}, true, nil
}

func (s sessions) InvalidateSession() error { return nil }

// sender fails with the queued errors before succeeding.
type sender struct {
	mu    sync.Mutex
	fails []error
	sent  []domain.Envelope
	calls int
}

func (s *sender) Send(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.fails) > 0 {
		err := s.fails[0]
		s.fails = s.fails[1:]
		return err
	}
	env, err := codec.DecodeEnvelope(payload)
	if err != nil {
		return err
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *sender) failWith(errs ...error) {
	s.mu.Lock()
	s.fails = append(s.fails, errs...)
	s.mu.Unlock()
}

func (s *sender) snapshot() ([]domain.Envelope, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Envelope(nil), s.sent...), s.calls
}

type fixture struct {
	p      *outgoing.Pipeline
	hist   *history.Store
	sender *sender
	delays []time.Duration
}

func newFixture(t *testing.T, linked bool) *fixture {
	t.Helper()
	hist, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	f := &fixture{hist: hist, sender: &sender{}}
	var mu sync.Mutex
	cfg := outgoing.Config{
		Retry:          retry.Policy{Min: 10 * time.Millisecond, Max: 40 * time.Millisecond, Factor: 2, MaxAttempts: 3},
		AttemptTimeout: time.Second,
	}
	f.p = outgoing.New(sessions{linked: linked}, hist, f.sender, cfg, zerolog.Nop(),
		outgoing.WithSleep(func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			f.delays = append(f.delays, d)
			mu.Unlock()
			return ctx.Err()
		}))
	t.Cleanup(f.p.Wait)
	return f
}

func text(s string) []domain.Span { return []domain.Span{{Text: s}} }

func TestSend_RecordsSent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	rec, err := f.p.Send(ctx, domain.Envelope{Target: domain.Group("42"), Spans: text("hello")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status)
	assert.Equal(t, domain.DirectionSent, rec.Direction)
	assert.Equal(t, "me", rec.Envelope.Sender)
	assert.NotEmpty(t, rec.Envelope.MessageID)
	assert.NotZero(t, rec.Envelope.Timestamp)

	sent, _ := f.sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, rec.Envelope.MessageID, sent[0].MessageID)
	assert.Equal(t, "hello", domain.PlainText(sent[0].Spans))

	stored, ok, err := f.hist.Get(ctx, rec.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusSent, stored.Status)
}

func TestSubmit_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		linked bool
		env    domain.Envelope
		want   error
	}{
		{"not linked", false, domain.Envelope{Target: domain.Peer("bob"), Spans: text("hi")}, domain.ErrNotLinked},
		{"no target", true, domain.Envelope{Spans: text("hi")}, domain.ErrInvalidEnvelope},
		{"empty body", true, domain.Envelope{Target: domain.Peer("bob")}, domain.ErrInvalidEnvelope},
		{"empty span", true, domain.Envelope{Target: domain.Peer("bob"), Spans: []domain.Span{{Text: ""}}}, domain.ErrInvalidEnvelope},
		{"deleted with body", true, domain.Envelope{Target: domain.Peer("bob"), Spans: text("x"), Deleted: true}, domain.ErrInvalidEnvelope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.linked)
			_, err := f.p.Send(context.Background(), tt.env)
			require.ErrorIs(t, err, tt.want)

			convs, err := f.hist.Conversations(context.Background())
			require.NoError(t, err)
			assert.Empty(t, convs)
			_, calls := f.sender.snapshot()
			assert.Zero(t, calls)
		})
	}
}

func TestSend_RetriesWithBackoff(t *testing.T) {
	f := newFixture(t, true)
	f.sender.failWith(errors.New("down"), errors.New("down"))

	rec, err := f.p.Send(context.Background(), domain.Envelope{Target: domain.Peer("bob"), Spans: text("hi")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status)

	_, calls := f.sender.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, f.delays)
}

func TestSend_ExhaustedThenResubmitted(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	down := errors.New("relay down")
	f.sender.failWith(down, down, down)

	env := domain.Envelope{Target: domain.Peer("bob"), MessageID: "m-1", Spans: text("hi")}
	rec, err := f.p.Send(ctx, env)
	var serr *outgoing.SubmitError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 3, serr.Attempts)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, "relay down", rec.Error)

	// The identical envelope is re-queued and sent again.
	env.Timestamp = rec.Envelope.Timestamp
	rec, err = f.p.Send(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status)
	assert.Empty(t, rec.Error)

	// Once sent, resubmitting does not send a second copy.
	rec, err = f.p.Send(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status)
	sent, calls := f.sender.snapshot()
	assert.Len(t, sent, 1)
	assert.Equal(t, 4, calls)
}

func TestSend_NotLinkedIsNotRetried(t *testing.T) {
	f := newFixture(t, true)
	f.sender.failWith(domain.ErrNotLinked)

	rec, err := f.p.Send(context.Background(), domain.Envelope{Target: domain.Peer("bob"), Spans: text("hi")})
	require.ErrorIs(t, err, domain.ErrNotLinked)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	_, calls := f.sender.snapshot()
	assert.Equal(t, 1, calls)
	assert.Empty(t, f.delays)
}

func TestEditDelete_Idempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	target := domain.Group("42")

	rec, err := f.p.Compose(ctx, target, "**hello**")
	require.NoError(t, err)
	id := rec.Envelope.MessageID
	assert.Equal(t, []domain.Span{{Text: "hello", Format: domain.FormatBold}}, rec.Envelope.Spans)

	same, err := f.p.Edit(ctx, target, id, rec.Envelope.Spans)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), same.Envelope.Revision)

	edited, err := f.p.Edit(ctx, target, id, text("hello there"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), edited.Envelope.Revision)
	assert.Equal(t, "hello there", domain.PlainText(edited.Envelope.Spans))

	again, err := f.p.Edit(ctx, target, id, text("hello there"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), again.Envelope.Revision)

	deleted, err := f.p.Delete(ctx, target, id)
	require.NoError(t, err)
	assert.True(t, deleted.Envelope.Deleted)
	assert.Equal(t, uint32(2), deleted.Envelope.Revision)

	twice, err := f.p.Delete(ctx, target, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), twice.Envelope.Revision)

	_, err = f.p.Edit(ctx, target, id, text("back"))
	assert.ErrorIs(t, err, domain.ErrInvalidEnvelope)
	_, err = f.p.Delete(ctx, target, "missing")
	assert.ErrorIs(t, err, domain.ErrUnknownMessage)

	sent, _ := f.sender.snapshot()
	assert.Len(t, sent, 3)
	revs, err := f.hist.Revisions(ctx, deleted.Key())
	require.NoError(t, err)
	assert.Len(t, revs, 3)
}

func TestSubmitCategory(t *testing.T) {
	f := newFixture(t, true)
	cat := outgoing.Category{
		Name: "alerts",
		Targets: []outgoing.CategoryTarget{
			{Target: "group:1", Mode: outgoing.ModeNormal},
			{Target: "group:2", Mode: outgoing.ModeFrequency},
			{Target: "group:3", Mode: outgoing.ModeOff},
		},
	}
	results, err := f.p.SubmitCategory(context.Background(), cat, text("report"), "145.500")
	require.NoError(t, err)
	require.Len(t, results, 2)

	bodies := map[string]string{}
	for _, r := range results {
		require.NoError(t, r.Err)
		bodies[r.Target.ID] = domain.PlainText(r.Record.Envelope.Spans)
	}
	assert.Equal(t, map[string]string{"1": "report", "2": "145.500\nreport"}, bodies)
}

func TestMode_Text(t *testing.T) {
	var m outgoing.Mode
	require.NoError(t, m.UnmarshalText([]byte("Frequency")))
	assert.Equal(t, outgoing.ModeFrequency, m)
	assert.Equal(t, outgoing.ModeOff, m.Next())
	assert.Error(t, m.UnmarshalText([]byte("loud")))
}

func TestSend_RevisionUpdatesSameRecord(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	target := domain.Group("42")

	first, err := f.p.Send(ctx, domain.Envelope{
		Target:    target,
		MessageID: "m1",
		Spans:     []domain.Span{{Text: "hi "}, {Text: "team", Format: domain.FormatBold}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, first.Status)

	second, err := f.p.Send(ctx, domain.Envelope{
		Target:    target,
		MessageID: "m1",
		Revision:  1,
		Spans:     text("hello team"),
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), second.Envelope.Revision)

	list, err := f.hist.List(ctx, target, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "hello team", domain.PlainText(list[0].Envelope.Spans))
	assert.Equal(t, domain.StatusSent, list[0].Status)
}

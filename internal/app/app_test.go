package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether/internal/app"
	"tether/internal/channel"
	"tether/internal/codec"
	"tether/internal/domain"
	"tether/internal/primary"
	"tether/internal/protocol/linking"
	"tether/internal/relay"
	"tether/internal/services/outgoing"
)

// linkedApp opens an app on an in-process relay and pairs it with prim.
// Each tweak edits the configuration before the app is opened.
func linkedApp(t *testing.T, tweaks ...func(*app.Config)) (*app.App, *primary.Primary, string) {
	t.Helper()
	mem := relay.NewMemory()
	prim, err := primary.New("acct-1", primary.Options{Deliver: mem.Deliver, Logger: zerolog.Nop()})
	require.NoError(t, err)

	cfg := app.DefaultConfig(t.TempDir())
	cfg.Channel.Reconnect.Min = 10 * time.Millisecond
	cfg.Channel.Reconnect.Max = 50 * time.Millisecond
	cfg.Outgoing.Rate = 0
	for _, tweak := range tweaks {
		tweak(&cfg)
	}
	a, err := app.Open(context.Background(), cfg, "", zerolog.Nop(), app.WithTransport(app.Transport{
		Dialer:     relay.NewPipe(prim.Accept),
		Rendezvous: mem,
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	p, err := a.Pairing.Begin(ctx)
	require.NoError(t, err)
	sessionID, err := prim.Scan(ctx, linking.EncodePayload(p))
	require.NoError(t, err)
	_, err = a.Pairing.Await(ctx)
	require.NoError(t, err)
	return a, prim, sessionID
}

func TestApp_EndToEnd(t *testing.T) {
	a, prim, sessionID := linkedApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	st, err := a.Status()
	require.NoError(t, err)
	assert.True(t, st.Linked)
	assert.Equal(t, sessionID, st.Session.SessionID)
	assert.NotEmpty(t, st.Fingerprint)

	// Outgoing: the primary receives the message and acknowledges it.
	target := domain.Group("42")
	rec, err := a.Outgoing.Send(ctx, domain.Envelope{
		Target:    target,
		MessageID: "m1",
		Spans:     []domain.Span{{Text: "hi "}, {Text: "team", Format: domain.FormatBold}},
	})
	require.NoError(t, err)
	assert.Contains(t, []domain.DeliveryStatus{domain.StatusSent, domain.StatusDelivered}, rec.Status)

	select {
	case env := <-prim.Inbox():
		assert.Equal(t, domain.MessageID("m1"), env.MessageID)
		assert.Equal(t, "hi team", domain.PlainText(env.Spans))
	case <-time.After(5 * time.Second):
		t.Fatal("primary did not receive the message")
	}
	require.Eventually(t, func() bool {
		r, ok, err := a.History.Get(ctx, rec.Key())
		return err == nil && ok && r.Status == domain.StatusDelivered
	}, 5*time.Second, 10*time.Millisecond)

	// Revision 1 replaces the body of the same record.
	_, err = a.Outgoing.Send(ctx, domain.Envelope{
		Target:    target,
		MessageID: "m1",
		Revision:  1,
		Spans:     []domain.Span{{Text: "hello team"}},
	})
	require.NoError(t, err)
	list, err := a.History.List(ctx, target, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint32(1), list[0].Envelope.Revision)

	// Inbound: a message pushed by the primary lands in history.
	require.NoError(t, prim.Push(ctx, sessionID, domain.Envelope{
		Target:    target,
		Sender:    "alice",
		MessageID: "a1",
		Timestamp: time.Now().UnixMilli(),
		Spans:     []domain.Span{{Text: "welcome"}},
	}))
	key := domain.RecordKey{Sender: "alice", Target: target, MessageID: "a1"}
	require.Eventually(t, func() bool {
		_, ok, err := a.History.Get(ctx, key)
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestApp_DeviceRemovedUnlinks(t *testing.T) {
	a, prim, sessionID := linkedApp(t)
	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return prim.Push(ctx, sessionID, domain.Envelope{
			Target:    domain.Peer("acct-1"),
			MessageID: "bye",
			Op:        &domain.OpCommand{Kind: domain.OpDeviceRemoved},
		}) == nil
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrNotLinked)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after removal")
	}
	_, linked, err := a.Keys.CurrentSession()
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestApp_RunRequiresLink(t *testing.T) {
	cfg := app.DefaultConfig(t.TempDir())
	a, err := app.Open(context.Background(), cfg, "", zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	assert.ErrorIs(t, a.Run(context.Background()), domain.ErrNotLinked)
}

// running starts a.Run and stops it when the test ends.
func running(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Run did not stop")
		}
	})
	require.Eventually(t, func() bool { return a.Channel.State() == channel.StateConnected },
		5*time.Second, 10*time.Millisecond)
}

func TestApp_RunListenFailureLeavesChannelIdle(t *testing.T) {
	a, _, _ := linkedApp(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	a.Config.Ingest.Listen = busy.Addr().String()
	require.Error(t, a.Run(context.Background()))
	assert.Equal(t, channel.StateIdle, a.Channel.State())

	a.Config.Ingest.Listen = ""
	running(t, a)
}

func TestApp_IngestEndpointCannotUnlink(t *testing.T) {
	a, _, _ := linkedApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	raw, err := codec.EncodeEnvelope(domain.Envelope{
		Target:    domain.Peer("acct-1"),
		MessageID: "bye",
		Op:        &domain.OpCommand{Kind: domain.OpDeviceRemoved},
	})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/ingest", "application/cbor", bytes.NewReader(raw))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, linked, err := a.Keys.CurrentSession()
	require.NoError(t, err)
	assert.True(t, linked)
}

const patrolReport = `{
	"Key": "145.500",
	"Value": {
		"title": "Patrol",
		"location": "North gate",
		"datetime": "2026-10-19 08:00",
		"tUser": "Base",
		"message": [{"Key": "08:01", "Value": "all quiet"}],
	}
}`

func withOpsCategory(autosend bool) func(*app.Config) {
	return func(c *app.Config) {
		c.Categories = []outgoing.Category{{
			Name: "ops",
			Targets: []outgoing.CategoryTarget{
				{Target: "group:42", Mode: outgoing.ModeNormal},
				{Target: "group:radio", Mode: outgoing.ModeFrequency},
				{Target: "group:muted", Mode: outgoing.ModeOff},
			},
		}}
		c.Reports = app.ReportsConfig{Category: "ops", Autosend: autosend}
	}
}

type reportsReply struct {
	Sent []struct {
		Target string `json:"target"`
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"sent"`
	Drafts []app.Draft `json:"drafts"`
}

func postJSON(t *testing.T, url, body string) (int, reportsReply) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out reportsReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestApp_ReportsAutosend(t *testing.T) {
	a, prim, _ := linkedApp(t, withOpsCategory(true))
	running(t, a)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	code, out := postJSON(t, srv.URL+"/reports", patrolReport)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out.Sent, 2)
	for _, s := range out.Sent {
		assert.Empty(t, s.Error)
	}

	bodies := map[string]string{}
	for range 2 {
		select {
		case env := <-prim.Inbox():
			bodies[env.Target.ID] = domain.PlainText(env.Spans)
		case <-time.After(5 * time.Second):
			t.Fatal("primary did not receive the report")
		}
	}
	assert.True(t, strings.HasPrefix(bodies["42"], "Patrol\n"), bodies["42"])
	assert.True(t, strings.HasPrefix(bodies["radio"], "145.500\nPatrol\n"), bodies["radio"])
	assert.NotContains(t, bodies, "muted")
}

func TestApp_ReportsHeldAsDrafts(t *testing.T) {
	a, prim, _ := linkedApp(t, withOpsCategory(false))
	running(t, a)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	code, out := postJSON(t, srv.URL+"/reports", patrolReport)
	require.Equal(t, http.StatusAccepted, code)
	require.Len(t, out.Drafts, 1)
	assert.Equal(t, "145.500", out.Drafts[0].Frequency)
	require.Len(t, a.Drafts(), 1)

	select {
	case env := <-prim.Inbox():
		t.Fatalf("draft was sent: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}

	code, out = postJSON(t, srv.URL+"/reports/send", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out.Sent, 2)
	assert.Empty(t, a.Drafts())

	code, _ = postJSON(t, srv.URL+"/reports", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestApp_RosterKnowsCategoriesAndSentConversations(t *testing.T) {
	a, prim, sessionID := linkedApp(t, withOpsCategory(false))
	running(t, a)
	ctx := context.Background()

	_, err := a.Outgoing.Send(ctx, domain.Envelope{Target: domain.Peer("bob"), Spans: []domain.Span{{Text: "hi bob"}}})
	require.NoError(t, err)

	push := func(target domain.Target, id domain.MessageID) domain.HistoryRecord {
		require.NoError(t, prim.Push(ctx, sessionID, domain.Envelope{
			Target:    target,
			Sender:    "alice",
			MessageID: id,
			Timestamp: time.Now().UnixMilli(),
			Spans:     []domain.Span{{Text: "ping"}},
		}))
		var rec domain.HistoryRecord
		require.Eventually(t, func() bool {
			r, ok, err := a.History.Get(ctx, domain.RecordKey{Sender: "alice", Target: target, MessageID: id})
			rec = r
			return err == nil && ok
		}, 5*time.Second, 10*time.Millisecond)
		return rec
	}
	assert.False(t, push(domain.Group("42"), "c1").Flagged)
	assert.False(t, push(domain.Peer("bob"), "c2").Flagged)
	assert.True(t, push(domain.Group("strangers"), "c3").Flagged)
}

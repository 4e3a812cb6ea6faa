package primary

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tether/internal/codec"
	"tether/internal/crypto"
	"tether/internal/domain"
	"tether/internal/protocol/frame"
	"tether/internal/protocol/handshake"
	"tether/internal/protocol/linking"
	"tether/internal/protocol/ratchet"
)

var (
	// ErrUnknownSession is returned for a session the primary never
	// confirmed or has revoked.
	ErrUnknownSession = errors.New("primary: unknown session")
	// ErrOffline is returned by Push while the device is not connected.
	ErrOffline = errors.New("primary: device offline")
)

// Options tunes a Primary.
type Options struct {
	Rotation ratchet.Policy
	// NoReceipts disables automatic delivery receipts.
	NoReceipts bool
	// Deliver hands a confirmation to the device's rendezvous. When nil,
	// confirmations go to connections that announced the ref with a
	// Rendezvous frame.
	Deliver func(ref string, confirmation []byte) error
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Primary is an in-memory primary device.
type Primary struct {
	accountID string
	signing   domain.Ed25519Private
	identity  domain.Ed25519Public
	opts      Options
	log       zerolog.Logger
	inbox     chan domain.Envelope

	mu       sync.Mutex
	sessions map[string]*device
	waiting  map[string]domain.Conn
}

// device is the primary's half of one DeviceSession.
type device struct {
	sessionID string
	deviceID  domain.DeviceID
	identity  domain.Ed25519Public
	root      []byte
	send      ratchet.Chain
	recv      ratchet.Chain
	conn      domain.Conn
}

// New returns a Primary for accountID with a fresh identity.
func New(accountID string, opts Options) (*Primary, error) {
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Primary{
		accountID: accountID,
		signing:   priv,
		identity:  pub,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "primary").Logger(),
		inbox:     make(chan domain.Envelope, 1024),
		sessions:  make(map[string]*device),
		waiting:   make(map[string]domain.Conn),
	}, nil
}

// AccountID returns the account the primary links devices to.
func (p *Primary) AccountID() string { return p.accountID }

// Identity returns the primary's identity key.
func (p *Primary) Identity() domain.Ed25519Public { return p.identity }

// Inbox returns envelopes received from devices. Envelopes arriving at a
// full inbox are dropped.
func (p *Primary) Inbox() <-chan domain.Envelope { return p.inbox }

// Confirm answers a scanned pairing payload and returns the encoded
// confirmation and the new session id. It does not deliver it.
func (p *Primary) Confirm(payload string) ([]byte, string, error) {
	pp, err := linking.ParsePayload(payload)
	if err != nil {
		return nil, "", err
	}
	ratchetPriv, ratchetPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, "", err
	}
	defer ratchetPriv.Wipe()
	shared, err := crypto.DH(ratchetPriv[:], pp.Ephemeral)
	if err != nil {
		return nil, "", err
	}
	material, err := linking.DeriveMaterial(shared[:], pp.Nonce)
	crypto.Wipe(shared[:])
	if err != nil {
		return nil, "", err
	}
	root, send, recv := linking.Split(material, linking.RolePrimary)
	now := p.opts.Now()

	c := domain.LinkConfirmation{
		PrimaryIdentity: p.identity,
		PrimaryRatchet:  ratchetPub,
		AccountID:       p.accountID,
		DeviceID:        crypto.DeviceIDFor(pp.Identity),
		SessionID:       uuid.NewString(),
	}
	c = linking.Confirm(pp, c, p.signing[:])
	body, err := codec.Marshal(c)
	if err != nil {
		return nil, "", err
	}

	p.mu.Lock()
	p.sessions[c.SessionID] = &device{
		sessionID: c.SessionID,
		deviceID:  c.DeviceID,
		identity:  pp.Identity,
		root:      root,
		send:      ratchet.Chain{Key: send, State: domain.ChainState{RotatedAt: now}},
		recv:      ratchet.Chain{Key: recv, State: domain.ChainState{RotatedAt: now}},
	}
	p.mu.Unlock()
	p.log.Info().Str("session_id", c.SessionID).Str("device_id", string(c.DeviceID)).Msg("confirmed device")
	return body, c.SessionID, nil
}

// Scan confirms payload and delivers the confirmation. It returns the new
// session id.
func (p *Primary) Scan(ctx context.Context, payload string) (string, error) {
	pp, err := linking.ParsePayload(payload)
	if err != nil {
		return "", err
	}
	body, sessionID, err := p.Confirm(payload)
	if err != nil {
		return "", err
	}
	if p.opts.Deliver != nil {
		return sessionID, p.opts.Deliver(pp.Ref, body)
	}
	p.mu.Lock()
	conn, ok := p.waiting[pp.Ref]
	delete(p.waiting, pp.Ref)
	p.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("primary: no rendezvous for ref %s", pp.Ref)
	}
	return sessionID, conn.WriteFrame(ctx, frame.Plain(frame.TypeConfirm, body))
}

// Revoke forgets a session and drops its connection. The device's next
// handshake is answered with StatusUnknownSession.
func (p *Primary) Revoke(sessionID string) {
	p.mu.Lock()
	d, ok := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	p.mu.Unlock()
	if ok && d.conn != nil {
		_ = d.conn.Close()
	}
}

// Disconnect drops every device connection without forgetting sessions.
func (p *Primary) Disconnect() {
	p.mu.Lock()
	var conns []domain.Conn
	for _, d := range p.sessions {
		if d.conn != nil {
			conns = append(conns, d.conn)
			d.conn = nil
		}
	}
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Push seals env for the device of sessionID and writes it.
func (p *Primary) Push(ctx context.Context, sessionID string, env domain.Envelope) error {
	payload, err := codec.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return p.pushPayload(ctx, sessionID, payload)
}

// PushRaw sends raw as a data frame body without encoding it.
func (p *Primary) PushRaw(ctx context.Context, sessionID string, payload []byte) error {
	return p.pushPayload(ctx, sessionID, payload)
}

func (p *Primary) pushPayload(ctx context.Context, sessionID string, payload []byte) error {
	p.mu.Lock()
	d, ok := p.sessions[sessionID]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownSession
	}
	if d.conn == nil {
		p.mu.Unlock()
		return ErrOffline
	}
	raw, next, err := ratchet.Seal(d.send, frame.TypeData, payload, p.opts.Rotation, p.opts.Now())
	if err != nil {
		p.mu.Unlock()
		return err
	}
	d.send = next
	conn := d.conn
	p.mu.Unlock()
	return conn.WriteFrame(ctx, raw)
}

// Serve handles one relay connection until it fails or ctx is done.
func (p *Primary) Serve(ctx context.Context, conn domain.Conn) error {
	raw, err := conn.ReadFrame(ctx)
	if err != nil {
		_ = conn.Close()
		return err
	}
	h, body, err := frame.Parse(raw)
	if err != nil {
		_ = conn.Close()
		return err
	}
	switch h.Type {
	case frame.TypeRendezvous:
		p.mu.Lock()
		p.waiting[string(body)] = conn
		p.mu.Unlock()
		return nil
	case frame.TypeHello:
		defer conn.Close()
		d, err := p.welcome(ctx, conn, body)
		if err != nil {
			return err
		}
		return p.serveDevice(ctx, conn, d)
	default:
		_ = conn.Close()
		return fmt.Errorf("primary: unexpected %s frame", h.Type)
	}
}

// Accept serves conn on a new goroutine, logging the outcome.
func (p *Primary) Accept(conn domain.Conn) {
	go func() {
		if err := p.Serve(context.Background(), conn); err != nil {
			p.log.Debug().Err(err).Msg("connection ended")
		}
	}()
}

func (p *Primary) welcome(ctx context.Context, conn domain.Conn, body []byte) (*device, error) {
	var hello handshake.Hello
	if err := codec.Unmarshal(body, &hello); err != nil {
		return nil, err
	}
	reply := func(w handshake.Welcome) error {
		b, err := codec.Marshal(w)
		if err != nil {
			return err
		}
		return conn.WriteFrame(ctx, frame.Plain(frame.TypeWelcome, b))
	}

	p.mu.Lock()
	d, ok := p.sessions[hello.SessionID]
	p.mu.Unlock()
	if !ok {
		_ = reply(handshake.Welcome{Status: handshake.StatusUnknownSession})
		return nil, ErrUnknownSession
	}
	transcript := handshake.HelloTranscript(hello)
	if !hmac.Equal(hello.Proof, handshake.MAC(d.root, transcript)) ||
		!crypto.VerifyEd25519(d.identity, transcript, hello.Signature) {
		_ = reply(handshake.Welcome{Status: handshake.StatusBadProof})
		return nil, errors.New("primary: bad hello proof")
	}

	p.mu.Lock()
	now := p.opts.Now()
	recv, err := ratchet.Resync(d.recv, hello.SendCounter, hello.SendEpoch, now)
	if err == nil {
		d.recv = recv
		var send ratchet.Chain
		if send, err = ratchet.Resync(d.send, hello.RecvCounter, hello.RecvEpoch, now); err == nil {
			d.send = send
		}
	}
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	w := handshake.Welcome{
		Status:      handshake.StatusOK,
		Nonce:       make([]byte, handshake.NonceSize),
		SendCounter: d.send.State.Counter,
		SendEpoch:   d.send.State.Epoch,
	}
	if _, err := rand.Read(w.Nonce); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	w.Proof = handshake.MAC(d.root, handshake.WelcomeTranscript(hello, w))
	old := d.conn
	d.conn = conn
	p.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return d, reply(w)
}

func (p *Primary) serveDevice(ctx context.Context, conn domain.Conn, d *device) error {
	defer func() {
		p.mu.Lock()
		if d.conn == conn {
			d.conn = nil
		}
		p.mu.Unlock()
	}()
	for {
		raw, err := conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		p.mu.Lock()
		_, pt, next, err := ratchet.Open(d.recv, raw, p.opts.Now())
		if err == nil {
			d.recv = next
		}
		p.mu.Unlock()
		if err != nil {
			p.log.Warn().Err(err).Msg("dropping device frame")
			continue
		}
		env, err := codec.DecodeEnvelope(pt)
		if err != nil {
			p.log.Warn().Err(err).Msg("undecodable envelope")
			continue
		}
		select {
		case p.inbox <- env:
		default:
			p.log.Warn().Msg("inbox full, dropping envelope")
		}
		if env.Op == nil && !p.opts.NoReceipts {
			if err := p.Push(ctx, d.sessionID, p.receipt(env)); err != nil {
				p.log.Warn().Err(err).Msg("send receipt")
			}
		}
	}
}

func (p *Primary) receipt(env domain.Envelope) domain.Envelope {
	return domain.Envelope{
		Target:    env.Target,
		Sender:    p.accountID,
		MessageID: domain.MessageID(uuid.NewString()),
		Timestamp: p.opts.Now().UnixMilli(),
		Op: &domain.OpCommand{
			Kind: domain.OpReceipt,
			Ref:  env.MessageID,
			Args: map[string]string{"revision": fmt.Sprint(env.Revision)},
		},
	}
}

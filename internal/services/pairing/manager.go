package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tether/internal/codec"
	"tether/internal/domain"
	"tether/internal/protocol/linking"
	"tether/internal/secret"
	"tether/internal/store"
)

// DefaultTTL is how long a pairing payload stays valid.
const DefaultTTL = 2 * time.Minute

var (
	// ErrNotStarted is returned by Await without a pending attempt.
	ErrNotStarted = errors.New("pairing: no attempt in progress")
	// ErrCancelled is returned by Await when Cancel ends the attempt.
	ErrCancelled = errors.New("pairing: cancelled")
)

// Keys is the part of the key store pairing needs.
type Keys interface {
	domain.IdentityStore
	domain.SessionStore
	NewLinkKey() (*store.LinkKey, error)
	NewDeviceSession(info domain.SessionInfo, material *secret.Buffer) (domain.SessionInfo, error)
}

// Options tunes a Manager.
type Options struct {
	TTL    time.Duration
	Logger zerolog.Logger
	// Now defaults to time.Now. It stamps payload expiry and checks it when a
	// confirmation arrives.
	Now func() time.Time
}

// attempt is the in-memory LinkingSession. It is never persisted.
type attempt struct {
	payload  domain.PairingPayload
	identity domain.DeviceIdentity
	link     *store.LinkKey
	waiter   domain.RendezvousWaiter
	awaiting bool

	// ctx ends at expiry or on Cancel.
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager implements domain.PairingService.
type Manager struct {
	keys       Keys
	rendezvous domain.Rendezvous
	ttl        time.Duration
	log        zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	state   domain.LinkState
	current *attempt
	linked  domain.SessionInfo
}

// New returns an idle Manager.
func New(keys Keys, rendezvous domain.Rendezvous, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		keys:       keys,
		rendezvous: rendezvous,
		ttl:        opts.TTL,
		log:        opts.Logger.With().Str("component", "pairing").Logger(),
		now:        opts.Now,
		state:      domain.LinkIdle,
	}
}

// State returns the state of the current or last attempt.
func (m *Manager) State() domain.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Begin starts a linking attempt and returns the payload for the primary
// to scan. The rendezvous is open before Begin returns.
//
// Steps:
//  1. Refuse while another attempt is pending or a session exists.
//  2. Load (or create) the device identity.
//  3. Generate the ephemeral link key, nonce, ADV secret and ref.
//  4. Open the rendezvous for ref.
func (m *Manager) Begin(ctx context.Context) (domain.PairingPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == domain.LinkPending {
		return domain.PairingPayload{}, domain.ErrPairingInProgress
	}
	if _, ok, err := m.keys.CurrentSession(); err != nil {
		return domain.PairingPayload{}, err
	} else if ok {
		return domain.PairingPayload{}, domain.ErrAlreadyLinked
	}
	if m.state.Terminal() {
		if err := m.transition(domain.LinkIdle); err != nil {
			return domain.PairingPayload{}, err
		}
	}

	id, err := m.keys.LoadOrCreateIdentity()
	if err != nil {
		return domain.PairingPayload{}, err
	}
	link, err := m.keys.NewLinkKey()
	if err != nil {
		return domain.PairingPayload{}, err
	}
	p := domain.PairingPayload{
		Ref:       uuid.NewString(),
		Ephemeral: link.Public(),
		Identity:  id.SigningKey,
		ExpiresAt: m.now().Add(m.ttl),
	}
	if _, err := rand.Read(p.Nonce[:]); err != nil {
		_ = link.Close()
		return domain.PairingPayload{}, err
	}
	if _, err := rand.Read(p.AdvSecret[:]); err != nil {
		_ = link.Close()
		return domain.PairingPayload{}, err
	}
	waiter, err := m.rendezvous.Open(ctx, p.Ref)
	if err != nil {
		_ = link.Close()
		return domain.PairingPayload{}, fmt.Errorf("open rendezvous: %w", err)
	}

	actx, cancel := context.WithTimeout(context.Background(), p.ExpiresAt.Sub(m.now()))
	m.current = &attempt{
		payload:  p,
		identity: id,
		link:     link,
		waiter:   waiter,
		ctx:      actx,
		cancel:   cancel,
	}
	if err := m.transition(domain.LinkPending); err != nil {
		m.discard()
		return domain.PairingPayload{}, err
	}
	m.log.Info().Str("ref", p.Ref).Time("expires_at", p.ExpiresAt).Msg("pairing started")
	return p, nil
}

// Await waits for the primary's confirmation and installs the resulting
// DeviceSession.
//
// Steps:
//  1. Wait on the rendezvous until a confirmation, expiry, Cancel or ctx.
//  2. Check the confirmation arrived before expiry.
//  3. Verify ref, nonce, ADV MAC and primary signature.
//  4. Agree on session material with the primary's ratchet key.
//  5. Persist the DeviceSession.
func (m *Manager) Await(ctx context.Context) (domain.SessionInfo, error) {
	m.mu.Lock()
	switch m.state {
	case domain.LinkConfirmed:
		info := m.linked
		m.mu.Unlock()
		return info, nil
	case domain.LinkExpired:
		m.mu.Unlock()
		return domain.SessionInfo{}, domain.ErrPairingExpired
	case domain.LinkRejected:
		m.mu.Unlock()
		return domain.SessionInfo{}, domain.ErrPairingRejected
	case domain.LinkIdle:
		m.mu.Unlock()
		return domain.SessionInfo{}, ErrNotStarted
	}
	a := m.current
	if a.awaiting {
		m.mu.Unlock()
		return domain.SessionInfo{}, domain.ErrPairingInProgress
	}
	a.awaiting = true
	m.mu.Unlock()

	wctx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(a.ctx, stop)
	defer unhook()

	raw, err := a.waiter.Wait(wctx)
	if err != nil {
		switch {
		case errors.Is(a.ctx.Err(), context.DeadlineExceeded):
			return domain.SessionInfo{}, m.fail(a, domain.LinkExpired, domain.ErrPairingExpired)
		case a.ctx.Err() != nil:
			return domain.SessionInfo{}, ErrCancelled
		case ctx.Err() != nil:
			_ = m.finish(a, domain.LinkIdle)
			return domain.SessionInfo{}, ctx.Err()
		default:
			return domain.SessionInfo{}, m.fail(a, domain.LinkRejected, fmt.Errorf("%w: rendezvous: %v", domain.ErrPairingRejected, err))
		}
	}
	if m.now().After(a.payload.ExpiresAt) {
		return domain.SessionInfo{}, m.fail(a, domain.LinkExpired, domain.ErrPairingExpired)
	}

	info, err := m.complete(a, raw)
	if err != nil {
		return domain.SessionInfo{}, m.fail(a, domain.LinkRejected, err)
	}
	m.mu.Lock()
	m.linked = info
	m.mu.Unlock()
	if err := m.finish(a, domain.LinkConfirmed); err != nil {
		return domain.SessionInfo{}, err
	}
	m.log.Info().Str("session_id", info.SessionID).Str("account_id", info.AccountID).Msg("device linked")
	return info, nil
}

func (m *Manager) complete(a *attempt, raw []byte) (domain.SessionInfo, error) {
	var c domain.LinkConfirmation
	if err := codec.Unmarshal(raw, &c); err != nil {
		return domain.SessionInfo{}, fmt.Errorf("%w: %v", domain.ErrPairingRejected, err)
	}
	if err := linking.Verify(a.payload, c); err != nil {
		return domain.SessionInfo{}, err
	}
	if c.DeviceID != a.identity.DeviceID {
		return domain.SessionInfo{}, fmt.Errorf("%w: confirmation names device %s", domain.ErrPairingRejected, c.DeviceID)
	}
	material, err := a.link.Agree(c.PrimaryRatchet, a.payload.Nonce)
	if err != nil {
		return domain.SessionInfo{}, fmt.Errorf("%w: key agreement: %v", domain.ErrPairingRejected, err)
	}
	defer material.Close()
	return m.keys.NewDeviceSession(domain.SessionInfo{
		SessionID:       c.SessionID,
		AccountID:       c.AccountID,
		DeviceID:        a.identity.DeviceID,
		PrimaryIdentity: c.PrimaryIdentity,
	}, material)
}

// Cancel abandons a pending attempt. It is a no-op otherwise.
func (m *Manager) Cancel() {
	m.mu.Lock()
	a := m.current
	m.mu.Unlock()
	if a == nil {
		return
	}
	if err := m.finish(a, domain.LinkIdle); err == nil {
		m.log.Info().Str("ref", a.payload.Ref).Msg("pairing cancelled")
	}
}

func (m *Manager) fail(a *attempt, to domain.LinkState, err error) error {
	m.log.Warn().Err(err).Str("ref", a.payload.Ref).Stringer("state", to).Msg("pairing failed")
	if ferr := m.finish(a, to); ferr != nil {
		return ferr
	}
	return err
}

// finish ends attempt a in state to and discards its secrets. It fails if
// a is no longer the current attempt.
func (m *Manager) finish(a *attempt, to domain.LinkState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != a {
		return ErrCancelled
	}
	if err := m.transition(to); err != nil {
		return err
	}
	m.discard()
	return nil
}

// discard destroys the current attempt; m.mu must be held.
func (m *Manager) discard() {
	a := m.current
	if a == nil {
		return
	}
	a.cancel()
	_ = a.link.Close()
	_ = a.waiter.Close()
	m.current = nil
}

var _ domain.PairingService = (*Manager)(nil)

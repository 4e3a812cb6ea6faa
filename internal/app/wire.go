package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"tether/internal/channel"
	"tether/internal/domain"
	"tether/internal/history"
	"tether/internal/relay"
	"tether/internal/services/identity"
	"tether/internal/services/inbound"
	"tether/internal/services/outgoing"
	"tether/internal/services/pairing"
	"tether/internal/store"
)

// Transport is the relay side the app dials.
type Transport struct {
	Dialer     domain.Dialer
	Rendezvous domain.Rendezvous
}

// Option customises Open.
type Option func(*options)

type options struct {
	transport *Transport
	storeOpts store.Options
}

// WithTransport replaces the configured relay transport.
func WithTransport(t Transport) Option { return func(o *options) { o.transport = &t } }

// WithStoreOptions overrides key store options, e.g. the scrypt work factor.
func WithStoreOptions(so store.Options) Option { return func(o *options) { o.storeOpts = so } }

// Open constructs the dependency graph from cfg. The key store is
// unlocked with passphrase.
func Open(ctx context.Context, cfg Config, passphrase string, logger zerolog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{storeOpts: store.Options{}}
	for _, fn := range opts {
		fn(&o)
	}
	o.storeOpts.Logger = logger

	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}
	keys, err := store.Open(cfg.KeyDir(), passphrase, o.storeOpts)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	hist, err := history.Open(ctx, cfg.HistoryPath(), logger)
	if err != nil {
		_ = keys.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}

	transport := o.transport
	if transport == nil {
		t := newTransport(cfg.Relay, keys, logger)
		transport = &t
	}

	a := &App{
		Config:   cfg,
		Log:      logger,
		Keys:     keys,
		History:  hist,
		Identity: identity.New(keys),
	}
	if a.Roster, err = roster(ctx, cfg, hist); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("seed roster: %w", err)
	}
	a.Pairing = pairing.New(keys, transport.Rendezvous, pairing.Options{TTL: cfg.Pairing.TTL, Logger: logger})
	a.Channel = channel.New(keys, transport.Dialer, cfg.Channel.channel(), logger)
	a.Outgoing = outgoing.New(keys, hist, a.Channel, cfg.Outgoing, logger,
		outgoing.WithTargetSeen(a.Roster.AddTarget))
	a.Inbound = inbound.New(hist, keys, inbound.Options{
		Roster:          a.Roster,
		OnDeviceRemoved: func(context.Context) error { return a.Channel.Unlink() },
		Logger:          logger,
	})
	return a, nil
}

func newTransport(cfg RelayConfig, keys *store.KeyStore, logger zerolog.Logger) Transport {
	if cfg.Transport == TransportNATS {
		return Transport{
			Dialer:     relay.NewNATSDialer(cfg.NATS, keys, logger),
			Rendezvous: relay.NewNATSRendezvous(cfg.NATS, logger),
		}
	}
	d := &relay.StreamDialer{Addr: cfg.Addr}
	return Transport{Dialer: d, Rendezvous: &relay.StreamRendezvous{Dialer: d}}
}

// roster knows the configured conversations, every category target and
// every conversation this account has written to. Targets were checked by
// Validate.
func roster(ctx context.Context, cfg Config, hist *history.Store) (*inbound.Roster, error) {
	var names []string
	names = append(names, cfg.Roster.Targets...)
	for _, cat := range cfg.Categories {
		for _, ct := range cat.Targets {
			names = append(names, ct.Target)
		}
	}
	targets, err := hist.Engaged(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range names {
		if t, err := domain.ParseTarget(s); err == nil {
			targets = append(targets, t)
		}
	}
	return inbound.NewRoster(targets, cfg.Roster.Senders), nil
}

// Close releases the stores.
func (a *App) Close() error {
	return errors.Join(a.History.Close(), a.Keys.Close())
}

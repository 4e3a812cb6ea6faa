package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tether/internal/channel"
	"tether/internal/domain"
	"tether/internal/history"
	"tether/internal/services/identity"
	"tether/internal/services/inbound"
	"tether/internal/services/outgoing"
	"tether/internal/services/pairing"
	"tether/internal/store"
)

// App bundles the stores and services commands use.
type App struct {
	Config   Config
	Log      zerolog.Logger
	Keys     *store.KeyStore
	History  *history.Store
	Identity *identity.Service
	Pairing  *pairing.Manager
	Channel  *channel.Channel
	Outgoing *outgoing.Pipeline
	Inbound  *inbound.Ingestor
	Roster   *inbound.Roster

	drafts drafts
}

// Status summarises the link for display.
type Status struct {
	Identity    domain.DeviceIdentity
	Fingerprint domain.Fingerprint
	Linked      bool
	Session     domain.SessionInfo
	Channel     channel.State
	// Discarded is set when an unreadable session was dropped at open.
	Discarded error
}

// Status reports identity and link state without touching the network.
func (a *App) Status() (Status, error) {
	var st Status
	id, ok := a.Keys.Identity()
	if ok {
		st.Identity = id
		fp, err := a.Identity.Fingerprint()
		if err != nil {
			return st, err
		}
		st.Fingerprint = fp
	}
	info, linked, err := a.Keys.CurrentSession()
	if err != nil {
		return st, err
	}
	st.Linked, st.Session = linked, info
	st.Channel = a.Channel.State()
	st.Discarded = a.Keys.DiscardedSession()
	return st, nil
}

// Run keeps the secure channel up and feeds inbound payloads to history
// until ctx is done or the channel gives up. When the ingest endpoint is
// configured it is served alongside. Cancelling ctx is a clean stop.
func (a *App) Run(ctx context.Context) error {
	if _, ok, err := a.Keys.CurrentSession(); err != nil {
		return err
	} else if !ok {
		return domain.ErrNotLinked
	}
	// Bind before anything starts so a bad address leaves the channel idle.
	var ln net.Listener
	if addr := a.Config.Ingest.Listen; addr != "" {
		var err error
		if ln, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("ingest endpoint: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Channel.Run(gctx) })
	g.Go(func() error { return a.Inbound.Consume(gctx, a.Channel.Inbound()) })
	if ln != nil {
		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		a.Log.Info().Str("addr", ln.Addr().String()).Msg("ingest endpoint listening")
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	err := g.Wait()
	a.Outgoing.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

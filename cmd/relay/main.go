package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tether/internal/domain"
	"tether/internal/primary"
	"tether/internal/protocol/frame"
	"tether/internal/relay"
	"tether/internal/richtext"
)

func main() {
	var (
		addr    string
		account string
	)
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Development relay with a built-in primary device",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
				With().Timestamp().Logger()
			return serve(cmd.Context(), addr, account, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7443", "listen address")
	cmd.Flags().StringVar(&account, "account", "dev-account", "account id of the built-in primary")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr, account string, log zerolog.Logger) error {
	prim, err := primary.New(account, primary.Options{Logger: log})
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() { _ = ln.Close() })
	log.Info().Str("addr", ln.Addr().String()).Str("account", account).Msg("relay listening")

	go printInbox(ctx, prim)
	go console(ctx, prim, log)

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		log.Debug().Str("remote", c.RemoteAddr().String()).Msg("connection")
		prim.Accept(relay.NewStreamConn(c, frame.DefaultLimits()))
	}
}

func printInbox(ctx context.Context, prim *primary.Primary) {
	for {
		select {
		case env := <-prim.Inbox():
			state := ""
			switch {
			case env.Deleted:
				state = " (deleted)"
			case env.Revision > 0:
				state = fmt.Sprintf(" (edit %d)", env.Revision)
			}
			fmt.Printf("<- %s %s%s: %s\n", env.Target, env.MessageID, state, richtext.Markdown(env.Spans))
		case <-ctx.Done():
			return
		}
	}
}

func console(ctx context.Context, prim *primary.Primary, log zerolog.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if err := command(ctx, prim, fields); err != nil {
			log.Error().Err(err).Str("command", fields[0]).Msg("command failed")
		}
	}
}

func command(ctx context.Context, prim *primary.Primary, f []string) error {
	switch {
	case f[0] == "scan" && len(f) == 2:
		sessionID, err := prim.Scan(ctx, f[1])
		if err != nil {
			return err
		}
		fmt.Printf("linked session %s\n", sessionID)
	case f[0] == "send" && len(f) >= 4:
		target, err := domain.ParseTarget(f[2])
		if err != nil {
			return err
		}
		return prim.Push(ctx, f[1], domain.Envelope{
			Target:    target,
			Sender:    prim.AccountID(),
			MessageID: domain.MessageID(uuid.NewString()),
			Timestamp: time.Now().UnixMilli(),
			Spans:     richtext.Parse(strings.Join(f[3:], " ")),
		})
	case f[0] == "remove" && len(f) == 2:
		err := prim.Push(ctx, f[1], domain.Envelope{
			Target:    domain.Peer(prim.AccountID()),
			Sender:    prim.AccountID(),
			MessageID: domain.MessageID(uuid.NewString()),
			Op:        &domain.OpCommand{Kind: domain.OpDeviceRemoved},
		})
		prim.Revoke(f[1])
		return err
	case f[0] == "revoke" && len(f) == 2:
		prim.Revoke(f[1])
	default:
		return fmt.Errorf("unknown command %q", strings.Join(f, " "))
	}
	return nil
}

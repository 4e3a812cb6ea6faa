package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"tether/internal/app"
	"tether/internal/services/identity"
)

var (
	home         string
	configPath   string
	passphrase   string
	noPassphrase bool
	logLevel     string
	appCtx       *app.App
)

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "tether",
		Short:         "Companion device for an encrypted messaging account",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			log, err := app.NewLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}

			creating := cmd.Name() == "init"
			pass, err := resolvePassphrase(cfg.KeyDir(), creating)
			if err != nil {
				return err
			}
			if creating && pass != "" {
				if err := identity.CheckPassphrase(pass); err != nil {
					return err
				}
			}
			appCtx, err = app.Open(cmd.Context(), cfg, pass, log)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			return appCtx.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.tether)")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.yaml or .toml; default <home>/config.yaml if present)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "key store passphrase (or $"+passphraseEnv+")")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level")

	root.AddCommand(
		initCmd(), fingerprintCmd(), reregisterCmd(),
		linkCmd(), unlinkCmd(), statusCmd(),
		sendCmd(), editCmd(), deleteCmd(), historyCmd(),
		ingestCmd(), runCmd(),
	)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

func loadConfig() (app.Config, error) {
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return app.Config{}, err
		}
		home = filepath.Join(dir, ".tether")
	}
	cfg := app.DefaultConfig(home)
	path := configPath
	if path == "" {
		for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
			p := filepath.Join(home, name)
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			} else if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		}
	}
	if path != "" {
		if err := app.LoadConfig(path, &cfg); err != nil {
			return cfg, err
		}
	}
	// The flag wins over the file.
	cfg.Home = home
	return cfg, nil
}

// withChannel runs the secure channel while fn executes.
func withChannel(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- appCtx.Run(ctx) }()

	ferr := fn(ctx)
	cancel()
	rerr := <-done
	if ferr != nil {
		return ferr
	}
	return rerr
}

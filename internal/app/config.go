package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tether/internal/channel"
	"tether/internal/domain"
	"tether/internal/protocol/ratchet"
	"tether/internal/relay"
	"tether/internal/retry"
	"tether/internal/services/outgoing"
	"tether/internal/services/pairing"
)

// Transport names.
const (
	TransportTCP  = "tcp"
	TransportNATS = "nats"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home       string              `yaml:"home" toml:"home"` // data directory, e.g. $HOME/.tether
	Log        LogConfig           `yaml:"log" toml:"log"`
	Relay      RelayConfig         `yaml:"relay" toml:"relay"`
	Channel    ChannelConfig       `yaml:"channel" toml:"channel"`
	Pairing    PairingConfig       `yaml:"pairing" toml:"pairing"`
	Outgoing   outgoing.Config     `yaml:"outgoing" toml:"outgoing"`
	History    HistoryConfig       `yaml:"history" toml:"history"`
	Ingest     IngestConfig        `yaml:"ingest" toml:"ingest"`
	Roster     RosterConfig        `yaml:"roster" toml:"roster"`
	Categories []outgoing.Category `yaml:"categories" toml:"categories"`
	Reports    ReportsConfig       `yaml:"reports" toml:"reports"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // console or json
}

type RelayConfig struct {
	Transport string           `yaml:"transport" toml:"transport"`
	Addr      string           `yaml:"addr" toml:"addr"` // tcp relay address
	NATS      relay.NATSConfig `yaml:"nats" toml:"nats"`
}

type ChannelConfig struct {
	Reconnect        retry.Policy  `yaml:"reconnect" toml:"reconnect"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	QueueSize        int           `yaml:"queue_size" toml:"queue_size"`
	RotateFrames     uint64        `yaml:"rotate_frames" toml:"rotate_frames"`
	RotateAge        time.Duration `yaml:"rotate_age" toml:"rotate_age"`
}

type PairingConfig struct {
	TTL time.Duration `yaml:"ttl" toml:"ttl"`
}

type HistoryConfig struct {
	Path string `yaml:"path" toml:"path"` // defaults to <home>/history.db
}

// IngestConfig enables the local HTTP ingest endpoint when Listen is set.
type IngestConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// ReportsConfig drives POST /reports on the ingest endpoint. With
// Autosend every posted report goes to Category at once; otherwise reports
// are rendered and held as drafts.
type ReportsConfig struct {
	Category string `yaml:"category" toml:"category"`
	Autosend bool   `yaml:"autosend" toml:"autosend"`
}

// RosterConfig lists known conversations and senders. Category targets
// and conversations this account has written to are known as well. An
// empty sender list accepts every sender.
type RosterConfig struct {
	Targets []string `yaml:"targets" toml:"targets"`
	Senders []string `yaml:"senders" toml:"senders"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig(home string) Config {
	ch := channel.DefaultConfig()
	return Config{
		Home: home,
		Log:  LogConfig{Level: "info", Format: "console"},
		Relay: RelayConfig{
			Transport: TransportTCP,
			Addr:      "127.0.0.1:7443",
			NATS: relay.NATSConfig{
				URL:       "nats://127.0.0.1:4222",
				Prefix:    "tether",
				Timeout:   5 * time.Second,
				QueueSize: ch.QueueSize,
			},
		},
		Channel: ChannelConfig{
			Reconnect:        ch.Reconnect,
			HandshakeTimeout: ch.HandshakeTimeout,
			QueueSize:        ch.QueueSize,
			RotateFrames:     ch.Rotation.MaxFrames,
			RotateAge:        ch.Rotation.MaxAge,
		},
		Pairing:  PairingConfig{TTL: pairing.DefaultTTL},
		Outgoing: outgoing.DefaultConfig(),
	}
}

// LoadConfig overlays the YAML or TOML file at path onto cfg. The format
// is chosen by extension.
func LoadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.Home == "" {
		errs = append(errs, errors.New("home is required"))
	}
	switch c.Relay.Transport {
	case TransportTCP:
		if c.Relay.Addr == "" {
			errs = append(errs, errors.New("relay.addr is required for tcp"))
		}
	case TransportNATS:
		if c.Relay.NATS.URL == "" {
			errs = append(errs, errors.New("relay.nats.url is required for nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("relay.transport %q is not tcp or nats", c.Relay.Transport))
	}
	if c.Channel.Reconnect.Jitter {
		// Reconnect delays must never shrink between attempts.
		errs = append(errs, errors.New("channel.reconnect.jitter is not supported"))
	}
	for _, cat := range c.Categories {
		if err := cat.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if name := c.Reports.Category; name != "" {
		if _, ok := c.Category(name); !ok {
			errs = append(errs, fmt.Errorf("reports.category %q is not a configured category", name))
		}
	} else if c.Reports.Autosend {
		errs = append(errs, errors.New("reports.autosend needs reports.category"))
	}
	for _, t := range c.Roster.Targets {
		if _, err := domain.ParseTarget(t); err != nil {
			errs = append(errs, fmt.Errorf("roster: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HistoryPath returns the history database path.
func (c Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.Home, "history.db")
}

// KeyDir returns the key store directory.
func (c Config) KeyDir() string { return filepath.Join(c.Home, "keys") }

// Category returns the named send category.
func (c Config) Category(name string) (outgoing.Category, bool) {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return outgoing.Category{}, false
}

func (c ChannelConfig) channel() channel.Config {
	return channel.Config{
		Rotation:         ratchet.Policy{MaxFrames: c.RotateFrames, MaxAge: c.RotateAge},
		Reconnect:        c.Reconnect,
		HandshakeTimeout: c.HandshakeTimeout,
		QueueSize:        c.QueueSize,
	}
}

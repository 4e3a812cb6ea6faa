// Package retry holds the bounded exponential backoff shared by the
// channel's reconnect loop and the outgoing pipeline.
package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// Policy bounds a retry loop.
type Policy struct {
	Min    time.Duration `yaml:"min" toml:"min"`
	Max    time.Duration `yaml:"max" toml:"max"`
	Factor float64       `yaml:"factor" toml:"factor"`
	// Jitter randomises each delay within [Min, current delay), so delays
	// may shrink between attempts. Leave it off where a non-decreasing
	// sequence is required, e.g. the channel's reconnect loop.
	Jitter bool `yaml:"jitter" toml:"jitter"`
	// MaxAttempts is the number of consecutive failures after which the
	// loop gives up.
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`
}

// DefaultPolicy is 500ms doubling up to 30s, eight attempts, no jitter.
func DefaultPolicy() Policy {
	return Policy{
		Min:         500 * time.Millisecond,
		Max:         30 * time.Second,
		Factor:      2,
		MaxAttempts: 8,
	}
}

// Backoff returns a fresh delay sequence for p.
func (p Policy) Backoff() *backoff.Backoff {
	d := DefaultPolicy()
	if p.Min <= 0 {
		p.Min = d.Min
	}
	if p.Max < p.Min {
		p.Max = p.Min
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	return &backoff.Backoff{
		Min:    p.Min,
		Max:    p.Max,
		Factor: p.Factor,
		Jitter: p.Jitter,
	}
}

// Attempts returns MaxAttempts, defaulting non-positive values.
func (p Policy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultPolicy().MaxAttempts
	}
	return p.MaxAttempts
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

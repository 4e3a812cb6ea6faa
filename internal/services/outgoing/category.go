package outgoing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tether/internal/domain"
	"tether/internal/richtext"
)

// Mode selects how a category sends to one of its targets.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeNormal
	// ModeFrequency puts the message's frequency line above the body.
	ModeFrequency
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeFrequency:
		return "frequency"
	default:
		return "off"
	}
}

// Active reports whether the target receives messages.
func (m Mode) Active() bool { return m != ModeOff }

// Next cycles off -> normal -> frequency -> off.
func (m Mode) Next() Mode { return (m + 1) % 3 }

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "off":
		*m = ModeOff
	case "normal":
		*m = ModeNormal
	case "frequency":
		*m = ModeFrequency
	default:
		return fmt.Errorf("unknown send mode %q", b)
	}
	return nil
}

// CategoryTarget is one conversation of a category.
type CategoryTarget struct {
	Target string `yaml:"target" toml:"target"`
	Mode   Mode   `yaml:"mode" toml:"mode"`
}

// Category is a named fan-out list.
type Category struct {
	Name    string           `yaml:"name" toml:"name"`
	Targets []CategoryTarget `yaml:"targets" toml:"targets"`
}

// Validate parses every target of c.
func (c Category) Validate() error {
	if c.Name == "" {
		return errors.New("category without name")
	}
	for _, t := range c.Targets {
		if _, err := domain.ParseTarget(t.Target); err != nil {
			return fmt.Errorf("category %s: %w", c.Name, err)
		}
	}
	return nil
}

// CategoryResult is the outcome for one category target.
type CategoryResult struct {
	Target domain.Target
	domain.SubmitResult
}

// SubmitCategory sends spans to every active target of c and waits for all
// of them. Targets in frequency mode get freq as a first line when freq is
// not empty.
func (p *Pipeline) SubmitCategory(ctx context.Context, c Category, spans []domain.Span, freq string) ([]CategoryResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	type pending struct {
		target domain.Target
		ch     <-chan domain.SubmitResult
	}
	var waits []pending
	for _, ct := range c.Targets {
		if !ct.Mode.Active() {
			continue
		}
		target, _ := domain.ParseTarget(ct.Target)
		body := spans
		if ct.Mode == ModeFrequency && freq != "" {
			body = richtext.Normalize(append([]domain.Span{{Text: freq + "\n"}}, spans...))
		}
		waits = append(waits, pending{target: target, ch: p.Submit(ctx, domain.Envelope{Target: target, Spans: body})})
	}
	results := make([]CategoryResult, 0, len(waits))
	for _, w := range waits {
		select {
		case res := <-w.ch:
			results = append(results, CategoryResult{Target: w.target, SubmitResult: res})
		case <-ctx.Done():
			return results, ctx.Err()
		}
	}
	p.log.Info().Str("category", c.Name).Int("targets", len(results)).Msg("category sent")
	return results, nil
}

package richtext

import (
	"fmt"

	"tether/internal/domain"
)

var (
	ErrEmptySpan = fmt.Errorf("%w: empty span", domain.ErrInvalidEnvelope)
	ErrLinkURL   = fmt.Errorf("%w: link marker and url must come together", domain.ErrInvalidEnvelope)
)

// Validate reports the first span that cannot be sent.
func Validate(spans []domain.Span) error {
	for i, s := range spans {
		if s.Text == "" {
			return fmt.Errorf("span %d: %w", i, ErrEmptySpan)
		}
		if s.Format.Has(domain.FormatLink) != (s.URL != "") {
			return fmt.Errorf("span %d: %w", i, ErrLinkURL)
		}
	}
	return nil
}

// Normalize drops empty spans and merges neighbours with equal formatting.
func Normalize(spans []domain.Span) []domain.Span {
	var out []domain.Span
	for _, s := range spans {
		out = appendSpan(out, s)
	}
	return out
}

func appendSpan(out []domain.Span, s domain.Span) []domain.Span {
	if s.Text == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Format == s.Format && out[n-1].URL == s.URL {
		out[n-1].Text += s.Text
		return out
	}
	return append(out, s)
}

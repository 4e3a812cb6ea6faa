package codec

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"tether/internal/domain"
)

const (
	// FlagCompressed marks a zstd-compressed body.
	FlagCompressed byte = 0x02

	// CompressThreshold is the body size above which compression is tried.
	CompressThreshold = 1024
)

// ErrInvalidSpan is returned by EncodeEnvelope for spans that cannot be
// represented: empty text or invalid UTF-8.
var ErrInvalidSpan = fmt.Errorf("%w: invalid span", domain.ErrInvalidEnvelope)

type wireEnvelope struct {
	Target    wireTarget  `cbor:"1,keyasint"`
	Sender    string      `cbor:"2,keyasint,omitempty"`
	MessageID string      `cbor:"3,keyasint"`
	Revision  uint32      `cbor:"4,keyasint,omitempty"`
	Timestamp int64       `cbor:"5,keyasint,omitempty"`
	Text      string      `cbor:"6,keyasint,omitempty"`
	Ranges    []wireRange `cbor:"7,keyasint,omitempty"`
	Op        *wireOp     `cbor:"8,keyasint,omitempty"`
	Deleted   bool        `cbor:"9,keyasint,omitempty"`
}

type wireTarget struct {
	Kind uint8  `cbor:"1,keyasint"`
	ID   string `cbor:"2,keyasint"`
}

type wireRange struct {
	Start  uint32 `cbor:"1,keyasint"`
	Length uint32 `cbor:"2,keyasint"`
	Style  uint8  `cbor:"3,keyasint,omitempty"`
	URL    string `cbor:"4,keyasint,omitempty"`
}

type wireOp struct {
	Kind uint8             `cbor:"1,keyasint"`
	Ref  string            `cbor:"2,keyasint,omitempty"`
	Args map[string]string `cbor:"3,keyasint,omitempty"`
}

// EncodeEnvelope encodes env into a frame payload. Empty and nil Spans or
// Op.Args encode alike: DecodeEnvelope returns env.Canonical().
func EncodeEnvelope(env domain.Envelope) ([]byte, error) {
	env = env.Canonical()
	w := wireEnvelope{
		Target:    wireTarget{Kind: uint8(env.Target.Kind), ID: env.Target.ID},
		Sender:    env.Sender,
		MessageID: string(env.MessageID),
		Revision:  env.Revision,
		Timestamp: env.Timestamp,
		Deleted:   env.Deleted,
	}
	if env.Op != nil {
		w.Op = &wireOp{Kind: uint8(env.Op.Kind), Ref: string(env.Op.Ref), Args: env.Op.Args}
	}

	var text strings.Builder
	var off uint32
	for i, s := range env.Spans {
		if s.Text == "" || !utf8.ValidString(s.Text) {
			return nil, fmt.Errorf("%w: span %d", ErrInvalidSpan, i)
		}
		n := uint32(utf8.RuneCountInString(s.Text))
		w.Ranges = append(w.Ranges, wireRange{Start: off, Length: n, Style: uint8(s.Format), URL: s.URL})
		off += n
		text.WriteString(s.Text)
	}
	w.Text = text.String()

	body, err := Marshal(w)
	if err != nil {
		return nil, err
	}
	flags := byte(0)
	if len(body) > CompressThreshold {
		if c := compress(body); len(c) < len(body) {
			body, flags = c, FlagCompressed
		}
	}
	return append([]byte{flags}, body...), nil
}

// DecodeEnvelope decodes a frame payload. Every failure wraps
// domain.ErrMalformed.
func DecodeEnvelope(payload []byte) (domain.Envelope, error) {
	if len(payload) < 2 {
		return domain.Envelope{}, malformed(errors.New("payload too short"))
	}
	flags, body := payload[0], payload[1:]
	if flags&FlagCompressed != 0 {
		var err error
		if body, err = decompress(body); err != nil {
			return domain.Envelope{}, malformed(fmt.Errorf("decompress: %w", err))
		}
	}
	var w wireEnvelope
	if err := Unmarshal(body, &w); err != nil {
		return domain.Envelope{}, malformed(err)
	}
	return fromWire(w)
}

func fromWire(w wireEnvelope) (domain.Envelope, error) {
	if w.Target.Kind == 0 || w.Target.ID == "" {
		return domain.Envelope{}, malformed(errors.New("missing conversation target"))
	}
	if w.MessageID == "" {
		return domain.Envelope{}, malformed(errors.New("missing message id"))
	}
	env := domain.Envelope{
		Target:    domain.Target{Kind: domain.TargetKind(w.Target.Kind), ID: w.Target.ID},
		Sender:    w.Sender,
		MessageID: domain.MessageID(w.MessageID),
		Revision:  w.Revision,
		Timestamp: w.Timestamp,
		Deleted:   w.Deleted,
	}
	if w.Op != nil {
		if w.Op.Kind == 0 {
			return domain.Envelope{}, malformed(errors.New("op command without kind"))
		}
		env.Op = &domain.OpCommand{Kind: domain.OpKind(w.Op.Kind), Ref: domain.MessageID(w.Op.Ref), Args: w.Op.Args}
	}
	spans, err := spansFromRanges(w.Text, w.Ranges)
	if err != nil {
		return domain.Envelope{}, malformed(err)
	}
	if env.Deleted && len(spans) > 0 {
		return domain.Envelope{}, malformed(errors.New("deleted envelope carries text"))
	}
	env.Spans = spans
	return env, nil
}

// spansFromRanges rebuilds spans from text and ranges that must tile it.
func spansFromRanges(text string, ranges []wireRange) ([]domain.Span, error) {
	if !utf8.ValidString(text) {
		return nil, errors.New("text is not valid UTF-8")
	}
	if len(ranges) == 0 {
		if text == "" {
			return nil, nil
		}
		return []domain.Span{{Text: text}}, nil
	}

	// offsets[i] is the byte offset of rune i; the final entry is len(text).
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	runes := uint32(len(offsets))
	offsets = append(offsets, len(text))

	spans := make([]domain.Span, 0, len(ranges))
	var next uint32
	for i, r := range ranges {
		switch {
		case r.Length == 0:
			return nil, fmt.Errorf("range %d is empty", i)
		case r.Start < next:
			return nil, fmt.Errorf("range %d overlaps its predecessor", i)
		case r.Start > next:
			return nil, fmt.Errorf("gap before range %d", i)
		case uint64(r.Start)+uint64(r.Length) > uint64(runes):
			return nil, fmt.Errorf("range %d ends past the text", i)
		}
		end := r.Start + r.Length
		spans = append(spans, domain.Span{
			Text:   text[offsets[r.Start]:offsets[end]],
			Format: domain.Format(r.Style),
			URL:    r.URL,
		})
		next = end
	}
	if next != runes {
		return nil, errors.New("ranges do not cover the text")
	}
	return spans, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
}

package codec_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tether/internal/codec"
	"tether/internal/domain"
)

// rawEnvelope mirrors the wire layout so tests can build payloads the
// encoder would never produce.
type rawEnvelope struct {
	Target    rawTarget  `cbor:"1,keyasint"`
	MessageID string     `cbor:"3,keyasint"`
	Text      string     `cbor:"6,keyasint,omitempty"`
	Ranges    []rawRange `cbor:"7,keyasint,omitempty"`
	Future    string     `cbor:"42,keyasint,omitempty"`
}

type rawTarget struct {
	Kind uint8  `cbor:"1,keyasint"`
	ID   string `cbor:"2,keyasint"`
}

type rawRange struct {
	Start  uint32 `cbor:"1,keyasint"`
	Length uint32 `cbor:"2,keyasint"`
	Style  uint8  `cbor:"3,keyasint,omitempty"`
}

func payload(t *testing.T, v any) []byte {
	t.Helper()
	body, err := codec.Marshal(v)
	require.NoError(t, err)
	return append([]byte{0}, body...)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	cases := map[string]domain.Envelope{
		"rich text": {
			Target:    domain.Group("group-42"),
			Sender:    "acct-1",
			MessageID: "m1",
			Timestamp: 1700000000123,
			Spans: []domain.Span{
				{Text: "hi "},
				{Text: "team", Format: domain.FormatBold},
				{Text: " ✓ ", Format: domain.FormatItalic | domain.FormatStrikethrough},
				{Text: "docs", Format: domain.FormatLink, URL: "https://example.org"},
			},
		},
		"edit": {
			Target:    domain.Peer("alice"),
			MessageID: "m2",
			Revision:  3,
			Spans:     []domain.Span{{Text: "fixed", Format: domain.FormatMonospace}},
		},
		"delete": {
			Target:    domain.Peer("alice"),
			MessageID: "m2",
			Revision:  4,
			Deleted:   true,
		},
		"op command": {
			Target:    domain.Group("group-42"),
			MessageID: "op-1",
			Op: &domain.OpCommand{
				Kind: domain.OpHistoryQuery,
				Args: map[string]string{"limit": "20"},
			},
		},
		"receipt": {
			Target:    domain.Group("group-42"),
			MessageID: "r-1",
			Op:        &domain.OpCommand{Kind: domain.OpReceipt, Ref: "m1"},
		},
		"empty spans and args": {
			Target:    domain.Group("group-42"),
			MessageID: "op-2",
			Spans:     []domain.Span{},
			Op:        &domain.OpCommand{Kind: domain.OpSyncRequest, Args: map[string]string{}},
		},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			raw, err := codec.EncodeEnvelope(env)
			require.NoError(t, err)
			got, err := codec.DecodeEnvelope(raw)
			require.NoError(t, err)
			require.Equal(t, env.Canonical(), got)

			again, err := codec.EncodeEnvelope(got)
			require.NoError(t, err)
			require.Equal(t, raw, again, "encoding must be deterministic")
		})
	}
}

func TestEnvelope_EmptyDecodesAsNil(t *testing.T) {
	env := domain.Envelope{
		Target:    domain.Peer("alice"),
		MessageID: "m3",
		Spans:     []domain.Span{},
		Op:        &domain.OpCommand{Kind: domain.OpSyncRequest, Args: map[string]string{}},
	}
	raw, err := codec.EncodeEnvelope(env)
	require.NoError(t, err)
	got, err := codec.DecodeEnvelope(raw)
	require.NoError(t, err)
	require.Nil(t, got.Spans)
	require.NotNil(t, got.Op)
	require.Nil(t, got.Op.Args)
	require.NotNil(t, env.Op.Args, "Canonical must not touch the caller's envelope")
}

func TestEnvelope_CompressesLargeBodies(t *testing.T) {
	env := domain.Envelope{
		Target:    domain.Group("group-42"),
		MessageID: "big",
		Spans:     []domain.Span{{Text: strings.Repeat("status nominal. ", 400)}},
	}
	raw, err := codec.EncodeEnvelope(env)
	require.NoError(t, err)
	require.Equal(t, codec.FlagCompressed, raw[0]&codec.FlagCompressed)
	require.Less(t, len(raw), 2000)

	got, err := codec.DecodeEnvelope(raw)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestEncode_RejectsEmptySpan(t *testing.T) {
	_, err := codec.EncodeEnvelope(domain.Envelope{
		Target:    domain.Peer("bob"),
		MessageID: "m",
		Spans:     []domain.Span{{Text: "a"}, {Text: ""}},
	})
	require.ErrorIs(t, err, codec.ErrInvalidSpan)
	require.ErrorIs(t, err, domain.ErrInvalidEnvelope)
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	raw := payload(t, rawEnvelope{
		Target:    rawTarget{Kind: 2, ID: "group-42"},
		MessageID: "m1",
		Text:      "hello",
		Future:    "from a newer peer",
	})
	got, err := codec.DecodeEnvelope(raw)
	require.NoError(t, err)
	require.Equal(t, []domain.Span{{Text: "hello"}}, got.Spans)

	// Unknown flag bits are ignored too.
	raw[0] = 0x80
	_, err = codec.DecodeEnvelope(raw)
	require.NoError(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	base := func(ranges ...rawRange) rawEnvelope {
		return rawEnvelope{
			Target:    rawTarget{Kind: 1, ID: "bob"},
			MessageID: "m1",
			Text:      "héllo world",
			Ranges:    ranges,
		}
	}
	valid, err := codec.EncodeEnvelope(domain.Envelope{
		Target:    domain.Peer("bob"),
		MessageID: "m1",
		Spans:     []domain.Span{{Text: "hello"}},
	})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":       nil,
		"flags only":  {0},
		"truncated":   valid[:len(valid)-3],
		"not cbor":    {0, 0xff, 0xff, 0xff},
		"bad zstd":    append([]byte{codec.FlagCompressed}, valid[1:]...),
		"overlap":     payload(t, base(rawRange{0, 6, 0}, rawRange{5, 6, 1})),
		"gap":         payload(t, base(rawRange{0, 5, 0}, rawRange{6, 5, 1})),
		"short cover": payload(t, base(rawRange{0, 5, 0})),
		"past end":    payload(t, base(rawRange{0, 5, 0}, rawRange{5, 9, 1})),
		"zero length": payload(t, base(rawRange{0, 0, 0}, rawRange{0, 11, 0})),
		"no target":   payload(t, rawEnvelope{MessageID: "m1"}),
		"no id":       payload(t, rawEnvelope{Target: rawTarget{Kind: 1, ID: "bob"}}),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.DecodeEnvelope(raw)
			require.Error(t, err)
			require.True(t, errors.Is(err, domain.ErrMalformed), "got %v", err)
		})
	}
}

func TestDecode_RuneOffsets(t *testing.T) {
	raw := payload(t, rawEnvelope{
		Target:    rawTarget{Kind: 1, ID: "bob"},
		MessageID: "m1",
		Text:      "héllo world",
		Ranges:    []rawRange{{0, 5, uint8(domain.FormatBold)}, {5, 6, 0}},
	})
	got, err := codec.DecodeEnvelope(raw)
	require.NoError(t, err)
	require.Equal(t, []domain.Span{
		{Text: "héllo", Format: domain.FormatBold},
		{Text: " world"},
	}, got.Spans)
}

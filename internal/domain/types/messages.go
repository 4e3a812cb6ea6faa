package types

import "time"

// Format is a set of rich-text markers applied to a span.
type Format uint8

const (
	FormatBold Format = 1 << iota
	FormatItalic
	FormatStrikethrough
	FormatMonospace
	FormatLink
)

// Has reports whether every marker in x is set in f.
func (f Format) Has(x Format) bool { return f&x == x }

// Span is a run of text with its formatting markers. A message body is the
// concatenation of its spans in order.
type Span struct {
	Text   string `json:"text"`
	Format Format `json:"format,omitempty"`
	URL    string `json:"url,omitempty"`
}

// PlainText returns the concatenated text of spans.
func PlainText(spans []Span) string {
	n := 0
	for _, s := range spans {
		n += len(s.Text)
	}
	b := make([]byte, 0, n)
	for _, s := range spans {
		b = append(b, s.Text...)
	}
	return string(b)
}

// SpansEqual reports whether a and b describe the same body.
func SpansEqual(a, b []Span) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// OpKind identifies an operational command.
type OpKind uint8

const (
	OpSyncRequest OpKind = iota + 1
	OpHistoryQuery
	OpReceipt
	OpDeviceRemoved
)

// String returns a lower-case name for the command kind.
func (k OpKind) String() string {
	switch k {
	case OpSyncRequest:
		return "sync-request"
	case OpHistoryQuery:
		return "history-query"
	case OpReceipt:
		return "receipt"
	case OpDeviceRemoved:
		return "device-removed"
	default:
		return "unknown"
	}
}

// OpCommand is a control message carried in an envelope instead of user text.
type OpCommand struct {
	Kind OpKind            `json:"kind"`
	Ref  MessageID         `json:"ref,omitempty"`
	Args map[string]string `json:"args,omitempty"`
}

// Envelope is the unit the codec encodes into a data frame.
//
// Revision 0 is the original message; every edit or delete bumps it. A
// deleted envelope carries no spans.
type Envelope struct {
	Target    Target     `json:"target"`
	Sender    string     `json:"sender,omitempty"`
	MessageID MessageID  `json:"message_id"`
	Revision  uint32     `json:"revision"`
	Timestamp int64      `json:"timestamp"`
	Spans     []Span     `json:"spans,omitempty"`
	Op        *OpCommand `json:"op,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
}

// Time returns the envelope timestamp (unix milliseconds) as a time.Time.
func (e Envelope) Time() time.Time { return time.UnixMilli(e.Timestamp) }

// Canonical returns e with empty Spans and empty Op.Args set to nil, the
// form the codec decodes to. Op is copied, never shared with e.
func (e Envelope) Canonical() Envelope {
	if len(e.Spans) == 0 {
		e.Spans = nil
	}
	if e.Op != nil {
		op := *e.Op
		if len(op.Args) == 0 {
			op.Args = nil
		}
		e.Op = &op
	}
	return e
}

// SameContent reports whether e and o carry the same body, ignoring routing
// and revision metadata.
func (e Envelope) SameContent(o Envelope) bool {
	if e.Deleted != o.Deleted || !SpansEqual(e.Spans, o.Spans) {
		return false
	}
	switch {
	case e.Op == nil && o.Op == nil:
		return true
	case e.Op == nil || o.Op == nil:
		return false
	}
	if e.Op.Kind != o.Op.Kind || e.Op.Ref != o.Op.Ref || len(e.Op.Args) != len(o.Op.Args) {
		return false
	}
	for k, v := range e.Op.Args {
		if ov, ok := o.Op.Args[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Inbound entry points.
const (
	// SourceChannel is the authenticated secure channel to the primary.
	SourceChannel = "channel"
	// SourceHTTP is the unauthenticated local ingest endpoint.
	SourceHTTP = "http"
)

// SourceMeta describes where an inbound payload came from.
type SourceMeta struct {
	// Source names the entry point, e.g. SourceChannel or SourceHTTP.
	Source string
	// Sender is the transport-level sender, used when the envelope omits one.
	Sender string
	// ReceivedAt defaults to the ingestion time when zero.
	ReceivedAt time.Time
}

// Authenticated reports whether the payload came over the secure channel.
// Only such payloads may carry commands or speak for this account.
func (m SourceMeta) Authenticated() bool { return m.Source == SourceChannel }

// SubmitResult is delivered once per outgoing submission.
type SubmitResult struct {
	Record HistoryRecord
	Err    error
}

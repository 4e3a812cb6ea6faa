// Package report reads operator report files and renders them as message
// text. Report files are JSON with comments and trailing commas allowed.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"tether/internal/domain"
)

// Unknown replaces an empty receiver or sender name.
const Unknown = "N/A"

// Entry is one timestamped line of a report.
type Entry struct {
	Time string `json:"Key"`
	Text string `json:"Value"`
}

// Report is one operator report.
type Report struct {
	Frequency string
	Title     string
	Location  string
	Datetime  string
	Receiver  string
	Sender    string
	Comment   string
	Entries   []Entry
}

type wireReport struct {
	Key   string `json:"Key"`
	Value struct {
		Title     string  `json:"title"`
		Location  string  `json:"location"`
		Datetime  string  `json:"datetime"`
		Frequency string  `json:"frequency"`
		RUser     *string `json:"rUser"`
		TUser     *string `json:"tUser"`
		Comment   *string `json:"comment"`
		Message   []Entry `json:"message"`
	} `json:"Value"`
}

// Parse decodes a single report or an array of reports.
func Parse(data []byte) ([]Report, error) {
	data = bytes.TrimSpace(jsonc.ToJSON(data))
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty report", domain.ErrMalformed)
	}
	var wire []wireReport
	if data[0] == '{' {
		wire = make([]wireReport, 1)
		if err := json.Unmarshal(data, &wire[0]); err != nil {
			return nil, fmt.Errorf("%w: report: %v", domain.ErrMalformed, err)
		}
	} else if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: report: %v", domain.ErrMalformed, err)
	}

	out := make([]Report, 0, len(wire))
	for _, w := range wire {
		v := w.Value
		r := Report{
			Frequency: v.Frequency,
			Title:     v.Title,
			Location:  v.Location,
			Datetime:  v.Datetime,
			Receiver:  name(v.RUser),
			Sender:    name(v.TUser),
			Entries:   v.Message,
		}
		if r.Frequency == "" {
			r.Frequency = w.Key
		}
		if v.Comment != nil {
			r.Comment = *v.Comment
		}
		out = append(out, r)
	}
	return out, nil
}

// Load parses the report file at path.
func Load(path string) ([]Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func name(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return Unknown
	}
	return *s
}

// Text renders r as a plain message body.
func (r Report) Text() string {
	var b strings.Builder
	b.WriteString(r.Title)
	b.WriteString("\n")
	b.WriteString(r.Location)
	b.WriteString("\n\n")
	b.WriteString(r.Datetime)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Receiver: %s\n", r.Receiver)
	fmt.Fprintf(&b, "Sender: %s\n\n", r.Sender)
	for _, e := range r.Entries {
		b.WriteString(strings.TrimSpace(e.Text))
		b.WriteString("\n")
	}
	b.WriteString(r.Comment)
	return b.String()
}

// Spans returns Text as a single plain span.
func (r Report) Spans() []domain.Span {
	return []domain.Span{{Text: r.Text()}}
}

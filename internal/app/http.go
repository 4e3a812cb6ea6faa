package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"tether/internal/domain"
	"tether/internal/report"
	"tether/internal/services/inbound"
	"tether/internal/services/outgoing"
)

// Draft is a rendered report waiting for an operator to send it.
type Draft struct {
	Frequency string        `json:"frequency,omitempty"`
	Text      string        `json:"text"`
	Spans     []domain.Span `json:"-"`
}

type drafts struct {
	mu    sync.Mutex
	items []Draft
}

func (d *drafts) add(ds ...Draft) {
	d.mu.Lock()
	d.items = append(d.items, ds...)
	d.mu.Unlock()
}

// take returns the held drafts and empties the box.
func (d *drafts) take() []Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.items
	d.items = nil
	return out
}

func (d *drafts) list() []Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Draft(nil), d.items...)
}

// Drafts returns the reports received while autosend was off.
func (a *App) Drafts() []Draft { return a.drafts.list() }

type sendResult struct {
	Target    string `json:"target"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

type reportsResponse struct {
	Sent   []sendResult `json:"sent,omitempty"`
	Drafts []Draft      `json:"drafts,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Handler serves the local HTTP surface: POST /ingest for encoded
// envelopes plus the operator report intake.
//
//	POST /reports  report JSON (one report or an array). With autosend the
//	               reports go to the configured category and the response
//	               lists one result per target; otherwise they are held as
//	               drafts and 202 is returned.
//	GET  /reports  the held drafts.
//	POST /reports/send?category=NAME
//	               sends the held drafts to NAME, or to the configured
//	               category, and empties the draft box.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ingest", inbound.Handler(a.Inbound, a.Log))
	mux.HandleFunc("POST /reports", a.postReports)
	mux.HandleFunc("GET /reports", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, reportsResponse{Drafts: a.Drafts()})
	})
	mux.HandleFunc("POST /reports/send", a.sendDrafts)
	return mux
}

func (a *App) postReports(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, inbound.MaxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reportsResponse{Error: err.Error()})
		return
	}
	if len(raw) > inbound.MaxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, reportsResponse{Error: "payload too large"})
		return
	}
	reports, err := report.Parse(raw)
	if err == nil && len(reports) == 0 {
		err = errors.New("no reports")
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reportsResponse{Error: err.Error()})
		return
	}

	ds := make([]Draft, 0, len(reports))
	for _, rep := range reports {
		ds = append(ds, Draft{Frequency: rep.Frequency, Text: rep.Text(), Spans: rep.Spans()})
	}
	if !a.Config.Reports.Autosend {
		a.drafts.add(ds...)
		a.Log.Info().Int("reports", len(ds)).Msg("reports held as drafts")
		writeJSON(w, http.StatusAccepted, reportsResponse{Drafts: ds})
		return
	}
	cat, _ := a.Config.Category(a.Config.Reports.Category)
	a.send(w, r, cat, ds)
}

func (a *App) sendDrafts(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("category")
	if name == "" {
		name = a.Config.Reports.Category
	}
	cat, ok := a.Config.Category(name)
	if !ok {
		writeJSON(w, http.StatusBadRequest, reportsResponse{Error: "unknown category " + strconv.Quote(name)})
		return
	}
	ds := a.drafts.take()
	if len(ds) == 0 {
		writeJSON(w, http.StatusOK, reportsResponse{})
		return
	}
	a.send(w, r, cat, ds)
}

// send submits every draft to cat and writes one result per target. Drafts
// are not put back on failure; the history records them as Failed.
func (a *App) send(w http.ResponseWriter, r *http.Request, cat outgoing.Category, ds []Draft) {
	var (
		resp   reportsResponse
		failed bool
	)
	for _, d := range ds {
		results, err := a.Outgoing.SubmitCategory(r.Context(), cat, d.Spans, d.Frequency)
		if err != nil {
			a.Log.Error().Err(err).Str("category", cat.Name).Msg("report send failed")
			writeJSON(w, http.StatusInternalServerError, reportsResponse{Sent: resp.Sent, Error: err.Error()})
			return
		}
		for _, res := range results {
			sr := sendResult{Target: res.Target.String()}
			if res.Err != nil {
				sr.Error, failed = res.Err.Error(), true
			} else {
				sr.MessageID = res.Record.Envelope.MessageID.String()
				sr.Status = res.Record.Status.String()
			}
			resp.Sent = append(resp.Sent, sr)
		}
	}
	a.Log.Info().Str("category", cat.Name).Int("reports", len(ds)).Bool("failures", failed).Msg("reports sent")
	status := http.StatusOK
	if failed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

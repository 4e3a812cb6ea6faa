package inbound

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"tether/internal/domain"
)

// MaxBodyBytes caps a payload accepted over HTTP.
const MaxBodyBytes = 4 << 20

// SenderHeader carries the transport-level sender of an HTTP payload.
const SenderHeader = "X-Tether-Sender"

type ingestResponse struct {
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler exposes svc as POST /ingest. The body is one encoded envelope.
// Requests are not authenticated: commands and messages claiming to come
// from this account are answered with 400.
func Handler(svc domain.IngestService, logger zerolog.Logger) http.Handler {
	log := logger.With().Str("component", "ingest-http").Logger()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ingestResponse{Error: err.Error()})
			return
		}
		if len(raw) > MaxBodyBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, ingestResponse{Error: "payload too large"})
			return
		}
		meta := domain.SourceMeta{Source: domain.SourceHTTP, Sender: r.Header.Get(SenderHeader)}
		outcome, err := svc.Ingest(r.Context(), raw, meta)
		switch {
		case errors.Is(err, domain.ErrMalformed), errors.Is(err, domain.ErrInvalidEnvelope):
			writeJSON(w, http.StatusBadRequest, ingestResponse{Error: err.Error()})
		case errors.Is(err, domain.ErrNotLinked):
			writeJSON(w, http.StatusConflict, ingestResponse{Error: err.Error()})
		case err != nil:
			log.Error().Err(err).Msg("ingest failed")
			writeJSON(w, http.StatusInternalServerError, ingestResponse{Error: "internal error"})
		default:
			writeJSON(w, http.StatusOK, ingestResponse{Outcome: outcome.String()})
		}
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

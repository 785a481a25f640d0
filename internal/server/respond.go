package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/engine"
)

// successEnvelope is the body shape for completed generations.
type successEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    responseMeta    `json:"meta"`
}

type responseMeta struct {
	Version   string `json:"version"`
	Cached    bool   `json:"cached"`
	LatencyMs int64  `json:"latency_ms"`
	RequestID string `json:"request_id"`
}

// errorEnvelope is the body shape for every failure, regardless of which
// layer produced it.
type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Details    *errorDetails `json:"details,omitempty"`
	RetryAfter int           `json:"retry_after,omitempty"`
}

type errorDetails struct {
	Issues []domain.Issue `json:"issues"`
}

// writeSuccess renders the success envelope and the cache indicator header.
func writeSuccess(w http.ResponseWriter, r *http.Request, resp *engine.Response) {
	cacheState := "MISS"
	if resp.Cached {
		cacheState = "HIT"
	}
	w.Header().Set("X-Cache", cacheState)

	writeJSON(w, http.StatusOK, successEnvelope{
		Success: true,
		Data:    resp.Data,
		Meta: responseMeta{
			Version:   resp.VersionLabel,
			Cached:    resp.Cached,
			LatencyMs: resp.LatencyMs,
			RequestID: GetRequestID(r.Context()),
		},
	})
}

// writeError renders the error envelope. Unclassified errors become
// sanitized INTERNAL_ERROR responses, and retry hints are mirrored into the
// Retry-After header.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	derr := domain.Classify(err)

	message := derr.Message
	if derr.Kind == domain.KindInternal {
		message = domain.SanitizeMessage(message)
	}

	body := errorBody{
		Code:    string(derr.Kind),
		Message: message,
	}
	if len(derr.Issues) > 0 {
		body.Details = &errorDetails{Issues: derr.Issues}
	}
	if derr.Retryable() && derr.RetryAfterSeconds > 0 {
		body.RetryAfter = derr.RetryAfterSeconds
		w.Header().Set("Retry-After", strconv.Itoa(derr.RetryAfterSeconds))
	}

	writeJSON(w, derr.HTTPStatus(), errorEnvelope{Success: false, Error: body})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

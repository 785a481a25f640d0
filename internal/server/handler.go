package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/engine"
)

const cacheBypassHeader = "X-Cache-Bypass"

// GenerateHandler serves POST /v1/{environment}/processes/{processID}/generate.
type GenerateHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewGenerateHandler wires the generate endpoint to the pipeline engine.
func NewGenerateHandler(eng *engine.Engine, logger *slog.Logger) *GenerateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateHandler{engine: eng, logger: logger}
}

func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authCtx := GetAuthContext(ctx)
	if authCtx == nil {
		// Routing misconfiguration: the generate route must sit behind
		// AuthMiddleware.
		writeError(w, r, domain.ErrInternal("request reached handler without authorization"))
		return
	}

	processID := chi.URLParam(r, "processID")
	AddLogField(ctx, "process_id", processID)

	input, err := decodeGenerateBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.engine.Execute(ctx, &engine.Request{
		Auth:        authCtx,
		ProcessID:   processID,
		Environment: authCtx.Environment,
		Input:       input,
		RequestID:   GetRequestID(ctx),
		CacheBypass: cacheBypassRequested(r),
	})
	if err != nil {
		AddError(ctx, err)
		writeError(w, r, err)
		return
	}

	writeSuccess(w, r, resp)
}

// decodeGenerateBody parses the request body, which must be a JSON object
// with an "input" key holding an object.
func decodeGenerateBody(r *http.Request) (map[string]any, error) {
	var body struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, domain.ErrBadRequest("request body is not a valid JSON object")
	}
	if len(body.Input) == 0 || string(body.Input) == "null" {
		return nil, domain.ErrBadRequest(`request body must include an "input" object`)
	}

	var input map[string]any
	if err := json.Unmarshal(body.Input, &input); err != nil {
		return nil, domain.ErrBadRequest(`"input" must be a JSON object`)
	}
	return input, nil
}

// cacheBypassRequested reports whether the caller asked to skip the cache
// lookup. Accepted values are "true" and "1".
func cacheBypassRequested(r *http.Request) bool {
	switch strings.ToLower(r.Header.Get(cacheBypassHeader)) {
	case "true", "1":
		return true
	}
	return false
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/schemaforge/schemaforge/internal/auth"
	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// errEnvelope mirrors the error body shape for assertions.
type errEnvelope struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details *struct {
			Issues []domain.Issue `json:"issues"`
		} `json:"details"`
		RetryAfter int `json:"retry_after"`
	} `json:"error"`
}

func decodeErrEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errEnvelope {
	t.Helper()
	var env errEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("error body is not valid JSON: %v\n%s", err, rec.Body.String())
	}
	if env.Success {
		t.Error("error envelope has success = true")
	}
	return env
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured == "" {
		t.Fatal("request ID missing from context")
	}
	if _, err := uuid.Parse(captured); err != nil {
		t.Errorf("request ID %q is not a UUID: %v", captured, err)
	}
	if got := rec.Header().Get("X-Request-ID"); got != captured {
		t.Errorf("X-Request-ID header = %q, want %q", got, captured)
	}
}

func TestRequestIDMiddleware_HonorsInboundID(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-upstream-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured != "req-upstream-7" {
		t.Errorf("request ID = %q, want req-upstream-7", captured)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-upstream-7" {
		t.Errorf("X-Request-ID header = %q, want req-upstream-7", got)
	}
}

func TestGetRequestID_MissingReturnsEmpty(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID on bare context = %q, want empty", got)
	}
}

func TestLoggingMiddleware_EmitsCompletionLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestIDMiddleware(LoggingMiddleware(logger)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			AddLogField(r.Context(), "tenant_id", "tenant-a")
			AddError(r.Context(), errors.New("boom"))
			w.WriteHeader(http.StatusBadGateway)
		})))

	req := httptest.NewRequest(http.MethodPost, "/v1/sandbox/processes/p1/generate", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "request completed" {
		t.Errorf("msg = %v, want request completed", entry["msg"])
	}
	if entry["method"] != http.MethodPost {
		t.Errorf("method = %v, want POST", entry["method"])
	}
	if entry["path"] != "/v1/sandbox/processes/p1/generate" {
		t.Errorf("path = %v", entry["path"])
	}
	if entry["status"] != float64(http.StatusBadGateway) {
		t.Errorf("status = %v, want 502", entry["status"])
	}
	if entry["tenant_id"] != "tenant-a" {
		t.Errorf("tenant_id = %v, want tenant-a", entry["tenant_id"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
	if entry["request_id"] == "" {
		t.Error("request_id missing from log line")
	}
}

func TestLoggingMiddleware_DefaultsStatusTo200(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
}

func TestAddLogField_NoMiddlewareIsNoop(t *testing.T) {
	// Must not panic without the middleware's fields map in context.
	AddLogField(context.Background(), "key", "value")
	AddError(context.Background(), errors.New("boom"))
}

func TestTimeoutMiddleware_CancelsSlowHandlers(t *testing.T) {
	handler := TimeoutMiddleware(10*time.Millisecond)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
				w.WriteHeader(http.StatusGatewayTimeout)
			case <-time.After(2 * time.Second):
				w.WriteHeader(http.StatusOK)
			}
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want handler to observe cancellation", rec.Code)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := TimeoutMiddleware(5*time.Second)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_, hasDeadline = r.Context().Deadline()
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !hasDeadline {
		t.Error("request context has no deadline")
	}
}

// seedCredential mints a sandbox secret and stores its credential row.
func seedCredential(t *testing.T, store *memory.Store, tenantID string, env domain.Environment) string {
	t.Helper()
	secret, hash, prefix, err := auth.NewSecret(env)
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	err = store.CreateCredential(context.Background(), &domain.Credential{
		ID:          "cred-" + string(env),
		TenantID:    tenantID,
		Environment: env,
		SecretHash:  hash,
		KeyPrefix:   prefix,
		Scopes:      domain.Scopes{domain.ScopeAllProcesses},
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	return secret
}

func authedChain(authorizer *auth.Authorizer, next http.Handler) http.Handler {
	return RequestIDMiddleware(AuthMiddleware(authorizer)(next))
}

func TestAuthMiddleware_ValidCredential(t *testing.T) {
	store := memory.New()
	secret := seedCredential(t, store, "tenant-a", domain.EnvSandbox)
	authorizer := auth.NewAuthorizer(store, discardLogger())

	var captured *domain.AuthContext
	handler := authedChain(authorizer, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			captured = GetAuthContext(r.Context())
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/sandbox/processes/p1/generate", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if captured == nil {
		t.Fatal("auth context missing downstream of middleware")
	}
	if captured.TenantID != "tenant-a" {
		t.Errorf("TenantID = %q, want tenant-a", captured.TenantID)
	}
	if captured.Environment != domain.EnvSandbox {
		t.Errorf("Environment = %q, want sandbox", captured.Environment)
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	authorizer := auth.NewAuthorizer(memory.New(), discardLogger())
	handler := authedChain(authorizer, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler must not run without a credential")
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/sandbox/processes/p1/generate", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	env := decodeErrEnvelope(t, rec)
	if env.Error.Code != "UNAUTHORIZED" {
		t.Errorf("code = %q, want UNAUTHORIZED", env.Error.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("error responses must still carry X-Request-ID")
	}
}

func TestAuthMiddleware_WrongScheme(t *testing.T) {
	authorizer := auth.NewAuthorizer(memory.New(), discardLogger())
	handler := authedChain(authorizer, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler must not run")
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/sandbox/processes/p1/generate", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware_UnknownCredential(t *testing.T) {
	authorizer := auth.NewAuthorizer(memory.New(), discardLogger())
	handler := authedChain(authorizer, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler must not run")
		}))

	secret, _, _, err := auth.NewSecret(domain.EnvSandbox)
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/sandbox/processes/p1/generate", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	env := decodeErrEnvelope(t, rec)
	if env.Error.Code != "UNAUTHORIZED" {
		t.Errorf("code = %q, want UNAUTHORIZED", env.Error.Code)
	}
}

func TestAuthMiddleware_EnvironmentMismatch(t *testing.T) {
	store := memory.New()
	secret := seedCredential(t, store, "tenant-a", domain.EnvSandbox)
	authorizer := auth.NewAuthorizer(store, discardLogger())

	handler := authedChain(authorizer, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("sandbox credential must not reach a production path")
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/production/processes/p1/generate", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	env := decodeErrEnvelope(t, rec)
	if env.Error.Code != "FORBIDDEN" {
		t.Errorf("code = %q, want FORBIDDEN", env.Error.Code)
	}
}

func TestAuthMiddleware_MismatchIgnoresHeaders(t *testing.T) {
	store := memory.New()
	secret := seedCredential(t, store, "tenant-a", domain.EnvSandbox)
	authorizer := auth.NewAuthorizer(store, discardLogger())

	handler := authedChain(authorizer, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("environment guard must not be header-bypassable")
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/production/processes/p1/generate", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("X-Environment", "sandbox")
	req.Header.Set("X-Forwarded-Path", "/v1/sandbox/processes/p1/generate")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAuthMiddleware_UnknownEnvironmentSegment(t *testing.T) {
	store := memory.New()
	secret := seedCredential(t, store, "tenant-a", domain.EnvSandbox)
	authorizer := auth.NewAuthorizer(store, discardLogger())

	handler := authedChain(authorizer, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler must not run for an unknown environment")
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/staging/processes/p1/generate", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	env := decodeErrEnvelope(t, rec)
	if env.Error.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", env.Error.Code)
	}
}

func TestGetAuthContext_MissingReturnsNil(t *testing.T) {
	if got := GetAuthContext(context.Background()); got != nil {
		t.Errorf("GetAuthContext on bare context = %+v, want nil", got)
	}
}

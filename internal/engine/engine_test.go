package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schemaforge/schemaforge/internal/backend"
	"github.com/schemaforge/schemaforge/internal/breaker"
	"github.com/schemaforge/schemaforge/internal/cache"
	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/records"
	"github.com/schemaforge/schemaforge/internal/resolve"
	"github.com/schemaforge/schemaforge/internal/storage/memory"
)

const (
	testTenant  = "tenant-a"
	testProcess = "proc-copy"
)

var inputSchemaJSON = json.RawMessage(`{
	"type": "object",
	"properties": {
		"productName": {"type": "string"},
		"category": {"type": "string"}
	},
	"required": ["productName", "category"]
}`)

var outputSchemaJSON = json.RawMessage(`{
	"type": "object",
	"properties": {
		"tagline": {"type": "string"},
		"confidence": {"type": "number"}
	},
	"required": ["tagline"]
}`)

type fakeReply struct {
	text string
	err  error
}

// fakeGenerator replays scripted replies; the last reply repeats once the
// script runs out.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   []backend.GenerationRequest
	replies []fakeReply
}

func (f *fakeGenerator) Generate(_ context.Context, req *backend.GenerationRequest) (*backend.GenerationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, *req)

	reply := fakeReply{text: `{"tagline": "Default tagline"}`}
	if len(f.replies) > 0 {
		reply = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &backend.GenerationResult{
		Text:             reply.text,
		Model:            req.Model,
		PromptTokens:     184,
		CompletionTokens: 21,
	}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGenerator) call(i int) backend.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type spyMetrics struct {
	mu           sync.Mutex
	hits         int
	misses       int
	bypasses     int
	saveFailures int
	generations  map[string]int
}

func newSpyMetrics() *spyMetrics {
	return &spyMetrics{generations: make(map[string]int)}
}

func (s *spyMetrics) IncCacheHit(string)  { s.mu.Lock(); s.hits++; s.mu.Unlock() }
func (s *spyMetrics) IncCacheMiss(string) { s.mu.Lock(); s.misses++; s.mu.Unlock() }
func (s *spyMetrics) IncCacheBypass(string) {
	s.mu.Lock()
	s.bypasses++
	s.mu.Unlock()
}
func (s *spyMetrics) IncCacheSaveFailure(string) {
	s.mu.Lock()
	s.saveFailures++
	s.mu.Unlock()
}
func (s *spyMetrics) IncGeneration(_, status string) {
	s.mu.Lock()
	s.generations[status]++
	s.mu.Unlock()
}
func (s *spyMetrics) ObserveGenerationDuration(string, float64) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fixture struct {
	engine *Engine
	store  *memory.Store
	gen    *fakeGenerator
	spy    *spyMetrics
	rec    *records.Recorder
}

func newFixture(t *testing.T, gen *fakeGenerator) *fixture {
	t.Helper()
	store := memory.New()
	spy := newSpyMetrics()
	rec := records.New(store, discardLogger())
	eng := New(Deps{
		Resolver:  resolve.New(store),
		Cache:     cache.NewMemory(),
		Breaker:   breaker.New("openai", 3, 30*time.Second),
		Generator: gen,
		Recorder:  rec,
		Metrics:   spy,
		Logger:    discardLogger(),
	})
	return &fixture{engine: eng, store: store, gen: gen, spy: spy, rec: rec}
}

func defaultConfig() domain.VersionConfig {
	return domain.VersionConfig{
		SystemPrompt:    "You write product copy.",
		Goal:            "Write a tagline for the product.",
		Model:           "gpt-4o-mini",
		MaxTokens:       256,
		Temperature:     0.7,
		CacheTTLSeconds: 300,
		CacheEnabled:    true,
		FieldNotes:      map[string]string{"tagline": "under ten words"},
	}
}

func seedProcess(t *testing.T, store *memory.Store, cfg domain.VersionConfig, inputSchema, outputSchema json.RawMessage) {
	t.Helper()
	ctx := context.Background()
	err := store.CreateProcess(ctx, &domain.Process{
		ID:           testProcess,
		TenantID:     testTenant,
		Name:         "product copy",
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	err = store.CreateVersion(ctx, &domain.ProcessVersion{
		ID:          "ver-1",
		ProcessID:   testProcess,
		Environment: domain.EnvSandbox,
		Status:      domain.StatusSandbox,
		Label:       "1.2.0",
		Config:      cfg,
	})
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
}

func sandboxRequest(input map[string]any) *Request {
	return &Request{
		Auth: &domain.AuthContext{
			CredentialID: "cred-1",
			TenantID:     testTenant,
			Environment:  domain.EnvSandbox,
			Scopes:       domain.Scopes{domain.ScopeAllProcesses},
		},
		ProcessID:   testProcess,
		Environment: domain.EnvSandbox,
		Input:       input,
		RequestID:   "req-test",
	}
}

func validInput() map[string]any {
	return map[string]any{"productName": "Alpine Seltzer", "category": "beverage"}
}

func wantKind(t *testing.T, err error, kind domain.ErrorKind) *domain.Error {
	t.Helper()
	derr, ok := domain.AsError(err)
	if !ok {
		t.Fatalf("error = %v, want *domain.Error of kind %s", err, kind)
	}
	if derr.Kind != kind {
		t.Fatalf("error kind = %s (%s), want %s", derr.Kind, derr.Message, kind)
	}
	return derr
}

func TestExecute_Success(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `{"tagline": "Fresh mountain air in every sip", "confidence": 0.9}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)

	resp, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if resp.Cached {
		t.Error("first request should not be served from cache")
	}
	if resp.VersionLabel != "1.2.0" {
		t.Errorf("VersionLabel = %q, want 1.2.0", resp.VersionLabel)
	}
	if resp.LatencyMs < 0 {
		t.Errorf("LatencyMs = %d, want >= 0", resp.LatencyMs)
	}

	var data map[string]any
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("response data is not JSON: %v", err)
	}
	if data["tagline"] != "Fresh mountain air in every sip" {
		t.Errorf("tagline = %v", data["tagline"])
	}
	if gen.callCount() != 1 {
		t.Errorf("backend calls = %d, want 1", gen.callCount())
	}
}

func TestExecute_PromptCarriesConfigAndInput(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `{"tagline": "ok"}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)

	_, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	call := gen.call(0)
	if call.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", call.Model)
	}
	if call.MaxTokens != 256 || call.Temperature != 0.7 {
		t.Errorf("MaxTokens/Temperature = %d/%v", call.MaxTokens, call.Temperature)
	}
	if call.SystemPrompt != "You write product copy." {
		t.Errorf("SystemPrompt = %q", call.SystemPrompt)
	}
	for _, want := range []string{
		"Write a tagline for the product.",
		"tagline: under ten words",
		"matching this schema",
		`"tagline": string`,
		"Alpine Seltzer",
	} {
		if !strings.Contains(call.UserPrompt, want) {
			t.Errorf("user prompt missing %q\n%s", want, call.UserPrompt)
		}
	}
}

func TestExecute_SecondIdenticalRequestIsCacheHit(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `{"tagline": "Fresh mountain air"}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)

	first, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	second, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}

	if first.Cached {
		t.Error("first request should be a miss")
	}
	if !second.Cached {
		t.Error("second request should be a hit")
	}
	if string(first.Data) != string(second.Data) {
		t.Errorf("cached payload differs: %s vs %s", first.Data, second.Data)
	}
	if gen.callCount() != 1 {
		t.Errorf("backend calls = %d, want 1", gen.callCount())
	}
	if fx.spy.hits != 1 || fx.spy.misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", fx.spy.hits, fx.spy.misses)
	}
}

func TestExecute_ZeroTTLDisablesCaching(t *testing.T) {
	gen := &fakeGenerator{}
	fx := newFixture(t, gen)
	cfg := defaultConfig()
	cfg.CacheTTLSeconds = 0
	seedProcess(t, fx.store, cfg, inputSchemaJSON, outputSchemaJSON)

	for i := 0; i < 2; i++ {
		resp, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))
		if err != nil {
			t.Fatalf("Execute() #%d error = %v", i+1, err)
		}
		if resp.Cached {
			t.Errorf("request #%d should not be cached", i+1)
		}
	}
	if gen.callCount() != 2 {
		t.Errorf("backend calls = %d, want 2", gen.callCount())
	}
	if fx.spy.hits != 0 || fx.spy.misses != 0 {
		t.Errorf("cache counters moved despite disabled caching: hits=%d misses=%d", fx.spy.hits, fx.spy.misses)
	}
}

func TestExecute_BypassSkipsLookupButRefreshesEntry(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `{"tagline": "first"}`},
		{text: `{"tagline": "second"}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)
	ctx := context.Background()

	if _, err := fx.engine.Execute(ctx, sandboxRequest(validInput())); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}

	bypass := sandboxRequest(validInput())
	bypass.CacheBypass = true
	fresh, err := fx.engine.Execute(ctx, bypass)
	if err != nil {
		t.Fatalf("bypass Execute() error = %v", err)
	}
	if fresh.Cached {
		t.Error("bypassed request should not be served from cache")
	}
	if gen.callCount() != 2 {
		t.Fatalf("backend calls = %d, want 2", gen.callCount())
	}

	// The bypassed result replaced the entry.
	third, err := fx.engine.Execute(ctx, sandboxRequest(validInput()))
	if err != nil {
		t.Fatalf("third Execute() error = %v", err)
	}
	if !third.Cached {
		t.Error("third request should be a hit")
	}
	if !strings.Contains(string(third.Data), "second") {
		t.Errorf("cache should hold the refreshed payload, got %s", third.Data)
	}
	if gen.callCount() != 2 {
		t.Errorf("backend calls = %d, want 2", gen.callCount())
	}
	if fx.spy.bypasses != 1 {
		t.Errorf("bypass counter = %d, want 1", fx.spy.bypasses)
	}
}

func TestExecute_InputValidationFailure(t *testing.T) {
	gen := &fakeGenerator{}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)

	_, err := fx.engine.Execute(context.Background(), sandboxRequest(map[string]any{
		"productName": "Widget",
	}))

	derr := wantKind(t, err, domain.KindValidation)
	if len(derr.Issues) != 1 {
		t.Fatalf("issues = %d, want 1 (%v)", len(derr.Issues), derr.Issues)
	}
	if derr.Issues[0].PathString() != "category" {
		t.Errorf("issue path = %q, want category", derr.Issues[0].PathString())
	}
	if gen.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0", gen.callCount())
	}
}

func TestExecute_NoInputSchemaSkipsValidation(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `{"tagline": "ok"}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), nil, outputSchemaJSON)

	_, err := fx.engine.Execute(context.Background(), sandboxRequest(map[string]any{
		"anything": map[string]any{"goes": true},
	}))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(gen.call(0).UserPrompt, "anything") {
		t.Error("unvalidated input should pass through to the prompt")
	}
}

func TestExecute_RetriesOnceThenSucceeds(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `this is not json`},
		{text: `{"tagline": "Fixed on retry"}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)

	resp, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gen.callCount() != 2 {
		t.Fatalf("backend calls = %d, want 2", gen.callCount())
	}
	if !strings.Contains(string(resp.Data), "Fixed on retry") {
		t.Errorf("Data = %s", resp.Data)
	}

	corrective := gen.call(1).UserPrompt
	for _, want := range []string{
		"Your previous response was rejected",
		"this is not json",
		"Problems:",
		"Return a corrected response",
	} {
		if !strings.Contains(corrective, want) {
			t.Errorf("corrective prompt missing %q", want)
		}
	}
}

func TestExecute_RetryOnValidationFailureCarriesIssues(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `{"confidence": 0.4}`},
		{text: `{"tagline": "Now present"}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)

	_, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(gen.call(1).UserPrompt, "tagline") {
		t.Error("corrective prompt should name the failing field")
	}
}

func TestExecute_TwoValidationFailuresAreTerminal(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `{"confidence": 0.4}`},
		{text: `{"confidence": 0.5}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)

	_, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))

	derr := wantKind(t, err, domain.KindOutputValidation)
	if len(derr.Issues) == 0 {
		t.Error("expected at least one field-level issue")
	}
	if gen.callCount() != 2 {
		t.Errorf("backend calls = %d, want 2", gen.callCount())
	}
}

func TestExecute_TwoParseFailuresWithoutSchema(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `not json`},
		{text: `still not json`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, nil)

	_, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))

	wantKind(t, err, domain.KindOutputParse)
	if gen.callCount() != 2 {
		t.Errorf("backend calls = %d, want 2", gen.callCount())
	}
}

func TestExecute_ParseFailureWithSchemaIsValidationKind(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `not json`},
		{text: `not json either`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)

	_, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))

	derr := wantKind(t, err, domain.KindOutputValidation)
	if len(derr.Issues) == 0 || !strings.Contains(derr.Issues[0].Message, "not valid JSON") {
		t.Errorf("issues = %v, want a root parse issue", derr.Issues)
	}
}

func TestExecute_FencedOutputIsAccepted(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: "```json\n{\"tagline\": \"Fenced but fine\"}\n```"},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)

	resp, err := fx.engine.Execute(context.Background(), sandboxRequest(validInput()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gen.callCount() != 1 {
		t.Errorf("backend calls = %d, want 1 (fence should not burn the retry)", gen.callCount())
	}
	if !strings.Contains(string(resp.Data), "Fenced but fine") {
		t.Errorf("Data = %s", resp.Data)
	}
}

func TestExecute_FailedGenerationIsNotCached(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `not json`},
		{text: `not json`},
		{text: `{"tagline": "recovered"}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, nil)
	ctx := context.Background()

	if _, err := fx.engine.Execute(ctx, sandboxRequest(validInput())); err == nil {
		t.Fatal("expected terminal output error")
	}

	resp, err := fx.engine.Execute(ctx, sandboxRequest(validInput()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Cached {
		t.Error("failed generation must not poison the cache")
	}
	if gen.callCount() != 3 {
		t.Errorf("backend calls = %d, want 3", gen.callCount())
	}
}

func TestExecute_BackendErrorsPropagateAndOpenBreaker(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{err: domain.ErrLLMTimeout("generation backend timed out after 30s", 5)},
	}}
	fx := newFixture(t, gen)
	cfg := defaultConfig()
	cfg.CacheEnabled = false
	seedProcess(t, fx.store, cfg, inputSchemaJSON, outputSchemaJSON)
	ctx := context.Background()

	// Threshold is 3; each failing request makes exactly one backend call.
	for i := 0; i < 3; i++ {
		_, err := fx.engine.Execute(ctx, sandboxRequest(validInput()))
		derr := wantKind(t, err, domain.KindLLMTimeout)
		if derr.RetryAfterSeconds != 5 {
			t.Errorf("retry_after = %d, want 5", derr.RetryAfterSeconds)
		}
	}
	if gen.callCount() != 3 {
		t.Fatalf("backend calls = %d, want 3", gen.callCount())
	}

	// The breaker is open: rejected before reaching the backend.
	_, err := fx.engine.Execute(ctx, sandboxRequest(validInput()))
	derr := wantKind(t, err, domain.KindLLMError)
	if derr.RetryAfterSeconds < 1 || derr.RetryAfterSeconds > 30 {
		t.Errorf("retry_after = %d, want within (0, 30]", derr.RetryAfterSeconds)
	}
	if gen.callCount() != 3 {
		t.Errorf("backend calls = %d, want still 3", gen.callCount())
	}
}

func TestExecute_ResolutionErrors(t *testing.T) {
	gen := &fakeGenerator{}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)

	t.Run("unknown process", func(t *testing.T) {
		req := sandboxRequest(validInput())
		req.ProcessID = "proc-missing"
		// Wildcard scope passes the scope gate; the lookup fails.
		_, err := fx.engine.Execute(context.Background(), req)
		wantKind(t, err, domain.KindNotFound)
	})

	t.Run("empty scopes", func(t *testing.T) {
		req := sandboxRequest(validInput())
		req.Auth.Scopes = domain.Scopes{}
		_, err := fx.engine.Execute(context.Background(), req)
		wantKind(t, err, domain.KindForbidden)
	})

	if gen.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0", gen.callCount())
	}
}

func TestExecute_WritesCallRecords(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `{"tagline": "ok"}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)
	ctx := context.Background()

	if _, err := fx.engine.Execute(ctx, sandboxRequest(validInput())); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := fx.rec.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	recs := fx.store.CallRecords()
	if len(recs) != 1 {
		t.Fatalf("call records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != "ok" || rec.ErrorCode != "" {
		t.Errorf("Status/ErrorCode = %q/%q", rec.Status, rec.ErrorCode)
	}
	if rec.VersionLabel != "1.2.0" || rec.RequestID != "req-test" {
		t.Errorf("VersionLabel/RequestID = %q/%q", rec.VersionLabel, rec.RequestID)
	}
	if rec.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", rec.Attempts)
	}
	if rec.Cached {
		t.Error("first request should record Cached=false")
	}
	if rec.PromptTokens == 0 {
		t.Error("PromptTokens should be recorded")
	}
}

func TestExecute_RecordsErrorOutcome(t *testing.T) {
	gen := &fakeGenerator{}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)
	ctx := context.Background()

	_, err := fx.engine.Execute(ctx, sandboxRequest(map[string]any{"productName": "Widget"}))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if err := fx.rec.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	recs := fx.store.CallRecords()
	if len(recs) != 1 {
		t.Fatalf("call records = %d, want 1", len(recs))
	}
	if recs[0].Status != "error" || recs[0].ErrorCode != "VALIDATION_ERROR" {
		t.Errorf("Status/ErrorCode = %q/%q", recs[0].Status, recs[0].ErrorCode)
	}
	if recs[0].Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", recs[0].Attempts)
	}
}

func TestExecute_CachedResponseSkipsBackend(t *testing.T) {
	gen := &fakeGenerator{replies: []fakeReply{
		{text: `{"tagline": "cache me"}`},
	}}
	fx := newFixture(t, gen)
	seedProcess(t, fx.store, defaultConfig(), inputSchemaJSON, outputSchemaJSON)
	ctx := context.Background()

	if _, err := fx.engine.Execute(ctx, sandboxRequest(validInput())); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, err := fx.engine.Execute(ctx, sandboxRequest(validInput())); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := fx.rec.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var hit *domain.CallRecord
	for _, rec := range fx.store.CallRecords() {
		if rec.Cached {
			hit = rec
		}
	}
	if hit == nil {
		t.Fatal("expected a cached call record")
	}
	if hit.Attempts != 0 {
		t.Errorf("cached record Attempts = %d, want 0", hit.Attempts)
	}
	if hit.Status != "ok" {
		t.Errorf("cached record Status = %q, want ok", hit.Status)
	}
}

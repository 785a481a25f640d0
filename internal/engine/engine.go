// Package engine orchestrates the generate pipeline: process resolution,
// input validation, the cache, the breaker-guarded backend call, output
// validation with one corrective retry, and call recording.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/schemaforge/schemaforge/internal/backend"
	"github.com/schemaforge/schemaforge/internal/breaker"
	"github.com/schemaforge/schemaforge/internal/cache"
	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/metrics"
	"github.com/schemaforge/schemaforge/internal/records"
	"github.com/schemaforge/schemaforge/internal/resolve"
	"github.com/schemaforge/schemaforge/internal/schema"
	"github.com/schemaforge/schemaforge/internal/tokens"
)

// inputValidationBudget is the advisory latency ceiling for input validation.
// Exceeding it logs a warning, never fails the request.
const inputValidationBudget = 10 * time.Millisecond

// Request is one authorized generate call.
type Request struct {
	Auth        *domain.AuthContext
	ProcessID   string
	Environment domain.Environment
	Input       map[string]any
	RequestID   string

	// CacheBypass skips the cache lookup but not the save, so a bypassed
	// request still refreshes the entry it regenerates.
	CacheBypass bool
}

// Response is the pipeline outcome the handler wraps in an envelope.
type Response struct {
	Data         json.RawMessage
	VersionLabel string
	Cached       bool
	LatencyMs    int64
}

// Deps are the engine's collaborators, constructed once at startup and
// injected. Cache may be nil to disable caching entirely; Recorder may be
// nil when call history is not wired.
type Deps struct {
	Resolver  *resolve.Resolver
	Schemas   *schema.Cache
	Cache     cache.Store
	Breaker   *breaker.Breaker
	Generator backend.Generator
	Tokens    *tokens.Registry
	Recorder  *records.Recorder
	Metrics   metrics.Metrics
	Logger    *slog.Logger
}

// Engine executes generate requests end to end.
type Engine struct {
	resolver  *resolve.Resolver
	schemas   *schema.Cache
	cache     cache.Store
	breaker   *breaker.Breaker
	generator backend.Generator
	tokens    *tokens.Registry
	recorder  *records.Recorder
	metrics   metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	now func() time.Time
}

func New(deps Deps) *Engine {
	if deps.Schemas == nil {
		deps.Schemas = schema.NewCache(0)
	}
	if deps.Breaker == nil {
		deps.Breaker = breaker.New("backend", 0, 0)
	}
	if deps.Tokens == nil {
		deps.Tokens = tokens.NewRegistry()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		resolver:  deps.Resolver,
		schemas:   deps.Schemas,
		cache:     deps.Cache,
		breaker:   deps.Breaker,
		generator: deps.Generator,
		tokens:    deps.Tokens,
		recorder:  deps.Recorder,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		tracer:    otel.Tracer("schemaforge/engine"),
		now:       time.Now,
	}
}

// execution accumulates per-request facts for the response, the metrics,
// and the call record.
type execution struct {
	req *Request

	process *domain.Process
	version *domain.ProcessVersion

	payload      json.RawMessage
	cached       bool
	promptTokens int
	attempts     int
}

// Execute runs the pipeline for one request. The returned error is always a
// *domain.Error after Classify, so handlers can map it directly.
func (e *Engine) Execute(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := e.tracer.Start(ctx, "engine.generate", trace.WithAttributes(
		attribute.String("tenant.id", req.Auth.TenantID),
		attribute.String("process.id", req.ProcessID),
		attribute.String("environment", string(req.Environment)),
	))
	defer span.End()

	start := e.now()
	ex := &execution{req: req}
	err := e.run(ctx, ex)
	latencyMs := e.now().Sub(start).Milliseconds()

	env := string(req.Environment)
	status := "ok"
	errorCode := ""
	if err != nil {
		derr := domain.Classify(err)
		status = "error"
		errorCode = string(derr.Kind)
		err = derr
		span.SetAttributes(attribute.String("error.kind", errorCode))
		e.metrics.IncGeneration(env, errorCode)
	} else {
		span.SetAttributes(attribute.Bool("cache.hit", ex.cached))
		e.metrics.IncGeneration(env, "ok")
	}
	e.metrics.ObserveGenerationDuration(env, float64(latencyMs)/1000)

	label := ""
	if ex.version != nil {
		label = ex.version.Label
	}
	e.recorder.Record(&domain.CallRecord{
		TenantID:     req.Auth.TenantID,
		ProcessID:    req.ProcessID,
		VersionLabel: label,
		Environment:  req.Environment,
		RequestID:    req.RequestID,
		Status:       status,
		ErrorCode:    errorCode,
		Cached:       ex.cached,
		LatencyMs:    latencyMs,
		PromptTokens: ex.promptTokens,
		Attempts:     ex.attempts,
	})

	if err != nil {
		return nil, err
	}
	return &Response{
		Data:         ex.payload,
		VersionLabel: label,
		Cached:       ex.cached,
		LatencyMs:    latencyMs,
	}, nil
}

func (e *Engine) run(ctx context.Context, ex *execution) error {
	req := ex.req

	process, version, err := e.resolver.Resolve(ctx, req.Auth.TenantID, req.ProcessID, req.Environment, req.Auth.Scopes)
	if err != nil {
		return err
	}
	ex.process = process
	ex.version = version

	input, err := e.validateInput(process, req.Input)
	if err != nil {
		return err
	}

	cfg := version.Config
	useCache := e.cache != nil && cfg.CacheEnabled && cfg.CacheTTL() > 0

	var key cache.Key
	if useCache {
		key, err = cache.NewKey(req.Auth.TenantID, process.ID, input)
		if err != nil {
			return fmt.Errorf("failed to derive cache key: %w", err)
		}

		if req.CacheBypass {
			e.metrics.IncCacheBypass(string(req.Environment))
		} else {
			entry, found, lookupErr := e.cache.Lookup(ctx, key)
			if lookupErr != nil {
				// An unreachable cache degrades to a miss.
				e.logger.Warn("cache lookup failed",
					slog.String("key", key.String()),
					slog.String("error", lookupErr.Error()),
				)
			}
			if found {
				e.metrics.IncCacheHit(string(req.Environment))
				ex.payload = entry.Payload
				ex.cached = true
				return nil
			}
			e.metrics.IncCacheMiss(string(req.Environment))
		}
	}

	payload, err := e.generate(ctx, ex, process, version, input)
	if err != nil {
		return err
	}
	ex.payload = payload

	if useCache {
		now := e.now()
		entry := &cache.Entry{
			Payload:   payload,
			Version:   version.Label,
			CreatedAt: now,
			ExpiresAt: now.Add(cfg.CacheTTL()),
		}
		if saveErr := e.cache.Save(ctx, key, entry, cfg.CacheTTL()); saveErr != nil {
			e.metrics.IncCacheSaveFailure(string(req.Environment))
			e.logger.Error("failed to save cache entry",
				slog.String("key", key.String()),
				slog.String("error", saveErr.Error()),
			)
		}
	}

	return nil
}

// validateInput applies the process input schema, collecting every issue.
// Processes without a schema pass input through untouched.
func (e *Engine) validateInput(process *domain.Process, input map[string]any) (any, error) {
	if len(process.InputSchema) == 0 {
		return input, nil
	}

	compiled, err := e.schemas.Compile(process.InputSchema)
	if err != nil {
		e.logger.Error("stored input schema does not compile",
			slog.String("process_id", process.ID),
			slog.String("error", err.Error()),
		)
		return nil, domain.ErrInternal("process input schema is invalid")
	}

	started := e.now()
	coerced, issues := compiled.Validate(input)
	if elapsed := e.now().Sub(started); elapsed > inputValidationBudget {
		e.logger.Warn("input validation exceeded budget",
			slog.String("process_id", process.ID),
			slog.Duration("elapsed", elapsed),
		)
	}

	if len(issues) > 0 {
		return nil, domain.ErrValidation("input failed schema validation", issues)
	}
	return coerced, nil
}

// generate runs the backend call and output validation, with exactly one
// corrective retry when the first attempt's output is rejected.
func (e *Engine) generate(ctx context.Context, ex *execution, process *domain.Process, version *domain.ProcessVersion, input any) (json.RawMessage, error) {
	cfg := version.Config

	var outSchema *schema.Schema
	schemaText := ""
	if len(process.OutputSchema) > 0 {
		compiled, err := e.schemas.Compile(process.OutputSchema)
		if err != nil {
			e.logger.Error("stored output schema does not compile",
				slog.String("process_id", process.ID),
				slog.String("error", err.Error()),
			)
			return nil, domain.ErrInternal("process output schema is invalid")
		}
		outSchema = compiled
		schemaText = compiled.Describe()
	}

	spec := backend.PromptSpec{
		SystemPrompt: cfg.SystemPrompt,
		Goal:         cfg.Goal,
		FieldNotes:   cfg.FieldNotes,
		SchemaText:   schemaText,
		Input:        input,
	}

	system, user, err := backend.BuildPrompt(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}
	ex.promptTokens = e.tokens.CountPrompt(cfg.Model, system, user)

	result, err := e.callBackend(ctx, cfg, system, user, ex)
	if err != nil {
		return nil, err
	}
	ex.attempts = 1

	res := checkOutput(outSchema, result.Text)
	if res.ok {
		return res.payload, nil
	}

	e.logger.Info("backend output rejected, retrying once",
		slog.String("process_id", process.ID),
		slog.Int("issues", len(res.issues)),
	)

	system, user, err = backend.BuildCorrectivePrompt(spec, result.Text, res.issues)
	if err != nil {
		return nil, fmt.Errorf("failed to build corrective prompt: %w", err)
	}

	result, err = e.callBackend(ctx, cfg, system, user, ex)
	if err != nil {
		return nil, err
	}
	ex.attempts = 2

	res = checkOutput(outSchema, result.Text)
	if res.ok {
		return res.payload, nil
	}

	if outSchema == nil {
		return nil, domain.ErrOutputParse("generation output was not valid JSON after one retry")
	}
	return nil, domain.ErrOutputValidation("generation output failed schema validation after one retry", res.issues)
}

// callBackend consults the breaker, makes one generation call, and feeds the
// outcome back into the breaker.
func (e *Engine) callBackend(ctx context.Context, cfg domain.VersionConfig, system, user string, ex *execution) (*backend.GenerationResult, error) {
	if err := e.breaker.Allow(); err != nil {
		var open *breaker.OpenError
		if errors.As(err, &open) {
			return nil, domain.ErrLLMError("generation backend is unavailable", open.RetryAfterSeconds())
		}
		return nil, domain.Classify(err)
	}

	result, err := e.generator.Generate(ctx, &backend.GenerationRequest{
		Model:        cfg.Model,
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
	})
	if err != nil {
		e.breaker.RecordFailure()
		return nil, err
	}
	e.breaker.RecordSuccess()

	if result.PromptTokens > 0 {
		ex.promptTokens = result.PromptTokens
	}
	return result, nil
}

// Package domain holds the core types shared across the generation pipeline.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Environment is the isolation axis for credentials and servable versions.
type Environment string

const (
	EnvSandbox    Environment = "SANDBOX"
	EnvProduction Environment = "PRODUCTION"
)

// ParseEnvironment maps a path segment or config value to an Environment.
func ParseEnvironment(s string) (Environment, bool) {
	switch strings.ToUpper(s) {
	case "SANDBOX":
		return EnvSandbox, true
	case "PRODUCTION":
		return EnvProduction, true
	default:
		return "", false
	}
}

// PathSegment returns the lowercase form used in request paths and secret prefixes.
func (e Environment) PathSegment() string {
	return strings.ToLower(string(e))
}

// VersionStatus is the lifecycle state of a process version.
type VersionStatus string

const (
	StatusDraft      VersionStatus = "DRAFT"
	StatusSandbox    VersionStatus = "SANDBOX"
	StatusProduction VersionStatus = "PRODUCTION"
	StatusDeprecated VersionStatus = "DEPRECATED"
)

// Servable reports whether a version in this status may serve requests.
// Drafts are unpublished and deprecated versions have been retired.
func (s VersionStatus) Servable() bool {
	return s == StatusSandbox || s == StatusProduction
}

// ScopeAllProcesses grants a credential access to every process of its tenant.
const ScopeAllProcesses = "process:*"

const scopeProcessPrefix = "process:"

// ProcessScope returns the scope string granting access to a single process.
func ProcessScope(processID string) string {
	return scopeProcessPrefix + processID
}

// Scopes is the set of authorization grants attached to a credential.
type Scopes []string

// AllowsProcess reports whether the scope set grants access to the process.
// An empty scope set grants nothing.
func (s Scopes) AllowsProcess(processID string) bool {
	for _, scope := range s {
		if scope == ScopeAllProcesses || scope == scopeProcessPrefix+processID {
			return true
		}
	}
	return false
}

// Credential is a tenant-issued API secret, stored hashed.
// A credential belongs to exactly one tenant and one environment.
type Credential struct {
	ID          string      `json:"id" db:"id"`
	TenantID    string      `json:"tenant_id" db:"tenant_id"`
	Environment Environment `json:"environment" db:"environment"`

	// SecretHash is the SHA-256 hex digest of the full secret; the plaintext
	// is shown once at mint time and never stored.
	SecretHash string `json:"-" db:"secret_hash"`

	// KeyPrefix is a displayable fragment of the secret (e.g. "sk_sandbox_3f9a")
	// kept so dashboards can identify the key without revealing it.
	KeyPrefix string `json:"key_prefix" db:"key_prefix"`

	Scopes     Scopes     `json:"scopes" db:"-"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Revoked reports whether the credential has been revoked.
func (c *Credential) Revoked() bool {
	return c.RevokedAt != nil
}

// Expired reports whether the credential's expiry has passed.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// AuthContext is the resolved identity of an authorized request.
type AuthContext struct {
	CredentialID string
	TenantID     string
	Environment  Environment
	Scopes       Scopes
}

// Process is a tenant-owned definition: an input schema, an optional output
// schema, and the generation configuration carried by its versions.
type Process struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`

	// InputSchema is a JSON-Schema-like object schema; empty means the
	// process accepts any input without validation.
	InputSchema json.RawMessage `json:"input_schema,omitempty" db:"input_schema"`

	// OutputSchema constrains the generated output; empty means parse-only.
	OutputSchema json.RawMessage `json:"output_schema,omitempty" db:"output_schema"`

	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Deleted reports whether the process has been soft-deleted.
func (p *Process) Deleted() bool {
	return p.DeletedAt != nil
}

// VersionConfig is the immutable configuration snapshot a version carries.
type VersionConfig struct {
	SystemPrompt string  `json:"system_prompt"`
	Goal         string  `json:"goal"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`

	CacheTTLSeconds int  `json:"cache_ttl_seconds"`
	CacheEnabled    bool `json:"cache_enabled"`

	// FieldNotes are per-field descriptions folded into the prompt to steer
	// the backend toward the declared output shape.
	FieldNotes map[string]string `json:"field_notes,omitempty"`
}

// CacheTTL returns the configured TTL as a duration; zero disables caching.
func (c VersionConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// ProcessVersion is an immutable-once-published snapshot of a process,
// scoped to one environment.
type ProcessVersion struct {
	ID          string        `json:"id" db:"id"`
	ProcessID   string        `json:"process_id" db:"process_id"`
	Environment Environment   `json:"environment" db:"environment"`
	Status      VersionStatus `json:"status" db:"status"`

	// Label is the semver version label, e.g. "1.4.0".
	Label string `json:"label" db:"label"`

	Config    VersionConfig `json:"config" db:"-"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// CallRecord captures one generate request for the call-history collaborator.
// Rows are written best-effort after the response is decided.
type CallRecord struct {
	ID           string      `json:"id" db:"id"`
	TenantID     string      `json:"tenant_id" db:"tenant_id"`
	ProcessID    string      `json:"process_id" db:"process_id"`
	VersionLabel string      `json:"version_label" db:"version_label"`
	Environment  Environment `json:"environment" db:"environment"`
	RequestID    string      `json:"request_id" db:"request_id"`

	// Status is "ok" or "error"; ErrorCode carries the error kind on failure.
	Status    string `json:"status" db:"status"`
	ErrorCode string `json:"error_code,omitempty" db:"error_code"`

	Cached       bool  `json:"cached" db:"cached"`
	LatencyMs    int64 `json:"latency_ms" db:"latency_ms"`
	PromptTokens int   `json:"prompt_tokens" db:"prompt_tokens"`
	Attempts     int   `json:"attempts" db:"attempts"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Issue is a single field-level validation finding. Path segments are
// strings for object keys and ints for array indexes.
type Issue struct {
	Path    []any  `json:"path"`
	Message string `json:"message"`
}

// PathString renders the path in dotted/indexed form, e.g. "items[2].price".
func (i Issue) PathString() string {
	var b strings.Builder
	for _, seg := range i.Path {
		switch v := seg.(type) {
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		default:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			fmt.Fprintf(&b, "%v", v)
		}
	}
	return b.String()
}

func (i Issue) String() string {
	if len(i.Path) == 0 {
		return i.Message
	}
	return i.PathString() + ": " + i.Message
}

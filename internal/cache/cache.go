// Package cache provides tenant-isolated, content-addressed response caching.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one cached generation result.
type Entry struct {
	// Payload is the validated, coerced output exactly as it was returned.
	Payload json.RawMessage `json:"payload"`

	// Version is the process version label that produced the payload.
	Version string `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry's logical expiry has passed. Backends
// with native TTL rarely return expired entries, but the check holds for
// backends that only delete lazily.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Key addresses a cache entry. The tenant and process are part of the key
// structurally, so no lookup can cross tenants.
type Key struct {
	TenantID  string
	ProcessID string
	Hash      string
}

// String renders the storage key, e.g. "gen:acme:proc-1:3f9a...".
func (k Key) String() string {
	return fmt.Sprintf("gen:%s:%s:%s", k.TenantID, k.ProcessID, k.Hash)
}

// Store is the cache backend contract. Save is an upsert: concurrent
// identical requests race benignly because the payload is deterministic for
// the same input and version, so last writer wins.
type Store interface {
	// Lookup returns the entry and whether it was found. Expired entries
	// are reported as absent.
	Lookup(ctx context.Context, key Key) (*Entry, bool, error)

	// Save upserts the entry with the given TTL. Callers are expected to
	// log-and-discard the returned error: a failed write must never fail
	// the request that produced the payload.
	Save(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Package storage defines the persistence contract for credentials,
// processes, versions, and call records.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/schemaforge/schemaforge/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row. Implementations
// return it for cross-tenant lookups too, so callers cannot distinguish
// "missing" from "not yours".
var ErrNotFound = errors.New("not found")

// CredentialStore persists API credentials. The pipeline only reads and
// touches credentials; minting is done by the keygen tool and dashboards.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *domain.Credential) error

	// CredentialByHash looks up a credential by the SHA-256 hex digest of
	// its secret.
	CredentialByHash(ctx context.Context, secretHash string) (*domain.Credential, error)

	// TouchCredential updates the last-used timestamp. Callers treat
	// failures as non-fatal.
	TouchCredential(ctx context.Context, id string, usedAt time.Time) error
}

// ProcessStore persists process definitions and their versions.
type ProcessStore interface {
	CreateProcess(ctx context.Context, p *domain.Process) error

	// ProcessByID returns the tenant's process, including soft-deleted
	// rows; callers decide how deletion surfaces. A process belonging to
	// another tenant is ErrNotFound.
	ProcessByID(ctx context.Context, tenantID, id string) (*domain.Process, error)

	// DeleteProcess marks the process deleted without removing the row.
	DeleteProcess(ctx context.Context, tenantID, id string) error

	CreateVersion(ctx context.Context, v *domain.ProcessVersion) error

	// ServableVersions returns the non-draft, non-deprecated versions of
	// the process for one environment.
	ServableVersions(ctx context.Context, processID string, env domain.Environment) ([]*domain.ProcessVersion, error)
}

// CallRecordStore persists per-request call records for the call-history
// collaborator. Rows are written asynchronously and best-effort.
type CallRecordStore interface {
	InsertCallRecord(ctx context.Context, rec *domain.CallRecord) error
}

// Store is the full persistence contract.
type Store interface {
	CredentialStore
	ProcessStore
	CallRecordStore

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}

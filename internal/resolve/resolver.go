// Package resolve locates the tenant-scoped process and the version that
// serves a given environment.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/storage"
)

// Resolver answers "which process and which version serves this request".
type Resolver struct {
	processes storage.ProcessStore
}

// New creates a resolver backed by the process store.
func New(processes storage.ProcessStore) *Resolver {
	return &Resolver{processes: processes}
}

// Resolve checks the credential's scopes, loads the process, and picks the
// servable version for the environment.
//
// A missing, soft-deleted, or cross-tenant process all produce the same
// NOT_FOUND so callers cannot probe for the existence of other tenants'
// processes. The scope check runs first and never consults the store.
func (r *Resolver) Resolve(ctx context.Context, tenantID, processID string, env domain.Environment, scopes domain.Scopes) (*domain.Process, *domain.ProcessVersion, error) {
	if !scopes.AllowsProcess(processID) {
		return nil, nil, domain.ErrForbidden(
			fmt.Sprintf("credential is not scoped to process %s", processID))
	}

	process, err := r.processes.ProcessByID(ctx, tenantID, processID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, domain.ErrNotFound("process not found")
		}
		return nil, nil, fmt.Errorf("process lookup failed: %w", err)
	}
	if process.Deleted() {
		return nil, nil, domain.ErrNotFound("process not found")
	}

	versions, err := r.processes.ServableVersions(ctx, processID, env)
	if err != nil {
		return nil, nil, fmt.Errorf("version lookup failed: %w", err)
	}
	if len(versions) == 0 {
		return nil, nil, domain.ErrNotFound(
			fmt.Sprintf("process has no %s version", env))
	}

	return process, latestVersion(versions), nil
}

// latestVersion picks the highest semver label. The store invariant allows at
// most one servable version per (process, environment); if drift ever leaves
// several, the choice must still be deterministic. Labels that do not parse
// as semver rank below ones that do and fall back to string comparison.
func latestVersion(versions []*domain.ProcessVersion) *domain.ProcessVersion {
	best := versions[0]
	bestSemver, bestErr := semver.NewVersion(best.Label)
	for _, candidate := range versions[1:] {
		candSemver, candErr := semver.NewVersion(candidate.Label)
		switch {
		case candErr == nil && bestErr == nil:
			if candSemver.GreaterThan(bestSemver) {
				best, bestSemver, bestErr = candidate, candSemver, nil
			}
		case candErr == nil && bestErr != nil:
			best, bestSemver, bestErr = candidate, candSemver, nil
		case candErr != nil && bestErr != nil:
			if candidate.Label > best.Label {
				best = candidate
			}
		}
	}
	return best
}

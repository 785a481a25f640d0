// Package memory is an in-memory Store used by tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/storage"
)

// Store keeps all rows in process memory behind one mutex.
type Store struct {
	mu          sync.RWMutex
	credentials map[string]*domain.Credential // secret hash -> credential
	processes   map[string]*domain.Process    // process id -> process
	versions    map[string][]*domain.ProcessVersion
	records     []*domain.CallRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{
		credentials: make(map[string]*domain.Credential),
		processes:   make(map[string]*domain.Process),
		versions:    make(map[string][]*domain.ProcessVersion),
	}
}

func (s *Store) CreateCredential(ctx context.Context, cred *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	copied := *cred
	s.credentials[cred.SecretHash] = &copied
	return nil
}

func (s *Store) CredentialByHash(ctx context.Context, secretHash string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[secretHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *cred
	return &copied, nil
}

func (s *Store) TouchCredential(ctx context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cred := range s.credentials {
		if cred.ID == id {
			cred.LastUsedAt = &usedAt
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) CreateProcess(ctx context.Context, p *domain.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	copied := *p
	s.processes[p.ID] = &copied
	return nil
}

func (s *Store) ProcessByID(ctx context.Context, tenantID, id string) (*domain.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.processes[id]
	if !ok || p.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *Store) DeleteProcess(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.processes[id]
	if !ok || p.TenantID != tenantID {
		return storage.ErrNotFound
	}
	now := time.Now()
	p.DeletedAt = &now
	p.UpdatedAt = now
	return nil
}

func (s *Store) CreateVersion(ctx context.Context, v *domain.ProcessVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	copied := *v
	s.versions[v.ProcessID] = append(s.versions[v.ProcessID], &copied)
	return nil
}

func (s *Store) ServableVersions(ctx context.Context, processID string, env domain.Environment) ([]*domain.ProcessVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ProcessVersion
	for _, v := range s.versions[processID] {
		if v.Environment == env && v.Status.Servable() {
			copied := *v
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *Store) InsertCallRecord(ctx context.Context, rec *domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	copied := *rec
	s.records = append(s.records, &copied)
	return nil
}

// CallRecords returns a snapshot of recorded calls, oldest first.
func (s *Store) CallRecords() []*domain.CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.CallRecord, len(s.records))
	for i, rec := range s.records {
		copied := *rec
		out[i] = &copied
	}
	return out
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

var _ storage.Store = (*Store)(nil)

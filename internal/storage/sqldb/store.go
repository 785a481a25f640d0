// Package sqldb is the SQL implementation of the storage contract, supporting
// SQLite and PostgreSQL through the dialect layer.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/storage"
	"github.com/schemaforge/schemaforge/internal/storage/dialect"
)

// Store implements storage.Store on a SQL database.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.Store = (*Store)(nil)

// Config holds database connection configuration.
type Config struct {
	Driver string // sqlite or postgres
	DSN    string
}

// New opens the database, applies dialect setup, and creates the schema.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite opens a SQLite-backed store at the given path.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	boolType := s.dialect.BooleanType()
	tsType := s.dialect.TimestampType()
	textType := s.dialect.TextType()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS credentials (
id TEXT PRIMARY KEY,
tenant_id TEXT NOT NULL,
environment TEXT NOT NULL,
secret_hash TEXT NOT NULL UNIQUE,
key_prefix TEXT NOT NULL,
scopes %s NOT NULL,
expires_at %s,
revoked_at %s,
last_used_at %s,
created_at %s NOT NULL
)`, textType, tsType, tsType, tsType, tsType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS processes (
id TEXT PRIMARY KEY,
tenant_id TEXT NOT NULL,
name TEXT NOT NULL,
input_schema %s,
output_schema %s,
deleted_at %s,
created_at %s NOT NULL,
updated_at %s NOT NULL
)`, textType, textType, tsType, tsType, tsType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS process_versions (
id TEXT PRIMARY KEY,
process_id TEXT NOT NULL,
environment TEXT NOT NULL,
status TEXT NOT NULL,
label TEXT NOT NULL,
config %s NOT NULL,
created_at %s NOT NULL,
FOREIGN KEY (process_id) REFERENCES processes(id) ON DELETE CASCADE
)`, textType, tsType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS call_records (
id TEXT PRIMARY KEY,
tenant_id TEXT NOT NULL,
process_id TEXT NOT NULL,
version_label TEXT NOT NULL,
environment TEXT NOT NULL,
request_id TEXT NOT NULL,
status TEXT NOT NULL,
error_code TEXT,
cached %s NOT NULL,
latency_ms INTEGER NOT NULL,
prompt_tokens INTEGER NOT NULL,
attempts INTEGER NOT NULL,
created_at %s NOT NULL
)`, boolType, tsType),
		`CREATE INDEX IF NOT EXISTS idx_credentials_tenant ON credentials(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_processes_tenant ON processes(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_process ON process_versions(process_id, environment, status)`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_tenant ON call_records(tenant_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateCredential(ctx context.Context, cred *domain.Credential) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}

	scopes, err := json.Marshal(cred.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	upsert := s.dialect.UpsertClause("id", []string{"scopes", "expires_at", "revoked_at", "key_prefix"})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO credentials
(id, tenant_id, environment, secret_hash, key_prefix, scopes, expires_at, revoked_at, last_used_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
%s`, upsert))

	_, err = s.db.ExecContext(ctx, query,
		cred.ID, cred.TenantID, string(cred.Environment), cred.SecretHash, cred.KeyPrefix,
		string(scopes), cred.ExpiresAt, cred.RevokedAt, cred.LastUsedAt, cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

func (s *Store) CredentialByHash(ctx context.Context, secretHash string) (*domain.Credential, error) {
	query := s.dialect.Rebind(`SELECT id, tenant_id, environment, secret_hash, key_prefix, scopes,
expires_at, revoked_at, last_used_at, created_at
FROM credentials WHERE secret_hash = ?`)

	var cred domain.Credential
	var env, scopesJSON string
	var expiresAt, revokedAt, lastUsedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, secretHash).Scan(
		&cred.ID, &cred.TenantID, &env, &cred.SecretHash, &cred.KeyPrefix, &scopesJSON,
		&expiresAt, &revokedAt, &lastUsedAt, &cred.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	cred.Environment = domain.Environment(env)
	if err := json.Unmarshal([]byte(scopesJSON), &cred.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	cred.ExpiresAt = nullableTime(expiresAt)
	cred.RevokedAt = nullableTime(revokedAt)
	cred.LastUsedAt = nullableTime(lastUsedAt)

	return &cred, nil
}

func (s *Store) TouchCredential(ctx context.Context, id string, usedAt time.Time) error {
	query := s.dialect.Rebind(`UPDATE credentials SET last_used_at = ? WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, usedAt, id)
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (s *Store) CreateProcess(ctx context.Context, p *domain.Process) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	upsert := s.dialect.UpsertClause("id", []string{"name", "input_schema", "output_schema", "updated_at"})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO processes
(id, tenant_id, name, input_schema, output_schema, deleted_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
%s`, upsert))

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.TenantID, p.Name, string(p.InputSchema), string(p.OutputSchema),
		p.DeletedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create process: %w", err)
	}

	return nil
}

func (s *Store) ProcessByID(ctx context.Context, tenantID, id string) (*domain.Process, error) {
	query := s.dialect.Rebind(`SELECT id, tenant_id, name, input_schema, output_schema,
deleted_at, created_at, updated_at
FROM processes WHERE id = ? AND tenant_id = ?`)

	var p domain.Process
	var inputSchema, outputSchema sql.NullString
	var deletedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, id, tenantID).Scan(
		&p.ID, &p.TenantID, &p.Name, &inputSchema, &outputSchema,
		&deletedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get process: %w", err)
	}

	if inputSchema.Valid && inputSchema.String != "" {
		p.InputSchema = json.RawMessage(inputSchema.String)
	}
	if outputSchema.Valid && outputSchema.String != "" {
		p.OutputSchema = json.RawMessage(outputSchema.String)
	}
	p.DeletedAt = nullableTime(deletedAt)

	return &p, nil
}

func (s *Store) DeleteProcess(ctx context.Context, tenantID, id string) error {
	now := time.Now()
	query := s.dialect.Rebind(`UPDATE processes SET deleted_at = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`)

	result, err := s.db.ExecContext(ctx, query, now, now, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete process: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (s *Store) CreateVersion(ctx context.Context, v *domain.ProcessVersion) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	config, err := json.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal version config: %w", err)
	}

	upsert := s.dialect.UpsertClause("id", []string{"status", "label", "config"})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO process_versions
(id, process_id, environment, status, label, config, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
%s`, upsert))

	_, err = s.db.ExecContext(ctx, query,
		v.ID, v.ProcessID, string(v.Environment), string(v.Status), v.Label,
		string(config), v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}

	return nil
}

func (s *Store) ServableVersions(ctx context.Context, processID string, env domain.Environment) ([]*domain.ProcessVersion, error) {
	query := s.dialect.Rebind(`SELECT id, process_id, environment, status, label, config, created_at
FROM process_versions
WHERE process_id = ? AND environment = ? AND status IN (?, ?)
ORDER BY created_at ASC`)

	rows, err := s.db.QueryContext(ctx, query, processID, string(env),
		string(domain.StatusSandbox), string(domain.StatusProduction))
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []*domain.ProcessVersion
	for rows.Next() {
		var v domain.ProcessVersion
		var vEnv, status, configJSON string

		if err := rows.Scan(&v.ID, &v.ProcessID, &vEnv, &status, &v.Label, &configJSON, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		v.Environment = domain.Environment(vEnv)
		v.Status = domain.VersionStatus(status)
		if err := json.Unmarshal([]byte(configJSON), &v.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal version config: %w", err)
		}

		versions = append(versions, &v)
	}

	return versions, rows.Err()
}

func (s *Store) InsertCallRecord(ctx context.Context, rec *domain.CallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := s.dialect.Rebind(`INSERT INTO call_records
(id, tenant_id, process_id, version_label, environment, request_id, status, error_code,
cached, latency_ms, prompt_tokens, attempts, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.ProcessID, rec.VersionLabel, string(rec.Environment),
		rec.RequestID, rec.Status, rec.ErrorCode, rec.Cached, rec.LatencyMs,
		rec.PromptTokens, rec.Attempts, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}

	return nil
}

// CallRecordsByTenant returns the tenant's most recent call records, newest
// first, for the call-history collaborator.
func (s *Store) CallRecordsByTenant(ctx context.Context, tenantID string, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.dialect.Rebind(`SELECT id, tenant_id, process_id, version_label, environment, request_id,
status, error_code, cached, latency_ms, prompt_tokens, attempts, created_at
FROM call_records WHERE tenant_id = ?
ORDER BY created_at DESC
LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call records: %w", err)
	}
	defer rows.Close()

	var records []*domain.CallRecord
	for rows.Next() {
		var rec domain.CallRecord
		var env string
		var errorCode sql.NullString

		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.ProcessID, &rec.VersionLabel, &env,
			&rec.RequestID, &rec.Status, &errorCode, &rec.Cached, &rec.LatencyMs,
			&rec.PromptTokens, &rec.Attempts, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}

		rec.Environment = domain.Environment(env)
		if errorCode.Valid {
			rec.ErrorCode = errorCode.String
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// Package auth validates presented secrets and guards the environment axis.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/storage"
)

const (
	secretRandomLength = 40
	touchTimeout       = 5 * time.Second
)

// secretAlphabet is the base62 character set used for minted secrets.
const secretAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Authorizer resolves bearer secrets into an authorized context.
type Authorizer struct {
	creds  storage.CredentialStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthorizer creates an authorizer backed by the credential store.
func NewAuthorizer(creds storage.CredentialStore, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{creds: creds, logger: logger, now: time.Now}
}

// Authorize validates the presented secret and returns the resolved context.
// Every rejection is UNAUTHORIZED; the messages distinguish unknown, revoked,
// and expired credentials for the caller's benefit.
func (a *Authorizer) Authorize(ctx context.Context, secret string) (*domain.AuthContext, error) {
	if _, ok := secretEnvironment(secret); !ok {
		// Malformed secrets never reach the store.
		return nil, domain.ErrUnauthorized("malformed credential")
	}

	cred, err := a.creds.CredentialByHash(ctx, HashSecret(secret))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.ErrUnauthorized("unknown credential")
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}

	if cred.Revoked() {
		return nil, domain.ErrUnauthorized("credential has been revoked")
	}
	if cred.Expired(a.now()) {
		return nil, domain.ErrUnauthorized("credential has expired")
	}

	a.touch(cred.ID)

	return &domain.AuthContext{
		CredentialID: cred.ID,
		TenantID:     cred.TenantID,
		Environment:  cred.Environment,
		Scopes:       cred.Scopes,
	}, nil
}

// touch updates the credential's last-used timestamp without blocking the
// request; failures are logged and dropped.
func (a *Authorizer) touch(credentialID string) {
	usedAt := a.now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := a.creds.TouchCredential(ctx, credentialID, usedAt); err != nil {
			a.logger.Warn("failed to update credential last-used timestamp",
				slog.String("credential_id", credentialID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// ExtractSecret pulls the bearer secret from the Authorization header.
func ExtractSecret(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", domain.ErrUnauthorized("missing Authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", domain.ErrUnauthorized("Authorization header must use the Bearer scheme")
	}
	return parts[1], nil
}

// HashSecret returns the SHA-256 hex digest stored in place of the secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// NewSecret mints a secret for the environment. It returns the plaintext
// secret (shown exactly once), its storage hash, and the display prefix
// dashboards may show.
func NewSecret(env domain.Environment) (secret, hash, keyPrefix string, err error) {
	random := make([]byte, secretRandomLength)
	if _, err := rand.Read(random); err != nil {
		return "", "", "", fmt.Errorf("failed to generate secret: %w", err)
	}
	for i, b := range random {
		random[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}

	secret = fmt.Sprintf("sk_%s_%s", env.PathSegment(), random)
	prefixLen := len(secret) - secretRandomLength + 4
	return secret, HashSecret(secret), secret[:prefixLen], nil
}

// secretEnvironment parses the environment a secret's prefix claims.
func secretEnvironment(secret string) (domain.Environment, bool) {
	rest, ok := strings.CutPrefix(secret, "sk_")
	if !ok {
		return "", false
	}
	envPart, random, ok := strings.Cut(rest, "_")
	if !ok || len(random) < 16 {
		return "", false
	}
	return domain.ParseEnvironment(envPart)
}

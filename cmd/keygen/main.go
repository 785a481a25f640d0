// Command keygen mints an API credential: it generates the secret, stores
// its hash, and prints the plaintext exactly once.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/schemaforge/schemaforge/internal/auth"
	"github.com/schemaforge/schemaforge/internal/config"
	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/storage/sqldb"
)

func main() {
	_ = godotenv.Load()

	tenant := flag.String("tenant", "", "tenant id the credential belongs to (required)")
	envName := flag.String("env", "sandbox", "environment: sandbox or production")
	scopesArg := flag.String("scopes", "*", `comma-separated process ids, or "*" for all`)
	expiresDays := flag.Int("expires-days", 0, "days until expiry, 0 for no expiry")
	driver := flag.String("driver", "", "override storage driver (sqlite, postgres)")
	dsn := flag.String("dsn", "", "override storage DSN")
	flag.Parse()

	if *tenant == "" {
		fmt.Fprintln(os.Stderr, "keygen: -tenant is required")
		flag.Usage()
		os.Exit(2)
	}

	env, ok := domain.ParseEnvironment(*envName)
	if !ok {
		fatalf("unknown environment %q, want sandbox or production", *envName)
	}

	cfg, err := config.Load()
	if err != nil {
		fatalf("failed to load configuration: %v", err)
	}
	if *driver != "" {
		cfg.Storage.Driver = *driver
	}
	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}

	store, err := sqldb.New(sqldb.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
	if err != nil {
		fatalf("failed to open storage: %v", err)
	}
	defer store.Close()

	secret, hash, keyPrefix, err := auth.NewSecret(env)
	if err != nil {
		fatalf("failed to generate secret: %v", err)
	}

	cred := &domain.Credential{
		ID:          "cred_" + uuid.New().String(),
		TenantID:    *tenant,
		Environment: env,
		SecretHash:  hash,
		KeyPrefix:   keyPrefix,
		Scopes:      parseScopes(*scopesArg),
		CreatedAt:   time.Now().UTC(),
	}
	expires := "never"
	if *expiresDays > 0 {
		at := time.Now().UTC().AddDate(0, 0, *expiresDays)
		cred.ExpiresAt = &at
		expires = at.Format(time.RFC3339)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.CreateCredential(ctx, cred); err != nil {
		fatalf("failed to store credential: %v", err)
	}

	fmt.Println("Credential created.")
	fmt.Println()
	fmt.Printf("  ID:          %s\n", cred.ID)
	fmt.Printf("  Tenant:      %s\n", cred.TenantID)
	fmt.Printf("  Environment: %s\n", cred.Environment)
	fmt.Printf("  Scopes:      %s\n", strings.Join(cred.Scopes, ", "))
	fmt.Printf("  Expires:     %s\n", expires)
	fmt.Println()
	fmt.Println("Secret (shown once, store it now):")
	fmt.Println()
	fmt.Printf("  %s\n", secret)
}

func parseScopes(arg string) domain.Scopes {
	if strings.TrimSpace(arg) == "*" {
		return domain.Scopes{domain.ScopeAllProcesses}
	}
	var scopes domain.Scopes
	for _, id := range strings.Split(arg, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		scopes = append(scopes, domain.ProcessScope(id))
	}
	return scopes
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "keygen: "+format+"\n", args...)
	os.Exit(1)
}

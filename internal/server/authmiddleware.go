package server

import (
	"context"
	"net/http"

	"github.com/schemaforge/schemaforge/internal/auth"
	"github.com/schemaforge/schemaforge/internal/domain"
)

// authContextKey is the context key for the authorized credential.
type authContextKey struct{}

// AuthMiddleware authorizes the bearer credential and enforces the
// environment guard before any handler runs. The environment is derived
// from the request path alone, so no header can redirect a sandbox
// credential at live data.
func AuthMiddleware(authorizer *auth.Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret, err := auth.ExtractSecret(r)
			if err != nil {
				writeError(w, r, err)
				return
			}

			authCtx, err := authorizer.Authorize(r.Context(), secret)
			if err != nil {
				AddError(r.Context(), err)
				writeError(w, r, err)
				return
			}

			pathEnv, ok := auth.EnvironmentFromPath(r.URL.Path)
			if !ok {
				writeError(w, r, domain.ErrNotFound("unknown environment in request path"))
				return
			}
			if err := auth.CheckEnvironment(pathEnv, authCtx.Environment); err != nil {
				AddError(r.Context(), err)
				writeError(w, r, err)
				return
			}

			AddLogField(r.Context(), "tenant_id", authCtx.TenantID)
			ctx := context.WithValue(r.Context(), authContextKey{}, authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthContext retrieves the authorized credential context. Returns nil
// when the request did not pass AuthMiddleware.
func GetAuthContext(ctx context.Context) *domain.AuthContext {
	if ac, ok := ctx.Value(authContextKey{}).(*domain.AuthContext); ok {
		return ac
	}
	return nil
}

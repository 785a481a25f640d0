package auth

import (
	"fmt"
	"strings"

	"github.com/schemaforge/schemaforge/internal/domain"
)

// EnvironmentFromPath derives the environment a request path targets. Paths
// follow the fixed convention /v1/{environment}/..., so the environment is
// taken from the path alone and no header can influence it.
func EnvironmentFromPath(path string) (domain.Environment, bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || segments[0] != "v1" {
		return "", false
	}
	return domain.ParseEnvironment(segments[1])
}

// CheckEnvironment asserts the credential's environment matches the one the
// path targets. It runs after authorization and before process resolution.
func CheckEnvironment(pathEnv, credEnv domain.Environment) error {
	if pathEnv == credEnv {
		return nil
	}
	return domain.ErrForbidden(fmt.Sprintf(
		"credential is scoped to %s but the endpoint targets %s", credEnv, pathEnv))
}

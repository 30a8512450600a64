package auth

import "os"

// tokenEnvVars are checked in order; the app-specific name wins.
var tokenEnvVars = []string{"DISCGRAB_TOKEN", "DISCORD_TOKEN"}

// EnvStore reads tokens from environment variables. It only serves the
// default profile and cannot write.
type EnvStore struct{}

// NewEnvStore creates a new environment-based token store.
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

// Name identifies the backend in status output.
func (e *EnvStore) Name() string { return "environment" }

// Set is not supported for environment variables.
func (e *EnvStore) Set(profile, token string) error {
	return ErrStoreUnavailable
}

// Get reads the token from the environment.
func (e *EnvStore) Get(profile string) (string, error) {
	if profile != DefaultProfile {
		return "", ErrTokenNotFound
	}
	for _, name := range tokenEnvVars {
		if token := os.Getenv(name); token != "" {
			return token, nil
		}
	}
	return "", ErrTokenNotFound
}

// Delete is not supported for environment variables.
func (e *EnvStore) Delete(profile string) error {
	return ErrStoreUnavailable
}

// Exists checks if an environment token is set.
func (e *EnvStore) Exists(profile string) bool {
	token, err := e.Get(profile)
	return err == nil && token != ""
}

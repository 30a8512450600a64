package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultProfile names the token slot used when no profile is given.
const DefaultProfile = "default"

// Store is one token backend in the fallback chain.
type Store interface {
	// Set saves the token under a profile name.
	Set(profile, token string) error

	// Get returns the token for a profile.
	Get(profile string) (string, error)

	// Delete removes the profile's token.
	Delete(profile string) error

	// Exists checks if the profile has a token.
	Exists(profile string) bool

	// Name identifies the backend in status output.
	Name() string
}

// Manager resolves bot tokens through a chain of stores with fallback:
// system keyring, then an encrypted file, then environment variables.
type Manager struct {
	stores []Store
}

// NewManager creates a manager with the default chain. The keyring is
// probed and skipped when unavailable (headless hosts), the encrypted
// file store is always present, environment variables are the read-only
// last resort.
func NewManager() (*Manager, error) {
	var stores []Store

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedStore(filepath.Join(configDir, "tokens.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over an explicit chain.
func NewManagerWithStores(stores ...Store) *Manager {
	return &Manager{stores: stores}
}

// Set saves the token in the first backend that accepts it.
func (m *Manager) Set(profile, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	profile = normalizeProfile(profile)

	var lastErr error
	for _, store := range m.stores {
		if err := store.Set(profile, token); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store token: %w", lastErr)
	}
	return errors.New("no available token stores")
}

// Resolve returns the profile's token from the first backend that has it.
func (m *Manager) Resolve(profile string) (string, error) {
	profile = normalizeProfile(profile)
	for _, store := range m.stores {
		if token, err := store.Get(profile); err == nil && token != "" {
			return token, nil
		}
	}
	return "", ErrTokenNotFound
}

// Delete removes the profile's token from every backend that holds it.
func (m *Manager) Delete(profile string) error {
	profile = normalizeProfile(profile)

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		err := store.Delete(profile)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrStoreUnavailable):
			// Nothing to remove there.
		default:
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete token: %w", lastErr)
	}
	return ErrTokenNotFound
}

// BackendStatus is one backend's view of a profile.
type BackendStatus struct {
	Store  string
	Exists bool
}

// Status reports which backends hold the profile's token.
func (m *Manager) Status(profile string) []BackendStatus {
	profile = normalizeProfile(profile)
	statuses := make([]BackendStatus, 0, len(m.stores))
	for _, store := range m.stores {
		statuses = append(statuses, BackendStatus{
			Store:  store.Name(),
			Exists: store.Exists(profile),
		})
	}
	return statuses
}

func normalizeProfile(profile string) string {
	if profile == "" {
		return DefaultProfile
	}
	return profile
}

// Mask hides all but the first 4 and last 4 characters of a token for
// display. Tokens are never logged or printed unmasked.
func Mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// getConfigDir returns the per-user configuration directory path.
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "discgrab")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "discgrab")
	default: // Linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "discgrab")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "discgrab")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// Errors
var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrStoreUnavailable = errors.New("token store unavailable")
)

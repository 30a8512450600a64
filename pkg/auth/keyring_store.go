package auth

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "discgrab"
	keyringPrefix  = "token_"
)

// KeyringStore keeps tokens in the system keychain.
type KeyringStore struct{}

// NewKeyringStore probes the keychain and fails when it is unusable, so
// the manager can fall through to the encrypted file store.
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Name identifies the backend in status output.
func (k *KeyringStore) Name() string { return "keyring" }

// Set saves the token to the system keychain.
func (k *KeyringStore) Set(profile, token string) error {
	if profile == "" || token == "" {
		return ErrInvalidToken
	}

	if err := keyring.Set(keyringService, keyringPrefix+profile, token); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

// Get reads the token from the system keychain.
func (k *KeyringStore) Get(profile string) (string, error) {
	if profile == "" {
		return "", ErrInvalidToken
	}

	token, err := keyring.Get(keyringService, keyringPrefix+profile)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("failed to read keyring: %w", err)
	}
	return token, nil
}

// Delete removes the token from the system keychain.
func (k *KeyringStore) Delete(profile string) error {
	if profile == "" {
		return ErrInvalidToken
	}

	if err := keyring.Delete(keyringService, keyringPrefix+profile); err != nil {
		if err == keyring.ErrNotFound {
			return ErrTokenNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}

// Exists checks if the profile has a token in the keychain.
func (k *KeyringStore) Exists(profile string) bool {
	if profile == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+profile)
	return err == nil
}

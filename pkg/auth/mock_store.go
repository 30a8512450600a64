package auth

import "sync"

// MockStore implements Store for testing purposes
type MockStore struct {
	tokens map[string]string
	mu     sync.RWMutex

	// Error injection for testing
	SetError    error
	GetError    error
	DeleteError error
}

// NewMockStore creates a new mock token store
func NewMockStore() *MockStore {
	return &MockStore{
		tokens: make(map[string]string),
	}
}

// Name identifies the backend in status output.
func (m *MockStore) Name() string { return "mock" }

// Set saves the token to the mock store
func (m *MockStore) Set(profile, token string) error {
	if m.SetError != nil {
		return m.SetError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if profile == "" || token == "" {
		return ErrInvalidToken
	}
	m.tokens[profile] = token
	return nil
}

// Get reads the token from the mock store
func (m *MockStore) Get(profile string) (string, error) {
	if m.GetError != nil {
		return "", m.GetError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	token, exists := m.tokens[profile]
	if !exists {
		return "", ErrTokenNotFound
	}
	return token, nil
}

// Delete removes the token from the mock store
func (m *MockStore) Delete(profile string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tokens[profile]; !exists {
		return ErrTokenNotFound
	}
	delete(m.tokens, profile)
	return nil
}

// Exists checks if the profile has a token in the mock store
func (m *MockStore) Exists(profile string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.tokens[profile]
	return exists
}

// Count returns the number of stored tokens (useful for testing)
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.tokens)
}

// NewMockManager creates a Manager with a mock store for testing
func NewMockManager() (*Manager, *MockStore) {
	mockStore := NewMockStore()
	return &Manager{stores: []Store{mockStore}}, mockStore
}

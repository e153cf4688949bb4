package instagram

import (
	"context"
	"sync"
)

// MockClient is an in-memory Client for tests and local runs. Profiles
// and passwords are configured up front; call counters help tests assert
// how often the provider was hit.
type MockClient struct {
	mu        sync.Mutex
	profiles  map[string]bool
	passwords map[string]string

	ProfileCalls int
	LoginCalls   int

	// Err, when set, is returned from every call.
	Err error
}

func NewMockClient() *MockClient {
	return &MockClient{
		profiles:  make(map[string]bool),
		passwords: make(map[string]string),
	}
}

// AddProfile registers a username as an existing profile.
func (m *MockClient) AddProfile(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[username] = true
}

// SetPassword registers the accepted password for a username. The
// profile is registered as existing too.
func (m *MockClient) SetPassword(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[username] = true
	m.passwords[username] = password
}

func (m *MockClient) ProfileExists(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++
	if m.Err != nil {
		return false, m.Err
	}
	return m.profiles[username], nil
}

func (m *MockClient) Login(ctx context.Context, username, password string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoginCalls++
	if m.Err != nil {
		return false, m.Err
	}
	want, ok := m.passwords[username]
	return ok && want == password, nil
}

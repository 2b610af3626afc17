package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// mockCredentialStore is an in-memory CredentialStore for tests
type mockCredentialStore struct {
	mu    sync.Mutex
	creds map[string]*ServerCredential
	saves int
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{creds: make(map[string]*ServerCredential)}
}

func (s *mockCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds[serverURL], nil
}

func (s *mockCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[serverURL] = cred
	return nil
}

func (s *mockCredentialStore) RemoveCredential(serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, serverURL)
	return nil
}

func (s *mockCredentialStore) ListServers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	servers := make([]string, 0, len(s.creds))
	for k := range s.creds {
		servers = append(servers, k)
	}
	return servers, nil
}

func (s *mockCredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func TestServerCredential_IsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future", time.Now().Add(time.Hour), false},
		{"past", time.Now().Add(-time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ServerCredential{ExpiresAt: tt.expiresAt}
			if got := c.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServerCredential_IsExpiringSoon(t *testing.T) {
	c := &ServerCredential{ExpiresAt: time.Now().Add(2 * time.Minute)}
	if !c.IsExpiringSoon(5 * time.Minute) {
		t.Error("expected credential to be expiring within 5 minutes")
	}
	if c.IsExpiringSoon(time.Minute) {
		t.Error("expected credential not to be expiring within 1 minute")
	}
}

func TestNewAuthClient_NormalizesURL(t *testing.T) {
	c := NewAuthClient("https://auth.example.com/some/path?x=1", newMockCredentialStore())
	if c.ServerURL() != "https://auth.example.com" {
		t.Errorf("ServerURL() = %v, want https://auth.example.com", c.ServerURL())
	}
}

func TestAuthClient_TokenIgnoresExpiredCredential(t *testing.T) {
	store := newMockCredentialStore()
	c := NewAuthClient("http://localhost:8080", store)

	store.creds["http://localhost:8080"] = &ServerCredential{
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}
	if token, _ := c.Token(); token != "" {
		t.Errorf("expected no token for expired credential, got %q", token)
	}
	if c.IsLoggedIn() {
		t.Error("expected IsLoggedIn false for expired credential")
	}

	store.creds["http://localhost:8080"].ExpiresAt = time.Now().Add(time.Hour)
	if token, _ := c.Token(); token != "stale" {
		t.Errorf("expected stored token, got %q", token)
	}
	if !c.IsLoggedIn() {
		t.Error("expected IsLoggedIn true")
	}
}

func TestAuthTransport_AddsHeader(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer server.Close()

	httpClient := &http.Client{Transport: NewAuthTransport("tok-1")}
	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()

	if got != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want Bearer tok-1", got)
	}
}

func TestAuthTransport_NoTokenNoHeader(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer server.Close()

	httpClient := &http.Client{Transport: NewAuthTransport("")}
	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()

	if got != "" {
		t.Errorf("expected no Authorization header, got %q", got)
	}
}

type failingSource struct{}

func (failingSource) Token() (string, error) { return "", errors.New("keychain locked") }

func TestAuthTransport_SourceError(t *testing.T) {
	httpClient := &http.Client{Transport: &AuthTransport{Source: failingSource{}}}
	if _, err := httpClient.Get("http://127.0.0.1:1"); err == nil {
		t.Error("expected token source error to fail the request")
	}
}

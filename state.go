package socialauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultStateTTL bounds how long an authorization attempt may stay open.
const DefaultStateTTL = 10 * time.Minute

// ErrStateNotFound is returned by a StateStore when there is nothing to take.
var ErrStateNotFound = errors.New("state not found")

// AuthState is the server-side record of one in-flight authorization attempt.
type AuthState struct {
	Value          string    `json:"value"`
	Provider       Provider  `json:"provider"`
	RedirectTarget string    `json:"redirect_target,omitempty"`
	CodeVerifier   string    `json:"code_verifier,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// IsExpired reports whether the state has outlived its TTL at the given time.
func (s *AuthState) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// StateStore holds AuthStates between the two legs of a flow.
type StateStore interface {
	// Put stores the state until its ExpiresAt.
	Put(ctx context.Context, state *AuthState) error

	// Take removes and returns the state in a single atomic step so that at
	// most one caller ever receives it. Returns ErrStateNotFound when absent.
	Take(ctx context.Context, value string) (*AuthState, error)
}

// GenerateSecureToken returns 32 random bytes, hex encoded.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// StateManager issues and consumes anti-forgery state values.
type StateManager struct {
	Store  StateStore
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

func NewStateManager(store StateStore, ttl time.Duration) *StateManager {
	return (&StateManager{Store: store, TTL: ttl}).EnsureDefaults()
}

func (m *StateManager) EnsureDefaults() *StateManager {
	if m.TTL <= 0 {
		m.TTL = DefaultStateTTL
	}
	if m.Now == nil {
		m.Now = time.Now
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	return m
}

// Issue creates and stores a new state for provider. The returned state also
// carries a PKCE verifier that callers may use or ignore.
func (m *StateManager) Issue(ctx context.Context, provider Provider, redirectTarget string) (*AuthState, error) {
	value, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	now := m.Now()
	state := &AuthState{
		Value:          value,
		Provider:       provider,
		RedirectTarget: redirectTarget,
		CodeVerifier:   oauth2.GenerateVerifier(),
		IssuedAt:       now,
		ExpiresAt:      now.Add(m.TTL),
	}
	if err := m.Store.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to store state: %w", err)
	}
	return state, nil
}

// Consume takes the state out of the store. Unknown, already used and expired
// values all fail with ErrInvalidState.
func (m *StateManager) Consume(ctx context.Context, value string) (*AuthState, error) {
	if value == "" {
		return nil, NewAuthError(ErrInvalidState, StageCallbackReceived, errors.New("empty state"))
	}
	state, err := m.Store.Take(ctx, value)
	if errors.Is(err, ErrStateNotFound) {
		return nil, NewAuthError(ErrInvalidState, StageCallbackReceived, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if state.IsExpired(m.Now()) {
		m.Logger.Info("expired state presented", "provider", state.Provider, "issued_at", state.IssuedAt)
		return nil, NewAuthError(ErrInvalidState, StageCallbackReceived, errors.New("state expired"))
	}
	return state, nil
}

// MemoryStateStore keeps states in process memory. Call Run to sweep expired
// entries; Take never returns expired entries regardless.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*AuthState

	// Now defaults to time.Now.
	Now func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*AuthState), Now: time.Now}
}

func (s *MemoryStateStore) Put(_ context.Context, state *AuthState) error {
	copied := *state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Value] = &copied
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, value string) (*AuthState, error) {
	s.mu.Lock()
	state, ok := s.states[value]
	delete(s.states, value)
	s.mu.Unlock()
	if !ok || state.IsExpired(s.Now()) {
		return nil, ErrStateNotFound
	}
	return state, nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStateStore) Sweep() int {
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, st := range s.states {
		if st.IsExpired(now) {
			delete(s.states, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of held entries, expired or not.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Run sweeps every interval until ctx is cancelled.
func (s *MemoryStateStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("swept expired auth states", "count", n)
			}
		}
	}
}

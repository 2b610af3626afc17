package socialauth_test

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"

	sa "github.com/panyam/socialauth"
	"github.com/panyam/socialauth/stores/fs"
)

const testSecret = "test-secret-key-at-least-32-bytes!!"

// fakeExchanger stands in for the provider round trips. Codes map to the
// identity the provider would return for them.
type fakeExchanger struct {
	mu            sync.Mutex
	identities    map[string]*sa.NormalizedIdentity
	exchangeErr   error
	fetchErr      error
	exchangeCalls int
	lastVerifier  string
}

func newFakeExchanger() *fakeExchanger {
	return &fakeExchanger{identities: map[string]*sa.NormalizedIdentity{}}
}

func (f *fakeExchanger) setIdentity(code string, identity sa.NormalizedIdentity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[code] = &identity
}

func (f *fakeExchanger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangeCalls
}

func (f *fakeExchanger) ExchangeCode(_ context.Context, _ sa.ProviderConfig, code, verifier string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeCalls++
	f.lastVerifier = verifier
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	if _, ok := f.identities[code]; !ok {
		return nil, fmt.Errorf("%w: unknown code", sa.ErrExchange)
	}
	return &oauth2.Token{AccessToken: "tok-" + code, TokenType: "Bearer"}, nil
}

func (f *fakeExchanger) FetchIdentity(_ context.Context, _ sa.ProviderConfig, token *oauth2.Token) (*sa.NormalizedIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	identity, ok := f.identities[strings.TrimPrefix(token.AccessToken, "tok-")]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", sa.ErrIdentityFetch)
	}
	copied := *identity
	return &copied, nil
}

// testEnv wires the login core over a file store and in-memory states.
type testEnv struct {
	Accounts  *fs.FSAccountStore
	States    *sa.StateManager
	Exchanger *fakeExchanger
	Sessions  *sa.SessionIssuer
	Flow      *sa.FlowController
}

func newTestEnv(t *testing.T, policy sa.LinkPolicy) *testEnv {
	t.Helper()
	accounts := fs.NewFSAccountStore(t.TempDir())

	registry, err := sa.NewRegistry(
		sa.GoogleProvider("google-id", "google-secret", "http://localhost:8080/auth/google/callback"),
		sa.GitHubProvider("github-id", "github-secret", "http://localhost:8080/auth/github/callback"),
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	sessions, err := sa.NewSessionIssuer(accounts, testSecret, "test", 0)
	if err != nil {
		t.Fatalf("NewSessionIssuer failed: %v", err)
	}

	env := &testEnv{
		Accounts:  accounts,
		States:    sa.NewStateManager(sa.NewMemoryStateStore(), 0),
		Exchanger: newFakeExchanger(),
		Sessions:  sessions,
	}
	env.Flow = &sa.FlowController{
		Registry:  registry,
		States:    env.States,
		Exchanger: env.Exchanger,
		Resolver:  sa.NewResolver(accounts, policy),
		Sessions:  sessions,
	}
	return env
}

// begin starts a flow and returns the state value from the authorize URL.
func (e *testEnv) begin(t *testing.T, provider sa.Provider, redirect string) string {
	t.Helper()
	authURL, err := e.Flow.BeginAuth(context.Background(), provider, redirect)
	if err != nil {
		t.Fatalf("BeginAuth(%s) failed: %v", provider, err)
	}
	return stateFromURL(t, authURL)
}

// login runs both legs for provider with code and expects success.
func (e *testEnv) login(t *testing.T, provider sa.Provider, code string) *sa.CallbackResult {
	t.Helper()
	state := e.begin(t, provider, "")
	result, err := e.Flow.HandleCallback(context.Background(), sa.CallbackParams{
		Provider: provider, Code: code, State: state,
	})
	if err != nil {
		t.Fatalf("HandleCallback(%s, %s) failed: %v", provider, code, err)
	}
	return result
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("bad URL %q: %v", raw, err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("no state in %q", raw)
	}
	return state
}

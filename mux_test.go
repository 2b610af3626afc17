package socialauth_test

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	sa "github.com/panyam/socialauth"
)

type testServer struct {
	*testEnv
	server *httptest.Server
	client *http.Client
}

func newTestServer(t *testing.T, limiter sa.RateLimiter) *testServer {
	t.Helper()
	env := newTestEnv(t, sa.LinkByEmail)
	svc := &sa.AuthService{
		Flow:         env.Flow,
		Local:        &sa.LocalAuth{Accounts: env.Accounts, Sessions: env.Sessions},
		Sessions:     env.Sessions,
		LoginLimiter: limiter,
		SuccessURL:   "https://app.example.com/welcome",
		ErrorURL:     "https://app.example.com/oops",
		Version:      "test",
	}
	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)

	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testServer{testEnv: env, server: server, client: client}
}

func (s *testServer) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) post(t *testing.T, path, contentType, body string) *http.Response {
	t.Helper()
	resp, err := s.client.Post(s.server.URL+path, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// browserLogin follows the begin and callback legs like a browser would and
// returns the success redirect.
func (s *testServer) browserLogin(t *testing.T, provider, code, redirect string) *url.URL {
	t.Helper()
	path := "/auth/" + provider
	if redirect != "" {
		path += "?redirect=" + url.QueryEscape(redirect)
	}
	resp := s.get(t, path, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("begin status = %d", resp.StatusCode)
	}
	state := stateFromURL(t, resp.Header.Get("Location"))

	resp = s.get(t, "/auth/"+provider+"/callback?code="+code+"&state="+state, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("callback status = %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("bad callback redirect: %v", err)
	}
	return location
}

func TestHTTPBeginAuthRedirects(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.get(t, "/auth/google", "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if !strings.HasPrefix(location, "https://accounts.google.com/") {
		t.Errorf("redirected to %s", location)
	}
	q := mustQuery(t, location)
	if q.Get("redirect_uri") != "http://localhost:8080/auth/google/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}

	resp = s.get(t, "/auth/myspace", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", resp.StatusCode)
	}
}

func TestHTTPCallbackSuccess(t *testing.T) {
	s := newTestServer(t, nil)
	s.Exchanger.setIdentity("c1", sa.NormalizedIdentity{ProviderUserID: "42", Email: "u@g.com", DisplayName: "U"})

	location := s.browserLogin(t, "google", "c1", "/dashboard")
	if location.Host != "app.example.com" || location.Path != "/welcome" {
		t.Fatalf("success redirect = %s", location)
	}
	token := location.Query().Get("token")
	if token == "" {
		t.Fatal("success redirect carries no token")
	}
	if location.Query().Get("redirect") != "/dashboard" {
		t.Errorf("redirect = %q", location.Query().Get("redirect"))
	}

	resp := s.get(t, "/api/auth/user", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("user status = %d", resp.StatusCode)
	}
	var user sa.Account
	decodeBody(t, resp, &user)
	if user.Email != "u@g.com" || user.Provider != sa.ProviderGoogle {
		t.Errorf("user = %+v", user)
	}
}

func TestHTTPCallbackKeepsBrowserSession(t *testing.T) {
	s := newTestServer(t, nil)
	s.Exchanger.setIdentity("c1", sa.NormalizedIdentity{ProviderUserID: "42", Email: "u@g.com"})
	s.browserLogin(t, "google", "c1", "")

	resp := s.get(t, "/api/auth/user", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cookie session not accepted: %d", resp.StatusCode)
	}

	resp = s.post(t, "/api/auth/logout", "application/json", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp = s.get(t, "/api/auth/user", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("after logout status = %d, want 401", resp.StatusCode)
	}
}

func TestHTTPCallbackErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name     string
		path     string
		wantCode string
	}{
		{"unknown state", "/auth/google/callback?code=c1&state=forged", sa.CodeInvalidState},
		{"missing state", "/auth/google/callback?code=c1", sa.CodeInvalidState},
		{"unknown provider", "/auth/myspace/callback?code=c1&state=x", sa.CodeUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.get(t, tt.path, "")
			if resp.StatusCode != http.StatusFound {
				t.Fatalf("status = %d, want 302", resp.StatusCode)
			}
			location, _ := url.Parse(resp.Header.Get("Location"))
			if location.Path != "/oops" {
				t.Errorf("redirected to %s", location)
			}
			if got := location.Query().Get("error"); got != tt.wantCode {
				t.Errorf("error = %q, want %q", got, tt.wantCode)
			}
			if location.Query().Get("token") != "" {
				t.Error("error redirect must not carry a token")
			}
		})
	}

	t.Run("provider denied", func(t *testing.T) {
		resp := s.get(t, "/auth/github", "")
		state := stateFromURL(t, resp.Header.Get("Location"))
		resp = s.get(t, "/auth/github/callback?error=access_denied&state="+state, "")
		location, _ := url.Parse(resp.Header.Get("Location"))
		if got := location.Query().Get("error"); got != sa.CodeAccessDenied {
			t.Errorf("error = %q", got)
		}
	})
}

func TestHTTPDropsOffsiteRedirectTargets(t *testing.T) {
	s := newTestServer(t, nil)
	s.Exchanger.setIdentity("c1", sa.NormalizedIdentity{ProviderUserID: "42"})

	for _, target := range []string{"https://evil.example.com", "//evil.example.com", `/\evil.example.com`} {
		location := s.browserLogin(t, "google", "c1", target)
		if got := location.Query().Get("redirect"); got != "" {
			t.Errorf("target %q came back as %q", target, got)
		}
	}
}

func TestHTTPProvidersAndCheck(t *testing.T) {
	s := newTestServer(t, nil)

	var providers struct {
		Providers []struct {
			Name    string `json:"name"`
			AuthURL string `json:"auth_url"`
		} `json:"providers"`
	}
	decodeBody(t, s.get(t, "/api/auth/providers", ""), &providers)
	if len(providers.Providers) != 2 || providers.Providers[0].Name != "github" || providers.Providers[1].AuthURL != "/auth/google" {
		t.Errorf("providers = %+v", providers.Providers)
	}

	var check struct {
		Authenticated bool `json:"authenticated"`
	}
	decodeBody(t, s.get(t, "/api/auth/check", ""), &check)
	if check.Authenticated {
		t.Error("anonymous check reported authenticated")
	}

	resp := s.get(t, "/api/auth/user", "garbage")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("401 without WWW-Authenticate")
	}
}

func TestHTTPRegisterAndLogin(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.post(t, "/api/auth/register", "application/json",
		`{"email":"new@example.com","password":"password123","fullName":"New"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	decodeBody(t, resp, &token)
	if token.AccessToken == "" || token.TokenType != sa.TokenTypeBearer || token.ExpiresIn <= 0 {
		t.Errorf("token response = %+v", token)
	}

	resp = s.post(t, "/api/auth/register", "application/json", `{"email":"new@example.com","password":"password123"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate register status = %d", resp.StatusCode)
	}

	resp = s.post(t, "/api/auth/login", "application/json", `{"email":"new@example.com","password":"password123"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("login status = %d", resp.StatusCode)
	}
	resp = s.post(t, "/api/auth/login", "application/json", `{"email":"new@example.com","password":"nope-nope"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password status = %d", resp.StatusCode)
	}

	form := url.Values{"grant_type": {"password"}, "username": {"new@example.com"}, "password": {"password123"}}
	resp = s.post(t, "/api/auth/token", "application/x-www-form-urlencoded", form.Encode())
	if resp.StatusCode != http.StatusOK {
		t.Errorf("token grant status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Error("token response should not be cached")
	}

	form.Set("grant_type", "client_credentials")
	resp = s.post(t, "/api/auth/token", "application/x-www-form-urlencoded", form.Encode())
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unsupported grant status = %d", resp.StatusCode)
	}
}

func TestHTTPLoginRateLimit(t *testing.T) {
	s := newTestServer(t, sa.NewKeyedLimiter(1, 2))

	body := `{"email":"nobody@example.com","password":"whatever1"}`
	for i := 0; i < 2; i++ {
		if resp := s.post(t, "/api/auth/login", "application/json", body); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i, resp.StatusCode)
		}
	}
	resp := s.post(t, "/api/auth/login", "application/json", body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("third attempt status = %d, want 429", resp.StatusCode)
	}

	other := `{"email":"someone@example.com","password":"whatever1"}`
	if resp := s.post(t, "/api/auth/login", "application/json", other); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("other email status = %d, want 401", resp.StatusCode)
	}
}

func TestHTTPHealth(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.get(t, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

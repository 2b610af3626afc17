package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	sa "github.com/panyam/socialauth"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrNotLoggedIn        = errors.New("not logged in")
)

// APIError is an error body returned by the server.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Description, e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Code, e.StatusCode)
}

// tokenResponse is the body of a successful login or registration.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AuthClient logs in to one server and keeps its credential in a CredentialStore
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	baseTransport http.RoundTripper
	httpClient    *http.Client
	timeout       time.Duration
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds every request the client makes.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *AuthClient) {
		c.timeout = timeout
	}
}

// NewAuthClient creates a client for serverURL. Only the scheme and host of
// serverURL are kept.
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:     serverURL,
		store:         store,
		baseTransport: http.DefaultTransport,
		timeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = &http.Client{
		Transport: &AuthTransport{Base: c.baseTransport, Source: c},
		Timeout:   c.timeout,
	}
	return c
}

// HTTPClient returns a client that sends the stored credential on every request
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// Token returns the stored access token, or "" when there is none or it has
// expired. It makes AuthClient a TokenSource.
func (c *AuthClient) Token() (string, error) {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.IsExpired() {
		return "", nil
	}
	return cred.AccessToken, nil
}

// GetCredential returns the stored credential for this server
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *AuthClient) IsLoggedIn() bool {
	token, err := c.Token()
	return err == nil && token != ""
}

// Login exchanges email and password at the token endpoint with the OAuth2
// password grant and stores the resulting credential.
func (c *AuthClient) Login(ctx context.Context, email, password string) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.serverURL + "/api/auth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: c.baseTransport, Timeout: c.timeout})
	token, err := cfg.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			switch retrieveErr.Response.StatusCode {
			case http.StatusUnauthorized:
				return nil, ErrInvalidCredentials
			case http.StatusTooManyRequests:
				return nil, ErrRateLimited
			}
		}
		return nil, fmt.Errorf("login failed: %w", err)
	}

	cred := &ServerCredential{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		UserEmail:   sa.NormalizeEmail(email),
		ExpiresAt:   token.Expiry,
		CreatedAt:   time.Now(),
	}
	return cred, c.storeLocked(ctx, cred)
}

// Register creates a local account and stores the credential the server issues.
func (c *AuthClient) Register(ctx context.Context, email, password, fullName string) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, _ := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
		"fullName": fullName,
	})
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", "", body, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	cred := &ServerCredential{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		UserEmail:   sa.NormalizeEmail(email),
		ExpiresAt:   now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		CreatedAt:   now,
	}
	return cred, c.storeLocked(ctx, cred)
}

// storeLocked fills in the account id and persists cred. Caller must hold c.mu.
func (c *AuthClient) storeLocked(ctx context.Context, cred *ServerCredential) error {
	var account sa.Account
	if err := c.do(ctx, http.MethodGet, "/api/auth/user", cred.AccessToken, nil, &account); err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	cred.UserID = account.ID
	if account.Email != "" {
		cred.UserEmail = account.Email
	}

	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// User returns the account the stored credential belongs to.
func (c *AuthClient) User(ctx context.Context) (*sa.Account, error) {
	token, err := c.Token()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotLoggedIn
	}
	var account sa.Account
	if err := c.do(ctx, http.MethodGet, "/api/auth/user", token, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Check asks the server whether the stored credential is still accepted. It
// returns the account when it is and nil otherwise.
func (c *AuthClient) Check(ctx context.Context) (*sa.Account, error) {
	token, err := c.Token()
	if err != nil || token == "" {
		return nil, err
	}
	var resp struct {
		Authenticated bool        `json:"authenticated"`
		User          *sa.Account `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/check", token, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Authenticated {
		return nil, nil
	}
	return resp.User, nil
}

// Logout tells the server to end its session and forgets the local credential.
// The credential is removed even if the server cannot be reached.
func (c *AuthClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, _ := c.Token()
	var serverErr error
	if token != "" {
		serverErr = c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
	}
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	if err := c.store.Save(); err != nil {
		return err
	}
	return serverErr
}

// do sends a request with an optional bearer token and decodes the JSON
// response into out. Non-2xx responses become *APIError.
func (c *AuthClient) do(ctx context.Context, method, path, token string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpClient := &http.Client{Transport: c.baseTransport, Timeout: c.timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = strings.ToLower(http.StatusText(resp.StatusCode))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// Package oauth2 exchanges authorization codes and fetches provider profiles
// for the Google and GitHub providers.
package oauth2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	sa "github.com/panyam/socialauth"
)

// DefaultTimeout bounds every call to a provider.
const DefaultTimeout = 10 * time.Second

// Client implements socialauth.TokenExchanger over HTTP.
type Client struct {
	// HTTPClient is used for all provider calls. Tests point it at a mock
	// provider; defaults to a client with Timeout set.
	HTTPClient *http.Client

	// Timeout applies to each exchange and to each identity fetch as a whole.
	Timeout time.Duration

	Logger *slog.Logger
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
	}
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return &http.Client{Timeout: c.timeout()}
	}
	return c.HTTPClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// ExchangeCode trades code for a provider token. Authorization codes are
// single use so a failed exchange is never retried.
func (c *Client) ExchangeCode(ctx context.Context, provider sa.ProviderConfig, code, verifier string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient())

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	token, err := provider.OAuth2Config().Exchange(ctx, code, opts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			c.logger().Warn("provider rejected code exchange",
				"provider", provider.Name,
				"status", status,
				"error_code", retrieveErr.ErrorCode,
				"error_description", retrieveErr.ErrorDescription)
		}
		return nil, sa.NewAuthError(sa.ErrExchange, sa.StageCallbackReceived, err)
	}
	if token.AccessToken == "" {
		return nil, sa.NewAuthError(sa.ErrExchange, sa.StageCallbackReceived, errors.New("empty access token"))
	}
	return token, nil
}

// FetchIdentity loads the provider profile and maps it to a NormalizedIdentity.
func (c *Client) FetchIdentity(ctx context.Context, provider sa.ProviderConfig, token *oauth2.Token) (*sa.NormalizedIdentity, error) {
	if token == nil || token.AccessToken == "" {
		return nil, sa.NewAuthError(sa.ErrIdentityFetch, sa.StageExchanged, errors.New("missing access token"))
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var identity *sa.NormalizedIdentity
	var err error
	switch provider.Name {
	case sa.ProviderGoogle:
		identity, err = c.fetchGoogleIdentity(ctx, provider, token.AccessToken)
	case sa.ProviderGitHub:
		identity, err = c.fetchGitHubIdentity(ctx, provider, token.AccessToken)
	default:
		err = fmt.Errorf("no profile mapping for provider %q", provider.Name)
	}
	if err != nil {
		return nil, sa.NewAuthError(sa.ErrIdentityFetch, sa.StageExchanged, err)
	}
	if identity.ProviderUserID == "" {
		return nil, sa.NewAuthError(sa.ErrIdentityFetch, sa.StageExchanged, errors.New("profile has no user id"))
	}
	identity.Email = sa.NormalizeEmail(identity.Email)
	return identity, nil
}

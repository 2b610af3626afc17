package socialauth

import (
	"context"

	"golang.org/x/oauth2"
)

// NormalizedIdentity is the provider-agnostic shape of a provider profile.
type NormalizedIdentity struct {
	ProviderUserID string `json:"provider_user_id"`
	Email          string `json:"email"`
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url"`
}

// TokenExchanger talks to identity providers on behalf of the flow. The
// oauth2 subpackage provides the HTTP implementation.
type TokenExchanger interface {
	// ExchangeCode trades an authorization code for a provider token. It never
	// retries. Failures wrap ErrExchange.
	ExchangeCode(ctx context.Context, provider ProviderConfig, code, verifier string) (*oauth2.Token, error)

	// FetchIdentity loads and normalizes the provider profile. Failures wrap
	// ErrIdentityFetch.
	FetchIdentity(ctx context.Context, provider ProviderConfig, token *oauth2.Token) (*NormalizedIdentity, error)
}

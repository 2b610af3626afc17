package socialauth

import (
	"fmt"
	"slices"
	"sort"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const (
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	GitHubUserInfoURL = "https://api.github.com/user"
	GitHubEmailsURL   = "https://api.github.com/user/emails"
)

// ProviderConfig describes one identity provider.
type ProviderConfig struct {
	Name        Provider
	DisplayName string
	Icon        string

	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// EmailsURL lists the user's addresses when the profile hides them (GitHub).
	EmailsURL string

	Scopes  []string
	UsePKCE bool
}

// OAuth2Config builds the golang.org/x/oauth2 config for this provider.
func (p ProviderConfig) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Scopes:       slices.Clone(p.Scopes),
		// An explicit style stops the library from re-posting a failed
		// exchange with the other style.
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// GoogleProvider returns the Google configuration with the given client credentials.
func GoogleProvider(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Name:         ProviderGoogle,
		DisplayName:  "Google",
		Icon:         "google",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      google.Endpoint.AuthURL,
		TokenURL:     google.Endpoint.TokenURL,
		UserInfoURL:  GoogleUserInfoURL,
		Scopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		UsePKCE: true,
	}
}

// GitHubProvider returns the GitHub configuration with the given client credentials.
func GitHubProvider(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Name:         ProviderGitHub,
		DisplayName:  "GitHub",
		Icon:         "github",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      github.Endpoint.AuthURL,
		TokenURL:     github.Endpoint.TokenURL,
		UserInfoURL:  GitHubUserInfoURL,
		EmailsURL:    GitHubEmailsURL,
		Scopes:       []string{"read:user", "user:email"},
	}
}

// Registry is an immutable lookup of provider configurations. Build it once
// at start-up and pass it to whatever needs it.
type Registry struct {
	providers map[Provider]ProviderConfig
}

// NewRegistry validates and copies the given configurations.
func NewRegistry(configs ...ProviderConfig) (*Registry, error) {
	r := &Registry{providers: make(map[Provider]ProviderConfig, len(configs))}
	for _, c := range configs {
		if c.Name == "" || c.Name == ProviderLocal {
			return nil, fmt.Errorf("invalid provider name %q", c.Name)
		}
		if _, exists := r.providers[c.Name]; exists {
			return nil, fmt.Errorf("provider %q registered twice", c.Name)
		}
		if c.ClientID == "" || c.ClientSecret == "" {
			return nil, fmt.Errorf("provider %q: client id and secret are required", c.Name)
		}
		if c.AuthURL == "" || c.TokenURL == "" || c.UserInfoURL == "" {
			return nil, fmt.Errorf("provider %q: endpoints are required", c.Name)
		}
		c.Scopes = slices.Clone(c.Scopes)
		r.providers[c.Name] = c
	}
	return r, nil
}

// Get returns a copy of the named provider's configuration.
func (r *Registry) Get(name Provider) (ProviderConfig, error) {
	c, ok := r.providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	c.Scopes = slices.Clone(c.Scopes)
	return c, nil
}

// Names lists registered providers in a stable order.
func (r *Registry) Names() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

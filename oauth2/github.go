package oauth2

import (
	"context"

	sa "github.com/panyam/socialauth"
)

const githubAccept = "application/vnd.github+json"

type githubUser struct {
	ID        flexibleID `json:"id"`
	Login     string     `json:"login"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	AvatarURL string     `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (c *Client) fetchGitHubIdentity(ctx context.Context, provider sa.ProviderConfig, accessToken string) (*sa.NormalizedIdentity, error) {
	var user githubUser
	if err := c.getJSON(ctx, provider.UserInfoURL, accessToken, githubAccept, &user); err != nil {
		return nil, err
	}

	identity := &sa.NormalizedIdentity{
		ProviderUserID: string(user.ID),
		Email:          user.Email,
		DisplayName:    user.Name,
		AvatarURL:      user.AvatarURL,
	}
	if identity.DisplayName == "" {
		identity.DisplayName = user.Login
	}
	if identity.Email == "" && provider.EmailsURL != "" {
		email, err := c.primaryGitHubEmail(ctx, provider, accessToken)
		if err != nil {
			return nil, err
		}
		identity.Email = email
	}
	return identity, nil
}

// primaryGitHubEmail returns the address flagged both primary and verified, or
// "" when there is none. A list that cannot be read also yields "" unless the
// call ran out of time.
func (c *Client) primaryGitHubEmail(ctx context.Context, provider sa.ProviderConfig, accessToken string) (string, error) {
	var emails []githubEmail
	if err := c.getJSON(ctx, provider.EmailsURL, accessToken, githubAccept, &emails); err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		c.logger().Warn("could not list github emails", "err", err)
		return "", nil
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

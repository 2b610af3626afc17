package oauth2

import (
	"context"

	sa "github.com/panyam/socialauth"
)

// googleUserInfo covers both the v2 userinfo and the OpenID Connect shapes.
type googleUserInfo struct {
	ID            flexibleID `json:"id"`
	Sub           string     `json:"sub"`
	Email         string     `json:"email"`
	VerifiedEmail *bool      `json:"verified_email"`
	EmailVerified *bool      `json:"email_verified"`
	Name          string     `json:"name"`
	Picture       string     `json:"picture"`
}

func (c *Client) fetchGoogleIdentity(ctx context.Context, provider sa.ProviderConfig, accessToken string) (*sa.NormalizedIdentity, error) {
	var info googleUserInfo
	if err := c.getJSON(ctx, provider.UserInfoURL, accessToken, "application/json", &info); err != nil {
		return nil, err
	}

	id := string(info.ID)
	if id == "" {
		id = info.Sub
	}
	email := info.Email
	if unverified(info.VerifiedEmail) || unverified(info.EmailVerified) {
		c.logger().Info("ignoring unverified google email", "provider_user_id", id)
		email = ""
	}
	return &sa.NormalizedIdentity{
		ProviderUserID: id,
		Email:          email,
		DisplayName:    info.Name,
		AvatarURL:      info.Picture,
	}, nil
}

func unverified(flag *bool) bool {
	return flag != nil && !*flag
}

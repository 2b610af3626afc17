//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	sa "github.com/panyam/socialauth"
)

// AccountEntity is the Datastore entity for accounts, keyed by account ID
type AccountEntity struct {
	Key            *datastore.Key `datastore:"__key__"`
	Email          string         `datastore:"email"`
	DisplayName    string         `datastore:"display_name,noindex"`
	AvatarURL      string         `datastore:"avatar_url,noindex"`
	Provider       string         `datastore:"provider"`
	ProviderUserID string         `datastore:"provider_user_id"`
	PasswordHash   string         `datastore:"password_hash,noindex"`
	CreatedAt      time.Time      `datastore:"created_at"`
	UpdatedAt      time.Time      `datastore:"updated_at"`
}

func (e *AccountEntity) ToAccount() *sa.Account {
	return &sa.Account{
		ID:             e.Key.Name,
		Email:          e.Email,
		DisplayName:    e.DisplayName,
		AvatarURL:      e.AvatarURL,
		Provider:       sa.Provider(e.Provider),
		ProviderUserID: e.ProviderUserID,
		PasswordHash:   e.PasswordHash,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func AccountToEntity(a *sa.Account, key *datastore.Key) *AccountEntity {
	return &AccountEntity{
		Key:            key,
		Email:          sa.NormalizeEmail(a.Email),
		DisplayName:    a.DisplayName,
		AvatarURL:      a.AvatarURL,
		Provider:       string(a.Provider),
		ProviderUserID: a.ProviderUserID,
		PasswordHash:   a.PasswordHash,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// LinkEntity reserves a unique value for one account.
// Key format: Provider + ":" + ProviderUserID, or the normalized email.
type LinkEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at,noindex"`
}

// AuthStateEntity is the Datastore entity for in-flight authorization states
type AuthStateEntity struct {
	Key            *datastore.Key `datastore:"__key__"`
	Provider       string         `datastore:"provider,noindex"`
	RedirectTarget string         `datastore:"redirect_target,noindex"`
	CodeVerifier   string         `datastore:"code_verifier,noindex"`
	IssuedAt       time.Time      `datastore:"issued_at,noindex"`
	ExpiresAt      time.Time      `datastore:"expires_at"`
}

func (e *AuthStateEntity) ToAuthState() *sa.AuthState {
	return &sa.AuthState{
		Value:          e.Key.Name,
		Provider:       sa.Provider(e.Provider),
		RedirectTarget: e.RedirectTarget,
		CodeVerifier:   e.CodeVerifier,
		IssuedAt:       e.IssuedAt,
		ExpiresAt:      e.ExpiresAt,
	}
}

func AuthStateToEntity(s *sa.AuthState, key *datastore.Key) *AuthStateEntity {
	return &AuthStateEntity{
		Key:            key,
		Provider:       string(s.Provider),
		RedirectTarget: s.RedirectTarget,
		CodeVerifier:   s.CodeVerifier,
		IssuedAt:       s.IssuedAt,
		ExpiresAt:      s.ExpiresAt,
	}
}

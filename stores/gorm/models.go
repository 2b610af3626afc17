//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	sa "github.com/panyam/socialauth"
)

// AccountModel is the GORM model for accounts. Email is nullable so that
// accounts without an address do not collide on the unique index.
type AccountModel struct {
	ID             string    `gorm:"primaryKey;size:64"`
	Email          *string   `gorm:"size:320;uniqueIndex"`
	DisplayName    string    `gorm:"size:255"`
	AvatarURL      string    `gorm:"size:1024"`
	Provider       string    `gorm:"size:32;uniqueIndex:idx_accounts_provider_user"`
	ProviderUserID string    `gorm:"size:255;uniqueIndex:idx_accounts_provider_user"`
	PasswordHash   string    `gorm:"size:128"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *sa.Account {
	a := &sa.Account{
		ID:             m.ID,
		DisplayName:    m.DisplayName,
		AvatarURL:      m.AvatarURL,
		Provider:       sa.Provider(m.Provider),
		ProviderUserID: m.ProviderUserID,
		PasswordHash:   m.PasswordHash,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.Email != nil {
		a.Email = *m.Email
	}
	return a
}

func AccountToModel(a *sa.Account) *AccountModel {
	m := &AccountModel{
		ID:             a.ID,
		DisplayName:    a.DisplayName,
		AvatarURL:      a.AvatarURL,
		Provider:       string(a.Provider),
		ProviderUserID: a.ProviderUserID,
		PasswordHash:   a.PasswordHash,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	if email := sa.NormalizeEmail(a.Email); email != "" {
		m.Email = &email
	}
	return m
}

// AuthStateModel is the GORM model for in-flight authorization states
type AuthStateModel struct {
	Value          string    `gorm:"primaryKey;size:128"`
	Provider       string    `gorm:"size:32"`
	RedirectTarget string    `gorm:"size:2048"`
	CodeVerifier   string    `gorm:"size:128"`
	IssuedAt       time.Time
	ExpiresAt      time.Time `gorm:"index"`
}

func (AuthStateModel) TableName() string {
	return "auth_states"
}

func (m *AuthStateModel) ToAuthState() *sa.AuthState {
	return &sa.AuthState{
		Value:          m.Value,
		Provider:       sa.Provider(m.Provider),
		RedirectTarget: m.RedirectTarget,
		CodeVerifier:   m.CodeVerifier,
		IssuedAt:       m.IssuedAt,
		ExpiresAt:      m.ExpiresAt,
	}
}

func AuthStateToModel(s *sa.AuthState) *AuthStateModel {
	return &AuthStateModel{
		Value:          s.Value,
		Provider:       string(s.Provider),
		RedirectTarget: s.RedirectTarget,
		CodeVerifier:   s.CodeVerifier,
		IssuedAt:       s.IssuedAt,
		ExpiresAt:      s.ExpiresAt,
	}
}

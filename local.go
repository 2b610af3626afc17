package socialauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

// ValidationError reports a rejected registration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// LocalAuth is the email and password login path.
type LocalAuth struct {
	Accounts AccountStore
	Sessions *SessionIssuer

	// MinPasswordLength defaults to 8.
	MinPasswordLength int

	Now    func() time.Time
	Logger *slog.Logger
}

func (a *LocalAuth) EnsureDefaults() *LocalAuth {
	if a.MinPasswordLength <= 0 {
		a.MinPasswordLength = 8
	}
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	return a
}

// Register creates a local account and signs it in.
func (a *LocalAuth) Register(ctx context.Context, email, password, fullName string) (*Account, *SessionCredential, error) {
	a.EnsureDefaults()
	email = NormalizeEmail(email)
	if !emailRegex.MatchString(email) {
		return nil, nil, &ValidationError{Field: "email", Message: "invalid email format"}
	}
	if len(password) < a.MinPasswordLength {
		return nil, nil, &ValidationError{Field: "password",
			Message: fmt.Sprintf("password must be at least %d characters", a.MinPasswordLength)}
	}

	if _, err := a.Accounts.GetAccountByEmail(ctx, email); err == nil {
		return nil, nil, ErrEmailTaken
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, nil, fmt.Errorf("failed to look up email: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}
	now := a.Now()
	id := NewAccountID()
	account := &Account{
		ID:             id,
		Email:          email,
		DisplayName:    strings.TrimSpace(fullName),
		Provider:       ProviderLocal,
		ProviderUserID: id,
		PasswordHash:   hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.Accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, fmt.Errorf("failed to create account: %w", err)
	}
	a.Logger.Info("registered local account", "account_id", account.ID)

	credential, err := a.Sessions.Issue(account)
	if err != nil {
		return nil, nil, err
	}
	return account, credential, nil
}

// Login checks the password and issues a credential. Unknown emails, accounts
// without a password and wrong passwords all return ErrInvalidCredentials.
func (a *LocalAuth) Login(ctx context.Context, email, password string) (*Account, *SessionCredential, error) {
	a.EnsureDefaults()
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, ErrInvalidCredentials
	}

	account, err := a.Accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, nil, fmt.Errorf("failed to look up email: %w", err)
		}
		CheckPassword(string(dummyHash), password)
		return nil, nil, ErrInvalidCredentials
	}
	if account.PasswordHash == "" {
		CheckPassword(string(dummyHash), password)
		a.Logger.Info("password login for provider-only account", "account_id", account.ID)
		return nil, nil, ErrInvalidCredentials
	}
	if !CheckPassword(account.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	credential, err := a.Sessions.Issue(account)
	if err != nil {
		return nil, nil, err
	}
	return account, credential, nil
}

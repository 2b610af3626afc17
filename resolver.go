package socialauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// LinkPolicy decides what happens when a new provider identity carries the
// email of an existing account.
type LinkPolicy int

const (
	// LinkByEmail moves the existing account over to the new provider identity.
	// This trusts the provider's claim of email ownership: anyone who controls
	// an account at any registered provider with a matching email signs in to
	// the local account.
	LinkByEmail LinkPolicy = iota

	// StrictEmail refuses the login with ErrAccountConflict instead.
	StrictEmail
)

func (p LinkPolicy) String() string {
	if p == StrictEmail {
		return "strict"
	}
	return "link"
}

// ParseLinkPolicy accepts "link" and "strict".
func ParseLinkPolicy(s string) (LinkPolicy, error) {
	switch s {
	case "", "link":
		return LinkByEmail, nil
	case "strict":
		return StrictEmail, nil
	}
	return LinkByEmail, fmt.Errorf("unknown link policy %q", s)
}

// Resolver maps normalized provider identities onto local accounts.
type Resolver struct {
	Store  AccountStore
	Policy LinkPolicy
	Now    func() time.Time
	Logger *slog.Logger
}

func NewResolver(store AccountStore, policy LinkPolicy) *Resolver {
	return (&Resolver{Store: store, Policy: policy}).EnsureDefaults()
}

func (r *Resolver) EnsureDefaults() *Resolver {
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	return r
}

// Resolve finds, links or creates the account for identity.
//
// Concurrent calls for the same identity are settled by the store's unique
// constraints: the loser of a create race sees ErrDuplicateAccount and falls
// back to a lookup.
func (r *Resolver) Resolve(ctx context.Context, provider Provider, identity *NormalizedIdentity) (*Account, error) {
	if identity == nil || identity.ProviderUserID == "" {
		return nil, NewAuthError(ErrIdentityFetch, StageExchanged, errors.New("identity has no provider user id"))
	}
	email := NormalizeEmail(identity.Email)

	account, err := r.findExisting(ctx, provider, identity, email)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	now := r.Now()
	account = &Account{
		ID:             NewAccountID(),
		Email:          email,
		DisplayName:    identity.DisplayName,
		AvatarURL:      identity.AvatarURL,
		Provider:       provider,
		ProviderUserID: identity.ProviderUserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = r.Store.CreateAccount(ctx, account)
	if err == nil {
		r.Logger.Info("created account", "account_id", account.ID, "provider", provider)
		return account, nil
	}
	if !errors.Is(err, ErrDuplicateAccount) {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	r.Logger.Info("account created concurrently, retrying as lookup", "provider", provider)
	account, err = r.findExisting(ctx, provider, identity, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("duplicate reported but no account found: %w", ErrDuplicateAccount)
	}
	return account, err
}

func (r *Resolver) findExisting(ctx context.Context, provider Provider, identity *NormalizedIdentity, email string) (*Account, error) {
	account, err := r.Store.GetAccountByProvider(ctx, provider, identity.ProviderUserID)
	if err == nil {
		return r.refresh(ctx, account, identity, email)
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to look up provider identity: %w", err)
	}
	if email == "" {
		return nil, ErrAccountNotFound
	}

	account, err = r.Store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	if r.Policy == StrictEmail {
		r.Logger.Warn("refusing to link identity onto existing account",
			"account_id", account.ID, "existing_provider", account.Provider, "provider", provider)
		return nil, NewAuthError(ErrAccountConflict, StageExchanged,
			fmt.Errorf("email already used by a %s account", account.Provider))
	}
	return r.link(ctx, account, provider, identity)
}

// refresh overwrites the provider-sourced profile fields.
func (r *Resolver) refresh(ctx context.Context, account *Account, identity *NormalizedIdentity, email string) (*Account, error) {
	updated := account.Clone()
	applyProfile(updated, identity, r.Now())
	fillEmail := updated.Email == "" && email != ""
	if fillEmail {
		updated.Email = email
	}

	err := r.Store.UpdateAccount(ctx, updated)
	if errors.Is(err, ErrDuplicateAccount) && fillEmail {
		// the address already belongs to someone else; keep the account without it
		updated.Email = ""
		err = r.Store.UpdateAccount(ctx, updated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to refresh account: %w", err)
	}
	return updated, nil
}

func (r *Resolver) link(ctx context.Context, account *Account, provider Provider, identity *NormalizedIdentity) (*Account, error) {
	updated := account.Clone()
	updated.Provider = provider
	updated.ProviderUserID = identity.ProviderUserID
	applyProfile(updated, identity, r.Now())

	err := r.Store.UpdateAccount(ctx, updated)
	if errors.Is(err, ErrDuplicateAccount) {
		// the identity was bound elsewhere in the meantime
		return r.Store.GetAccountByProvider(ctx, provider, identity.ProviderUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to link account: %w", err)
	}
	r.Logger.Warn("linked provider identity to existing account by email",
		"account_id", updated.ID, "from_provider", account.Provider, "to_provider", provider)
	return updated, nil
}

func applyProfile(account *Account, identity *NormalizedIdentity, now time.Time) {
	if identity.DisplayName != "" {
		account.DisplayName = identity.DisplayName
	}
	if identity.AvatarURL != "" {
		account.AvatarURL = identity.AvatarURL
	}
	account.UpdatedAt = now
}

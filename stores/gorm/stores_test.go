//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	sa "github.com/panyam/socialauth"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("DB failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	return db
}

func newAccount(provider sa.Provider, providerUserID, email string) *sa.Account {
	now := time.Now().UTC()
	return &sa.Account{
		ID:             sa.NewAccountID(),
		Email:          email,
		DisplayName:    "Test User",
		Provider:       provider,
		ProviderUserID: providerUserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestAccountStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(setupTestDB(t))

	account := newAccount(sa.ProviderGoogle, "42", "U@G.com")
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	byID, err := store.GetAccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if byID.Email != "u@g.com" {
		t.Errorf("Expected normalized email, got %q", byID.Email)
	}

	byProvider, err := store.GetAccountByProvider(ctx, sa.ProviderGoogle, "42")
	if err != nil || byProvider.ID != account.ID {
		t.Fatalf("GetAccountByProvider = %v, %v", byProvider, err)
	}

	byEmail, err := store.GetAccountByEmail(ctx, "u@g.COM")
	if err != nil || byEmail.ID != account.ID {
		t.Fatalf("GetAccountByEmail = %v, %v", byEmail, err)
	}

	if _, err := store.GetAccountByID(ctx, "missing"); !errors.Is(err, sa.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
	if _, err := store.GetAccountByEmail(ctx, ""); !errors.Is(err, sa.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound for empty email, got %v", err)
	}
}

func TestAccountStore_Uniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(setupTestDB(t))

	if err := store.CreateAccount(ctx, newAccount(sa.ProviderGoogle, "42", "u@g.com")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	err := store.CreateAccount(ctx, newAccount(sa.ProviderGoogle, "42", "other@g.com"))
	if !errors.Is(err, sa.ErrDuplicateAccount) {
		t.Errorf("Expected ErrDuplicateAccount for provider id, got %v", err)
	}

	err = store.CreateAccount(ctx, newAccount(sa.ProviderGitHub, "7", "u@g.com"))
	if !errors.Is(err, sa.ErrDuplicateAccount) {
		t.Errorf("Expected ErrDuplicateAccount for email, got %v", err)
	}

	// Accounts without email never collide with each other.
	if err := store.CreateAccount(ctx, newAccount(sa.ProviderGitHub, "8", "")); err != nil {
		t.Fatalf("CreateAccount without email failed: %v", err)
	}
	if err := store.CreateAccount(ctx, newAccount(sa.ProviderGitHub, "9", "")); err != nil {
		t.Fatalf("Second CreateAccount without email failed: %v", err)
	}
}

func TestAccountStore_Update(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(setupTestDB(t))

	account := newAccount(sa.ProviderGoogle, "42", "u@g.com")
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	other := newAccount(sa.ProviderGoogle, "43", "taken@g.com")
	if err := store.CreateAccount(ctx, other); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	account.Provider = sa.ProviderGitHub
	account.ProviderUserID = "9001"
	account.DisplayName = "Linked"
	if err := store.UpdateAccount(ctx, account); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}
	got, err := store.GetAccountByProvider(ctx, sa.ProviderGitHub, "9001")
	if err != nil {
		t.Fatalf("GetAccountByProvider failed: %v", err)
	}
	if got.ID != account.ID || got.DisplayName != "Linked" {
		t.Errorf("Unexpected account after update: %+v", got)
	}
	if _, err := store.GetAccountByProvider(ctx, sa.ProviderGoogle, "42"); !errors.Is(err, sa.ErrAccountNotFound) {
		t.Errorf("Old provider binding should be gone, got %v", err)
	}

	account.Email = "taken@g.com"
	if err := store.UpdateAccount(ctx, account); !errors.Is(err, sa.ErrDuplicateAccount) {
		t.Errorf("Expected ErrDuplicateAccount, got %v", err)
	}

	ghost := newAccount(sa.ProviderGoogle, "99", "")
	if err := store.UpdateAccount(ctx, ghost); !errors.Is(err, sa.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func newState(value string, now time.Time, ttl time.Duration) *sa.AuthState {
	return &sa.AuthState{
		Value:          value,
		Provider:       sa.ProviderGoogle,
		RedirectTarget: "/dashboard",
		CodeVerifier:   "verifier",
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
	}
}

func TestStateStore_TakeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(setupTestDB(t))

	now := time.Now().UTC()
	if err := store.Put(ctx, newState("abc", now, 10*time.Minute)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	state, err := store.Take(ctx, "abc")
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if state.Provider != sa.ProviderGoogle || state.RedirectTarget != "/dashboard" || state.CodeVerifier != "verifier" {
		t.Errorf("Unexpected state: %+v", state)
	}

	if _, err := store.Take(ctx, "abc"); !errors.Is(err, sa.ErrStateNotFound) {
		t.Errorf("Second Take should fail with ErrStateNotFound, got %v", err)
	}
}

func TestStateStore_ConcurrentTake(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(setupTestDB(t))
	if err := store.Put(ctx, newState("race", time.Now().UTC(), 10*time.Minute)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Take(ctx, "race"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one successful Take, got %d", wins)
	}
}

func TestStateStore_Expired(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(setupTestDB(t))

	now := time.Now().UTC()
	store.Now = func() time.Time { return now.Add(11 * time.Minute) }
	if err := store.Put(ctx, newState("old", now, 10*time.Minute)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := store.Take(ctx, "old"); !errors.Is(err, sa.ErrStateNotFound) {
		t.Errorf("Expected ErrStateNotFound for expired state, got %v", err)
	}
}

func TestStateStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(setupTestDB(t))

	now := time.Now().UTC()
	store.Put(ctx, newState("stale", now.Add(-2*time.Hour), 10*time.Minute))
	store.Put(ctx, newState("fresh", now, 10*time.Minute))
	store.Now = func() time.Time { return now }

	n, err := store.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired state removed, got %d", n)
	}
	if _, err := store.Take(ctx, "fresh"); err != nil {
		t.Errorf("Fresh state should survive, got %v", err)
	}
}

package fs

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	sa "github.com/panyam/socialauth"
)

// fsLink points an index file at an account.
type fsLink struct {
	AccountID string `json:"account_id"`
}

// FSAccountStore implements sa.AccountStore using JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── accounts/
//	│   └── {account_id}.json
//	├── providers/
//	│   └── {provider}/{provider_user_id}.json   # {"account_id": "..."}
//	└── emails/
//	    └── {escaped_email}.json                  # {"account_id": "..."}
//
// # Concurrency Model
//
// Writes are serialized by an in-process mutex, which is what makes the
// uniqueness checks hold. Do not point two processes at the same directory.
type FSAccountStore struct {
	StoragePath string

	mu sync.RWMutex
}

// NewFSAccountStore creates a new filesystem-backed AccountStore
func NewFSAccountStore(storagePath string) *FSAccountStore {
	return &FSAccountStore{StoragePath: storagePath}
}

func (s *FSAccountStore) accountPath(id string) string {
	return filepath.Join(s.StoragePath, "accounts", url.PathEscape(id)+".json")
}

func (s *FSAccountStore) providerPath(provider sa.Provider, providerUserID string) string {
	return filepath.Join(s.StoragePath, "providers", url.PathEscape(string(provider)), url.PathEscape(providerUserID)+".json")
}

func (s *FSAccountStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", url.PathEscape(email)+".json")
}

func (s *FSAccountStore) readAccount(id string) (*sa.Account, error) {
	var account sa.Account
	var raw struct {
		*sa.Account
		PasswordHash string `json:"password_hash"`
	}
	raw.Account = &account
	found, err := readJSONFile(s.accountPath(id), &raw)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, sa.ErrAccountNotFound
	}
	account.PasswordHash = raw.PasswordHash
	return &account, nil
}

func (s *FSAccountStore) writeAccount(account *sa.Account) error {
	return writeJSONFile(s.accountPath(account.ID), struct {
		*sa.Account
		PasswordHash string `json:"password_hash,omitempty"`
	}{account, account.PasswordHash})
}

// owner returns the account an index file points at, or nil. An index left
// behind by an interrupted update points at an account that no longer claims
// it and is treated as absent.
func (s *FSAccountStore) owner(path string) (*sa.Account, error) {
	var link fsLink
	if _, err := readJSONFile(path, &link); err != nil {
		return nil, err
	}
	if link.AccountID == "" {
		return nil, nil
	}
	account, err := s.readAccount(link.AccountID)
	if errors.Is(err, sa.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !s.claims(account, path) {
		return nil, nil
	}
	return account, nil
}

func (s *FSAccountStore) claims(account *sa.Account, path string) bool {
	if path == s.providerPath(account.Provider, account.ProviderUserID) {
		return true
	}
	return account.Email != "" && path == s.emailPath(account.Email)
}

func (s *FSAccountStore) byLink(path string) (*sa.Account, error) {
	account, err := s.owner(path)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, sa.ErrAccountNotFound
	}
	return account, nil
}

func (s *FSAccountStore) GetAccountByID(_ context.Context, id string) (*sa.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readAccount(id)
}

func (s *FSAccountStore) GetAccountByProvider(_ context.Context, provider sa.Provider, providerUserID string) (*sa.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byLink(s.providerPath(provider, providerUserID))
}

func (s *FSAccountStore) GetAccountByEmail(_ context.Context, email string) (*sa.Account, error) {
	email = sa.NormalizeEmail(email)
	if email == "" {
		return nil, sa.ErrAccountNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byLink(s.emailPath(email))
}

// available reports whether the index at path is free or held by accountID.
func (s *FSAccountStore) available(path, accountID string) error {
	account, err := s.owner(path)
	if err != nil {
		return err
	}
	if account != nil && account.ID != accountID {
		return sa.ErrDuplicateAccount
	}
	return nil
}

func (s *FSAccountStore) CreateAccount(_ context.Context, account *sa.Account) error {
	account.Email = sa.NormalizeEmail(account.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.accountPath(account.ID)); err == nil {
		return sa.ErrDuplicateAccount
	}
	providerPath := s.providerPath(account.Provider, account.ProviderUserID)
	if err := s.available(providerPath, account.ID); err != nil {
		return err
	}
	if account.Email != "" {
		if err := s.available(s.emailPath(account.Email), account.ID); err != nil {
			return err
		}
	}

	if err := s.writeAccount(account); err != nil {
		return err
	}
	if err := writeJSONFile(providerPath, fsLink{AccountID: account.ID}); err != nil {
		return err
	}
	if account.Email != "" {
		return writeJSONFile(s.emailPath(account.Email), fsLink{AccountID: account.ID})
	}
	return nil
}

func (s *FSAccountStore) UpdateAccount(_ context.Context, account *sa.Account) error {
	account.Email = sa.NormalizeEmail(account.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readAccount(account.ID)
	if err != nil {
		return err
	}

	providerChanged := existing.Provider != account.Provider || existing.ProviderUserID != account.ProviderUserID
	newProviderPath := s.providerPath(account.Provider, account.ProviderUserID)
	if providerChanged {
		if err := s.available(newProviderPath, account.ID); err != nil {
			return err
		}
	}
	emailChanged := existing.Email != account.Email
	if emailChanged && account.Email != "" {
		if err := s.available(s.emailPath(account.Email), account.ID); err != nil {
			return err
		}
	}

	if err := s.writeAccount(account); err != nil {
		return err
	}
	if providerChanged {
		if err := writeJSONFile(newProviderPath, fsLink{AccountID: account.ID}); err != nil {
			return err
		}
		removeIndex(s.providerPath(existing.Provider, existing.ProviderUserID))
	}
	if emailChanged {
		if account.Email != "" {
			if err := writeJSONFile(s.emailPath(account.Email), fsLink{AccountID: account.ID}); err != nil {
				return err
			}
		}
		if existing.Email != "" {
			removeIndex(s.emailPath(existing.Email))
		}
	}
	return nil
}

// removeIndex drops a stale index file. A leftover file only points at an
// account that no longer claims it, so failures are ignored.
func removeIndex(path string) {
	_ = os.Remove(path)
}

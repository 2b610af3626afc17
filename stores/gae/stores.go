//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	sa "github.com/panyam/socialauth"
)

// Kind constants for Datastore entities
const (
	KindAccount      = "Account"
	KindProviderLink = "ProviderLink"
	KindEmailLink    = "EmailLink"
	KindAuthState    = "AuthState"
)

// maxBatch is the Datastore limit on keys per multi operation.
const maxBatch = 500

type base struct {
	client    *datastore.Client
	namespace string
}

func (b base) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = b.namespace
	return key
}

// ============================================================================
// AccountStore
// ============================================================================

// AccountStore implements sa.AccountStore using Google Cloud Datastore
type AccountStore struct {
	base
}

// NewAccountStore creates a new Datastore-backed AccountStore
func NewAccountStore(client *datastore.Client, namespace string) *AccountStore {
	return &AccountStore{base{client: client, namespace: namespace}}
}

func (s *AccountStore) accountKey(id string) *datastore.Key {
	return s.namespacedKey(KindAccount, id)
}

func (s *AccountStore) providerKey(provider sa.Provider, providerUserID string) *datastore.Key {
	return s.namespacedKey(KindProviderLink, string(provider)+":"+providerUserID)
}

func (s *AccountStore) emailKey(email string) *datastore.Key {
	return s.namespacedKey(KindEmailLink, email)
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*sa.Account, error) {
	var entity AccountEntity
	if err := s.client.Get(ctx, s.accountKey(id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, sa.ErrAccountNotFound
		}
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (s *AccountStore) getByLink(ctx context.Context, key *datastore.Key) (*sa.Account, error) {
	var link LinkEntity
	if err := s.client.Get(ctx, key, &link); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, sa.ErrAccountNotFound
		}
		return nil, err
	}
	return s.GetAccountByID(ctx, link.AccountID)
}

func (s *AccountStore) GetAccountByProvider(ctx context.Context, provider sa.Provider, providerUserID string) (*sa.Account, error) {
	return s.getByLink(ctx, s.providerKey(provider, providerUserID))
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*sa.Account, error) {
	email = sa.NormalizeEmail(email)
	if email == "" {
		return nil, sa.ErrAccountNotFound
	}
	return s.getByLink(ctx, s.emailKey(email))
}

// claim reserves key for accountID within tx. It fails with
// ErrDuplicateAccount when another account already holds it.
func claim(tx *datastore.Transaction, key *datastore.Key, accountID string, now time.Time) error {
	var link LinkEntity
	err := tx.Get(key, &link)
	switch {
	case err == nil && link.AccountID != accountID:
		return sa.ErrDuplicateAccount
	case err == nil:
		return nil
	case !errors.Is(err, datastore.ErrNoSuchEntity):
		return err
	}
	_, err = tx.Put(key, &LinkEntity{Key: key, AccountID: accountID, CreatedAt: now})
	return err
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *sa.Account) error {
	key := s.accountKey(account.ID)
	entity := AccountToEntity(account, key)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing AccountEntity
		if err := tx.Get(key, &existing); err == nil {
			return sa.ErrDuplicateAccount
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if err := claim(tx, s.providerKey(account.Provider, account.ProviderUserID), account.ID, entity.CreatedAt); err != nil {
			return err
		}
		if entity.Email != "" {
			if err := claim(tx, s.emailKey(entity.Email), account.ID, entity.CreatedAt); err != nil {
				return err
			}
		}
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		return err
	}
	account.Email = entity.Email
	return nil
}

func (s *AccountStore) UpdateAccount(ctx context.Context, account *sa.Account) error {
	key := s.accountKey(account.ID)
	entity := AccountToEntity(account, key)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing AccountEntity
		if err := tx.Get(key, &existing); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return sa.ErrAccountNotFound
			}
			return err
		}

		if existing.Provider != entity.Provider || existing.ProviderUserID != entity.ProviderUserID {
			if err := claim(tx, s.providerKey(account.Provider, account.ProviderUserID), account.ID, entity.UpdatedAt); err != nil {
				return err
			}
			if err := tx.Delete(s.providerKey(sa.Provider(existing.Provider), existing.ProviderUserID)); err != nil {
				return err
			}
		}
		if existing.Email != entity.Email {
			if entity.Email != "" {
				if err := claim(tx, s.emailKey(entity.Email), account.ID, entity.UpdatedAt); err != nil {
					return err
				}
			}
			if existing.Email != "" {
				if err := tx.Delete(s.emailKey(existing.Email)); err != nil {
					return err
				}
			}
		}
		_, err := tx.Put(key, entity)
		return err
	})
	return err
}

// ============================================================================
// StateStore
// ============================================================================

// StateStore implements sa.StateStore using Google Cloud Datastore. Take reads
// and deletes in one transaction so concurrent callers cannot both succeed.
type StateStore struct {
	base
	Now func() time.Time
}

// NewStateStore creates a new Datastore-backed StateStore
func NewStateStore(client *datastore.Client, namespace string) *StateStore {
	return &StateStore{base: base{client: client, namespace: namespace}, Now: time.Now}
}

func (s *StateStore) Put(ctx context.Context, state *sa.AuthState) error {
	key := s.namespacedKey(KindAuthState, state.Value)
	if _, err := s.client.Put(ctx, key, AuthStateToEntity(state, key)); err != nil {
		return fmt.Errorf("storing state: %w", err)
	}
	return nil
}

func (s *StateStore) Take(ctx context.Context, value string) (*sa.AuthState, error) {
	key := s.namespacedKey(KindAuthState, value)
	var entity AuthStateEntity
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(key, &entity); err != nil {
			return err
		}
		return tx.Delete(key)
	})
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, sa.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}

	state := entity.ToAuthState()
	if state.IsExpired(s.Now()) {
		return nil, sa.ErrStateNotFound
	}
	return state, nil
}

// DeleteExpired removes states past their expiry and returns how many went.
func (s *StateStore) DeleteExpired(ctx context.Context) (int, error) {
	q := datastore.NewQuery(KindAuthState).
		Namespace(s.namespace).
		FilterField("expires_at", "<=", s.Now()).
		KeysOnly()

	var keys []*datastore.Key
	it := s.client.Run(ctx, q)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, err
		}
		keys = append(keys, key)
	}
	deleted := 0
	for len(keys) > 0 {
		n := min(len(keys), maxBatch)
		if err := s.client.DeleteMulti(ctx, keys[:n]); err != nil {
			return deleted, err
		}
		deleted += n
		keys = keys[n:]
	}
	return deleted, nil
}

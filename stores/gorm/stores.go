//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	sa "github.com/panyam/socialauth"
)

// Open connects to dsn. postgres:// and postgresql:// DSNs use PostgreSQL,
// anything else is treated as a SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// AutoMigrate runs database migrations for all socialauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&AuthStateModel{},
	)
}

// isDuplicate reports whether err is a unique constraint violation.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// AccountStore
// =============================================================================

// AccountStore implements sa.AccountStore using GORM
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) first(ctx context.Context, query string, args ...any) (*sa.Account, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sa.ErrAccountNotFound
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*sa.Account, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *AccountStore) GetAccountByProvider(ctx context.Context, provider sa.Provider, providerUserID string) (*sa.Account, error) {
	return s.first(ctx, "provider = ? AND provider_user_id = ?", string(provider), providerUserID)
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*sa.Account, error) {
	email = sa.NormalizeEmail(email)
	if email == "" {
		return nil, sa.ErrAccountNotFound
	}
	return s.first(ctx, "email = ?", email)
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *sa.Account) error {
	model := AccountToModel(account)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicate(err) {
			return sa.ErrDuplicateAccount
		}
		return err
	}
	account.Email = sa.NormalizeEmail(account.Email)
	account.CreatedAt = model.CreatedAt
	return nil
}

func (s *AccountStore) UpdateAccount(ctx context.Context, account *sa.Account) error {
	model := AccountToModel(account)
	res := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"email":            model.Email,
			"display_name":     model.DisplayName,
			"avatar_url":       model.AvatarURL,
			"provider":         model.Provider,
			"provider_user_id": model.ProviderUserID,
			"password_hash":    model.PasswordHash,
			"updated_at":       model.UpdatedAt,
		})
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return sa.ErrDuplicateAccount
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return sa.ErrAccountNotFound
	}
	return nil
}

// =============================================================================
// StateStore
// =============================================================================

// StateStore implements sa.StateStore using GORM. Take relies on the row
// delete succeeding for exactly one caller.
type StateStore struct {
	db  *gorm.DB
	Now func() time.Time
}

func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db, Now: time.Now}
}

func (s *StateStore) Put(ctx context.Context, state *sa.AuthState) error {
	return s.db.WithContext(ctx).Create(AuthStateToModel(state)).Error
}

func (s *StateStore) Take(ctx context.Context, value string) (*sa.AuthState, error) {
	var model AuthStateModel
	if err := s.db.WithContext(ctx).First(&model, "value = ?", value).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sa.ErrStateNotFound
		}
		return nil, err
	}

	res := s.db.WithContext(ctx).Delete(&AuthStateModel{}, "value = ?", value)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		// Another caller consumed it first.
		return nil, sa.ErrStateNotFound
	}

	state := model.ToAuthState()
	if state.IsExpired(s.Now()) {
		return nil, sa.ErrStateNotFound
	}
	return state, nil
}

// DeleteExpired removes states past their expiry and returns how many went.
func (s *StateStore) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&AuthStateModel{}, "expires_at <= ?", s.Now())
	return res.RowsAffected, res.Error
}

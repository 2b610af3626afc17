package socialauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionTTL is how long an issued credential stays valid.
	DefaultSessionTTL = 60 * time.Minute

	// MinSecretKeyLength is the shortest accepted HMAC signing key.
	MinSecretKeyLength = 32

	TokenTypeBearer = "bearer"
)

// SessionCredential is the application's own proof of authentication.
type SessionCredential struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	SubjectID string    `json:"-"`
	IssuedAt  time.Time `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionIssuer mints HS256 signed credentials and validates them.
type SessionIssuer struct {
	// Accounts resolves the subject of a credential on validation.
	Accounts AccountStore

	SecretKey string
	Issuer    string
	Audience  string
	TTL       time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// NewSessionIssuer checks the key length and fills defaults.
func NewSessionIssuer(accounts AccountStore, secretKey, issuer string, ttl time.Duration) (*SessionIssuer, error) {
	if len(secretKey) < MinSecretKeyLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretKeyLength)
	}
	s := &SessionIssuer{Accounts: accounts, SecretKey: secretKey, Issuer: issuer, TTL: ttl}
	return s.EnsureDefaults(), nil
}

func (s *SessionIssuer) EnsureDefaults() *SessionIssuer {
	if s.TTL <= 0 {
		s.TTL = DefaultSessionTTL
	}
	if s.Issuer == "" {
		s.Issuer = "socialauth"
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return s
}

// Issue signs a credential for account.
func (s *SessionIssuer) Issue(account *Account) (*SessionCredential, error) {
	if account == nil || account.ID == "" {
		return nil, errors.New("cannot issue a credential without an account")
	}
	now := s.Now().Truncate(time.Second)
	expiresAt := now.Add(s.TTL)

	claims := jwt.MapClaims{
		"sub":  account.ID,
		"type": "access",
		"iss":  s.Issuer,
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	}
	if s.Audience != "" {
		claims["aud"] = s.Audience
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.SecretKey))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &SessionCredential{
		Token:     signed,
		TokenType: TokenTypeBearer,
		SubjectID: account.ID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate verifies the credential and loads its account. Every failure is
// reported as ErrUnauthenticated; the reason is logged only.
func (s *SessionIssuer) Validate(ctx context.Context, tokenString string) (*Account, error) {
	subject, err := s.verify(tokenString)
	if err != nil {
		s.Logger.Info("rejected credential", "reason", rejectReason(err), "err", err)
		return nil, ErrUnauthenticated
	}

	account, err := s.Accounts.GetAccountByID(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.Logger.Info("rejected credential", "reason", "unknown_subject", "sub", subject)
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

// verify checks signature, expiry, issuer and audience and returns the subject.
func (s *SessionIssuer) verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errMissingCredential
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.Issuer),
		jwt.WithTimeFunc(s.Now),
	}
	if s.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.Audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.SecretKey), nil
	}, opts...)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	if tokenType, _ := claims["type"].(string); tokenType != "access" {
		return "", fmt.Errorf("%w: wrong token type", jwt.ErrTokenInvalidClaims)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errMissingSubject
	}
	return sub, nil
}

var (
	errMissingCredential = errors.New("missing credential")
	errMissingSubject    = errors.New("missing subject")
)

func rejectReason(err error) string {
	switch {
	case errors.Is(err, errMissingCredential):
		return "missing"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, errMissingSubject):
		return "missing_subject"
	}
	return "invalid_claims"
}

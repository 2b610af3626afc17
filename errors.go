package socialauth

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the login core. Match them with errors.Is.
var (
	ErrInvalidState     = errors.New("invalid or expired state")
	ErrExchange         = errors.New("authorization code exchange failed")
	ErrIdentityFetch    = errors.New("identity fetch failed")
	ErrAccountConflict  = errors.New("email belongs to another account")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrProviderNotFound = errors.New("provider not found")
	ErrAccessDenied     = errors.New("access denied by provider")
)

// Machine readable codes placed on error redirects.
const (
	CodeInvalidState    = "invalid_state"
	CodeExchangeFailed  = "exchange_failed"
	CodeIdentityFetch   = "identity_fetch_failed"
	CodeAccountConflict = "account_conflict"
	CodeUnauthenticated = "unauthenticated"
	CodeUnknownProvider = "unknown_provider"
	CodeAccessDenied    = "access_denied"
	CodeServerError     = "server_error"
)

// AuthError records which stage of a flow failed, the kind of failure and the
// underlying cause. The cause is for logs only.
type AuthError struct {
	Kind  error
	Stage FlowStage
	Err   error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewAuthError wraps cause with the given kind.
func NewAuthError(kind error, stage FlowStage, cause error) *AuthError {
	return &AuthError{Kind: kind, Stage: stage, Err: cause}
}

// ErrorCode maps an error to the code shown to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrExchange):
		return CodeExchangeFailed
	case errors.Is(err, ErrIdentityFetch):
		return CodeIdentityFetch
	case errors.Is(err, ErrAccountConflict):
		return CodeAccountConflict
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrProviderNotFound):
		return CodeUnknownProvider
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	}
	return CodeServerError
}

package socialauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
)

// FlowStage is the position of one authorization attempt in the login state
// machine.
type FlowStage string

const (
	StageInitiated          FlowStage = "INITIATED"
	StageProviderRedirected FlowStage = "PROVIDER_REDIRECTED"
	StageCallbackReceived   FlowStage = "CALLBACK_RECEIVED"
	StageExchanged          FlowStage = "EXCHANGED"
	StageResolved           FlowStage = "RESOLVED"
	StageIssued             FlowStage = "ISSUED"
	StageFailed             FlowStage = "FAILED"
)

// CallbackParams carries what the provider sent back to the callback URL.
type CallbackParams struct {
	Provider         Provider
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult is the outcome of a successful callback.
type CallbackResult struct {
	Account        *Account
	Credential     *SessionCredential
	RedirectTarget string
}

// FlowController runs the two legs of the authorization code flow.
type FlowController struct {
	Registry  *Registry
	States    *StateManager
	Exchanger TokenExchanger
	Resolver  *Resolver
	Sessions  *SessionIssuer
	Logger    *slog.Logger
}

func (f *FlowController) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

// BeginAuth issues a state for provider and returns the provider's authorize
// URL carrying it.
func (f *FlowController) BeginAuth(ctx context.Context, provider Provider, redirectTarget string) (string, error) {
	log := f.logger().With("provider", provider)
	log.Debug("flow transition", "stage", StageInitiated)

	cfg, err := f.Registry.Get(provider)
	if err != nil {
		return "", NewAuthError(ErrProviderNotFound, StageInitiated, err)
	}
	state, err := f.States.Issue(ctx, provider, redirectTarget)
	if err != nil {
		return "", fmt.Errorf("failed to issue state: %w", err)
	}

	var opts []oauth2.AuthCodeOption
	if cfg.UsePKCE {
		opts = append(opts, oauth2.S256ChallengeOption(state.CodeVerifier))
	}
	authURL := cfg.OAuth2Config().AuthCodeURL(state.Value, opts...)

	log.Debug("flow transition", "stage", StageProviderRedirected, "state", fingerprint(state.Value))
	return authURL, nil
}

// HandleCallback consumes the state, exchanges the code, fetches and resolves
// the identity and issues a credential. Any failure is an *AuthError whose
// cause must not be shown to clients.
func (f *FlowController) HandleCallback(ctx context.Context, p CallbackParams) (*CallbackResult, error) {
	log := f.logger().With("provider", p.Provider, "state", fingerprint(p.State))
	log.Debug("flow transition", "stage", StageCallbackReceived)

	result, err := f.handleCallback(ctx, p, log)
	if err != nil {
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			authErr = NewAuthError(errServer, StageCallbackReceived, err)
			err = authErr
		}
		log.Warn("flow transition", "stage", StageFailed, "failed_at", authErr.Stage,
			"code", ErrorCode(err), "err", err)
		return nil, err
	}
	log.Info("flow transition", "stage", StageIssued, "account_id", result.Account.ID)
	return result, nil
}

var errServer = errors.New("internal error")

func (f *FlowController) handleCallback(ctx context.Context, p CallbackParams, log *slog.Logger) (*CallbackResult, error) {
	cfg, err := f.Registry.Get(p.Provider)
	if err != nil {
		return nil, NewAuthError(ErrProviderNotFound, StageCallbackReceived, err)
	}

	state, err := f.States.Consume(ctx, p.State)
	if err != nil {
		return nil, err
	}
	if state.Provider != p.Provider {
		return nil, NewAuthError(ErrInvalidState, StageCallbackReceived,
			fmt.Errorf("state issued for %s used on %s callback", state.Provider, p.Provider))
	}
	if p.Error != "" {
		return nil, NewAuthError(ErrAccessDenied, StageCallbackReceived,
			fmt.Errorf("provider returned %s: %s", p.Error, p.ErrorDescription))
	}
	if p.Code == "" {
		return nil, NewAuthError(ErrExchange, StageCallbackReceived, errors.New("callback without code"))
	}

	verifier := ""
	if cfg.UsePKCE {
		verifier = state.CodeVerifier
	}
	token, err := f.Exchanger.ExchangeCode(ctx, cfg, p.Code, verifier)
	if err != nil {
		return nil, asAuthError(err, ErrExchange, StageCallbackReceived)
	}
	log.Debug("flow transition", "stage", StageExchanged)

	identity, err := f.Exchanger.FetchIdentity(ctx, cfg, token)
	if err != nil {
		return nil, asAuthError(err, ErrIdentityFetch, StageExchanged)
	}

	account, err := f.Resolver.Resolve(ctx, p.Provider, identity)
	if err != nil {
		return nil, asAuthError(err, errServer, StageExchanged)
	}
	log.Debug("flow transition", "stage", StageResolved, "account_id", account.ID)

	credential, err := f.Sessions.Issue(account)
	if err != nil {
		return nil, NewAuthError(errServer, StageResolved, err)
	}
	return &CallbackResult{
		Account:        account,
		Credential:     credential,
		RedirectTarget: state.RedirectTarget,
	}, nil
}

// asAuthError keeps an existing *AuthError and wraps anything else with kind.
func asAuthError(err error, kind error, stage FlowStage) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return NewAuthError(kind, stage, err)
}

// fingerprint shortens a state value for logs.
func fingerprint(value string) string {
	if len(value) > 8 {
		return value[:8]
	}
	return value
}

// Package socialauth signs users in through Google and GitHub with the OAuth2
// authorization code flow and issues the application's own session credential.
//
// # Architecture
//
// The login core is split into small pieces that are wired together once at
// start-up and passed explicitly:
//
// Registry: immutable per-provider endpoints, scopes and client credentials.
//
// StateManager: issues the anti-forgery state for each attempt and consumes it
// exactly once. States live in a StateStore (memory, Redis, SQL or Datastore).
//
// TokenExchanger: exchanges the authorization code and fetches the provider
// profile, normalized to a NormalizedIdentity. See the oauth2 subpackage.
//
// Resolver: binds a NormalizedIdentity to a local Account, creating or linking
// by email. Uniqueness is enforced by the AccountStore, not by locks.
//
// SessionIssuer: signs HS256 credentials and validates them on every
// protected request.
//
// FlowController: runs BeginAuth and HandleCallback across the two HTTP legs.
//
// # Basic Usage
//
//	db, _ := gormstore.Open(dsn)
//	accounts := gormstore.NewAccountStore(db)
//
//	registry, _ := socialauth.NewRegistry(
//	    socialauth.GoogleProvider(googleID, googleSecret, base+"/auth/google/callback"),
//	    socialauth.GitHubProvider(githubID, githubSecret, base+"/auth/github/callback"),
//	)
//	sessions, _ := socialauth.NewSessionIssuer(accounts, secret, "myapp", time.Hour)
//
//	flow := &socialauth.FlowController{
//	    Registry:  registry,
//	    States:    socialauth.NewStateManager(gormstore.NewStateStore(db), 0),
//	    Exchanger: oauth2.NewClient(10 * time.Second),
//	    Resolver:  socialauth.NewResolver(accounts, socialauth.LinkByEmail),
//	    Sessions:  sessions,
//	}
//
//	svc := &socialauth.AuthService{
//	    Flow:       flow,
//	    Local:      &socialauth.LocalAuth{Accounts: accounts, Sessions: sessions},
//	    Sessions:   sessions,
//	    SuccessURL: "https://app.example.com/auth/success",
//	    ErrorURL:   "https://app.example.com/auth/error",
//	}
//	http.ListenAndServe(":8080", svc.Handler())
//
// # Account Linking
//
// With LinkByEmail, a login whose verified email matches an existing account
// takes that account over, switching its provider. This means control of the
// email at any registered provider is enough to sign in. Use StrictEmail to
// reject such logins with ErrAccountConflict.
//
// # Errors
//
// Flow failures are *AuthError values. Match the kind with errors.Is against
// ErrInvalidState, ErrExchange, ErrIdentityFetch, ErrAccountConflict or
// ErrUnauthenticated, and use ErrorCode for the code sent to clients.
package socialauth

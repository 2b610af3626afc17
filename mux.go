package socialauth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
)

// sessionTokenKey is the scs session key holding the issued credential.
const sessionTokenKey = "authToken"

// AuthService exposes the login flows over HTTP.
type AuthService struct {
	Flow     *FlowController
	Local    *LocalAuth
	Sessions *SessionIssuer

	// Session keeps the credential for browser clients. Defaults to an
	// in-memory scs manager.
	Session *scs.SessionManager

	// LoginLimiter throttles password logins per client and email. Optional.
	LoginLimiter RateLimiter

	// Frontend pages the callback redirects to.
	SuccessURL string
	ErrorURL   string

	AppName string
	Version string
	Logger  *slog.Logger

	router *mux.Router
}

func (a *AuthService) EnsureDefaults() *AuthService {
	if a.AppName == "" {
		a.AppName = "socialauth"
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.Session == nil {
		a.Session = scs.New()
		a.Session.Lifetime = a.Sessions.TTL
		a.Session.Cookie.Name = a.AppName + "_session"
		a.Session.Cookie.SameSite = http.SameSiteLaxMode
	}
	if a.SuccessURL == "" {
		a.SuccessURL = "/auth/success"
	}
	if a.ErrorURL == "" {
		a.ErrorURL = "/auth/error"
	}
	return a
}

// Handler returns the routed handler wrapped in session loading.
func (a *AuthService) Handler() http.Handler {
	a.EnsureDefaults()
	if a.router == nil {
		a.router = a.setupRoutes()
	}
	return a.Session.LoadAndSave(a.router)
}

func (a *AuthService) setupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logRequests(a.Logger), middleware.Recoverer)

	r.HandleFunc("/", a.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/auth/{provider}", a.handleBeginAuth).Methods(http.MethodGet)
	r.HandleFunc("/auth/{provider}/callback", a.handleCallback).Methods(http.MethodGet)

	api := r.PathPrefix("/api/auth").Subrouter()
	api.HandleFunc("/providers", a.handleProviders).Methods(http.MethodGet)
	api.HandleFunc("/check", a.handleCheck).Methods(http.MethodGet)
	api.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)
	api.Handle("/user", a.RequireAccount(http.HandlerFunc(a.handleUser))).Methods(http.MethodGet)
	api.HandleFunc("/register", a.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/token", a.handleToken).Methods(http.MethodPost)
	return r
}

func (a *AuthService) handleBeginAuth(w http.ResponseWriter, r *http.Request) {
	provider := Provider(mux.Vars(r)["provider"])
	authURL, err := a.Flow.BeginAuth(r.Context(), provider, safeRedirectTarget(r.URL.Query().Get("redirect")))
	if errors.Is(err, ErrProviderNotFound) {
		a.errorResponse(w, "not_found", "Unknown provider", http.StatusNotFound)
		return
	}
	if err != nil {
		a.Logger.Error("failed to begin auth", "provider", provider, "err", err)
		a.redirectWithError(w, r, CodeServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (a *AuthService) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := a.Flow.HandleCallback(r.Context(), CallbackParams{
		Provider:         Provider(mux.Vars(r)["provider"]),
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		a.redirectWithError(w, r, ErrorCode(err))
		return
	}

	if err := a.Session.RenewToken(r.Context()); err != nil {
		a.Logger.Error("failed to renew session", "err", err)
		a.redirectWithError(w, r, CodeServerError)
		return
	}
	a.Session.Put(r.Context(), sessionTokenKey, result.Credential.Token)

	params := url.Values{"token": {result.Credential.Token}}
	if result.RedirectTarget != "" {
		params.Set("redirect", result.RedirectTarget)
	}
	http.Redirect(w, r, withQuery(a.SuccessURL, params), http.StatusFound)
}

func (a *AuthService) redirectWithError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, withQuery(a.ErrorURL, url.Values{"error": {code}}), http.StatusFound)
}

type providerInfo struct {
	Name        Provider `json:"name"`
	DisplayName string   `json:"display_name"`
	AuthURL     string   `json:"auth_url"`
	Icon        string   `json:"icon"`
}

func (a *AuthService) handleProviders(w http.ResponseWriter, r *http.Request) {
	providers := []providerInfo{}
	for _, name := range a.Flow.Registry.Names() {
		cfg, err := a.Flow.Registry.Get(name)
		if err != nil {
			continue
		}
		providers = append(providers, providerInfo{
			Name:        name,
			DisplayName: cfg.DisplayName,
			AuthURL:     "/auth/" + string(name),
			Icon:        cfg.Icon,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (a *AuthService) handleCheck(w http.ResponseWriter, r *http.Request) {
	account, err := a.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": account})
}

func (a *AuthService) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.Session.Destroy(r.Context()); err != nil {
		a.Logger.Warn("error clearing session", "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
}

func (a *AuthService) handleUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AccountFromContext(r.Context()))
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"fullName"`
	FullNameAlt string `json:"full_name"`
}

func (a *AuthService) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	fullName := req.FullName
	if fullName == "" {
		fullName = req.FullNameAlt
	}

	_, credential, err := a.Local.Register(r.Context(), req.Email, req.Password, fullName)
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		a.errorResponse(w, "invalid_request", validationErr.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrEmailTaken):
		a.errorResponse(w, "invalid_request", "Email already registered", http.StatusBadRequest)
		return
	case err != nil:
		a.Logger.Error("registration failed", "err", err)
		a.errorResponse(w, "server_error", "Registration failed", http.StatusInternalServerError)
		return
	}
	a.tokenResponse(w, r, credential)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *AuthService) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	a.passwordLogin(w, r, req.Email, req.Password)
}

// handleToken is the form-encoded password login used by OAuth2 tooling.
func (a *AuthService) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.errorResponse(w, "invalid_request", "Invalid form body", http.StatusBadRequest)
		return
	}
	if gt := r.PostForm.Get("grant_type"); gt != "" && gt != "password" {
		a.errorResponse(w, "unsupported_grant_type", "Grant type not supported", http.StatusBadRequest)
		return
	}
	a.passwordLogin(w, r, r.PostForm.Get("username"), r.PostForm.Get("password"))
}

func (a *AuthService) passwordLogin(w http.ResponseWriter, r *http.Request, email, password string) {
	if a.LoginLimiter != nil && !a.LoginLimiter.Allow(getClientIP(r)+":"+NormalizeEmail(email)) {
		a.errorResponse(w, "rate_limit_exceeded", "Too many login attempts", http.StatusTooManyRequests)
		return
	}

	_, credential, err := a.Local.Login(r.Context(), email, password)
	if errors.Is(err, ErrInvalidCredentials) {
		a.errorResponse(w, "invalid_grant", "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		a.Logger.Error("login failed", "err", err)
		a.errorResponse(w, "server_error", "Login failed", http.StatusInternalServerError)
		return
	}
	a.tokenResponse(w, r, credential)
}

func (a *AuthService) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *AuthService) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      a.AppName,
		"version":   a.Version,
		"providers": a.Flow.Registry.Names(),
	})
}

// tokenResponse sends the credential and keeps it in the browser session.
func (a *AuthService) tokenResponse(w http.ResponseWriter, r *http.Request, credential *SessionCredential) {
	if err := a.Session.RenewToken(r.Context()); err == nil {
		a.Session.Put(r.Context(), sessionTokenKey, credential.Token)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": credential.Token,
		"token_type":   credential.TokenType,
		"expires_in":   int64(time.Until(credential.ExpiresAt).Seconds()),
	})
}

// errorResponse sends an OAuth 2.0 style error body.
func (a *AuthService) errorResponse(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// safeRedirectTarget only keeps same-site absolute paths.
func safeRedirectTarget(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return ""
	}
	return target
}

func withQuery(base string, params url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}

package socialauth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type accountContextKey struct{}

// ContextWithAccount stores the authenticated account on ctx.
func ContextWithAccount(ctx context.Context, account *Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

// AccountFromContext returns the account set by RequireAccount, or nil.
func AccountFromContext(ctx context.Context) *Account {
	account, _ := ctx.Value(accountContextKey{}).(*Account)
	return account
}

// RequireAccount rejects requests without a valid credential with a 401 and
// puts the account on the request context otherwise.
func (a *AuthService) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := a.authenticate(r)
		if err != nil {
			a.unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), account)))
	})
}

// authenticate validates the bearer token, falling back to the token kept in
// the browser session.
func (a *AuthService) authenticate(r *http.Request) (*Account, error) {
	token := bearerToken(r)
	if token == "" {
		token = a.Session.GetString(r.Context(), sessionTokenKey)
	}
	return a.Sessions.Validate(r.Context(), token)
}

func (a *AuthService) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	a.errorResponse(w, "unauthorized", "Authentication required", http.StatusUnauthorized)
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// getClientIP returns the remote host. RealIP has already applied any
// forwarding headers.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// logRequests writes one structured line per request.
func logRequests(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start))
		})
	}
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAuthServer mimics the socialauth HTTP API for one user.
type fakeAuthServer struct {
	*httptest.Server
	logouts atomic.Int32
	status  int
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	f := &fakeAuthServer{status: http.StatusOK}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("grant_type") != "password" {
			t.Errorf("expected grant_type=password, got %q", r.PostForm.Get("grant_type"))
		}
		if f.status != http.StatusOK {
			writeTestJSON(w, f.status, map[string]string{"error": "invalid_grant", "error_description": "Invalid credentials"})
			return
		}
		if r.PostForm.Get("username") != "user@example.com" || r.PostForm.Get("password") != "password123" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant", "error_description": "Invalid credentials"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"access_token": "access-token-123", "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["email"] == "taken@example.com" {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request", "error_description": "Email already registered"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"access_token": "access-token-123", "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("GET /api/auth/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token-123" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"id": "acct-1", "email": "user@example.com", "provider": "local"})
	})
	mux.HandleFunc("GET /api/auth/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token-123" {
			writeTestJSON(w, http.StatusOK, map[string]any{"authenticated": false, "user": nil})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": map[string]any{"id": "acct-1"}})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logouts.Add(1)
		writeTestJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeTestJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestAuthClient_Login_Success(t *testing.T) {
	server := newFakeAuthServer(t)
	store := newMockCredentialStore()
	client := NewAuthClient(server.URL, store)

	cred, err := client.Login(context.Background(), "user@example.com", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if cred.AccessToken != "access-token-123" {
		t.Errorf("AccessToken = %v, want access-token-123", cred.AccessToken)
	}
	if cred.UserID != "acct-1" {
		t.Errorf("UserID = %v, want acct-1", cred.UserID)
	}
	if time.Until(cred.ExpiresAt) < 59*time.Minute {
		t.Errorf("ExpiresAt too early: %v", cred.ExpiresAt)
	}

	stored, _ := store.GetCredential(server.URL)
	if stored == nil || stored.AccessToken != cred.AccessToken {
		t.Fatal("credential not stored")
	}
	if store.saves == 0 {
		t.Error("expected store to be saved")
	}
}

func TestAuthClient_Login_InvalidCredentials(t *testing.T) {
	server := newFakeAuthServer(t)
	client := NewAuthClient(server.URL, newMockCredentialStore())

	_, err := client.Login(context.Background(), "user@example.com", "wrong-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if client.IsLoggedIn() {
		t.Error("failed login must not store a credential")
	}
}

func TestAuthClient_Login_RateLimited(t *testing.T) {
	server := newFakeAuthServer(t)
	server.status = http.StatusTooManyRequests
	client := NewAuthClient(server.URL, newMockCredentialStore())

	_, err := client.Login(context.Background(), "user@example.com", "password123")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestAuthClient_Register(t *testing.T) {
	server := newFakeAuthServer(t)
	client := NewAuthClient(server.URL, newMockCredentialStore())

	cred, err := client.Register(context.Background(), "user@example.com", "password123", "User")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if cred.UserID != "acct-1" {
		t.Errorf("UserID = %v, want acct-1", cred.UserID)
	}

	_, err = client.Register(context.Background(), "taken@example.com", "password123", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "invalid_request" {
		t.Errorf("unexpected APIError %+v", apiErr)
	}
}

func TestAuthClient_UserAndHTTPClient(t *testing.T) {
	server := newFakeAuthServer(t)
	client := NewAuthClient(server.URL, newMockCredentialStore())

	if _, err := client.User(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}

	if _, err := client.Login(context.Background(), "user@example.com", "password123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	account, err := client.User(context.Background())
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if account.ID != "acct-1" || account.Email != "user@example.com" {
		t.Errorf("unexpected account %+v", account)
	}

	checked, err := client.Check(context.Background())
	if err != nil || checked == nil || checked.ID != "acct-1" {
		t.Errorf("Check() = %+v, %v", checked, err)
	}

	resp, err := client.HTTPClient().Get(server.URL + "/api/auth/user")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authorized request status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthClient_Logout(t *testing.T) {
	server := newFakeAuthServer(t)
	store := newMockCredentialStore()
	client := NewAuthClient(server.URL, store)

	if _, err := client.Login(context.Background(), "user@example.com", "password123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if server.logouts.Load() != 1 {
		t.Errorf("expected one server logout, got %d", server.logouts.Load())
	}
	if client.IsLoggedIn() {
		t.Error("expected credential to be removed")
	}
}

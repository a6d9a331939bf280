package deribit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func authServer(t *testing.T, token string, expiresIn int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/public/auth" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		if q.Get("client_id") != "id" || q.Get("client_secret") != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"access_token":"` + token + `","expires_in":` + strconv.FormatInt(expiresIn, 10) + `}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthenticateStoresToken(t *testing.T) {
	srv := authServer(t, "tok-123", 900)
	a := NewAuthenticator(srv.URL, "id", "secret")

	if err := a.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if a.Token() != "tok-123" {
		t.Errorf("token = %q, want tok-123", a.Token())
	}
	if !a.IsAuthenticated() {
		t.Error("expected authenticated state")
	}
}

func TestAuthenticateRejectedCredentials(t *testing.T) {
	srv := authServer(t, "tok", 900)
	a := NewAuthenticator(srv.URL, "wrong", "wrong")

	if err := a.Authenticate(context.Background()); err == nil {
		t.Error("expected error for rejected credentials")
	}
	if a.IsAuthenticated() {
		t.Error("expected unauthenticated state after rejection")
	}
}

func TestAuthenticateEmptyToken(t *testing.T) {
	srv := authServer(t, "", 900)
	a := NewAuthenticator(srv.URL, "id", "secret")

	if err := a.Authenticate(context.Background()); err == nil {
		t.Error("expected error for empty access token")
	}
}

func TestEnsureValidSkipsFreshToken(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"result":{"access_token":"tok","expires_in":900}}`))
	}))
	t.Cleanup(srv.Close)

	a := NewAuthenticator(srv.URL, "id", "secret")
	if err := a.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if err := a.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 auth round trip, got %d", calls)
	}
}

func TestEnsureValidSingleFlight(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"result":{"access_token":"tok","expires_in":900}}`))
	}))
	t.Cleanup(srv.Close)

	a := NewAuthenticator(srv.URL, "id", "secret")
	// Seed a token already inside the refresh margin so every caller wants
	// a refresh.
	a.mu.Lock()
	a.token = "stale"
	a.expiresAt = time.Now().Add(10 * time.Second)
	a.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.EnsureValid(context.Background()); err != nil {
				t.Errorf("EnsureValid failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("expected one shared refresh, got %d auth round trips", got)
	}
	if a.Token() != "tok" {
		t.Errorf("token = %q, want tok", a.Token())
	}
}

func TestEnsureValidRefreshesNearExpiry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// Expires inside the refresh margin, so every EnsureValid refreshes.
		w.Write([]byte(`{"result":{"access_token":"tok","expires_in":30}}`))
	}))
	t.Cleanup(srv.Close)

	a := NewAuthenticator(srv.URL, "id", "secret")
	if err := a.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid failed: %v", err)
	}
	if err := a.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 auth round trips, got %d", calls)
	}
}

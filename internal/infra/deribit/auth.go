package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"deribit_go/internal/domain"
)

// refreshMargin renews the token this long before it actually expires.
const refreshMargin = 60 * time.Second

// Authenticator obtains and refreshes the bearer token used by the private
// REST surface via the client_credentials grant.
type Authenticator struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger

	// refreshMu makes the near-expiry refresh single-flight; order workers
	// hitting an expiring token concurrently must not all re-authenticate.
	refreshMu sync.Mutex

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewAuthenticator creates an authenticator for the given REST base URL.
func NewAuthenticator(baseURL, clientID, clientSecret string) *Authenticator {
	return &Authenticator{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default().With(slog.String("module", "auth")),
	}
}

// Authenticate fetches a fresh access token.
func (a *Authenticator) Authenticate(ctx context.Context) error {
	q := url.Values{}
	q.Set("client_id", a.clientID)
	q.Set("client_secret", a.clientSecret)
	q.Set("grant_type", "client_credentials")

	endpoint := a.baseURL + "/public/auth?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("auth", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Result struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("auth response parse: %w", err)
	}
	if parsed.Result.AccessToken == "" {
		return domain.ErrNotAuthenticated
	}

	a.mu.Lock()
	a.token = parsed.Result.AccessToken
	a.expiresAt = time.Now().Add(time.Duration(parsed.Result.ExpiresIn) * time.Second)
	a.mu.Unlock()

	a.logger.Info("authenticated", slog.Int64("expires_in_sec", parsed.Result.ExpiresIn))
	return nil
}

// Token returns the current access token, or "" when unauthenticated.
func (a *Authenticator) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// IsAuthenticated reports whether a non-expired token is held.
func (a *Authenticator) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token != "" && time.Now().Before(a.expiresAt)
}

// EnsureValid re-authenticates when the token is missing or close to expiry.
// Concurrent callers share one refresh: whoever enters first authenticates,
// the rest observe the fresh token and return.
func (a *Authenticator) EnsureValid(ctx context.Context) error {
	if a.tokenFresh() {
		return nil
	}

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()
	if a.tokenFresh() {
		return nil
	}
	return a.Authenticate(ctx)
}

func (a *Authenticator) tokenFresh() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token != "" && time.Until(a.expiresAt) > refreshMargin
}

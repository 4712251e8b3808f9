package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTokenLifetime = time.Hour
	exchangeTimeout      = 30 * time.Second
)

// TokenSource hands out bearer tokens for directory calls.
type TokenSource interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
	Invalidate()
}

// Credentials identify the application in the client-credential exchange.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Authority    string
	Scope        string
}

// TokenProvider caches one application token and refreshes it before expiry.
type TokenProvider struct {
	creds      Credentials
	httpClient *http.Client
	margin     time.Duration
	now        func() time.Time
	logger     *zap.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// TokenProviderOption customizes a TokenProvider.
type TokenProviderOption func(*TokenProvider)

// WithHTTPClient overrides the HTTP client used for the exchange.
func WithHTTPClient(c *http.Client) TokenProviderOption {
	return func(p *TokenProvider) { p.httpClient = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TokenProviderOption {
	return func(p *TokenProvider) { p.now = now }
}

// WithSafetyMargin sets how long before expiry a token stops being served.
func WithSafetyMargin(d time.Duration) TokenProviderOption {
	return func(p *TokenProvider) { p.margin = d }
}

// NewTokenProvider builds a provider for creds.
func NewTokenProvider(creds Credentials, logger *zap.Logger, opts ...TokenProviderOption) *TokenProvider {
	if creds.Authority == "" && creds.TenantID != "" {
		creds.Authority = "https://login.microsoftonline.com/" + creds.TenantID
	}
	if creds.Scope == "" {
		creds.Scope = "https://graph.microsoft.com/.default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &TokenProvider{
		creds:      creds,
		httpClient: &http.Client{Timeout: exchangeTimeout},
		margin:     5 * time.Minute,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns a cached token while it is outside the safety margin and
// exchanges credentials otherwise. Concurrent callers share one exchange.
func (p *TokenProvider) Token(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		if tok, ok := p.cached(); ok {
			return tok, nil
		}
	}

	key := "token"
	if forceRefresh {
		key = "token-forced"
	}
	ch := p.group.DoChan(key, func() (any, error) {
		if !forceRefresh {
			if tok, ok := p.cached(); ok {
				return tok, nil
			}
		}
		return p.exchange(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", &AuthenticationError{Message: "token acquisition cancelled", Err: context.Cause(ctx)}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
}

func (p *TokenProvider) cached() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return "", false
	}
	if !p.now().Before(p.expiresAt.Add(-p.margin)) {
		return "", false
	}
	return p.token, true
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (p *TokenProvider) exchange(ctx context.Context) (string, error) {
	if p.creds.TenantID == "" || p.creds.ClientID == "" || p.creds.ClientSecret == "" {
		return "", &AuthenticationError{
			Message: "directory credentials not configured",
			Details: map[string]any{"missing": p.missingCredentials()},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	form := url.Values{
		"client_id":     {p.creds.ClientID},
		"client_secret": {p.creds.ClientSecret},
		"scope":         {p.creds.Scope},
		"grant_type":    {"client_credentials"},
	}
	endpoint := strings.TrimRight(p.creds.Authority, "/") + "/oauth2/v2.0/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthenticationError{Message: "build token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &AuthenticationError{Message: "token endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &AuthenticationError{Message: "read token response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := parseBody(raw)
		return "", &AuthenticationError{
			Message: fmt.Sprintf("token endpoint returned %d", resp.StatusCode),
			Details: map[string]any{"status_code": resp.StatusCode, "error": body["error"], "error_description": body["error_description"]},
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", &AuthenticationError{Message: "malformed token response", Err: err}
	}
	if tr.AccessToken == "" {
		return "", &AuthenticationError{Message: "token response missing access_token"}
	}

	lifetime := defaultTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}
	expiresAt := p.now().Add(lifetime)

	p.mu.Lock()
	p.token = tr.AccessToken
	p.expiresAt = expiresAt
	p.mu.Unlock()

	p.logger.Info("directory token acquired", zap.Time("expires_at", expiresAt))
	return tr.AccessToken, nil
}

func (p *TokenProvider) missingCredentials() []string {
	var missing []string
	if p.creds.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if p.creds.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if p.creds.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	return missing
}

package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenEndpoint struct {
	calls  atomic.Int32
	status int
	delay  time.Duration
}

func (e *tokenEndpoint) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth2/v2.0/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		n := e.calls.Add(1)
		if e.delay > 0 {
			time.Sleep(e.delay)
		}
		w.Header().Set("Content-Type", "application/json")
		if e.status != 0 {
			w.WriteHeader(e.status)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"bad secret"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600,"token_type":"Bearer"}`, n)
	}
}

func newTestProvider(t *testing.T, ep *tokenEndpoint, now func() time.Time) *TokenProvider {
	srv := httptest.NewServer(ep.handler(t))
	t.Cleanup(srv.Close)
	opts := []TokenProviderOption{WithHTTPClient(srv.Client())}
	if now != nil {
		opts = append(opts, WithClock(now))
	}
	return NewTokenProvider(Credentials{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		Authority:    srv.URL,
	}, nil, opts...)
}

func TestTokenProviderCachesUntilSafetyMargin(t *testing.T) {
	ep := &tokenEndpoint{}
	current := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	p := newTestProvider(t, ep, clock)
	ctx := context.Background()

	tok, err := p.Token(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	tok, err = p.Token(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), ep.calls.Load())

	// 56 minutes in, inside the five minute margin
	mu.Lock()
	current = current.Add(56 * time.Minute)
	mu.Unlock()

	tok, err = p.Token(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int32(2), ep.calls.Load())
}

func TestTokenProviderForceRefresh(t *testing.T) {
	ep := &tokenEndpoint{}
	p := newTestProvider(t, ep, nil)

	_, err := p.Token(context.Background(), false)
	require.NoError(t, err)
	tok, err := p.Token(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)

	p.Invalidate()
	tok, err = p.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "tok-3", tok)
}

func TestTokenProviderConcurrentCallersShareExchange(t *testing.T) {
	ep := &tokenEndpoint{delay: 50 * time.Millisecond}
	p := newTestProvider(t, ep, nil)

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := p.Token(context.Background(), false)
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ep.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, "tok-1", tok)
	}
}

func TestTokenProviderRejectedCredentials(t *testing.T) {
	ep := &tokenEndpoint{status: http.StatusUnauthorized}
	p := newTestProvider(t, ep, nil)

	_, err := p.Token(context.Background(), false)
	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.Details["status_code"])
	assert.Equal(t, "invalid_client", authErr.Details["error"])
}

func TestTokenProviderMissingCredentials(t *testing.T) {
	p := NewTokenProvider(Credentials{TenantID: "tenant"}, nil)

	_, err := p.Token(context.Background(), false)
	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, []string{"client_id", "client_secret"}, authErr.Details["missing"])
}

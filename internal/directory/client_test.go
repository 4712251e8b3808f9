package directory

import (
	"context"
	"encoding/json"
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

type stubTokens struct {
	mu          sync.Mutex
	forced      int
	invalidated int
	err         error
}

func (s *stubTokens) Token(_ context.Context, force bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if force {
		s.forced++
	}
	return fmt.Sprintf("token-%d", s.forced), nil
}

func (s *stubTokens) Invalidate() {
	s.mu.Lock()
	s.invalidated++
	s.mu.Unlock()
}

type recordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingTimer) After(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *recordingTimer) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

type scriptedResponse struct {
	status int
	header map[string]string
	body   string
}

// scriptedServer answers requests with responses in order and repeats the last one.
func scriptedServer(t *testing.T, responses ...scriptedResponse) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(hits.Add(1)) - 1
		if i >= len(responses) {
			i = len(responses) - 1
		}
		resp := responses[i]
		for k, v := range resp.header {
			w.Header().Set(k, v)
		}
		if resp.body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestClient(srv *httptest.Server, tokens TokenSource, timer *recordingTimer, mutate ...func(*ClientOptions)) *Client {
	opts := ClientOptions{
		BaseURL:     srv.URL,
		HTTPClient:  srv.Client(),
		MaxAttempts: 3,
		BackoffBase: time.Second,
		Timer:       timer,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewClient(tokens, opts)
}

func TestClientWaitsRetryAfterOnThrottle(t *testing.T) {
	srv, hits := scriptedServer(t,
		scriptedResponse{status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "2"}},
		scriptedResponse{status: http.StatusOK, body: `{"id":"u1"}`},
	)
	timer := &recordingTimer{}
	c := newTestClient(srv, &stubTokens{}, timer)

	raw, err := c.Get(context.Background(), "users/u1", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u1"}`, string(raw))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, timer.Waits())
}

func TestClientThrottleExhaustsAttempts(t *testing.T) {
	srv, hits := scriptedServer(t,
		scriptedResponse{status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "2"}},
	)
	timer := &recordingTimer{}
	c := newTestClient(srv, &stubTokens{}, timer)

	_, err := c.Get(context.Background(), "users/u1", nil)
	var limited *RateLimitError
	require.True(t, errors.As(err, &limited), "got %v", err)
	assert.Equal(t, 2*time.Second, limited.RetryAfter)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, timer.Waits())
}

func TestClientRetryAfterIsCapped(t *testing.T) {
	srv, _ := scriptedServer(t,
		scriptedResponse{status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "600"}},
		scriptedResponse{status: http.StatusNoContent},
	)
	timer := &recordingTimer{}
	c := newTestClient(srv, &stubTokens{}, timer, func(o *ClientOptions) { o.RetryAfterMax = 30 * time.Second })

	_, err := c.Delete(context.Background(), "users/u1")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second}, timer.Waits())
}

func TestClientBacksOffOnServerErrors(t *testing.T) {
	srv, hits := scriptedServer(t,
		scriptedResponse{status: http.StatusBadGateway},
		scriptedResponse{status: http.StatusServiceUnavailable},
		scriptedResponse{status: http.StatusOK, body: `{"ok":true}`},
	)
	timer := &recordingTimer{}
	c := newTestClient(srv, &stubTokens{}, timer)

	_, err := c.Get(context.Background(), "organization", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.Waits())
}

func TestClientRefreshesTokenOnceOn401(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		first := len(seen) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"u1"}`))
	}))
	defer srv.Close()
	tokens := &stubTokens{}
	c := newTestClient(srv, tokens, &recordingTimer{})

	_, err := c.Get(context.Background(), "users/u1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer token-0", "Bearer token-1"}, seen)
	assert.Equal(t, 1, tokens.forced)
	assert.Equal(t, 1, tokens.invalidated)
}

func TestClientSecond401IsAuthenticationError(t *testing.T) {
	srv, hits := scriptedServer(t, scriptedResponse{
		status: http.StatusUnauthorized,
		body:   `{"error":{"code":"InvalidAuthenticationToken","message":"Access token is empty."}}`,
	})
	timer := &recordingTimer{}
	c := newTestClient(srv, &stubTokens{}, timer)

	_, err := c.Get(context.Background(), "users/u1", nil)
	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.Equal(t, "Access token is empty.", authErr.Message)
	assert.Equal(t, int32(2), hits.Load())
	assert.Empty(t, timer.Waits())
}

func TestClientForbiddenIsNotRetried(t *testing.T) {
	srv, hits := scriptedServer(t, scriptedResponse{
		status: http.StatusForbidden,
		body:   `{"error":{"code":"Authorization_RequestDenied","message":"Insufficient privileges"}}`,
	})
	c := newTestClient(srv, &stubTokens{}, &recordingTimer{})

	_, err := c.Post(context.Background(), "users/u1/assignLicense", map[string]any{})
	var authz *AuthorizationError
	require.True(t, errors.As(err, &authz))
	assert.Equal(t, "Insufficient privileges", authz.Message)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientNotFoundCarriesBody(t *testing.T) {
	srv, hits := scriptedServer(t, scriptedResponse{
		status: http.StatusNotFound,
		body:   `{"error":{"code":"Request_ResourceNotFound","message":"Resource 'g9' does not exist"}}`,
	})
	c := newTestClient(srv, &stubTokens{}, &recordingTimer{})

	_, err := c.Get(context.Background(), "groups/g9", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Resource 'g9' does not exist", apiErr.Message)
	assert.NotNil(t, apiErr.Body["error"])
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientNoContentIsNilResult(t *testing.T) {
	srv, _ := scriptedServer(t, scriptedResponse{status: http.StatusNoContent})
	c := newTestClient(srv, &stubTokens{}, &recordingTimer{})

	raw, err := c.Patch(context.Background(), "users/u1", map[string]any{"jobTitle": "x"})
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestClientTokenFailureSurfaces(t *testing.T) {
	srv, hits := scriptedServer(t, scriptedResponse{status: http.StatusOK, body: `{}`})
	c := newTestClient(srv, &stubTokens{err: &AuthenticationError{Message: "directory credentials not configured"}}, &recordingTimer{})

	_, err := c.Get(context.Background(), "users", nil)
	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, int32(0), hits.Load())
}

func TestClientPaginateFollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"value":[{"id":"c"}]}`))
			return
		}
		assert.Equal(t, "id", r.URL.Query().Get("$select"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value":           []map[string]string{{"id": "a"}, {"id": "b"}},
			"@odata.nextLink": srv.URL + "/subscribedSkus?page=2",
		})
	}))
	defer srv.Close()
	c := newTestClient(srv, &stubTokens{}, &recordingTimer{})

	items, err := c.Paginate(context.Background(), "subscribedSkus", map[string][]string{"$select": {"id"}})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.JSONEq(t, `{"id":"c"}`, string(items[2]))
}

func TestClientPaginateRefusesForeignNextLink(t *testing.T) {
	var foreignHits atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignHits.Add(1)
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer foreign.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value":           []map[string]string{{"id": "a"}},
			"@odata.nextLink": foreign.URL + "/users?page=2",
		})
	}))
	defer srv.Close()
	c := newTestClient(srv, &stubTokens{}, &recordingTimer{})

	_, err := c.Paginate(context.Background(), "users", nil)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Zero(t, foreignHits.Load(), "no token is sent to another host")
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv, hits := scriptedServer(t, scriptedResponse{status: http.StatusServiceUnavailable})
	c := newTestClient(srv, &stubTokens{}, &recordingTimer{}, func(o *ClientOptions) {
		o.MaxAttempts = 1
		o.BreakerThreshold = 2
		o.BreakerCooldown = time.Hour
	})

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), "users", nil)
		require.Error(t, err)
	}
	_, err := c.Get(context.Background(), "users", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientHonoursCancelledContext(t *testing.T) {
	srv, hits := scriptedServer(t, scriptedResponse{status: http.StatusOK, body: `{}`})
	c := newTestClient(srv, &stubTokens{}, &recordingTimer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "users", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, int32(0), hits.Load())
}

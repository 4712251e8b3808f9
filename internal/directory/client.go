package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/helpdesk-ops/internal/observability"
)

const maxResponseBytes = 8 << 20

// ClientOptions tunes retry and resilience behavior of Client.
type ClientOptions struct {
	BaseURL           string
	HTTPClient        *http.Client
	RequestTimeout    time.Duration
	MaxAttempts       uint
	BackoffBase       time.Duration
	RetryAfterDefault time.Duration
	RetryAfterMax     time.Duration
	RateLimit         rate.Limit
	RateBurst         int
	BreakerThreshold  uint32
	BreakerCooldown   time.Duration
	// Timer replaces real sleeps between attempts; tests inject one to observe delays.
	Timer   retry.Timer
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Client sends JSON requests to the directory API with token handling,
// retries, throttling and a circuit breaker.
type Client struct {
	baseURL           string
	httpClient        *http.Client
	tokens            TokenSource
	timeout           time.Duration
	maxAttempts       uint
	backoffBase       time.Duration
	retryAfterDefault time.Duration
	retryAfterMax     time.Duration
	timer             retry.Timer
	limiter           *rate.Limiter
	breaker           *gobreaker.CircuitBreaker
	logger            *zap.Logger
	metrics           *observability.Metrics
}

// NewClient builds a Client that authenticates through tokens.
func NewClient(tokens TokenSource, opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.RetryAfterDefault <= 0 {
		opts.RetryAfterDefault = 5 * time.Second
	}
	if opts.RetryAfterMax <= 0 {
		opts.RetryAfterMax = 60 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Inf
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Client{
		baseURL:           strings.TrimRight(opts.BaseURL, "/"),
		httpClient:        opts.HTTPClient,
		tokens:            tokens,
		timeout:           opts.RequestTimeout,
		maxAttempts:       opts.MaxAttempts,
		backoffBase:       opts.BackoffBase,
		retryAfterDefault: opts.RetryAfterDefault,
		retryAfterMax:     opts.RetryAfterMax,
		timer:             opts.Timer,
		limiter:           rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		logger:            opts.Logger,
		metrics:           opts.Metrics,
	}

	threshold := opts.BreakerThreshold
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "directory",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !breakerFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("directory circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
			c.metrics.SetBreakerState(name, int(to))
		},
	})
	return c
}

// BaseURL returns the API root used to build absolute resource references.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, path, nil, query)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, path, body, nil)
}

// Patch issues a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPatch, path, body, nil)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodDelete, path, nil, nil)
}

// Request sends one logical call. A nil result with a nil error means the
// directory answered 204 No Content.
func (c *Client) Request(ctx context.Context, method, path string, body any, query url.Values) (json.RawMessage, error) {
	target, err := c.resolve(path, query)
	if err != nil {
		return nil, &ValidationError{Message: "invalid request path", Details: map[string]any{"path": redactPath(path), "error": err.Error()}}
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &ValidationError{Message: "request body is not serializable", Details: map[string]any{"error": err.Error()}}
		}
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(c.maxAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.DelayType(c.delay),
		retry.OnRetry(func(n uint, err error) {
			if n+1 >= c.maxAttempts {
				return
			}
			reason := retryReason(err)
			c.metrics.RecordDirectoryRetry(reason)
			c.logger.Warn("directory request retry",
				zap.String("method", method),
				zap.String("path", redactPath(target)),
				zap.Uint("attempt", n+1),
				zap.String("reason", reason),
				zap.Error(err))
		}),
	}
	if c.timer != nil {
		opts = append(opts, retry.WithTimer(c.timer))
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return retry.DoWithData(func() (json.RawMessage, error) {
			return c.send(ctx, method, target, payload)
		}, opts...)
	})
	if err != nil {
		return nil, c.classify(err)
	}
	raw, _ := res.(json.RawMessage)
	return raw, nil
}

// Paginate follows @odata.nextLink and returns every item of every page's value array.
func (c *Client) Paginate(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	var items []json.RawMessage
	next := path
	for next != "" {
		raw, err := c.Request(ctx, http.MethodGet, next, nil, query)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			break
		}
		var page struct {
			Value    []json.RawMessage `json:"value"`
			NextLink string            `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, &APIError{StatusCode: http.StatusOK, Message: "malformed page", Err: err}
		}
		items = append(items, page.Value...)
		next = page.NextLink
		// nextLink already carries the query
		query = nil
	}
	return items, nil
}

// send performs one attempt. A 401 is answered inside the attempt by one
// forced token refresh and a single resend.
func (c *Client) send(ctx context.Context, method, target string, payload []byte) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Message: "rate limiter wait aborted", Err: err}
	}

	token, err := c.tokens.Token(ctx, false)
	if err != nil {
		return nil, err
	}
	status, header, raw, err := c.do(ctx, method, target, payload, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.tokens.Invalidate()
		token, err = c.tokens.Token(ctx, true)
		if err != nil {
			return nil, err
		}
		status, header, raw, err = c.do(ctx, method, target, payload, token)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			body := parseBody(raw)
			return nil, retry.Unrecoverable(&AuthenticationError{
				Message: errorMessage(body, "token rejected after refresh"),
				Details: map[string]any{"status_code": status, "body": body},
			})
		}
	}

	return c.interpret(status, header, raw)
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte, token string) (int, http.Header, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return 0, nil, nil, retry.Unrecoverable(&APIError{Message: "build request", Err: err})
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordDirectoryCall(method, 0, time.Since(start))
		c.logger.Warn("directory transport failure",
			zap.String("method", method), zap.String("path", redactPath(target)), zap.Error(err))
		return 0, nil, nil, &APIError{Message: "transport failure", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	elapsed := time.Since(start)
	c.metrics.RecordDirectoryCall(method, resp.StatusCode, elapsed)
	c.logger.Debug("directory response",
		zap.String("method", method),
		zap.String("path", redactPath(target)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed))
	if err != nil {
		return 0, nil, nil, &APIError{StatusCode: resp.StatusCode, Message: "read response body", Err: err}
	}
	return resp.StatusCode, resp.Header, raw, nil
}

func (c *Client) interpret(status int, header http.Header, raw []byte) (json.RawMessage, error) {
	switch {
	case status == http.StatusNoContent:
		return nil, nil
	case status >= 200 && status < 300:
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, nil
		}
		return json.RawMessage(raw), nil
	}

	body := parseBody(raw)
	switch {
	case status == http.StatusForbidden:
		return nil, retry.Unrecoverable(&AuthorizationError{
			Message: errorMessage(body, "insufficient privileges"),
			Body:    body,
		})
	case status == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: c.retryAfter(header), Body: body}
	default:
		apiErr := &APIError{StatusCode: status, Message: errorMessage(body, http.StatusText(status)), Body: body}
		if apiErr.Transient() {
			return nil, apiErr
		}
		return nil, retry.Unrecoverable(apiErr)
	}
}

// delay waits out a throttling hint or backs off 1x, 2x, 4x... the base.
func (c *Client) delay(n uint, err error, _ *retry.Config) time.Duration {
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return limited.RetryAfter
	}
	if n == 0 {
		n = 1
	}
	return c.backoffBase * time.Duration(1<<(n-1))
}

func (c *Client) retryAfter(header http.Header) time.Duration {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return c.retryAfterDefault
	}
	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = time.Until(at)
	} else {
		return c.retryAfterDefault
	}
	if d <= 0 {
		return c.retryAfterDefault
	}
	if d > c.retryAfterMax {
		return c.retryAfterMax
	}
	return d
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	var raw string
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		raw = path
	} else {
		raw = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	// The bearer token is only ever sent to the configured API host.
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return "", fmt.Errorf("host %q is outside the directory base url", u.Host)
	}
	if len(query) > 0 {
		existing := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				existing.Add(k, v)
			}
		}
		u.RawQuery = existing.Encode()
	}
	return u.String(), nil
}

func (c *Client) classify(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &APIError{StatusCode: http.StatusServiceUnavailable, Message: "directory temporarily unavailable", Err: ErrCircuitOpen}
	}
	var (
		authn   *AuthenticationError
		authz   *AuthorizationError
		limited *RateLimitError
		apiErr  *APIError
		valid   *ValidationError
	)
	if errors.As(err, &authn) || errors.As(err, &authz) || errors.As(err, &limited) || errors.As(err, &apiErr) || errors.As(err, &valid) {
		return err
	}
	// context cancellation or deadline surfaced by the retry loop
	return &APIError{Message: "request aborted", Err: err}
}

func retryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return false
}

func retryReason(err error) string {
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return "throttled"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 0 {
			return "transport"
		}
		return fmt.Sprintf("status_%d", apiErr.StatusCode)
	}
	return "other"
}

// breakerFailure counts only failures that say the directory is unhealthy.
func breakerFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return false
}

func redactPath(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "unparseable"
	}
	return u.Path
}

package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrCircuitOpen is wrapped by APIError when the breaker rejects a call.
var ErrCircuitOpen = errors.New("directory circuit open")

// AuthenticationError reports a credential or token failure.
type AuthenticationError struct {
	Message string
	Details map[string]any
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return "authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AuthorizationError reports a 403; the grant is insufficient.
type AuthorizationError struct {
	Message string
	Body    map[string]any
}

func (e *AuthorizationError) Error() string {
	return "authorization failed: " + e.Message
}

// RateLimitError reports that throttling outlasted the retry budget.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       map[string]any
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %v", e.RetryAfter)
}

// APIError reports any other non-success response or a transport failure.
// StatusCode is zero for transport failures.
type APIError struct {
	StatusCode int
	Message    string
	Body       map[string]any
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("directory request failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("directory api error %d: %s: %v", e.StatusCode, e.Message, e.Err)
	default:
		return fmt.Sprintf("directory api error %d: %s", e.StatusCode, e.Message)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// Transient reports whether the same request may succeed if sent again.
func (e *APIError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// ValidationError reports missing or malformed caller input. No request was sent.
type ValidationError struct {
	Message string
	Details map[string]any
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Message
}

// IsNotFound reports whether err is a 404 from the directory.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Describe flattens a directory error into a message and structured details
// suitable for an execution record.
func Describe(err error) (string, map[string]any) {
	var (
		authn    *AuthenticationError
		authz    *AuthorizationError
		limited  *RateLimitError
		apiErr   *APIError
		validErr *ValidationError
	)
	switch {
	case errors.As(err, &validErr):
		return "validation error: " + validErr.Message, map[string]any{"kind": "validation", "details": validErr.Details}
	case errors.As(err, &authn):
		return "authentication error: " + authn.Message, map[string]any{"kind": "authentication", "details": authn.Details}
	case errors.As(err, &authz):
		return "authorization error: " + authz.Message, map[string]any{"kind": "authorization", "body": authz.Body}
	case errors.As(err, &limited):
		return limited.Error(), map[string]any{"kind": "rate_limit", "retry_after_seconds": limited.RetryAfter.Seconds()}
	case errors.As(err, &apiErr):
		details := map[string]any{"kind": "api", "status_code": apiErr.StatusCode}
		if apiErr.Body != nil {
			details["body"] = apiErr.Body
		}
		if apiErr.Err != nil {
			details["cause"] = apiErr.Err.Error()
		}
		return "api error: " + apiErr.Message, details
	default:
		return "unexpected error: " + err.Error(), map[string]any{"kind": "unexpected"}
	}
}

// errorMessage pulls error.message out of a Graph-style error body.
func errorMessage(body map[string]any, fallback string) string {
	if inner, ok := body["error"].(map[string]any); ok {
		if msg, ok := inner["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return fallback
}

func parseBody(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return body
}

package service

import (
	"errors"
	"net/http"

	"github.com/spec-kit/helpdesk-ops/internal/directory"
	apperrors "github.com/spec-kit/helpdesk-ops/pkg/util/errorutil"
)

// MapDirectoryError converts a directory failure on a read-only path into a
// transport error. Execution paths record failures instead.
func MapDirectoryError(err error) error {
	if err == nil {
		return nil
	}
	var (
		valErr  *directory.ValidationError
		authn   *directory.AuthenticationError
		authz   *directory.AuthorizationError
		limited *directory.RateLimitError
		apiErr  *directory.APIError
	)
	switch {
	case errors.As(err, &valErr):
		return apperrors.NewValidationError(valErr.Message, valErr.Details)
	case errors.As(err, &authn), errors.As(err, &authz):
		return apperrors.NewServiceUnavailable("DIRECTORY_UNAVAILABLE", "directory credentials rejected", err)
	case errors.As(err, &limited):
		return apperrors.NewServiceUnavailable("DIRECTORY_THROTTLED", "directory is throttling requests", err)
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFound("directory object", map[string]any{"message": apiErr.Message})
	case errors.Is(err, directory.ErrCircuitOpen):
		return apperrors.NewServiceUnavailable("DIRECTORY_UNAVAILABLE", "directory temporarily unavailable", err)
	default:
		return apperrors.NewBadGateway("directory request failed", err)
	}
}

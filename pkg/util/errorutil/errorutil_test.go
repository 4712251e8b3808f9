package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{name: "domain error passes through", err: NewForbidden("nope"), wantCode: "FORBIDDEN", wantStatus: http.StatusForbidden},
		{name: "wrapped domain error", err: fmt.Errorf("ctx: %w", NewConflict("dup", nil)), wantCode: "CONFLICT", wantStatus: http.StatusConflict},
		{name: "no rows", err: pgx.ErrNoRows, wantCode: "NOT_FOUND", wantStatus: http.StatusNotFound},
		{name: "unknown", err: errors.New("boom"), wantCode: "INTERNAL_ERROR", wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToDomainError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantStatus, got.HTTPStatus)
		})
	}
	assert.Nil(t, ToDomainError(nil))
}

func TestDomainErrorIsMatchesCode(t *testing.T) {
	sentinel := NewDomainError("SOD_VIOLATION", "x", http.StatusForbidden, nil)
	err := fmt.Errorf("execute: %w", NewDomainError("SOD_VIOLATION", "approver cannot execute", http.StatusForbidden, nil))
	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, NewForbidden("x"), sentinel)
}

func TestNotFoundOr(t *testing.T) {
	err := NotFoundOr(fmt.Errorf("load: %w", pgx.ErrNoRows), "task", map[string]any{"task_id": "t1"})
	de := ToDomainError(err)
	assert.Equal(t, "NOT_FOUND", de.Code)
	assert.Equal(t, "task not found", de.Message)

	other := errors.New("db down")
	assert.Same(t, other, NotFoundOr(other, "task", nil))
}

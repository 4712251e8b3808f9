package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCheckPasswordPolicy(t *testing.T) {
	cases := []struct {
		name     string
		password string
		problem  string
	}{
		{"too short", "short", "must be at least 8 characters"},
		{"minimum", "12345678", ""},
		{"maximum", strings.Repeat("a", MaxPasswordLength), ""},
		{"past bcrypt limit", strings.Repeat("a", MaxPasswordLength+1), "must be at most 72 bytes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.problem, CheckPasswordPolicy(tc.password))
		})
	}
}

func TestHashPasswordAppliesPolicyAndCost(t *testing.T) {
	_, err := HashPassword("short", bcrypt.MinCost)
	assert.Error(t, err)

	h, err := HashPassword("correct horse", 99)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(h))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)

	h, err = HashPassword("correct horse", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(h, "correct horse"))
	assert.ErrorIs(t, ComparePassword(h, "wrong horse"), ErrPasswordMismatch)
	assert.Error(t, ComparePassword("not-a-hash", "correct horse"))
	assert.NotErrorIs(t, ComparePassword("not-a-hash", "correct horse"), ErrPasswordMismatch)
}

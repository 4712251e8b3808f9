package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-ops/pkg/util/errorutil"
)

type staffByID map[string]*domain.StaffMember

func (s staffByID) GetByID(_ context.Context, id string) (*domain.StaffMember, error) {
	if m, ok := s[id]; ok {
		return m, nil
	}
	return nil, pgx.ErrNoRows
}

func testApp(tm *TokenManager, staff staffByID, roles ...domain.StaffRole) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		if fe, ok := err.(*fiber.Error); ok {
			return c.SendStatus(fe.Code)
		}
		return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
	}})
	mw := NewAuthMiddleware(tm, staff)
	app.Get("/ops", mw.Handle, RequireStaffRole(roles...), func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(p.Staff.ID)
	})
	return app
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	role := domain.StaffRoleOperator
	tok, exp, err := tm.GenerateToken("carol", domain.SubjectTypeStaff, &role)
	require.NoError(t, err)
	assert.False(t, exp.IsZero())

	claims, err := tm.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "carol", claims.SubjectID)
	assert.Equal(t, domain.SubjectTypeStaff, claims.Subject)

	_, err = NewTokenManager("other", 5).ParseToken(tok)
	assert.Error(t, err)
}

func TestMiddlewareEnforcesStoredRole(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	staff := staffByID{
		"carol": {ID: "carol", Role: domain.StaffRoleOperator, Active: true},
		"bob":   {ID: "bob", Role: domain.StaffRoleApprover, Active: true},
		"eve":   {ID: "eve", Role: domain.StaffRoleOperator, Active: false},
	}
	app := testApp(tm, staff, domain.StaffRoleOperator, domain.StaffRoleManager)

	// token claims manager but the stored role wins
	claimed := domain.StaffRoleManager
	bobTok, _, err := tm.GenerateToken("bob", domain.SubjectTypeStaff, &claimed)
	require.NoError(t, err)
	carolTok, _, err := tm.GenerateToken("carol", domain.SubjectTypeStaff, nil)
	require.NoError(t, err)
	eveTok, _, err := tm.GenerateToken("eve", domain.SubjectTypeStaff, nil)
	require.NoError(t, err)
	ghostTok, _, err := tm.GenerateToken("ghost", domain.SubjectTypeStaff, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "operator allowed", header: "Bearer " + carolTok, want: http.StatusOK},
		{name: "approver forbidden", header: "Bearer " + bobTok, want: http.StatusForbidden},
		{name: "inactive", header: "Bearer " + eveTok, want: http.StatusUnauthorized},
		{name: "unknown staff", header: "Bearer " + ghostTok, want: http.StatusUnauthorized},
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ops", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

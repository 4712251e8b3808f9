package service

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk-ops/internal/auth"
	"github.com/spec-kit/helpdesk-ops/internal/config"
	"github.com/spec-kit/helpdesk-ops/internal/domain"
	"github.com/spec-kit/helpdesk-ops/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-ops/pkg/util/errorutil"
)

type memStaff struct {
	mu   sync.Mutex
	rows map[string]domain.StaffMember
}

func newMemStaff(members ...domain.StaffMember) *memStaff {
	m := &memStaff{rows: map[string]domain.StaffMember{}}
	for _, s := range members {
		m.rows[s.ID] = s
	}
	return m
}

func (m *memStaff) Create(_ context.Context, staff *domain.StaffMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	staff.ID = "staff-" + staff.Email
	m.rows[staff.ID] = *staff
	return nil
}

func (m *memStaff) Update(_ context.Context, staff *domain.StaffMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[staff.ID] = *staff
	return nil
}

func (m *memStaff) GetByID(_ context.Context, id string) (*domain.StaffMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &s, nil
}

func (m *memStaff) GetByEmail(_ context.Context, email string) (*domain.StaffMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if strings.EqualFold(s.Email, email) {
			return &s, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memStaff) List(_ context.Context, _ repository.StaffFilter) ([]domain.StaffMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StaffMember, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	return out, nil
}

func testConfig() config.Config {
	return config.Config{Auth: config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTLMinutes: 5, BcryptCost: bcrypt.MinCost}}
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := auth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestLoginStaff(t *testing.T) {
	staff := newMemStaff(
		domain.StaffMember{ID: "carol", Email: "carol@corp.example", PasswordHash: hashed(t, "correct horse"), Role: domain.StaffRoleOperator, Active: true},
		domain.StaffMember{ID: "eve", Email: "eve@corp.example", PasswordHash: hashed(t, "correct horse"), Role: domain.StaffRoleAgent, Active: false},
	)
	svc := NewAuthService(testConfig(), staff)

	member, token, _, err := svc.LoginStaff(context.Background(), " Carol@Corp.example ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "carol", member.ID)
	claims, err := svc.TokenManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "carol", claims.SubjectID)
	require.NotNil(t, claims.Role)
	assert.Equal(t, domain.StaffRoleOperator, *claims.Role)

	for _, tc := range []struct{ email, password string }{
		{"carol@corp.example", "wrong"},
		{"eve@corp.example", "correct horse"},
		{"nobody@corp.example", "correct horse"},
	} {
		_, _, _, err := svc.LoginStaff(context.Background(), tc.email, tc.password)
		require.Error(t, err, tc.email)
		de := apperrors.ToDomainError(err)
		assert.Equal(t, http.StatusUnauthorized, de.HTTPStatus)
		assert.Equal(t, "invalid credentials", de.Message)
	}
}

func TestChangePassword(t *testing.T) {
	staff := newMemStaff(domain.StaffMember{ID: "carol", Email: "carol@corp.example", PasswordHash: hashed(t, "old password"), Active: true})
	svc := NewAuthService(testConfig(), staff)

	err := svc.ChangePassword(context.Background(), "carol", "old password", "short")
	assert.Equal(t, http.StatusBadRequest, apperrors.ToDomainError(err).HTTPStatus)

	err = svc.ChangePassword(context.Background(), "carol", "guess", "new password 1")
	assert.Equal(t, http.StatusUnauthorized, apperrors.ToDomainError(err).HTTPStatus)

	require.NoError(t, svc.ChangePassword(context.Background(), "carol", "old password", "new password 1"))
	_, _, _, err = svc.LoginStaff(context.Background(), "carol@corp.example", "new password 1")
	assert.NoError(t, err)
}

func TestStaffServiceRequiresManager(t *testing.T) {
	manager := &domain.StaffMember{ID: "mgr", Email: "mgr@corp.example", Role: domain.StaffRoleManager, Active: true}
	staff := newMemStaff(*manager)
	svc := NewStaffService(testConfig(), staff)
	ctx := context.Background()

	_, err := svc.CreateStaffMember(ctx, carol, StaffInput{Name: "Dan", Email: "dan@corp.example", Password: "long enough", Role: domain.StaffRoleOperator})
	assert.Equal(t, http.StatusForbidden, apperrors.ToDomainError(err).HTTPStatus)

	_, err = svc.CreateStaffMember(ctx, manager, StaffInput{Name: "Dan", Email: "not-an-email", Password: "x", Role: "root"})
	require.Error(t, err)
	de := apperrors.ToDomainError(err)
	assert.Equal(t, http.StatusBadRequest, de.HTTPStatus)
	assert.Contains(t, de.Details, "email")
	assert.Contains(t, de.Details, "password")
	assert.Contains(t, de.Details, "role")

	created, err := svc.CreateStaffMember(ctx, manager, StaffInput{Name: "Dan", Email: "Dan@Corp.example", Password: "long enough", Role: domain.StaffRoleOperator})
	require.NoError(t, err)
	assert.Equal(t, "dan@corp.example", created.Email)
	assert.True(t, created.Active)

	_, err = svc.CreateStaffMember(ctx, manager, StaffInput{Name: "Dan", Email: "dan@corp.example", Password: "long enough", Role: domain.StaffRoleOperator})
	assert.Equal(t, http.StatusConflict, apperrors.ToDomainError(err).HTTPStatus)

	_, err = svc.UpdateStaffMember(ctx, manager, manager.ID, StaffInput{Role: domain.StaffRoleManager, Active: false})
	assert.Equal(t, http.StatusConflict, apperrors.ToDomainError(err).HTTPStatus)

	updated, err := svc.UpdateStaffMember(ctx, manager, created.ID, StaffInput{Role: domain.StaffRoleApprover, Active: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StaffRoleApprover, updated.Role)
	assert.Equal(t, "Dan", updated.Name)
}

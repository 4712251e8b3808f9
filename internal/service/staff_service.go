package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-ops/internal/auth"
	"github.com/spec-kit/helpdesk-ops/internal/config"
	"github.com/spec-kit/helpdesk-ops/internal/domain"
	"github.com/spec-kit/helpdesk-ops/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-ops/pkg/util/errorutil"
)

// StaffService manages staff accounts and their workflow roles.
type StaffService struct {
	staff      repository.StaffRepository
	bcryptCost int
}

// StaffListFilters define listing parameters.
type StaffListFilters struct {
	Role   *domain.StaffRole
	Active *bool
	Limit  int
	Offset int
}

// StaffInput carries account fields for create and update.
type StaffInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.StaffRole
	Active   bool
}

// NewStaffService constructs the service.
func NewStaffService(cfg config.Config, staffRepo repository.StaffRepository) *StaffService {
	return &StaffService{
		staff:      staffRepo,
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

func requireManager(actor *domain.StaffMember) error {
	if actor == nil || actor.Role != domain.StaffRoleManager {
		return apperrors.NewForbidden("manager role required")
	}
	return nil
}

func validRole(role domain.StaffRole) bool {
	switch role {
	case domain.StaffRoleRequester, domain.StaffRoleAgent, domain.StaffRoleOperator,
		domain.StaffRoleApprover, domain.StaffRoleManager, domain.StaffRoleAuditor:
		return true
	}
	return false
}

// CreateStaffMember adds a new staff account.
func (s *StaffService) CreateStaffMember(ctx context.Context, actor *domain.StaffMember, input StaffInput) (*domain.StaffMember, error) {
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	problems := map[string]any{}
	if input.Name == "" {
		problems["name"] = "required"
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		problems["email"] = "invalid email"
	}
	if problem := auth.CheckPasswordPolicy(input.Password); problem != "" {
		problems["password"] = problem
	}
	if !validRole(input.Role) {
		problems["role"] = "unknown role"
	}
	if len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid staff member", problems)
	}

	if existing, err := s.staff.GetByEmail(ctx, input.Email); err == nil && existing != nil {
		return nil, apperrors.NewConflict("staff email already exists", map[string]any{"email": input.Email})
	} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	staff := &domain.StaffMember{
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: hash,
		Role:         input.Role,
		Active:       true,
	}
	if err := s.staff.Create(ctx, staff); err != nil {
		return nil, apperrors.MapError(err)
	}
	return staff, nil
}

// ListStaffMembers lists staff with filters.
func (s *StaffService) ListStaffMembers(ctx context.Context, actor *domain.StaffMember, filters StaffListFilters) ([]domain.StaffMember, error) {
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	return s.staff.List(ctx, repository.StaffFilter{
		Role:   filters.Role,
		Active: filters.Active,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

// GetStaffMemberByID fetches staff.
func (s *StaffService) GetStaffMemberByID(ctx context.Context, actor *domain.StaffMember, id string) (*domain.StaffMember, error) {
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	staff, err := s.staff.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.NotFoundOr(err, "staff member", map[string]any{"staff_id": id})
	}
	return staff, nil
}

// UpdateStaffMember updates name, email, role and active flag. A manager
// cannot deactivate or demote themselves.
func (s *StaffService) UpdateStaffMember(ctx context.Context, actor *domain.StaffMember, staffID string, input StaffInput) (*domain.StaffMember, error) {
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	staff, err := s.staff.GetByID(ctx, staffID)
	if err != nil {
		return nil, apperrors.NotFoundOr(err, "staff member", map[string]any{"staff_id": staffID})
	}
	if !validRole(input.Role) {
		return nil, apperrors.NewValidationError("invalid staff member", map[string]any{"role": "unknown role"})
	}
	if staff.ID == actor.ID && (!input.Active || input.Role != domain.StaffRoleManager) {
		return nil, apperrors.NewConflict("managers cannot demote or deactivate themselves", nil)
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email != "" && email != staff.Email {
		if existing, err := s.staff.GetByEmail(ctx, email); err == nil && existing != nil && existing.ID != staff.ID {
			return nil, apperrors.NewConflict("staff email already exists", map[string]any{"email": email})
		} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.MapError(err)
		}
		staff.Email = email
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		staff.Name = name
	}
	staff.Role = input.Role
	staff.Active = input.Active

	if err := s.staff.Update(ctx, staff); err != nil {
		return nil, apperrors.MapError(err)
	}
	return staff, nil
}

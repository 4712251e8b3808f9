package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/helpdesk-ops/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-ops/internal/auth"
	"github.com/spec-kit/helpdesk-ops/internal/domain"
	"github.com/spec-kit/helpdesk-ops/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Staff          *handlers.StaffHandler
	Tasks          *handlers.TasksHandler
	Approvals      *handlers.ApprovalsHandler
	Directory      *handlers.DirectoryHandler
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes. Managers pass every role guard.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/staff/login", cfg.Staff.Login)
	authGroup.Post("/password/change", cfg.AuthMiddleware.Handle, auth.RequireAnyRole(), cfg.Staff.ChangePassword)

	protected := app.Group("", cfg.AuthMiddleware.Handle)

	readers := auth.RequireStaffRole(domain.StaffRoleAgent, domain.StaffRoleOperator, domain.StaffRoleApprover,
		domain.StaffRoleManager, domain.StaffRoleAuditor)
	creators := auth.RequireStaffRole(domain.StaffRoleAgent, domain.StaffRoleManager)
	approvers := auth.RequireStaffRole(domain.StaffRoleApprover, domain.StaffRoleManager)
	operators := auth.RequireStaffRole(domain.StaffRoleOperator, domain.StaffRoleManager)

	tasks := protected.Group("/tasks")
	tasks.Post("/", creators, cfg.Tasks.Create)
	tasks.Get("/", readers, cfg.Tasks.List)
	tasks.Get("/:id", readers, cfg.Tasks.Get)
	tasks.Get("/:id/summary", readers, cfg.Tasks.Summary)
	tasks.Post("/:id/request-approval", creators, cfg.Tasks.RequestApproval)
	tasks.Post("/:id/execute", operators, cfg.Tasks.Execute)

	protected.Get("/tickets/:id/history", readers, cfg.Tasks.TicketHistory)

	approvals := protected.Group("/approvals")
	approvals.Get("/", readers, cfg.Approvals.List)
	approvals.Post("/:id/approve", approvers, cfg.Approvals.Approve)
	approvals.Post("/:id/reject", approvers, cfg.Approvals.Reject)

	dir := protected.Group("/directory", auth.RequireStaffRole(domain.StaffRoleAgent, domain.StaffRoleOperator,
		domain.StaffRoleApprover, domain.StaffRoleManager))
	dir.Get("/users/search", cfg.Directory.SearchUsers)
	dir.Get("/users/:id/licenses", cfg.Directory.UserLicenses)
	dir.Get("/users/:id", cfg.Directory.GetUser)
	dir.Get("/licenses", cfg.Directory.ListLicenses)

	staff := protected.Group("/staff/members", auth.RequireStaffRole(domain.StaffRoleManager))
	staff.Post("/", cfg.Staff.CreateStaff)
	staff.Get("/", cfg.Staff.ListStaff)
	staff.Get("/:id", cfg.Staff.GetStaff)
	staff.Put("/:id", cfg.Staff.UpdateStaff)
}

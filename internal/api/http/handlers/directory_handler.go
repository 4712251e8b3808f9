package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-ops/internal/directory"
	"github.com/spec-kit/helpdesk-ops/internal/service"
)

// DirectoryReader is the read-only directory surface exposed to staff.
type DirectoryReader interface {
	GetUser(ctx context.Context, principal string) (*directory.User, error)
	SearchUsers(ctx context.Context, query string, top int) ([]directory.User, error)
	UserLicenses(ctx context.Context, principal string) ([]directory.AssignedLicense, error)
	ListLicenses(ctx context.Context) ([]directory.LicenseInventory, error)
}

// DirectoryHandler exposes directory lookups. A nil reader means the
// integration is disabled and every endpoint answers 503.
type DirectoryHandler struct {
	reader DirectoryReader
}

// NewDirectoryHandler constructs handler.
func NewDirectoryHandler(reader DirectoryReader) *DirectoryHandler {
	return &DirectoryHandler{reader: reader}
}

func (h *DirectoryHandler) enabled() error {
	if h.reader == nil {
		return fiber.NewError(http.StatusServiceUnavailable, "directory integration is not configured")
	}
	return nil
}

// SearchUsers handles GET /directory/users/search.
func (h *DirectoryHandler) SearchUsers(c *fiber.Ctx) error {
	if err := h.enabled(); err != nil {
		return err
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return fiber.NewError(http.StatusBadRequest, "q required")
	}
	users, err := h.reader.SearchUsers(c.UserContext(), q, parseIntQuery(c, "top", 25))
	if err != nil {
		return service.MapDirectoryError(err)
	}
	return c.JSON(fiber.Map{"data": users})
}

// GetUser handles GET /directory/users/:id.
func (h *DirectoryHandler) GetUser(c *fiber.Ctx) error {
	if err := h.enabled(); err != nil {
		return err
	}
	user, err := h.reader.GetUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return service.MapDirectoryError(err)
	}
	return c.JSON(fiber.Map{"data": user})
}

// UserLicenses handles GET /directory/users/:id/licenses.
func (h *DirectoryHandler) UserLicenses(c *fiber.Ctx) error {
	if err := h.enabled(); err != nil {
		return err
	}
	licenses, err := h.reader.UserLicenses(c.UserContext(), c.Params("id"))
	if err != nil {
		return service.MapDirectoryError(err)
	}
	return c.JSON(fiber.Map{"data": licenses})
}

// ListLicenses handles GET /directory/licenses.
func (h *DirectoryHandler) ListLicenses(c *fiber.Ctx) error {
	if err := h.enabled(); err != nil {
		return err
	}
	inventory, err := h.reader.ListLicenses(c.UserContext())
	if err != nil {
		return service.MapDirectoryError(err)
	}
	return c.JSON(fiber.Map{"data": inventory})
}

package access

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/dee-identity/dee_registry/internal/middleware"
)

// Handler exposes role management.
type Handler struct {
	controller *Controller
}

// NewHandler constructs an access handler.
func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

type roleInfo struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Roles handles GET /roles.
func (h *Handler) Roles(c *fiber.Ctx) error {
	out := make([]roleInfo, 0, len(Roles))
	for _, r := range Roles {
		out = append(out, roleInfo{Name: string(r), ID: r.ID()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"owner": h.controller.Owner(), "roles": out})
}

// HasRole handles GET /roles/:role/members/:actor.
func (h *Handler) HasRole(c *fiber.Ctx) error {
	role, err := ParseRole(c.Params("role"))
	if err != nil {
		return middleware.Error(err)
	}
	ok, err := h.controller.HasRole(c.UserContext(), role, c.Params("actor"))
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"role": role, "actor": c.Params("actor"), "member": ok})
}

// Grant handles POST /roles/:role/members.
func (h *Handler) Grant(c *fiber.Ctx) error {
	role, err := ParseRole(c.Params("role"))
	if err != nil {
		return middleware.Error(err)
	}
	var req struct {
		Actor string `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.controller.Grant(c.UserContext(), middleware.Actor(c), role, req.Actor); err != nil {
		return middleware.Error(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Revoke handles DELETE /roles/:role/members/:actor.
func (h *Handler) Revoke(c *fiber.Ctx) error {
	role, err := ParseRole(c.Params("role"))
	if err != nil {
		return middleware.Error(err)
	}
	if err := h.controller.Revoke(c.UserContext(), middleware.Actor(c), role, c.Params("actor")); err != nil {
		return middleware.Error(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Register mounts the role routes on router.
func (h *Handler) Register(router fiber.Router) {
	router.Get("/roles", h.Roles)
	router.Get("/roles/:role/members/:actor", h.HasRole)
	router.Post("/roles/:role/members", h.Grant)
	router.Delete("/roles/:role/members/:actor", h.Revoke)
}

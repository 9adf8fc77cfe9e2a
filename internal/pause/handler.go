package pause

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/dee-identity/dee_registry/internal/middleware"
)

// Handler exposes the pause switch.
type Handler struct {
	sw *Switch
}

// NewHandler constructs a pause handler.
func NewHandler(sw *Switch) *Handler {
	return &Handler{sw: sw}
}

// Status reports the current state.
func (h *Handler) Status(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(h.sw.Status())
}

// Pause handles POST /admin/pause.
func (h *Handler) Pause(c *fiber.Ctx) error {
	return h.run(c, h.sw.Pause)
}

// Unpause handles POST /admin/unpause.
func (h *Handler) Unpause(c *fiber.Ctx) error {
	return h.run(c, h.sw.Unpause)
}

// EmergencyStop handles POST /admin/emergency-stop.
func (h *Handler) EmergencyStop(c *fiber.Ctx) error {
	return h.run(c, h.sw.EmergencyStop)
}

// EmergencyResume handles POST /admin/emergency-resume.
func (h *Handler) EmergencyResume(c *fiber.Ctx) error {
	return h.run(c, h.sw.EmergencyResume)
}

func (h *Handler) run(c *fiber.Ctx, op func(ctx context.Context, caller string) error) error {
	if err := op(c.UserContext(), middleware.Actor(c)); err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(h.sw.Status())
}

// Register mounts the pause routes on router.
func (h *Handler) Register(router fiber.Router) {
	router.Get("/admin/status", h.Status)
	router.Post("/admin/pause", h.Pause)
	router.Post("/admin/unpause", h.Unpause)
	router.Post("/admin/emergency-stop", h.EmergencyStop)
	router.Post("/admin/emergency-resume", h.EmergencyResume)
}

package events

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

const maxFeedPage = 500

// Handler serves the event feed to indexers.
type Handler struct {
	journal Journal
}

// NewHandler constructs an event feed handler.
func NewHandler(journal Journal) *Handler {
	return &Handler{journal: journal}
}

// List returns events after the `since` sequence number.
func (h *Handler) List(c *fiber.Ctx) error {
	since, err := strconv.ParseUint(c.Query("since", "0"), 10, 64)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "since must be a non-negative integer")
	}
	limit := c.QueryInt("limit", 100)
	if limit > maxFeedPage {
		limit = maxFeedPage
	}
	evs, err := h.journal.Since(c.UserContext(), since, limit)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	next := since
	if len(evs) > 0 {
		next = evs[len(evs)-1].Seq
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"events": evs, "next": next})
}

// Register mounts the feed on router.
func (h *Handler) Register(router fiber.Router) {
	router.Get("/events", h.List)
}

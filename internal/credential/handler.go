package credential

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/dee-identity/dee_registry/internal/middleware"
)

// Handler exposes credential ledger endpoints.
type Handler struct {
	ledger *Ledger
}

// NewHandler constructs a credential HTTP handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type mintRequest struct {
	Holder         string `json:"holder"`
	DocHash        string `json:"doc_hash"`
	CredentialType string `json:"credential_type"`
}

type transferRequest struct {
	To string `json:"to"`
}

type metadataRequest struct {
	DocHash        string `json:"doc_hash"`
	CredentialType string `json:"credential_type"`
}

type baseURIRequest struct {
	BaseURI string `json:"base_uri"`
}

func parse(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func tokenParam(c *fiber.Ctx) (uint64, error) {
	id, err := strconv.ParseUint(c.Params("tokenID"), 10, 64)
	if err != nil {
		return 0, middleware.Invalid(fmt.Errorf("token id: %w", err))
	}
	return id, nil
}

// Mint handles POST /credentials.
func (h *Handler) Mint(c *fiber.Ctx) error {
	var req mintRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	cred, err := h.ledger.Mint(c.UserContext(), middleware.Actor(c), req.Holder, req.DocHash, req.CredentialType)
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusCreated).JSON(cred)
}

// Transfer handles POST /credentials/:tokenID/transfer.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	id, err := tokenParam(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.ledger.Transfer(c.UserContext(), middleware.Actor(c), req.To, id); err != nil {
		return middleware.Error(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// UpdateMetadata handles PUT /credentials/:tokenID/metadata.
func (h *Handler) UpdateMetadata(c *fiber.Ctx) error {
	id, err := tokenParam(c)
	if err != nil {
		return err
	}
	var req metadataRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.ledger.UpdateMetadata(c.UserContext(), middleware.Actor(c), id, req.DocHash, req.CredentialType); err != nil {
		return middleware.Error(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Get handles GET /credentials/:tokenID.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := tokenParam(c)
	if err != nil {
		return err
	}
	cred, err := h.ledger.Get(c.UserContext(), id)
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(cred)
}

// OwnerOf handles GET /credentials/:tokenID/owner.
func (h *Handler) OwnerOf(c *fiber.Ctx) error {
	id, err := tokenParam(c)
	if err != nil {
		return err
	}
	holder, err := h.ledger.OwnerOf(c.UserContext(), id)
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"token_id": id, "holder": holder})
}

// TokenURI handles GET /credentials/:tokenID/uri.
func (h *Handler) TokenURI(c *fiber.Ctx) error {
	id, err := tokenParam(c)
	if err != nil {
		return err
	}
	uri, err := h.ledger.TokenURI(c.UserContext(), id)
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"token_id": id, "uri": uri})
}

// SetBaseURI handles PUT /credentials/base-uri.
func (h *Handler) SetBaseURI(c *fiber.Ctx) error {
	var req baseURIRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.ledger.SetBaseURI(c.UserContext(), middleware.Actor(c), req.BaseURI); err != nil {
		return middleware.Error(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Register mounts the credential routes on router.
func (h *Handler) Register(router fiber.Router) {
	router.Post("/credentials", h.Mint)
	router.Put("/credentials/base-uri", h.SetBaseURI)
	router.Get("/credentials/:tokenID", h.Get)
	router.Get("/credentials/:tokenID/owner", h.OwnerOf)
	router.Get("/credentials/:tokenID/uri", h.TokenURI)
	router.Post("/credentials/:tokenID/transfer", h.Transfer)
	router.Put("/credentials/:tokenID/metadata", h.UpdateMetadata)
}

package registry

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/dee-identity/dee_registry/internal/middleware"
)

// Handler exposes registry endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a registry HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func parse(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Create handles POST /dids.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req docHashRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	rec, err := h.service.CreateDID(c.UserContext(), middleware.Actor(c), req.DocHash)
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusCreated).JSON(rec)
}

// Update handles PUT /dids/me.
func (h *Handler) Update(c *fiber.Ctx) error {
	var req docHashRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	rec, err := h.service.UpdateDID(c.UserContext(), middleware.Actor(c), req.DocHash)
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(rec)
}

// Deactivate handles DELETE /dids/me.
func (h *Handler) Deactivate(c *fiber.Ctx) error {
	rec, err := h.service.DeactivateDID(c.UserContext(), middleware.Actor(c))
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(rec)
}

// Resolve handles GET /dids/:identity.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	res, err := h.service.ResolveDID(c.UserContext(), c.Params("identity"))
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

// List handles GET /dids?offset=&limit=.
func (h *Handler) List(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 0)
	recs, err := h.service.GetDIDs(c.UserContext(), offset, limit)
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(pageResponse{Offset: offset, Limit: len(recs), DIDs: recs})
}

// Stats handles GET /dids/stats.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.GetContractStats(c.UserContext())
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(stats)
}

// AddDelegate handles POST /dids/me/delegates.
func (h *Handler) AddDelegate(c *fiber.Ctx) error {
	var req delegateRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.service.AddDelegate(c.UserContext(), middleware.Actor(c), req.Delegate); err != nil {
		return middleware.Error(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// RemoveDelegate handles DELETE /dids/me/delegates/:delegate.
func (h *Handler) RemoveDelegate(c *fiber.Ctx) error {
	if err := h.service.RemoveDelegate(c.UserContext(), middleware.Actor(c), c.Params("delegate")); err != nil {
		return middleware.Error(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Delegates handles GET /dids/:identity/delegates.
func (h *Handler) Delegates(c *fiber.Ctx) error {
	list, err := h.service.Delegates(c.UserContext(), c.Params("identity"))
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"delegates": list})
}

// IsDelegate handles GET /dids/:identity/delegates/:delegate.
func (h *Handler) IsDelegate(c *fiber.Ctx) error {
	ok, err := h.service.IsDelegate(c.UserContext(), c.Params("identity"), c.Params("delegate"))
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"delegate": ok})
}

// Batch handles POST /dids/batch.
func (h *Handler) Batch(c *fiber.Ctx) error {
	var req batchRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	recs, err := h.service.BatchCreateDIDs(c.UserContext(), middleware.Actor(c), req.Identities, req.DocHashes)
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"dids": recs})
}

// AddIssuer handles POST /issuers.
func (h *Handler) AddIssuer(c *fiber.Ctx) error {
	var req issuerRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.service.AddIssuer(c.UserContext(), middleware.Actor(c), req.Actor); err != nil {
		return middleware.Error(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Issue handles POST /attestations.
func (h *Handler) Issue(c *fiber.Ctx) error {
	var req issueRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	cred, err := h.service.IssueCredential(c.UserContext(), middleware.Actor(c), req.Subject, req.DocHash, req.CredentialType)
	if err != nil {
		return middleware.Error(err)
	}
	return c.Status(http.StatusCreated).JSON(cred)
}

// Issued handles GET /dids/:identity/attestations.
func (h *Handler) Issued(c *fiber.Ctx) error {
	list, err := h.service.IssuedCredentials(c.UserContext(), c.Params("identity"))
	if err != nil {
		return middleware.Error(err)
	}
	if list == nil {
		list = []IssuedCredential{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"attestations": list})
}

// ValidateHash handles GET /hashes/:hash/valid.
func (h *Handler) ValidateHash(c *fiber.Ctx) error {
	hash := c.Params("hash")
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"hash":        hash,
		"ipfs":        ValidateIPFSHash(hash),
		"policy_pass": h.service.hashPolicy.Check(hash) == nil,
	})
}

// Register mounts the registry routes on router.
func (h *Handler) Register(router fiber.Router) {
	router.Post("/dids", h.Create)
	router.Post("/dids/batch", h.Batch)
	router.Get("/dids", h.List)
	router.Get("/dids/stats", h.Stats)
	router.Put("/dids/me", h.Update)
	router.Delete("/dids/me", h.Deactivate)
	router.Post("/dids/me/delegates", h.AddDelegate)
	router.Delete("/dids/me/delegates/:delegate", h.RemoveDelegate)
	router.Get("/dids/:identity", h.Resolve)
	router.Get("/dids/:identity/delegates", h.Delegates)
	router.Get("/dids/:identity/delegates/:delegate", h.IsDelegate)
	router.Get("/dids/:identity/attestations", h.Issued)
	router.Post("/issuers", h.AddIssuer)
	router.Post("/attestations", h.Issue)
	router.Get("/hashes/:hash/valid", h.ValidateHash)
}

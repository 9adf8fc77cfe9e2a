package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dee-identity/dee_registry/internal/auth"
	"github.com/dee-identity/dee_registry/internal/domain"
)

const (
	actorLocal  = "actor"
	actorHeader = "X-Actor"
)

// ActorAuth resolves the calling actor from a bearer token signed with
// secret. When allowHeader is set (development only) an X-Actor header is
// accepted as-is. Requests without credentials proceed anonymously; the
// services reject anonymous mutations.
func ActorAuth(secret []byte, allowHeader bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if authz != "" {
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				return fiber.NewError(http.StatusUnauthorized, "unsupported authorization scheme")
			}
			actor, err := auth.ParseActorToken(secret, strings.TrimSpace(authz[len("Bearer "):]))
			if err != nil {
				return fiber.NewError(http.StatusUnauthorized, "invalid token")
			}
			c.Locals(actorLocal, actor)
			return c.Next()
		}
		if allowHeader {
			if actor := strings.TrimSpace(c.Get(actorHeader)); actor != "" {
				c.Locals(actorLocal, actor)
			}
		}
		return c.Next()
	}
}

// Actor returns the resolved caller, or "" for anonymous requests.
func Actor(c *fiber.Ctx) string {
	actor, _ := c.Locals(actorLocal).(string)
	return actor
}

// statusError carries the HTTP status chosen for a service error while
// keeping the original error for kind lookup.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

// Error tags a service error with its mapped HTTP status.
func Error(err error) error {
	return &statusError{status: domain.HTTPStatus(err), err: err}
}

// Invalid reports a malformed request body as ErrInvalidFormat.
func Invalid(err error) error {
	return Error(fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err))
}

// ErrorHandler renders errors as JSON bodies.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	kind := domain.Kind(err)
	var se *statusError
	var fe *fiber.Error
	switch {
	case errors.As(err, &se):
		status = se.status
	case errors.As(err, &fe):
		status = fe.Code
		kind = "request"
	default:
		status = domain.HTTPStatus(err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  kind,
	})
}

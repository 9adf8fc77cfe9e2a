package access

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dee-identity/dee_registry/internal/database"
	"github.com/dee-identity/dee_registry/internal/domain"
	"github.com/dee-identity/dee_registry/internal/events"
	"github.com/dee-identity/dee_registry/internal/logging"
	"github.com/dee-identity/dee_registry/internal/metrics"
)

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool
	// Via names the capability that granted access: "owner" or a role name.
	Via string
}

// Err returns ErrUnauthorized for a denied decision.
func (d Decision) Err(actor string, need string) error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s lacks %s", domain.ErrUnauthorized, actor, need)
}

// Controller centralizes role membership and permission checks.
type Controller struct {
	mu      sync.RWMutex
	owner   string
	repo    Repository
	tx      database.TxManager
	events  *events.Emitter
	clock   domain.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Options configures a Controller.
type Options struct {
	Owner   string
	Tx      database.TxManager
	Events  *events.Emitter
	Clock   domain.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewController builds the access controller and seeds the owner with the
// ADMIN role, mirroring the deployment-time grant.
func NewController(ctx context.Context, repo Repository, opts Options) (*Controller, error) {
	owner := strings.TrimSpace(opts.Owner)
	if owner == "" {
		return nil, fmt.Errorf("owner address is required")
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if opts.Tx == nil {
		opts.Tx = database.NewTxManager(nil)
	}
	c := &Controller{
		owner:   owner,
		repo:    repo,
		tx:      opts.Tx,
		events:  opts.Events,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		logger:  logging.Component(opts.Logger, "access"),
	}
	if _, err := repo.Grant(ctx, Admin, owner, opts.Clock.Now()); err != nil {
		return nil, fmt.Errorf("seed owner admin role: %w", err)
	}
	return c, nil
}

// Owner returns the contract owner.
func (c *Controller) Owner() string {
	return c.owner
}

// IsOwner reports whether actor is the contract owner.
func (c *Controller) IsOwner(actor string) bool {
	return actor != "" && actor == c.owner
}

// HasRole reports whether actor holds role.
func (c *Controller) HasRole(ctx context.Context, role Role, actor string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.repo.HasRole(ctx, role, actor)
}

// Check evaluates whether actor holds role.
func (c *Controller) Check(ctx context.Context, role Role, actor string) (Decision, error) {
	ok, err := c.HasRole(ctx, role, actor)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{}, nil
	}
	return Decision{Allowed: true, Via: string(role)}, nil
}

// CheckAdministrator evaluates the implicit administrator capability: the
// owner, or any ADMIN role holder.
func (c *Controller) CheckAdministrator(ctx context.Context, actor string) (Decision, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.administrator(ctx, actor)
}

// administrator must be called with c.mu held.
func (c *Controller) administrator(ctx context.Context, actor string) (Decision, error) {
	if c.IsOwner(actor) {
		return Decision{Allowed: true, Via: "owner"}, nil
	}
	ok, err := c.repo.HasRole(ctx, Admin, actor)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: ok, Via: string(Admin)}, nil
}

// Require fails with ErrUnauthorized unless actor holds role.
func (c *Controller) Require(ctx context.Context, role Role, actor string) error {
	d, err := c.Check(ctx, role, actor)
	if err != nil {
		return err
	}
	return c.deny(d, actor, string(role))
}

// RequireAdministrator fails with ErrUnauthorized unless actor is the owner
// or an ADMIN.
func (c *Controller) RequireAdministrator(ctx context.Context, actor string) error {
	d, err := c.CheckAdministrator(ctx, actor)
	if err != nil {
		return err
	}
	return c.deny(d, actor, "administrator")
}

// WithRole runs fn once actor is confirmed to hold role. Membership cannot
// change until fn returns, so fn is ordered before any later revocation.
func (c *Controller) WithRole(ctx context.Context, role Role, actor string, fn func() error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ok, err := c.repo.HasRole(ctx, role, actor)
	if err != nil {
		return err
	}
	if err := c.deny(Decision{Allowed: ok, Via: string(role)}, actor, string(role)); err != nil {
		return err
	}
	return fn()
}

// WithAdministrator is WithRole for the owner-or-ADMIN capability.
func (c *Controller) WithAdministrator(ctx context.Context, actor string, fn func() error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, err := c.administrator(ctx, actor)
	if err != nil {
		return err
	}
	if err := c.deny(d, actor, "administrator"); err != nil {
		return err
	}
	return fn()
}

func (c *Controller) deny(d Decision, actor, need string) error {
	if err := d.Err(actor, need); err != nil {
		c.logger.Debug("authorization denied", slog.String("actor", actor), slog.String("need", need))
		return err
	}
	return nil
}

// Grant gives role to actor. The caller must be an administrator.
func (c *Controller) Grant(ctx context.Context, caller string, role Role, actor string) error {
	err := c.change(ctx, caller, role, actor, "", events.RoleGranted, true)
	c.metrics.Observe("grantRole", err)
	return err
}

// AddIssuer grants ISSUER to actor. Unlike Grant it requires the ADMIN role
// itself rather than the implicit administrator capability.
func (c *Controller) AddIssuer(ctx context.Context, caller, actor string) error {
	err := c.change(ctx, caller, Issuer, actor, Admin, events.IssuerAdded, true)
	c.metrics.Observe("addIssuer", err)
	return err
}

// Revoke removes role from actor. The caller must be an administrator.
func (c *Controller) Revoke(ctx context.Context, caller string, role Role, actor string) error {
	err := c.change(ctx, caller, role, actor, "", events.RoleRevoked, false)
	c.metrics.Observe("revokeRole", err)
	return err
}

// change grants or revokes role. An empty need means the administrator
// capability; otherwise the caller must hold need.
func (c *Controller) change(ctx context.Context, caller string, role Role, actor string, need Role, eventName string, grant bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.authorize(ctx, caller, need); err != nil {
		return err
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return fmt.Errorf("%w: empty account", domain.ErrInvalidFormat)
	}

	held, err := c.repo.HasRole(ctx, role, actor)
	if err != nil {
		return err
	}
	if held == grant {
		return nil
	}

	now := c.clock.Now()
	err = c.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := c.events.Emit(ctx, eventName, actor, now, map[string]string{
			"role":    string(role),
			"role_id": role.ID(),
			"sender":  caller,
		}); err != nil {
			return err
		}
		if grant {
			_, err = c.repo.Grant(ctx, role, actor, now)
		} else {
			_, err = c.repo.Revoke(ctx, role, actor)
		}
		return err
	})
	if err != nil {
		return err
	}

	verb := "role revoked"
	if grant {
		verb = "role granted"
	}
	c.logger.Info(verb, slog.String("role", string(role)), slog.String("actor", actor), slog.String("by", caller))
	return nil
}

// authorize must be called with c.mu held.
func (c *Controller) authorize(ctx context.Context, caller string, need Role) error {
	if need == "" {
		d, err := c.administrator(ctx, caller)
		if err != nil {
			return err
		}
		return c.deny(d, caller, "administrator")
	}
	ok, err := c.repo.HasRole(ctx, need, caller)
	if err != nil {
		return err
	}
	return c.deny(Decision{Allowed: ok, Via: string(need)}, caller, string(need))
}

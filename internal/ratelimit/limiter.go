package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/dee-identity/dee_registry/internal/domain"
)

// Store tracks the time of each actor's last successful mutating call.
type Store interface {
	LastCall(ctx context.Context, actor string) (time.Time, bool, error)
	// Record stores at as the actor's last call. ttl is a retention hint;
	// entries older than the cooldown carry no information.
	Record(ctx context.Context, actor string, at time.Time, ttl time.Duration) error
}

// Limiter enforces a fixed cooldown between an actor's mutating calls. One
// timestamp is kept per actor regardless of which operation ran last.
type Limiter struct {
	store    Store
	cooldown time.Duration
}

// New builds a limiter over store.
func New(store Store, cooldown time.Duration) *Limiter {
	return &Limiter{store: store, cooldown: cooldown}
}

// Check fails with ErrRateLimited if the cooldown has not elapsed since the
// actor's last recorded call. It records nothing.
func (l *Limiter) Check(ctx context.Context, actor string, now time.Time) error {
	if l.cooldown <= 0 {
		return nil
	}
	last, ok, err := l.store.LastCall(ctx, actor)
	if err != nil {
		return fmt.Errorf("rate limit lookup: %w", err)
	}
	if !ok {
		return nil
	}
	if elapsed := now.Sub(last); elapsed < l.cooldown {
		return fmt.Errorf("%w: retry in %s", domain.ErrRateLimited, l.cooldown-elapsed)
	}
	return nil
}

// Record marks now as the actor's last call.
func (l *Limiter) Record(ctx context.Context, actor string, now time.Time) error {
	if l.cooldown <= 0 {
		return nil
	}
	return l.store.Record(ctx, actor, now, l.cooldown)
}

// CheckAndRecord combines Check and Record. Callers that can still fail after
// the check should call them separately so a rejected operation leaves no trace.
func (l *Limiter) CheckAndRecord(ctx context.Context, actor string, now time.Time) error {
	if err := l.Check(ctx, actor, now); err != nil {
		return err
	}
	return l.Record(ctx, actor, now)
}

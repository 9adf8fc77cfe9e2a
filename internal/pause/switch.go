package pause

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dee-identity/dee_registry/internal/access"
	"github.com/dee-identity/dee_registry/internal/database"
	"github.com/dee-identity/dee_registry/internal/domain"
	"github.com/dee-identity/dee_registry/internal/events"
	"github.com/dee-identity/dee_registry/internal/logging"
	"github.com/dee-identity/dee_registry/internal/metrics"
)

// State of the switch.
type State string

const (
	Active State = "active"
	Paused State = "paused"
)

// Status describes the switch, including whether the pause was an emergency stop.
type Status struct {
	State     State     `json:"state"`
	Emergency bool      `json:"emergency"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by,omitempty"`
}

// Switch gates mutating registry operations.
type Switch struct {
	mu      sync.RWMutex
	status  Status
	repo    Repository
	tx      database.TxManager
	access  *access.Controller
	events  *events.Emitter
	clock   domain.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Options configures a Switch.
type Options struct {
	StartPaused bool
	Tx          database.TxManager
	Events      *events.Emitter
	Clock       domain.Clock
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewSwitch restores the persisted state, or initializes it from StartPaused.
func NewSwitch(ctx context.Context, repo Repository, ac *access.Controller, opts Options) (*Switch, error) {
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if opts.Tx == nil {
		opts.Tx = database.NewTxManager(nil)
	}
	s := &Switch{
		repo:    repo,
		tx:      opts.Tx,
		access:  ac,
		events:  opts.Events,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		logger:  logging.Component(opts.Logger, "pause"),
	}
	status, ok, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pause state: %w", err)
	}
	if !ok {
		status = Status{State: Active, ChangedAt: opts.Clock.Now(), ChangedBy: ac.Owner()}
		if opts.StartPaused {
			status.State = Paused
		}
		if err := repo.Save(ctx, status); err != nil {
			return nil, fmt.Errorf("init pause state: %w", err)
		}
	}
	s.status = status
	s.metrics.SetPaused(status.State == Paused)
	return s, nil
}

// Status returns the current state.
func (s *Switch) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Paused reports whether mutating operations are blocked.
func (s *Switch) Paused() bool {
	return s.Status().State == Paused
}

// Guard runs fn unless the switch is paused, in which case it fails with
// ErrContractPaused. The switch cannot flip until fn returns, so a guarded
// mutation is ordered entirely before or after any pause.
func (s *Switch) Guard(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status.State == Paused {
		return domain.ErrContractPaused
	}
	return fn()
}

// Pause blocks mutating operations. Fails if already paused.
func (s *Switch) Pause(ctx context.Context, caller string) error {
	err := s.transition(ctx, caller, func(cur Status) (Status, string, error) {
		if cur.State == Paused {
			return cur, "", domain.ErrContractPaused
		}
		return Status{State: Paused}, events.Paused, nil
	})
	s.metrics.Observe("pause", err)
	return err
}

// Unpause clears any pause, normal or emergency.
func (s *Switch) Unpause(ctx context.Context, caller string) error {
	err := s.transition(ctx, caller, func(cur Status) (Status, string, error) {
		if cur.State != Paused {
			return cur, "", domain.ErrNotPaused
		}
		return Status{State: Active}, events.Unpaused, nil
	})
	s.metrics.Observe("unpause", err)
	return err
}

// EmergencyStop forces the paused state and flags it as an emergency. It
// succeeds even when already paused.
func (s *Switch) EmergencyStop(ctx context.Context, caller string) error {
	err := s.transition(ctx, caller, func(Status) (Status, string, error) {
		return Status{State: Paused, Emergency: true}, events.EmergencyStopped, nil
	})
	s.metrics.Observe("emergencyStop", err)
	return err
}

// EmergencyResume returns to the active state.
func (s *Switch) EmergencyResume(ctx context.Context, caller string) error {
	err := s.transition(ctx, caller, func(cur Status) (Status, string, error) {
		if cur.State != Paused {
			return cur, "", domain.ErrNotPaused
		}
		return Status{State: Active}, events.EmergencyResumed, nil
	})
	s.metrics.Observe("emergencyResume", err)
	return err
}

func (s *Switch) transition(ctx context.Context, caller string, next func(Status) (Status, string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.access.WithAdministrator(ctx, caller, func() error {
		status, eventName, err := next(s.status)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		status.ChangedAt = now
		status.ChangedBy = caller

		err = s.tx.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.events.Emit(ctx, eventName, caller, now, map[string]string{
				"state":     string(status.State),
				"emergency": fmt.Sprintf("%t", status.Emergency),
			}); err != nil {
				return err
			}
			if err := s.repo.Save(ctx, status); err != nil {
				return fmt.Errorf("save pause state: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.status = status
		s.metrics.SetPaused(status.State == Paused)

		s.logger.Info("pause state changed", slog.String("state", string(status.State)), slog.Bool("emergency", status.Emergency), slog.String("by", caller))
		return nil
	})
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dee-identity/dee_registry/internal/access"
	"github.com/dee-identity/dee_registry/internal/database"
	"github.com/dee-identity/dee_registry/internal/domain"
	"github.com/dee-identity/dee_registry/internal/events"
	"github.com/dee-identity/dee_registry/internal/logging"
	"github.com/dee-identity/dee_registry/internal/metrics"
	"github.com/dee-identity/dee_registry/internal/pause"
	"github.com/dee-identity/dee_registry/internal/ratelimit"
)

const (
	defaultPageSize  = 100
	maxDelegateBytes = 128
	maxTypeBytes     = 128
)

// Options configures a Service.
type Options struct {
	Tx         database.TxManager
	Clock      domain.Clock
	Events     *events.Emitter
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	HashPolicy HashPolicy
	// RateLimitDeactivate subjects DeactivateDID to the limiter.
	RateLimitDeactivate bool
	MaxPageSize         int
}

// Service is the identity registry. A single RWMutex serializes every
// mutation; reads share the lock and never observe a half-applied write.
// A mutation holds mu, then the pause switch read lock, then (for role-gated
// operations) the access read lock, and only then opens its unit of work.
type Service struct {
	mu sync.RWMutex

	repo    Repository
	tx      database.TxManager
	access  *access.Controller
	pause   *pause.Switch
	limiter *ratelimit.Limiter
	events  *events.Emitter
	clock   domain.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	hashPolicy          HashPolicy
	rateLimitDeactivate bool
	maxPageSize         int
}

// NewService wires the registry over its collaborators.
func NewService(repo Repository, ac *access.Controller, sw *pause.Switch, limiter *ratelimit.Limiter, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaultPageSize
	}
	if opts.Tx == nil {
		opts.Tx = database.NewTxManager(nil)
	}
	return &Service{
		repo:                repo,
		tx:                  opts.Tx,
		access:              ac,
		pause:               sw,
		limiter:             limiter,
		events:              opts.Events,
		clock:               opts.Clock,
		metrics:             opts.Metrics,
		logger:              logging.Component(opts.Logger, "registry"),
		hashPolicy:          opts.HashPolicy,
		rateLimitDeactivate: opts.RateLimitDeactivate,
		maxPageSize:         opts.MaxPageSize,
	}
}

func requireCaller(caller string) error {
	if strings.TrimSpace(caller) == "" {
		return fmt.Errorf("%w: anonymous caller", domain.ErrUnauthorized)
	}
	return nil
}

// CreateDID registers a DID for caller.
func (s *Service) CreateDID(ctx context.Context, caller, docHash string) (Record, error) {
	rec, err := s.createDID(ctx, caller, docHash)
	s.observe("createDID", err)
	return rec, err
}

func (s *Service) createDID(ctx context.Context, caller, docHash string) (Record, error) {
	if err := requireCaller(caller); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var rec Record
	err := s.guarded(ctx, caller, true, now, func() error {
		exists, err := s.repo.Exists(ctx, caller)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrAlreadyExists
		}
		if err := s.hashPolicy.Check(docHash); err != nil {
			return err
		}

		rec = newRecord(caller, docHash, now)
		return s.tx.WithTx(ctx, func(ctx context.Context) error {
			if err := s.emitCreated(ctx, rec); err != nil {
				return err
			}
			if err := s.repo.Create(ctx, rec); err != nil {
				return fmt.Errorf("create did: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return Record{}, err
	}
	s.recordCall(ctx, caller, true, now)
	s.refreshStats(ctx)

	s.logger.Info("did created", slog.String("identity", caller))
	return rec, nil
}

// UpdateDID replaces the document hash of caller's active DID.
func (s *Service) UpdateDID(ctx context.Context, caller, docHash string) (Record, error) {
	rec, err := s.updateDID(ctx, caller, docHash)
	s.observe("updateDID", err)
	return rec, err
}

func (s *Service) updateDID(ctx context.Context, caller, docHash string) (Record, error) {
	if err := requireCaller(caller); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var rec Record
	err := s.guarded(ctx, caller, true, now, func() error {
		var err error
		rec, err = s.repo.Get(ctx, caller)
		if err != nil {
			return err
		}
		if !rec.Active {
			return fmt.Errorf("%w: did is inactive", domain.ErrNotFound)
		}
		if err := s.hashPolicy.Check(docHash); err != nil {
			return err
		}

		return s.tx.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.events.Emit(ctx, events.DIDUpdated, caller, now, map[string]string{"doc_hash": docHash}); err != nil {
				return err
			}
			if err := s.repo.UpdateDocHash(ctx, caller, docHash, now); err != nil {
				return fmt.Errorf("update did: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return Record{}, err
	}
	rec.DocHash = docHash
	rec.LastUpdated = now
	s.recordCall(ctx, caller, true, now)

	s.logger.Info("did updated", slog.String("identity", caller))
	return rec, nil
}

// DeactivateDID retires caller's DID. The record remains resolvable.
func (s *Service) DeactivateDID(ctx context.Context, caller string) (Record, error) {
	rec, err := s.deactivateDID(ctx, caller)
	s.observe("deactivateDID", err)
	return rec, err
}

func (s *Service) deactivateDID(ctx context.Context, caller string) (Record, error) {
	if err := requireCaller(caller); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var rec Record
	err := s.guarded(ctx, caller, s.rateLimitDeactivate, now, func() error {
		var err error
		rec, err = s.repo.Get(ctx, caller)
		if err != nil {
			return err
		}
		if !rec.Active {
			return domain.ErrAlreadyInactive
		}

		return s.tx.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.events.Emit(ctx, events.DIDDeactivated, caller, now, nil); err != nil {
				return err
			}
			if err := s.repo.Deactivate(ctx, caller, now); err != nil {
				return fmt.Errorf("deactivate did: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return Record{}, err
	}
	rec.Active = false
	rec.LastUpdated = now
	s.recordCall(ctx, caller, s.rateLimitDeactivate, now)
	s.refreshStats(ctx)

	s.logger.Info("did deactivated", slog.String("identity", caller))
	return rec, nil
}

// ResolveDID returns the document hash, last update and active flag of
// identity. Identities that never registered fail with ErrNotFound.
func (s *Service) ResolveDID(ctx context.Context, identity string) (Resolution, error) {
	rec, err := s.Record(ctx, identity)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{DocHash: rec.DocHash, LastUpdated: rec.LastUpdated, Active: rec.Active}, nil
}

// Record returns the full DID record of identity.
func (s *Service) Record(ctx context.Context, identity string) (Record, error) {
	if strings.TrimSpace(identity) == "" {
		return Record{}, domain.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.Get(ctx, identity)
}

// AddDelegate attaches delegate to caller's active DID. Adding an existing
// delegate is a no-op.
func (s *Service) AddDelegate(ctx context.Context, caller, delegate string) error {
	err := s.changeDelegate(ctx, caller, delegate, true)
	s.observe("addDelegate", err)
	return err
}

// RemoveDelegate detaches delegate from caller's active DID. Removing an
// absent delegate is a no-op.
func (s *Service) RemoveDelegate(ctx context.Context, caller, delegate string) error {
	err := s.changeDelegate(ctx, caller, delegate, false)
	s.observe("removeDelegate", err)
	return err
}

func (s *Service) changeDelegate(ctx context.Context, caller, delegate string, add bool) error {
	if err := requireCaller(caller); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.guarded(ctx, caller, false, s.clock.Now(), func() error {
		if err := s.requireActive(ctx, caller, domain.ErrNotFound); err != nil {
			return err
		}
		if err := domain.CheckField("delegate", delegate, maxDelegateBytes); err != nil {
			return err
		}
		delegate = strings.TrimSpace(delegate)

		present, err := s.repo.IsDelegate(ctx, caller, delegate)
		if err != nil {
			return err
		}
		if present == add {
			return nil
		}

		name := events.DelegateRemoved
		if add {
			name = events.DelegateAdded
		}
		return s.tx.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.events.Emit(ctx, name, caller, s.clock.Now(), map[string]string{"delegate": delegate}); err != nil {
				return err
			}
			var err error
			if add {
				_, err = s.repo.AddDelegate(ctx, caller, delegate)
			} else {
				_, err = s.repo.RemoveDelegate(ctx, caller, delegate)
			}
			if err != nil {
				return fmt.Errorf("change delegate: %w", err)
			}
			return nil
		})
	})
}

// IsDelegate reports whether identity has attached delegate.
func (s *Service) IsDelegate(ctx context.Context, identity, delegate string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.IsDelegate(ctx, identity, strings.TrimSpace(delegate))
}

// Delegates lists identity's delegates in lexical order.
func (s *Service) Delegates(ctx context.Context, identity string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.Delegates(ctx, identity)
}

// BatchCreateDIDs registers identities[i] with docHashes[i] for every i.
// Any invalid pair aborts the whole batch. The limiter is bypassed.
func (s *Service) BatchCreateDIDs(ctx context.Context, caller string, identities, docHashes []string) ([]Record, error) {
	recs, err := s.batchCreateDIDs(ctx, caller, identities, docHashes)
	s.observe("batchCreateDIDs", err)
	return recs, err
}

func (s *Service) batchCreateDIDs(ctx context.Context, caller string, identities, docHashes []string) ([]Record, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var records []Record
	err := s.pause.Guard(func() error {
		return s.access.WithRole(ctx, access.Admin, caller, func() error {
			if len(identities) != len(docHashes) {
				return fmt.Errorf("%w: %d identities, %d hashes", domain.ErrLengthMismatch, len(identities), len(docHashes))
			}

			records = make([]Record, 0, len(identities))
			seen := make(map[string]struct{}, len(identities))
			for i, identity := range identities {
				identity = strings.TrimSpace(identity)
				if identity == "" {
					return fmt.Errorf("%w: empty identity at index %d", domain.ErrInvalidFormat, i)
				}
				if _, dup := seen[identity]; dup {
					return fmt.Errorf("%w: %s repeated in batch", domain.ErrAlreadyExists, identity)
				}
				seen[identity] = struct{}{}

				exists, err := s.repo.Exists(ctx, identity)
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, identity)
				}
				if err := s.hashPolicy.Check(docHashes[i]); err != nil {
					return fmt.Errorf("index %d: %w", i, err)
				}
				records = append(records, newRecord(identity, docHashes[i], now))
			}
			if len(records) == 0 {
				return nil
			}

			return s.tx.WithTx(ctx, func(ctx context.Context) error {
				for _, rec := range records {
					if err := s.emitCreated(ctx, rec); err != nil {
						return err
					}
				}
				if err := s.repo.Create(ctx, records...); err != nil {
					return fmt.Errorf("batch create: %w", err)
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.refreshStats(ctx)

	s.logger.Info("dids batch created", slog.Int("count", len(records)), slog.String("by", caller))
	return records, nil
}

// GetDIDs pages through every DID ever created, in creation order. limit is
// clamped to the maximum page size and an offset past the end yields an
// empty page.
func (s *Service) GetDIDs(ctx context.Context, offset, limit int) ([]Record, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.List(ctx, offset, limit)
}

// GetContractStats returns the total and active DID counters.
func (s *Service) GetContractStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.Stats(ctx)
}

// AddIssuer grants the ISSUER role. The caller must hold ADMIN.
func (s *Service) AddIssuer(ctx context.Context, caller, actor string) error {
	return s.access.AddIssuer(ctx, caller, actor)
}

// IssueCredential records an attestation about subject on behalf of an
// ISSUER. The subject must hold an active DID.
func (s *Service) IssueCredential(ctx context.Context, caller, subject, docHash, credentialType string) (IssuedCredential, error) {
	cred, err := s.issueCredential(ctx, caller, subject, docHash, credentialType)
	s.observe("issueCredential", err)
	return cred, err
}

func (s *Service) issueCredential(ctx context.Context, caller, subject, docHash, credentialType string) (IssuedCredential, error) {
	if err := requireCaller(caller); err != nil {
		return IssuedCredential{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var cred IssuedCredential
	err := s.pause.Guard(func() error {
		return s.access.WithRole(ctx, access.Issuer, caller, func() error {
			if err := domain.CheckField("credential_type", credentialType, maxTypeBytes); err != nil {
				return err
			}
			if err := s.hashPolicy.Check(docHash); err != nil {
				return err
			}
			if err := s.requireActive(ctx, subject, domain.ErrDIDNotFound); err != nil {
				return err
			}

			cred = IssuedCredential{
				Issuer:         caller,
				Subject:        subject,
				DocHash:        docHash,
				CredentialType: strings.TrimSpace(credentialType),
				IssuedAt:       s.clock.Now(),
			}
			return s.tx.WithTx(ctx, func(ctx context.Context) error {
				id, err := s.repo.NextIssuedID(ctx)
				if err != nil {
					return err
				}
				cred.ID = id
				if _, err := s.events.Emit(ctx, events.CredentialIssued, subject, cred.IssuedAt, map[string]string{
					"id":              strconv.FormatUint(cred.ID, 10),
					"issuer":          caller,
					"doc_hash":        docHash,
					"credential_type": cred.CredentialType,
				}); err != nil {
					return err
				}
				if err := s.repo.AddIssued(ctx, cred); err != nil {
					return fmt.Errorf("issue credential: %w", err)
				}
				return nil
			})
		})
	})
	if err != nil {
		return IssuedCredential{}, err
	}

	s.logger.Info("credential issued", slog.String("subject", subject), slog.String("issuer", caller))
	return cred, nil
}

// IssuedCredentials lists the attestations issued to subject.
func (s *Service) IssuedCredentials(ctx context.Context, subject string) ([]IssuedCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.Issued(ctx, subject)
}

// WithActiveIdentity runs fn under the registry read lock once identity is
// confirmed to hold an active DID. Writers to other stores use it so the
// check and their own mutation see the same registry snapshot.
func (s *Service) WithActiveIdentity(ctx context.Context, identity string, fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireActive(ctx, identity, domain.ErrDIDNotFound); err != nil {
		return err
	}
	return fn()
}

// requireActive must be called with s.mu held.
func (s *Service) requireActive(ctx context.Context, identity string, missing error) error {
	rec, err := s.repo.Get(ctx, identity)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s", missing, identity)
	}
	if err != nil {
		return err
	}
	if !rec.Active {
		return fmt.Errorf("%w: %s is inactive", missing, identity)
	}
	return nil
}

// guarded runs fn under the pause switch after the per-actor cooldown check.
// It must be called with s.mu held.
func (s *Service) guarded(ctx context.Context, caller string, limited bool, now time.Time, fn func() error) error {
	return s.pause.Guard(func() error {
		if limited {
			if err := s.limiter.Check(ctx, caller, now); err != nil {
				return err
			}
		}
		return fn()
	})
}

func (s *Service) recordCall(ctx context.Context, caller string, limited bool, now time.Time) {
	if !limited {
		return
	}
	if err := s.limiter.Record(ctx, caller, now); err != nil {
		s.logger.Warn("rate limit record failed", slog.String("actor", caller), slog.Any("error", err))
	}
}

func (s *Service) emitCreated(ctx context.Context, rec Record) error {
	payload := map[string]string{"doc_hash": rec.DocHash}
	if _, err := s.events.Emit(ctx, events.DIDCreated, rec.Identity, rec.CreatedAt, payload); err != nil {
		return err
	}
	_, err := s.events.Emit(ctx, events.MetadataAdded, rec.DID, rec.CreatedAt, payload)
	return err
}

func (s *Service) refreshStats(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		s.logger.Warn("stats refresh failed", slog.Any("error", err))
		return
	}
	s.metrics.SetDIDStats(stats.TotalDIDs, stats.ActiveDIDs)
}

func (s *Service) observe(op string, err error) {
	s.metrics.Observe(op, err)
}

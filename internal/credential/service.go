package credential

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	validation "github.com/jellydator/validation"

	"github.com/dee-identity/dee_registry/internal/database"
	"github.com/dee-identity/dee_registry/internal/domain"
	"github.com/dee-identity/dee_registry/internal/events"
	"github.com/dee-identity/dee_registry/internal/logging"
	"github.com/dee-identity/dee_registry/internal/metrics"
)

const (
	maxFieldBytes   = 256
	maxBaseURIBytes = 2048
)

// IdentityChecker confirms an identity holds an active DID and runs fn
// against that same registry snapshot.
type IdentityChecker interface {
	WithActiveIdentity(ctx context.Context, identity string, fn func() error) error
}

// Options configures a Ledger.
type Options struct {
	Tx      database.TxManager
	Owner   string
	BaseURI string
	Events  *events.Emitter
	Clock   domain.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Ledger issues credentials bound to registered identities. Mutations are
// serialized by mu, which is always taken before the registry lock. The
// event and the store write share one unit of work.
type Ledger struct {
	mu         sync.RWMutex
	owner      string
	store      Store
	tx         database.TxManager
	identities IdentityChecker
	events     *events.Emitter
	clock      domain.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewLedger builds the credential ledger. A non-empty BaseURI is stored when
// the store has none yet.
func NewLedger(ctx context.Context, store Store, identities IdentityChecker, opts Options) (*Ledger, error) {
	owner := strings.TrimSpace(opts.Owner)
	if owner == "" {
		return nil, fmt.Errorf("ledger owner is required")
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if opts.Tx == nil {
		opts.Tx = database.NewTxManager(nil)
	}
	l := &Ledger{
		owner:      owner,
		store:      store,
		tx:         opts.Tx,
		identities: identities,
		events:     opts.Events,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		logger:     logging.Component(opts.Logger, "credential"),
	}
	if opts.BaseURI != "" {
		current, err := store.BaseURI(ctx)
		if err != nil {
			return nil, fmt.Errorf("load base uri: %w", err)
		}
		if current == "" {
			if err := store.SetBaseURI(ctx, opts.BaseURI); err != nil {
				return nil, fmt.Errorf("init base uri: %w", err)
			}
		}
	}
	last, err := store.LastTokenID(ctx)
	if err != nil {
		return nil, fmt.Errorf("load token counter: %w", err)
	}
	l.metrics.SetMinted(last)
	return l, nil
}

// Owner returns the ledger owner.
func (l *Ledger) Owner() string {
	return l.owner
}

func (l *Ledger) requireOwner(caller string) error {
	if caller == "" || caller != l.owner {
		return fmt.Errorf("%w: %q is not the ledger owner", domain.ErrUnauthorized, caller)
	}
	return nil
}

// Mint issues a credential to holder, who must hold an active DID.
func (l *Ledger) Mint(ctx context.Context, caller, holder, docHash, credentialType string) (Credential, error) {
	c, err := l.mint(ctx, caller, holder, docHash, credentialType)
	l.metrics.Observe("mintCredential", err)
	return c, err
}

func (l *Ledger) mint(ctx context.Context, caller, holder, docHash, credentialType string) (Credential, error) {
	if err := l.requireOwner(caller); err != nil {
		return Credential{}, err
	}
	if err := checkMetadata(docHash, credentialType); err != nil {
		return Credential{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	minted := Credential{
		Holder:         holder,
		DocHash:        docHash,
		CredentialType: credentialType,
		IssueDate:      l.clock.Now(),
	}
	err := l.identities.WithActiveIdentity(ctx, holder, func() error {
		return l.tx.WithTx(ctx, func(ctx context.Context) error {
			id, err := l.store.NextTokenID(ctx)
			if err != nil {
				return fmt.Errorf("reserve token id: %w", err)
			}
			minted.TokenID = id
			if _, err := l.events.Emit(ctx, events.CredentialMinted, tokenSubject(id), minted.IssueDate, map[string]string{
				"holder":          holder,
				"doc_hash":        docHash,
				"credential_type": credentialType,
			}); err != nil {
				return err
			}
			return l.store.Mint(ctx, minted)
		})
	})
	if err != nil {
		return Credential{}, err
	}

	l.metrics.SetMinted(minted.TokenID)
	l.logger.Info("credential minted", slog.Uint64("token_id", minted.TokenID), slog.String("holder", holder))
	return minted, nil
}

// Transfer moves tokenID from its current holder, the caller, to to. The
// recipient must hold an active DID at transfer time.
func (l *Ledger) Transfer(ctx context.Context, caller, to string, tokenID uint64) error {
	err := l.transfer(ctx, caller, to, tokenID)
	l.metrics.Observe("transferCredential", err)
	return err
}

func (l *Ledger) transfer(ctx context.Context, caller, to string, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.store.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if caller == "" || caller != c.Holder {
		return fmt.Errorf("%w: %q does not hold token %d", domain.ErrUnauthorized, caller, tokenID)
	}
	err = l.identities.WithActiveIdentity(ctx, to, func() error {
		return l.tx.WithTx(ctx, func(ctx context.Context) error {
			if _, err := l.events.Emit(ctx, events.CredentialTransferred, tokenSubject(tokenID), l.clock.Now(), map[string]string{
				"from": c.Holder,
				"to":   to,
			}); err != nil {
				return err
			}
			return l.store.SetHolder(ctx, tokenID, to)
		})
	})
	if err != nil {
		return err
	}

	l.logger.Info("credential transferred", slog.Uint64("token_id", tokenID), slog.String("from", c.Holder), slog.String("to", to))
	return nil
}

// UpdateMetadata replaces the document hash and type of tokenID in place.
func (l *Ledger) UpdateMetadata(ctx context.Context, caller string, tokenID uint64, docHash, credentialType string) error {
	err := l.updateMetadata(ctx, caller, tokenID, docHash, credentialType)
	l.metrics.Observe("updateCredentialMetadata", err)
	return err
}

func (l *Ledger) updateMetadata(ctx context.Context, caller string, tokenID uint64, docHash, credentialType string) error {
	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if err := checkMetadata(docHash, credentialType); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.store.Get(ctx, tokenID); err != nil {
		return err
	}
	return l.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := l.events.Emit(ctx, events.CredentialMetadataUpdated, tokenSubject(tokenID), l.clock.Now(), map[string]string{
			"doc_hash":        docHash,
			"credential_type": credentialType,
		}); err != nil {
			return err
		}
		return l.store.SetMetadata(ctx, tokenID, docHash, credentialType)
	})
}

// Get returns the credential minted as tokenID.
func (l *Ledger) Get(ctx context.Context, tokenID uint64) (Credential, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Get(ctx, tokenID)
}

// OwnerOf returns the current holder of tokenID.
func (l *Ledger) OwnerOf(ctx context.Context, tokenID uint64) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, err := l.store.Get(ctx, tokenID)
	if err != nil {
		return "", err
	}
	return c.Holder, nil
}

// SetBaseURI changes the prefix used by TokenURI.
func (l *Ledger) SetBaseURI(ctx context.Context, caller, uri string) error {
	err := l.setBaseURI(ctx, caller, uri)
	l.metrics.Observe("setBaseURI", err)
	return err
}

func (l *Ledger) setBaseURI(ctx context.Context, caller, uri string) error {
	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if err := validation.Validate(uri, validation.Length(0, maxBaseURIBytes)); err != nil {
		return fmt.Errorf("%w: base_uri %v", domain.ErrInvalidFormat, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := l.events.Emit(ctx, events.BaseURIUpdated, l.owner, l.clock.Now(), map[string]string{"base_uri": uri}); err != nil {
			return err
		}
		return l.store.SetBaseURI(ctx, uri)
	})
}

// TokenURI returns baseURI followed by the decimal token id.
func (l *Ledger) TokenURI(ctx context.Context, tokenID uint64) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, err := l.store.Get(ctx, tokenID); err != nil {
		return "", err
	}
	base, err := l.store.BaseURI(ctx)
	if err != nil {
		return "", err
	}
	return TokenURI(base, tokenID), nil
}

func checkMetadata(docHash, credentialType string) error {
	if err := domain.CheckField("doc_hash", docHash, maxFieldBytes); err != nil {
		return err
	}
	return domain.CheckField("credential_type", credentialType, maxFieldBytes)
}

func tokenSubject(tokenID uint64) string {
	return strconv.FormatUint(tokenID, 10)
}

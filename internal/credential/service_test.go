package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dee-identity/dee_registry/internal/access"
	"github.com/dee-identity/dee_registry/internal/domain"
	"github.com/dee-identity/dee_registry/internal/events"
	"github.com/dee-identity/dee_registry/internal/pause"
	"github.com/dee-identity/dee_registry/internal/ratelimit"
	"github.com/dee-identity/dee_registry/internal/registry"
)

const (
	owner = "0xowner"
	alice = "0xA11CE"
	bob   = "0xB0B"
)

type staticIdentities struct {
	mu     sync.RWMutex
	active map[string]bool
}

func (s *staticIdentities) set(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = active
}

func (s *staticIdentities) WithActiveIdentity(_ context.Context, identity string, fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active[identity] {
		return domain.ErrDIDNotFound
	}
	return fn()
}

func newTestLedger(t *testing.T) (*Ledger, *staticIdentities, *events.Emitter) {
	t.Helper()
	ids := &staticIdentities{active: map[string]bool{alice: true}}
	emitter := events.NewEmitter(nil, nil)
	clock := domain.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l, err := NewLedger(context.Background(), NewInMemory(), ids, Options{Owner: owner, Events: emitter, Clock: clock})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l, ids, emitter
}

func TestMintRequiresActiveHolder(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	cred, err := l.Mint(ctx, owner, alice, "ipfs://credential-hash", "Bachelor_Degree")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if cred.TokenID != 1 {
		t.Fatalf("expected token id 1, got %d", cred.TokenID)
	}
	holder, err := l.OwnerOf(ctx, 1)
	if err != nil || holder != alice {
		t.Fatalf("expected owner %s, got %s (%v)", alice, holder, err)
	}

	if _, err := l.Mint(ctx, owner, bob, "ipfs://credential-hash", "Bachelor_Degree"); !errors.Is(err, domain.ErrDIDNotFound) {
		t.Fatalf("expected ErrDIDNotFound, got %v", err)
	}
	if _, err := l.Mint(ctx, alice, alice, "ipfs://credential-hash", "Bachelor_Degree"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner, got %v", err)
	}

	// Rejected mints do not consume token ids.
	cred, err = l.Mint(ctx, owner, alice, "ipfs://second", "Master_Degree")
	if err != nil || cred.TokenID != 2 {
		t.Fatalf("expected token id 2, got %d (%v)", cred.TokenID, err)
	}
}

func TestTransfer(t *testing.T) {
	l, ids, emitter := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Mint(ctx, owner, alice, "ipfs://credential-hash", "Bachelor_Degree"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(ctx, alice, bob, 1); !errors.Is(err, domain.ErrDIDNotFound) {
		t.Fatalf("expected ErrDIDNotFound for recipient without did, got %v", err)
	}

	// The recipient registers after the mint.
	ids.set(bob, true)
	if err := l.Transfer(ctx, bob, alice, 1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-holder, got %v", err)
	}
	if err := l.Transfer(ctx, alice, bob, 99); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if err := l.Transfer(ctx, alice, bob, 1); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	cred, err := l.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cred.Holder != bob || cred.DocHash != "ipfs://credential-hash" || cred.CredentialType != "Bachelor_Degree" {
		t.Fatalf("unexpected credential after transfer %+v", cred)
	}

	evs, _ := emitter.Journal().Since(ctx, 0, 10)
	if len(evs) != 2 || evs[1].Name != events.CredentialTransferred || evs[1].Payload["to"] != bob {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestUpdateMetadata(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	minted, err := l.Mint(ctx, owner, alice, "ipfs://old", "Bachelor_Degree")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.UpdateMetadata(ctx, alice, 1, "ipfs://new", "Master_Degree"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := l.UpdateMetadata(ctx, owner, 7, "ipfs://new", "Master_Degree"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if err := l.UpdateMetadata(ctx, owner, 1, "ipfs://new", "Master_Degree"); err != nil {
		t.Fatalf("update metadata: %v", err)
	}

	cred, _ := l.Get(ctx, 1)
	if cred.DocHash != "ipfs://new" || cred.CredentialType != "Master_Degree" {
		t.Fatalf("metadata not updated: %+v", cred)
	}
	if cred.Holder != alice || !cred.IssueDate.Equal(minted.IssueDate) {
		t.Fatalf("holder and issue date must not change: %+v", cred)
	}
}

func TestTokenURI(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.TokenURI(ctx, 1); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if _, err := l.Mint(ctx, owner, alice, "ipfs://credential-hash", "Bachelor_Degree"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.SetBaseURI(ctx, alice, "https://evil/"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := l.SetBaseURI(ctx, owner, "https://dee.example/credentials/"); err != nil {
		t.Fatalf("set base uri: %v", err)
	}
	uri, err := l.TokenURI(ctx, 1)
	if err != nil {
		t.Fatalf("token uri: %v", err)
	}
	if uri != "https://dee.example/credentials/1" {
		t.Fatalf("unexpected uri %s", uri)
	}
}

func TestBaseURIFromOptions(t *testing.T) {
	store := NewInMemory()
	ids := &staticIdentities{active: map[string]bool{alice: true}}
	l, err := NewLedger(context.Background(), store, ids, Options{Owner: owner, BaseURI: "ipfs://base/"})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	SeedCredential(store, Credential{TokenID: 5, Holder: alice})
	uri, err := l.TokenURI(context.Background(), 5)
	if err != nil || uri != "ipfs://base/5" {
		t.Fatalf("unexpected uri %q (%v)", uri, err)
	}
	next, err := l.Mint(context.Background(), owner, alice, "ipfs://x", "KYC")
	if err != nil || next.TokenID != 6 {
		t.Fatalf("expected token id 6 after seed, got %d (%v)", next.TokenID, err)
	}
}

func TestConcurrentMintsAreSequential(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	seen := make(chan uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := l.Mint(ctx, owner, alice, fmt.Sprintf("ipfs://%d", i), "KYC")
			if err != nil {
				t.Errorf("mint %d: %v", i, err)
				return
			}
			seen <- cred.TokenID
		}(i)
	}
	wg.Wait()
	close(seen)

	ids := make(map[uint64]bool)
	for id := range seen {
		if id < 1 || id > workers || ids[id] {
			t.Fatalf("unexpected or duplicate token id %d", id)
		}
		ids[id] = true
	}
	if len(ids) != workers {
		t.Fatalf("expected %d distinct ids, got %d", workers, len(ids))
	}
}

func TestLedgerAgainstRegistry(t *testing.T) {
	ctx := context.Background()
	clock := domain.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	emitter := events.NewEmitter(nil, nil)
	ac, err := access.NewController(ctx, access.NewMemoryRepository(), access.Options{Owner: owner, Clock: clock})
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	sw, err := pause.NewSwitch(ctx, pause.NewMemoryRepository(), ac, pause.Options{Clock: clock})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	reg := registry.NewService(registry.NewMemoryRepository(), ac, sw, ratelimit.New(ratelimit.NewMemoryStore(), time.Minute), registry.Options{
		Clock: clock, Events: emitter, RateLimitDeactivate: false,
	})
	l, err := NewLedger(ctx, NewInMemory(), reg, Options{Owner: owner, Events: emitter, Clock: clock})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}

	if _, err := reg.CreateDID(ctx, alice, "QmTest123"); err != nil {
		t.Fatalf("create did: %v", err)
	}
	if _, err := l.Mint(ctx, owner, alice, "ipfs://credential-hash", "Bachelor_Degree"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := reg.CreateDID(ctx, bob, "QmTest456"); err != nil {
		t.Fatalf("create did for bob: %v", err)
	}
	if _, err := reg.DeactivateDID(ctx, bob); err != nil {
		t.Fatalf("deactivate bob: %v", err)
	}
	if err := l.Transfer(ctx, alice, bob, 1); !errors.Is(err, domain.ErrDIDNotFound) {
		t.Fatalf("expected ErrDIDNotFound for deactivated recipient, got %v", err)
	}
	if holder, _ := l.OwnerOf(ctx, 1); holder != alice {
		t.Fatalf("failed transfer must not move the token, holder %s", holder)
	}
}

type brokenJournal struct{}

func (brokenJournal) Append(context.Context, events.Event) (events.Event, error) {
	return events.Event{}, errors.New("journal down")
}

func (brokenJournal) Since(context.Context, uint64, int) ([]events.Event, error) {
	return []events.Event{}, nil
}

func TestMintFailsWhenEventCannotBeRecorded(t *testing.T) {
	ctx := context.Background()
	ids := &staticIdentities{active: map[string]bool{alice: true}}
	store := NewInMemory()
	l, err := NewLedger(ctx, store, ids, Options{Owner: owner, Events: events.NewEmitter(brokenJournal{}, nil)})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	if _, err := l.Mint(ctx, owner, alice, "ipfs://credential-hash", "Bachelor_Degree"); err == nil {
		t.Fatalf("expected mint to fail with the journal down")
	}
	if _, err := l.Get(ctx, 1); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected no token after failed mint, got %v", err)
	}
	last, err := store.LastTokenID(ctx)
	if err != nil {
		t.Fatalf("last token id: %v", err)
	}
	if last != 0 {
		t.Fatalf("expected counter untouched, got %d", last)
	}
}

func TestMetadataRulesCheckedAfterOwnership(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Mint(ctx, alice, alice, "", "Bachelor_Degree"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized before field rules, got %v", err)
	}
	if _, err := l.Mint(ctx, owner, alice, "", "Bachelor_Degree"); !errors.Is(err, domain.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat for empty doc hash, got %v", err)
	}
	if err := l.UpdateMetadata(ctx, owner, 1, "ipfs://x", " "); !errors.Is(err, domain.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat for blank type, got %v", err)
	}
}

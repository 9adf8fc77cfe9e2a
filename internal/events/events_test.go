package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dee-identity/dee_registry/internal/database"
	"github.com/dee-identity/dee_registry/internal/logging"
)

type recordingPublisher struct {
	got []Event
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.got = append(p.got, ev)
	return p.err
}

func TestEmitterAssignsSequentialSeq(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	em := NewEmitter(nil, logging.Discard(), pub)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := em.Emit(ctx, DIDCreated, "0xabc", at, map[string]string{"i": "x"}); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	evs, err := em.Journal().Since(ctx, 0, 10)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	for i, ev := range evs {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, ev.Seq)
		}
		if ev.ID == "" {
			t.Fatalf("expected event id")
		}
	}
	if len(pub.got) != 3 {
		t.Fatalf("expected 3 published events, got %d", len(pub.got))
	}

	tail, _ := em.Journal().Since(ctx, 2, 10)
	if len(tail) != 1 || tail[0].Seq != 3 {
		t.Fatalf("unexpected tail %+v", tail)
	}
	if empty, _ := em.Journal().Since(ctx, 10, 10); len(empty) != 0 {
		t.Fatalf("expected empty page past the end")
	}
}

func TestEmitterToleratesPublisherFailure(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("down")}
	em := NewEmitter(nil, logging.Discard(), pub)

	ev, err := em.Emit(ctx, Paused, "owner", time.Now(), nil)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if ev.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", ev.Seq)
	}
}

func TestJournalCopiesPayload(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()
	payload := map[string]string{"hash": "QmA"}
	if _, err := j.Append(ctx, Event{Name: DIDCreated, Payload: payload}); err != nil {
		t.Fatalf("append: %v", err)
	}
	payload["hash"] = "mutated"

	evs, _ := j.Since(ctx, 0, 1)
	if evs[0].Payload["hash"] != "QmA" {
		t.Fatalf("journal payload was aliased")
	}
}

func TestRedisStreamPublisher(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	pub := NewRedisStreamPublisher(client, "dee:events")
	em := NewEmitter(nil, logging.Discard(), pub)
	if _, err := em.Emit(ctx, CredentialMinted, "1", time.Now(), map[string]string{"holder": "0xabc"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	msgs, err := client.XRange(ctx, "dee:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(msgs))
	}
	if msgs[0].Values["name"] != CredentialMinted || msgs[0].Values["seq"] != "1" {
		t.Fatalf("unexpected stream entry %+v", msgs[0].Values)
	}
}

type brokenJournal struct{}

func (brokenJournal) Append(context.Context, Event) (Event, error) {
	return Event{}, errors.New("journal down")
}

func (brokenJournal) Since(context.Context, uint64, int) ([]Event, error) {
	return []Event{}, nil
}

func TestEmitterReturnsJournalFailure(t *testing.T) {
	pub := &recordingPublisher{}
	em := NewEmitter(brokenJournal{}, logging.Discard(), pub)

	if _, err := em.Emit(context.Background(), DIDCreated, "0xabc", time.Now(), nil); err == nil {
		t.Fatalf("expected journal failure to surface")
	}
	if len(pub.got) != 0 {
		t.Fatalf("published an event the journal rejected")
	}
}

func TestEmitterPublishesOnlyAfterCommit(t *testing.T) {
	pub := &recordingPublisher{}
	em := NewEmitter(nil, logging.Discard(), pub)
	tx := database.NewTxManager(nil)

	err := tx.WithTx(context.Background(), func(ctx context.Context) error {
		if _, err := em.Emit(ctx, DIDCreated, "0xabc", time.Now(), nil); err != nil {
			return err
		}
		if len(pub.got) != 0 {
			t.Fatalf("published before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with tx: %v", err)
	}
	if len(pub.got) != 1 {
		t.Fatalf("expected 1 published event after commit, got %d", len(pub.got))
	}

	_ = tx.WithTx(context.Background(), func(ctx context.Context) error {
		if _, err := em.Emit(ctx, DIDUpdated, "0xabc", time.Now(), nil); err != nil {
			return err
		}
		return errors.New("write failed")
	})
	if len(pub.got) != 1 {
		t.Fatalf("published an event of a failed unit of work")
	}
}

func TestConcurrentEmittersShareOneGaplessSequence(t *testing.T) {
	journal := NewMemoryJournal()
	registryEmitter := NewEmitter(journal, logging.Discard())
	ledgerEmitter := NewEmitter(journal, logging.Discard())
	tx := database.NewTxManager(nil)

	const perEmitter = 50
	var wg sync.WaitGroup
	for _, em := range []*Emitter{registryEmitter, ledgerEmitter} {
		wg.Add(1)
		go func(em *Emitter) {
			defer wg.Done()
			for i := 0; i < perEmitter; i++ {
				err := tx.WithTx(context.Background(), func(ctx context.Context) error {
					_, err := em.Emit(ctx, DIDCreated, "0xabc", time.Now(), nil)
					return err
				})
				if err != nil {
					t.Errorf("emit: %v", err)
				}
			}
		}(em)
	}
	wg.Wait()

	evs, err := journal.Since(context.Background(), 0, 4*perEmitter)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(evs) != 2*perEmitter {
		t.Fatalf("expected %d events, got %d", 2*perEmitter, len(evs))
	}
	for i, ev := range evs {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("gap at position %d: seq %d", i, ev.Seq)
		}
	}
}

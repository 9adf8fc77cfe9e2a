package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dee-identity/dee_registry/internal/database"
)

// Event names emitted by the registry and the credential ledger.
const (
	DIDCreated                = "DIDCreated"
	MetadataAdded             = "MetadataAdded"
	DIDUpdated                = "DIDUpdated"
	DIDDeactivated            = "DIDDeactivated"
	DelegateAdded             = "DelegateAdded"
	DelegateRemoved           = "DelegateRemoved"
	RoleGranted               = "RoleGranted"
	RoleRevoked               = "RoleRevoked"
	IssuerAdded               = "IssuerAdded"
	CredentialIssued          = "CredentialIssued"
	Paused                    = "Paused"
	Unpaused                  = "Unpaused"
	EmergencyStopped          = "EmergencyStopped"
	EmergencyResumed          = "EmergencyResumed"
	CredentialMinted          = "CredentialMinted"
	CredentialTransferred     = "CredentialTransferred"
	CredentialMetadataUpdated = "CredentialMetadataUpdated"
	BaseURIUpdated            = "BaseURIUpdated"
)

// Event is one entry of the ordered mutation feed consumed by indexers.
type Event struct {
	Seq       uint64            `json:"seq"`
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Subject   string            `json:"subject"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Journal is the durable, append-only event log. Append assigns Seq.
type Journal interface {
	Append(ctx context.Context, event Event) (Event, error)
	Since(ctx context.Context, after uint64, limit int) ([]Event, error)
}

// Publisher forwards committed events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emitter appends events to the journal and fans them out to publishers.
// Callers emit inside the unit of work of the mutation the event describes,
// so the event and the state change commit or roll back together.
type Emitter struct {
	journal    Journal
	publishers []Publisher
	logger     *slog.Logger
}

// NewEmitter builds an emitter. A nil journal keeps events in memory.
func NewEmitter(journal Journal, logger *slog.Logger, publishers ...Publisher) *Emitter {
	if journal == nil {
		journal = NewMemoryJournal()
	}
	return &Emitter{journal: journal, publishers: publishers, logger: logger}
}

// Journal exposes the underlying journal for read access.
func (e *Emitter) Journal() Journal {
	return e.journal
}

// Emit appends a new event. An append failure is returned so the caller can
// abandon its mutation. Publishers run once the unit of work commits; their
// failures are logged only, as the journal remains the source of truth.
func (e *Emitter) Emit(ctx context.Context, name, subject string, at time.Time, payload map[string]string) (Event, error) {
	if e == nil {
		return Event{}, nil
	}
	ev, err := e.journal.Append(ctx, Event{
		ID:        uuid.NewString(),
		Name:      name,
		Subject:   subject,
		Payload:   payload,
		Timestamp: at.UTC(),
	})
	if err != nil {
		if e.logger != nil {
			e.logger.Error("event journal append failed", slog.String("event", name), slog.String("subject", subject), slog.Any("error", err))
		}
		return Event{}, fmt.Errorf("append %s event: %w", name, err)
	}
	if len(e.publishers) > 0 {
		pubCtx := context.WithoutCancel(ctx)
		database.AfterCommit(ctx, func() { e.publish(pubCtx, ev) })
	}
	return ev, nil
}

func (e *Emitter) publish(ctx context.Context, ev Event) {
	for _, p := range e.publishers {
		if err := p.Publish(ctx, ev); err != nil && e.logger != nil {
			e.logger.Warn("event publish failed", slog.String("event", ev.Name), slog.Uint64("seq", ev.Seq), slog.Any("error", err))
		}
	}
}

type memoryJournal struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryJournal creates an in-process journal for development and tests.
func NewMemoryJournal() Journal {
	return &memoryJournal{}
}

func (j *memoryJournal) Append(_ context.Context, event Event) (Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	event.Seq = uint64(len(j.events)) + 1
	event.Payload = clonePayload(event.Payload)
	j.events = append(j.events, event)
	return event, nil
}

func (j *memoryJournal) Since(_ context.Context, after uint64, limit int) ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if after >= uint64(len(j.events)) || limit <= 0 {
		return []Event{}, nil
	}
	end := after + uint64(limit)
	if end > uint64(len(j.events)) {
		end = uint64(len(j.events))
	}
	out := make([]Event, 0, end-after)
	for _, ev := range j.events[after:end] {
		ev.Payload = clonePayload(ev.Payload)
		out = append(out, ev)
	}
	return out, nil
}

func clonePayload(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// LoggerPublisher writes every event to the structured logger.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(_ context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("event", "seq", event.Seq, "name", event.Name, "subject", event.Subject, "payload", event.Payload)
	return nil
}

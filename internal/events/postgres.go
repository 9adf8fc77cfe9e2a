package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dee-identity/dee_registry/internal/database"
)

// journalLockKey names the advisory lock that orders journal writers.
const journalLockKey int64 = 0x6465655f6a726e6c

// PostgresJournal stores the event feed in the events table.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal builds a Postgres-backed journal.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// Append inserts the event and returns it with the assigned sequence number.
// It joins the unit of work in ctx and takes a transaction-scoped advisory
// lock first, so writers commit in seq order and readers paging with
// `seq > n` never skip an event that commits late.
func (j *PostgresJournal) Append(ctx context.Context, event Event) (Event, error) {
	id, err := uuid.Parse(event.ID)
	if err != nil {
		return Event{}, err
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode payload: %w", err)
	}

	tx, err := database.GetTx(ctx, j.db).Begin(ctx)
	if err != nil {
		return Event{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, journalLockKey); err != nil {
		return Event{}, fmt.Errorf("lock journal: %w", err)
	}
	var seq int64
	if err := tx.QueryRow(ctx, `INSERT INTO events (id, name, subject, payload, occurred_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING seq`, id, event.Name, event.Subject, payload, event.Timestamp.UTC()).Scan(&seq); err != nil {
		return Event{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Event{}, err
	}
	event.Seq = uint64(seq)
	return event, nil
}

// Since returns up to limit events with seq greater than after.
func (j *PostgresJournal) Since(ctx context.Context, after uint64, limit int) ([]Event, error) {
	if limit <= 0 {
		return []Event{}, nil
	}
	rows, err := j.db.Query(ctx, `SELECT seq, id, name, subject, payload, occurred_at
        FROM events WHERE seq > $1 ORDER BY seq LIMIT $2`, int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			seq        int64
			id         uuid.UUID
			payload    []byte
			occurredAt time.Time
			ev         Event
		)
		if err := rows.Scan(&seq, &id, &ev.Name, &ev.Subject, &payload, &occurredAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode payload for seq %d: %w", seq, err)
			}
		}
		ev.Seq = uint64(seq)
		ev.ID = id.String()
		ev.Timestamp = occurredAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

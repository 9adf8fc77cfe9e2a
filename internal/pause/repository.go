package pause

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dee-identity/dee_registry/internal/database"
)

// Repository persists the switch state across restarts.
type Repository interface {
	Load(ctx context.Context) (Status, bool, error)
	Save(ctx context.Context, status Status) error
}

type memoryRepository struct {
	status Status
	saved  bool
}

// NewMemoryRepository keeps the switch state in memory. The Switch serializes
// access, so no lock is held here.
func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) Load(context.Context) (Status, bool, error) {
	return r.status, r.saved, nil
}

func (r *memoryRepository) Save(_ context.Context, status Status) error {
	r.status = status
	r.saved = true
	return nil
}

// PostgresRepository stores the switch in a single-row table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed pause repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Load reads the stored state, if any.
func (r *PostgresRepository) Load(ctx context.Context) (Status, bool, error) {
	row := database.GetTx(ctx, r.db).QueryRow(ctx, `SELECT state, emergency, changed_at, changed_by FROM pause_state WHERE id = 1`)
	var (
		s         Status
		state     string
		changedAt time.Time
	)
	if err := row.Scan(&state, &s.Emergency, &changedAt, &s.ChangedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Status{}, false, nil
		}
		return Status{}, false, err
	}
	s.State = State(state)
	s.ChangedAt = changedAt.UTC()
	return s, true, nil
}

// Save upserts the state row.
func (r *PostgresRepository) Save(ctx context.Context, status Status) error {
	_, err := database.GetTx(ctx, r.db).Exec(ctx, `INSERT INTO pause_state (id, state, emergency, changed_at, changed_by)
        VALUES (1, $1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, emergency = EXCLUDED.emergency,
            changed_at = EXCLUDED.changed_at, changed_by = EXCLUDED.changed_by`,
		string(status.State), status.Emergency, status.ChangedAt.UTC(), status.ChangedBy)
	return err
}

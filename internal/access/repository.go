package access

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dee-identity/dee_registry/internal/database"
)

// Repository persists role membership.
type Repository interface {
	HasRole(ctx context.Context, role Role, actor string) (bool, error)
	// Grant returns false when the actor already held the role.
	Grant(ctx context.Context, role Role, actor string, at time.Time) (bool, error)
	// Revoke returns false when the actor did not hold the role.
	Revoke(ctx context.Context, role Role, actor string) (bool, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed role repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// HasRole reports whether actor holds role.
func (r *PostgresRepository) HasRole(ctx context.Context, role Role, actor string) (bool, error) {
	var exists bool
	err := database.GetTx(ctx, r.db).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM role_members WHERE role = $1 AND actor = $2)`,
		string(role), actor).Scan(&exists)
	return exists, err
}

// Grant inserts a role membership.
func (r *PostgresRepository) Grant(ctx context.Context, role Role, actor string, at time.Time) (bool, error) {
	cmd, err := database.GetTx(ctx, r.db).Exec(ctx, `INSERT INTO role_members (role, actor, granted_at) VALUES ($1, $2, $3)
        ON CONFLICT (role, actor) DO NOTHING`, string(role), actor, at.UTC())
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// Revoke deletes a role membership.
func (r *PostgresRepository) Revoke(ctx context.Context, role Role, actor string) (bool, error) {
	cmd, err := database.GetTx(ctx, r.db).Exec(ctx, `DELETE FROM role_members WHERE role = $1 AND actor = $2`, string(role), actor)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

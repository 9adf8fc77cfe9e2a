package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dee-identity/dee_registry/internal/database"
	"github.com/dee-identity/dee_registry/internal/domain"
)

// Repository persists DID records, delegate sets, counters and issued
// credentials. Implementations must apply Create atomically across all records.
type Repository interface {
	Get(ctx context.Context, identity string) (Record, error)
	Exists(ctx context.Context, identity string) (bool, error)
	Create(ctx context.Context, records ...Record) error
	UpdateDocHash(ctx context.Context, identity, docHash string, at time.Time) error
	Deactivate(ctx context.Context, identity string, at time.Time) error
	List(ctx context.Context, offset, limit int) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)

	AddDelegate(ctx context.Context, identity, delegate string) (bool, error)
	RemoveDelegate(ctx context.Context, identity, delegate string) (bool, error)
	IsDelegate(ctx context.Context, identity, delegate string) (bool, error)
	Delegates(ctx context.Context, identity string) ([]string, error)

	// NextIssuedID reserves the id AddIssued will store next.
	NextIssuedID(ctx context.Context) (uint64, error)
	AddIssued(ctx context.Context, cred IssuedCredential) error
	Issued(ctx context.Context, subject string) ([]IssuedCredential, error)
}

// PostgresRepository persists the registry in PostgreSQL. Every method joins
// the unit of work carried by ctx, if any.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository constructs a Postgres-backed registry repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) q(ctx context.Context) database.Querier {
	return database.GetTx(ctx, r.db)
}

const recordColumns = `identity, doc_hash, last_updated, active, created_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	if err := row.Scan(&rec.Identity, &rec.DocHash, &rec.LastUpdated, &rec.Active, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.DID = DIDString(rec.Identity)
	rec.LastUpdated = rec.LastUpdated.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// Get fetches the record for identity.
func (r *PostgresRepository) Get(ctx context.Context, identity string) (Record, error) {
	rec, err := scanRecord(r.q(ctx).QueryRow(ctx, `SELECT `+recordColumns+` FROM dids WHERE identity = $1`, identity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, domain.ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// Exists reports whether identity has ever registered.
func (r *PostgresRepository) Exists(ctx context.Context, identity string) (bool, error) {
	var exists bool
	err := r.q(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM dids WHERE identity = $1)`, identity).Scan(&exists)
	return exists, err
}

// Create inserts every record and bumps the counters in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.q(ctx).Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`INSERT INTO dids (identity, doc_hash, last_updated, active, created_at) VALUES ($1, $2, $3, $4, $5)`,
			rec.Identity, rec.DocHash, rec.LastUpdated.UTC(), rec.Active, rec.CreatedAt.UTC())
	}
	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, err)
			}
			return fmt.Errorf("insert did: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return err
	}

	n := len(records)
	if _, err := tx.Exec(ctx, `UPDATE registry_stats SET total_dids = total_dids + $1, active_dids = active_dids + $1 WHERE id = 1`, n); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateDocHash replaces the document hash of an existing record.
func (r *PostgresRepository) UpdateDocHash(ctx context.Context, identity, docHash string, at time.Time) error {
	tag, err := r.q(ctx).Exec(ctx, `UPDATE dids SET doc_hash = $2, last_updated = $3 WHERE identity = $1`, identity, docHash, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Deactivate flips an active record to inactive and decrements the active counter.
func (r *PostgresRepository) Deactivate(ctx context.Context, identity string, at time.Time) error {
	tx, err := r.q(ctx).Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE dids SET active = FALSE, last_updated = $2 WHERE identity = $1 AND active`, identity, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyInactive
	}
	if _, err := tx.Exec(ctx, `UPDATE registry_stats SET active_dids = active_dids - 1 WHERE id = 1`); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// List returns records in creation order.
func (r *PostgresRepository) List(ctx context.Context, offset, limit int) ([]Record, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT `+recordColumns+` FROM dids ORDER BY seq OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats reads the counters row.
func (r *PostgresRepository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.q(ctx).QueryRow(ctx, `SELECT total_dids, active_dids FROM registry_stats WHERE id = 1`).Scan(&s.TotalDIDs, &s.ActiveDIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stats{}, nil
	}
	return s, err
}

// AddDelegate inserts the delegate; false means it was already present.
func (r *PostgresRepository) AddDelegate(ctx context.Context, identity, delegate string) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `INSERT INTO did_delegates (identity, delegate) VALUES ($1, $2) ON CONFLICT DO NOTHING`, identity, delegate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveDelegate deletes the delegate; false means it was absent.
func (r *PostgresRepository) RemoveDelegate(ctx context.Context, identity, delegate string) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `DELETE FROM did_delegates WHERE identity = $1 AND delegate = $2`, identity, delegate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// IsDelegate reports delegate membership.
func (r *PostgresRepository) IsDelegate(ctx context.Context, identity, delegate string) (bool, error) {
	var ok bool
	err := r.q(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM did_delegates WHERE identity = $1 AND delegate = $2)`, identity, delegate).Scan(&ok)
	return ok, err
}

// Delegates lists delegate names sorted lexically.
func (r *PostgresRepository) Delegates(ctx context.Context, identity string) ([]string, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT delegate FROM did_delegates WHERE identity = $1 ORDER BY delegate`, identity)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// NextIssuedID draws the next value of the issued_credentials id sequence.
func (r *PostgresRepository) NextIssuedID(ctx context.Context) (uint64, error) {
	var id int64
	err := r.q(ctx).QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('issued_credentials', 'id'))`).Scan(&id)
	return uint64(id), err
}

// AddIssued stores an issued credential under its reserved id.
func (r *PostgresRepository) AddIssued(ctx context.Context, cred IssuedCredential) error {
	_, err := r.q(ctx).Exec(ctx, `INSERT INTO issued_credentials (id, issuer, subject, doc_hash, credential_type, issued_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		cred.ID, cred.Issuer, cred.Subject, cred.DocHash, cred.CredentialType, cred.IssuedAt.UTC())
	return err
}

// Issued lists credentials issued to subject in issuance order.
func (r *PostgresRepository) Issued(ctx context.Context, subject string) ([]IssuedCredential, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT id, issuer, subject, doc_hash, credential_type, issued_at
        FROM issued_credentials WHERE subject = $1 ORDER BY id`, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IssuedCredential
	for rows.Next() {
		var c IssuedCredential
		if err := rows.Scan(&c.ID, &c.Issuer, &c.Subject, &c.DocHash, &c.CredentialType, &c.IssuedAt); err != nil {
			return nil, err
		}
		c.IssuedAt = c.IssuedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

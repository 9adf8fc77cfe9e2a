package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dee-identity/dee_registry/internal/database"
	"github.com/dee-identity/dee_registry/internal/domain"
)

// PostgresStore persists credentials in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed credential store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) q(ctx context.Context) database.Querier {
	return database.GetTx(ctx, s.db)
}

// NextTokenID reads the counter under a row lock. Called inside a unit of
// work, the lock is held until the matching Mint commits.
func (s *PostgresStore) NextTokenID(ctx context.Context) (uint64, error) {
	var id uint64
	err := s.q(ctx).QueryRow(ctx, `SELECT last_token_id + 1 FROM credential_settings WHERE id = 1 FOR UPDATE`).Scan(&id)
	return id, err
}

// Mint advances the counter to c.TokenID and inserts the credential in the
// same transaction.
func (s *PostgresStore) Mint(ctx context.Context, c Credential) error {
	tx, err := s.q(ctx).Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE credential_settings SET last_token_id = $1 WHERE id = 1 AND last_token_id = $1 - 1`, c.TokenID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("token id %d out of sequence", c.TokenID)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO credentials (token_id, holder, doc_hash, credential_type, issue_date)
        VALUES ($1, $2, $3, $4, $5)`, c.TokenID, c.Holder, c.DocHash, c.CredentialType, c.IssueDate.UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get loads a credential by token id.
func (s *PostgresStore) Get(ctx context.Context, tokenID uint64) (Credential, error) {
	var c Credential
	err := s.q(ctx).QueryRow(ctx, `SELECT token_id, holder, doc_hash, credential_type, issue_date FROM credentials WHERE token_id = $1`, tokenID).
		Scan(&c.TokenID, &c.Holder, &c.DocHash, &c.CredentialType, &c.IssueDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, domain.ErrTokenNotFound
		}
		return Credential{}, err
	}
	c.IssueDate = c.IssueDate.UTC()
	return c, nil
}

// SetHolder moves the credential to holder under a row lock.
func (s *PostgresStore) SetHolder(ctx context.Context, tokenID uint64, holder string) error {
	return s.updateLocked(ctx, tokenID, `UPDATE credentials SET holder = $2 WHERE token_id = $1`, holder)
}

// SetMetadata replaces the document hash and type under a row lock.
func (s *PostgresStore) SetMetadata(ctx context.Context, tokenID uint64, docHash, credentialType string) error {
	return s.updateLocked(ctx, tokenID, `UPDATE credentials SET doc_hash = $2, credential_type = $3 WHERE token_id = $1`, docHash, credentialType)
}

func (s *PostgresStore) updateLocked(ctx context.Context, tokenID uint64, stmt string, args ...any) error {
	tx, err := s.q(ctx).Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var id uint64
	if err := tx.QueryRow(ctx, `SELECT token_id FROM credentials WHERE token_id = $1 FOR UPDATE`, tokenID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrTokenNotFound
		}
		return err
	}
	if _, err := tx.Exec(ctx, stmt, append([]any{tokenID}, args...)...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// BaseURI reads the configured base URI.
func (s *PostgresStore) BaseURI(ctx context.Context) (string, error) {
	var uri string
	err := s.q(ctx).QueryRow(ctx, `SELECT base_uri FROM credential_settings WHERE id = 1`).Scan(&uri)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return uri, err
}

// SetBaseURI stores a new base URI.
func (s *PostgresStore) SetBaseURI(ctx context.Context, uri string) error {
	_, err := s.q(ctx).Exec(ctx, `UPDATE credential_settings SET base_uri = $1 WHERE id = 1`, uri)
	return err
}

// LastTokenID returns the highest token id minted so far.
func (s *PostgresStore) LastTokenID(ctx context.Context) (uint64, error) {
	var id uint64
	err := s.q(ctx).QueryRow(ctx, `SELECT last_token_id FROM credential_settings WHERE id = 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

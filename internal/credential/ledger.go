package credential

import (
	"context"
	"strconv"
	"time"
)

// Credential is a non-fungible record bound to a holder identity.
type Credential struct {
	TokenID        uint64    `json:"token_id"`
	Holder         string    `json:"holder"`
	DocHash        string    `json:"doc_hash"`
	CredentialType string    `json:"credential_type"`
	IssueDate      time.Time `json:"issue_date"`
}

// Store defines the contract implemented by credential backends (e.g. Postgres).
type Store interface {
	// NextTokenID reserves the id the next Mint must use. Ids start at 1.
	NextTokenID(ctx context.Context) (uint64, error)
	// Mint stores c under c.TokenID, which must come from NextTokenID.
	Mint(ctx context.Context, c Credential) error
	Get(ctx context.Context, tokenID uint64) (Credential, error)
	SetHolder(ctx context.Context, tokenID uint64, holder string) error
	SetMetadata(ctx context.Context, tokenID uint64, docHash, credentialType string) error
	BaseURI(ctx context.Context) (string, error)
	SetBaseURI(ctx context.Context, uri string) error
	LastTokenID(ctx context.Context) (uint64, error)
}

// TokenURI concatenates the base URI and the decimal token id.
func TokenURI(baseURI string, tokenID uint64) string {
	return baseURI + strconv.FormatUint(tokenID, 10)
}

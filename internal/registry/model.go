package registry

import (
	"strings"
	"time"
)

// Record is the DID record of one actor. Records are never deleted;
// Active=false marks a retired identity whose history stays queryable.
type Record struct {
	Identity    string    `json:"identity"`
	DID         string    `json:"did"`
	DocHash     string    `json:"doc_hash"`
	LastUpdated time.Time `json:"last_updated"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Resolution is the resolveDID result.
type Resolution struct {
	DocHash     string    `json:"doc_hash"`
	LastUpdated time.Time `json:"last_updated"`
	Active      bool      `json:"active"`
}

// Stats holds the incrementally maintained registry counters.
type Stats struct {
	TotalDIDs  uint64 `json:"total_dids"`
	ActiveDIDs uint64 `json:"active_dids"`
}

// IssuedCredential is an attestation recorded through the issuer-gated
// registry path.
type IssuedCredential struct {
	ID             uint64    `json:"id"`
	Issuer         string    `json:"issuer"`
	Subject        string    `json:"subject"`
	DocHash        string    `json:"doc_hash"`
	CredentialType string    `json:"credential_type"`
	IssuedAt       time.Time `json:"issued_at"`
}

// DIDString renders the did:dee identifier of an actor.
func DIDString(identity string) string {
	return "did:dee:" + strings.ToLower(identity)
}

func newRecord(identity, docHash string, now time.Time) Record {
	return Record{
		Identity:    identity,
		DID:         DIDString(identity),
		DocHash:     docHash,
		LastUpdated: now,
		Active:      true,
		CreatedAt:   now,
	}
}

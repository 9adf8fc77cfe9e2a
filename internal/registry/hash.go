package registry

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ipfs/go-cid"

	"github.com/dee-identity/dee_registry/internal/domain"
)

const (
	ipfsV0Prefix  = "Qm"
	ipfsV0Length  = 46
	ipfsScheme    = "ipfs://"
	maxHashLength = 256
)

// HashPolicy selects how strictly createDID/updateDID validate document hashes.
type HashPolicy int

const (
	// LenientHashes accepts any non-empty, whitespace-free pointer up to 256 bytes.
	LenientHashes HashPolicy = iota
	// StrictHashes additionally requires an IPFS content identifier.
	StrictHashes
)

// ParseHashPolicy maps the configuration value to a policy.
func ParseHashPolicy(name string) (HashPolicy, error) {
	switch strings.ToLower(name) {
	case "", "lenient":
		return LenientHashes, nil
	case "strict":
		return StrictHashes, nil
	default:
		return LenientHashes, fmt.Errorf("unknown hash policy %q", name)
	}
}

// ValidateIPFSHash is the structural CIDv0 check: "Qm" prefix and 46 characters.
func ValidateIPFSHash(hash string) bool {
	return len(hash) == ipfsV0Length && strings.HasPrefix(hash, ipfsV0Prefix)
}

// Check returns ErrInvalidFormat when hash fails the policy.
func (p HashPolicy) Check(hash string) error {
	if hash == "" {
		return fmt.Errorf("%w: empty hash", domain.ErrInvalidFormat)
	}
	if len(hash) > maxHashLength {
		return fmt.Errorf("%w: hash longer than %d bytes", domain.ErrInvalidFormat, maxHashLength)
	}
	for _, r := range hash {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: hash contains whitespace", domain.ErrInvalidFormat)
		}
	}
	if p == LenientHashes {
		return nil
	}

	bare := strings.TrimPrefix(hash, ipfsScheme)
	if ValidateIPFSHash(bare) {
		return nil
	}
	if _, err := cid.Decode(bare); err != nil {
		return fmt.Errorf("%w: not an IPFS content identifier", domain.ErrInvalidFormat)
	}
	return nil
}

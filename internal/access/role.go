package access

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/dee-identity/dee_registry/internal/domain"
)

// Role is a named permission grant independent of contract ownership.
type Role string

const (
	// Admin may grant roles, batch-create DIDs and toggle the pause switch.
	Admin Role = "ADMIN"
	// Issuer may issue credentials through the registry.
	Issuer Role = "ISSUER"
)

// Roles lists every known role.
var Roles = []Role{Admin, Issuer}

// ParseRole accepts "ADMIN", "admin" or "ADMIN_ROLE" style names.
func ParseRole(name string) (Role, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.TrimSuffix(n, "_ROLE")
	for _, r := range Roles {
		if string(r) == n {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownRole, name)
}

// ID returns the keccak256 identifier of the role, as used on-chain for
// keccak256("ADMIN_ROLE").
func (r Role) ID() string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(string(r) + "_ROLE"))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

package domain

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthorized indicates the caller lacks the role or ownership required.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrContractPaused rejects a mutating call while the registry is paused.
	ErrContractPaused = errors.New("contract paused")
	// ErrNotPaused rejects unpause/resume while the registry is active.
	ErrNotPaused = errors.New("contract not paused")
	// ErrRateLimited indicates the per-actor cooldown has not elapsed.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrAlreadyExists indicates a DID record already exists for the actor.
	ErrAlreadyExists = errors.New("DID already exists")
	// ErrNotFound indicates no DID record, or no active one, for the actor.
	ErrNotFound = errors.New("DID does not exist")
	// ErrAlreadyInactive rejects deactivation of a deactivated DID.
	ErrAlreadyInactive = errors.New("DID already inactive")
	// ErrTokenNotFound indicates the token id was never minted.
	ErrTokenNotFound = errors.New("credential does not exist")
	// ErrDIDNotFound indicates a credential holder lacks an active DID.
	ErrDIDNotFound = errors.New("DID does not exist for holder")
	// ErrInvalidFormat rejects a malformed content hash.
	ErrInvalidFormat = errors.New("invalid content hash format")
	// ErrLengthMismatch rejects batch input arrays of different lengths.
	ErrLengthMismatch = errors.New("array length mismatch")
	// ErrUnknownRole rejects role names outside ADMIN and ISSUER.
	ErrUnknownRole = errors.New("unknown role")
)

var kinds = []struct {
	err    error
	kind   string
	status int
}{
	{ErrUnauthorized, "unauthorized", http.StatusForbidden},
	{ErrContractPaused, "contract_paused", http.StatusLocked},
	{ErrNotPaused, "not_paused", http.StatusConflict},
	{ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
	{ErrAlreadyExists, "already_exists", http.StatusConflict},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrAlreadyInactive, "already_inactive", http.StatusConflict},
	{ErrTokenNotFound, "token_not_found", http.StatusNotFound},
	{ErrDIDNotFound, "did_not_found", http.StatusNotFound},
	{ErrInvalidFormat, "invalid_format", http.StatusBadRequest},
	{ErrLengthMismatch, "length_mismatch", http.StatusBadRequest},
	{ErrUnknownRole, "unknown_role", http.StatusBadRequest},
}

// Kind returns a stable label for err, or "internal" when err is not one of
// the domain sentinels.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// HTTPStatus maps err to the status code returned by the HTTP layer.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

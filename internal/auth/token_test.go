package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseActorToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueActorToken(secret, "0xAbC", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	actor, err := ParseActorToken(secret, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor != "0xAbC" {
		t.Fatalf("expected subject 0xAbC, got %s", actor)
	}
}

func TestParseActorTokenRejectsWrongSecret(t *testing.T) {
	token, err := IssueActorToken([]byte("one"), "alice", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseActorToken([]byte("two"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestParseActorTokenRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueActorToken(secret, "alice", time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseActorToken(secret, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

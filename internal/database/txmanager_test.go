package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestWithTxRunsHooksAfterSuccess(t *testing.T) {
	m := NewTxManager(nil)

	var ran []string
	err := m.WithTx(context.Background(), func(ctx context.Context) error {
		if !InTx(ctx) {
			t.Fatalf("expected a unit of work in context")
		}
		AfterCommit(ctx, func() { ran = append(ran, "first") })
		AfterCommit(ctx, func() { ran = append(ran, "second") })
		if len(ran) != 0 {
			t.Fatalf("hooks ran before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with tx: %v", err)
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Fatalf("expected hooks in registration order, got %v", ran)
	}
}

func TestWithTxDropsHooksOnError(t *testing.T) {
	m := NewTxManager(nil)
	boom := errors.New("boom")

	ran := false
	err := m.WithTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if ran {
		t.Fatalf("hook ran for a failed unit of work")
	}
}

func TestNestedWithTxJoinsOuter(t *testing.T) {
	m := NewTxManager(nil)

	ran := false
	err := m.WithTx(context.Background(), func(ctx context.Context) error {
		if err := m.WithTx(ctx, func(inner context.Context) error {
			AfterCommit(inner, func() { ran = true })
			return nil
		}); err != nil {
			return err
		}
		if ran {
			t.Fatalf("inner hook ran before the outer unit of work finished")
		}
		return errors.New("outer failed")
	})
	if err == nil {
		t.Fatalf("expected outer error")
	}
	if ran {
		t.Fatalf("inner hook survived the outer rollback")
	}
}

func TestAfterCommitWithoutUnitOfWorkRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Fatalf("expected hook to run at once")
	}
	if InTx(context.Background()) {
		t.Fatalf("plain context reported a unit of work")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert did: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(dup) {
		t.Fatalf("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation reported as unique violation")
	}
	if IsUniqueViolation(errors.New("plain")) {
		t.Fatalf("plain error reported as unique violation")
	}
}

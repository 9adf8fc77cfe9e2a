package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckField(t *testing.T) {
	if err := CheckField("delegate", "signer", 16); err != nil {
		t.Fatalf("expected valid field, got %v", err)
	}
	for _, bad := range []string{"", "   ", strings.Repeat("x", 17)} {
		err := CheckField("delegate", bad, 16)
		if !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("CheckField(%q) = %v, want ErrInvalidFormat", bad, err)
		}
	}
	if got := Kind(CheckField("credential_type", "", 8)); got != "invalid_format" {
		t.Fatalf("expected invalid_format kind, got %s", got)
	}
}

package registry

import (
	"errors"
	"testing"

	"github.com/dee-identity/dee_registry/internal/domain"
)

func TestValidateIPFSHash(t *testing.T) {
	if !ValidateIPFSHash("QmPK1s3pNYLi9ERiq3BDxKa4XosgWwFRQUydHUtz4YgpqB") {
		t.Fatalf("expected valid CIDv0 hash")
	}
	for _, h := range []string{"invalid-hash", "", "QmTest123", "XmPK1s3pNYLi9ERiq3BDxKa4XosgWwFRQUydHUtz4YgpqB"} {
		if ValidateIPFSHash(h) {
			t.Fatalf("expected %q to be rejected", h)
		}
	}
}

func TestLenientPolicy(t *testing.T) {
	for _, h := range []string{"QmTest123", "ipfs://did-document-hash"} {
		if err := LenientHashes.Check(h); err != nil {
			t.Fatalf("expected %q accepted, got %v", h, err)
		}
	}
	for _, h := range []string{"", "has space", "tab\there"} {
		if err := LenientHashes.Check(h); !errors.Is(err, domain.ErrInvalidFormat) {
			t.Fatalf("expected %q rejected, got %v", h, err)
		}
	}
}

func TestStrictPolicy(t *testing.T) {
	valid := []string{
		"QmPK1s3pNYLi9ERiq3BDxKa4XosgWwFRQUydHUtz4YgpqB",
		"ipfs://QmPK1s3pNYLi9ERiq3BDxKa4XosgWwFRQUydHUtz4YgpqB",
		"bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
	}
	for _, h := range valid {
		if err := StrictHashes.Check(h); err != nil {
			t.Fatalf("expected %q accepted, got %v", h, err)
		}
	}
	for _, h := range []string{"QmTest123", "ipfs://credential-hash", "not-a-cid"} {
		if err := StrictHashes.Check(h); !errors.Is(err, domain.ErrInvalidFormat) {
			t.Fatalf("expected %q rejected, got %v", h, err)
		}
	}
}

func TestDIDString(t *testing.T) {
	if got := DIDString("0xAbCd"); got != "did:dee:0xabcd" {
		t.Fatalf("unexpected did %s", got)
	}
}

package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	sec := "secret123"
	claims := Claims{SessionID: "abc", TenantGrounding: "tenant-acme", ExpUnix: time.Now().Add(5 * time.Minute).Unix()}

	tok, err := GenerateWorkerToken(sec, claims)
	if err != nil {
		t.Fatalf("gen: %v", err)
	}

	got, err := ValidateWorkerToken(sec, tok, claims.SessionID, claims.TenantGrounding, time.Now(), 60)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got != claims {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestBadSignature(t *testing.T) {
	sec := "secret123"
	claims := Claims{SessionID: "abc", ExpUnix: time.Now().Add(5 * time.Minute).Unix()}
	tok, _ := GenerateWorkerToken(sec, claims)

	// flip a char
	if tok[0] == 'A' {
		tok = "B" + tok[1:]
	} else {
		tok = "A" + tok[1:]
	}

	if _, err := ValidateWorkerToken(sec, tok, claims.SessionID, "", time.Now(), 60); err == nil {
		t.Fatalf("expected error for bad token")
	}
}

func TestTenantMismatchRejected(t *testing.T) {
	sec := "secret123"
	claims := Claims{SessionID: "abc", TenantGrounding: "tenant-acme", ExpUnix: time.Now().Add(5 * time.Minute).Unix()}
	tok, _ := GenerateWorkerToken(sec, claims)

	if _, err := ValidateWorkerToken(sec, tok, claims.SessionID, "tenant-other", time.Now(), 60); err != ErrTokenTenant {
		t.Fatalf("expected ErrTokenTenant, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	sec := "secret123"
	claims := Claims{SessionID: "abc", ExpUnix: time.Now().Add(-time.Minute).Unix()}
	tok, _ := GenerateWorkerToken(sec, claims)

	if _, err := ValidateWorkerToken(sec, tok, claims.SessionID, "", time.Now(), 10); err != ErrTokenExp {
		t.Fatalf("expected ErrTokenExp, got %v", err)
	}
}

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-0123456789")

func testAccount() *Account {
	return &Account{
		ID:          "acct-1",
		Email:       "staff@example.com",
		Role:        RoleStaff,
		Permissions: PermissionSet{"students": {Read: true}},
		Active:      true,
	}
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	ti, err := NewTokenIssuer(testSecret)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, exp, err := ti.IssueAccess(testAccount())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Email != "staff@example.com" {
		t.Fatalf("unexpected email: %s", claims.Email)
	}
	if claims.Role != RoleStaff {
		t.Fatalf("unexpected role: %s", claims.Role)
	}
	if claims.Issuer != DefaultIssuer {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if !claims.Permissions.Allows("students", ActionRead) {
		t.Fatal("permission set not preserved in claims")
	}

	id := claims.Identity()
	if id.AccountID != "acct-1" || !Authorize(id, "students", ActionRead) {
		t.Fatalf("claims did not convert into a usable identity: %+v", id)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	ti, err := NewTokenIssuer(testSecret)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	issued := time.Now().Add(-time.Hour)
	ti.now = func() time.Time { return issued }
	token, _, err := ti.IssueAccess(testAccount())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	ti.now = time.Now
	if _, err := ti.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsForeignIssuerAndAudience(t *testing.T) {
	foreign, err := NewTokenIssuer(testSecret)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	foreign.issuer = "another-system"
	token, _, err := foreign.IssueAccess(testAccount())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	ti, _ := NewTokenIssuer(testSecret)
	if _, err := ti.Verify(token); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected rejection of foreign issuer, got %v", err)
	}

	foreign.issuer = DefaultIssuer
	foreign.audience = "another-client"
	token, _, err = foreign.IssueAccess(testAccount())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := ti.Verify(token); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected rejection of foreign audience, got %v", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	ti, _ := NewTokenIssuer(testSecret)
	token, _, err := ti.IssueAccess(testAccount())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	other, _ := NewTokenIssuer([]byte("a-completely-different-secret"))
	if _, err := other.Verify(token); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	ti, _ := NewTokenIssuer(testSecret)
	if _, err := ti.Verify("not.a.jwt"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
	if _, err := ti.Verify(""); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
}

func TestNewRefreshTokenValue(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		v, err := NewRefreshTokenValue()
		if err != nil {
			t.Fatalf("NewRefreshTokenValue: %v", err)
		}
		if len(v) != refreshTokenBytes*2 {
			t.Fatalf("unexpected length %d", len(v))
		}
		if strings.ToLower(v) != v {
			t.Fatalf("expected lowercase hex, got %s", v)
		}
		if _, dup := seen[v]; dup {
			t.Fatalf("duplicate token value generated: %s", v)
		}
		seen[v] = struct{}{}
	}
}

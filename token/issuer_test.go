package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return pub, priv
}

func testIssuer(t *testing.T, ttl time.Duration) *Issuer {
	t.Helper()
	pub, priv := testKeypair(t)
	iss, err := NewIssuer(Config{
		AccessTTL:  ttl,
		PrivateKey: priv,
		PublicKey:  pub,
		Issuer:     "authgate-test",
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return iss
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	iss := testIssuer(t, 15*time.Minute)

	signed, err := iss.Issue("u-1", "alice", "role-admin", 15*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := iss.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u-1" {
		t.Fatalf("expected sub u-1, got %q", claims.Subject)
	}
	if claims.Username != "alice" {
		t.Fatalf("expected username alice, got %q", claims.Username)
	}
	if claims.RoleID != "role-admin" {
		t.Fatalf("expected role-admin, got %q", claims.RoleID)
	}
	if claims.TokenType != TypeAccess {
		t.Fatalf("expected access token type, got %q", claims.TokenType)
	}

	exp := claims.ExpiresAt.Time
	want := time.Now().Add(15 * time.Minute)
	if exp.Before(want.Add(-time.Minute)) || exp.After(want.Add(time.Minute)) {
		t.Fatalf("exp out of range: %v", exp)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	pub, priv := testKeypair(t)
	iss, err := NewIssuer(Config{
		AccessTTL:  time.Minute,
		PrivateKey: priv,
		PublicKey:  pub,
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	// Sign an already-expired token with the same key.
	expired := Claims{
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, expired).SignedString(priv)
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}

	if _, err := iss.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	iss := testIssuer(t, time.Minute)
	other := testIssuer(t, time.Minute)

	signed, err := other.Issue("u-1", "alice", "r-1", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := iss.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	iss := testIssuer(t, time.Minute)

	claims := Claims{
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("hs-secret"))
	if err != nil {
		t.Fatalf("sign hs256 token: %v", err)
	}

	if _, err := iss.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for hs256 token, got %v", err)
	}
}

func TestVerifyRejectsNonAccessType(t *testing.T) {
	pub, priv := testKeypair(t)
	iss, err := NewIssuer(Config{AccessTTL: time.Minute, PrivateKey: priv, PublicKey: pub})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	claims := Claims{
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := iss.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for non-access type, got %v", err)
	}
}

func TestVerifyOnlyIssuerCannotSign(t *testing.T) {
	pub, _ := testKeypair(t)
	iss, err := NewIssuer(Config{AccessTTL: time.Minute, PublicKey: pub})
	if err != nil {
		t.Fatalf("new verify-only issuer: %v", err)
	}
	if _, err := iss.Issue("u-1", "alice", "r-1", 0); err == nil {
		t.Fatal("expected issue without private key to fail")
	}
}

func TestNewIssuerValidation(t *testing.T) {
	pub, priv := testKeypair(t)

	if _, err := NewIssuer(Config{AccessTTL: 0, PrivateKey: priv, PublicKey: pub}); err == nil {
		t.Fatal("expected zero TTL to be rejected")
	}
	if _, err := NewIssuer(Config{AccessTTL: time.Minute, PrivateKey: priv}); err == nil {
		t.Fatal("expected missing public key to be rejected")
	}
	if _, err := NewIssuer(Config{AccessTTL: time.Minute, PrivateKey: []byte("short"), PublicKey: pub}); err == nil {
		t.Fatal("expected malformed private key to be rejected")
	}
}

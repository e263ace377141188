package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

func TestIssueAndValidate(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)

	token, err := issuer.Issue("sess-1", "wecare.local")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.SessionID != "sess-1" || claims.Origin != "wecare.local" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateRejectsOtherSecret(t *testing.T) {
	token, err := NewIssuer(testSecret, time.Hour).Issue("sess-1", "wecare.local")
	if err != nil {
		t.Fatal(err)
	}

	other := NewIssuer("another-secret-that-is-at-least-32-chars", time.Hour)
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Minute)
	start := time.Now()
	issuer.now = func() time.Time { return start }

	token, err := issuer.Issue("sess-1", "wecare.local")
	if err != nil {
		t.Fatal(err)
	}

	issuer.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := issuer.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestValidateRejectsWrongType(t *testing.T) {
	claims := Claims{
		SessionID: "sess-1",
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewIssuer(testSecret, time.Hour).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong token type to fail, got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("wecare123")
	if err != nil {
		t.Fatal(err)
	}
	if !IsHashed(hash) {
		t.Fatalf("expected bcrypt hash, got %q", hash)
	}
	if IsHashed("wecare123") {
		t.Fatal("plaintext reported as hashed")
	}
	if err := CheckPassword(hash, "wecare123"); err != nil {
		t.Fatalf("expected password to match: %v", err)
	}
	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch")
	}
}

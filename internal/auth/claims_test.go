package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndParseToken(t *testing.T) {
	secret := []byte(testSecret)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	token, expires, err := signToken(secret, "c-001", "Kitchen", now, time.Hour)
	if err != nil {
		t.Fatalf("signToken() error = %v", err)
	}
	if !expires.Equal(now.Add(time.Hour)) {
		t.Errorf("expires = %v, want %v", expires, now.Add(time.Hour))
	}

	claims, err := parseToken(token, secret, now)
	if err != nil {
		t.Fatalf("parseToken() error = %v", err)
	}
	if claims.Subject != "c-001" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "c-001")
	}
	if claims.Name != "Kitchen" {
		t.Errorf("Name = %q, want %q", claims.Name, "Kitchen")
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestSignToken_UniquePerCall(t *testing.T) {
	secret := []byte(testSecret)
	now := time.Now()

	a, _, _ := signToken(secret, "c-001", "x", now, time.Hour)
	b, _, _ := signToken(secret, "c-001", "x", now, time.Hour)
	if a == b {
		t.Error("tokens issued in the same instant should differ")
	}
}

func TestParseToken_Expired(t *testing.T) {
	secret := []byte(testSecret)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	token, _, _ := signToken(secret, "c-001", "x", now, time.Minute)
	_, err := parseToken(token, secret, now.Add(2*time.Minute))
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("parseToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestParseToken_ExpiredWithWrongSecret(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	token, _, _ := signToken([]byte("another-secret-of-sufficient-length"), "c-001", "x", now, time.Minute)
	_, err := parseToken(token, []byte(testSecret), now.Add(time.Hour))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("parseToken() error = %v, want ErrInvalidSignature", err)
	}
}

func TestHashToken(t *testing.T) {
	h1 := HashToken("abc")
	h2 := HashToken("abc")
	if h1 != h2 {
		t.Error("HashToken() is not deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("len(HashToken()) = %d, want 64", len(h1))
	}
	if HashToken("abd") == h1 {
		t.Error("HashToken() collided on different input")
	}
}

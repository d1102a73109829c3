package util

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func newTestManager(t *testing.T, now time.Time) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(TokenConfig{
		SigningKey: []byte("test-secret-test-secret-test-secret"),
		Issuer:     "ca.example",
		Audience:   "mydata",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m.WithClock(func() time.Time { return now })
}

func TestIssueAndParse(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, now)

	raw, issued, err := m.Issue("client-1", "BANK000001", ScopeManage)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.ExpiresAt.Sub(issued.IssuedAt.Time) != time.Hour {
		t.Fatalf("expected one hour lifetime")
	}
	claims, err := m.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Scope != "manage" || claims.ClientID != "client-1" || claims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.HasScope(ScopeManage) || claims.HasScope(ScopeCA) {
		t.Fatalf("scope check failed for %q", claims.Scope)
	}
}

func TestParseRejectsWrongAudienceAndKey(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, now)
	raw, _, _ := m.Issue("client-1", "", ScopeCA)

	other, _ := NewTokenManager(TokenConfig{SigningKey: []byte("x"), Issuer: "ca.example", Audience: "mydata"})
	if _, err := other.Parse(raw); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected malformed for wrong key, got %v", err)
	}

	wrongAud, _ := NewTokenManager(TokenConfig{SigningKey: m.config.SigningKey, Issuer: "ca.example", Audience: "other"})
	if _, err := wrongAud.WithClock(func() time.Time { return now }).Parse(raw); !errors.Is(err, ErrTokenClaims) {
		t.Fatalf("expected claims error, got %v", err)
	}
}

func TestParseTimeClaims(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, now)
	raw, _, _ := m.Issue("client-1", "", ScopeCA)

	// inside skew
	if _, err := m.WithClock(func() time.Time { return now.Add(time.Hour + 20*time.Second) }).Parse(raw); err != nil {
		t.Fatalf("expected token within skew to pass, got %v", err)
	}
	if _, err := m.WithClock(func() time.Time { return now.Add(time.Hour + 31*time.Second) }).Parse(raw); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := m.WithClock(func() time.Time { return now.Add(-65 * time.Second) }).Parse(raw); !errors.Is(err, ErrTokenIssuedInFuture) {
		t.Fatalf("expected issued in future, got %v", err)
	}
}

func TestParseRejectsNoneAlgorithm(t *testing.T) {
	m := newTestManager(t, time.Now())
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, &ClientClaims{Scope: ScopeCA})
	raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := m.Parse(raw); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

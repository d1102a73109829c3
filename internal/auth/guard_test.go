package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/util"
	"github.com/roastedbeans/certification-authority/security"
)

type failingRevocations struct{}

func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}
func (failingRevocations) Revoke(context.Context, string, time.Time) error { return nil }

func newTokens(t *testing.T) *util.TokenManager {
	t.Helper()
	m, err := util.NewTokenManager(util.TokenConfig{SigningKey: []byte("k"), Issuer: "ca", Audience: "mydata"})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	return m
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	tokens := newTokens(t)
	revocations := security.NewMemoryRevocationStore()
	g := NewGuard(tokens, revocations)
	raw, _, _ := tokens.Issue("bank-1", "BANK000001", util.ScopeCA)

	cases := []struct {
		name   string
		header string
		scope  string
		want   *apperr.Error
	}{
		{"no header", "", util.ScopeCA, apperr.ErrUnauthorized},
		{"basic auth", "Basic abc", util.ScopeCA, apperr.ErrUnauthorized},
		{"empty bearer", "Bearer ", util.ScopeCA, apperr.ErrUnauthorized},
		{"garbage", "Bearer abc.def.ghi", util.ScopeCA, apperr.ErrInvalidToken},
		{"wrong scope", "Bearer " + raw, util.ScopeManage, apperr.ErrForbidden},
		{"ok", "Bearer " + raw, util.ScopeCA, nil},
		{"any scope", "Bearer " + raw, "", nil},
	}
	for _, c := range cases {
		claims, err := g.Authenticate(ctx, c.header, c.scope)
		if c.want == nil {
			if err != nil || claims.ClientID != "bank-1" {
				t.Fatalf("%s: expected success, got %v", c.name, err)
			}
			continue
		}
		if !errors.Is(err, c.want) {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, err)
		}
	}
}

func TestAuthenticateRevoked(t *testing.T) {
	ctx := context.Background()
	tokens := newTokens(t)
	g := NewGuard(tokens, security.NewMemoryRevocationStore())
	raw, _, _ := tokens.Issue("bank-1", "", util.ScopeManage)

	claims, err := g.Authenticate(ctx, "Bearer "+raw, util.ScopeManage)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := g.Revoke(ctx, claims); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := g.Authenticate(ctx, "Bearer "+raw, util.ScopeManage); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Fatalf("expected revoked token to be invalid, got %v", err)
	}
}

func TestAuthenticateFailsClosed(t *testing.T) {
	tokens := newTokens(t)
	g := NewGuard(tokens, failingRevocations{})
	raw, _, _ := tokens.Issue("bank-1", "", util.ScopeManage)
	if _, err := g.Authenticate(context.Background(), "Bearer "+raw, util.ScopeManage); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Fatalf("expected fail closed, got %v", err)
	}
}

func TestClaimsContext(t *testing.T) {
	ctx := WithClaims(context.Background(), &util.ClientClaims{ClientID: "x"})
	c, ok := ClaimsFromContext(ctx)
	if !ok || c.ClientID != "x" {
		t.Fatalf("claims not found in context")
	}
}

// Package auth checks bearer tokens for the consent endpoints.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/util"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
	"github.com/roastedbeans/certification-authority/security"
)

const bearerPrefix = "Bearer "

// TokenParser verifies a raw token and returns its claims.
type TokenParser interface {
	Parse(raw string) (*util.ClientClaims, error)
}

// Guard authenticates bearer tokens against a required scope. It holds no
// state of its own and is safe for concurrent use.
type Guard struct {
	tokens      TokenParser
	revocations security.RevocationStore
}

func NewGuard(tokens TokenParser, revocations security.RevocationStore) *Guard {
	return &Guard{tokens: tokens, revocations: revocations}
}

// Authenticate validates the Authorization header value. An empty
// requiredScope accepts any valid token. Revocation lookups that fail are
// treated as revoked.
func (g *Guard) Authenticate(ctx context.Context, header, requiredScope string) (*util.ClientClaims, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, apperr.Auth(apperr.Unauthorized, "missing bearer token")
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	if raw == "" {
		return nil, apperr.Auth(apperr.Unauthorized, "missing bearer token")
	}

	claims, err := g.tokens.Parse(raw)
	if err != nil {
		return nil, apperr.Auth(apperr.InvalidToken, err.Error())
	}

	if requiredScope != "" && !claims.HasScope(requiredScope) {
		return nil, apperr.Auth(apperr.Forbidden, "token scope does not include "+requiredScope)
	}

	if claims.ID != "" && g.revocations != nil {
		revoked, err := g.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			logger.Warnw("revocation lookup failed", "jti", claims.ID, "error", err)
			return nil, apperr.Auth(apperr.InvalidToken, "revocation status unavailable")
		}
		if revoked {
			return nil, apperr.Auth(apperr.InvalidToken, "token revoked")
		}
	}
	return claims, nil
}

// Revoke revokes the token described by claims until its expiry.
func (g *Guard) Revoke(ctx context.Context, claims *util.ClientClaims) error {
	if g.revocations == nil || claims.ID == "" {
		return nil
	}
	until := time.Now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	if err := g.revocations.Revoke(ctx, claims.ID, until); err != nil {
		return apperr.System(err, "revoke token")
	}
	return nil
}

type claimsKey struct{}

// WithClaims stores validated claims in ctx.
func WithClaims(ctx context.Context, c *util.ClientClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by WithClaims.
func ClaimsFromContext(ctx context.Context) (*util.ClientClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*util.ClientClaims)
	return c, ok
}

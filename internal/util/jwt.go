package util

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	ScopeManage = "manage"
	ScopeCA     = "ca"
)

var (
	ErrTokenMalformed      = errors.New("token malformed or signature invalid")
	ErrTokenClaims         = errors.New("token issuer or audience mismatch")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenIssuedInFuture = errors.New("token issued in the future")
)

// ClientClaims are the claims of an OAuth client-credentials token.
type ClientClaims struct {
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	OrgCode  string `json:"org_code,omitempty"`

	jwt.RegisteredClaims
}

// HasScope reports whether the space separated scope claim contains s.
func (c *ClientClaims) HasScope(s string) bool {
	for _, f := range strings.Fields(c.Scope) {
		if f == s {
			return true
		}
	}
	return false
}

// TokenConfig holds token issuing configuration
type TokenConfig struct {
	SigningKey  []byte
	Issuer      string
	Audience    string
	TTL         time.Duration
	ClockSkew   time.Duration
	MaxIATDrift time.Duration
}

// TokenManager issues and parses HS256 client tokens.
type TokenManager struct {
	config TokenConfig
	now    func() time.Time
}

func NewTokenManager(config TokenConfig) (*TokenManager, error) {
	if len(config.SigningKey) == 0 {
		return nil, errors.New("token signing key is empty")
	}
	if config.TTL == 0 {
		config.TTL = time.Hour
	}
	if config.ClockSkew == 0 {
		config.ClockSkew = 30 * time.Second
	}
	if config.MaxIATDrift == 0 {
		config.MaxIATDrift = 60 * time.Second
	}
	return &TokenManager{config: config, now: time.Now}, nil
}

// WithClock overrides the time source, for tests.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	m.now = now
	return m
}

func (m *TokenManager) TTL() time.Duration { return m.config.TTL }

// Issue signs a token for clientID carrying scope.
func (m *TokenManager) Issue(clientID, orgCode, scope string) (string, *ClientClaims, error) {
	now := m.now()
	tokenID, err := generateSecureTokenID()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token ID: %w", err)
	}

	claims := &ClientClaims{
		Scope:    scope,
		ClientID: clientID,
		OrgCode:  orgCode,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   clientID,
			Audience:  jwt.ClaimStrings{m.config.Audience},
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.config.SigningKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies the signature, issuer, audience and time claims of raw.
func (m *TokenManager) Parse(raw string) (*ClientClaims, error) {
	claims := &ClientClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	token, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.config.SigningKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	if !claims.VerifyIssuer(m.config.Issuer, true) || !claims.VerifyAudience(m.config.Audience, true) {
		return nil, ErrTokenClaims
	}

	now := m.now()
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time.Add(m.config.ClockSkew)) {
		return nil, ErrTokenExpired
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(now.Add(m.config.MaxIATDrift)) {
		return nil, ErrTokenIssuedInFuture
	}
	return claims, nil
}

// generateSecureTokenID generates a cryptographically secure token ID
func generateSecureTokenID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

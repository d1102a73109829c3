// Package security signs and verifies consent payloads on behalf of the CA.
package security

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrSignatureMismatch is returned by Verify when the signature does not
// belong to the message. Any other error means the check could not run.
var ErrSignatureMismatch = errors.New("signature mismatch")

// Signer is a CA signing key.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	Verify(ctx context.Context, message, signature []byte) error
	KeyID() string
	Health(ctx context.Context) (string, error)
}

// Consent types of a verification request.
const (
	ConsentTypeOriginal = "0"
	ConsentTypeDigest   = "1"
)

// ConsentDigest is the lowercase hex SHA-256 of consent.
func ConsentDigest(consent string) string {
	sum := sha256.Sum256([]byte(consent))
	return hex.EncodeToString(sum[:])
}

// ConsentMessage binds a consent digest to its tx_id.
func ConsentMessage(txID, digest string) []byte {
	return []byte(txID + "." + strings.ToLower(digest))
}

// ConsentSigner produces and checks signed_consent values.
type ConsentSigner struct {
	signer Signer
}

func NewConsentSigner(s Signer) *ConsentSigner {
	return &ConsentSigner{signer: s}
}

func (c *ConsentSigner) KeyID() string { return c.signer.KeyID() }

func (c *ConsentSigner) Health(ctx context.Context) (string, error) { return c.signer.Health(ctx) }

// Sign returns the unpadded base64url signature over txID and consent.
func (c *ConsentSigner) Sign(ctx context.Context, txID, consent string) (string, error) {
	sig, err := c.signer.Sign(ctx, ConsentMessage(txID, ConsentDigest(consent)))
	if err != nil {
		return "", fmt.Errorf("sign consent %s: %w", txID, err)
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify reports whether signed was produced for txID and consent. With
// ConsentTypeDigest the consent argument is already the hex digest.
// A false result with nil error is a genuine mismatch.
func (c *ConsentSigner) Verify(ctx context.Context, txID, consent, consentType, signed string) (bool, error) {
	sig, err := base64.RawURLEncoding.DecodeString(signed)
	if err != nil {
		return false, nil
	}
	digest := consent
	if consentType != ConsentTypeDigest {
		digest = ConsentDigest(consent)
	}
	err = c.signer.Verify(ctx, ConsentMessage(txID, digest), sig)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSignatureMismatch):
		return false, nil
	default:
		return false, err
	}
}

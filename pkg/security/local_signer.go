package security

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// LocalSigner signs with an in-process P-256 key. It backs development and
// test deployments that have no KMS key.
type LocalSigner struct {
	key   *ecdsa.PrivateKey
	keyID string
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	der, _ := x509.MarshalPKIXPublicKey(&key.PublicKey)
	sum := sha256.Sum256(der)
	return &LocalSigner{key: key, keyID: "local:" + hex.EncodeToString(sum[:8])}
}

// GenerateLocalSigner creates a signer with a fresh key.
func GenerateLocalSigner() (*LocalSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return NewLocalSigner(key), nil
}

// LoadLocalSigner reads a PEM encoded EC or PKCS#8 private key.
func LoadLocalSigner(path string) (*LocalSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("signing key: no PEM block")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return NewLocalSigner(key), nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key: unsupported type %T", parsed)
	}
	return NewLocalSigner(key), nil
}

func (s *LocalSigner) Sign(_ context.Context, message []byte) ([]byte, error) {
	sum := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, s.key, sum[:])
}

func (s *LocalSigner) Verify(_ context.Context, message, signature []byte) error {
	sum := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(&s.key.PublicKey, sum[:], signature) {
		return ErrSignatureMismatch
	}
	return nil
}

func (s *LocalSigner) KeyID() string { return s.keyID }

func (s *LocalSigner) Health(context.Context) (string, error) { return "healthy", nil }

package security

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSClient is the part of the KMS API the signer uses.
type KMSClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	GetKeyRotationStatus(ctx context.Context, params *kms.GetKeyRotationStatusInput, optFns ...func(*kms.Options)) (*kms.GetKeyRotationStatusOutput, error)
}

type KMSConfig struct {
	KeyID     string
	Algorithm kmstypes.SigningAlgorithmSpec
	Timeout   time.Duration

	// Public key cache TTL for local verification. Defaults to 24h.
	PublicKeyCacheTTL time.Duration
}

func (c *KMSConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.PublicKeyCacheTTL <= 0 {
		c.PublicKeyCacheTTL = 24 * time.Hour
	}
	if c.Algorithm == "" {
		c.Algorithm = kmstypes.SigningAlgorithmSpecEcdsaSha256
	}
}

// KMSSigner signs in AWS KMS and verifies locally against the cached
// public key.
type KMSSigner struct {
	client KMSClient
	cfg    KMSConfig

	mu        sync.Mutex
	pub       crypto.PublicKey
	fetchedAt time.Time
	now       func() time.Time
}

func NewKMSSigner(ctx context.Context, cfg KMSConfig, optFns ...func(*awscfg.LoadOptions) error) (*KMSSigner, error) {
	if cfg.KeyID == "" {
		return nil, errors.New("kms: KeyID required")
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewKMSSignerWithClient(kms.NewFromConfig(awsCfg), cfg), nil
}

func NewKMSSignerWithClient(client KMSClient, cfg KMSConfig) *KMSSigner {
	cfg.defaults()
	return &KMSSigner{client: client, cfg: cfg, now: time.Now}
}

func (s *KMSSigner) KeyID() string { return s.cfg.KeyID }

func (s *KMSSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	out, err := s.client.Sign(cctx, &kms.SignInput{
		KeyId:            aws.String(s.cfg.KeyID),
		Message:          message,
		MessageType:      kmstypes.MessageTypeRaw,
		SigningAlgorithm: s.cfg.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("kms Sign: %w", err)
	}
	return out.Signature, nil
}

func (s *KMSSigner) publicKey(ctx context.Context) (crypto.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pub != nil && s.now().Sub(s.fetchedAt) < s.cfg.PublicKeyCacheTTL {
		return s.pub, nil
	}
	// keep a stale key when rotation is off and the refresh fails
	if s.pub != nil {
		if rot, err := s.rotationEnabled(ctx); err == nil && !rot {
			s.fetchedAt = s.now()
			return s.pub, nil
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	out, err := s.client.GetPublicKey(cctx, &kms.GetPublicKeyInput{KeyId: aws.String(s.cfg.KeyID)})
	if err != nil {
		return nil, fmt.Errorf("kms GetPublicKey: %w", err)
	}
	if out.PublicKey == nil {
		return nil, errors.New("kms: GetPublicKey returned nil")
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("kms parse public key: %w", err)
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("kms: unsupported public key type %T", pub)
	}
	s.pub = pub
	s.fetchedAt = s.now()
	return pub, nil
}

func (s *KMSSigner) Verify(ctx context.Context, message, signature []byte) error {
	pub, err := s.publicKey(ctx)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(message)

	switch p := pub.(type) {
	case *rsa.PublicKey:
		switch s.cfg.Algorithm {
		case kmstypes.SigningAlgorithmSpecRsassaPssSha256:
			opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
			if rsa.VerifyPSS(p, crypto.SHA256, sum[:], signature, opts) != nil {
				return ErrSignatureMismatch
			}
			return nil
		case kmstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256:
			if rsa.VerifyPKCS1v15(p, crypto.SHA256, sum[:], signature) != nil {
				return ErrSignatureMismatch
			}
			return nil
		default:
			return fmt.Errorf("unsupported RSA signing algorithm: %s", s.cfg.Algorithm)
		}
	case *ecdsa.PublicKey:
		if s.cfg.Algorithm != kmstypes.SigningAlgorithmSpecEcdsaSha256 {
			return fmt.Errorf("unsupported ECDSA signing algorithm: %s", s.cfg.Algorithm)
		}
		if !ecdsa.VerifyASN1(p, sum[:], signature) {
			return ErrSignatureMismatch
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type: %T", pub)
	}
}

// Health reports the KMS key state.
func (s *KMSSigner) Health(ctx context.Context) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	out, err := s.client.DescribeKey(cctx, &kms.DescribeKeyInput{KeyId: aws.String(s.cfg.KeyID)})
	if err != nil {
		return "unavailable", err
	}
	if out.KeyMetadata == nil {
		return "unknown", nil
	}
	switch out.KeyMetadata.KeyState {
	case kmstypes.KeyStateEnabled:
		return "healthy", nil
	case kmstypes.KeyStatePendingDeletion:
		return "pending_deletion", nil
	default:
		return string(out.KeyMetadata.KeyState), nil
	}
}

func (s *KMSSigner) rotationEnabled(ctx context.Context) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	out, err := s.client.GetKeyRotationStatus(cctx, &kms.GetKeyRotationStatusInput{KeyId: aws.String(s.cfg.KeyID)})
	if err != nil {
		return false, err
	}
	return out.KeyRotationEnabled, nil
}

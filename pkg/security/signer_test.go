package security

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

func TestConsentMessage(t *testing.T) {
	d := ConsentDigest("I agree")
	if len(d) != 64 || strings.ToLower(d) != d {
		t.Fatalf("expected lowercase hex digest, got %q", d)
	}
	if got := string(ConsentMessage("TX1", strings.ToUpper(d))); got != "TX1."+d {
		t.Fatalf("expected normalized digest in message, got %q", got)
	}
}

func TestConsentSignerRoundTrip(t *testing.T) {
	ls, err := GenerateLocalSigner()
	if err != nil {
		t.Fatal(err)
	}
	cs := NewConsentSigner(ls)
	ctx := context.Background()

	signed, err := cs.Sign(ctx, "TX1", "I agree")
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(signed, "=+/") {
		t.Fatalf("expected unpadded base64url, got %q", signed)
	}

	ok, err := cs.Verify(ctx, "TX1", "I agree", ConsentTypeOriginal, signed)
	if err != nil || !ok {
		t.Fatalf("expected original consent to verify, got %v %v", ok, err)
	}
	ok, err = cs.Verify(ctx, "TX1", ConsentDigest("I agree"), ConsentTypeDigest, signed)
	if err != nil || !ok {
		t.Fatalf("expected digest consent to verify, got %v %v", ok, err)
	}

	for name, c := range map[string][3]string{
		"other tx":      {"TX2", "I agree", signed},
		"other consent": {"TX1", "I disagree", signed},
		"bad encoding":  {"TX1", "I agree", "***"},
	} {
		ok, err := cs.Verify(ctx, c[0], c[1], ConsentTypeOriginal, c[2])
		if err != nil || ok {
			t.Fatalf("%s: expected false without error, got %v %v", name, ok, err)
		}
	}
}

func TestLoadLocalSigner(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := LoadLocalSigner(path)
	if err != nil {
		t.Fatalf("expected key to load, got %v", err)
	}
	if s.KeyID() != NewLocalSigner(key).KeyID() {
		t.Fatalf("expected stable key id, got %s", s.KeyID())
	}

	if err := os.WriteFile(path, []byte("nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLocalSigner(path); err == nil {
		t.Fatal("expected error for non-PEM file")
	}
}

type fakeKMS struct {
	key      *ecdsa.PrivateKey
	pubCalls int
	signErr  error
	rotation bool
	keyState kmstypes.KeyState
}

func (f *fakeKMS) Sign(_ context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	sum := sha256.Sum256(in.Message)
	sig, err := ecdsa.SignASN1(rand.Reader, f.key, sum[:])
	if err != nil {
		return nil, err
	}
	return &kms.SignOutput{Signature: sig, KeyId: in.KeyId, SigningAlgorithm: in.SigningAlgorithm}, nil
}

func (f *fakeKMS) GetPublicKey(_ context.Context, _ *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	f.pubCalls++
	der, err := x509.MarshalPKIXPublicKey(&f.key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &kms.GetPublicKeyOutput{PublicKey: der}, nil
}

func (f *fakeKMS) DescribeKey(_ context.Context, _ *kms.DescribeKeyInput, _ ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	return &kms.DescribeKeyOutput{KeyMetadata: &kmstypes.KeyMetadata{KeyState: f.keyState}}, nil
}

func (f *fakeKMS) GetKeyRotationStatus(_ context.Context, _ *kms.GetKeyRotationStatusInput, _ ...func(*kms.Options)) (*kms.GetKeyRotationStatusOutput, error) {
	return &kms.GetKeyRotationStatusOutput{KeyRotationEnabled: f.rotation}, nil
}

func newFakeKMS(t *testing.T) *fakeKMS {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeKMS{key: key, keyState: kmstypes.KeyStateEnabled}
}

func TestKMSSigner(t *testing.T) {
	ctx := context.Background()
	fk := newFakeKMS(t)
	s := NewKMSSignerWithClient(fk, KMSConfig{KeyID: "alias/ca"})
	cs := NewConsentSigner(s)

	signed, err := cs.Sign(ctx, "TX1", "consent body")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		ok, err := cs.Verify(ctx, "TX1", "consent body", ConsentTypeOriginal, signed)
		if err != nil || !ok {
			t.Fatalf("expected verification, got %v %v", ok, err)
		}
	}
	if fk.pubCalls != 1 {
		t.Fatalf("expected cached public key, got %d fetches", fk.pubCalls)
	}

	raw, _ := base64.RawURLEncoding.DecodeString(signed)
	raw[len(raw)-1] ^= 0xff
	ok, err := cs.Verify(ctx, "TX1", "consent body", ConsentTypeOriginal, base64.RawURLEncoding.EncodeToString(raw))
	if err != nil || ok {
		t.Fatalf("expected tampered signature to fail, got %v %v", ok, err)
	}

	if h, err := s.Health(ctx); err != nil || h != "healthy" {
		t.Fatalf("expected healthy, got %s %v", h, err)
	}
}

func TestKMSSignerCacheRefresh(t *testing.T) {
	ctx := context.Background()
	fk := newFakeKMS(t)
	s := NewKMSSignerWithClient(fk, KMSConfig{KeyID: "alias/ca", PublicKeyCacheTTL: time.Minute})
	now := time.Now()
	s.now = func() time.Time { return now }

	sig, err := s.Sign(ctx, []byte("m"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Verify(ctx, []byte("m"), sig); err != nil {
		t.Fatal(err)
	}

	// expired and rotation disabled: keep the cached key
	now = now.Add(2 * time.Minute)
	if err := s.Verify(ctx, []byte("m"), sig); err != nil {
		t.Fatal(err)
	}
	if fk.pubCalls != 1 {
		t.Fatalf("expected no refetch without rotation, got %d", fk.pubCalls)
	}

	fk.rotation = true
	now = now.Add(2 * time.Minute)
	if err := s.Verify(ctx, []byte("m"), sig); err != nil {
		t.Fatal(err)
	}
	if fk.pubCalls != 2 {
		t.Fatalf("expected refetch with rotation, got %d", fk.pubCalls)
	}
}

func TestKMSSignerErrors(t *testing.T) {
	fk := newFakeKMS(t)
	fk.signErr = errors.New("throttled")
	cs := NewConsentSigner(NewKMSSignerWithClient(fk, KMSConfig{KeyID: "alias/ca"}))
	if _, err := cs.Sign(context.Background(), "TX1", "c"); err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("expected sign error, got %v", err)
	}
}

package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roastedbeans/certification-authority/internal/models"
)

func testCertificate(id string) *models.Certificate {
	return &models.Certificate{
		CertTxID: id,
		SignTxID: "BANK_CA_1",
		UserCI:   "dXNlcg==",
		State:    models.StateConsentRequested,
		ConsentItems: []models.ConsentItem{
			{TxID: "tx-1", ConsentTitle: "t", Consent: "c", ConsentLen: 1, ConsentType: "0"},
		},
	}
}

func TestMemoryCertificateLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCertificateRepository()

	if err := repo.CreateCertificate(ctx, testCertificate("c1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreateCertificate(ctx, testCertificate("c1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err := repo.MarkAccessed(ctx, "c1", "tx-1", time.Now()); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected conflict before verification, got %v", err)
	}

	signed := []models.SignedConsent{{TxID: "tx-1", CertTxID: "c1", SignedConsent: "sig", SignedConsentLen: 3}}
	if err := repo.AttachSignedConsents(ctx, "c1", signed); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := repo.AttachSignedConsents(ctx, "c1", signed); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected second attach to conflict, got %v", err)
	}

	if err := repo.RecordVerification(ctx, models.Verification{TxID: "tx-1", CertTxID: "c1", Result: true, VerifiedAt: time.Now()}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	c, _ := repo.GetCertificate(ctx, "c1")
	if c.State != models.StateConsentVerified || len(c.SignedConsents) != 1 {
		t.Fatalf("unexpected certificate %+v", c)
	}

	if err := repo.MarkAccessed(ctx, "c1", "tx-1", time.Now()); err != nil {
		t.Fatalf("access: %v", err)
	}
	c, _ = repo.GetCertificate(ctx, "c1")
	if c.State != models.StateTerminal {
		t.Fatalf("expected terminal, got %s", c.State)
	}
	v, _ := repo.GetVerification(ctx, "tx-1")
	if v == nil || v.AccessedAt == nil {
		t.Fatalf("expected accessed verification, got %+v", v)
	}
}

func TestMemoryTxIDRegistry(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCertificateRepository()
	if err := repo.CreateCertificate(ctx, testCertificate("c1")); err != nil {
		t.Fatal(err)
	}
	// same tx_id under a different certificate
	if err := repo.CreateCertificate(ctx, testCertificate("c2")); !errors.Is(err, ErrDuplicateTxID) {
		t.Fatalf("expected duplicate tx_id, got %v", err)
	}
	if c, _ := repo.GetCertificate(ctx, "c2"); c != nil {
		t.Fatalf("rejected certificate was stored: %+v", c)
	}

	twice := testCertificate("c3")
	twice.ConsentItems[0].TxID = "tx-3"
	twice.ConsentItems = append(twice.ConsentItems, twice.ConsentItems[0])
	if err := repo.CreateCertificate(ctx, twice); !errors.Is(err, ErrDuplicateTxID) {
		t.Fatalf("expected repeated tx_id rejected, got %v", err)
	}

	other := testCertificate("c4")
	other.ConsentItems[0].TxID = "tx-4"
	if err := repo.CreateCertificate(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordVerification(ctx, models.Verification{TxID: "tx-1", CertTxID: "c4", Result: true, VerifiedAt: time.Now()}); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected verification under a foreign certificate rejected, got %v", err)
	}
	if v, _ := repo.GetVerification(ctx, "tx-1"); v != nil {
		t.Fatalf("foreign verification was stored: %+v", v)
	}
}

func TestMemoryVerificationStaysPassed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCertificateRepository()
	_ = repo.CreateCertificate(ctx, testCertificate("c1"))
	_ = repo.AttachSignedConsents(ctx, "c1", []models.SignedConsent{{TxID: "tx-1", CertTxID: "c1"}})

	first := time.Now().UTC()
	if err := repo.RecordVerification(ctx, models.Verification{TxID: "tx-1", CertTxID: "c1", Result: false, VerifiedAt: first}); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordVerification(ctx, models.Verification{TxID: "tx-1", CertTxID: "c1", Result: true, VerifiedAt: first}); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordVerification(ctx, models.Verification{TxID: "tx-1", CertTxID: "c1", Result: false, VerifiedAt: first.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	v, _ := repo.GetVerification(ctx, "tx-1")
	if v == nil || !v.Result || !v.VerifiedAt.Equal(first) {
		t.Fatalf("expected the passed verification to stand, got %+v", v)
	}
	if err := repo.MarkAccessed(ctx, "c1", "tx-1", time.Now()); err != nil {
		t.Fatalf("access: %v", err)
	}
}

func TestMemoryCertificateIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCertificateRepository()
	_ = repo.CreateCertificate(ctx, testCertificate("c1"))

	c, _ := repo.GetCertificate(ctx, "c1")
	c.ConsentItems[0].Consent = "mutated"
	again, _ := repo.GetCertificate(ctx, "c1")
	if again.ConsentItems[0].Consent != "c" {
		t.Fatalf("stored consent item was mutated through a copy")
	}
	if missing, err := repo.GetCertificate(ctx, "nope"); missing != nil || err != nil {
		t.Fatalf("expected nil, nil for unknown certificate")
	}
}

func TestMemoryAttachConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCertificateRepository()
	_ = repo.CreateCertificate(ctx, testCertificate("c1"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.AttachSignedConsents(ctx, "c1", nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful attach, got %d", wins)
	}
}

func TestMemoryFlowStateStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFlowStateStore()
	if st, _ := s.Get(ctx, "client"); st != models.StateStart {
		t.Fatalf("expected START, got %s", st)
	}
	if st, _ := s.Advance(ctx, "client", models.StateDiscovered); st != models.StateDiscovered {
		t.Fatalf("expected DISCOVERED, got %s", st)
	}
	if st, _ := s.Advance(ctx, "client", models.StateManaged); st != models.StateDiscovered {
		t.Fatalf("advance must not move backwards, got %s", st)
	}
}

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIdempotencyStore(time.Hour)
	if _, ok, _ := s.Reserve(ctx, "k", "h1"); !ok {
		t.Fatalf("expected first reserve to succeed")
	}
	existing, ok, _ := s.Reserve(ctx, "k", "h1")
	if ok || existing == nil || existing.Completed {
		t.Fatalf("expected pending record, got %+v ok=%v", existing, ok)
	}
	_ = s.Complete(ctx, "k", IdempotencyRecord{RequestHash: "h1", Status: 200, Body: []byte(`{}`)})
	existing, _, _ = s.Reserve(ctx, "k", "h1")
	if !existing.Completed || existing.Status != 200 {
		t.Fatalf("expected completed record, got %+v", existing)
	}
	_ = s.Release(ctx, "k")
	if _, ok, _ := s.Reserve(ctx, "k", "h2"); !ok {
		t.Fatalf("expected reserve after release")
	}
}

func TestMemoryClientRepository(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryClientRepository([]models.Client{
		{ClientID: "b", OrgCode: "BANK000002", OrgName: "Bank B"},
		{ClientID: "a", OrgCode: "BANK000001", OrgName: "Bank A"},
		{ClientID: "a2", OrgCode: "BANK000001", OrgName: "Bank A"},
	})
	orgs, _ := r.ListOrganizations(ctx)
	if len(orgs) != 2 || orgs[0].OrgCode != "BANK000001" {
		t.Fatalf("unexpected orgs %+v", orgs)
	}
	if c, _ := r.GetClient(ctx, "missing"); c != nil {
		t.Fatalf("expected nil client")
	}
}

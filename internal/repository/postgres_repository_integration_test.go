//go:build integration

package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roastedbeans/certification-authority/internal/models"
)

// Run with: go test -tags=integration -timeout 120s ./internal/repository/...
func TestPostgresRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ca"),
		postgres.WithUsername("ca"),
		postgres.WithPassword("ca"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("schema: %v", err)
	}

	clients := NewPostgresClientRepository(db)
	if err := clients.UpsertClients(ctx, []models.Client{
		{ClientID: "bank-1", ClientSecret: "s", OrgCode: "BANK000001", OrgName: "Bank", OrgType: "bank", Scopes: []string{"manage", "ca"}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	c, err := clients.GetClient(ctx, "bank-1")
	if err != nil || c == nil || !c.AllowsScope("ca") {
		t.Fatalf("unexpected client %+v (%v)", c, err)
	}
	orgs, err := clients.ListOrganizations(ctx)
	if err != nil || len(orgs) != 1 {
		t.Fatalf("unexpected orgs %+v (%v)", orgs, err)
	}

	certs := NewPostgresCertificateRepository(db)
	now := time.Now().UTC().Truncate(time.Second)
	cert := &models.Certificate{
		CertTxID: "2026010112000000ABCDEFGHIJKLMNOPQRSTUVWX", SignTxID: "BANK_CA_1", ClientID: "bank-1",
		UserCI: "dXNlcg==", RealName: "Hong", PhoneNum: "+821012345678", RequestTitle: "t",
		DeviceCode: "PC", DeviceBrowser: "WB", ConsentType: "0", State: models.StateConsentRequested,
		IssuedAt: now, ExpiresAt: now.Add(models.CertificateValidity),
		ConsentItems: []models.ConsentItem{{TxID: "tx-1", ConsentTitle: "t", Consent: "c", ConsentLen: 1, ConsentType: "0"}},
	}
	if err := certs.CreateCertificate(ctx, cert); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := certs.CreateCertificate(ctx, cert); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	reused := *cert
	reused.CertTxID = "2026010112000000ZYXWVUTSRQPONMLKJIHGFEDC"
	if err := certs.CreateCertificate(ctx, &reused); !errors.Is(err, ErrDuplicateTxID) {
		t.Fatalf("expected duplicate tx_id, got %v", err)
	}
	if got, err := certs.GetCertificate(ctx, reused.CertTxID); err != nil || got != nil {
		t.Fatalf("rejected certificate was stored: %+v (%v)", got, err)
	}
	if err := certs.RecordVerification(ctx, models.Verification{TxID: "tx-1", CertTxID: reused.CertTxID, Result: true, VerifiedAt: now}); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected verification under a foreign certificate rejected, got %v", err)
	}

	signed := []models.SignedConsent{{TxID: "tx-1", UserID: "dXNlcg==", SignedConsent: "abc", SignedConsentLen: 3}}
	if err := certs.AttachSignedConsents(ctx, cert.CertTxID, signed); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := certs.AttachSignedConsents(ctx, cert.CertTxID, signed); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := certs.RecordVerification(ctx, models.Verification{TxID: "tx-1", CertTxID: cert.CertTxID, Result: true, VerifiedAt: now}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := certs.RecordVerification(ctx, models.Verification{TxID: "tx-1", CertTxID: cert.CertTxID, Result: false, VerifiedAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if v, err := certs.GetVerification(ctx, "tx-1"); err != nil || v == nil || !v.Result || !v.VerifiedAt.Equal(now) {
		t.Fatalf("expected the passed verification to stand, got %+v (%v)", v, err)
	}
	if err := certs.MarkAccessed(ctx, cert.CertTxID, "tx-1", now); err != nil {
		t.Fatalf("access: %v", err)
	}
	got, err := certs.GetCertificate(ctx, cert.CertTxID)
	if err != nil || got.State != models.StateTerminal || len(got.SignedConsents) != 1 || len(got.ConsentItems) != 1 {
		t.Fatalf("unexpected certificate %+v (%v)", got, err)
	}
}

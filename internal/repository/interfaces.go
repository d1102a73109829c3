package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/roastedbeans/certification-authority/internal/models"
)

var (
	// ErrStateConflict is returned when a conditional state change finds the
	// certificate in another state than expected.
	ErrStateConflict = errors.New("certificate state conflict")
	ErrDuplicate     = errors.New("duplicate record")
	// ErrDuplicateTxID is returned when a consent item tx_id already belongs
	// to a stored certificate.
	ErrDuplicateTxID = errors.New("tx_id already registered")
)

// ClientRepository resolves registered clients and their organizations.
type ClientRepository interface {
	GetClient(ctx context.Context, clientID string) (*models.Client, error)
	ListOrganizations(ctx context.Context) ([]models.Organization, error)
}

// CertificateRepository persists certificates and the artifacts of each
// consent phase. State changes are conditional on the current state so a
// phase is committed together with its artifact or not at all.
type CertificateRepository interface {
	CreateCertificate(ctx context.Context, cert *models.Certificate) error
	// GetCertificate returns nil, nil when certTxID is unknown.
	GetCertificate(ctx context.Context, certTxID string) (*models.Certificate, error)
	// AttachSignedConsents moves the certificate from CONSENT_REQUESTED to
	// CONSENT_SIGNED and stores the signed consents in one step.
	AttachSignedConsents(ctx context.Context, certTxID string, signed []models.SignedConsent) error
	// RecordVerification stores the outcome for v.TxID. A true result moves a
	// CONSENT_SIGNED certificate to CONSENT_VERIFIED.
	RecordVerification(ctx context.Context, v models.Verification) error
	// GetVerification returns nil, nil when txID has no verification.
	GetVerification(ctx context.Context, txID string) (*models.Verification, error)
	// MarkAccessed stamps the verification of txID and moves the certificate
	// to TERMINAL.
	MarkAccessed(ctx context.Context, certTxID, txID string, at time.Time) error
}

// FlowStateStore keeps the organization level protocol state.
type FlowStateStore interface {
	// Get returns StateStart for unknown keys.
	Get(ctx context.Context, key string) (models.FlowState, error)
	// Advance moves key to state unless it is already further along and
	// returns the resulting state.
	Advance(ctx context.Context, key string, state models.FlowState) (models.FlowState, error)
}

// IdempotencyRecord is a stored response for a client supplied key.
type IdempotencyRecord struct {
	RequestHash string          `json:"request_hash"`
	Completed   bool            `json:"completed"`
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IdempotencyStore is the deduplication table for retried sign requests.
type IdempotencyStore interface {
	// Reserve claims key for requestHash. When the key is already taken the
	// existing record is returned and reserved is false.
	Reserve(ctx context.Context, key, requestHash string) (existing *IdempotencyRecord, reserved bool, err error)
	Complete(ctx context.Context, key string, rec IdempotencyRecord) error
	Release(ctx context.Context, key string) error
}

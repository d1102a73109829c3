package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/roastedbeans/certification-authority/internal/models"
)

// Schema creates the registry tables. Consent items, signed consents and
// verifications are owned by their certificate and cascade with it.
const Schema = `
CREATE TABLE IF NOT EXISTS ca_clients (
	client_id     TEXT PRIMARY KEY,
	client_secret TEXT NOT NULL,
	org_code      VARCHAR(10) NOT NULL,
	org_name      TEXT NOT NULL,
	org_type      TEXT NOT NULL,
	scopes        TEXT[] NOT NULL DEFAULT '{}',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS certificates (
	cert_tx_id            VARCHAR(40) PRIMARY KEY,
	sign_tx_id            VARCHAR(49) NOT NULL,
	client_id             TEXT NOT NULL,
	user_ci               VARCHAR(100) NOT NULL,
	real_name             VARCHAR(30) NOT NULL,
	phone_num             VARCHAR(15) NOT NULL,
	request_title         VARCHAR(200) NOT NULL,
	device_code           VARCHAR(2) NOT NULL,
	device_browser        VARCHAR(2) NOT NULL,
	return_app_scheme_url TEXT NOT NULL DEFAULT '',
	consent_type          CHAR(1) NOT NULL,
	state                 TEXT NOT NULL,
	issued_at             TIMESTAMPTZ NOT NULL,
	expires_at            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS certificates_sign_tx_id_idx ON certificates (sign_tx_id);

CREATE TABLE IF NOT EXISTS consent_items (
	tx_id         VARCHAR(74) PRIMARY KEY,
	cert_tx_id    VARCHAR(40) NOT NULL REFERENCES certificates (cert_tx_id) ON DELETE CASCADE,
	position      INT NOT NULL,
	consent_title VARCHAR(100) NOT NULL,
	consent       VARCHAR(500) NOT NULL,
	consent_len   INT NOT NULL,
	consent_type  CHAR(1) NOT NULL
);

CREATE TABLE IF NOT EXISTS signed_consents (
	tx_id              VARCHAR(74) PRIMARY KEY REFERENCES consent_items (tx_id) ON DELETE CASCADE,
	cert_tx_id         VARCHAR(40) NOT NULL REFERENCES certificates (cert_tx_id) ON DELETE CASCADE,
	user_id            TEXT NOT NULL,
	signed_consent     TEXT NOT NULL,
	signed_consent_len INT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS consent_verifications (
	tx_id       VARCHAR(74) PRIMARY KEY REFERENCES consent_items (tx_id) ON DELETE CASCADE,
	cert_tx_id  VARCHAR(40) NOT NULL REFERENCES certificates (cert_tx_id) ON DELETE CASCADE,
	result      BOOLEAN NOT NULL,
	verified_at TIMESTAMPTZ NOT NULL,
	accessed_at TIMESTAMPTZ
);
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PostgresClientRepository implements ClientRepository
type PostgresClientRepository struct {
	db *sql.DB
}

func NewPostgresClientRepository(db *sql.DB) *PostgresClientRepository {
	return &PostgresClientRepository{db: db}
}

func (r *PostgresClientRepository) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	const q = `
SELECT client_id, client_secret, org_code, org_name, org_type, scopes
FROM ca_clients
WHERE client_id = $1
`
	var c models.Client
	err := r.db.QueryRowContext(ctx, q, clientID).Scan(
		&c.ClientID, &c.ClientSecret, &c.OrgCode, &c.OrgName, &c.OrgType, pq.Array(&c.Scopes),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresClientRepository) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	const q = `
SELECT DISTINCT ON (org_code) org_code, org_name, org_type, updated_at
FROM ca_clients
ORDER BY org_code, updated_at DESC
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.OrgCode, &o.OrgName, &o.OrgType, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertClients seeds the client registry.
func (r *PostgresClientRepository) UpsertClients(ctx context.Context, clients []models.Client) error {
	const q = `
INSERT INTO ca_clients (client_id, client_secret, org_code, org_name, org_type, scopes, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (client_id) DO UPDATE
SET client_secret = EXCLUDED.client_secret,
    org_code = EXCLUDED.org_code,
    org_name = EXCLUDED.org_name,
    org_type = EXCLUDED.org_type,
    scopes = EXCLUDED.scopes,
    updated_at = now()
`
	for _, c := range clients {
		if _, err := r.db.ExecContext(ctx, q, c.ClientID, c.ClientSecret, c.OrgCode, c.OrgName, c.OrgType, pq.Array(c.Scopes)); err != nil {
			return fmt.Errorf("upsert client %s: %w", c.ClientID, err)
		}
	}
	return nil
}

// PostgresCertificateRepository implements CertificateRepository
type PostgresCertificateRepository struct {
	db *sql.DB
}

func NewPostgresCertificateRepository(db *sql.DB) *PostgresCertificateRepository {
	return &PostgresCertificateRepository{db: db}
}

// consentItemsPKey is the primary key constraint on consent_items.tx_id.
const consentItemsPKey = "consent_items_pkey"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// violatedConstraint names the constraint of a unique violation.
func violatedConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint
	}
	return ""
}

func (r *PostgresCertificateRepository) CreateCertificate(ctx context.Context, cert *models.Certificate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const qc = `
INSERT INTO certificates (cert_tx_id, sign_tx_id, client_id, user_ci, real_name, phone_num, request_title,
	device_code, device_browser, return_app_scheme_url, consent_type, state, issued_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`
	_, err = tx.ExecContext(ctx, qc,
		cert.CertTxID, cert.SignTxID, cert.ClientID, cert.UserCI, cert.RealName, cert.PhoneNum, cert.RequestTitle,
		cert.DeviceCode, cert.DeviceBrowser, cert.ReturnAppSchemeURL, cert.ConsentType, string(cert.State),
		cert.IssuedAt, cert.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	const qi = `
INSERT INTO consent_items (tx_id, cert_tx_id, position, consent_title, consent, consent_len, consent_type)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	for i, item := range cert.ConsentItems {
		if _, err := tx.ExecContext(ctx, qi, item.TxID, cert.CertTxID, i, item.ConsentTitle, item.Consent, item.ConsentLen, item.ConsentType); err != nil {
			if violatedConstraint(err) == consentItemsPKey {
				return ErrDuplicateTxID
			}
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresCertificateRepository) GetCertificate(ctx context.Context, certTxID string) (*models.Certificate, error) {
	const q = `
SELECT cert_tx_id, sign_tx_id, client_id, user_ci, real_name, phone_num, request_title, device_code,
	device_browser, return_app_scheme_url, consent_type, state, issued_at, expires_at
FROM certificates
WHERE cert_tx_id = $1
`
	var c models.Certificate
	var state string
	err := r.db.QueryRowContext(ctx, q, certTxID).Scan(
		&c.CertTxID, &c.SignTxID, &c.ClientID, &c.UserCI, &c.RealName, &c.PhoneNum, &c.RequestTitle, &c.DeviceCode,
		&c.DeviceBrowser, &c.ReturnAppSchemeURL, &c.ConsentType, &state, &c.IssuedAt, &c.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.State = models.FlowState(state)

	if c.ConsentItems, err = r.consentItems(ctx, certTxID); err != nil {
		return nil, err
	}
	if c.SignedConsents, err = r.signedConsents(ctx, certTxID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresCertificateRepository) consentItems(ctx context.Context, certTxID string) ([]models.ConsentItem, error) {
	const q = `
SELECT tx_id, consent_title, consent, consent_len, consent_type
FROM consent_items
WHERE cert_tx_id = $1
ORDER BY position
`
	rows, err := r.db.QueryContext(ctx, q, certTxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ConsentItem
	for rows.Next() {
		var it models.ConsentItem
		if err := rows.Scan(&it.TxID, &it.ConsentTitle, &it.Consent, &it.ConsentLen, &it.ConsentType); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *PostgresCertificateRepository) signedConsents(ctx context.Context, certTxID string) ([]models.SignedConsent, error) {
	const q = `
SELECT s.tx_id, s.cert_tx_id, s.user_id, s.signed_consent, s.signed_consent_len, s.created_at
FROM signed_consents s
JOIN consent_items i ON i.tx_id = s.tx_id
WHERE s.cert_tx_id = $1
ORDER BY i.position
`
	rows, err := r.db.QueryContext(ctx, q, certTxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SignedConsent
	for rows.Next() {
		var s models.SignedConsent
		if err := rows.Scan(&s.TxID, &s.CertTxID, &s.UserID, &s.SignedConsent, &s.SignedConsentLen, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// transition performs the conditional state update inside tx.
func transition(ctx context.Context, tx *sql.Tx, certTxID string, from []models.FlowState, to models.FlowState) error {
	const q = `
UPDATE certificates
SET state = $2
WHERE cert_tx_id = $1 AND state = ANY($3)
`
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	res, err := tx.ExecContext(ctx, q, certTxID, string(to), pq.Array(states))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateConflict
	}
	return nil
}

func (r *PostgresCertificateRepository) AttachSignedConsents(ctx context.Context, certTxID string, signed []models.SignedConsent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := transition(ctx, tx, certTxID, []models.FlowState{models.StateConsentRequested}, models.StateConsentSigned); err != nil {
		return err
	}

	const q = `
INSERT INTO signed_consents (tx_id, cert_tx_id, user_id, signed_consent, signed_consent_len, created_at)
VALUES ($1,$2,$3,$4,$5,COALESCE($6, now()))
`
	for _, s := range signed {
		_, err := tx.ExecContext(ctx, q, s.TxID, certTxID, s.UserID, s.SignedConsent, s.SignedConsentLen,
			sql.NullTime{Time: s.CreatedAt, Valid: !s.CreatedAt.IsZero()})
		if err != nil {
			if isUniqueViolation(err) {
				return ErrStateConflict
			}
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresCertificateRepository) RecordVerification(ctx context.Context, v models.Verification) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const owner = `
SELECT 1 FROM consent_items WHERE tx_id = $1 AND cert_tx_id = $2
`
	var one int
	if err := tx.QueryRowContext(ctx, owner, v.TxID, v.CertTxID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStateConflict
		}
		return err
	}

	// a passed verification is never taken back
	const q = `
INSERT INTO consent_verifications (tx_id, cert_tx_id, result, verified_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tx_id) DO UPDATE
SET result = consent_verifications.result OR EXCLUDED.result,
	verified_at = CASE WHEN consent_verifications.result THEN consent_verifications.verified_at ELSE EXCLUDED.verified_at END
`
	if _, err := tx.ExecContext(ctx, q, v.TxID, v.CertTxID, v.Result, v.VerifiedAt); err != nil {
		return err
	}
	if v.Result {
		err := transition(ctx, tx, v.CertTxID, []models.FlowState{models.StateConsentSigned}, models.StateConsentVerified)
		if err != nil && !errors.Is(err, ErrStateConflict) {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresCertificateRepository) GetVerification(ctx context.Context, txID string) (*models.Verification, error) {
	const q = `
SELECT tx_id, cert_tx_id, result, verified_at, accessed_at
FROM consent_verifications
WHERE tx_id = $1
`
	var v models.Verification
	var accessed sql.NullTime
	err := r.db.QueryRowContext(ctx, q, txID).Scan(&v.TxID, &v.CertTxID, &v.Result, &v.VerifiedAt, &accessed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if accessed.Valid {
		v.AccessedAt = &accessed.Time
	}
	return &v, nil
}

func (r *PostgresCertificateRepository) MarkAccessed(ctx context.Context, certTxID, txID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
UPDATE consent_verifications
SET accessed_at = $3
WHERE tx_id = $1 AND cert_tx_id = $2 AND result
`
	res, err := tx.ExecContext(ctx, q, txID, certTxID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrStateConflict
	}
	if err := transition(ctx, tx, certTxID,
		[]models.FlowState{models.StateConsentVerified, models.StateTerminal}, models.StateTerminal); err != nil {
		return err
	}
	return tx.Commit()
}

var (
	_ ClientRepository      = (*PostgresClientRepository)(nil)
	_ CertificateRepository = (*PostgresCertificateRepository)(nil)
)

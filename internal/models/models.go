package models

import (
	"time"
)

// Client is a registered OAuth client belonging to an organization.
type Client struct {
	ClientID     string   `db:"client_id" yaml:"client_id" json:"client_id"`
	ClientSecret string   `db:"client_secret" yaml:"client_secret" json:"client_secret"`
	OrgCode      string   `db:"org_code" yaml:"org_code" json:"org_code"`
	OrgName      string   `db:"org_name" yaml:"org_name" json:"org_name"`
	OrgType      string   `db:"org_type" yaml:"org_type" json:"org_type"` // bank, card, fintech, ca
	Scopes       []string `db:"scopes" yaml:"scopes" json:"scopes"`
}

// AllowsScope reports whether the client may be issued scope.
func (c *Client) AllowsScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Organization is the public view of a participant returned by org discovery.
type Organization struct {
	OrgCode   string    `db:"org_code" json:"org_code"`
	OrgName   string    `db:"org_name" json:"org_name"`
	OrgType   string    `db:"org_type" json:"org_type"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// Certificate is created by a consent sign request and owns its consent items
// and signed consents.
type Certificate struct {
	CertTxID           string    `db:"cert_tx_id" json:"cert_tx_id"`
	SignTxID           string    `db:"sign_tx_id" json:"sign_tx_id"`
	ClientID           string    `db:"client_id" json:"client_id"`
	UserCI             string    `db:"user_ci" json:"user_ci"`
	RealName           string    `db:"real_name" json:"real_name"`
	PhoneNum           string    `db:"phone_num" json:"phone_num"`
	RequestTitle       string    `db:"request_title" json:"request_title"`
	DeviceCode         string    `db:"device_code" json:"device_code"`
	DeviceBrowser      string    `db:"device_browser" json:"device_browser"`
	ReturnAppSchemeURL string    `db:"return_app_scheme_url" json:"return_app_scheme_url,omitempty"`
	ConsentType        string    `db:"consent_type" json:"consent_type"`
	State              FlowState `db:"state" json:"state"`
	IssuedAt           time.Time `db:"issued_at" json:"issued_at"`
	ExpiresAt          time.Time `db:"expires_at" json:"expires_at"`

	ConsentItems   []ConsentItem   `db:"-" json:"consent_list"`
	SignedConsents []SignedConsent `db:"-" json:"signed_consent_list,omitempty"`
}

// CertificateValidity is the lifetime of an issued certificate.
const CertificateValidity = 365 * 24 * time.Hour

// Item returns the consent item with txID.
func (c *Certificate) Item(txID string) (*ConsentItem, bool) {
	for i := range c.ConsentItems {
		if c.ConsentItems[i].TxID == txID {
			return &c.ConsentItems[i], true
		}
	}
	return nil, false
}

// ConsentItem is immutable once its certificate is created.
type ConsentItem struct {
	TxID         string `db:"tx_id" json:"tx_id"`
	ConsentTitle string `db:"consent_title" json:"consent_title"`
	Consent      string `db:"consent" json:"consent"`
	ConsentLen   int    `db:"consent_len" json:"consent_len"`
	ConsentType  string `db:"consent_type" json:"consent_type"`
}

// SignedConsent is produced exactly once per ConsentItem.
type SignedConsent struct {
	TxID             string    `db:"tx_id" json:"tx_id"`
	CertTxID         string    `db:"cert_tx_id" json:"-"`
	UserID           string    `db:"user_id" json:"-"`
	SignedConsent    string    `db:"signed_consent" json:"signed_consent"`
	SignedConsentLen int       `db:"signed_consent_len" json:"signed_consent_len"`
	CreatedAt        time.Time `db:"created_at" json:"-"`
}

// Verification records the outcome of a signed consent verification.
type Verification struct {
	TxID       string     `db:"tx_id"`
	CertTxID   string     `db:"cert_tx_id"`
	Result     bool       `db:"result"`
	VerifiedAt time.Time  `db:"verified_at"`
	AccessedAt *time.Time `db:"accessed_at"`
}

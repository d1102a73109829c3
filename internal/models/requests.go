package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// NumString accepts a JSON number or string and keeps its textual form so the
// field table can report a wrong type instead of a decode failure.
type NumString string

func (n *NumString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = NumString(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	*n = NumString(b)
	return nil
}

func (n NumString) Int() (int, error) { return strconv.Atoi(string(n)) }

// TokenRequest is the client credentials grant of Support001 and IA101.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
}

func (r *TokenRequest) FieldValues() map[string]string {
	return map[string]string{
		"grant_type":    r.GrantType,
		"client_id":     r.ClientID,
		"client_secret": r.ClientSecret,
		"scope":         r.Scope,
	}
}

type TokenResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// ConsentRequestItem is one consent_list entry of a sign request.
type ConsentRequestItem struct {
	TxID         string    `json:"tx_id"`
	ConsentTitle string    `json:"consent_title"`
	Consent      string    `json:"consent"`
	ConsentLen   NumString `json:"consent_len"`
}

func (r *ConsentRequestItem) FieldValues() map[string]string {
	return map[string]string{
		"tx_id":         r.TxID,
		"consent_title": r.ConsentTitle,
		"consent":       r.Consent,
		"consent_len":   string(r.ConsentLen),
	}
}

// SignRequest is the IA102 body.
type SignRequest struct {
	SignTxID           string               `json:"sign_tx_id"`
	UserCI             string               `json:"user_ci"`
	RealName           string               `json:"real_name"`
	PhoneNum           string               `json:"phone_num"`
	RequestTitle       string               `json:"request_title"`
	DeviceCode         string               `json:"device_code"`
	DeviceBrowser      string               `json:"device_browser"`
	ReturnAppSchemeURL string               `json:"return_app_scheme_url"`
	ConsentCnt         NumString            `json:"consent_cnt"`
	ConsentType        string               `json:"consent_type"`
	ConsentList        []ConsentRequestItem `json:"consent_list"`
}

func (r *SignRequest) FieldValues() map[string]string {
	return map[string]string{
		"sign_tx_id":            r.SignTxID,
		"user_ci":               r.UserCI,
		"real_name":             r.RealName,
		"phone_num":             r.PhoneNum,
		"request_title":         r.RequestTitle,
		"device_code":           r.DeviceCode,
		"device_browser":        r.DeviceBrowser,
		"return_app_scheme_url": r.ReturnAppSchemeURL,
		"consent_cnt":           string(r.ConsentCnt),
		"consent_type":          r.ConsentType,
	}
}

type SignResponse struct {
	CertTxID            string `json:"cert_tx_id"`
	SignIOSAppSchemeURL string `json:"sign_ios_app_scheme_url"`
	SignAOSAppSchemeURL string `json:"sign_aos_app_scheme_url"`
	SignWebURL          string `json:"sign_web_url"`
}

// SignResultRequest is the IA103 body.
type SignResultRequest struct {
	CertTxID string `json:"cert_tx_id"`
	SignTxID string `json:"sign_tx_id"`
}

func (r *SignResultRequest) FieldValues() map[string]string {
	return map[string]string{"cert_tx_id": r.CertTxID, "sign_tx_id": r.SignTxID}
}

type SignResultResponse struct {
	UserCI            string          `json:"user_ci"`
	SignedConsentCnt  int             `json:"signed_consent_cnt"`
	SignedConsentList []SignedConsent `json:"signed_consent_list"`
}

// VerifyRequest is the IA104 body.
type VerifyRequest struct {
	CertTxID         string    `json:"cert_tx_id"`
	TxID             string    `json:"tx_id"`
	SignedConsent    string    `json:"signed_consent"`
	SignedConsentLen NumString `json:"signed_consent_len"`
	Consent          string    `json:"consent"`
	ConsentType      string    `json:"consent_type"`
	ConsentLen       NumString `json:"consent_len"`
}

func (r *VerifyRequest) FieldValues() map[string]string {
	return map[string]string{
		"cert_tx_id":         r.CertTxID,
		"tx_id":              r.TxID,
		"signed_consent":     r.SignedConsent,
		"signed_consent_len": string(r.SignedConsentLen),
		"consent":            r.Consent,
		"consent_type":       r.ConsentType,
		"consent_len":        string(r.ConsentLen),
	}
}

type VerifyResponse struct {
	Result bool   `json:"result"`
	UserCI string `json:"user_ci,omitempty"`
}

// DataAccessRequest is the IA002 body.
type DataAccessRequest struct {
	TxID string `json:"tx_id"`
}

func (r *DataAccessRequest) FieldValues() map[string]string {
	return map[string]string{"tx_id": r.TxID}
}

type DataAccessResponse struct {
	TxID          string `json:"tx_id"`
	UserCI        string `json:"user_ci"`
	AccessGranted bool   `json:"access_granted"`
}

type OrgListResponse struct {
	SearchTimestamp string         `json:"search_timestamp"`
	OrgCnt          int            `json:"org_cnt"`
	OrgList         []Organization `json:"org_list"`
}

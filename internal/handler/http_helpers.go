package handler

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/models"
	"github.com/roastedbeans/certification-authority/internal/response"
	"github.com/roastedbeans/certification-authority/internal/validation"
)

const maxBodyBytes = 1 << 20

// readJSON reads the request body and decodes it into dst. It returns the
// raw bytes so callers can fingerprint them.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Field(apperr.TooLong, "body", apperr.CodeInvalidParameters)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return nil, apperr.Field(apperr.WrongType, "body", apperr.CodeInvalidParameters)
	}
	return body, nil
}

// readTokenRequest accepts the grant as a form or a JSON body.
func readTokenRequest(w http.ResponseWriter, r *http.Request) (*models.TokenRequest, error) {
	var req models.TokenRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, apperr.Field(apperr.WrongType, "body", apperr.CodeInvalidParameters)
		}
		req = models.TokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
			Scope:        r.PostForm.Get("scope"),
		}
		return &req, nil
	}
	if _, err := readJSON(w, r, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// checkTranID validates x-api-tran-id. Optional headers are only checked
// when present.
func checkTranID(v *validation.Validator, r *http.Request, required bool) error {
	id := r.Header.Get(response.HeaderAPITranID)
	if id == "" && !required {
		return nil
	}
	return v.APITranID(id)
}

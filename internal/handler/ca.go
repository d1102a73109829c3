package handler

import (
	"context"
	"net/http"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/auth"
	"github.com/roastedbeans/certification-authority/internal/models"
	"github.com/roastedbeans/certification-authority/internal/response"
	"github.com/roastedbeans/certification-authority/internal/service"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
	"github.com/roastedbeans/certification-authority/internal/validation"
)

// HeaderIdempotencyKey makes IA102 safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

// CAHandler serves the consent signing API.
type CAHandler struct {
	tokens      service.TokenService
	consent     service.ConsentService
	idempotency *service.Idempotency
	guard       *auth.Guard
	validator   *validation.Validator
}

func NewCAHandler(
	tokens service.TokenService,
	consent service.ConsentService,
	idempotency *service.Idempotency,
	guard *auth.Guard,
	v *validation.Validator,
) *CAHandler {
	return &CAHandler{tokens: tokens, consent: consent, idempotency: idempotency, guard: guard, validator: v}
}

// Token handles IA101, POST /oauth/token.
func (h *CAHandler) Token(w http.ResponseWriter, r *http.Request) {
	issueToken(w, r, h.tokens, h.validator, models.PhaseIA101)
}

// Revoke revokes the presented bearer token.
func (h *CAHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := h.guard.Revoke(r.Context(), claims); err != nil {
		response.Error(w, r, apperr.System(err, "revoke token"))
		return
	}
	logger.Infow("token revoked", "client_id", claims.ClientID, "jti", claims.ID)
	response.OK(w, r, nil)
}

// SignRequest handles IA102, POST /ca/sign_request. A repeated
// Idempotency-Key replays the first response.
func (h *CAHandler) SignRequest(w http.ResponseWriter, r *http.Request) {
	if err := checkTranID(h.validator, r, false); err != nil {
		response.Error(w, r, err)
		return
	}
	var req models.SignRequest
	body, err := readJSON(w, r, &req)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())

	out, replayed, err := h.idempotency.Do(r.Context(), claims.ClientID, r.Header.Get(HeaderIdempotencyKey), body,
		func(ctx context.Context) (*service.Outcome, error) {
			resp, err := h.consent.RequestSign(ctx, claims.ClientID, &req)
			if err != nil {
				return nil, err
			}
			rendered, err := response.Envelope(apperr.CodeSuccess, "", resp)
			if err != nil {
				return nil, apperr.System(err, "encode response")
			}
			return &service.Outcome{Status: http.StatusOK, Body: rendered}, nil
		})
	if err != nil {
		response.Error(w, r, err)
		return
	}
	if replayed {
		w.Header().Set(response.HeaderReplayed, "true")
	}
	response.Raw(w, r, out.Status, out.Body)
}

// SignResult handles IA103, POST /ca/sign_result.
func (h *CAHandler) SignResult(w http.ResponseWriter, r *http.Request) {
	var req models.SignResultRequest
	if !h.decode(w, r, &req) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	resp, err := h.consent.SignResult(r.Context(), claims.ClientID, &req)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, resp)
}

// Verify handles IA104, POST /ca/sign_verification.
func (h *CAHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.consent.Verify(r.Context(), &req)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, resp)
}

// DataAccess handles IA002, POST /ca/data_access.
func (h *CAHandler) DataAccess(w http.ResponseWriter, r *http.Request) {
	var req models.DataAccessRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.consent.DataAccess(r.Context(), &req)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, resp)
}

func (h *CAHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := checkTranID(h.validator, r, false); err != nil {
		response.Error(w, r, err)
		return false
	}
	if _, err := readJSON(w, r, dst); err != nil {
		response.Error(w, r, err)
		return false
	}
	return true
}

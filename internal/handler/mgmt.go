package handler

import (
	"net/http"

	"github.com/roastedbeans/certification-authority/internal/auth"
	"github.com/roastedbeans/certification-authority/internal/models"
	"github.com/roastedbeans/certification-authority/internal/response"
	"github.com/roastedbeans/certification-authority/internal/service"
	"github.com/roastedbeans/certification-authority/internal/validation"
)

// MgmtHandler serves the support API: management tokens and organization
// discovery.
type MgmtHandler struct {
	tokens    service.TokenService
	orgs      service.OrgService
	validator *validation.Validator
}

func NewMgmtHandler(tokens service.TokenService, orgs service.OrgService, v *validation.Validator) *MgmtHandler {
	return &MgmtHandler{tokens: tokens, orgs: orgs, validator: v}
}

// Token handles Support001, POST /mgmts/oauth/token.
func (h *MgmtHandler) Token(w http.ResponseWriter, r *http.Request) {
	issueToken(w, r, h.tokens, h.validator, models.PhaseSupport001)
}

// Orgs handles Support002, GET /mgmts/orgs.
func (h *MgmtHandler) Orgs(w http.ResponseWriter, r *http.Request) {
	if err := checkTranID(h.validator, r, true); err != nil {
		response.Error(w, r, err)
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	resp, err := h.orgs.ListOrganizations(r.Context(), claims.ClientID, r.URL.Query().Get("search_timestamp"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, resp)
}

func issueToken(w http.ResponseWriter, r *http.Request, tokens service.TokenService, v *validation.Validator, phase models.Phase) {
	if err := checkTranID(v, r, false); err != nil {
		response.Error(w, r, err)
		return
	}
	req, err := readTokenRequest(w, r)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	resp, err := tokens.IssueToken(r.Context(), phase, req)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, resp)
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/auth"
	"github.com/roastedbeans/certification-authority/internal/middleware"
	"github.com/roastedbeans/certification-authority/internal/response"
	"github.com/roastedbeans/certification-authority/internal/util"
)

// Handlers groups everything mounted on the router.
type Handlers struct {
	Mgmt   *MgmtHandler
	CA     *CAHandler
	Health *HealthHandler
	Guard  *auth.Guard
}

// Routes mounts the protocol and operations endpoints on r. Cross cutting
// middleware is installed by the caller.
func (h *Handlers) Routes(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		response.Error(w, req, apperr.Protocol(apperr.NotFound, apperr.CodeInvalidParameters, "unknown endpoint"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		response.EchoTranID(w, req)
		response.JSON(w, http.StatusMethodNotAllowed, map[string]string{
			"rsp_code": apperr.CodeInvalidParameters.RspCode(),
			"rsp_msg":  apperr.RspMsg(apperr.CodeInvalidParameters, "method not allowed"),
		})
	})

	r.Get("/healthz", h.Health.Live)
	r.Get("/readyz", h.Health.Ready)

	r.Post("/mgmts/oauth/token", h.Mgmt.Token)
	r.With(middleware.RequireScope(h.Guard, util.ScopeManage)).Get("/mgmts/orgs", h.Mgmt.Orgs)

	r.Post("/oauth/token", h.CA.Token)
	r.With(middleware.RequireScope(h.Guard, "")).Post("/oauth/revoke", h.CA.Revoke)

	r.Route("/ca", func(r chi.Router) {
		r.With(middleware.RequireScope(h.Guard, util.ScopeCA)).Post("/sign_request", h.CA.SignRequest)
		r.With(middleware.RequireScope(h.Guard, util.ScopeCA)).Post("/data_access", h.CA.DataAccess)

		// any valid token may collect and verify signatures
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(h.Guard, ""))
			r.Post("/sign_result", h.CA.SignResult)
			r.Post("/sign_verification", h.CA.Verify)
		})
	})
}

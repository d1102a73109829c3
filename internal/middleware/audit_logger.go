package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/roastedbeans/certification-authority/internal/response"
	"github.com/roastedbeans/certification-authority/internal/telemetry"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

// RejectionAudit logs every rejected request with its masked request and
// response bodies and publishes an AuditEvent. Client errors are logged at
// WARN, server errors at ERROR.
type RejectionAudit struct {
	Shipper telemetry.Publisher
}

func NewRejectionAudit(shipper telemetry.Publisher) *RejectionAudit {
	if shipper == nil {
		shipper = telemetry.Nop{}
	}
	return &RejectionAudit{Shipper: shipper}
}

func (m *RejectionAudit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqBody := readBody(r)
		cw := newCaptureWriter(w)

		// RequireScope further down the chain fills the holder
		ctx, holder := ensureHolder(r.Context())
		next.ServeHTTP(cw, r.WithContext(ctx))

		if cw.status < http.StatusBadRequest {
			return
		}
		ev := telemetry.AuditEvent{
			Timestamp:  start.UTC(),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     cw.status,
			DurationMs: time.Since(start).Milliseconds(),
			RspCode:    rspCode(cw.body.Bytes()),
			APITranID:  r.Header.Get(response.HeaderAPITranID),
			RequestID:  chimw.GetReqID(r.Context()),
			Request:    maskBody(reqBody, r.Header.Get("Content-Type")),
			Response:   maskBody(cw.body.Bytes(), "application/json"),
		}
		ev.ClientID = holder.get()

		kv := []any{
			"method", ev.Method,
			"path", ev.Path,
			"status", ev.Status,
			"rsp_code", ev.RspCode,
			"x_api_tran_id", ev.APITranID,
			"request_id", ev.RequestID,
			"client_id", ev.ClientID,
			"duration_ms", ev.DurationMs,
			"request", ev.Request,
			"response", ev.Response,
		}
		if cw.status >= http.StatusInternalServerError {
			logger.Errorw("request rejected", kv...)
		} else {
			logger.Warnw("request rejected", kv...)
		}
		m.Shipper.Publish(ev)
	})
}

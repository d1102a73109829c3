// Package response writes the CA response envelope.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/roastedbeans/certification-authority/internal/apperr"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

const (
	HeaderAPITranID = "x-api-tran-id"
	HeaderReplayed  = "Idempotency-Replayed"
)

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("encode response", "error", err)
	}
}

// Envelope merges rsp_code and rsp_msg into the fields of payload. payload
// must marshal to a JSON object or be nil.
func Envelope(code apperr.Code, detail string, payload any) ([]byte, error) {
	fields := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	fields["rsp_code"] = code.RspCode()
	fields["rsp_msg"] = apperr.RspMsg(code, detail)
	return json.Marshal(fields)
}

// EchoTranID copies x-api-tran-id from the request onto the response.
func EchoTranID(w http.ResponseWriter, r *http.Request) {
	if id := r.Header.Get(HeaderAPITranID); id != "" {
		w.Header().Set(HeaderAPITranID, id)
	}
}

// Raw writes an already rendered envelope.
func Raw(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	EchoTranID(w, r)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// OK writes a successful envelope around payload.
func OK(w http.ResponseWriter, r *http.Request, payload any) {
	body, err := Envelope(apperr.CodeSuccess, "", payload)
	if err != nil {
		Error(w, r, apperr.System(err, "encode response"))
		return
	}
	Raw(w, r, http.StatusOK, body)
}

// Error writes the envelope for err and returns the taxonomy error it used.
func Error(w http.ResponseWriter, r *http.Request, err error) *apperr.Error {
	e := apperr.From(err)
	detail := e.Field
	if detail == "" && e.Class != apperr.ClassSystem {
		detail = e.Msg
	}
	body, mErr := Envelope(e.Code, detail, nil)
	if mErr != nil {
		body = []byte(`{"rsp_code":"50001","rsp_msg":"SYSTEM_UNAVAILABLE"}`)
	}
	if e.Code == apperr.CodeUnauthorized || e.Code == apperr.CodeInvalidToken {
		w.Header().Set("WWW-Authenticate", `Bearer realm="ca"`)
	}
	Raw(w, r, e.HTTPStatus(), body)
	return e
}

package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/roastedbeans/certification-authority/internal/apperr"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("expected JSON body, got %q", rec.Body.String())
	}
	return m
}

func TestOKEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/mgmts/orgs", nil)
	req.Header.Set(HeaderAPITranID, "BANK000001MABCDEFGHIJKLMN")
	rec := httptest.NewRecorder()

	OK(rec, req, map[string]any{"org_cnt": 2})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get(HeaderAPITranID); got != "BANK000001MABCDEFGHIJKLMN" {
		t.Fatalf("expected echoed tran id, got %q", got)
	}
	m := decode(t, rec)
	if m["rsp_code"] != "00000" || m["rsp_msg"] != "SUCCESS" || m["org_cnt"] != float64(2) {
		t.Fatalf("unexpected body %v", m)
	}
}

func TestErrorEnvelope(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.Field(apperr.TooLong, "cert_tx_id", apperr.CodeInvalidCertTxID), 400, "40004"},
		{apperr.Auth(apperr.Unauthorized, "missing"), 401, "40101"},
		{apperr.Auth(apperr.Forbidden, "scope"), 403, "40301"},
		{apperr.Protocol(apperr.NotFound, "", "gone"), 404, "40401"},
		{apperr.Protocol(apperr.OutOfSequence, "", "early"), 409, "40901"},
		{http.ErrBodyNotAllowed, 500, "50001"},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		Error(rec, httptest.NewRequest(http.MethodPost, "/ca/sign_result", nil), c.err)
		if rec.Code != c.status {
			t.Fatalf("%v: expected %d, got %d", c.err, c.status, rec.Code)
		}
		m := decode(t, rec)
		if m["rsp_code"] != c.code {
			t.Fatalf("%v: expected rsp_code %s, got %v", c.err, c.code, m["rsp_code"])
		}
		if msg := m["rsp_msg"].(string); len([]rune(msg)) > apperr.MaxRspMsgLen {
			t.Fatalf("rsp_msg too long: %d", len(msg))
		}
	}
}

func TestErrorHidesSystemDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodPost, "/", nil), apperr.System(http.ErrHandlerTimeout, "db password=secret"))
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("expected system detail to stay out of the response, got %s", rec.Body.String())
	}
}

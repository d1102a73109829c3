package detection

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/roastedbeans/certification-authority/internal/util"
	"github.com/roastedbeans/certification-authority/internal/validation"
)

func newRequest(method, rawURL, body string, header map[string]string) *Request {
	u, _ := url.Parse(rawURL)
	h := http.Header{}
	for k, v := range header {
		h.Set(k, v)
	}
	return &Request{Method: method, Path: u.Path, Query: u.Query(), RawURL: rawURL, Header: h, Body: []byte(body)}
}

const fakeJWT = "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJiYW5rLTEifQ.c2ln"

func authed(extra map[string]string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + fakeJWT, "Content-Type": "application/json"}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func TestSignatureDetector(t *testing.T) {
	sig := NewSignature()
	tests := []struct {
		name   string
		req    *Request
		want   bool
		reason string
	}{
		{"benign", newRequest("GET", "/mgmts/orgs?search_timestamp=20260101000000", "", nil), false, ""},
		{"union select in query", newRequest("GET", "/mgmts/orgs?search_timestamp=1%20UNION%20SELECT%20*%20FROM%20users", "", nil), true, "SQL Injection"},
		{"tautology in body", newRequest("POST", "/ca/sign_result", `{"cert_tx_id":"x' OR '1'='1"}`, nil), true, "SQL Injection"},
		{"script tag", newRequest("POST", "/ca/sign_request", `{"real_name":"<script>alert(1)</script>"}`, nil), true, "Cross-Site Scripting"},
		{"path traversal", newRequest("GET", "/healthz/../../etc/passwd", "", nil), true, "Path Traversal"},
		{"command injection", newRequest("POST", "/ca/sign_request", `{"request_title":"x; cat /etc/hosts"}`, nil), true, "Command Injection"},
		{"comment alone", newRequest("POST", "/ca/sign_request", `{"request_title":"a -- b"}`, nil), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := sig.Inspect(tt.req)
			if v.Detected != tt.want {
				t.Fatalf("expected detected=%v, got %+v", tt.want, v)
			}
			if tt.reason != "" && !strings.Contains(v.Reason, tt.reason) {
				t.Fatalf("expected reason %q, got %q", tt.reason, v.Reason)
			}
		})
	}
}

func TestSignatureDedupesRuleNames(t *testing.T) {
	r := newRequest("POST", "/ca/sign_result", `{"a":"' OR '1'='1 UNION SELECT 1 --"}`, nil)
	v := NewSignature().Inspect(r)
	if v.Reason != "SQL Injection" {
		t.Fatalf("expected one SQL Injection hit, got %q", v.Reason)
	}
	if v.Score != 1 {
		t.Fatalf("expected full score, got %v", v.Score)
	}
}

func TestSignatureExtraAndDisabledRules(t *testing.T) {
	extra := &Rule{ID: "zz_custom", Name: "Custom", Enabled: true,
		Patterns: []Pattern{{Field: "headers", Expr: regexpMust(`evil-agent`), Weight: 1}}}
	off := &Rule{ID: "aa_off", Name: "Off", Enabled: false,
		Patterns: []Pattern{{Field: "*", Expr: regexpMust(`.`), Weight: 1}}}
	sig := NewSignature(extra, off)

	rules := sig.Rules()
	if rules[len(rules)-1].ID != "zz_custom" {
		t.Fatalf("expected rules sorted by id, got last %s", rules[len(rules)-1].ID)
	}
	for _, r := range rules {
		if r.ID == "aa_off" {
			t.Fatal("disabled rule returned")
		}
	}
	v := sig.Inspect(newRequest("GET", "/healthz", "", map[string]string{"User-Agent": "evil-agent/1.0"}))
	if !v.Detected || v.Reason != "Custom" {
		t.Fatalf("expected custom rule hit, got %+v", v)
	}
}

func TestSpecificationDetector(t *testing.T) {
	spec := NewSpecification(validation.New(), DefaultEndpoints())
	tranID := util.NewXAPITranID("BANK000001")
	signResult := `{"cert_tx_id":"` + util.NewCertTxID(fixedNow) + `","sign_tx_id":"BANK000001_CA00000001_20260101120000_ABCDEF123456"}`

	tests := []struct {
		name   string
		req    *Request
		reason string
	}{
		{"valid sign result", newRequest("POST", "/ca/sign_result", signResult, authed(nil)), ""},
		{"valid org search", newRequest("GET", "/mgmts/orgs?search_timestamp=20260101000000", "",
			authed(map[string]string{"x-api-tran-id": tranID})), ""},
		{"valid form token", newRequest("POST", "/oauth/token",
			"grant_type=client_credentials&client_id=bank-1&client_secret=s&scope=ca",
			map[string]string{"Content-Type": "application/x-www-form-urlencoded"}), ""},
		{"unknown endpoint", newRequest("GET", "/admin", "", nil), "unknown endpoint"},
		{"wrong method", newRequest("GET", "/ca/sign_result", "", authed(nil)), "not allowed"},
		{"missing bearer", newRequest("POST", "/ca/sign_result", signResult, map[string]string{"Content-Type": "application/json"}), "missing bearer"},
		{"malformed bearer", newRequest("POST", "/ca/sign_result", signResult,
			authed(map[string]string{"Authorization": "Bearer abc"})), "malformed bearer"},
		{"missing tran id", newRequest("GET", "/mgmts/orgs", "", authed(nil)), "x-api-tran-id"},
		{"query on post", newRequest("POST", "/ca/sign_result?debug=1", signResult, authed(nil)), "query"},
		{"wrong content type", newRequest("POST", "/ca/sign_result", signResult,
			authed(map[string]string{"Content-Type": "text/plain"})), "content type"},
		{"unknown body field", newRequest("POST", "/ca/sign_result", `{"cert_tx_id":"x","admin":true}`, authed(nil)), "malformed body"},
		{"invalid field", newRequest("POST", "/ca/sign_result", `{"cert_tx_id":"short","sign_tx_id":"x"}`, authed(nil)), "cert_tx_id"},
		{"extra form field", newRequest("POST", "/oauth/token", "grant_type=client_credentials&role=admin",
			map[string]string{"Content-Type": "application/x-www-form-urlencoded"}), "unexpected form field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := spec.Inspect(tt.req)
			if tt.reason == "" {
				if v.Detected {
					t.Fatalf("expected no violation, got %q", v.Reason)
				}
				return
			}
			if !v.Detected || !strings.Contains(v.Reason, tt.reason) {
				t.Fatalf("expected violation containing %q, got %+v", tt.reason, v)
			}
		})
	}
}

func TestInspectAllHybrid(t *testing.T) {
	sig := NewSignature()
	spec := NewSpecification(validation.New(), DefaultEndpoints())

	// signature only: valid shape with an injected value in an unchecked header
	r := newRequest("GET", "/healthz", "", map[string]string{"X-Note": "<script>alert(1)</script>"})
	got := InspectAll(sig, spec, r)
	if !got[TypeSignature].Detected || got[TypeSpecification].Detected || !got[TypeHybrid].Detected {
		t.Fatalf("unexpected verdicts %+v", got)
	}
	if !strings.HasPrefix(got[TypeHybrid].Reason, "Signature: ") {
		t.Fatalf("expected hybrid reason to name the detector, got %q", got[TypeHybrid].Reason)
	}

	// specification only
	got = InspectAll(sig, spec, newRequest("DELETE", "/ca/sign_request", "", nil))
	if got[TypeSignature].Detected || !got[TypeSpecification].Detected || !got[TypeHybrid].Detected {
		t.Fatalf("unexpected verdicts %+v", got)
	}

	// neither
	got = InspectAll(sig, spec, newRequest("GET", "/readyz", "", nil))
	for typ, v := range got {
		if v.Detected {
			t.Fatalf("%s flagged a benign request: %+v", typ, v)
		}
	}
}

var fixedNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func regexpMust(expr string) *regexp.Regexp { return regexp.MustCompile(expr) }

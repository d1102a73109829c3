package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/roastedbeans/certification-authority/internal/config"
	"github.com/roastedbeans/certification-authority/internal/detection"
)

const testConfig = `
env: test
auth:
  issuer: ca.test
  audience: mydata
  signing_key: 0123456789abcdef0123456789abcdef
clients:
  - client_id: bank-1
    client_secret: bank-secret
    org_code: BANK000001
    org_name: First Bank
    org_type: bank
    scopes: [manage, ca]
rate_limit:
  enabled: true
  rps: 100
  burst: 100
  anomaly_threshold: 2
`

func TestBuildServesThroughMiddleware(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Detection.Enabled = true
	cfg.Detection.LogDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	a, err := Build(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"bank-1"},
		"client_secret": {"bank-secret"},
		"scope":         {"manage"},
	}
	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/mgmts/oauth/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		a.Handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatal("expected security headers")
		}
	}
	if codes[0] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected token then throttling, got %v", codes)
	}

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"signer"`) {
		t.Fatalf("unexpected readiness %d %s", rec.Code, rec.Body.String())
	}

	a.Limiter.Flush(true)
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	src := detection.SourcesIn(cfg.Detection.LogDir)
	gt, err := detection.ReadGroundTruth(context.Background(), src.GroundTruth, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(gt) != 4 {
		t.Fatalf("expected every request in ground truth, got %d", len(gt))
	}
	windows, err := detection.ReadRateLimitLog(context.Background(), src.RateLimit, 0)
	if err != nil {
		t.Fatal(err)
	}
	var anomalies int
	for _, w := range windows {
		if w.Anomaly() {
			anomalies++
		}
	}
	if anomalies != 1 {
		t.Fatalf("expected one anomalous window, got %+v", windows)
	}
}

func TestBuildRequiresRedisURL(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Flow.Store = "redis"
	if _, err := Build(context.Background(), cfg, "test"); err == nil {
		t.Fatal("expected missing redis_url to fail")
	}
}

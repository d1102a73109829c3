package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/fatih/color"

	"github.com/roastedbeans/certification-authority/internal/config"
	"github.com/roastedbeans/certification-authority/internal/detection"
)

func writeLog(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// logDir holds two attacks in four requests; every detector flags the
// first two rows.
func logDir(t *testing.T, withRateLimit bool) string {
	t.Helper()
	dir := t.TempDir()
	writeLog(t, dir, detection.FileGroundTruth, strings.Join(detection.GroundTruthColumns, ","),
		"t1,SQL Injection,POST,/ca/sign_request,400,r1",
		"t2,,POST,/oauth/token,200,r2",
		"t3,XSS,POST,/ca/sign_result,400,r3",
		"t4,,GET,/mgmts/orgs,200,r4",
	)
	for name, typ := range map[string]string{
		detection.FileSignature:     detection.TypeSignature,
		detection.FileSpecification: detection.TypeSpecification,
		detection.FileHybrid:        detection.TypeHybrid,
	} {
		writeLog(t, dir, name, strings.Join(detection.DetectionColumns, ","),
			"t1,"+typ+",true,sql,,,r1",
			"t2,"+typ+",true,odd,,,r2",
			"t3,"+typ+",false,,,,r3",
			"t4,"+typ+",false,,,,r4",
		)
	}
	if withRateLimit {
		writeLog(t, dir, detection.FileRateLimit, strings.Join(detection.RateLimitColumns, ","),
			"s1,e1,true,burst exceeded,120,bank-1,/ca/sign_request",
		)
	}
	return dir
}

func TestParseFlags(t *testing.T) {
	dir := logDir(t, false)
	o, err := parseFlags([]string{"-dir", dir, "-hybrid", "/elsewhere.csv"})
	if err != nil {
		t.Fatal(err)
	}
	if o.sources.GroundTruth != filepath.Join(dir, detection.FileGroundTruth) {
		t.Fatalf("unexpected ground truth path %q", o.sources.GroundTruth)
	}
	if o.sources.Hybrid != "/elsewhere.csv" {
		t.Fatalf("explicit path lost: %q", o.sources.Hybrid)
	}
	if o.sources.RateLimit != "" {
		t.Fatalf("absent rate limit log should be skipped, got %q", o.sources.RateLimit)
	}

	if _, err := parseFlags(nil); err == nil {
		t.Fatal("expected missing sources to fail")
	}
	if _, err := parseFlags([]string{"-dir", dir, "-correlate", "time"}); err == nil {
		t.Fatal("expected unknown correlation to fail")
	}
}

func TestRunRendersReport(t *testing.T) {
	o, err := parseFlags([]string{"-dir", logDir(t, true), "-no-color"})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := run(context.Background(), o, &out); err != nil {
		t.Fatal(err)
	}
	report := out.String()
	for _, want := range []string{"requests 4  attacks 2", "Signature", "50.0%", "SQL Injection", "anomalous 1", "bank-1"} {
		if !strings.Contains(report, want) {
			t.Errorf("report misses %q:\n%s", want, report)
		}
	}
}

func TestRunJSON(t *testing.T) {
	o, err := parseFlags([]string{"-dir", logDir(t, false), "-json", "-correlate", "request_id"})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := run(context.Background(), o, &out); err != nil {
		t.Fatal(err)
	}
	var s detection.Summary
	if err := json.Unmarshal(out.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if s.Correlation != detection.CorrelateRequestID || len(s.Detectors) != 3 || s.RateLimit != nil {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestRenderHighlightsMissedAttacks(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	renderSummary(&out, &detection.Summary{Correlation: "position", TotalRequests: 1, TotalAttacks: 1, MissedAttacks: 1})
	if !strings.Contains(out.String(), "missed by every detector 1") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}

type fakeStore struct {
	headErr   error
	createErr error
	created   int
	puts      map[string][]byte
}

func (f *fakeStore) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeStore) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created++
	return &s3.CreateBucketOutput{}, f.createErr
}

func (f *fakeStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveEnsureBucket(t *testing.T) {
	ctx := context.Background()

	present := &fakeStore{}
	if err := newArchive(present, "reports", "p").EnsureBucket(ctx); err != nil || present.created != 0 {
		t.Fatalf("existing bucket: err=%v created=%d", err, present.created)
	}

	raced := &fakeStore{
		headErr:   errors.New("not found"),
		createErr: &smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou"},
	}
	if err := newArchive(raced, "reports", "p").EnsureBucket(ctx); err != nil {
		t.Fatalf("owned bucket should be accepted: %v", err)
	}

	denied := &fakeStore{
		headErr:   errors.New("not found"),
		createErr: &smithy.GenericAPIError{Code: "AccessDenied"},
	}
	if err := newArchive(denied, "reports", "p").EnsureBucket(ctx); err == nil {
		t.Fatal("expected access denied to surface")
	}
}

func TestArchivePut(t *testing.T) {
	store := &fakeStore{}
	at := time.Date(2025, 3, 7, 23, 30, 0, 0, time.FixedZone("KST", 9*3600))
	key, err := newArchive(store, "reports", "detection-reports").Put(context.Background(), &detection.Summary{GeneratedAt: at, TotalRequests: 9})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key, "detection-reports/2025/03/07/summary-") || !strings.HasSuffix(key, ".json") {
		t.Fatalf("unexpected key %q", key)
	}
	var s detection.Summary
	if err := json.Unmarshal(store.puts[key], &s); err != nil || s.TotalRequests != 9 {
		t.Fatalf("stored summary %s, err %v", store.puts[key], err)
	}
}

func TestNewArchiveNeedsBucket(t *testing.T) {
	if NewArchive(config.ArchiveConfig{}) != nil {
		t.Fatal("expected no archive without a bucket")
	}
	if NewArchive(config.ArchiveConfig{Bucket: "reports", Endpoint: "http://localhost:9000"}) == nil {
		t.Fatal("expected an archive")
	}
}

package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/pressfold/magarchive/internal/config"
	"github.com/pressfold/magarchive/internal/pdfmeta"
	"github.com/pressfold/magarchive/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		InternalSharedSecret:  "0123456789abcdef0123456789abcdef",
		MaxJSONBodyBytes:      1 << 20,
		DefaultPageSize:       25,
		MaxPageSize:           200,
		RateLimitEvery:        time.Millisecond,
		RateLimitBurst:        1000,
		HealthDegradeRatio:    0.9,
		MaxConcurrentRequests: 10,
	}
}

func TestInternalAuthRejectsMissingHeader(t *testing.T) {
	cfg = testConfig()
	h := withInternalAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/records", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestInternalAuthRejectsWrongSecret(t *testing.T) {
	cfg = testConfig()
	h := withInternalAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/records", nil)
	req.Header.Set("X-Internal-Auth", "wrong")
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestInternalAuthAllowsCorrectSecret(t *testing.T) {
	cfg = testConfig()
	h := withInternalAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/records", nil)
	req.Header.Set("X-Internal-Auth", cfg.InternalSharedSecret)
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"x","bogus":1}`))
	if _, err := parseJSON[nameRequest](req, 1<<20); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestParseJSONRejectsTrailingData(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"x"}{"name":"y"}`))
	if _, err := parseJSON[nameRequest](req, 1<<20); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestParseJSONAccepts(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"jazz"}`))
	got, err := parseJSON[nameRequest](req, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "jazz" {
		t.Fatalf("expected jazz, got %q", got.Name)
	}
}

func TestSanitizeErrorMasksTempPaths(t *testing.T) {
	err := os.ErrNotExist
	msg := sanitizeError(&os.PathError{Op: "open", Path: os.TempDir() + "/secret.pdf", Err: err})
	if strings.Contains(msg, os.TempDir()) {
		t.Fatalf("temp dir leaked: %q", msg)
	}
	if !strings.Contains(msg, "[tmp]") {
		t.Fatalf("expected [tmp] placeholder: %q", msg)
	}
}

func TestParseRecordFilterClampsLimit(t *testing.T) {
	cfg = testConfig()
	req := httptest.NewRequest("GET", "/api/records?limit=9999&offset=-5", nil)
	f := parseRecordFilter(req)
	if f.Limit != cfg.MaxPageSize {
		t.Fatalf("expected limit clamped to %d, got %d", cfg.MaxPageSize, f.Limit)
	}
	if f.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", f.Offset)
	}
}

func TestParseRecordFilterDefaults(t *testing.T) {
	cfg = testConfig()
	req := httptest.NewRequest("GET", "/api/records", nil)
	f := parseRecordFilter(req)
	if f.Limit != cfg.DefaultPageSize {
		t.Fatalf("expected default limit %d, got %d", cfg.DefaultPageSize, f.Limit)
	}
	if f.NeedsReview != nil {
		t.Fatal("expected nil needsReview")
	}
}

func TestParseRecordFilterParsesLists(t *testing.T) {
	cfg = testConfig()
	req := httptest.NewRequest("GET", "/api/records?tags=a,b&authors=c&yearFrom=1960&yearTo=1969&needsReview=true", nil)
	f := parseRecordFilter(req)
	if len(f.TagIDs) != 2 || f.TagIDs[1] != "b" {
		t.Fatalf("bad tag ids: %v", f.TagIDs)
	}
	if len(f.AuthorIDs) != 1 {
		t.Fatalf("bad author ids: %v", f.AuthorIDs)
	}
	if f.YearFrom != 1960 || f.YearTo != 1969 {
		t.Fatalf("bad year range: %d-%d", f.YearFrom, f.YearTo)
	}
	if f.NeedsReview == nil || !*f.NeedsReview {
		t.Fatal("expected needsReview=true")
	}
}

func TestWriteStoreErrMapsValidationTo400(t *testing.T) {
	rec := httptest.NewRecorder()
	writeStoreErr(rec, errors.Wrap(store.ErrValidation, "end page 99 exceeds issue page count 64"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "validation_failed") {
		t.Fatalf("expected validation_failed code: %s", rec.Body.String())
	}
}

func TestOverlapWarnings(t *testing.T) {
	left := pdfmeta.CropRect{X: 0, Y: 0, W: 0.45, H: 1}
	right := pdfmeta.CropRect{X: 0.55, Y: 0, W: 0.45, H: 1}

	warnings := overlapWarnings([]splitArticle{
		{Title: "A", StartPage: 1, EndPage: 5},
		{Title: "B", StartPage: 5, EndPage: 8},
		{Title: "C", StartPage: 20, EndPage: 24},
	})
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
	if !strings.Contains(warnings[0], "pages 5-5") {
		t.Fatalf("expected shared page 5 in warning, got %q", warnings[0])
	}

	// Same pages but disjoint column crops: nothing to report.
	warnings = overlapWarnings([]splitArticle{
		{Title: "A", StartPage: 1, EndPage: 3, Crop: &left},
		{Title: "B", StartPage: 1, EndPage: 3, Crop: &right},
	})
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestGetClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := getClientIP(req); ip != "203.0.113.9" {
		t.Fatalf("expected 203.0.113.9, got %q", ip)
	}
}

func TestGetClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if ip := getClientIP(req); ip != "10.0.0.1" {
		t.Fatalf("expected 10.0.0.1, got %q", ip)
	}
}

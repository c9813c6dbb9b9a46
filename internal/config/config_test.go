package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.OCRModel != "mistral-ocr-latest" {
		t.Fatalf("unexpected default OCR model %q", cfg.OCRModel)
	}
	if cfg.DefaultPageSize != 25 || cfg.MaxPageSize != 200 {
		t.Fatalf("unexpected pagination defaults %d/%d", cfg.DefaultPageSize, cfg.MaxPageSize)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "port: \"9000\"\nocrModel: file-model\nrateLimitBurst: 7\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MAGARCHIVE_CONFIG", path)
	t.Setenv("OCR_MODEL", "env-model")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Fatalf("expected file port 9000, got %q", cfg.Port)
	}
	if cfg.OCRModel != "env-model" {
		t.Fatalf("expected env to win, got %q", cfg.OCRModel)
	}
	if cfg.RateLimitBurst != 7 {
		t.Fatalf("expected file burst 7, got %d", cfg.RateLimitBurst)
	}
}

func TestValidateRejectsShortSecret(t *testing.T) {
	cfg := Load()
	cfg.InternalSharedSecret = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestValidateAcceptsLongSecret(t *testing.T) {
	cfg := Load()
	cfg.InternalSharedSecret = "0123456789abcdef0123456789abcdef"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestEnvDurationParsing(t *testing.T) {
	t.Setenv("DOWNLOAD_TIMEOUT", "90s")
	cfg := Load()
	if cfg.DownloadTimeout != 90*time.Second {
		t.Fatalf("expected 90s, got %v", cfg.DownloadTimeout)
	}
}

func TestEnvBadValuesFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("READ_TIMEOUT", "-5s")
	cfg := Load()
	if cfg.RateLimitBurst != 20 {
		t.Fatalf("expected fallback burst 20, got %d", cfg.RateLimitBurst)
	}
	if cfg.ReadTimeout != 120*time.Second {
		t.Fatalf("expected fallback read timeout, got %v", cfg.ReadTimeout)
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port    string `yaml:"port"`
	DataDir string `yaml:"dataDir"`
	DBPath  string `yaml:"dbPath"`

	// Secrets
	InternalSharedSecret string `yaml:"internalSharedSecret"`
	OCRAPIKey            string `yaml:"ocrApiKey"`
	CompressAPIKey       string `yaml:"compressApiKey"`
	BlobAPIKey           string `yaml:"blobApiKey"`
	BlobSigningSecret    string `yaml:"blobSigningSecret"`
	OpenAIAPIKey         string `yaml:"openaiApiKey"`

	// External endpoints
	OCRAPIURL      string `yaml:"ocrApiUrl"`
	OCRModel       string `yaml:"ocrModel"`
	CompressAPIURL string `yaml:"compressApiUrl"`
	BlobBaseURL    string `yaml:"blobBaseUrl"`
	OpenAIBaseURL  string `yaml:"openaiBaseUrl"`
	OpenAIModel    string `yaml:"openaiModel"`

	// Limits
	MaxJSONBodyBytes int64 `yaml:"maxJsonBodyBytes"`
	MaxPDFBytes      int64 `yaml:"maxPdfBytes"`
	MaxUploadBytes   int64 `yaml:"maxUploadBytes"`
	MaxDraftChars    int   `yaml:"maxDraftChars"`

	// Concurrency
	MaxConcurrentRequests int64 `yaml:"maxConcurrentRequests"`
	MaxOCRConcurrent      int64 `yaml:"maxOcrConcurrent"`
	OCRWorkers            int   `yaml:"ocrWorkers"`

	// Server timeouts
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`

	// Request / external timeouts
	OCRJobTimeout     time.Duration `yaml:"ocrJobTimeout"`
	DownloadTimeout   time.Duration `yaml:"downloadTimeout"`
	CompressTimeout   time.Duration `yaml:"compressTimeout"`
	BlobTimeout       time.Duration `yaml:"blobTimeout"`
	DraftTimeout      time.Duration `yaml:"draftTimeout"`
	SignedURLLifetime time.Duration `yaml:"signedUrlLifetime"`

	// Rate limiting (per IP)
	RateLimitEvery time.Duration `yaml:"rateLimitEvery"`
	RateLimitBurst int           `yaml:"rateLimitBurst"`

	// Housekeeping
	CleanupInterval time.Duration `yaml:"cleanupInterval"`

	// Health
	HealthDegradeRatio float64 `yaml:"healthDegradeRatio"`

	// HTTP
	MaxHeaderBytes int `yaml:"maxHeaderBytes"`

	// Pagination
	DefaultPageSize int `yaml:"defaultPageSize"`
	MaxPageSize     int `yaml:"maxPageSize"`

	// OCR quality defaults
	MinWordsThreshold int `yaml:"minWordsThreshold"`
	CompressRetries   int `yaml:"compressRetries"`
}

// Load builds the config from the environment. When MAGARCHIVE_CONFIG points
// at a YAML file its values seed the defaults first, so env vars always win.
func Load() Config {
	base := fileDefaults()

	return Config{
		Port:    envStr("PORT", def(base.Port, "8080")),
		DataDir: envStr("DATA_DIR", def(base.DataDir, "data")),
		DBPath:  envStr("DB_PATH", def(base.DBPath, "data/magarchive.db")),

		InternalSharedSecret: envStr("INTERNAL_SHARED_SECRET", base.InternalSharedSecret),
		OCRAPIKey:            envStr("OCR_API_KEY", base.OCRAPIKey),
		CompressAPIKey:       envStr("COMPRESS_API_KEY", base.CompressAPIKey),
		BlobAPIKey:           envStr("BLOB_API_KEY", base.BlobAPIKey),
		BlobSigningSecret:    envStr("BLOB_SIGNING_SECRET", base.BlobSigningSecret),
		OpenAIAPIKey:         envStr("OPENAI_API_KEY", base.OpenAIAPIKey),

		OCRAPIURL:      envStr("OCR_API_URL", def(base.OCRAPIURL, "https://api.mistral.ai/v1/ocr")),
		OCRModel:       envStr("OCR_MODEL", def(base.OCRModel, "mistral-ocr-latest")),
		CompressAPIURL: envStr("COMPRESS_API_URL", def(base.CompressAPIURL, "https://api.ilovepdf.com/v1")),
		BlobBaseURL:    envStr("BLOB_BASE_URL", base.BlobBaseURL),
		OpenAIBaseURL:  envStr("OPENAI_BASE_URL", base.OpenAIBaseURL),
		OpenAIModel:    envStr("OPENAI_MODEL", def(base.OpenAIModel, "gpt-4o-mini")),

		MaxJSONBodyBytes: int64(envInt("MAX_JSON_BODY_BYTES", defInt(int(base.MaxJSONBodyBytes), 2<<20))),
		MaxPDFBytes:      int64(envInt("MAX_PDF_BYTES", defInt(int(base.MaxPDFBytes), 200<<20))),
		MaxUploadBytes:   int64(envInt("MAX_UPLOAD_BYTES", defInt(int(base.MaxUploadBytes), 250<<20))),
		MaxDraftChars:    envInt("MAX_DRAFT_CHARS", defInt(base.MaxDraftChars, 24000)),

		MaxConcurrentRequests: int64(envInt("MAX_CONCURRENT_REQUESTS", defInt(int(base.MaxConcurrentRequests), 15))),
		MaxOCRConcurrent:      int64(envInt("MAX_OCR_CONCURRENT", defInt(int(base.MaxOCRConcurrent), 3))),
		OCRWorkers:            envInt("OCR_WORKERS", defInt(base.OCRWorkers, 2)),

		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", defDur(base.ReadHeaderTimeout, 10*time.Second)),
		ReadTimeout:       envDur("READ_TIMEOUT", defDur(base.ReadTimeout, 120*time.Second)),
		WriteTimeout:      envDur("WRITE_TIMEOUT", defDur(base.WriteTimeout, 180*time.Second)),
		IdleTimeout:       envDur("IDLE_TIMEOUT", defDur(base.IdleTimeout, 60*time.Second)),

		OCRJobTimeout:     envDur("OCR_JOB_TIMEOUT", defDur(base.OCRJobTimeout, 600*time.Second)),
		DownloadTimeout:   envDur("DOWNLOAD_TIMEOUT", defDur(base.DownloadTimeout, 60*time.Second)),
		CompressTimeout:   envDur("COMPRESS_TIMEOUT", defDur(base.CompressTimeout, 180*time.Second)),
		BlobTimeout:       envDur("BLOB_TIMEOUT", defDur(base.BlobTimeout, 120*time.Second)),
		DraftTimeout:      envDur("DRAFT_TIMEOUT", defDur(base.DraftTimeout, 60*time.Second)),
		SignedURLLifetime: envDur("SIGNED_URL_LIFETIME", defDur(base.SignedURLLifetime, 15*time.Minute)),

		RateLimitEvery: envDur("RATE_LIMIT_EVERY", defDur(base.RateLimitEvery, 600*time.Millisecond)),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", defInt(base.RateLimitBurst, 20)),

		CleanupInterval: envDur("CLEANUP_INTERVAL", defDur(base.CleanupInterval, 5*time.Minute)),

		HealthDegradeRatio: envFloat("HEALTH_DEGRADE_RATIO", defFloat(base.HealthDegradeRatio, 0.9)),

		MaxHeaderBytes: envInt("MAX_HEADER_BYTES", defInt(base.MaxHeaderBytes, 1<<20)),

		DefaultPageSize: envInt("DEFAULT_PAGE_SIZE", defInt(base.DefaultPageSize, 25)),
		MaxPageSize:     envInt("MAX_PAGE_SIZE", defInt(base.MaxPageSize, 200)),

		MinWordsThreshold: envInt("MIN_WORDS_THRESHOLD", defInt(base.MinWordsThreshold, 20)),
		CompressRetries:   envInt("COMPRESS_RETRIES", defInt(base.CompressRetries, 2)),
	}
}

func (c Config) Validate() error {
	if len(strings.TrimSpace(c.InternalSharedSecret)) < 32 {
		return fmt.Errorf("INTERNAL_SHARED_SECRET must be at least 32 characters")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("DEFAULT_PAGE_SIZE (%d) exceeds MAX_PAGE_SIZE (%d)", c.DefaultPageSize, c.MaxPageSize)
	}
	return nil
}

func fileDefaults() Config {
	path := strings.TrimSpace(os.Getenv("MAGARCHIVE_CONFIG"))
	if path == "" {
		return Config{}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: config file %s: %v\n", path, err)
		return Config{}
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		fmt.Fprintf(os.Stderr, "warning: config file %s: %v\n", path, err)
		return Config{}
	}
	return c
}

func def(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func defInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func defFloat(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func defDur(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

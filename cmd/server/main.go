package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/pressfold/magarchive/internal/blob"
	"github.com/pressfold/magarchive/internal/compress"
	"github.com/pressfold/magarchive/internal/config"
	"github.com/pressfold/magarchive/internal/draft"
	"github.com/pressfold/magarchive/internal/ocr"
	"github.com/pressfold/magarchive/internal/pipeline"
	"github.com/pressfold/magarchive/internal/store"
)

var (
	cfg config.Config
	log = logrus.New()

	st         *store.Store
	blobs      *blob.Client
	drafts     *draft.Generator
	runner     *pipeline.Runner
	requestSem *semaphore.Weighted
)

func main() {
	envFile := flag.String("env", "", "path to a .env file loaded before config")
	flag.Parse()

	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.WithError(err).Fatal("load env file")
		}
	} else {
		_ = godotenv.Load()
	}

	cfg = config.Load()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	var err error
	st, err = store.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer st.Close()

	// Jobs interrupted by the previous shutdown are failed, not resumed.
	if n, err := st.RequeueStaleJobs(context.Background()); err != nil {
		log.WithError(err).Error("requeue stale jobs")
	} else if n > 0 {
		log.WithField("jobs", n).Warn("failed jobs left over from previous run")
	}

	requestSem = semaphore.NewWeighted(cfg.MaxConcurrentRequests)
	ocr.SetConcurrencyLimit(cfg.MaxOCRConcurrent)

	ocrClient := ocr.NewClient(cfg.OCRAPIKey, cfg.OCRAPIURL, cfg.OCRModel)
	compressor := compress.NewClient(cfg.CompressAPIKey, cfg.CompressAPIURL, cfg.CompressTimeout)
	blobs = blob.NewClient(cfg.BlobBaseURL, cfg.BlobAPIKey, cfg.BlobSigningSecret, cfg.BlobTimeout)
	drafts = draft.NewGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)

	runner = pipeline.NewRunner(st, ocrClient, compressor, blobs, log, pipeline.Options{
		Workers:      cfg.OCRWorkers,
		SignedURLTTL: cfg.SignedURLLifetime,
		FetchTimeout: cfg.DownloadTimeout,
		MaxPDFBytes:  cfg.MaxPDFBytes,
		JobTimeout:   cfg.OCRJobTimeout,
	})
	defer runner.Close()

	if strings.TrimSpace(cfg.OCRAPIKey) == "" {
		log.Warn("OCR_API_KEY not set (OCR jobs will fail)")
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Warn("OPENAI_API_KEY not set (metadata drafts will fail)")
	}
	if strings.TrimSpace(cfg.BlobBaseURL) == "" {
		log.Warn("BLOB_BASE_URL not set (uploads will fail)")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withLogging(withRecovery(newMux())),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go cleanupRateLimiters()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.WithError(err).Error("shutdown")
		}
	}()

	log.WithFields(logrus.Fields{
		"addr":    srv.Addr,
		"workers": cfg.OCRWorkers,
	}).Info("magarchive listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server")
	}
}

// newMux registers every route. Method+path patterns do method
// dispatch, so there is no method-check middleware.
func newMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", withInternalAuth(promhttp.Handler().ServeHTTP))

	api := func(h http.HandlerFunc) http.HandlerFunc {
		return withInternalAuth(withRateLimit(withConcurrencyLimit(h)))
	}

	mux.HandleFunc("POST /api/issues", api(handleCreateIssue))
	mux.HandleFunc("GET /api/issues", api(handleListIssues))
	mux.HandleFunc("GET /api/issues/{id}", api(handleGetIssue))
	mux.HandleFunc("DELETE /api/issues/{id}", api(handleDeleteIssue))
	mux.HandleFunc("POST /api/issues/{id}/split", api(handleSplitIssue))

	mux.HandleFunc("GET /api/records", api(handleListRecords))
	mux.HandleFunc("GET /api/records/{id}", api(handleGetRecord))
	mux.HandleFunc("PATCH /api/records/{id}", api(handleUpdateRecord))
	mux.HandleFunc("DELETE /api/records/{id}", api(handleDeleteRecord))

	mux.HandleFunc("POST /api/records/{id}/ocr", api(handleStartOCR))
	mux.HandleFunc("GET /api/jobs/{id}", api(handleGetJob))
	mux.HandleFunc("POST /api/records/{id}/draft", api(handleDraft))
	mux.HandleFunc("GET /api/records/{id}/history", api(handleHistory))
	mux.HandleFunc("GET /api/records/{id}/history/{rev}/diff", api(handleHistoryDiff))

	mux.HandleFunc("GET /api/tags", api(handleListTags))
	mux.HandleFunc("POST /api/tags", api(handleCreateTag))
	mux.HandleFunc("PATCH /api/tags/{id}", api(handleRenameTag))
	mux.HandleFunc("POST /api/tags/{id}/merge", api(handleMergeTags))
	mux.HandleFunc("DELETE /api/tags/{id}", api(handleDeleteTag))

	mux.HandleFunc("GET /api/authors", api(handleListAuthors))
	mux.HandleFunc("POST /api/authors", api(handleCreateAuthor))
	mux.HandleFunc("PATCH /api/authors/{id}", api(handleRenameAuthor))
	mux.HandleFunc("POST /api/authors/{id}/merge", api(handleMergeAuthors))
	mux.HandleFunc("DELETE /api/authors/{id}", api(handleDeleteAuthor))

	mux.HandleFunc("GET /api/export", api(handleExport))
	mux.HandleFunc("GET /api/dashboard", api(handleDashboard))

	return mux
}

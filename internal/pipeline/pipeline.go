// Package pipeline runs per-record OCR jobs: resolve the issue PDF,
// request page-scoped OCR, compress and retry on size rejection, store
// the text artifact, and update the record and job rows.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/pressfold/magarchive/internal/blob"
	"github.com/pressfold/magarchive/internal/compress"
	"github.com/pressfold/magarchive/internal/fetch"
	"github.com/pressfold/magarchive/internal/metrics"
	"github.com/pressfold/magarchive/internal/ocr"
	"github.com/pressfold/magarchive/internal/store"
	"github.com/pressfold/magarchive/internal/textutil"
)

// pageSeparator joins per-page OCR markdown into one article text.
const pageSeparator = "\n\n---\n\n"

// OCRClient is the page-scoped OCR surface the pipeline needs.
type OCRClient interface {
	Process(ctx context.Context, documentURL string, pages0 []int) (ocr.Response, error)
}

// Compressor shrinks a PDF when the OCR provider rejects it for size.
type Compressor interface {
	Compress(ctx context.Context, fileName string, pdfData []byte, level compress.Level) (compress.Result, error)
}

// BlobStore is the artifact storage surface the pipeline needs.
type BlobStore interface {
	Upload(ctx context.Context, folder, fileName, contentType string, data io.Reader) (blob.Object, error)
	Delete(ctx context.Context, key string) error
	SignedURL(key string, lifetime time.Duration) (string, error)
}

// Options tune a Runner.
type Options struct {
	Workers      int           // concurrent jobs; <=0 means 2
	SignedURLTTL time.Duration // lifetime of issue PDF URLs handed to the OCR API
	FetchTimeout time.Duration // per-download timeout for the compress path
	MaxPDFBytes  int64         // download cap for the compress path
	JobTimeout   time.Duration // end-to-end limit per job; <=0 means 15m
}

// Runner owns the worker pool. One Runner per process.
type Runner struct {
	store      *store.Store
	ocr        OCRClient
	compressor Compressor
	blobs      BlobStore
	log        *logrus.Logger
	opts       Options

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	// fetchPDF downloads the issue PDF for the compress path. Tests
	// substitute an in-memory fetch.
	fetchPDF func(ctx context.Context, url string) ([]byte, error)
}

// NewRunner builds a Runner. Jobs run on background goroutines bounded
// by a weighted semaphore; Close waits for in-flight jobs.
func NewRunner(st *store.Store, oc OCRClient, cp Compressor, bl BlobStore, log *logrus.Logger, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = 30 * time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 2 * time.Minute
	}
	if opts.MaxPDFBytes <= 0 {
		opts.MaxPDFBytes = 200 << 20
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 15 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:      st,
		ocr:        oc,
		compressor: cp,
		blobs:      bl,
		log:        log,
		opts:       opts,
		sem:        semaphore.NewWeighted(int64(opts.Workers)),
		ctx:        ctx,
		cancel:     cancel,
	}
	r.fetchPDF = r.downloadPDF
	return r
}

// Close stops accepting work and waits for running jobs to finish.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

// Enqueue marks the record as running, creates a job row, and schedules
// the job. store.ErrOCRRunning comes back synchronously so the handler
// can return a conflict.
func (r *Runner) Enqueue(ctx context.Context, recordID string) (store.Job, error) {
	if err := r.store.StartRecordOCR(ctx, recordID); err != nil {
		return store.Job{}, err
	}
	job, err := r.store.CreateJob(ctx, recordID, store.JobKindOCR)
	if err != nil {
		// Leave the record failed rather than stuck on running.
		_ = r.store.FailRecordOCR(ctx, recordID, "could not create job")
		return store.Job{}, err
	}

	metrics.QueueDepth.Inc()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer metrics.QueueDepth.Dec()

		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			r.fail(job.ID, recordID, errors.New("shutting down"))
			return
		}
		defer r.sem.Release(1)

		jobCtx, cancel := context.WithTimeout(r.ctx, r.opts.JobTimeout)
		defer cancel()
		r.run(jobCtx, job.ID, recordID)
	}()
	return job, nil
}

func (r *Runner) run(ctx context.Context, jobID, recordID string) {
	started := time.Now()
	log := r.log.WithFields(logrus.Fields{"job": jobID, "record": recordID})

	if err := r.store.StartJob(ctx, jobID); err != nil {
		log.WithError(err).Error("start job")
	}

	text, textKey, err := r.process(ctx, recordID)
	if err != nil {
		log.WithError(err).Warn("ocr job failed")
		r.fail(jobID, recordID, err)
		metrics.OCRJobs.WithLabelValues("failed").Inc()
		metrics.OCRDuration.Observe(time.Since(started).Seconds())
		return
	}

	if err := r.store.CompleteRecordOCR(ctx, recordID, text, textKey); err != nil {
		log.WithError(err).Error("complete record")
		r.fail(jobID, recordID, err)
		metrics.OCRJobs.WithLabelValues("failed").Inc()
		return
	}
	if err := r.store.FinishJob(ctx, jobID, ""); err != nil {
		log.WithError(err).Error("finish job")
	}
	metrics.OCRJobs.WithLabelValues("done").Inc()
	metrics.OCRDuration.Observe(time.Since(started).Seconds())
	log.WithField("chars", len(text)).Info("ocr job done")
}

// fail records the failure on both the record and the job. Uses a
// fresh context so shutdown still persists the state.
func (r *Runner) fail(jobID, recordID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := cause.Error()
	if err := r.store.FailRecordOCR(ctx, recordID, msg); err != nil {
		r.log.WithError(err).Error("mark record failed")
	}
	if err := r.store.FinishJob(ctx, jobID, msg); err != nil {
		r.log.WithError(err).Error("mark job failed")
	}
}

// process produces cleaned article text plus its blob key.
func (r *Runner) process(ctx context.Context, recordID string) (string, string, error) {
	rec, err := r.store.GetRecord(ctx, recordID)
	if err != nil {
		return "", "", err
	}
	issue, err := r.store.GetIssue(ctx, rec.IssueID)
	if err != nil {
		return "", "", err
	}

	docURL, err := r.resolvePDFURL(issue)
	if err != nil {
		return "", "", err
	}

	pages0 := make([]int, 0, rec.EndPage-rec.StartPage+1)
	for p := rec.StartPage; p <= rec.EndPage; p++ {
		pages0 = append(pages0, p-1)
	}

	resp, err := r.ocr.Process(ctx, docURL, pages0)
	if errors.Is(err, ocr.ErrTooLarge) {
		resp, err = r.compressAndRetry(ctx, issue, docURL, pages0)
	}
	if err != nil {
		return "", "", err
	}

	text := textutil.Clean(combinePages(resp.Pages))
	if strings.TrimSpace(text) == "" {
		return "", "", errors.New("OCR returned no text for the selected pages")
	}

	obj, err := r.blobs.Upload(ctx, "texts", recordID+".md", "text/markdown", strings.NewReader(text))
	if err != nil {
		return "", "", errors.Wrap(err, "store text artifact")
	}

	// Replace a previous artifact rather than orphaning it.
	if rec.OCRTextKey != "" && rec.OCRTextKey != obj.Key {
		if err := r.blobs.Delete(ctx, rec.OCRTextKey); err != nil {
			r.log.WithError(err).WithField("key", rec.OCRTextKey).Warn("delete stale text artifact")
		}
	}
	return text, obj.Key, nil
}

// compressAndRetry handles a size rejection: download the issue PDF,
// compress it at escalating levels, park the copy in blob storage, and
// re-run OCR against the copy.
func (r *Runner) compressAndRetry(ctx context.Context, issue store.Issue, docURL string, pages0 []int) (ocr.Response, error) {
	metrics.OCRCompressRetries.Inc()
	r.log.WithField("issue", issue.ID).Info("pdf exceeds OCR size limit, compressing")

	data, err := r.fetchPDF(ctx, docURL)
	if err != nil {
		return ocr.Response{}, errors.Wrap(err, "download pdf for compression")
	}

	var lastErr error
	for _, level := range []compress.Level{compress.LevelRecommended, compress.LevelExtreme} {
		result, err := r.compressor.Compress(ctx, issue.ID+".pdf", data, level)
		if err != nil {
			return ocr.Response{}, errors.Wrap(err, "compress pdf")
		}

		obj, err := r.blobs.Upload(ctx, "compressed", fmt.Sprintf("%s-%s.pdf", issue.ID, level),
			"application/pdf", bytes.NewReader(result.Data))
		if err != nil {
			return ocr.Response{}, errors.Wrap(err, "store compressed pdf")
		}
		signedURL, err := r.blobs.SignedURL(obj.Key, r.opts.SignedURLTTL)
		if err != nil {
			r.deleteCompressed(ctx, obj.Key)
			return ocr.Response{}, err
		}

		resp, err := r.ocr.Process(ctx, signedURL, pages0)
		// The copy only exists for this retry; reclaim it either way.
		r.deleteCompressed(ctx, obj.Key)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, ocr.ErrTooLarge) {
			return ocr.Response{}, err
		}
		// Still too large, escalate to the next level.
	}
	return ocr.Response{}, errors.Wrap(lastErr, "pdf still over size limit after compression")
}

func (r *Runner) deleteCompressed(ctx context.Context, key string) {
	if err := r.blobs.Delete(ctx, key); err != nil {
		r.log.WithError(err).WithField("key", key).Warn("delete compressed copy")
	}
}

func (r *Runner) resolvePDFURL(issue store.Issue) (string, error) {
	if issue.PDFKey != "" {
		return r.blobs.SignedURL(issue.PDFKey, r.opts.SignedURLTTL)
	}
	if issue.PDFURL != "" {
		return issue.PDFURL, nil
	}
	return "", errors.Errorf("issue %s has no stored PDF", issue.ID)
}

func (r *Runner) downloadPDF(ctx context.Context, url string) ([]byte, error) {
	f, err := fetch.RemotePDF(ctx, url, "issue.pdf", r.opts.MaxPDFBytes, r.opts.FetchTimeout)
	if err != nil {
		return nil, err
	}
	defer f.Cleanup()
	return os.ReadFile(f.Path)
}

// combinePages joins page markdown in page order with a separator, so
// page boundaries stay visible in the stored text.
func combinePages(pages []ocr.Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p.Markdown) == "" {
			continue
		}
		parts = append(parts, p.Markdown)
	}
	return strings.Join(parts, pageSeparator)
}

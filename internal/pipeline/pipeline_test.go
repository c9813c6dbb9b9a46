package pipeline

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressfold/magarchive/internal/blob"
	"github.com/pressfold/magarchive/internal/compress"
	"github.com/pressfold/magarchive/internal/ocr"
	"github.com/pressfold/magarchive/internal/store"
)

type fakeOCR struct {
	calls       atomic.Int32
	failures    int32 // first N calls return tooLargeErr
	tooLargeErr error
	pages       []ocr.Page
	gotPages    []int
	gotURL      string
}

func (f *fakeOCR) Process(_ context.Context, documentURL string, pages0 []int) (ocr.Response, error) {
	n := f.calls.Add(1)
	f.gotURL = documentURL
	f.gotPages = pages0
	if n <= f.failures {
		return ocr.Response{}, f.tooLargeErr
	}
	return ocr.Response{Pages: f.pages}, nil
}

type fakeCompressor struct {
	calls  atomic.Int32
	levels []compress.Level
}

func (f *fakeCompressor) Compress(_ context.Context, _ string, data []byte, level compress.Level) (compress.Result, error) {
	f.calls.Add(1)
	f.levels = append(f.levels, level)
	out := data[:len(data)/2]
	return compress.Result{Data: out, OriginalSize: int64(len(data)), CompressedSize: int64(len(out))}, nil
}

type fakeBlobs struct {
	uploads []string // folder/name
	deleted []string
}

func (f *fakeBlobs) Upload(_ context.Context, folder, fileName, _ string, data io.Reader) (blob.Object, error) {
	n, _ := io.Copy(io.Discard, data)
	key := folder + "/" + fileName
	f.uploads = append(f.uploads, key)
	return blob.Object{Key: key, Size: n}, nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeBlobs) SignedURL(key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key + "?sig=x", nil
}

type fixture struct {
	store  *store.Store
	ocr    *fakeOCR
	comp   *fakeCompressor
	blobs  *fakeBlobs
	runner *Runner
	record store.Record
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	issue := store.Issue{Title: "Test Issue", PDFKey: "issues/test.pdf", Year: 1980}
	require.NoError(t, st.CreateIssue(ctx, &issue))
	rec := store.Record{IssueID: issue.ID, Title: "Article", StartPage: 3, EndPage: 5}
	require.NoError(t, st.CreateRecord(ctx, &rec))

	f := &fixture{
		store: st,
		ocr:   &fakeOCR{tooLargeErr: ocr.ErrTooLarge, pages: []ocr.Page{{Index: 2, Markdown: "page three"}, {Index: 3, Markdown: "page four"}}},
		comp:  &fakeCompressor{},
		blobs: &fakeBlobs{},
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	f.runner = NewRunner(st, f.ocr, f.comp, f.blobs, log, Options{Workers: 2})
	f.runner.fetchPDF = func(context.Context, string) ([]byte, error) {
		return []byte("%PDF-1.4 fake body"), nil
	}
	t.Cleanup(f.runner.Close)
	f.record = rec
	return f
}

func waitJob(t *testing.T, st *store.Store, jobID string) store.Job {
	t.Helper()
	var job store.Job
	require.Eventually(t, func() bool {
		j, err := st.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == store.JobDone || j.Status == store.JobFailed
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestEnqueueRunsJobToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.runner.Enqueue(ctx, f.record.ID)
	require.NoError(t, err)
	job = waitJob(t, f.store, job.ID)
	assert.Equal(t, store.JobDone, job.Status)

	rec, err := f.store.GetRecord(ctx, f.record.ID)
	require.NoError(t, err)
	assert.Equal(t, store.OCRDone, rec.OCRStatus)
	assert.Contains(t, rec.OCRText, "page three")
	assert.Contains(t, rec.OCRText, "---")
	assert.Equal(t, "texts/"+f.record.ID+".md", rec.OCRTextKey)

	// Pages 3-5 become the 0-indexed selection 2,3,4.
	assert.Equal(t, []int{2, 3, 4}, f.ocr.gotPages)
	// Issue PDF referenced via signed URL, never downloaded.
	assert.Contains(t, f.ocr.gotURL, "issues/test.pdf")
	assert.Zero(t, f.comp.calls.Load())
}

func TestEnqueueConflictWhileRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.StartRecordOCR(ctx, f.record.ID))
	_, err := f.runner.Enqueue(ctx, f.record.ID)
	assert.ErrorIs(t, err, store.ErrOCRRunning)
}

func TestSizeRejectionCompressesAndRetries(t *testing.T) {
	f := newFixture(t)
	f.ocr.failures = 1
	ctx := context.Background()

	job, err := f.runner.Enqueue(ctx, f.record.ID)
	require.NoError(t, err)
	job = waitJob(t, f.store, job.ID)
	assert.Equal(t, store.JobDone, job.Status)

	assert.EqualValues(t, 1, f.comp.calls.Load())
	assert.Equal(t, []compress.Level{compress.LevelRecommended}, f.comp.levels)
	assert.EqualValues(t, 2, f.ocr.calls.Load())
	// Retry targets the compressed copy.
	assert.Contains(t, f.ocr.gotURL, "compressed/")
}

func TestCompressedCopyReclaimedAfterRetry(t *testing.T) {
	f := newFixture(t)
	f.ocr.failures = 1
	ctx := context.Background()

	job, err := f.runner.Enqueue(ctx, f.record.ID)
	require.NoError(t, err)
	job = waitJob(t, f.store, job.ID)
	assert.Equal(t, store.JobDone, job.Status)

	var parked []string
	for _, key := range f.blobs.uploads {
		if strings.HasPrefix(key, "compressed/") {
			parked = append(parked, key)
		}
	}
	require.NotEmpty(t, parked)
	for _, key := range parked {
		assert.Contains(t, f.blobs.deleted, key)
	}
}

func TestSizeRejectionEscalatesCompression(t *testing.T) {
	f := newFixture(t)
	f.ocr.failures = 2 // original + recommended both too large
	ctx := context.Background()

	job, err := f.runner.Enqueue(ctx, f.record.ID)
	require.NoError(t, err)
	job = waitJob(t, f.store, job.ID)
	assert.Equal(t, store.JobDone, job.Status)
	assert.Equal(t, []compress.Level{compress.LevelRecommended, compress.LevelExtreme}, f.comp.levels)
}

func TestPersistentSizeRejectionFailsJob(t *testing.T) {
	f := newFixture(t)
	f.ocr.failures = 10
	ctx := context.Background()

	job, err := f.runner.Enqueue(ctx, f.record.ID)
	require.NoError(t, err)
	job = waitJob(t, f.store, job.ID)
	assert.Equal(t, store.JobFailed, job.Status)
	assert.Contains(t, job.Error, "size limit")

	rec, err := f.store.GetRecord(ctx, f.record.ID)
	require.NoError(t, err)
	assert.Equal(t, store.OCRFailed, rec.OCRStatus)
}

func TestNonSizeErrorFailsWithoutCompression(t *testing.T) {
	f := newFixture(t)
	f.ocr.failures = 10
	f.ocr.tooLargeErr = &ocr.APIError{StatusCode: 401, Message: "bad key"}
	ctx := context.Background()

	job, err := f.runner.Enqueue(ctx, f.record.ID)
	require.NoError(t, err)
	job = waitJob(t, f.store, job.ID)
	assert.Equal(t, store.JobFailed, job.Status)
	assert.Zero(t, f.comp.calls.Load())
}

func TestEmptyOCRTextFailsJob(t *testing.T) {
	f := newFixture(t)
	f.ocr.pages = []ocr.Page{{Index: 2, Markdown: "   "}}
	ctx := context.Background()

	job, err := f.runner.Enqueue(ctx, f.record.ID)
	require.NoError(t, err)
	job = waitJob(t, f.store, job.ID)
	assert.Equal(t, store.JobFailed, job.Status)
	assert.Contains(t, job.Error, "no text")
}

func TestRerunReplacesStaleArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.StartRecordOCR(ctx, f.record.ID))
	require.NoError(t, f.store.CompleteRecordOCR(ctx, f.record.ID, "old", "texts/old-key.md"))

	job, err := f.runner.Enqueue(ctx, f.record.ID)
	require.NoError(t, err)
	waitJob(t, f.store, job.ID)

	assert.Contains(t, f.blobs.deleted, "texts/old-key.md")
}

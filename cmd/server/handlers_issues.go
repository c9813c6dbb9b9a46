package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/pressfold/magarchive/internal/fetch"
	"github.com/pressfold/magarchive/internal/pdfmeta"
	"github.com/pressfold/magarchive/internal/store"
)

type createIssueRequest struct {
	Title       string `json:"title"`
	Publication string `json:"publication"`
	IssueNumber string `json:"issueNumber"`
	PublishedOn string `json:"publishedOn"`
	Year        int    `json:"year"`
	PDFURL      string `json:"pdfUrl"`
}

// handleCreateIssue accepts either a multipart upload (file field "file"
// plus metadata fields) or a JSON body with a remote pdfUrl.
func handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var (
		req  createIssueRequest
		file fetch.File
		err  error
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		part, hdr, ferr := r.FormFile("file")
		if ferr != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", "multipart field 'file' required")
			return
		}
		defer part.Close()

		req = createIssueRequest{
			Title:       r.FormValue("title"),
			Publication: r.FormValue("publication"),
			IssueNumber: r.FormValue("issueNumber"),
			PublishedOn: r.FormValue("publishedOn"),
			Year:        queryInt(r.FormValue("year"), 0),
		}
		file, err = fetch.SaveUpload(part, hdr.Filename, cfg.MaxUploadBytes)
	} else {
		req, err = parseJSON[createIssueRequest](r, cfg.MaxJSONBodyBytes)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
			return
		}
		if strings.TrimSpace(req.PDFURL) == "" {
			writeErr(w, http.StatusBadRequest, "validation_failed", "pdfUrl required")
			return
		}
		file, err = fetch.RemotePDF(r.Context(), req.PDFURL, "issue.pdf", cfg.MaxPDFBytes, cfg.DownloadTimeout)
	}
	if err != nil {
		writeErr(w, http.StatusBadRequest, "fetch_failed", sanitizeError(err))
		return
	}
	defer file.Cleanup()

	if strings.TrimSpace(req.Title) == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "title required")
		return
	}
	if !file.IsPDF() {
		writeErr(w, http.StatusBadRequest, "validation_failed",
			fmt.Sprintf("expected a PDF, got %s", file.MIMEType))
		return
	}

	pageCount, err := pdfmeta.PageCount(file.Path)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_pdf", sanitizeError(err))
		return
	}

	issue := store.Issue{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Publication: req.Publication,
		IssueNumber: req.IssueNumber,
		PublishedOn: req.PublishedOn,
		Year:        req.Year,
		PageCount:   pageCount,
		PDFURL:      req.PDFURL,
		PDFBytes:    file.Size,
	}

	f, err := os.Open(file.Path)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", sanitizeError(err))
		return
	}
	defer f.Close()

	obj, err := blobs.Upload(r.Context(), "issues", issue.ID+".pdf", "application/pdf", f)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "blob_failed", sanitizeError(err))
		return
	}
	issue.PDFKey = obj.Key

	if err := st.CreateIssue(r.Context(), &issue); err != nil {
		// The row failed, so the fresh blob is orphaned; reclaim it.
		if derr := blobs.Delete(r.Context(), obj.Key); derr != nil {
			log.WithError(derr).WithField("key", obj.Key).Warn("delete orphaned pdf")
		}
		writeStoreErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, issue)
}

func handleListIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := st.ListIssues(r.Context())
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if issues == nil {
		issues = []store.Issue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

func handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := st.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func handleDeleteIssue(w http.ResponseWriter, r *http.Request) {
	keys, err := st.DeleteIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	for _, key := range keys {
		if err := blobs.Delete(r.Context(), key); err != nil {
			log.WithError(err).WithField("key", key).Warn("delete blob")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "blobsRemoved": len(keys)})
}

type splitArticle struct {
	Title     string            `json:"title"`
	StartPage int               `json:"startPage"`
	EndPage   int               `json:"endPage"`
	Crop      *pdfmeta.CropRect `json:"crop,omitempty"`
}

type splitRequest struct {
	Articles []splitArticle `json:"articles"`
	Preview  bool           `json:"preview,omitempty"`
}

// handleSplitIssue turns article definitions into records. The issue PDF is
// never cut up; records only carry page ranges and crop rects. With
// preview=true the ranges are validated and the text layer surveyed,
// but nothing is written.
func handleSplitIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := st.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	req, err := parseJSON[splitRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	if len(req.Articles) == 0 {
		writeErr(w, http.StatusBadRequest, "validation_failed", "articles required")
		return
	}

	for i, a := range req.Articles {
		pr := pdfmeta.PageRange{Start: a.StartPage, End: a.EndPage}
		if err := pr.Validate(issue.PageCount); err != nil {
			writeErr(w, http.StatusBadRequest, "validation_failed",
				fmt.Sprintf("article %d: %v", i+1, err))
			return
		}
		if a.Crop != nil {
			// Rects drawn slightly past the page edge snap back in.
			clamped := a.Crop.Clamp()
			req.Articles[i].Crop = &clamped
			if err := clamped.Validate(); err != nil {
				writeErr(w, http.StatusBadRequest, "validation_failed",
					fmt.Sprintf("article %d: %v", i+1, err))
				return
			}
		}
		if strings.TrimSpace(a.Title) == "" {
			writeErr(w, http.StatusBadRequest, "validation_failed",
				fmt.Sprintf("article %d: title required", i+1))
			return
		}
	}

	warnings := overlapWarnings(req.Articles)

	if req.Preview {
		handleSplitPreview(r.Context(), w, issue, req.Articles, warnings)
		return
	}

	records := make([]store.Record, 0, len(req.Articles))
	for _, a := range req.Articles {
		rec := store.Record{
			IssueID:     issue.ID,
			Title:       a.Title,
			StartPage:   a.StartPage,
			EndPage:     a.EndPage,
			Crop:        a.Crop,
			NeedsReview: true,
		}
		if err := st.CreateRecord(r.Context(), &rec); err != nil {
			writeStoreErr(w, err)
			return
		}
		records = append(records, rec)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"records": records, "warnings": warnings})
}

// overlapWarnings flags articles that claim the same pages. Sharing a page
// is legal (two articles often meet mid-page) and only worth surfacing when
// neither crop separates them.
func overlapWarnings(articles []splitArticle) []string {
	warnings := []string{}
	for i := 0; i < len(articles); i++ {
		for j := i + 1; j < len(articles); j++ {
			a, b := articles[i], articles[j]
			ra := pdfmeta.PageRange{Start: a.StartPage, End: a.EndPage}
			rb := pdfmeta.PageRange{Start: b.StartPage, End: b.EndPage}
			if !ra.Overlaps(rb) {
				continue
			}
			if a.Crop != nil && b.Crop != nil && !a.Crop.Intersects(*b.Crop) {
				continue
			}
			warnings = append(warnings,
				fmt.Sprintf("articles %d and %d overlap on pages %d-%d",
					i+1, j+1, max(a.StartPage, b.StartPage), min(a.EndPage, b.EndPage)))
		}
	}
	return warnings
}

// handleSplitPreview downloads the issue PDF and scores the text layer
// of every requested page, so the client can show which articles will
// need OCR. A scanned issue with no text layer flags every page.
func handleSplitPreview(ctx context.Context, w http.ResponseWriter, issue store.Issue, articles []splitArticle, warnings []string) {
	pdfURL := issue.PDFURL
	if issue.PDFKey != "" {
		if u, err := blobs.SignedURL(issue.PDFKey, cfg.SignedURLLifetime); err == nil {
			pdfURL = u
		}
	}
	if pdfURL == "" {
		writeErr(w, http.StatusConflict, "no_pdf", "issue has no stored PDF")
		return
	}

	file, err := fetch.RemotePDF(ctx, pdfURL, "issue.pdf", cfg.MaxPDFBytes, cfg.DownloadTimeout)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "fetch_failed", sanitizeError(err))
		return
	}
	defer file.Cleanup()

	type articlePreview struct {
		Title     string             `json:"title"`
		Pages     []pdfmeta.PageInfo `json:"pages"`
		NeedsOCR  bool               `json:"needsOcr"`
		TextLayer string             `json:"textLayer,omitempty"`
	}

	previews := make([]articlePreview, 0, len(articles))
	for _, a := range articles {
		pages := pdfmeta.PageRange{Start: a.StartPage, End: a.EndPage}.Pages()
		infos, err := pdfmeta.Survey(ctx, file.Path, pages, cfg.MinWordsThreshold)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid_pdf", sanitizeError(err))
			return
		}
		p := articlePreview{Title: a.Title, Pages: infos, TextLayer: pdfmeta.CombinePages(infos, "")}
		for _, info := range infos {
			if info.NeedsOCR {
				p.NeedsOCR = true
				break
			}
		}
		previews = append(previews, p)
	}

	writeJSON(w, http.StatusOK, map[string]any{"preview": previews, "warnings": warnings})
}

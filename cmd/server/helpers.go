package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/pressfold/magarchive/internal/store"
)

func parseJSON[T any](r *http.Request, limit int64) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&out); err != nil {
		return out, err
	}

	// Ensure there's nothing else after the first JSON value
	if err := dec.Decode(new(any)); err != io.EOF {
		if err == nil {
			return out, fmt.Errorf("unexpected trailing data")
		}
		return out, err
	}

	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// writeStoreErr maps store errors onto HTTP statuses.
func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		writeErr(w, http.StatusBadRequest, "validation_failed", sanitizeError(err))
	case errors.Is(err, store.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, store.ErrOCRRunning):
		writeErr(w, http.StatusConflict, "ocr_running", "OCR is already running for this record")
	case errors.Is(err, store.ErrDuplicateName):
		writeErr(w, http.StatusConflict, "duplicate_name", "Name already in use")
	default:
		log.WithError(err).Error("store error")
		writeErr(w, http.StatusInternalServerError, "internal_error", sanitizeError(err))
	}
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// parseRecordFilter reads list/export query parameters.
func parseRecordFilter(r *http.Request) store.RecordFilter {
	q := r.URL.Query()

	f := store.RecordFilter{
		Query:     q.Get("q"),
		IssueID:   q.Get("issue"),
		OCRStatus: q.Get("ocrStatus"),
		SortBy:    q.Get("sort"),
		SortDesc:  q.Get("order") == "desc",
	}
	if v := q.Get("tags"); v != "" {
		f.TagIDs = strings.Split(v, ",")
	}
	if v := q.Get("authors"); v != "" {
		f.AuthorIDs = strings.Split(v, ",")
	}
	f.YearFrom = queryInt(q.Get("yearFrom"), 0)
	f.YearTo = queryInt(q.Get("yearTo"), 0)
	if v := q.Get("needsReview"); v != "" {
		b := v == "true" || v == "1"
		f.NeedsReview = &b
	}

	f.Limit = queryInt(q.Get("limit"), cfg.DefaultPageSize)
	if f.Limit > cfg.MaxPageSize {
		f.Limit = cfg.MaxPageSize
	}
	f.Offset = queryInt(q.Get("offset"), 0)
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pressfold/magarchive/internal/draft"
	"github.com/pressfold/magarchive/internal/history"
	"github.com/pressfold/magarchive/internal/metrics"
	"github.com/pressfold/magarchive/internal/store"
)

func handleListRecords(w http.ResponseWriter, r *http.Request) {
	f := parseRecordFilter(r)
	records, total, err := st.ListRecords(r.Context(), f)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}

func handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := st.GetRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	patch, err := parseJSON[store.RecordPatch](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}

	// Crops drawn slightly past the page edge are snapped back in.
	if patch.Crop != nil {
		clamped := patch.Crop.Clamp()
		patch.Crop = &clamped
	}

	editedBy := strings.TrimSpace(r.Header.Get("X-Edited-By"))
	rec, err := st.UpdateRecord(r.Context(), r.PathValue("id"), patch, editedBy)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	textKey, err := st.DeleteRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if textKey != "" {
		if err := blobs.Delete(r.Context(), textKey); err != nil {
			log.WithError(err).WithField("key", textKey).Warn("delete blob")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func handleStartOCR(w http.ResponseWriter, r *http.Request) {
	job, err := runner.Enqueue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := st.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func handleDraft(w http.ResponseWriter, r *http.Request) {
	rec, err := st.GetRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.DraftTimeout)
	defer cancel()

	d, err := drafts.Generate(ctx, rec.OCRText)
	if err != nil {
		metrics.DraftRequests.WithLabelValues("error").Inc()
		if errors.Is(err, draft.ErrNoText) {
			writeErr(w, http.StatusConflict, "no_text", "Record has no OCR text to draft from")
			return
		}
		writeErr(w, http.StatusBadGateway, "draft_failed", sanitizeError(err))
		return
	}
	metrics.DraftRequests.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"draft": d})
}

func handleHistory(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("id")
	if _, err := st.GetRecord(r.Context(), recordID); err != nil {
		writeStoreErr(w, err)
		return
	}
	revs, err := st.ListRevisions(r.Context(), recordID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if revs == nil {
		revs = []store.Revision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revs})
}

func handleHistoryDiff(w http.ResponseWriter, r *http.Request) {
	rev, err := st.GetRevision(r.Context(), r.PathValue("rev"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if rev.RecordID != r.PathValue("id") {
		writeErr(w, http.StatusNotFound, "not_found", "Not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"field":    rev.Field,
		"editedBy": rev.EditedBy,
		"editedAt": rev.EditedAt,
		"segments": history.Diff(rev.OldValue, rev.NewValue),
	})
}

package main

import (
	"net/http"
	"time"

	"github.com/pressfold/magarchive/internal/export"
	"github.com/pressfold/magarchive/internal/metrics"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	active := activeReqs.Load()
	status := "healthy"
	code := http.StatusOK

	if active >= int64(float64(cfg.MaxConcurrentRequests)*cfg.HealthDegradeRatio) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"active":  active,
		"version": "1.0.0",
	})
}

// handleExport streams the filtered record set as CSV or XLSX. The
// filter surface is the same as GET /api/records; pagination params are
// ignored so the export covers the whole filtered set.
func handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	f := parseRecordFilter(r)
	f.Limit = 0
	f.Offset = 0

	records, _, err := st.ListRecords(r.Context(), f)
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.Filename(time.Now())+`"`)
	if err := export.Write(w, format, records); err != nil {
		// Headers are gone; all we can do is log.
		log.WithError(err).Error("stream export")
		return
	}
	metrics.Exports.WithLabelValues(string(format)).Inc()
}

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := st.Dashboard(r.Context())
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

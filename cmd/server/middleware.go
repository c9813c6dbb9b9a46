package main

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pressfold/magarchive/internal/metrics"
)

var (
	// Per-IP rate limiters, reset wholesale on an interval.
	limiters = &sync.Map{}

	activeReqs atomic.Int64
)

func withInternalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Internal-Auth")
		if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.InternalSharedSecret)) != 1 {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "Invalid authentication")
			return
		}
		next(w, r)
	}
}

func withConcurrencyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requestSem.Acquire(r.Context(), 1); err != nil {
			writeErr(w, http.StatusServiceUnavailable, "capacity", "Service at capacity")
			return
		}
		defer requestSem.Release(1)

		activeReqs.Add(1)
		defer activeReqs.Add(-1)

		next(w, r)
	}
}

func withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !getRateLimiter(getClientIP(r)).Allow() {
			w.Header().Set("Retry-After", "60")
			writeErr(w, http.StatusTooManyRequests, "rate_limit", "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.WithField("panic", err).Error("handler panic")
				writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.status/100*100)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		log.WithFields(map[string]any{
			"method":  r.Method,
			"path":    sanitizeLogString(r.URL.Path),
			"status":  ww.status,
			"elapsed": elapsed.String(),
		}).Info("request")
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func getRateLimiter(ip string) *rate.Limiter {
	if v, ok := limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Every(cfg.RateLimitEvery), cfg.RateLimitBurst)
	limiters.Store(ip, limiter)
	return limiter
}

func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func cleanupRateLimiters() {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		limiters = &sync.Map{}
	}
}

package main

import (
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/toricodesthings/signature-extraction-service/internal/logger"
)

type serverMetrics struct {
	mu             sync.RWMutex
	totalRequests  int64
	activeReqs     int64
	rejectedBusy   int64
	signaturesOut  int64
	signaturesSkip int64
	cropFailures   int64
	textFiles      int64
}

func (m *serverMetrics) incActive() {
	m.mu.Lock()
	m.activeReqs++
	m.totalRequests++
	m.mu.Unlock()
}

func (m *serverMetrics) decActive() {
	m.mu.Lock()
	m.activeReqs--
	m.mu.Unlock()
}

func (m *serverMetrics) incBusy() {
	m.mu.Lock()
	m.rejectedBusy++
	m.mu.Unlock()
}

func (m *serverMetrics) addSignatures(written, rejected, failed int) {
	m.mu.Lock()
	m.signaturesOut += int64(written)
	m.signaturesSkip += int64(rejected)
	m.cropFailures += int64(failed)
	m.mu.Unlock()
}

func (m *serverMetrics) addTextFile() {
	m.mu.Lock()
	m.textFiles++
	m.mu.Unlock()
}

func (m *serverMetrics) get() (total, active int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests, m.activeReqs
}

func (m *serverMetrics) snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"activeRequests":     m.activeReqs,
		"totalRequests":      m.totalRequests,
		"rejectedAtCapacity": m.rejectedBusy,
		"signaturesWritten":  m.signaturesOut,
		"signaturesRejected": m.signaturesSkip,
		"cropFailures":       m.cropFailures,
		"textFilesWritten":   m.textFiles,
	}
}

// withConcurrencyLimit waits for a request slot until the request context
// ends, then answers 503.
func withConcurrencyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requestSem.Acquire(r.Context(), 1); err != nil {
			metrics.incBusy()
			writeErr(w, http.StatusServiceUnavailable, "capacity", "Service at capacity")
			return
		}
		defer requestSem.Release(1)

		metrics.incActive()
		defer metrics.decActive()

		next(w, r)
	}
}

// withRequestLogger stores the chi request id on the context for logger.C and
// writes one access log line per request.
func withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := chimw.GetReqID(r.Context())
		if reqID != "" {
			w.Header().Set(chimw.RequestIDHeader, reqID)
		}
		ctx := logger.WithRequest(r.Context(), reqID)
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log := logger.C(ctx)
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case cfg.SlowRequest > 0 && elapsed > cfg.SlowRequest:
			ev = log.Warn().Bool("slow", true)
		}
		ev.Str("method", r.Method).
			Str("path", sanitizeLogString(r.URL.Path)).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.C(r.Context()).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panic")
				writeErr(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withCORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})
}

// withoutDirListing answers 404 for directory paths under the static mount.
func withoutDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

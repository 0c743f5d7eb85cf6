package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strings"

	"github.com/toricodesthings/signature-extraction-service/internal/analysis"
	"github.com/toricodesthings/signature-extraction-service/internal/extract"
	"github.com/toricodesthings/signature-extraction-service/internal/image"
	"github.com/toricodesthings/signature-extraction-service/internal/logger"
	"github.com/toricodesthings/signature-extraction-service/internal/upload"
)

const (
	uploadField = "image"

	msgNoFile   = "No file uploaded or file path is undefined."
	msgInternal = "Internal Server Error"
)

func handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("hello from signature extraction service"))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	_, active := metrics.get()
	status := "healthy"
	code := http.StatusOK
	if active >= cfg.MaxConcurrentRequests {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"active":  active,
		"version": version,
	})
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	out := metrics.snapshot()
	out["goroutines"] = runtime.NumGoroutine()
	out["memAllocMB"] = m.Alloc / (1 << 20)
	out["memSysMB"] = m.Sys / (1 << 20)
	writeJSON(w, http.StatusOK, out)
}

func handleExtractSignature(w http.ResponseWriter, r *http.Request) {
	staged, ok := stageUpload(w, r)
	if !ok {
		return
	}
	if !cfg.KeepUploads {
		defer staged.Cleanup()
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
	defer cancel()

	res, err := svc.ExtractSignatures(ctx, staged.Path)
	if err != nil {
		writePipelineErr(w, r, err)
		return
	}
	metrics.addSignatures(len(res.Signatures), len(res.Rejected), len(res.Failed))

	if res.Accepted() > 0 && len(res.Signatures) == 0 {
		logger.C(r.Context()).Error().Int("failed", len(res.Failed)).Msg("every signature crop failed")
		writeErr(w, http.StatusInternalServerError, "crop_failed", "Signature crops could not be written")
		return
	}

	urls, err := extract.URLs(requestOrigin(r), cfg.PublicPath, res.Paths())
	if err != nil {
		writePipelineErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, extract.NewSignResponse(res, urls))
}

func handleExtractData(w http.ResponseWriter, r *http.Request) {
	staged, ok := stageUpload(w, r)
	if !ok {
		return
	}
	if !cfg.KeepUploads {
		defer staged.Cleanup()
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
	defer cancel()

	res, err := svc.ExtractText(ctx, staged.Path)
	if err != nil {
		writePipelineErr(w, r, err)
		return
	}
	if res.Path != "" {
		metrics.addTextFile()
	}
	writeJSON(w, http.StatusOK, extract.NewDataResponse(res))
}

// stageUpload writes the multipart "image" part to the upload directory. It
// writes the error response itself and reports false on failure.
func stageUpload(w http.ResponseWriter, r *http.Request) (upload.Staged, bool) {
	// multipart framing overhead on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+(1<<20))

	file, hdr, err := r.FormFile(uploadField)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeErr(w, http.StatusRequestEntityTooLarge, "too_large", "Upload exceeds size limit")
			return upload.Staged{}, false
		}
		writeErr(w, http.StatusBadRequest, "no_file", msgNoFile)
		return upload.Staged{}, false
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	staged, err := upload.Save(file, cfg.UploadDir, hdr.Filename, cfg.MaxUploadBytes)
	if err != nil {
		var ute *upload.UnsupportedTypeError
		switch {
		case errors.Is(err, upload.ErrTooLarge):
			writeErr(w, http.StatusRequestEntityTooLarge, "too_large", "Upload exceeds size limit")
		case errors.Is(err, upload.ErrEmpty):
			writeErr(w, http.StatusBadRequest, "no_file", msgNoFile)
		case errors.As(err, &ute):
			writeErr(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Only PNG, JPEG and TIFF images are supported")
		default:
			logger.C(r.Context()).Error().Err(err).Msg("stage upload")
			writeErr(w, http.StatusInternalServerError, "internal_error", msgInternal)
		}
		return upload.Staged{}, false
	}
	return staged, true
}

func writePipelineErr(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.C(r.Context())

	var de *image.DecodeError
	var ae *analysis.AnalysisError
	switch {
	case errors.As(err, &de):
		log.Error().Err(err).Msg("decode failed")
		writeErr(w, http.StatusInternalServerError, "decode_failed", "Image could not be decoded")
	case errors.As(err, &ae):
		log.Error().Err(err).Str("op", ae.Op).Msg("analysis failed")
		writeErr(w, http.StatusInternalServerError, "analysis_failed", "Document analysis failed")
	default:
		log.Error().Err(err).Msg("extraction failed")
		writeErr(w, http.StatusInternalServerError, "internal_error", msgInternal)
	}
}

// requestOrigin returns PUBLIC_BASE_URL when set, else the scheme and host of
// the inbound request.
func requestOrigin(r *http.Request) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if p := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); p == "https" || p == "http" {
		scheme = p
	}
	return scheme + "://" + r.Host
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

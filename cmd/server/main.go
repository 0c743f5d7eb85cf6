package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/signature-extraction-service/internal/analysis"
	"github.com/toricodesthings/signature-extraction-service/internal/config"
	"github.com/toricodesthings/signature-extraction-service/internal/extract"
	"github.com/toricodesthings/signature-extraction-service/internal/image"
	"github.com/toricodesthings/signature-extraction-service/internal/logger"
)

const version = "1.0.0"

// extractor is the pipeline surface the handlers depend on.
type extractor interface {
	ExtractSignatures(ctx context.Context, filePath string) (extract.SignatureResult, error)
	ExtractText(ctx context.Context, filePath string) (extract.TextResult, error)
}

var (
	cfg config.Config

	requestSem *semaphore.Weighted
	svc        extractor

	metrics = &serverMetrics{}
)

func main() {
	logger.Init(logger.FromEnv())
	log := logger.Named("server")

	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("validate config")
	}

	if err := extract.OutputDir(cfg.OutputDir).Ensure(); err != nil {
		log.Fatal().Err(err).Msg("prepare output directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyzer, err := analysis.NewTextract(ctx, analysis.Options{
		Region:  cfg.AWSRegion,
		Timeout: cfg.AnalysisTimeout,
		Limiter: analysis.NewLimiter(cfg.MaxAnalysisConcurrent, cfg.AnalysisRatePerSec),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init textract")
	}

	svc = extract.New(analyzer, image.PNGCropper{}, extract.Options{
		OutputDir:   cfg.OutputDir,
		CropWorkers: cfg.CropWorkers,
		FormsReport: cfg.FormsReport,
	})
	requestSem = semaphore.NewWeighted(cfg.MaxConcurrentRequests)

	srv := &http.Server{
		Handler:           newRouter(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Port).Msg("listen")
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	go logStats(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	log.Info().
		Str("addr", ln.Addr().String()).
		Int64("maxConcurrent", cfg.MaxConcurrentRequests).
		Int64("maxAnalysis", cfg.MaxAnalysisConcurrent).
		Str("outputDir", cfg.OutputDir).
		Msg("sigextract listening")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("serve")
		}
		return
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
}

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(withRequestLogger)
	r.Use(withRecovery)
	r.Use(withCORS(cfg.CORSAllowedOrigins))

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)
	r.Get("/metrics", handleMetrics)

	r.Route("/api", func(api chi.Router) {
		api.Post("/extract-signature", withConcurrencyLimit(handleExtractSignature))
		api.Post("/extract-data", withConcurrencyLimit(handleExtractData))
	})

	static := http.StripPrefix(cfg.PublicPath, http.FileServer(http.Dir(cfg.OutputDir)))
	r.Handle(cfg.PublicPath+"/*", withoutDirListing(static))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusNotFound, "not_found", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
	return r
}

func logStats(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	log := logger.Named("stats")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			total, active := metrics.get()
			log.Info().
				Int64("active", active).
				Int64("total", total).
				Int("goroutines", runtime.NumGoroutine()).
				Uint64("memMB", m.Alloc/(1<<20)).
				Msg("stats")
		}
	}
}

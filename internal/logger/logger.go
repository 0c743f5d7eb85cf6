// Package logger wraps zerolog with process-wide defaults and request-scoped
// child loggers.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	Level   string
	Format  string // "console" or "json"
	Service string
	Writer  io.Writer
}

// FromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_SERVICE.
func FromEnv() Options {
	return Options{
		Level:   strings.ToLower(envOr("LOG_LEVEL", "info")),
		Format:  strings.ToLower(envOr("LOG_FORMAT", "console")),
		Service: envOr("LOG_SERVICE", "sigextract"),
	}
}

// Logger is the project-wide logging type.
type Logger = zerolog.Logger

var (
	once   sync.Once
	root   atomic.Pointer[zerolog.Logger]
	inited atomic.Bool
)

// Init builds the root logger. Only the first call has any effect.
func Init(opt Options) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano

		var w io.Writer = os.Stdout
		if opt.Writer != nil {
			w = opt.Writer
		}
		if opt.Format == "console" {
			w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		}

		ctx := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp()
		if opt.Service != "" {
			ctx = ctx.Str("service", opt.Service)
		}
		log := ctx.Logger()

		root.Store(&log)
		inited.Store(true)
	})
}

// Get returns the root logger, initializing it from the environment on first use.
func Get() *Logger {
	if !inited.Load() {
		Init(FromEnv())
	}
	return root.Load()
}

// Named returns a child logger tagged with a component field.
func Named(component string) *Logger {
	if component == "" {
		return Get()
	}
	l := Get().With().Str("component", component).Logger()
	return &l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := zerolog.Nop()
	return &l
}

type ctxKey struct{ name string }

var keyRequestID = ctxKey{"request_id"}

// WithRequest stores the request id on ctx for C.
func WithRequest(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		return ctx
	}
	return context.WithValue(ctx, keyRequestID, reqID)
}

// RequestID returns the id stored by WithRequest.
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(keyRequestID).(string)
	return s
}

// C returns a child of the root logger carrying the request id from ctx.
func C(ctx context.Context) *Logger {
	l := Get().With()
	if id := RequestID(ctx); id != "" {
		l = l.Str("request_id", id)
	}
	ll := l.Logger()
	return &ll
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

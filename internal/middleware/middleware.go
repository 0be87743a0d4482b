package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/config"
)

const (
	// AuthHeaderName is the API key request header.
	AuthHeaderName = "X-API-Key"
	// AuthQueryParam is the API key query fallback.
	AuthQueryParam = "api_key"
)

// NewLogger creates a new zap logger based on configuration.
func NewLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config

	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

// LoggingMiddleware logs HTTP requests.
type LoggingMiddleware struct {
	logger *zap.Logger
}

type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// NewLoggingMiddleware creates a new request logging middleware.
func NewLoggingMiddleware(logger *zap.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Handler wraps an http.Handler with request logging.
func (l *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start)

		l.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Int("size", rw.size),
			zap.Duration("duration", duration),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// AuthMiddleware enforces the master API key on non-skip paths.
type AuthMiddleware struct {
	cfg    config.AuthConfig
	logger *zap.Logger
}

// NewAuthMiddleware creates a new API key auth middleware.
func NewAuthMiddleware(cfg config.AuthConfig, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, logger: logger}
}

// Handler wraps an http.Handler with API key checking.
func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || a.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(AuthHeaderName)
		if key == "" {
			key = r.URL.Query().Get(AuthQueryParam)
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(a.cfg.MasterKey)) != 1 {
			a.logger.Warn("rejected request with bad API key",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *AuthMiddleware) skip(path string) bool {
	for _, p := range a.cfg.SkipPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

package middleware

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/heliumhq/helium-go/internal/config"
	"github.com/heliumhq/helium-go/internal/metrics"
)

// RateLimitMiddleware applies a process-wide token bucket to incoming
// requests.
type RateLimitMiddleware struct {
	cfg     config.RateLimitConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRateLimitMiddleware creates a new rate limiting middleware.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger, m *metrics.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		logger:  logger,
		metrics: m,
	}
}

// Handler wraps an http.Handler with rate limiting.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.limiter.Allow() {
			if rl.metrics != nil {
				rl.metrics.RateLimitHits.WithLabelValues(r.URL.Path).Inc()
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// RecoveryMiddleware converts handler panics into 500 responses. It sits
// outermost in the chain; one bad request must never take the process
// down. Listener panics inside the event bus are isolated separately,
// this covers the synchronous request path only.
type RecoveryMiddleware struct {
	logger *zap.Logger
}

// NewRecoveryMiddleware creates a new panic recovery middleware.
func NewRecoveryMiddleware(logger *zap.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

// Handler wraps an http.Handler with panic recovery.
func (rm *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			rm.logger.Error("request handler panicked",
				zap.Any("panic", v),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Stack("stack"),
			)

			// The handler may have started writing already; this write
			// fails silently in that case, which is the best we can do.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"internal server error"}`))
		}()

		next.ServeHTTP(w, r)
	})
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"nmhealth-go/internal/reqcontext"
)

// RequestIDMiddleware takes the client's X-Request-Id when it is valid and
// generates a UUID otherwise. The ID goes into the context and the response
// header before the handler runs.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := reqcontext.IDFromHeader(r.Header.Get(reqcontext.Header))
		w.Header().Set(reqcontext.Header, requestID)

		ctx := reqcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLoggerMiddleware stores a logger tagged with the request ID in the
// context and logs every request once it completes. Register it after
// RequestIDMiddleware.
func RequestLoggerMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestLogger := logger.With("request_id", reqcontext.RequestID(r.Context()))
			ctx := reqcontext.WithLogger(r.Context(), requestLogger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			requestLogger.Debugw("HTTP API Request",
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start))
		})
	}
}

package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"imagepipe/internal/logging"
)

// bearerAuth returns a middleware that validates bearer tokens.
// If token is empty, no authentication is required and all requests pass through.
// Otherwise, requests must include "Authorization: Bearer <token>" header.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				RespondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			presented := strings.TrimPrefix(auth, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				RespondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request once the handler returns.
// Long-lived event streams log when the client disconnects.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []logging.Attr{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", status),
				logging.Int("bytes", ww.BytesWritten()),
				logging.Duration("duration", time.Since(start)),
				logging.String("remote", r.RemoteAddr),
			}
			if id := middleware.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, logging.String(logging.FieldCorrelationID, id))
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Warn("http request failed", logging.Args(attrs...)...)
			case r.URL.Path == "/healthz":
				logger.Debug("http request", logging.Args(attrs...)...)
			default:
				logger.Info("http request", logging.Args(attrs...)...)
			}
		})
	}
}

package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safemasking/masking-api/pkg/requestid"
	"go.uber.org/zap"
)

// CallerFunc names the authenticated caller of a request, or "" for the
// unauthenticated routes such as the worker callback.
type CallerFunc func(ctx context.Context) string

// Logger writes one access log line per request. The job id of the route and
// the caller recorded by RecordCaller are added when known, so every line of
// a job's history can be found by job_id.
func Logger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// the caller is only known once the authenticator ran further down
			var callerID string
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), callerSlotKey{}, &callerID)))

			fields := []zap.Field{
				zap.String("request_id", requestid.FromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.Int("response_bytes", ww.BytesWritten()),
				zap.String("ip", clientIP(r)),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if jobID := rctx.URLParam("id"); jobID != "" {
					fields = append(fields, zap.String("job_id", jobID))
				}
			}
			if callerID != "" {
				fields = append(fields, zap.String("owner_id", callerID))
			}

			logger := zap.L().Named("http")
			switch {
			case ww.Status() >= 500:
				logger.Error("request completed", fields...)
			case ww.Status() >= 400:
				logger.Warn("request completed", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}

type callerSlotKey struct{}

// RecordCaller stores the authenticated caller for the access log. It is
// mounted after the authenticator.
func RecordCaller(caller CallerFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slot, ok := r.Context().Value(callerSlotKey{}).(*string); ok {
				*slot = caller(r.Context())
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

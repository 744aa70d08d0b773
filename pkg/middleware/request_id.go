package middleware

import (
	"net/http"

	"github.com/safemasking/masking-api/pkg/requestid"
)

// RequestID tags the request context with the caller's X-Request-Id, or a new
// one, and returns it in the response so that a client polling a job can
// quote it when reporting a failure.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestid.Sanitize(r.Header.Get(requestid.Header))
		w.Header().Set(requestid.Header, id)
		next.ServeHTTP(w, r.WithContext(requestid.NewContext(r.Context(), id)))
	})
}

package opsx

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
)

// HeaderCorrelationID lets callers tag a request with the workflow they
// are investigating, so the daemon's logs for that request join the trail.
const HeaderCorrelationID = "X-Correlation-ID"

// AttachCorrelation lifts the caller's correlation ID into the request
// context. Without one the chi request ID stands in, so every log line
// stays greppable either way.
func AttachCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = middleware.GetReqID(r.Context())
		}
		next.ServeHTTP(w, r.WithContext(telemetry.WithCorrelationID(r.Context(), id)))
	})
}

package opsx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
)

func TestAttachCorrelationPrefersHeader(t *testing.T) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(AttachCorrelation)

	var got string
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		got = telemetry.CorrelationIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "corr-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "corr-1", got)
}

func TestAttachCorrelationFallsBackToRequestID(t *testing.T) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(AttachCorrelation)

	var got string
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		got = telemetry.CorrelationIDFromContext(r.Context())
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, got)
}

// Package opsx is the operational HTTP surface of the settlement daemon:
// liveness, Prometheus metrics, the audit-trail endpoints and the cached
// credit-status read. It carries no business mutations; every write path
// goes through the settlement service.
package opsx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(handler *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(AttachCorrelation)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handler.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/audit/events/{eventID}", handler.AuditEvent)
	r.Get("/audit/correlations/{correlationID}", handler.AuditCorrelation)
	r.Get("/credit/{customerID}", handler.CreditStatus)
	return r
}

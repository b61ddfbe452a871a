package opsx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/audit"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/creditview"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
)

// Handler serves the operational endpoints. The credit view may be nil
// when the daemon runs without Redis; the endpoint then answers 503.
type Handler struct {
	store     *ledger.Store
	validator *audit.Validator
	credit    *creditview.View
}

func NewHandler(store *ledger.Store, validator *audit.Validator, credit *creditview.View) *Handler {
	return &Handler{store: store, validator: validator, credit: credit}
}

// Healthz answers 200 while the store is reachable.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unreachable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AuditEvent runs the trail checks for a single recorded event.
func (h *Handler) AuditEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event_id_required", "")
		return
	}

	report, err := h.validator.ValidateEvent(r.Context(), eventID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event_not_found", "no recorded event "+eventID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// AuditCorrelation runs the trail checks for every event of one workflow.
func (h *Handler) AuditCorrelation(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "correlation_id_required", "")
		return
	}

	report, err := h.validator.ValidateCorrelation(r.Context(), correlationID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "correlation_not_found", "no events under correlation "+correlationID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CreditStatus serves the cached credit line for a customer.
func (h *Handler) CreditStatus(w http.ResponseWriter, r *http.Request) {
	if h.credit == nil {
		writeError(w, http.StatusServiceUnavailable, "credit_view_disabled", "")
		return
	}
	customerID := chi.URLParam(r, "customerID")
	if customerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id_required", "")
		return
	}

	status, err := h.credit.GetCreditStatus(r.Context(), customerID)
	if domain.IsKind(err, domain.ErrCustomerNotFound) {
		writeError(w, http.StatusNotFound, "customer_not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "credit_view_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}

// internal/api/handler/ledger.go
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"finthos-payments/internal/api/types"
	"finthos-payments/internal/domain"
	"finthos-payments/internal/payment"
	"finthos-payments/internal/reconcile"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

// LedgerHandler serves balances, ledger history and reconciliation.
type LedgerHandler struct {
	responder
	service    payment.Orchestrator
	reconciler *reconcile.Engine
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(svc payment.Orchestrator, reconciler *reconcile.Engine, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{responder: newResponder(logger), service: svc, reconciler: reconciler}
}

// GetBalance returns one account balance.
// GET /ledger/balances/{userID}/{currency}
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetAccountBalance(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "currency"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, balance)
}

// GetBalanceHistory lists the entries of one balance in posting order.
// GET /ledger/balances/{userID}/{currency}/history?start=&end=
func (h *LedgerHandler) GetBalanceHistory(w http.ResponseWriter, r *http.Request) {
	start, err := timeParam(r, "start")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	end, err := timeParam(r, "end")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	entries, err := h.service.GetBalanceHistory(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "currency"), start, end)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, entries)
}

// GetTransactionHistory lists ledger entries of a user.
// GET /ledger/transactions/{userID}?currency=&type=&start=&end=&limit=&offset=
func (h *LedgerHandler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	filter := repository.EntryFilter{
		UserID:   chi.URLParam(r, "userID"),
		Currency: r.URL.Query().Get("currency"),
		Type:     domain.EntryType(r.URL.Query().Get("type")),
		Limit:    limit,
		Offset:   offset,
	}
	switch filter.Type {
	case "", domain.EntryTypeDebit, domain.EntryTypeCredit:
	default:
		h.respondWithError(w, &util.ValidationError{Errors: []string{"type must be debit or credit"}})
		return
	}
	if filter.Start, err = timeParam(r, "start"); err != nil {
		h.respondWithError(w, err)
		return
	}
	if filter.End, err = timeParam(r, "end"); err != nil {
		h.respondWithError(w, err)
		return
	}

	entries, total, err := h.service.GetTransactionHistory(r.Context(), filter)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.PaginatedResponse[domain.LedgerEntry]{
		Data:       entries,
		Limit:      limit,
		Offset:     offset,
		TotalCount: total,
	})
}

// ReconcileRequest represents the request body for a reconciliation run.
type ReconcileRequest struct {
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required,gtfield=PeriodStart"`
}

// Reconcile runs reconciliation for a period.
// POST /ledger/reconcile
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	report, err := h.reconciler.Reconcile(r.Context(), req.PeriodStart, req.PeriodEnd)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, report)
}

// ListReports returns recent reconciliation reports.
// GET /ledger/reconcile/reports?limit=
func (h *LedgerHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			h.respondWithError(w, &util.ValidationError{Errors: []string{"limit must be between 1 and 100"}})
			return
		}
		limit = n
	}
	reports, err := h.reconciler.Reports(r.Context(), limit)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, reports)
}

// internal/api/router.go
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"finthos-payments/internal/api/handler"
)

// NewRouter sets up and returns a new HTTP router.
func NewRouter(payments *handler.PaymentHandler, ledger *handler.LedgerHandler, requestTimeout time.Duration, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/send", payments.SendMoney)
		r.Post("/receive/{transactionID}", payments.ReceiveMoney)
		r.Post("/request", payments.RequestMoney)
		r.Post("/request/{transactionID}/approve", payments.ApproveRequest)
		r.Post("/{transactionID}/cancel", payments.CancelTransaction)
		r.Post("/refund/{transactionID}", payments.ProcessRefund)
		r.Post("/deposit", payments.Deposit)
		r.Post("/withdraw", payments.Withdraw)
		r.Post("/methods", payments.AddPaymentMethod)
		r.Get("/methods/{userID}", payments.GetPaymentMethods)
		r.Post("/contacts", payments.RegisterContact)
		r.Get("/transactions/{userID}", payments.GetUserTransactions)
		r.Get("/transactions/detail/{transactionID}", payments.GetTransaction)
	})

	r.Route("/ledger", func(r chi.Router) {
		r.Get("/balances/{userID}/{currency}", ledger.GetBalance)
		r.Get("/balances/{userID}/{currency}/history", ledger.GetBalanceHistory)
		r.Get("/transactions/{userID}", ledger.GetTransactionHistory)
		r.Post("/reconcile", ledger.Reconcile)
		r.Get("/reconcile/reports", ledger.ListReports)
	})

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

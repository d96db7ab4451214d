// internal/api/handler/payment.go
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"finthos-payments/internal/api/types"
	"finthos-payments/internal/domain"
	"finthos-payments/internal/payment"
)

// PaymentHandler handles HTTP requests for the payment pipeline.
type PaymentHandler struct {
	responder
	service payment.Orchestrator
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc payment.Orchestrator, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{responder: newResponder(logger), service: svc}
}

// SendMoneyRequest represents the request body for a transfer.
type SendMoneyRequest struct {
	FromUserID      string          `json:"from_user_id" validate:"required"`
	ToUserID        string          `json:"to_user_id"`
	ToEmail         string          `json:"to_email" validate:"omitempty,email"`
	ToPhone         string          `json:"to_phone" validate:"omitempty,e164"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required,len=3|len=4"`
	Description     string          `json:"description" validate:"max=255"`
	Priority        domain.Priority `json:"priority" validate:"omitempty,oneof=standard express instant"`
	PaymentMethodID string          `json:"payment_method_id"`
}

// SendMoney queues a transfer.
// POST /payments/send
func (h *PaymentHandler) SendMoney(w http.ResponseWriter, r *http.Request) {
	var req SendMoneyRequest
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	res, err := h.service.SendMoney(r.Context(), payment.TransferRequest{
		FromUserID:      req.FromUserID,
		ToUserID:        req.ToUserID,
		ToEmail:         req.ToEmail,
		ToPhone:         req.ToPhone,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Description:     req.Description,
		Priority:        req.Priority,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusAccepted, res)
}

// PartyRequest names the user acting on an existing transaction.
type PartyRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Reason string `json:"reason" validate:"max=255"`
}

// ReceiveMoney settles a pending transfer for its recipient.
// POST /payments/receive/{transactionID}
func (h *PaymentHandler) ReceiveMoney(w http.ResponseWriter, r *http.Request) {
	var req PartyRequest
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	txn, err := h.service.ReceiveMoney(r.Context(), chi.URLParam(r, "transactionID"), req.UserID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, txn)
}

// MoneyRequestBody represents the request body for requesting money.
type MoneyRequestBody struct {
	RequesterID string          `json:"requester_id" validate:"required"`
	PayerID     string          `json:"payer_id" validate:"required,nefield=RequesterID"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"required"`
	Description string          `json:"description" validate:"max=255"`
}

// RequestMoney records a money request.
// POST /payments/request
func (h *PaymentHandler) RequestMoney(w http.ResponseWriter, r *http.Request) {
	var req MoneyRequestBody
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	txn, err := h.service.RequestMoney(r.Context(), payment.MoneyRequest{
		RequesterID: req.RequesterID,
		PayerID:     req.PayerID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, txn)
}

// ApproveRequest is the payer accepting a money request.
// POST /payments/request/{transactionID}/approve
func (h *PaymentHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var req PartyRequest
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	txn, err := h.service.ApproveRequest(r.Context(), chi.URLParam(r, "transactionID"), req.UserID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusAccepted, txn)
}

// CancelTransaction cancels a pending transaction.
// POST /payments/{transactionID}/cancel
func (h *PaymentHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	var req PartyRequest
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	txn, err := h.service.CancelTransaction(r.Context(), chi.URLParam(r, "transactionID"), req.UserID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, txn)
}

// ProcessRefund queues the refund of a completed transaction.
// POST /payments/refund/{transactionID}
func (h *PaymentHandler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	var req PartyRequest
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	txn, err := h.service.ProcessRefund(r.Context(), chi.URLParam(r, "transactionID"), req.UserID, req.Reason)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusAccepted, txn)
}

// FundingRequestBody represents the request body for deposits and withdrawals.
type FundingRequestBody struct {
	UserID          string          `json:"user_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required"`
	PaymentMethodID string          `json:"payment_method_id"`
	Description     string          `json:"description" validate:"max=255"`
	Priority        domain.Priority `json:"priority" validate:"omitempty,oneof=standard express instant"`
}

func (b FundingRequestBody) toRequest() payment.FundingRequest {
	return payment.FundingRequest{
		UserID:          b.UserID,
		Amount:          b.Amount,
		Currency:        b.Currency,
		PaymentMethodID: b.PaymentMethodID,
		Description:     b.Description,
		Priority:        b.Priority,
	}
}

// Deposit queues a deposit.
// POST /payments/deposit
func (h *PaymentHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req FundingRequestBody
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	txn, err := h.service.Deposit(r.Context(), req.toRequest())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusAccepted, txn)
}

// Withdraw queues a withdrawal.
// POST /payments/withdraw
func (h *PaymentHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req FundingRequestBody
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	txn, err := h.service.Withdraw(r.Context(), req.toRequest())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusAccepted, txn)
}

// PaymentMethodBody represents the request body for adding a payment method.
type PaymentMethodBody struct {
	UserID    string                   `json:"user_id" validate:"required"`
	Type      domain.PaymentMethodType `json:"type" validate:"required,oneof=bank_account card crypto_wallet"`
	Provider  domain.PaymentProvider   `json:"provider" validate:"required,oneof=stripe plaid metamask internal"`
	Last4     string                   `json:"last4" validate:"required,len=4,numeric"`
	IsDefault bool                     `json:"is_default"`
}

// AddPaymentMethod registers a payment method.
// POST /payments/methods
func (h *PaymentHandler) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req PaymentMethodBody
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	method, err := h.service.AddPaymentMethod(r.Context(), payment.PaymentMethodRequest{
		UserID:    req.UserID,
		Type:      req.Type,
		Provider:  req.Provider,
		Last4:     req.Last4,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, method)
}

// GetPaymentMethods lists a user's payment methods.
// GET /payments/methods/{userID}
func (h *PaymentHandler) GetPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.GetPaymentMethods(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, methods)
}

// ContactBody represents the request body for registering contact handles.
type ContactBody struct {
	UserID string `json:"user_id" validate:"required"`
	Email  string `json:"email" validate:"required_without=Phone,omitempty,email"`
	Phone  string `json:"phone" validate:"required_without=Email,omitempty,e164"`
}

// RegisterContact makes a user reachable by email or phone.
// POST /payments/contacts
func (h *PaymentHandler) RegisterContact(w http.ResponseWriter, r *http.Request) {
	var req ContactBody
	if err := h.bind(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	contact, err := h.service.RegisterContact(r.Context(), req.UserID, req.Email, req.Phone)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, contact)
}

// GetUserTransactions lists the transactions of a user.
// GET /payments/transactions/{userID}?limit=&offset=
func (h *PaymentHandler) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	txns, total, err := h.service.GetUserTransactions(r.Context(), chi.URLParam(r, "userID"), limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.PaginatedResponse[domain.Transaction]{
		Data:       txns,
		Limit:      limit,
		Offset:     offset,
		TotalCount: total,
	})
}

// GetTransaction returns one transaction.
// GET /payments/transactions/detail/{transactionID}
func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, txn)
}

// internal/api/handler/respond.go
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"finthos-payments/internal/api/types"
	"finthos-payments/internal/util"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// responder holds the helpers shared by every handler.
type responder struct {
	validate *validator.Validate
	logger   *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{validate: validator.New(validator.WithRequiredStructEnabled()), logger: logger}
}

// respondWithJSON sends payload with the given status code.
func (h responder) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError maps the error taxonomy to HTTP status codes.
func (h responder) respondWithError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	body := types.ErrorResponse{Error: "Internal server error"}

	var validationErr *util.ValidationError
	switch {
	case errors.As(err, &validationErr):
		statusCode = http.StatusBadRequest
		body = types.ErrorResponse{Error: "Validation failed", Details: validationErr.Errors, Warnings: validationErr.Warnings}
	case util.IsError(err, util.ErrValidation):
		statusCode = http.StatusBadRequest
		body.Error = err.Error()
	case util.IsError(err, util.ErrLimitExceeded):
		statusCode = http.StatusUnprocessableEntity
		body.Error = err.Error()
	case util.IsError(err, util.ErrInsufficientFunds):
		statusCode = http.StatusPaymentRequired
		body.Error = "Insufficient funds"
	case util.IsError(err, util.ErrUnauthorized):
		statusCode = http.StatusForbidden
		body.Error = "Operation not permitted for this user"
	case util.IsError(err, util.ErrNotFound):
		statusCode = http.StatusNotFound
		body.Error = "Resource not found"
	case util.IsError(err, util.ErrInvalidState), util.IsError(err, util.ErrDuplicateEntry):
		statusCode = http.StatusConflict
		body.Error = err.Error()
	default:
		h.logger.Error("Unhandled service error", "error", err)
	}

	h.respondWithJSON(w, statusCode, body)
}

// bind decodes a JSON body into dst and runs its validate tags.
func (h responder) bind(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &util.ValidationError{Errors: []string{"invalid request body: " + err.Error()}}
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
			}
			return &util.ValidationError{Errors: msgs}
		}
		return fmt.Errorf("%w: %v", util.ErrValidation, err)
	}
	return nil
}

// page reads limit and offset query parameters.
func page(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 || limit > maxPageSize {
			return 0, 0, &util.ValidationError{Errors: []string{fmt.Sprintf("limit must be between 1 and %d", maxPageSize)}}
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, &util.ValidationError{Errors: []string{"offset must not be negative"}}
		}
	}
	return limit, offset, nil
}

// timeParam reads an optional RFC 3339 query parameter.
func timeParam(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &util.ValidationError{Errors: []string{key + " must be an RFC 3339 timestamp"}}
	}
	return t, nil
}

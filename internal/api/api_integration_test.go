package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "finthos-payments/internal"
	"finthos-payments/internal/domain"
)

// testApp is the global application instance for testing.
var testApp *app.Application

// testServer is the httptest server.
var testServer *httptest.Server

// TestMain builds a self-contained application on the in-memory store and runs all tests against it.
func TestMain(m *testing.M) {
	setupEnvVars()

	testApp = app.NewApplication()
	if err := testApp.Initialize(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize test application: %v\n", err)
		os.Exit(1)
	}
	if err := testApp.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start test application: %v\n", err)
		os.Exit(1)
	}

	testServer = httptest.NewServer(testApp.HTTPHandler)

	code := m.Run()

	testServer.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := testApp.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to shutdown test application: %v\n", err)
		os.Exit(1)
	}

	os.Exit(code)
}

// setupEnvVars points the application at in-process backends with no settlement delay.
func setupEnvVars() {
	env := map[string]string{
		"DB_DRIVER":                 "memory",
		"PAYMENTS_SETTLEMENT_DELAY": "0s",
		"WORKER_BACKOFF_INITIAL":    "5ms",
		"WORKER_BACKOFF_MAX":        "20ms",
		"RECONCILIATION_ENABLED":    "false",
		"LOG_LEVEL":                 "error",
	}
	for k, v := range env {
		os.Setenv(k, v)
	}
	os.Unsetenv("REDIS_URL")
	os.Unsetenv("KAFKA_BROKERS")
}

// makeRequest sends an HTTP request to the test server and returns the response with its body.
func makeRequest(t *testing.T, method, path string, body string) (*http.Response, string) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, testServer.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(respBody)
}

func decode[T any](t *testing.T, body string) T {
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v), body)
	return v
}

// waitForStatus polls a transaction until it reaches want.
func waitForStatus(t *testing.T, id string, want domain.TransactionStatus) domain.Transaction {
	var txn domain.Transaction
	require.Eventually(t, func() bool {
		resp, body := makeRequest(t, http.MethodGet, "/payments/transactions/detail/"+id, "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		txn = decode[domain.Transaction](t, body)
		return txn.Status == want
	}, 5*time.Second, 20*time.Millisecond, "transaction %s never reached %s", id, want)
	return txn
}

func balanceOf(t *testing.T, userID, currency string) decimal.Decimal {
	resp, body := makeRequest(t, http.MethodGet, fmt.Sprintf("/ledger/balances/%s/%s", userID, currency), "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return decode[domain.AccountBalance](t, body).Available
}

func deposit(t *testing.T, userID, amount string) {
	resp, body := makeRequest(t, http.MethodPost, "/payments/deposit",
		fmt.Sprintf(`{"user_id": %q, "amount": %q, "currency": "USD", "priority": "instant"}`, userID, amount))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	waitForStatus(t, decode[domain.Transaction](t, body).ID, domain.TransactionStatusCompleted)
}

func TestHealth(t *testing.T) {
	resp, body := makeRequest(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
}

func TestSendMoneyIntegration(t *testing.T) {
	deposit(t, "it-alice", "100")

	resp, body := makeRequest(t, http.MethodPost, "/payments/send",
		`{"from_user_id": "it-alice", "to_user_id": "it-bob", "amount": "40", "currency": "USD"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	var result struct {
		Transaction domain.Transaction `json:"transaction"`
		Warnings    []string           `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	assert.Equal(t, domain.TransactionStatusPending, result.Transaction.Status)
	assert.Equal(t, "0.4", result.Transaction.Fee.String())

	done := waitForStatus(t, result.Transaction.ID, domain.TransactionStatusCompleted)
	require.NotNil(t, done.ProviderReference)

	assert.Equal(t, "59.6", balanceOf(t, "it-alice", "USD").String())
	assert.Equal(t, "40", balanceOf(t, "it-bob", "USD").String())

	t.Run("history lists the debits of the sender", func(t *testing.T) {
		resp, body := makeRequest(t, http.MethodGet, "/ledger/transactions/it-alice?type=debit", "")
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		page := decode[struct {
			Data       []domain.LedgerEntry `json:"data"`
			TotalCount int                  `json:"total_count"`
		}](t, body)
		assert.Equal(t, 2, page.TotalCount)
		for _, e := range page.Data {
			assert.Equal(t, domain.EntryTypeDebit, e.Type)
		}
	})

	t.Run("refund by the recipient restores both balances", func(t *testing.T) {
		resp, body := makeRequest(t, http.MethodPost, "/payments/refund/"+result.Transaction.ID,
			`{"user_id": "it-bob", "reason": "duplicate"}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
		waitForStatus(t, decode[domain.Transaction](t, body).ID, domain.TransactionStatusCompleted)

		assert.Equal(t, "100", balanceOf(t, "it-alice", "USD").String())
		assert.True(t, balanceOf(t, "it-bob", "USD").IsZero())

		resp, _ = makeRequest(t, http.MethodPost, "/payments/refund/"+result.Transaction.ID,
			`{"user_id": "it-bob", "reason": "again"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestSendMoneyErrorsIntegration(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "malformed body",
			body:       `{"from_user_id": `,
			wantStatus: http.StatusBadRequest,
			wantBody:   "invalid request body",
		},
		{
			name:       "missing sender",
			body:       `{"to_user_id": "it-bob", "amount": "10", "currency": "USD"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Validation failed",
		},
		{
			name:       "unsupported currency",
			body:       `{"from_user_id": "it-carol", "to_user_id": "it-bob", "amount": "10", "currency": "JPY"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "JPY",
		},
		{
			name:       "non-positive amount",
			body:       `{"from_user_id": "it-carol", "to_user_id": "it-bob", "amount": "0", "currency": "USD"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "amount",
		},
		{
			name:       "send to self",
			body:       `{"from_user_id": "it-carol", "to_user_id": "it-carol", "amount": "10", "currency": "USD"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Validation failed",
		},
		{
			name:       "unknown email",
			body:       `{"from_user_id": "it-carol", "to_email": "nobody@example.com", "amount": "10", "currency": "USD"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "recipient not found",
		},
		{
			name:       "above the per-transaction limit",
			body:       `{"from_user_id": "it-carol", "to_user_id": "it-bob", "amount": "10000.01", "currency": "USD"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   "per-transaction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := makeRequest(t, http.MethodPost, "/payments/send", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, body)
			assert.Contains(t, body, tt.wantBody)
		})
	}

	resp, body := makeRequest(t, http.MethodGet, "/payments/transactions/it-carol", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, `"total_count":0`)
}

func TestInsufficientFundsFailsAsynchronously(t *testing.T) {
	deposit(t, "it-dave", "10")

	resp, body := makeRequest(t, http.MethodPost, "/payments/send",
		`{"from_user_id": "it-dave", "to_user_id": "it-erin", "amount": "50", "currency": "USD"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	var result struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	failed := waitForStatus(t, result.Transaction.ID, domain.TransactionStatusFailed)
	require.NotNil(t, failed.FailureReason)

	assert.Equal(t, "10", balanceOf(t, "it-dave", "USD").String())
	assert.True(t, balanceOf(t, "it-erin", "USD").IsZero())
}

func TestTransactionLookupsIntegration(t *testing.T) {
	t.Run("unknown transaction", func(t *testing.T) {
		resp, body := makeRequest(t, http.MethodGet, "/payments/transactions/detail/does-not-exist", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, body, "Resource not found")
	})

	t.Run("receive by someone else", func(t *testing.T) {
		resp, body := makeRequest(t, http.MethodPost, "/payments/request",
			`{"requester_id": "it-frank", "payer_id": "it-grace", "amount": "5", "currency": "USD"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
		id := decode[domain.Transaction](t, body).ID

		resp, _ = makeRequest(t, http.MethodPost, "/payments/request/"+id+"/approve", `{"user_id": "it-frank"}`)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, body = makeRequest(t, http.MethodPost, "/payments/"+id+"/cancel", `{"user_id": "it-grace"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.Equal(t, domain.TransactionStatusCancelled, decode[domain.Transaction](t, body).Status)

		resp, _ = makeRequest(t, http.MethodPost, "/payments/"+id+"/cancel", `{"user_id": "it-grace"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("balance in an unsupported currency", func(t *testing.T) {
		resp, _ := makeRequest(t, http.MethodGet, "/ledger/balances/it-alice/JPY", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad history filter", func(t *testing.T) {
		resp, _ := makeRequest(t, http.MethodGet, "/ledger/transactions/it-alice?type=sideways", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = makeRequest(t, http.MethodGet, "/ledger/transactions/it-alice?start=yesterday", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestReconcileIntegration(t *testing.T) {
	deposit(t, "it-heidi", "25")

	now := time.Now().UTC()
	resp, body := makeRequest(t, http.MethodPost, "/ledger/reconcile", fmt.Sprintf(
		`{"period_start": %q, "period_end": %q}`,
		now.Add(-time.Hour).Format(time.RFC3339), now.Add(time.Minute).Format(time.RFC3339)))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	report := decode[domain.ReconciliationReport](t, body)
	assert.Equal(t, domain.ReconciliationStatusCompleted, report.Status)
	assert.Positive(t, report.TotalTransactions)

	resp, body = makeRequest(t, http.MethodGet, "/ledger/reconcile/reports?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, report.ID)

	resp, _ = makeRequest(t, http.MethodPost, "/ledger/reconcile", fmt.Sprintf(
		`{"period_start": %q, "period_end": %q}`, now.Format(time.RFC3339), now.Add(-time.Hour).Format(time.RFC3339)))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

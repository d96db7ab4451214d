package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/repository/memory"
	"finthos-payments/internal/util"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestValidator_Validate(t *testing.T) {
	v := NewValidator([]string{"USD", "EUR", "BTC"}, dec("10000"))

	tests := []struct {
		name     string
		req      TransferRequest
		valid    bool
		errors   int
		warnings int
	}{
		{"valid", TransferRequest{FromUserID: "a", ToUserID: "b", Amount: dec("40"), Currency: "USD"}, true, 0, 0},
		{"recipient by email", TransferRequest{FromUserID: "a", ToEmail: "b@example.com", Amount: dec("1"), Currency: "EUR"}, true, 0, 0},
		{"zero amount", TransferRequest{FromUserID: "a", ToUserID: "b", Amount: decimal.Zero, Currency: "USD"}, false, 1, 0},
		{"negative amount", TransferRequest{FromUserID: "a", ToUserID: "b", Amount: dec("-0.01"), Currency: "USD"}, false, 1, 0},
		{"unsupported currency", TransferRequest{FromUserID: "a", ToUserID: "b", Amount: dec("1"), Currency: "XYZ"}, false, 1, 0},
		{"lowercase currency", TransferRequest{FromUserID: "a", ToUserID: "b", Amount: dec("1"), Currency: "usd"}, false, 1, 0},
		{"no recipient", TransferRequest{FromUserID: "a", Amount: dec("1"), Currency: "USD"}, false, 1, 0},
		{"self transfer", TransferRequest{FromUserID: "a", ToUserID: "a", Amount: dec("1"), Currency: "USD"}, false, 1, 0},
		{"bad priority", TransferRequest{FromUserID: "a", ToUserID: "b", Amount: dec("1"), Currency: "USD", Priority: "overnight"}, false, 1, 0},
		{"large amount warns", TransferRequest{FromUserID: "a", ToUserID: "b", Amount: dec("10000.01"), Currency: "USD"}, true, 0, 1},
		{"threshold itself does not warn", TransferRequest{FromUserID: "a", ToUserID: "b", Amount: dec("10000"), Currency: "USD"}, true, 0, 0},
		{"every error reported", TransferRequest{Amount: decimal.Zero, Currency: "XYZ"}, false, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.req)
			assert.Equal(t, tt.valid, res.IsValid)
			assert.Len(t, res.Errors, tt.errors)
			assert.Len(t, res.Warnings, tt.warnings)
			if tt.valid {
				assert.NoError(t, res.Err())
			} else {
				assert.ErrorIs(t, res.Err(), util.ErrValidation)
			}
		})
	}
}

func TestFeeCalculator_Compute(t *testing.T) {
	calc := NewFeeCalculator(FeeSchedule{
		BaseFee:              dec("0.25"),
		FeeRate:              dec("0.01"),
		NetworkFee:           dec("0.001"),
		NetworkFeeCurrencies: []string{"BTC", "ETH"},
	})

	tests := []struct {
		name     string
		amount   string
		currency string
		priority domain.Priority
		total    string
	}{
		{"percentage above base", "40", "USD", domain.PriorityStandard, "0.40"},
		{"base fee floor", "10", "USD", domain.PriorityStandard, "0.25"},
		{"express multiplier", "40", "USD", domain.PriorityExpress, "0.60"},
		{"instant multiplier", "40", "USD", domain.PriorityInstant, "0.80"},
		{"network fee for crypto", "1", "BTC", domain.PriorityStandard, "0.251"},
		{"network fee is not multiplied", "100", "ETH", domain.PriorityInstant, "2.001"},
		{"unknown priority falls back to standard", "40", "USD", "", "0.40"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee := calc.Compute(dec(tt.amount), tt.currency, tt.priority)
			assert.True(t, fee.TotalFee.Equal(dec(tt.total)), "got %s want %s", fee.TotalFee, tt.total)
			assert.True(t, fee.TotalFee.Equal(fee.ProcessingFee.Add(fee.NetworkFee)))
			assert.Equal(t, tt.currency, fee.Currency)
		})
	}

	t.Run("deterministic and exact", func(t *testing.T) {
		first := calc.Compute(dec("0.1"), "USD", domain.PriorityExpress)
		sum := decimal.Zero
		for i := 0; i < 1000; i++ {
			fee := calc.Compute(dec("0.1"), "USD", domain.PriorityExpress)
			require.Equal(t, first, fee)
			sum = sum.Add(fee.TotalFee)
		}
		assert.Equal(t, "375", sum.String())
		assert.True(t, dec(first.TotalFee.String()).Equal(first.TotalFee))
	})
}

func TestLimitChecker_Check(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	txns := store.Repositories().Transactions()

	checker := NewLimitChecker(Limits{PerTransaction: dec("1000"), Daily: dec("1500"), Monthly: dec("2000")})
	now := time.Now().UTC()
	checker.now = func() time.Time { return now }

	record := func(amount string, status domain.TransactionStatus) {
		txn := domain.NewTransaction(domain.TransactionTypeSend, domain.StringPtr("alice"), domain.StringPtr("bob"),
			dec(amount), "USD", decimal.Zero, domain.PriorityStandard, "", domain.NewSendMetadata(domain.SendDetails{}), now)
		txn.Status = status
		require.NoError(t, txns.Create(ctx, txn))
	}

	t.Run("per transaction", func(t *testing.T) {
		err := checker.Check(ctx, txns, "alice", dec("1000.01"), "USD")
		var limitErr *util.LimitError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, "per-transaction", limitErr.Limit)
		assert.ErrorIs(t, err, util.ErrLimitExceeded)
	})

	t.Run("daily counts earlier sends", func(t *testing.T) {
		record("900", domain.TransactionStatusCompleted)
		assert.NoError(t, checker.Check(ctx, txns, "alice", dec("600"), "USD"))

		err := checker.Check(ctx, txns, "alice", dec("600.01"), "USD")
		var limitErr *util.LimitError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, "daily", limitErr.Limit)
		assert.True(t, limitErr.Attempted.Equal(dec("1500.01")))
	})

	t.Run("failed and cancelled do not count", func(t *testing.T) {
		record("500", domain.TransactionStatusFailed)
		record("500", domain.TransactionStatusCancelled)
		assert.NoError(t, checker.Check(ctx, txns, "alice", dec("600"), "USD"))
	})

	t.Run("other currency and user are separate", func(t *testing.T) {
		assert.NoError(t, checker.Check(ctx, txns, "alice", dec("1000"), "EUR"))
		assert.NoError(t, checker.Check(ctx, txns, "bob", dec("1000"), "USD"))
	})

	t.Run("zero disables", func(t *testing.T) {
		open := NewLimitChecker(Limits{})
		assert.NoError(t, open.Check(ctx, txns, "alice", dec("1000000"), "USD"))
	})
}

func TestLimitChecker_ReserveSerializesSenders(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	checker := NewLimitChecker(Limits{Daily: dec("100")})

	var (
		wg               sync.WaitGroup
		mu               sync.Mutex
		created, limited int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
				if err := checker.Reserve(ctx, repos, "alice", dec("30"), "USD"); err != nil {
					return err
				}
				txn := domain.NewTransaction(domain.TransactionTypeSend, domain.StringPtr("alice"), domain.StringPtr("bob"),
					dec("30"), "USD", decimal.Zero, domain.PriorityStandard, "", domain.NewSendMetadata(domain.SendDetails{}), time.Now())
				return repos.Transactions().Create(ctx, txn)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, util.ErrLimitExceeded):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, created)
	assert.Equal(t, 7, limited)

	used, err := store.Repositories().Transactions().SumOutgoing(ctx, "alice", "USD", time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, used.Equal(dec("90")), "got %s", used)
}

func TestStaticRates(t *testing.T) {
	ctx := context.Background()
	rates := NewStaticRates(5 * time.Minute)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rates.now = func() time.Time { return now }

	rate, err := rates.Rate(ctx, "BTC", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("45000")))

	rate, _ = rates.Rate(ctx, "USD", "USD")
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))

	rate, _ = rates.Rate(ctx, "USD", "ETH")
	assert.True(t, rate.Mul(dec("3000")).Round(10).Equal(decimal.NewFromInt(1)))

	rate, _ = rates.Rate(ctx, "EUR", "USD")
	assert.True(t, rate.Equal(decimal.NewFromInt(1)), "unknown pair quotes 1")

	rates.Set("EUR", "USD", dec("1.08"))
	rate, _ = rates.Rate(ctx, "EUR", "USD")
	assert.True(t, rate.Equal(dec("1.08")))

	now = now.Add(6 * time.Minute)
	rate, _ = rates.Rate(ctx, "EUR", "USD")
	assert.True(t, rate.Equal(decimal.NewFromInt(1)), "stale quote falls back")

	rate, _ = rates.Rate(ctx, "BTC", "USD")
	assert.True(t, rate.Equal(dec("45000")), "reference rates never go stale")
}

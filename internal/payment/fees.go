// internal/payment/fees.go
package payment

import (
	"strings"

	"github.com/shopspring/decimal"

	"finthos-payments/internal/domain"
)

// FeeSchedule configures a FeeCalculator.
type FeeSchedule struct {
	BaseFee              decimal.Decimal
	FeeRate              decimal.Decimal
	NetworkFee           decimal.Decimal
	NetworkFeeCurrencies []string
}

var priorityMultipliers = map[domain.Priority]decimal.Decimal{
	domain.PriorityStandard: decimal.NewFromInt(1),
	domain.PriorityExpress:  decimal.RequireFromString("1.5"),
	domain.PriorityInstant:  decimal.NewFromInt(2),
}

// FeeCalculator computes fees; results are exact and never rounded.
type FeeCalculator struct {
	schedule FeeSchedule
	network  map[string]bool
}

// NewFeeCalculator creates a new FeeCalculator.
func NewFeeCalculator(schedule FeeSchedule) *FeeCalculator {
	network := make(map[string]bool, len(schedule.NetworkFeeCurrencies))
	for _, c := range schedule.NetworkFeeCurrencies {
		network[strings.ToUpper(c)] = true
	}
	return &FeeCalculator{schedule: schedule, network: network}
}

// Compute returns max(baseFee, amount*feeRate) * multiplier(priority) + networkFee(currency).
func (c *FeeCalculator) Compute(amount decimal.Decimal, currency string, priority domain.Priority) domain.FeeBreakdown {
	percentage := amount.Mul(c.schedule.FeeRate)
	processing := decimal.Max(c.schedule.BaseFee, percentage).Mul(multiplier(priority))
	network := decimal.Zero
	if c.network[currency] {
		network = c.schedule.NetworkFee
	}
	return domain.FeeBreakdown{
		BaseFee:       c.schedule.BaseFee,
		PercentageFee: percentage,
		NetworkFee:    network,
		ProcessingFee: processing,
		TotalFee:      processing.Add(network),
		Currency:      currency,
	}
}

func multiplier(p domain.Priority) decimal.Decimal {
	if m, ok := priorityMultipliers[p]; ok {
		return m
	}
	return priorityMultipliers[domain.PriorityStandard]
}

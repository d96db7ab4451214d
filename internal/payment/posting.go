// internal/payment/posting.go
package payment

import (
	"fmt"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/ledger"
)

// postingFor derives the ledger movement a transaction settles into. The sender's fee is its own leg
// to the platform fee account; a refund returns that fee from the fee account to the original sender.
func postingFor(txn *domain.Transaction, feeAccount string) ledger.Posting {
	p := ledger.NewPosting(txn.ID, txn.FromUserID, txn.ToUserID, txn.Amount, txn.Currency, describe(txn))
	switch {
	case txn.Metadata.Refund != nil:
		p = p.WithLeg(&feeAccount, txn.ToUserID, txn.Metadata.Refund.FeeReturned,
			fmt.Sprintf("fee returned for %s", txn.Metadata.Refund.OriginalTransactionID))
	case txn.FromUserID != nil && txn.Fee.IsPositive():
		p = p.WithLeg(txn.FromUserID, &feeAccount, txn.Fee, fmt.Sprintf("fee for %s", txn.ID))
	}
	return p
}

func describe(txn *domain.Transaction) string {
	if txn.Description != "" {
		return txn.Description
	}
	return fmt.Sprintf("%s %s", txn.Type, txn.ID)
}

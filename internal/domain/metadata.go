// internal/domain/metadata.go
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MetadataVersion is the current schema version of Metadata.
const MetadataVersion = 1

// MetadataKind selects which variant of Metadata is populated.
type MetadataKind string

const (
	MetadataKindSend    MetadataKind = "send"
	MetadataKindRequest MetadataKind = "request"
	MetadataKindRefund  MetadataKind = "refund"
	MetadataKindFunding MetadataKind = "funding"
)

// FeeBreakdown is the result of a fee computation.
type FeeBreakdown struct {
	BaseFee       decimal.Decimal `json:"base_fee"`
	PercentageFee decimal.Decimal `json:"percentage_fee"`
	NetworkFee    decimal.Decimal `json:"network_fee"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	TotalFee      decimal.Decimal `json:"total_fee"`
	Currency      string          `json:"currency"`
}

// SendDetails describes a sendMoney request.
type SendDetails struct {
	ToEmail         string       `json:"to_email,omitempty"`
	ToPhone         string       `json:"to_phone,omitempty"`
	PaymentMethodID string       `json:"payment_method_id,omitempty"`
	Fees            FeeBreakdown `json:"fees"`
}

// RequestDetails describes a money request awaiting the payer's approval.
type RequestDetails struct {
	RequestedBy string `json:"requested_by"`
	Approved    bool   `json:"approved"`
}

// RefundDetails links a refund to the transaction it reverses.
type RefundDetails struct {
	OriginalTransactionID string          `json:"original_transaction_id"`
	Reason                string          `json:"reason,omitempty"`
	FeeReturned           decimal.Decimal `json:"fee_returned"`
}

// FundingDetails describes a deposit or withdrawal against an external payment method.
type FundingDetails struct {
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

// Metadata is a closed, versioned variant: exactly one of the detail pointers is set, matching Kind.
type Metadata struct {
	Version int             `json:"version"`
	Kind    MetadataKind    `json:"kind"`
	Send    *SendDetails    `json:"send,omitempty"`
	Request *RequestDetails `json:"request,omitempty"`
	Refund  *RefundDetails  `json:"refund,omitempty"`
	Funding *FundingDetails `json:"funding,omitempty"`
}

func NewSendMetadata(d SendDetails) Metadata {
	return Metadata{Version: MetadataVersion, Kind: MetadataKindSend, Send: &d}
}

func NewRequestMetadata(d RequestDetails) Metadata {
	return Metadata{Version: MetadataVersion, Kind: MetadataKindRequest, Request: &d}
}

func NewRefundMetadata(d RefundDetails) Metadata {
	return Metadata{Version: MetadataVersion, Kind: MetadataKindRefund, Refund: &d}
}

func NewFundingMetadata(d FundingDetails) Metadata {
	return Metadata{Version: MetadataVersion, Kind: MetadataKindFunding, Funding: &d}
}

// KindFor returns the metadata variant a transaction type carries.
func KindFor(t TransactionType) MetadataKind {
	switch t {
	case TransactionTypeSend:
		return MetadataKindSend
	case TransactionTypeReceive:
		return MetadataKindRequest
	case TransactionTypeTransfer:
		return MetadataKindRefund
	default:
		return MetadataKindFunding
	}
}

// Validate checks that exactly the variant named by Kind is populated.
func (m Metadata) Validate() error {
	if m.Version != MetadataVersion {
		return fmt.Errorf("metadata: unsupported version %d", m.Version)
	}
	set := 0
	for _, present := range []bool{m.Send != nil, m.Request != nil, m.Refund != nil, m.Funding != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("metadata: expected exactly one variant, got %d", set)
	}
	var ok bool
	switch m.Kind {
	case MetadataKindSend:
		ok = m.Send != nil
	case MetadataKindRequest:
		ok = m.Request != nil
	case MetadataKindRefund:
		ok = m.Refund != nil
	case MetadataKindFunding:
		ok = m.Funding != nil
	}
	if !ok {
		return fmt.Errorf("metadata: kind %q does not match populated variant", m.Kind)
	}
	return nil
}

// Value implements driver.Valuer so Metadata is stored as JSONB.
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*m = Metadata{}
		return nil
	default:
		return errors.New("metadata: unsupported scan source")
	}
	return json.Unmarshal(raw, m)
}

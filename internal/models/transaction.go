package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TypeWithdraw    = "withdraw"
	TypeDeposit     = "deposit"
	TypeTransferOut = "transfer_out"
	TypeTransferIn  = "transfer_in"
)

// Transaction statuses. A failed row is still durably recorded under its
// idempotency key so retries observe the original outcome.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Transaction is an immutable record of one money-movement attempt. Amount is
// signed (negative for withdrawals and outgoing transfer legs) and
// BalanceAfter is the card balance after the row was applied; for a failed
// attempt it equals the untouched balance.
type Transaction struct {
	ID             int64           `json:"id"`
	CardID         int64           `json:"card_id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Status         string          `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	Product        string          `json:"product,omitempty"`
	GroupID        string          `json:"transaction_group_id,omitempty"`
	FromCardID     *int64          `json:"from_card_id,omitempty"`
	ToCardID       *int64          `json:"to_card_id,omitempty"`
	InitiatorType  string          `json:"initiator_type,omitempty"`
	InitiatorRef   string          `json:"initiator_reference,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

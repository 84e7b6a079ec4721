package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card is the spendable balance unit owned by exactly one account and the
// unit of serialization for all balance mutations. Balance is never negative
// at any committed state.
type Card struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	IBAN      string          `json:"iban"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StudentProfile is the read model returned when resolving a student by the
// registration link id: the first card of the linked account.
type StudentProfile struct {
	AccountID int64           `json:"account_id"`
	CardID    int64           `json:"card_id"`
	Balance   decimal.Decimal `json:"balance"`
	LinkID    string          `json:"link_id"`
}

package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/campuspay/payment-service/internal/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestTranslateErrorIdempotencyKeyViolation(t *testing.T) {
	pqErr := &pq.Error{
		Code:       uniqueViolation,
		Constraint: "transactions_idempotency_key_key",
	}
	err := translateError(fmt.Errorf("failed to insert transaction: %w", pqErr))
	assert.ErrorIs(t, err, models.ErrDuplicateIdempotencyKey)
}

func TestTranslateErrorLinkIDViolation(t *testing.T) {
	pqErr := &pq.Error{
		Code:       uniqueViolation,
		Constraint: "accounts_link_id_key",
	}
	err := translateError(fmt.Errorf("failed to create account: %w", pqErr))
	assert.ErrorIs(t, err, models.ErrDuplicateLinkID)
}

func TestTranslateErrorOtherUniqueViolation(t *testing.T) {
	pqErr := &pq.Error{
		Code:       uniqueViolation,
		Constraint: "cards_iban_key",
	}
	err := translateError(pqErr)
	assert.NotErrorIs(t, err, models.ErrDuplicateIdempotencyKey)
}

func TestTranslateErrorPassesThrough(t *testing.T) {
	plain := errors.New("connection reset")
	assert.Equal(t, plain, translateError(plain))
}

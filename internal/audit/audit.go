// Package audit implements the scheduled ledger consistency check that
// replaced the trust previously placed in database triggers: for every card,
// the current balance must equal the balance recorded by its latest
// successful transaction, and no committed balance may be negative.
package audit

import (
	"context"
	"fmt"

	"github.com/campuspay/payment-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Store is the read surface the auditor needs.
type Store interface {
	GetCard(ctx context.Context, cardID int64) (*models.Card, error)
	ListCards(ctx context.Context) ([]models.Card, error)
	LatestSuccessfulTransaction(ctx context.Context, cardID int64) (*models.Transaction, error)
}

// Auditor scans the ledger for invariant violations and logs them.
type Auditor struct {
	store Store
	log   *logrus.Logger
}

// NewAuditor initializes a new auditor
func NewAuditor(store Store, log *logrus.Logger) *Auditor {
	return &Auditor{store: store, log: log}
}

// Run checks every card once. It returns the number of divergent cards; a
// non-nil error means the scan itself could not complete.
func (a *Auditor) Run(ctx context.Context) (int, error) {
	cards, err := a.store.ListCards(ctx)
	if err != nil {
		return 0, fmt.Errorf("audit failed to list cards: %w", err)
	}

	divergent := 0
	for _, card := range cards {
		if card.Balance.IsNegative() {
			divergent++
			a.log.WithFields(logrus.Fields{
				"card_id": card.ID,
				"balance": card.Balance.String(),
			}).Error("audit: negative committed balance")
			continue
		}

		latest, err := a.store.LatestSuccessfulTransaction(ctx, card.ID)
		if err != nil {
			return divergent, fmt.Errorf("audit failed on card %d: %w", card.ID, err)
		}
		if latest == nil {
			continue
		}
		if latest.BalanceAfter.Equal(card.Balance) {
			continue
		}

		// The card snapshot predates the transaction read, so a write
		// committing in between looks divergent. Re-read both before flagging.
		fresh, err := a.store.GetCard(ctx, card.ID)
		if err != nil {
			return divergent, fmt.Errorf("audit failed on card %d: %w", card.ID, err)
		}
		latest, err = a.store.LatestSuccessfulTransaction(ctx, card.ID)
		if err != nil {
			return divergent, fmt.Errorf("audit failed on card %d: %w", card.ID, err)
		}
		if latest == nil || latest.BalanceAfter.Equal(fresh.Balance) {
			continue
		}

		divergent++
		a.log.WithFields(logrus.Fields{
			"card_id":        fresh.ID,
			"balance":        fresh.Balance.String(),
			"ledger_balance": latest.BalanceAfter.String(),
			"transaction_id": latest.ID,
		}).Error("audit: balance diverges from transaction log")
	}

	a.log.WithFields(logrus.Fields{
		"cards":     len(cards),
		"divergent": divergent,
	}).Info("ledger audit completed")
	return divergent, nil
}

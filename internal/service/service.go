package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/campuspay/payment-service/internal/models"
	"github.com/campuspay/payment-service/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Store is the durable ledger the engine mutates. Implementations must make
// RunAtomic all-or-nothing: every write performed through the LedgerTx is
// either committed as a unit or discarded.
type Store interface {
	GetCard(ctx context.Context, cardID int64) (*models.Card, error)
	GetCardByIBAN(ctx context.Context, iban string) (*models.Card, error)
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	GetStudentByLinkID(ctx context.Context, linkID string) (*models.StudentProfile, error)
	FindTransactionByKey(ctx context.Context, key string) (*models.Transaction, error)
	CreateAccountWithCard(ctx context.Context, account *models.Account, iban string, initialBalance decimal.Decimal) (*models.Card, error)
	RunAtomic(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is one atomic unit against the store. LockCard serializes all
// mutations to that card until the unit ends; callers locking two cards must
// lock the lower id first.
type LedgerTx interface {
	FindTransactionByKey(ctx context.Context, key string) (*models.Transaction, error)
	LockCard(ctx context.Context, cardID int64) (*models.Card, error)
	UpdateBalance(ctx context.Context, cardID int64, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, t *models.Transaction) error
}

// RegistryClient verifies a link id against the upstream academic-registration
// platform. Optional; a nil client skips verification.
type RegistryClient interface {
	VerifyStudent(ctx context.Context, linkID string) error
}

// Notifier receives post-commit events. Optional and best effort: failures are
// logged, never propagated.
type Notifier interface {
	AccountProvisioned(account *models.Account, card *models.Card)
	TransactionRecorded(account *models.Account, t *models.Transaction)
}

// TransactionResult is the outcome of a withdraw or deposit. Idempotent is set
// when the idempotency key matched a previously committed row, in which case
// Transaction is that prior row unchanged.
type TransactionResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Idempotent  bool                `json:"idempotent,omitempty"`
}

// TransferResult is the outcome of a transfer: the group id shared by both
// legs and the moved amount.
type TransferResult struct {
	GroupID string          `json:"transaction_group_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// ProvisionResult is a freshly created account with its first card.
type ProvisionResult struct {
	Account *models.Account `json:"account"`
	Card    *models.Card    `json:"card"`
}

// Service is the ledger transaction engine. It owns all writes to card
// balances and transaction rows.
type Service struct {
	store    Store
	log      *logrus.Logger
	registry RegistryClient
	notifier Notifier
}

// NewService initializes the engine. registry and notifier may be nil.
func NewService(store Store, log *logrus.Logger, registry RegistryClient, notifier Notifier) *Service {
	return &Service{store: store, log: log, registry: registry, notifier: notifier}
}

// Withdraw debits a card. Insufficient funds is not an error: the attempt is
// recorded as a failed transaction under the idempotency key and returned.
func (s *Service) Withdraw(ctx context.Context, cardID int64, product, idempotencyKey string, amount decimal.Decimal) (*TransactionResult, error) {
	return s.applyCardDelta(ctx, cardID, product, idempotencyKey, amount, models.TypeWithdraw)
}

// Deposit credits a card. There is no upper bound on the balance.
func (s *Service) Deposit(ctx context.Context, cardID int64, product, idempotencyKey string, amount decimal.Decimal) (*TransactionResult, error) {
	return s.applyCardDelta(ctx, cardID, product, idempotencyKey, amount, models.TypeDeposit)
}

// applyCardDelta runs the shared withdraw/deposit state machine: idempotency
// check, row lock, funds check, balance write and transaction append, all
// inside one atomic unit.
func (s *Service) applyCardDelta(ctx context.Context, cardID int64, product, idempotencyKey string, amount decimal.Decimal, txType string) (*TransactionResult, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	delta := amount
	if txType == models.TypeWithdraw {
		delta = amount.Neg()
	}

	var (
		result    *TransactionResult
		accountID int64
	)
	err := s.store.RunAtomic(ctx, func(tx LedgerTx) error {
		prior, err := tx.FindTransactionByKey(ctx, idempotencyKey)
		if err != nil {
			return err
		}
		if prior != nil {
			result = &TransactionResult{Transaction: prior, Idempotent: true}
			return nil
		}

		card, err := tx.LockCard(ctx, cardID)
		if err != nil {
			return err
		}
		accountID = card.AccountID

		t := &models.Transaction{
			CardID:         cardID,
			Type:           txType,
			Amount:         delta,
			IdempotencyKey: idempotencyKey,
			Product:        product,
			InitiatorType:  "USER",
		}

		newBalance := card.Balance.Add(delta)
		if newBalance.IsNegative() {
			// The debit is refused but the attempt is still durably logged
			// under its key, so a retry returns this failed row.
			t.Status = models.StatusFailed
			t.BalanceAfter = card.Balance
			if err := tx.InsertTransaction(ctx, t); err != nil {
				return err
			}
			result = &TransactionResult{Transaction: t}
			return nil
		}

		if err := tx.UpdateBalance(ctx, cardID, newBalance); err != nil {
			return err
		}
		t.Status = models.StatusSuccess
		t.BalanceAfter = newBalance
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		result = &TransactionResult{Transaction: t}
		return nil
	})
	if errors.Is(err, models.ErrDuplicateIdempotencyKey) {
		return s.replayCommitted(ctx, idempotencyKey)
	}
	if err != nil {
		return nil, err
	}

	if !result.Idempotent && result.Transaction.Status == models.StatusSuccess {
		s.notifyTransaction(accountID, result.Transaction)
	}
	s.log.WithFields(logrus.Fields{
		"card_id": cardID,
		"type":    txType,
		"status":  result.Transaction.Status,
	}).Info("transaction processed")
	return result, nil
}

// replayCommitted resolves a lost check-then-insert race: the winner's row is
// committed by the time the unique-index violation surfaces, so the loser
// reads it back and returns the same outcome.
func (s *Service) replayCommitted(ctx context.Context, idempotencyKey string) (*TransactionResult, error) {
	prior, err := s.store.FindTransactionByKey(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, fmt.Errorf("idempotency key %q raced but no committed row found", idempotencyKey)
	}
	return &TransactionResult{Transaction: prior, Idempotent: true}, nil
}

// Transfer moves amount between two cards as an atomic pair of legs sharing a
// fresh group id. The two legs are individually idempotent within the call,
// but repeated Transfer calls each create a new group; transfer-level retry
// safety must be provided by the caller.
func (s *Service) Transfer(ctx context.Context, fromCardID, toCardID int64, amount decimal.Decimal) (*TransferResult, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if fromCardID == toCardID {
		return nil, models.ErrInvalidTransfer
	}

	groupID := uuid.NewString()
	outKey := fmt.Sprintf("transfer:%s:out", groupID)
	inKey := fmt.Sprintf("transfer:%s:in", groupID)

	err := s.store.RunAtomic(ctx, func(tx LedgerTx) error {
		// Fixed ascending lock order prevents deadlock between two concurrent
		// transfers over the same pair in opposite directions.
		firstID, secondID := fromCardID, toCardID
		if secondID < firstID {
			firstID, secondID = secondID, firstID
		}
		first, err := tx.LockCard(ctx, firstID)
		if err != nil {
			return err
		}
		second, err := tx.LockCard(ctx, secondID)
		if err != nil {
			return err
		}
		fromCard, toCard := first, second
		if fromCard.ID != fromCardID {
			fromCard, toCard = second, first
		}

		newFrom := fromCard.Balance.Sub(amount)
		if newFrom.IsNegative() {
			return models.ErrInsufficientFunds
		}
		newTo := toCard.Balance.Add(amount)

		if err := tx.UpdateBalance(ctx, fromCardID, newFrom); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, toCardID, newTo); err != nil {
			return err
		}

		out := &models.Transaction{
			CardID:         fromCardID,
			Type:           models.TypeTransferOut,
			Amount:         amount.Neg(),
			BalanceAfter:   newFrom,
			Status:         models.StatusSuccess,
			IdempotencyKey: outKey,
			GroupID:        groupID,
			FromCardID:     &fromCardID,
			ToCardID:       &toCardID,
			InitiatorType:  "USER",
			InitiatorRef:   "transfer",
		}
		in := &models.Transaction{
			CardID:         toCardID,
			Type:           models.TypeTransferIn,
			Amount:         amount,
			BalanceAfter:   newTo,
			Status:         models.StatusSuccess,
			IdempotencyKey: inKey,
			GroupID:        groupID,
			FromCardID:     &fromCardID,
			ToCardID:       &toCardID,
			InitiatorType:  "USER",
			InitiatorRef:   "transfer",
		}
		if err := tx.InsertTransaction(ctx, out); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, in)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"from_card_id": fromCardID,
		"to_card_id":   toCardID,
		"group_id":     groupID,
	}).Info("transfer committed")
	return &TransferResult{GroupID: groupID, Amount: amount}, nil
}

// ResolveCardByIBAN maps an externally-facing card identifier to its card id.
func (s *Service) ResolveCardByIBAN(ctx context.Context, iban string) (int64, error) {
	card, err := s.store.GetCardByIBAN(ctx, iban)
	if err != nil {
		return 0, err
	}
	return card.ID, nil
}

// ResolveStudent returns the account and first card linked to a registration
// link id.
func (s *Service) ResolveStudent(ctx context.Context, linkID string) (*models.StudentProfile, error) {
	if err := models.ValidateLinkID(linkID); err != nil {
		return nil, err
	}
	if linkID == "" {
		return nil, models.ErrAccountNotFound
	}
	return s.store.GetStudentByLinkID(ctx, linkID)
}

// ProvisionAccount creates an account and its first card as one atomic unit.
// The card receives a generated IBAN and the given non-negative opening
// balance.
func (s *Service) ProvisionAccount(ctx context.Context, name, phone, email, linkID string, initialBalance decimal.Decimal) (*ProvisionResult, error) {
	if initialBalance.IsNegative() {
		return nil, models.ErrInvalidAmount
	}
	if err := models.ValidateLinkID(linkID); err != nil {
		return nil, err
	}
	if linkID != "" && s.registry != nil {
		if err := s.registry.VerifyStudent(ctx, linkID); err != nil {
			return nil, err
		}
	}

	iban, err := utils.GenerateIBAN(utils.IBANCountryCode, utils.IBANAccountDigits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate iban: %w", err)
	}

	account := &models.Account{Name: name, Phone: phone, Email: email}
	if linkID != "" {
		account.LinkID = &linkID
	}
	card, err := s.store.CreateAccountWithCard(ctx, account, iban, initialBalance)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		go s.notifier.AccountProvisioned(account, card)
	}
	s.log.WithFields(logrus.Fields{
		"account_id": account.ID,
		"card_id":    card.ID,
	}).Info("account provisioned")
	return &ProvisionResult{Account: account, Card: card}, nil
}

// notifyTransaction fires the post-commit notification off the request path.
func (s *Service) notifyTransaction(accountID int64, t *models.Transaction) {
	if s.notifier == nil {
		return
	}
	go func() {
		account, err := s.store.GetAccount(context.Background(), accountID)
		if err != nil {
			s.log.Warnf("notification skipped, account %d lookup failed: %v", accountID, err)
			return
		}
		s.notifier.TransactionRecorded(account, t)
	}()
}

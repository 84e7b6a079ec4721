package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/campuspay/payment-service/internal/audit"
	"github.com/campuspay/payment-service/internal/models"
	"github.com/campuspay/payment-service/internal/service"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// uniqueViolation is the Postgres error code for a unique-constraint breach.
const uniqueViolation = "23505"

// Repository provides database operations against the pay schema.
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetCard retrieves a card by id
func (r *Repository) GetCard(ctx context.Context, cardID int64) (*models.Card, error) {
	return scanCard(r.db.QueryRowContext(ctx, `
		SELECT id, account_id, balance, iban, created_at, updated_at
		FROM pay.cards
		WHERE id = $1`, cardID))
}

// GetCardByIBAN retrieves a card by its externally-facing identifier
func (r *Repository) GetCardByIBAN(ctx context.Context, iban string) (*models.Card, error) {
	return scanCard(r.db.QueryRowContext(ctx, `
		SELECT id, account_id, balance, iban, created_at, updated_at
		FROM pay.cards
		WHERE iban = $1`, iban))
}

func scanCard(row *sql.Row) (*models.Card, error) {
	card := &models.Card{}
	err := row.Scan(&card.ID, &card.AccountID, &card.Balance, &card.IBAN, &card.CreatedAt, &card.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// GetAccount retrieves an account by id
func (r *Repository) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	account := &models.Account{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, link_id, created_at
		FROM pay.accounts
		WHERE id = $1`, accountID).
		Scan(&account.ID, &account.Name, &account.Phone, &account.Email, &account.LinkID, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// GetStudentByLinkID resolves the account and its first card for a
// registration link id.
func (r *Repository) GetStudentByLinkID(ctx context.Context, linkID string) (*models.StudentProfile, error) {
	profile := &models.StudentProfile{}
	err := r.db.QueryRowContext(ctx, `
		SELECT a.id, a.link_id, c.id, c.balance
		FROM pay.accounts a
		JOIN pay.cards c ON c.account_id = a.id
		WHERE a.link_id = $1
		ORDER BY c.id ASC
		LIMIT 1`, linkID).
		Scan(&profile.AccountID, &profile.LinkID, &profile.CardID, &profile.Balance)
	if err == sql.ErrNoRows {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve student: %w", err)
	}
	return profile, nil
}

// FindTransactionByKey retrieves the transaction recorded under an
// idempotency key, or nil when the key has never been used.
func (r *Repository) FindTransactionByKey(ctx context.Context, key string) (*models.Transaction, error) {
	return findTransactionByKey(ctx, r.db, key)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findTransactionByKey(ctx context.Context, q queryRower, key string) (*models.Transaction, error) {
	t := &models.Transaction{}
	var (
		product  sql.NullString
		groupID  sql.NullString
		fromCard sql.NullInt64
		toCard   sql.NullInt64
		initType sql.NullString
		initRef  sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, card_id, type, amount, balance_after, status, idempotency_key,
		       product, transaction_group_id, from_card_id, to_card_id,
		       initiator_type, initiator_reference, created_at
		FROM pay.transactions
		WHERE idempotency_key = $1
		LIMIT 1`, key).
		Scan(&t.ID, &t.CardID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Status, &t.IdempotencyKey,
			&product, &groupID, &fromCard, &toCard, &initType, &initRef, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	t.Product = product.String
	t.GroupID = groupID.String
	t.InitiatorType = initType.String
	t.InitiatorRef = initRef.String
	if fromCard.Valid {
		t.FromCardID = &fromCard.Int64
	}
	if toCard.Valid {
		t.ToCardID = &toCard.Int64
	}
	return t, nil
}

// CreateAccountWithCard creates an account and its first card in a single
// database transaction; on any failure neither row is visible.
func (r *Repository) CreateAccountWithCard(ctx context.Context, account *models.Account, iban string, initialBalance decimal.Decimal) (*models.Card, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO pay.accounts (name, phone, email, link_id, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, created_at`,
		account.Name, account.Phone, account.Email, account.LinkID).
		Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", translateError(err))
	}

	card := &models.Card{AccountID: account.ID, Balance: initialBalance, IBAN: iban}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO pay.cards (account_id, balance, iban, created_at, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`,
		card.AccountID, card.Balance, card.IBAN).
		Scan(&card.ID, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create card: %w", translateError(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit provisioning: %w", err)
	}
	return card, nil
}

// RunAtomic executes fn inside a database transaction. Any error from fn
// rolls back every write performed through the LedgerTx.
func (r *Repository) RunAtomic(ctx context.Context, fn func(tx service.LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&ledgerTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", translateError(err))
	}
	return nil
}

// ledgerTx is a LedgerTx over one *sql.Tx.
type ledgerTx struct {
	tx *sql.Tx
}

func (l *ledgerTx) FindTransactionByKey(ctx context.Context, key string) (*models.Transaction, error) {
	return findTransactionByKey(ctx, l.tx, key)
}

// LockCard reads the card under FOR UPDATE, serializing all mutations to it
// until the enclosing transaction ends.
func (l *ledgerTx) LockCard(ctx context.Context, cardID int64) (*models.Card, error) {
	return scanCard(l.tx.QueryRowContext(ctx, `
		SELECT id, account_id, balance, iban, created_at, updated_at
		FROM pay.cards
		WHERE id = $1
		FOR UPDATE`, cardID))
}

func (l *ledgerTx) UpdateBalance(ctx context.Context, cardID int64, balance decimal.Decimal) error {
	res, err := l.tx.ExecContext(ctx, `
		UPDATE pay.cards
		SET balance = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`, balance, cardID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", translateError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if affected == 0 {
		return models.ErrCardNotFound
	}
	return nil
}

func (l *ledgerTx) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	err := l.tx.QueryRowContext(ctx, `
		INSERT INTO pay.transactions
			(card_id, type, amount, balance_after, status, idempotency_key,
			 product, transaction_group_id, from_card_id, to_card_id,
			 initiator_type, initiator_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10,
			 NULLIF($11, ''), NULLIF($12, ''), CURRENT_TIMESTAMP)
		RETURNING id, created_at`,
		t.CardID, t.Type, t.Amount, t.BalanceAfter, t.Status, t.IdempotencyKey,
		t.Product, t.GroupID, t.FromCardID, t.ToCardID,
		t.InitiatorType, t.InitiatorRef).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", translateError(err))
	}
	return nil
}

// ListCards returns all cards, used by the consistency audit.
func (r *Repository) ListCards(ctx context.Context) ([]models.Card, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, balance, iban, created_at, updated_at
		FROM pay.cards
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var card models.Card
		if err := rows.Scan(&card.ID, &card.AccountID, &card.Balance, &card.IBAN, &card.CreatedAt, &card.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// LatestSuccessfulTransaction returns the most recent successful transaction
// of a card, or nil when the card has none.
func (r *Repository) LatestSuccessfulTransaction(ctx context.Context, cardID int64) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, card_id, type, amount, balance_after, status, idempotency_key, created_at
		FROM pay.transactions
		WHERE card_id = $1 AND status = $2
		ORDER BY id DESC
		LIMIT 1`, cardID, models.StatusSuccess).
		Scan(&t.ID, &t.CardID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Status, &t.IdempotencyKey, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest transaction: %w", err)
	}
	return t, nil
}

var (
	_ service.Store = (*Repository)(nil)
	_ audit.Store   = (*Repository)(nil)
)

// translateError maps driver-level constraint violations to domain errors.
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case "transactions_idempotency_key_key":
			return models.ErrDuplicateIdempotencyKey
		case "accounts_link_id_key":
			return models.ErrDuplicateLinkID
		}
	}
	return err
}

// Package memory provides an in-memory ledger store with the same atomicity
// and serialization guarantees as the Postgres repository. It backs the test
// suite and local development without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/campuspay/payment-service/internal/audit"
	"github.com/campuspay/payment-service/internal/models"
	"github.com/campuspay/payment-service/internal/service"
	"github.com/shopspring/decimal"
)

// Store keeps the whole ledger behind one mutex. Every atomic unit stages its
// writes and applies them only when the unit function returns nil, so a
// failure leaves no partial state.
type Store struct {
	mu           sync.Mutex
	accounts     map[int64]*models.Account
	cards        map[int64]*models.Card
	transactions []*models.Transaction
	byKey        map[string]*models.Transaction

	nextAccountID int64
	nextCardID    int64
	nextTxID      int64
}

// NewStore creates an empty in-memory ledger.
func NewStore() *Store {
	return &Store{
		accounts: make(map[int64]*models.Account),
		cards:    make(map[int64]*models.Card),
		byKey:    make(map[string]*models.Transaction),
	}
}

// SeedCard inserts an account with one card at the given balance and returns
// the card id. Intended for tests and local development.
func (s *Store) SeedCard(balance decimal.Decimal, iban string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAccountID++
	s.nextCardID++
	now := time.Now()
	account := &models.Account{ID: s.nextAccountID, Name: "seed", CreatedAt: now}
	s.accounts[account.ID] = account
	card := &models.Card{
		ID:        s.nextCardID,
		AccountID: account.ID,
		Balance:   balance,
		IBAN:      iban,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.cards[card.ID] = card
	return card.ID
}

func (s *Store) GetCard(ctx context.Context, cardID int64) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[cardID]
	if !ok {
		return nil, models.ErrCardNotFound
	}
	c := *card
	return &c, nil
}

func (s *Store) GetCardByIBAN(ctx context.Context, iban string) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, card := range s.cards {
		if card.IBAN == iban {
			c := *card
			return &c, nil
		}
	}
	return nil, models.ErrCardNotFound
}

func (s *Store) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	a := *account
	return &a, nil
}

func (s *Store) GetStudentByLinkID(ctx context.Context, linkID string) (*models.StudentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.LinkID == nil || *account.LinkID != linkID {
			continue
		}
		var first *models.Card
		for _, card := range s.cards {
			if card.AccountID != account.ID {
				continue
			}
			if first == nil || card.ID < first.ID {
				first = card
			}
		}
		if first == nil {
			return nil, models.ErrAccountNotFound
		}
		return &models.StudentProfile{
			AccountID: account.ID,
			CardID:    first.ID,
			Balance:   first.Balance,
			LinkID:    linkID,
		}, nil
	}
	return nil, models.ErrAccountNotFound
}

func (s *Store) FindTransactionByKey(ctx context.Context, key string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byKey[key]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (s *Store) CreateAccountWithCard(ctx context.Context, account *models.Account, iban string, initialBalance decimal.Decimal) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.LinkID != nil {
		for _, existing := range s.accounts {
			if existing.LinkID != nil && *existing.LinkID == *account.LinkID {
				return nil, models.ErrDuplicateLinkID
			}
		}
	}
	s.nextAccountID++
	s.nextCardID++
	now := time.Now()
	account.ID = s.nextAccountID
	account.CreatedAt = now
	stored := *account
	s.accounts[stored.ID] = &stored

	card := &models.Card{
		ID:        s.nextCardID,
		AccountID: account.ID,
		Balance:   initialBalance,
		IBAN:      iban,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.cards[card.ID] = card
	c := *card
	return &c, nil
}

// RunAtomic serializes all units behind the store mutex and applies staged
// writes only on success.
func (s *Store) RunAtomic(ctx context.Context, fn func(tx service.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:    s,
		balances: make(map[int64]decimal.Decimal),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// ListCards returns all cards ordered by id, for the consistency audit.
func (s *Store) ListCards(ctx context.Context) ([]models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards := make([]models.Card, 0, len(s.cards))
	var maxID int64
	for id := range s.cards {
		if id > maxID {
			maxID = id
		}
	}
	for id := int64(1); id <= maxID; id++ {
		if card, ok := s.cards[id]; ok {
			cards = append(cards, *card)
		}
	}
	return cards, nil
}

// LatestSuccessfulTransaction returns the newest successful transaction of a
// card, or nil when it has none.
func (s *Store) LatestSuccessfulTransaction(ctx context.Context, cardID int64) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.CardID == cardID && t.Status == models.StatusSuccess {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

// SetBalance overwrites a card balance directly, bypassing the engine.
// Only for tests that need to inject ledger divergence.
func (s *Store) SetBalance(cardID int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if card, ok := s.cards[cardID]; ok {
		card.Balance = balance
	}
}

// memTx stages writes for one atomic unit. The store mutex is held for the
// whole unit, which linearizes same-card mutations.
type memTx struct {
	store    *Store
	balances map[int64]decimal.Decimal
	inserted []*models.Transaction
}

func (m *memTx) FindTransactionByKey(ctx context.Context, key string) (*models.Transaction, error) {
	if t, ok := m.store.byKey[key]; ok {
		c := *t
		return &c, nil
	}
	for _, t := range m.inserted {
		if t.IdempotencyKey == key {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memTx) LockCard(ctx context.Context, cardID int64) (*models.Card, error) {
	card, ok := m.store.cards[cardID]
	if !ok {
		return nil, models.ErrCardNotFound
	}
	c := *card
	if staged, ok := m.balances[cardID]; ok {
		c.Balance = staged
	}
	return &c, nil
}

func (m *memTx) UpdateBalance(ctx context.Context, cardID int64, balance decimal.Decimal) error {
	if _, ok := m.store.cards[cardID]; !ok {
		return models.ErrCardNotFound
	}
	m.balances[cardID] = balance
	return nil
}

func (m *memTx) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	if _, ok := m.store.byKey[t.IdempotencyKey]; ok {
		return models.ErrDuplicateIdempotencyKey
	}
	for _, staged := range m.inserted {
		if staged.IdempotencyKey == t.IdempotencyKey {
			return models.ErrDuplicateIdempotencyKey
		}
	}
	m.inserted = append(m.inserted, t)
	return nil
}

// apply commits staged writes. Caller holds the store mutex.
func (m *memTx) apply() {
	now := time.Now()
	for cardID, balance := range m.balances {
		card := m.store.cards[cardID]
		card.Balance = balance
		card.UpdatedAt = now
	}
	for _, t := range m.inserted {
		m.store.nextTxID++
		t.ID = m.store.nextTxID
		t.CreatedAt = now
		stored := *t
		m.store.transactions = append(m.store.transactions, &stored)
		m.store.byKey[stored.IdempotencyKey] = &stored
	}
}

var (
	_ service.Store = (*Store)(nil)
	_ audit.Store   = (*Store)(nil)
)

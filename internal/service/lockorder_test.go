package service_test

import (
	"context"
	"testing"

	"github.com/campuspay/payment-service/internal/models"
	"github.com/campuspay/payment-service/internal/repository/memory"
	"github.com/campuspay/payment-service/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockRecordingStore records every LockCard call across atomic units. On
// Postgres, locking the higher card id first deadlocks against a concurrent
// opposite-direction transfer; the in-memory store serializes units behind
// one mutex, so the acquisition order has to be asserted explicitly.
type lockRecordingStore struct {
	*memory.Store
	locked []int64
}

func (s *lockRecordingStore) RunAtomic(ctx context.Context, fn func(tx service.LedgerTx) error) error {
	return s.Store.RunAtomic(ctx, func(tx service.LedgerTx) error {
		return fn(&lockRecordingTx{LedgerTx: tx, store: s})
	})
}

type lockRecordingTx struct {
	service.LedgerTx
	store *lockRecordingStore
}

func (t *lockRecordingTx) LockCard(ctx context.Context, cardID int64) (*models.Card, error) {
	t.store.locked = append(t.store.locked, cardID)
	return t.LedgerTx.LockCard(ctx, cardID)
}

func TestTransferLocksCardsInAscendingOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	mem := memory.NewStore()
	lowID := mem.SeedCard(decimal.RequireFromString("50.00"), "CP11000000000000000001")
	highID := mem.SeedCard(decimal.RequireFromString("50.00"), "CP11000000000000000002")
	require.Less(t, lowID, highID)

	store := &lockRecordingStore{Store: mem}
	svc := service.NewService(store, logger, nil, nil)

	// Transfer from the higher id: the lower card must still be locked first.
	result, err := svc.Transfer(context.Background(), highID, lowID, decimal.RequireFromString("20.00"))
	require.NoError(t, err)
	require.Equal(t, []int64{lowID, highID}, store.locked)

	// The order swap must not swap the direction of the money.
	from, err := mem.GetCard(context.Background(), highID)
	require.NoError(t, err)
	assert.True(t, from.Balance.Equal(decimal.RequireFromString("30.00")))
	to, err := mem.GetCard(context.Background(), lowID)
	require.NoError(t, err)
	assert.True(t, to.Balance.Equal(decimal.RequireFromString("70.00")))
	assert.NotEmpty(t, result.GroupID)

	store.locked = nil
	_, err = svc.Transfer(context.Background(), lowID, highID, decimal.RequireFromString("10.00"))
	require.NoError(t, err)
	require.Equal(t, []int64{lowID, highID}, store.locked)
}

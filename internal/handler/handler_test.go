package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/campuspay/payment-service/internal/handler"
	"github.com/campuspay/payment-service/internal/repository/memory"
	"github.com/campuspay/payment-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*mux.Router, *memory.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.NewStore()
	svc := service.NewService(store, logger, nil, nil)
	h := handler.NewHandler(svc, logger)

	r := mux.NewRouter()
	r.HandleFunc("/v1/accounts", h.CreateAccount).Methods("POST")
	r.HandleFunc("/v1/transactions/withdraw", h.Withdraw).Methods("POST")
	r.HandleFunc("/v1/transactions/deposit", h.Deposit).Methods("POST")
	r.HandleFunc("/v1/transfers", h.Transfer).Methods("POST")
	r.HandleFunc("/v1/students/{link_id}", h.ResolveStudent).Methods("GET")
	return r, store
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWithdrawEndpoint(t *testing.T) {
	r, store := newServer(t)
	cardID := store.SeedCard(decimal.RequireFromString("100.00"), "CP11000000000000000001")

	w := doJSON(t, r, "POST", "/v1/transactions/withdraw", map[string]any{
		"card_id":         cardID,
		"amount":          "30.00",
		"product":         "cs100",
		"idempotency_key": "k1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "withdraw", resp["type"])
	assert.Equal(t, "70", resp["balance_after"])

	// Replay with the same key returns 200 and the prior row.
	w = doJSON(t, r, "POST", "/v1/transactions/withdraw", map[string]any{
		"card_id":         cardID,
		"amount":          "30.00",
		"product":         "cs100",
		"idempotency_key": "k1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["idempotent"])
}

func TestWithdrawEndpointInsufficientFunds(t *testing.T) {
	r, store := newServer(t)
	cardID := store.SeedCard(decimal.RequireFromString("100.00"), "CP11000000000000000001")

	w := doJSON(t, r, "POST", "/v1/transactions/withdraw", map[string]any{
		"card_id":         cardID,
		"amount":          "150.00",
		"product":         "cs100",
		"idempotency_key": "k-over",
	})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp["status"])
}

func TestWithdrawEndpointValidation(t *testing.T) {
	r, store := newServer(t)
	cardID := store.SeedCard(decimal.RequireFromString("100.00"), "CP11000000000000000001")

	// Missing idempotency key.
	w := doJSON(t, r, "POST", "/v1/transactions/withdraw", map[string]any{
		"card_id": cardID,
		"amount":  "30.00",
		"product": "cs100",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Oversized idempotency key.
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'x'
	}
	w = doJSON(t, r, "POST", "/v1/transactions/withdraw", map[string]any{
		"card_id":         cardID,
		"amount":          "30.00",
		"product":         "cs100",
		"idempotency_key": string(long),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Non-positive amount.
	w = doJSON(t, r, "POST", "/v1/transactions/withdraw", map[string]any{
		"card_id":         cardID,
		"amount":          "0",
		"product":         "cs100",
		"idempotency_key": "k1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Unknown card.
	w = doJSON(t, r, "POST", "/v1/transactions/withdraw", map[string]any{
		"card_id":         9999,
		"amount":          "30.00",
		"product":         "cs100",
		"idempotency_key": "k1",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDepositEndpoint(t *testing.T) {
	r, store := newServer(t)
	cardID := store.SeedCard(decimal.RequireFromString("10.00"), "CP11000000000000000001")

	w := doJSON(t, r, "POST", "/v1/transactions/deposit", map[string]any{
		"card_id":         cardID,
		"amount":          "5.50",
		"product":         "refund",
		"idempotency_key": "d1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "deposit", resp["type"])
	assert.Equal(t, "15.5", resp["balance_after"])
}

func TestTransferEndpoint(t *testing.T) {
	r, store := newServer(t)
	store.SeedCard(decimal.RequireFromString("50.00"), "CP11000000000000000001")
	store.SeedCard(decimal.RequireFromString("10.00"), "CP11000000000000000002")

	w := doJSON(t, r, "POST", "/v1/transfers", map[string]any{
		"from_iban": "CP11000000000000000001",
		"to_iban":   "CP11000000000000000002",
		"amount":    "20.00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["transaction_group_id"])

	fromCard, err := store.GetCardByIBAN(context.Background(), "CP11000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "30", fromCard.Balance.String())
}

func TestTransferEndpointSameIBAN(t *testing.T) {
	r, store := newServer(t)
	store.SeedCard(decimal.RequireFromString("50.00"), "CP11000000000000000001")

	w := doJSON(t, r, "POST", "/v1/transfers", map[string]any{
		"from_iban": "CP11000000000000000001",
		"to_iban":   "CP11000000000000000001",
		"amount":    "20.00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestTransferEndpointUnknownIBAN(t *testing.T) {
	r, store := newServer(t)
	store.SeedCard(decimal.RequireFromString("50.00"), "CP11000000000000000001")

	w := doJSON(t, r, "POST", "/v1/transfers", map[string]any{
		"from_iban": "CP11000000000000000001",
		"to_iban":   "CP99999999999999999999",
		"amount":    "20.00",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The debit must not have been applied.
	fromCard, err := store.GetCardByIBAN(context.Background(), "CP11000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "50", fromCard.Balance.String())
}

func TestCreateAccountEndpoint(t *testing.T) {
	r, _ := newServer(t)

	w := doJSON(t, r, "POST", "/v1/accounts", map[string]any{
		"name":            "Sara Ahmed",
		"phone":           "555-0101",
		"email":           "sara@example.edu",
		"link_id":         "123",
		"initial_balance": "25.00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Account struct {
			ID     int64  `json:"id"`
			LinkID string `json:"link_id"`
		} `json:"account"`
		Card struct {
			ID   int64  `json:"id"`
			IBAN string `json:"iban"`
		} `json:"card"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotZero(t, resp.Account.ID)
	assert.Equal(t, "123", resp.Account.LinkID)
	assert.NotEmpty(t, resp.Card.IBAN)

	// The student resolve path sees the new account.
	w = doJSON(t, r, "GET", "/v1/students/123", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCreateAccountEndpointDuplicateLinkID(t *testing.T) {
	r, _ := newServer(t)

	w := doJSON(t, r, "POST", "/v1/accounts", map[string]any{
		"name":    "Sara Ahmed",
		"link_id": "123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// A second account claiming the same link id is a conflict, not a 500.
	w = doJSON(t, r, "POST", "/v1/accounts", map[string]any{
		"name":    "Omar Said",
		"link_id": "123",
	})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestCreateAccountEndpointBadLinkID(t *testing.T) {
	r, _ := newServer(t)

	w := doJSON(t, r, "POST", "/v1/accounts", map[string]any{
		"name":    "Sara Ahmed",
		"link_id": "12a",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestResolveStudentEndpointUnknown(t *testing.T) {
	r, _ := newServer(t)

	w := doJSON(t, r, "GET", "/v1/students/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

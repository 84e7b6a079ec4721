package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/campuspay/payment-service/internal/models"
	"github.com/campuspay/payment-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// maxIdempotencyKeyLen bounds the caller-supplied idempotency key.
const maxIdempotencyKeyLen = 64

// cardTransactionOp is the shared signature of Service.Withdraw and
// Service.Deposit.
type cardTransactionOp func(ctx context.Context, cardID int64, product, idempotencyKey string, amount decimal.Decimal) (*service.TransactionResult, error)

// Handler translates HTTP requests into engine calls and engine outcomes into
// status codes. All business logic lives in the service layer.
type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

// NewHandler initializes a new handler
func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

type transactionRequest struct {
	CardID         int64           `json:"card_id"`
	Amount         decimal.Decimal `json:"amount"`
	Product        string          `json:"product"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type transferRequest struct {
	FromIBAN string          `json:"from_iban"`
	ToIBAN   string          `json:"to_iban"`
	Amount   decimal.Decimal `json:"amount"`
}

type provisionRequest struct {
	Name           string          `json:"name"`
	Phone          string          `json:"phone"`
	Email          string          `json:"email"`
	LinkID         string          `json:"link_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type transactionResponse struct {
	TransactionID  int64           `json:"transaction_id"`
	Status         string          `json:"status"`
	CardID         int64           `json:"card_id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Product        string          `json:"product,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Idempotent     bool            `json:"idempotent,omitempty"`
	Note           string          `json:"note,omitempty"`
}

func newTransactionResponse(result *service.TransactionResult) transactionResponse {
	t := result.Transaction
	resp := transactionResponse{
		TransactionID:  t.ID,
		Status:         t.Status,
		CardID:         t.CardID,
		Type:           t.Type,
		Amount:         t.Amount,
		BalanceAfter:   t.BalanceAfter,
		Product:        t.Product,
		IdempotencyKey: t.IdempotencyKey,
		Idempotent:     result.Idempotent,
	}
	if result.Idempotent {
		resp.Note = "Same idempotency key used; returning previous result."
	}
	return resp
}

// Withdraw handles POST /v1/transactions/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.handleCardTransaction(w, r, h.svc.Withdraw)
}

// Deposit handles POST /v1/transactions/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.handleCardTransaction(w, r, h.svc.Deposit)
}

func (h *Handler) handleCardTransaction(w http.ResponseWriter, r *http.Request, op cardTransactionOp) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.CardID <= 0 {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "card_id is required"})
		return
	}
	if req.Product == "" {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "product is required"})
		return
	}
	if req.IdempotencyKey == "" {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "idempotency_key is required"})
		return
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "idempotency_key too long"})
		return
	}

	result, err := op(r.Context(), req.CardID, req.Product, req.IdempotencyKey, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch {
	case result.Idempotent:
		h.writeJSON(w, http.StatusOK, newTransactionResponse(result))
	case result.Transaction.Status == models.StatusSuccess:
		h.writeJSON(w, http.StatusCreated, newTransactionResponse(result))
	default:
		// Committed but failed, e.g. insufficient funds.
		h.writeJSON(w, http.StatusConflict, newTransactionResponse(result))
	}
}

// Transfer handles POST /v1/transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.FromIBAN == "" || req.ToIBAN == "" {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "from_iban and to_iban are required"})
		return
	}
	if req.FromIBAN == req.ToIBAN {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "from_iban and to_iban must be different"})
		return
	}

	fromCardID, err := h.svc.ResolveCardByIBAN(r.Context(), req.FromIBAN)
	if err != nil {
		h.writeError(w, err)
		return
	}
	toCardID, err := h.svc.ResolveCardByIBAN(r.Context(), req.ToIBAN)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.svc.Transfer(r.Context(), fromCardID, toCardID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// CreateAccount handles POST /v1/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Name == "" {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "name is required"})
		return
	}

	result, err := h.svc.ProvisionAccount(r.Context(), req.Name, req.Phone, req.Email, req.LinkID, req.InitialBalance)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ResolveStudent handles GET /v1/students/{link_id}
func (h *Handler) ResolveStudent(w http.ResponseWriter, r *http.Request) {
	linkID := mux.Vars(r)["link_id"]

	profile, err := h.svc.ResolveStudent(r.Context(), linkID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

// writeJSON writes v as a JSON body with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorf("failed to encode response: %v", err)
	}
}

// writeError maps engine errors onto transport status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidTransfer),
		errors.Is(err, models.ErrInvalidLinkID),
		errors.Is(err, models.ErrUnknownLinkID):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrCardNotFound), errors.Is(err, models.ErrAccountNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrDuplicateLinkID):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		// Persistence and unexpected faults surface without store internals.
		h.log.Errorf("request failed: %v", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "transaction failed"})
	}
}

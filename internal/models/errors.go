package models

import "errors"

var (
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCardNotFound indicates the referenced card or IBAN does not exist.
	ErrCardNotFound = errors.New("card not found")

	// ErrInsufficientFunds indicates a debit would drive the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("amount must be greater than 0")

	// ErrInvalidTransfer indicates source and destination card are the same.
	ErrInvalidTransfer = errors.New("source and destination card must differ")

	// ErrInvalidLinkID indicates a link id that is neither absent nor exactly
	// three digits.
	ErrInvalidLinkID = errors.New("link_id must be empty or exactly 3 digits")

	// ErrDuplicateLinkID indicates the link id is already bound to another
	// account.
	ErrDuplicateLinkID = errors.New("link_id already registered")

	// ErrDuplicateIdempotencyKey is reported by the store when an insert hits
	// the unique idempotency-key index. The engine resolves it by returning
	// the committed row of the caller that won the race.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already recorded")

	// ErrUnknownLinkID indicates the upstream registry does not recognize the
	// supplied link id.
	ErrUnknownLinkID = errors.New("link_id not recognized by registry")
)

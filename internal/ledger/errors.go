package ledger

import "errors"

var (
	// ErrNotFound is returned for unknown members, packages or requests.
	ErrNotFound = errors.New("ledger: not found")
	// ErrInvalidAmount is returned for non-positive or malformed amounts.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInsufficientFunds is returned when a debit exceeds the current value.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrAlreadyApplied marks an idempotency key that was consumed by a different mutation.
	// A plain replay is not an error; it is reported through Outcome.Replayed.
	ErrAlreadyApplied = errors.New("ledger: idempotency key already applied")
	// ErrConcurrentModification is returned when the compare-and-swap lost every retry.
	ErrConcurrentModification = errors.New("ledger: concurrent modification")
	// ErrMissingIdempotencyKey is returned when a mutation carries no key.
	ErrMissingIdempotencyKey = errors.New("ledger: missing idempotency key")
	// ErrInvalidTransfer is returned for malformed transfers.
	ErrInvalidTransfer = errors.New("ledger: invalid transfer")
)

package domain

import "errors"

// Error kinds shared across workflows and storage backends. Callers classify
// wrapped errors with errors.Is.
var (
	// ErrInvalidInput covers malformed dates, forbidden negative quantities
	// and unknown enum values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound covers unknown SKUs, lots and orders.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers overlapping promo windows and duplicate idempotency
	// keys inside one batch.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientLotStock means FEFO cannot satisfy the requested
	// consumption; the ledger is not written.
	ErrInsufficientLotStock = errors.New("insufficient lot stock")

	// ErrBackendBusy means database lock retries were exhausted.
	ErrBackendBusy = errors.New("backend busy")

	// ErrIntegrityViolation covers FK, CHECK and UNIQUE failures; the batch
	// is rolled back.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrCancelled means the operation was cancelled before any commit.
	ErrCancelled = errors.New("cancelled")

	// ErrNoDeliveryWindow means no delivery day was found within the search
	// horizon.
	ErrNoDeliveryWindow = errors.New("no delivery window")

	// ErrNotAnOrderDay means a receipt date was requested for a non-order day.
	ErrNotAnOrderDay = errors.New("not an order day")
)

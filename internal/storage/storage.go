package storage

import (
	"context"
	"fmt"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/domain"
)

// Batch is one grouped mutation. Every field is optional; the backend
// applies the whole batch all-or-nothing. A nil pointer field leaves that
// entity family untouched.
type Batch struct {
	// Transactions are appended to the ledger.
	Transactions []domain.Transaction
	// ReplaceLedger rewrites the whole ledger when non-nil (exception
	// reverts only).
	ReplaceLedger *[]domain.Transaction
	// Orders are upserted by order_id.
	Orders []domain.OrderLog
	// Lots replaces the full lot set when non-nil.
	Lots *[]domain.Lot
	// Sales are upserted by (date, sku).
	Sales []domain.SalesRecord
	// Receivings are appended. Backends persist these after everything
	// else so a partial failure never claims the idempotency key.
	Receivings []domain.ReceivingLog
	// Audit records are appended.
	Audit []domain.AuditRecord
}

// Empty reports whether the batch carries no mutation.
func (b Batch) Empty() bool {
	return len(b.Transactions) == 0 && b.ReplaceLedger == nil && len(b.Orders) == 0 &&
		b.Lots == nil && len(b.Sales) == 0 && len(b.Receivings) == 0 && len(b.Audit) == 0
}

// Storage is the persistence abstraction shared by both backends. Readers
// see only committed state; Apply is all-or-nothing.
type Storage interface {
	SKUs(ctx context.Context) ([]domain.SKU, error)
	SaveSKUs(ctx context.Context, skus []domain.SKU) error

	Transactions(ctx context.Context) ([]domain.Transaction, error)
	Sales(ctx context.Context) ([]domain.SalesRecord, error)
	Lots(ctx context.Context) ([]domain.Lot, error)
	Orders(ctx context.Context) ([]domain.OrderLog, error)
	Receivings(ctx context.Context) ([]domain.ReceivingLog, error)

	Promos(ctx context.Context) ([]domain.PromoWindow, error)
	SavePromos(ctx context.Context, promos []domain.PromoWindow) error

	Apply(ctx context.Context, batch Batch) error

	Close() error
}

// Opener constructs a backend; wired in by the concrete packages via
// adapter construction in cmd/ (avoids an import cycle here).
type Opener func(cfg config.StorageConfig) (Storage, error)

// ValidateBatch enforces the write-side invariants shared by both backends.
func ValidateBatch(b Batch) error {
	for _, t := range b.Transactions {
		if !t.Kind.Valid() {
			return fmt.Errorf("unknown event kind %q: %w", t.Kind, domain.ErrInvalidInput)
		}
		if t.SKU == "" {
			return fmt.Errorf("transaction without sku: %w", domain.ErrInvalidInput)
		}
	}
	for _, o := range b.Orders {
		if o.QtyReceived > o.QtyOrdered {
			return fmt.Errorf("order %s received %d > ordered %d: %w",
				o.OrderID, o.QtyReceived, o.QtyOrdered, domain.ErrIntegrityViolation)
		}
	}
	if b.Lots != nil {
		for _, l := range *b.Lots {
			if l.QtyOnHand < 0 {
				return fmt.Errorf("lot %s negative qty: %w", l.LotID, domain.ErrInvalidInput)
			}
			if l.Expiry != nil && l.Expiry.Before(domain.Day(l.ReceiptDate)) {
				return fmt.Errorf("lot %s expires before receipt: %w", l.LotID, domain.ErrInvalidInput)
			}
		}
	}
	for _, s := range b.Sales {
		if s.QtySold < 0 {
			return fmt.Errorf("negative sales qty for %s: %w", s.SKU, domain.ErrInvalidInput)
		}
	}
	return nil
}

package workflow

import (
	"context"
	"time"

	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/lot"
)

// StockAsOf reduces the ledger for one SKU as of a date.
func (s *Service) StockAsOf(ctx context.Context, skuCode string, asof time.Time) (domain.StockPosition, error) {
	txns, err := s.store.Transactions(ctx)
	if err != nil {
		return domain.StockPosition{}, err
	}
	sales, err := s.store.Sales(ctx)
	if err != nil {
		return domain.StockPosition{}, err
	}
	return s.calc.CalculateAsOf(skuCode, asof, txns, sales), nil
}

// InventoryPosition is the delivery-date-aware planning figure for one SKU.
func (s *Service) InventoryPosition(ctx context.Context, skuCode string, asof time.Time) (int, error) {
	txns, err := s.store.Transactions(ctx)
	if err != nil {
		return 0, err
	}
	sales, err := s.store.Sales(ctx)
	if err != nil {
		return 0, err
	}
	return s.calc.InventoryPosition(skuCode, asof, txns, sales), nil
}

// OnOrderByDate groups net pending order quantities by expected receipt
// date. Dateless orders key under the empty string.
func (s *Service) OnOrderByDate(ctx context.Context, skuCode string, cutoff time.Time) (map[string]int, error) {
	txns, err := s.store.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for date, qty := range s.calc.OnOrderByDate(skuCode, cutoff, txns) {
		key := ""
		if !date.IsZero() {
			key = date.Format(domain.DateLayout)
		}
		out[key] = qty
	}
	return out, nil
}

// UsableStock buckets one SKU's lots by usability at checkDate using the
// SKU's shelf-life policy.
func (s *Service) UsableStock(ctx context.Context, skuCode string, checkDate time.Time) (lot.UsableBreakdown, error) {
	sku, err := s.findSKU(ctx, skuCode)
	if err != nil {
		return lot.UsableBreakdown{}, err
	}
	lots, err := s.store.Lots(ctx)
	if err != nil {
		return lot.UsableBreakdown{}, err
	}
	return lot.UsableStock(lotsFor(lots, skuCode), checkDate, sku.MinShelfLifeDays, wasteHorizon(sku)), nil
}

// ExpiryAlerts scans all lots for upcoming expiries.
func (s *Service) ExpiryAlerts(ctx context.Context, asof time.Time, criticalDays, warningDays int) ([]lot.ExpiryAlert, error) {
	lots, err := s.store.Lots(ctx)
	if err != nil {
		return nil, err
	}
	return lot.BuildExpiryAlerts(lots, asof, criticalDays, warningDays), nil
}

// Catalog returns the SKU list.
func (s *Service) Catalog(ctx context.Context) ([]domain.SKU, error) {
	return s.store.SKUs(ctx)
}

// SaveCatalog replaces the SKU list after basic policy validation.
func (s *Service) SaveCatalog(ctx context.Context, skus []domain.SKU) error {
	seen := make(map[string]bool, len(skus))
	for _, k := range skus {
		if k.Code == "" {
			return domain.ErrInvalidInput
		}
		if seen[k.Code] {
			return domain.ErrConflict
		}
		seen[k.Code] = true
	}
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.releaseWriter()
	return s.store.SaveSKUs(ctx, skus)
}

// PromoCalendar returns the promo windows.
func (s *Service) PromoCalendar(ctx context.Context) ([]domain.PromoWindow, error) {
	return s.store.Promos(ctx)
}

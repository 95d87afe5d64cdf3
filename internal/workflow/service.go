// Package workflow implements the write-side operations: order proposal and
// confirmation, document receiving, exception entry and the end-of-day close.
// Workflows are the sole ledger writers; every mutation goes through one
// grouped storage batch.
package workflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nbrembilla/scorte/internal/calendar"
	"github.com/nbrembilla/scorte/internal/demand"
	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/forecast"
	"github.com/nbrembilla/scorte/internal/ledger"
	"github.com/nbrembilla/scorte/internal/storage"
)

// defaultHistoryDays bounds how far back sales history feeds the forecast.
const defaultHistoryDays = 90

// Service wires the calculator, calendar, demand builder and storage into
// the workflow operations. A weighted semaphore of one enforces the
// single-writer discipline; reads bypass it.
type Service struct {
	store   storage.Storage
	cal     *calendar.Calendar
	calc    *ledger.Calculator
	builder *demand.Builder

	writer      *semaphore.Weighted
	historyDays int
	now         func() time.Time
}

func NewService(store storage.Storage, cal *calendar.Calendar, calc *ledger.Calculator, builder *demand.Builder) *Service {
	return &Service{
		store:       store,
		cal:         cal,
		calc:        calc,
		builder:     builder,
		writer:      semaphore.NewWeighted(1),
		historyDays: defaultHistoryDays,
		now:         time.Now,
	}
}

// acquireWriter blocks until this goroutine holds the single writer slot.
func (s *Service) acquireWriter(ctx context.Context) error {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: %w", err, domain.ErrCancelled)
	}
	return nil
}

func (s *Service) releaseWriter() { s.writer.Release(1) }

// findSKU looks up one catalog entry.
func (s *Service) findSKU(ctx context.Context, code string) (domain.SKU, error) {
	skus, err := s.store.SKUs(ctx)
	if err != nil {
		return domain.SKU{}, err
	}
	for _, k := range skus {
		if k.Code == code {
			return k, nil
		}
	}
	return domain.SKU{}, fmt.Errorf("sku %s: %w", code, domain.ErrNotFound)
}

// lotsFor filters the lot set down to one SKU, preserving order.
func lotsFor(lots []domain.Lot, sku string) []domain.Lot {
	var out []domain.Lot
	for _, l := range lots {
		if l.SKU == sku {
			out = append(out, l)
		}
	}
	return out
}

// mergeLots replaces one SKU's lots inside the full set.
func mergeLots(all []domain.Lot, sku string, replacement []domain.Lot) []domain.Lot {
	out := make([]domain.Lot, 0, len(all)+len(replacement))
	for _, l := range all {
		if l.SKU != sku {
			out = append(out, l)
		}
	}
	return append(out, replacement...)
}

// salesHistory builds a contiguous oldest-first daily series for [from, to],
// filling days without a record with zero.
func salesHistory(sku string, from, to time.Time, sales []domain.SalesRecord) []forecast.Point {
	from, to = domain.Day(from), domain.Day(to)
	byDay := make(map[time.Time]int)
	for _, r := range sales {
		if r.SKU == sku {
			byDay[domain.Day(r.Date)] = r.QtySold
		}
	}
	var pts []forecast.Point
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		pts = append(pts, forecast.Point{Date: d, Qty: float64(byDay[d])})
	}
	return pts
}

func (s *Service) audit(operation, sku, details, runID string) domain.AuditRecord {
	return domain.AuditRecord{
		Timestamp: s.now().UTC(),
		Operation: operation,
		SKU:       sku,
		Details:   details,
		RunID:     runID,
	}
}

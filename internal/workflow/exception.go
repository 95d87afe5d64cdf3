package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/lot"
	"github.com/nbrembilla/scorte/internal/storage"
)

// RecordException writes one WASTE, ADJUST or UNFULFILLED event. The
// idempotency key is (date, sku, kind): a matching existing event makes the
// call a no-op that returns it with alreadyRecorded=true. WASTE consumes
// lots FEFO and serializes the trace into the transaction note.
func (s *Service) RecordException(ctx context.Context, kind domain.EventKind, skuCode string, qty int, date time.Time, note string) (domain.Transaction, bool, error) {
	switch kind {
	case domain.EventWaste, domain.EventAdjust, domain.EventUnfulfilled:
	default:
		return domain.Transaction{}, false, fmt.Errorf("kind %s is not an exception: %w", kind, domain.ErrInvalidInput)
	}
	if qty < 0 {
		return domain.Transaction{}, false, fmt.Errorf("negative quantity %d: %w", qty, domain.ErrInvalidInput)
	}
	if date.IsZero() {
		date = s.now()
	}
	date = domain.Day(date)

	if err := s.acquireWriter(ctx); err != nil {
		return domain.Transaction{}, false, err
	}
	defer s.releaseWriter()

	txns, err := s.store.Transactions(ctx)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	for _, t := range txns {
		if t.SKU == skuCode && t.Kind == kind && domain.Day(t.Date).Equal(date) {
			return t, true, nil
		}
	}

	tx := domain.Transaction{Date: date, SKU: skuCode, Kind: kind, Qty: qty, Note: note}
	batch := storage.Batch{}

	if kind == domain.EventWaste && qty > 0 {
		allLots, err := s.store.Lots(ctx)
		if err != nil {
			return domain.Transaction{}, false, err
		}
		skuLots := lotsFor(allLots, skuCode)
		if len(skuLots) > 0 {
			survivors, trace, err := lot.Consume(skuLots, qty)
			if err != nil {
				return domain.Transaction{}, false, err
			}
			merged := mergeLots(allLots, skuCode, survivors)
			batch.Lots = &merged
			if note != "" {
				tx.Note = note + "; " + lot.FormatTrace(trace)
			} else {
				tx.Note = lot.FormatTrace(trace)
			}
		}
	}

	batch.Transactions = []domain.Transaction{tx}
	batch.Audit = []domain.AuditRecord{s.audit("record_exception", skuCode,
		fmt.Sprintf("kind=%s qty=%d date=%s", kind, qty, date.Format(domain.DateLayout)),
		"exception-"+date.Format("20060102"))}

	if err := s.store.Apply(ctx, batch); err != nil {
		return domain.Transaction{}, false, err
	}
	log.Info().Str("sku", skuCode).Str("kind", string(kind)).Int("qty", qty).
		Msg("exception recorded")
	return tx, false, nil
}

// RevertExceptionDay rewrites the ledger without the matching (date, sku,
// kind) events and returns how many were dropped.
func (s *Service) RevertExceptionDay(ctx context.Context, date time.Time, skuCode string, kind domain.EventKind) (int, error) {
	date = domain.Day(date)
	if err := s.acquireWriter(ctx); err != nil {
		return 0, err
	}
	defer s.releaseWriter()

	txns, err := s.store.Transactions(ctx)
	if err != nil {
		return 0, err
	}
	kept := make([]domain.Transaction, 0, len(txns))
	removed := 0
	for _, t := range txns {
		if t.SKU == skuCode && t.Kind == kind && domain.Day(t.Date).Equal(date) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	if removed == 0 {
		return 0, nil
	}

	err = s.store.Apply(ctx, storage.Batch{
		ReplaceLedger: &kept,
		Audit: []domain.AuditRecord{s.audit("revert_exception_day", skuCode,
			fmt.Sprintf("kind=%s date=%s removed=%d", kind, date.Format(domain.DateLayout), removed),
			"revert-"+date.Format("20060102"))},
	})
	if err != nil {
		return 0, err
	}
	log.Info().Str("sku", skuCode).Str("kind", string(kind)).Int("removed", removed).
		Msg("exception day reverted")
	return removed, nil
}

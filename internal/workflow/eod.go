package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/lot"
	"github.com/nbrembilla/scorte/internal/storage"
)

// EODResult reports what one end-of-day close did for a SKU.
type EODResult struct {
	SKU        string `json:"sku"`
	QtySold    int    `json:"qty_sold"`
	Adjustment int    `json:"adjustment"`
	Consumed   int    `json:"fefo_consumed"`
}

// ProcessEODStock reconciles a declared end-of-day count for one SKU: the
// implied sales quantity is written to the sales records, any residual
// becomes an ADJUST event, and the sold units are consumed from lots FEFO.
func (s *Service) ProcessEODStock(ctx context.Context, skuCode string, day time.Time, declaredOnHand int) (EODResult, error) {
	if declaredOnHand < 0 {
		return EODResult{}, fmt.Errorf("negative declared stock %d: %w", declaredOnHand, domain.ErrInvalidInput)
	}
	if err := s.acquireWriter(ctx); err != nil {
		return EODResult{}, err
	}
	defer s.releaseWriter()

	txns, err := s.store.Transactions(ctx)
	if err != nil {
		return EODResult{}, err
	}
	sales, err := s.store.Sales(ctx)
	if err != nil {
		return EODResult{}, err
	}
	allLots, err := s.store.Lots(ctx)
	if err != nil {
		return EODResult{}, err
	}

	res, batch, err := s.eodBatch(skuCode, day, declaredOnHand, txns, sales, allLots)
	if err != nil {
		return EODResult{}, err
	}
	if err := s.store.Apply(ctx, batch); err != nil {
		return EODResult{}, err
	}
	log.Info().Str("sku", skuCode).Int("qty_sold", res.QtySold).
		Int("adjustment", res.Adjustment).Msg("eod stock processed")
	return res, nil
}

// eodBatch computes the close for one SKU without writing.
func (s *Service) eodBatch(skuCode string, day time.Time, declaredOnHand int, txns []domain.Transaction, sales []domain.SalesRecord, allLots []domain.Lot) (EODResult, storage.Batch, error) {
	day = domain.Day(day)
	qtySold, adjustment := s.calc.CalculateSoldFromEODStock(skuCode, day, declaredOnHand, txns, sales)

	res := EODResult{SKU: skuCode, QtySold: qtySold, Adjustment: adjustment}
	batch := storage.Batch{
		Sales: []domain.SalesRecord{{Date: day, SKU: skuCode, QtySold: qtySold}},
	}

	details := fmt.Sprintf("declared=%d sold=%d adjustment=%d", declaredOnHand, qtySold, adjustment)

	if adjustment != 0 {
		batch.Transactions = append(batch.Transactions, domain.Transaction{
			Date: day,
			SKU:  skuCode,
			Kind: domain.EventAdjust,
			Qty:  declaredOnHand,
			Note: fmt.Sprintf("eod count correction %+d", adjustment),
		})
	}

	skuLots := lotsFor(allLots, skuCode)
	if qtySold > 0 && len(skuLots) > 0 {
		take := qtySold
		if total := lot.TotalOnHand(skuLots); take > total {
			take = total
		}
		if take > 0 {
			survivors, trace, err := lot.Consume(skuLots, take)
			if err != nil {
				return EODResult{}, storage.Batch{}, err
			}
			merged := mergeLots(allLots, skuCode, survivors)
			batch.Lots = &merged
			res.Consumed = take
			details += "; " + lot.FormatTrace(trace)
		}
	}

	batch.Audit = []domain.AuditRecord{s.audit("process_eod_stock", skuCode, details,
		"eod-"+day.Format("20060102"))}
	return res, batch, nil
}

// CloseDay runs the end-of-day reconciliation for every declared count. The
// per-SKU arithmetic runs concurrently over one snapshot; the results commit
// as a single batch.
func (s *Service) CloseDay(ctx context.Context, day time.Time, declarations map[string]int) ([]EODResult, error) {
	if len(declarations) == 0 {
		return nil, nil
	}
	if err := s.acquireWriter(ctx); err != nil {
		return nil, err
	}
	defer s.releaseWriter()

	txns, err := s.store.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := s.store.Sales(ctx)
	if err != nil {
		return nil, err
	}
	allLots, err := s.store.Lots(ctx)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(declarations))
	for code := range declarations {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var (
		mu      sync.Mutex
		results []EODResult
		merged  storage.Batch
	)
	lotState := allLots

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, code := range codes {
		code := code
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("%s: %w", err, domain.ErrCancelled)
			}
			res, batch, err := s.eodBatch(code, day, declarations[code], txns, sales, allLots)
			if err != nil {
				return fmt.Errorf("eod for %s: %w", code, err)
			}
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			merged.Sales = append(merged.Sales, batch.Sales...)
			merged.Transactions = append(merged.Transactions, batch.Transactions...)
			merged.Audit = append(merged.Audit, batch.Audit...)
			if batch.Lots != nil {
				lotState = mergeLots(lotState, code, lotsFor(*batch.Lots, code))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(lotState) != len(allLots) || anyLotChanged(allLots, lotState) {
		merged.Lots = &lotState
	}
	if err := s.store.Apply(ctx, merged); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].SKU < results[j].SKU })
	log.Info().Int("skus", len(results)).Str("date", domain.Day(day).Format(domain.DateLayout)).
		Msg("day closed")
	return results, nil
}

func anyLotChanged(before, after []domain.Lot) bool {
	if len(before) != len(after) {
		return true
	}
	byID := make(map[string]int, len(before))
	for _, l := range before {
		byID[l.LotID] = l.QtyOnHand
	}
	for _, l := range after {
		if qty, ok := byID[l.LotID]; !ok || qty != l.QtyOnHand {
			return true
		}
	}
	return false
}

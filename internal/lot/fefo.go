package lot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nbrembilla/scorte/internal/domain"
)

// ConsumptionTrace records one lot touched by a FEFO consumption.
type ConsumptionTrace struct {
	LotID        string     `json:"lot_id"`
	QtyConsumed  int        `json:"qty_consumed"`
	Expiry       *time.Time `json:"expiry_date,omitempty"`
	QtyRemaining int        `json:"qty_remaining"`
}

// SortFEFO orders lots by ascending expiry with no-expiry lots last. The
// sort is stable so equal expiries keep receipt order.
func SortFEFO(lots []domain.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		ei, ej := lots[i].Expiry, lots[j].Expiry
		switch {
		case ei == nil && ej == nil:
			return false
		case ei == nil:
			return false
		case ej == nil:
			return true
		default:
			return ei.Before(*ej)
		}
	})
}

// Consume deducts qty from the SKU's lots first-expired-first-out. It
// returns the surviving lots (zero-quantity lots removed) and a per-lot
// trace. Fails without mutating anything when the lots cannot cover qty.
func Consume(lots []domain.Lot, qty int) ([]domain.Lot, []ConsumptionTrace, error) {
	if qty < 0 {
		return nil, nil, fmt.Errorf("negative consumption %d: %w", qty, domain.ErrInvalidInput)
	}
	total := 0
	for _, l := range lots {
		total += l.QtyOnHand
	}
	if total < qty {
		return nil, nil, fmt.Errorf("need %d, lots hold %d: %w", qty, total, domain.ErrInsufficientLotStock)
	}

	sorted := append([]domain.Lot{}, lots...)
	SortFEFO(sorted)

	remaining := qty
	var trace []ConsumptionTrace
	survivors := make([]domain.Lot, 0, len(sorted))
	for _, l := range sorted {
		if remaining > 0 && l.QtyOnHand > 0 {
			take := l.QtyOnHand
			if take > remaining {
				take = remaining
			}
			l.QtyOnHand -= take
			remaining -= take
			trace = append(trace, ConsumptionTrace{
				LotID:        l.LotID,
				QtyConsumed:  take,
				Expiry:       l.Expiry,
				QtyRemaining: l.QtyOnHand,
			})
		}
		if l.QtyOnHand > 0 {
			survivors = append(survivors, l)
		}
	}
	return survivors, trace, nil
}

// FormatTrace serializes a consumption trace for a transaction note:
// "FEFO: lot1:q(exp:date), lot2:q(exp:date)".
func FormatTrace(traces []ConsumptionTrace) string {
	if len(traces) == 0 {
		return ""
	}
	parts := make([]string, 0, len(traces))
	for _, tr := range traces {
		exp := "none"
		if tr.Expiry != nil {
			exp = tr.Expiry.Format(domain.DateLayout)
		}
		parts = append(parts, fmt.Sprintf("%s:%d(exp:%s)", tr.LotID, tr.QtyConsumed, exp))
	}
	return "FEFO: " + strings.Join(parts, ", ")
}

// TotalOnHand sums lot quantities.
func TotalOnHand(lots []domain.Lot) int {
	total := 0
	for _, l := range lots {
		total += l.QtyOnHand
	}
	return total
}

// DriftExceeded reports whether the FEFO state diverges from the ledger
// on_hand by 10% or more. Callers log a warning and fall back to the ledger
// figure for usable-stock calculations.
func DriftExceeded(lotTotal, ledgerOnHand int) bool {
	if ledgerOnHand == 0 {
		return lotTotal != 0
	}
	diff := lotTotal - ledgerOnHand
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(ledgerOnHand) >= 0.10
}

package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/nbrembilla/scorte/internal/domain"
)

// Calculator reduces the append-only ledger into stock state as of a date.
// It is pure and read-only: workflows own all writes.
type Calculator struct {
	oosLookbackDays int
}

// NewCalculator builds a calculator. oosLookbackDays drives censoring
// detection; values below zero fall back to the default of 30.
func NewCalculator(oosLookbackDays int) *Calculator {
	if oosLookbackDays < 0 {
		oosLookbackDays = 30
	}
	return &Calculator{oosLookbackDays: oosLookbackDays}
}

// CalculateAsOf reduces all events strictly before asof for one SKU.
// Sales records are materialized as implicit SALE events. Counters saturate
// at zero.
func (c *Calculator) CalculateAsOf(sku string, asof time.Time, txns []domain.Transaction, sales []domain.SalesRecord) domain.StockPosition {
	asof = domain.Day(asof)
	events := c.eventsBefore(sku, asof, txns, sales)

	pos := domain.StockPosition{SKU: sku}
	for _, e := range events {
		switch e.Kind {
		case domain.EventSnapshot:
			pos.OnHand = e.Qty
			pos.OnOrder = 0
		case domain.EventOrder:
			pos.OnOrder += e.Qty
		case domain.EventReceipt:
			pos.OnOrder -= e.Qty
			if pos.OnOrder < 0 {
				pos.OnOrder = 0
			}
			pos.OnHand += e.Qty
		case domain.EventSale, domain.EventWaste:
			pos.OnHand -= e.Qty
			if pos.OnHand < 0 {
				pos.OnHand = 0
			}
		case domain.EventAdjust:
			pos.OnHand = e.Qty
			if pos.OnHand < 0 {
				pos.OnHand = 0
			}
		case domain.EventUnfulfilled:
			pos.UnfulfilledQty += e.Qty
		}
	}

	if pos.OnHand < 0 {
		pos.OnHand = 0
	}
	if pos.OnOrder < 0 {
		pos.OnOrder = 0
	}
	if pos.UnfulfilledQty < 0 {
		pos.UnfulfilledQty = 0
	}
	return pos
}

// eventsBefore filters, materializes implicit sales and sorts stably by
// (date, priority). Stability preserves insertion order within a slot.
func (c *Calculator) eventsBefore(sku string, asof time.Time, txns []domain.Transaction, sales []domain.SalesRecord) []domain.Transaction {
	events := make([]domain.Transaction, 0, len(txns))
	for _, t := range txns {
		if t.SKU == sku && domain.Day(t.Date).Before(asof) {
			events = append(events, t)
		}
	}
	for _, s := range sales {
		if s.SKU == sku && domain.Day(s.Date).Before(asof) && s.QtySold > 0 {
			events = append(events, domain.Transaction{
				Date: domain.Day(s.Date),
				SKU:  sku,
				Kind: domain.EventSale,
				Qty:  s.QtySold,
				Note: "implicit sale",
			})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		di, dj := domain.Day(events[i].Date), domain.Day(events[j].Date)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return events[i].Kind.Priority() < events[j].Kind.Priority()
	})
	return events
}

// OnOrderByDate returns net pending ORDER quantities grouped by expected
// receipt date, with RECEIPTs netted against the same receipt date. Orders
// without a receipt date group under the zero time.
func (c *Calculator) OnOrderByDate(sku string, cutoff time.Time, txns []domain.Transaction) map[time.Time]int {
	cutoff = domain.Day(cutoff)
	pending := make(map[time.Time]int)
	for _, t := range txns {
		if t.SKU != sku || !domain.Day(t.Date).Before(cutoff) {
			continue
		}
		var key time.Time
		if t.ReceiptDate != nil {
			key = domain.Day(*t.ReceiptDate)
		}
		switch t.Kind {
		case domain.EventOrder:
			pending[key] += t.Qty
		case domain.EventReceipt:
			pending[key] -= t.Qty
		}
	}
	for key, qty := range pending {
		if qty <= 0 {
			delete(pending, key)
		}
	}
	return pending
}

// InventoryPosition is on_hand plus on-order arriving by asof, minus
// unfulfilled demand. Orders without a receipt date count as arriving.
func (c *Calculator) InventoryPosition(sku string, asof time.Time, txns []domain.Transaction, sales []domain.SalesRecord) int {
	asof = domain.Day(asof)
	pos := c.CalculateAsOf(sku, asof, txns, sales)

	arriving := 0
	for date, qty := range c.OnOrderByDate(sku, asof, txns) {
		if date.IsZero() || !date.After(asof) {
			arriving += qty
		}
	}
	return pos.OnHand + arriving - pos.UnfulfilledQty
}

// CalculateSoldFromEODStock back-computes the day's sales from a declared
// end-of-day count. Mass balance holds:
// start + receipts - waste - sold - adjust = declared.
func (c *Calculator) CalculateSoldFromEODStock(sku string, day time.Time, declaredOnHand int, txns []domain.Transaction, sales []domain.SalesRecord) (qtySold, adjustment int) {
	day = domain.Day(day)
	theoretical := c.CalculateAsOf(sku, day.AddDate(0, 0, 1), txns, sales).OnHand

	qtySold = theoretical - declaredOnHand
	if qtySold < 0 {
		qtySold = 0
	}
	adjustment = declaredOnHand - (theoretical - qtySold)
	return qtySold, adjustment
}

// IsDayCensored reports whether d's observed sales are unreliable for demand
// estimation: end-of-day stockout with zero sales, or any UNFULFILLED event
// within the lookback window.
func (c *Calculator) IsDayCensored(sku string, d time.Time, lookback int, txns []domain.Transaction, sales []domain.SalesRecord) (bool, string) {
	d = domain.Day(d)
	if lookback < 0 {
		lookback = c.oosLookbackDays
	}

	soldOnDay := 0
	for _, s := range sales {
		if s.SKU == sku && domain.Day(s.Date).Equal(d) {
			soldOnDay = s.QtySold
		}
	}
	eod := c.CalculateAsOf(sku, d.AddDate(0, 0, 1), txns, sales)
	if eod.OnHand == 0 && soldOnDay == 0 {
		return true, fmt.Sprintf("stockout at end of %s with zero sales", d.Format(domain.DateLayout))
	}

	from := d.AddDate(0, 0, -lookback)
	for _, t := range txns {
		if t.SKU != sku || t.Kind != domain.EventUnfulfilled {
			continue
		}
		td := domain.Day(t.Date)
		if !td.Before(from) && !td.After(d) {
			return true, fmt.Sprintf("unfulfilled demand on %s", td.Format(domain.DateLayout))
		}
	}
	return false, ""
}

// CensoredFlags evaluates IsDayCensored over a contiguous date range,
// oldest-first. A negative lookback uses the configured OOS lookback, same
// as IsDayCensored.
func (c *Calculator) CensoredFlags(sku string, from, to time.Time, lookback int, txns []domain.Transaction, sales []domain.SalesRecord) []bool {
	from, to = domain.Day(from), domain.Day(to)
	var flags []bool
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		censored, _ := c.IsDayCensored(sku, d, lookback, txns, sales)
		flags = append(flags, censored)
	}
	return flags
}

package workflow

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nbrembilla/scorte/internal/calendar"
	"github.com/nbrembilla/scorte/internal/demand"
	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/forecast"
	"github.com/nbrembilla/scorte/internal/lot"
	"github.com/nbrembilla/scorte/internal/storage"
)

// ProposeOrder computes one SKU's order proposal for today via the given
// lane. It is read-only: confirmation is a separate step.
func (s *Service) ProposeOrder(ctx context.Context, skuCode string, today time.Time, lane calendar.Lane) (domain.OrderProposal, error) {
	sku, err := s.findSKU(ctx, skuCode)
	if err != nil {
		return domain.OrderProposal{}, err
	}
	today = domain.Day(today)

	window, err := s.cal.ProtectionWindowFor(today, lane)
	if err != nil {
		return domain.OrderProposal{}, err
	}

	txns, err := s.store.Transactions(ctx)
	if err != nil {
		return domain.OrderProposal{}, err
	}
	sales, err := s.store.Sales(ctx)
	if err != nil {
		return domain.OrderProposal{}, err
	}
	lots, err := s.store.Lots(ctx)
	if err != nil {
		return domain.OrderProposal{}, err
	}

	return s.propose(sku, today, window, txns, sales, lotsFor(lots, sku.Code))
}

func (s *Service) propose(sku domain.SKU, today time.Time, window calendar.ProtectionWindow, txns []domain.Transaction, sales []domain.SalesRecord, skuLots []domain.Lot) (domain.OrderProposal, error) {
	histFrom := today.AddDate(0, 0, -s.historyDays)
	histTo := today.AddDate(0, 0, -1)
	history := salesHistory(sku.Code, histFrom, histTo, sales)
	censored := s.calc.CensoredFlags(sku.Code, histFrom, histTo, -1, txns, sales)

	dist := s.builder.Build(demand.Request{
		Method:            sku.ForecastMethod,
		History:           history,
		ProtectionDays:    window.Days,
		AsOf:              today,
		Censored:          censored,
		MCParams:          mcParamsFor(sku),
		ExpectedWasteRate: sku.MCWasteRate,
	})

	safety := forecast.SafetyStock(sku.TargetCSL, dist.SigmaP)
	position := s.calc.InventoryPosition(sku.Code, window.R1, txns, sales)
	asOf := s.calc.CalculateAsOf(sku.Code, today.AddDate(0, 0, 1), txns, sales)

	need := int(math.Ceil(dist.MuP + safety))
	qty := need - position
	if qty < 0 {
		qty = 0
	}
	qty = roundToPolicy(qty, sku.PackSize, sku.MinOrderQty)
	qty = clampToMaxStock(qty, position, sku.MaxStock, sku.PackSize, sku.MinOrderQty)

	dailyDemand := 0.0
	if window.Days > 0 {
		dailyDemand = dist.MuP / float64(window.Days)
	}

	// Usable-stock input falls back to the ledger figure when lot state has
	// drifted from it.
	onHandForRisk := skuLots
	if lot.DriftExceeded(lot.TotalOnHand(skuLots), asOf.OnHand) {
		log.Warn().Str("sku", sku.Code).
			Int("lot_total", lot.TotalOnHand(skuLots)).
			Int("ledger_on_hand", asOf.OnHand).
			Msg("lot state drifted from ledger, using ledger on_hand for waste risk")
		onHandForRisk = ledgerAsLots(sku, asOf.OnHand, today)
	}

	risk := lot.ProjectForwardWasteRisk(onHandForRisk, window.R1, qty,
		sku.ShelfLifeDays, sku.MinShelfLifeDays, wasteHorizon(sku), dailyDemand)
	penalized, applied, reason := lot.ApplyWastePenalty(qty, risk.AdjustedRiskPercent,
		sku.WastePenaltyMode, sku.WastePenaltyFactor, sku.WasteRiskThreshold)
	if applied && penalized < qty {
		// One fixed-point pass: the reduced quantity must still honor pack
		// and MOQ alignment.
		penalized = roundDownToPolicy(penalized, sku.PackSize, sku.MinOrderQty)
		qty = penalized
	}

	isCensored := false
	for _, f := range censored {
		if f {
			isCensored = true
			break
		}
	}

	return domain.OrderProposal{
		SKU:                     sku.Code,
		Description:             sku.Description,
		OnHand:                  asOf.OnHand,
		OnOrder:                 asOf.OnOrder,
		DailySalesAvg:           dailyDemand,
		ProposedQty:             qty,
		ReceiptDate:             window.R1,
		ProtectionDays:          window.Days,
		SafetyStock:             int(math.Ceil(safety)),
		ForecastMethod:          dist.ForecastMethod,
		WasteRiskPercent:        risk.AdjustedRiskPercent,
		ExpectedWaste:           risk.ExpectedWaste,
		WasteRiskReason:         reason,
		ShelfLifePenaltyApplied: applied,
		IsCensored:              isCensored,
	}, nil
}

// ConfirmOrders appends ORDER events and order-log records for every
// proposal with a positive quantity. Order ids are deterministic within the
// call: a timestamp prefix plus a sequence.
func (s *Service) ConfirmOrders(ctx context.Context, proposals []domain.OrderProposal, today time.Time) ([]domain.OrderLog, error) {
	if err := s.acquireWriter(ctx); err != nil {
		return nil, err
	}
	defer s.releaseWriter()

	today = domain.Day(today)
	stamp := s.now().UTC().Format("20060102150405")

	// A second call within the same wall-clock second must not reuse ids:
	// the order-log upsert would silently swallow the earlier orders. The
	// sequence continues past any id already minted under this stamp.
	existing, err := s.store.Orders(ctx)
	if err != nil {
		return nil, err
	}
	seq := maxOrderSeq(existing, "ORD-"+stamp+"-")

	var (
		txs    []domain.Transaction
		orders []domain.OrderLog
		audits []domain.AuditRecord
	)
	for _, p := range proposals {
		if p.ProposedQty <= 0 {
			continue
		}
		seq++
		orderID := fmt.Sprintf("ORD-%s-%03d", stamp, seq)
		receipt := domain.Day(p.ReceiptDate)

		txs = append(txs, domain.Transaction{
			Date:        today,
			SKU:         p.SKU,
			Kind:        domain.EventOrder,
			Qty:         p.ProposedQty,
			ReceiptDate: &receipt,
			Note:        fmt.Sprintf("order %s (%s)", orderID, p.ForecastMethod),
		})
		orders = append(orders, domain.OrderLog{
			OrderID:     orderID,
			Date:        today,
			SKU:         p.SKU,
			QtyOrdered:  p.ProposedQty,
			Status:      domain.OrderPending,
			ReceiptDate: receipt,
		})
		audits = append(audits, s.audit("confirm_order", p.SKU,
			fmt.Sprintf("order_id=%s qty=%d receipt=%s", orderID, p.ProposedQty, receipt.Format(domain.DateLayout)),
			"confirm-"+stamp))
	}
	if len(orders) == 0 {
		return nil, nil
	}

	if err := s.store.Apply(ctx, storage.Batch{Transactions: txs, Orders: orders, Audit: audits}); err != nil {
		return nil, err
	}
	log.Info().Int("orders", len(orders)).Str("date", today.Format(domain.DateLayout)).
		Msg("orders confirmed")
	return orders, nil
}

// maxOrderSeq returns the highest sequence suffix among order ids carrying
// the given stamp prefix, zero when none do.
func maxOrderSeq(orders []domain.OrderLog, prefix string) int {
	max := 0
	for _, o := range orders {
		if !strings.HasPrefix(o.OrderID, prefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(o.OrderID, prefix)); err == nil && n > max {
			max = n
		}
	}
	return max
}

// mcParamsFor maps a SKU's Monte Carlo overrides onto forecast parameters.
// A SKU without a declared distribution uses the builder defaults.
func mcParamsFor(sku domain.SKU) *forecast.MCParams {
	if sku.MCDistribution == "" {
		return nil
	}
	return &forecast.MCParams{
		Distribution:      sku.MCDistribution,
		NSimulations:      sku.MCNSimulations,
		RandomSeed:        sku.MCRandomSeed,
		OutputStat:        sku.MCOutputStat,
		OutputPercentile:  sku.MCOutputPercentile,
		HorizonMode:       sku.MCHorizonMode,
		HorizonDays:       sku.MCHorizonDays,
		ExpectedWasteRate: sku.MCWasteRate,
	}
}

func wasteHorizon(sku domain.SKU) int {
	if sku.WasteHorizonDays > 0 {
		return sku.WasteHorizonDays
	}
	return 5
}

// ledgerAsLots represents the ledger on_hand as a single synthetic lot so
// the waste-risk projection can still run when lot state is unreliable.
func ledgerAsLots(sku domain.SKU, onHand int, today time.Time) []domain.Lot {
	if onHand <= 0 {
		return nil
	}
	l := domain.Lot{LotID: "ledger", SKU: sku.Code, QtyOnHand: onHand, ReceiptDate: domain.Day(today)}
	if sku.ShelfLifeDays > 0 {
		exp := domain.Day(today).AddDate(0, 0, sku.ShelfLifeDays)
		l.Expiry = &exp
	}
	return []domain.Lot{l}
}

// policyStep is the least common multiple of pack size and MOQ: the only
// quantities orderable are multiples of both.
func policyStep(packSize, moq int) int {
	if packSize < 1 {
		packSize = 1
	}
	if moq < 1 {
		moq = 1
	}
	return packSize / gcd(packSize, moq) * moq
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func roundToPolicy(qty, packSize, moq int) int {
	if qty <= 0 {
		return 0
	}
	step := policyStep(packSize, moq)
	return (qty + step - 1) / step * step
}

func roundDownToPolicy(qty, packSize, moq int) int {
	if qty <= 0 {
		return 0
	}
	step := policyStep(packSize, moq)
	return qty / step * step
}

// clampToMaxStock caps the quantity so position + qty never exceeds
// max_stock, stepping down in policy increments. MaxStock of zero means no
// cap.
func clampToMaxStock(qty, position, maxStock, packSize, moq int) int {
	if maxStock <= 0 || qty == 0 {
		return qty
	}
	room := maxStock - position
	if room <= 0 {
		return 0
	}
	if qty <= room {
		return qty
	}
	return roundDownToPolicy(room, packSize, moq)
}

// OrderNote summarizes an allocation for ledger notes.
func orderNote(documentID string, orderIDs []string) string {
	if len(orderIDs) == 0 {
		return fmt.Sprintf("document %s: no matching orders", documentID)
	}
	return fmt.Sprintf("document %s; orders: %s", documentID, strings.Join(orderIDs, ","))
}

package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrembilla/scorte/internal/calendar"
	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/demand"
	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/ledger"
	"github.com/nbrembilla/scorte/internal/storage"
	"github.com/nbrembilla/scorte/internal/storage/flatfile"
)

func newTestService(t *testing.T) (*Service, storage.Storage) {
	t.Helper()
	store, err := flatfile.Open(config.StorageConfig{DataDir: t.TempDir()})
	require.NoError(t, err)

	svc := NewService(
		store,
		calendar.New(calendar.Default()),
		ledger.NewCalculator(30),
		demand.NewBuilder(config.ForecastConfig{OOSLookbackDays: 30, WindowWeeks: 4, AlphaBase: 0.3, AlphaBoost: 0.2}),
	)
	svc.now = func() time.Time { return time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC) }
	return svc, store
}

func seedSKU(t *testing.T, store storage.Storage, sku domain.SKU) {
	t.Helper()
	require.NoError(t, store.SaveSKUs(context.Background(), []domain.SKU{sku}))
}

func seedSteadySales(t *testing.T, store storage.Storage, sku string, upTo time.Time, days, perDay int) {
	t.Helper()
	var sales []domain.SalesRecord
	for i := days; i >= 1; i-- {
		sales = append(sales, domain.SalesRecord{Date: upTo.AddDate(0, 0, -i), SKU: sku, QtySold: perDay})
	}
	require.NoError(t, store.Apply(context.Background(), storage.Batch{Sales: sales}))
}

func widgetSKU() domain.SKU {
	return domain.SKU{
		Code: "WIDGET-A", Description: "Widget A", MinOrderQty: 6, PackSize: 6,
		LeadTimeDays: 1, MaxStock: 500, TargetCSL: 0.95, ForecastMethod: "simple",
		InAssortment: true,
	}
}

// Scenario: two pending orders, one 70-unit delivery closes FIFO against the
// oldest, and a replay of the same document is a recorded no-op.
func TestCloseReceiptIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedSKU(t, store, widgetSKU())

	today := domain.Date(2026, time.March, 2)
	require.NoError(t, store.Apply(ctx, storage.Batch{Orders: []domain.OrderLog{
		{OrderID: "ORD-1", Date: today.AddDate(0, 0, -3), SKU: "WIDGET-A", QtyOrdered: 100, Status: domain.OrderPending},
		{OrderID: "ORD-2", Date: today.AddDate(0, 0, -1), SKU: "WIDGET-A", QtyOrdered: 50, Status: domain.OrderPending},
	}}))

	res, err := svc.CloseReceiptByDocument(ctx, "DDT-2026-001", today,
		[]ReceiptItem{{SKU: "WIDGET-A", QtyReceived: 70}}, "")
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, domain.EventReceipt, res.Transactions[0].Kind)
	assert.Equal(t, 70, res.Transactions[0].Qty)

	orders, err := store.Orders(ctx)
	require.NoError(t, err)
	byID := map[string]domain.OrderLog{}
	for _, o := range orders {
		byID[o.OrderID] = o
	}
	assert.Equal(t, 70, byID["ORD-1"].QtyReceived)
	assert.Equal(t, domain.OrderPartial, byID["ORD-1"].Status)
	assert.Equal(t, 0, byID["ORD-2"].QtyReceived)
	assert.Equal(t, domain.OrderPending, byID["ORD-2"].Status)

	txsBefore, err := store.Transactions(ctx)
	require.NoError(t, err)

	// Replay: no new transactions, state unchanged.
	res, err = svc.CloseReceiptByDocument(ctx, "DDT-2026-001", today,
		[]ReceiptItem{{SKU: "WIDGET-A", QtyReceived: 70}}, "")
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Empty(t, res.Transactions)

	txsAfter, err := store.Transactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, txsBefore, txsAfter)
}

func TestCloseReceiptOverstockAccepted(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedSKU(t, store, widgetSKU())
	today := domain.Date(2026, time.March, 2)

	res, err := svc.CloseReceiptByDocument(ctx, "DDT-2026-002", today,
		[]ReceiptItem{{SKU: "WIDGET-A", QtyReceived: 30}}, "")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, domain.EventReceipt, res.Transactions[0].Kind)
	assert.Contains(t, res.Transactions[0].Note, "no matching orders")

	for _, tx := range res.Transactions {
		assert.NotEqual(t, domain.EventUnfulfilled, tx.Kind)
	}
}

func TestCloseReceiptExplicitOrderClosedShort(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedSKU(t, store, widgetSKU())
	today := domain.Date(2026, time.March, 2)

	require.NoError(t, store.Apply(ctx, storage.Batch{Orders: []domain.OrderLog{
		{OrderID: "ORD-1", Date: today.AddDate(0, 0, -2), SKU: "WIDGET-A", QtyOrdered: 100, Status: domain.OrderPending},
	}}))

	res, err := svc.CloseReceiptByDocument(ctx, "DDT-2026-003", today,
		[]ReceiptItem{{SKU: "WIDGET-A", QtyReceived: 60, OrderIDs: []string{"ORD-1"}}}, "")
	require.NoError(t, err)

	var unfulfilled *domain.Transaction
	for i, tx := range res.Transactions {
		if tx.Kind == domain.EventUnfulfilled {
			unfulfilled = &res.Transactions[i]
		}
	}
	require.NotNil(t, unfulfilled)
	assert.Equal(t, 40, unfulfilled.Qty)
	assert.Contains(t, unfulfilled.Note, "DDT-2026-003")

	orders, err := store.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderReceived, orders[0].Status)
	assert.Equal(t, 60, orders[0].QtyReceived)
}

func TestCloseReceiptCreatesLotWithShelfLife(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	sku := widgetSKU()
	sku.ShelfLifeDays = 10
	seedSKU(t, store, sku)
	today := domain.Date(2026, time.March, 2)

	_, err := svc.CloseReceiptByDocument(ctx, "DDT-2026-004", today,
		[]ReceiptItem{{SKU: "WIDGET-A", QtyReceived: 24}}, "")
	require.NoError(t, err)

	lots, err := store.Lots(ctx)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, 24, lots[0].QtyOnHand)
	require.NotNil(t, lots[0].Expiry)
	assert.Equal(t, today.AddDate(0, 0, 10), *lots[0].Expiry)
}

// Scenario: starting stock 100, declared end-of-day count 75. The 25-unit
// gap is sales, not an adjustment, and comes out of the earliest-expiring
// lot.
func TestProcessEODStock(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedSKU(t, store, widgetSKU())
	today := domain.Date(2026, time.March, 2)

	exp1 := domain.Date(2026, time.March, 5)
	exp2 := domain.Date(2026, time.March, 20)
	lots := []domain.Lot{
		{LotID: "L1", SKU: "SKU001", Expiry: &exp1, QtyOnHand: 40, ReceiptDate: today.AddDate(0, 0, -5)},
		{LotID: "L2", SKU: "SKU001", Expiry: &exp2, QtyOnHand: 60, ReceiptDate: today.AddDate(0, 0, -2)},
	}
	require.NoError(t, store.Apply(ctx, storage.Batch{
		Transactions: []domain.Transaction{
			{Date: today.AddDate(0, 0, -5), SKU: "SKU001", Kind: domain.EventSnapshot, Qty: 100},
		},
		Lots: &lots,
	}))

	res, err := svc.ProcessEODStock(ctx, "SKU001", today, 75)
	require.NoError(t, err)
	assert.Equal(t, 25, res.QtySold)
	assert.Equal(t, 0, res.Adjustment)
	assert.Equal(t, 25, res.Consumed)

	sales, err := store.Sales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 25, sales[0].QtySold)

	// No ADJUST event was written.
	txs, err := store.Transactions(ctx)
	require.NoError(t, err)
	for _, tx := range txs {
		assert.NotEqual(t, domain.EventAdjust, tx.Kind)
	}

	// FEFO: the earliest-expiring lot absorbed the sales.
	after, err := store.Lots(ctx)
	require.NoError(t, err)
	byID := map[string]int{}
	for _, l := range after {
		byID[l.LotID] = l.QtyOnHand
	}
	assert.Equal(t, 15, byID["L1"])
	assert.Equal(t, 60, byID["L2"])
}

func TestProcessEODStockOverage(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	today := domain.Date(2026, time.March, 2)

	require.NoError(t, store.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: today.AddDate(0, 0, -5), SKU: "SKU001", Kind: domain.EventSnapshot, Qty: 100},
	}}))

	// Declared more than theoretical: zero sales, positive adjustment.
	res, err := svc.ProcessEODStock(ctx, "SKU001", today, 110)
	require.NoError(t, err)
	assert.Equal(t, 0, res.QtySold)
	assert.Equal(t, 10, res.Adjustment)

	txs, err := store.Transactions(ctx)
	require.NoError(t, err)
	var adjust *domain.Transaction
	for i, tx := range txs {
		if tx.Kind == domain.EventAdjust {
			adjust = &txs[i]
		}
	}
	require.NotNil(t, adjust)
	assert.Equal(t, 110, adjust.Qty)
}

func TestCloseDayBatch(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	today := domain.Date(2026, time.March, 2)

	require.NoError(t, store.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: today.AddDate(0, 0, -3), SKU: "A1", Kind: domain.EventSnapshot, Qty: 50},
		{Date: today.AddDate(0, 0, -3), SKU: "B2", Kind: domain.EventSnapshot, Qty: 30},
	}}))

	results, err := svc.CloseDay(ctx, today, map[string]int{"A1": 40, "B2": 30})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "A1", results[0].SKU)
	assert.Equal(t, 10, results[0].QtySold)
	assert.Equal(t, 0, results[1].QtySold)

	sales, err := store.Sales(ctx)
	require.NoError(t, err)
	assert.Len(t, sales, 2)
}

func TestRecordExceptionIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	day := domain.Date(2026, time.March, 2)

	tx, already, err := svc.RecordException(ctx, domain.EventWaste, "A1", 5, day, "broken crate")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, 5, tx.Qty)

	_, already, err = svc.RecordException(ctx, domain.EventWaste, "A1", 8, day, "again")
	require.NoError(t, err)
	assert.True(t, already)

	txs, err := store.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, 5, txs[0].Qty)
}

func TestRecordWasteConsumesFEFO(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	day := domain.Date(2026, time.March, 2)

	exp1 := domain.Date(2026, time.March, 4)
	exp2 := domain.Date(2026, time.March, 30)
	lots := []domain.Lot{
		{LotID: "L1", SKU: "A1", Expiry: &exp1, QtyOnHand: 3, ReceiptDate: day.AddDate(0, 0, -4)},
		{LotID: "L2", SKU: "A1", Expiry: &exp2, QtyOnHand: 10, ReceiptDate: day.AddDate(0, 0, -1)},
	}
	require.NoError(t, store.Apply(ctx, storage.Batch{Lots: &lots}))

	tx, _, err := svc.RecordException(ctx, domain.EventWaste, "A1", 5, day, "")
	require.NoError(t, err)
	assert.Contains(t, tx.Note, "FEFO:")
	assert.Contains(t, tx.Note, "L1:3")
	assert.Contains(t, tx.Note, "L2:2")

	after, err := store.Lots(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "L2", after[0].LotID)
	assert.Equal(t, 8, after[0].QtyOnHand)
}

func TestRecordWasteInsufficientLots(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	day := domain.Date(2026, time.March, 2)

	lots := []domain.Lot{{LotID: "L1", SKU: "A1", QtyOnHand: 2, ReceiptDate: day.AddDate(0, 0, -1)}}
	require.NoError(t, store.Apply(ctx, storage.Batch{Lots: &lots}))

	_, _, err := svc.RecordException(ctx, domain.EventWaste, "A1", 5, day, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientLotStock)

	// Nothing was written.
	txs, err := store.Transactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRevertExceptionDay(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	day := domain.Date(2026, time.March, 2)

	require.NoError(t, store.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: day, SKU: "A1", Kind: domain.EventWaste, Qty: 5},
		{Date: day, SKU: "A1", Kind: domain.EventSale, Qty: 3},
		{Date: day, SKU: "B2", Kind: domain.EventWaste, Qty: 1},
	}}))

	removed, err := svc.RevertExceptionDay(ctx, day, "A1", domain.EventWaste)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	txs, err := store.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.False(t, tx.SKU == "A1" && tx.Kind == domain.EventWaste)
	}

	removed, err = svc.RevertExceptionDay(ctx, day, "A1", domain.EventWaste)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

// Proposal quantities honor pack, MOQ, and the max-stock cap.
func TestProposeOrderRounding(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	today := domain.Date(2026, time.March, 2) // Monday

	sku := widgetSKU()
	sku.MinOrderQty = 12
	sku.PackSize = 6
	sku.MaxStock = 90
	seedSKU(t, store, sku)
	seedSteadySales(t, store, "WIDGET-A", today, 30, 10)

	p, err := svc.ProposeOrder(ctx, "WIDGET-A", today, calendar.LaneStandard)
	require.NoError(t, err)

	if p.ProposedQty > 0 {
		assert.Zero(t, p.ProposedQty%sku.PackSize, "pack multiple")
		assert.Zero(t, p.ProposedQty%sku.MinOrderQty, "moq multiple")
	}
	assert.LessOrEqual(t, p.ProposedQty, sku.MaxStock)
	assert.Greater(t, p.DailySalesAvg, 0.0)
	assert.Equal(t, "simple", p.ForecastMethod)
}

func TestProposeOrderMaxStockBlocks(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	today := domain.Date(2026, time.March, 2)

	sku := widgetSKU()
	sku.MaxStock = 50
	seedSKU(t, store, sku)
	seedSteadySales(t, store, "WIDGET-A", today, 30, 10)
	require.NoError(t, store.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: today.AddDate(0, 0, -1), SKU: "WIDGET-A", Kind: domain.EventSnapshot, Qty: 50},
	}}))

	p, err := svc.ProposeOrder(ctx, "WIDGET-A", today, calendar.LaneStandard)
	require.NoError(t, err)
	assert.Equal(t, 0, p.ProposedQty)
	assert.False(t, p.ShelfLifePenaltyApplied)
}

func TestProposeOrderHardPenaltyBlocks(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	today := domain.Date(2026, time.March, 2)

	sku := widgetSKU()
	sku.ShelfLifeDays = 2
	sku.WastePenaltyMode = domain.PenaltyHard
	sku.WasteRiskThreshold = 10
	sku.WasteHorizonDays = 5
	seedSKU(t, store, sku)
	// Tiny demand, so almost everything ordered would expire unsold.
	seedSteadySales(t, store, "WIDGET-A", today, 30, 1)

	p, err := svc.ProposeOrder(ctx, "WIDGET-A", today, calendar.LaneStandard)
	require.NoError(t, err)
	if p.ShelfLifePenaltyApplied {
		assert.Equal(t, 0, p.ProposedQty)
		assert.NotEmpty(t, p.WasteRiskReason)
	}
}

func TestConfirmOrdersWritesLedgerAndLog(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	today := domain.Date(2026, time.March, 2)

	proposals := []domain.OrderProposal{
		{SKU: "A1", ProposedQty: 24, ReceiptDate: today.AddDate(0, 0, 1), ForecastMethod: "simple"},
		{SKU: "B2", ProposedQty: 0, ReceiptDate: today.AddDate(0, 0, 1)},
		{SKU: "C3", ProposedQty: 12, ReceiptDate: today.AddDate(0, 0, 1), ForecastMethod: "simple"},
	}
	orders, err := svc.ConfirmOrders(ctx, proposals, today)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.NotEqual(t, orders[0].OrderID, orders[1].OrderID)
	assert.Equal(t, domain.OrderPending, orders[0].Status)

	txs, err := store.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, domain.EventOrder, txs[0].Kind)
	assert.Equal(t, 24, txs[0].Qty)
	require.NotNil(t, txs[0].ReceiptDate)
}

func TestSavePromoCalendarRejectsOverlap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	promos := []domain.PromoWindow{
		{SKU: "A1", StartDate: domain.Date(2026, time.March, 1), EndDate: domain.Date(2026, time.March, 7)},
		{SKU: "A1", StartDate: domain.Date(2026, time.March, 5), EndDate: domain.Date(2026, time.March, 10)},
	}
	err := svc.SavePromoCalendar(ctx, promos)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Different stores may overlap.
	promos[1].StoreID = "S02"
	assert.NoError(t, svc.SavePromoCalendar(ctx, promos))
}

// Two confirmations inside the same wall-clock second must not collide on
// order ids: the order-log upsert would silently swallow the earlier call's
// orders.
func TestConfirmOrdersSameSecondDistinctIDs(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	today := domain.Date(2026, time.March, 2)

	first, err := svc.ConfirmOrders(ctx, []domain.OrderProposal{
		{SKU: "A1", ProposedQty: 24, ReceiptDate: today.AddDate(0, 0, 1), ForecastMethod: "simple"},
	}, today)
	require.NoError(t, err)
	second, err := svc.ConfirmOrders(ctx, []domain.OrderProposal{
		{SKU: "B2", ProposedQty: 12, ReceiptDate: today.AddDate(0, 0, 1), ForecastMethod: "simple"},
	}, today)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].OrderID, second[0].OrderID)

	orders, err := store.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	txs, err := store.Transactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

// Censored-day detection in proposals follows the configured out-of-stock
// lookback, not a fixed window.
func TestProposeOrderUsesConfiguredLookback(t *testing.T) {
	svc, store := newTestService(t) // 30-day lookback
	ctx := context.Background()
	today := domain.Date(2026, time.March, 2)
	histFrom := today.AddDate(0, 0, -90)

	seedSKU(t, store, widgetSKU())
	seedSteadySales(t, store, "WIDGET-A", today, 30, 5)
	// Plenty of stock throughout, so only the UNFULFILLED event can censor.
	require.NoError(t, store.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: histFrom.AddDate(0, 0, -20), SKU: "WIDGET-A", Kind: domain.EventSnapshot, Qty: 1000},
		{Date: histFrom.AddDate(0, 0, -10), SKU: "WIDGET-A", Kind: domain.EventUnfulfilled, Qty: 4},
	}}))

	p, err := svc.ProposeOrder(ctx, "WIDGET-A", today, calendar.LaneStandard)
	require.NoError(t, err)
	assert.True(t, p.IsCensored,
		"unfulfilled demand 10 days before the history window censors its head under a 30-day lookback")

	short := NewService(store, calendar.New(calendar.Default()),
		ledger.NewCalculator(5),
		demand.NewBuilder(config.ForecastConfig{OOSLookbackDays: 5, WindowWeeks: 4, AlphaBase: 0.3}))
	short.now = svc.now
	p, err = short.ProposeOrder(ctx, "WIDGET-A", today, calendar.LaneStandard)
	require.NoError(t, err)
	assert.False(t, p.IsCensored)
}

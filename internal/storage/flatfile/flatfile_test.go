package flatfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.StorageConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := domain.Date(y, m, d)
	return &t
}

func TestEmptyStoreReadsEmpty(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)

	lots, err := s.Lots(ctx)
	require.NoError(t, err)
	assert.Empty(t, lots)
}

func TestAppendTransactionsAssignsSeq(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: domain.Date(2026, time.March, 2), SKU: "A1", Kind: domain.EventOrder, Qty: 10, ReceiptDate: datePtr(2026, time.March, 3)},
		{Date: domain.Date(2026, time.March, 3), SKU: "A1", Kind: domain.EventReceipt, Qty: 10},
	}})
	require.NoError(t, err)

	err = s.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: domain.Date(2026, time.March, 4), SKU: "A1", Kind: domain.EventSale, Qty: 3},
	}})
	require.NoError(t, err)

	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{txs[0].Seq, txs[1].Seq, txs[2].Seq})
	require.NotNil(t, txs[0].ReceiptDate)
	assert.Equal(t, domain.Date(2026, time.March, 3), *txs[0].ReceiptDate)
	assert.Nil(t, txs[1].ReceiptDate)
}

func TestReplaceLedgerRenumbers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: domain.Date(2026, time.March, 2), SKU: "A1", Kind: domain.EventSale, Qty: 1},
		{Date: domain.Date(2026, time.March, 3), SKU: "A1", Kind: domain.EventSale, Qty: 2},
		{Date: domain.Date(2026, time.March, 4), SKU: "A1", Kind: domain.EventSale, Qty: 3},
	}}))

	// Keep only the first and last event, as an exception revert would.
	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	kept := []domain.Transaction{txs[0], txs[2]}
	require.NoError(t, s.Apply(ctx, storage.Batch{ReplaceLedger: &kept}))

	after, err := s.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, int64(1), after[0].Seq)
	assert.Equal(t, int64(2), after[1].Seq)
	assert.Equal(t, 3, after[1].Qty)
}

func TestSalesUpsertByDateAndSKU(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	day := domain.Date(2026, time.March, 2)

	require.NoError(t, s.Apply(ctx, storage.Batch{Sales: []domain.SalesRecord{
		{Date: day, SKU: "A1", QtySold: 5},
		{Date: day, SKU: "B2", QtySold: 7},
	}}))
	require.NoError(t, s.Apply(ctx, storage.Batch{Sales: []domain.SalesRecord{
		{Date: day, SKU: "A1", QtySold: 9, PromoFlag: 1},
	}}))

	sales, err := s.Sales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, 9, sales[0].QtySold)
	assert.Equal(t, 1, sales[0].PromoFlag)
}

func TestOrderUpsertByOrderID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	o := domain.OrderLog{
		OrderID: "ORD-1", Date: domain.Date(2026, time.March, 2), SKU: "A1",
		QtyOrdered: 20, Status: domain.OrderPending, ReceiptDate: domain.Date(2026, time.March, 3),
	}
	require.NoError(t, s.Apply(ctx, storage.Batch{Orders: []domain.OrderLog{o}}))

	o.QtyReceived = 20
	o.Status = domain.OrderReceived
	require.NoError(t, s.Apply(ctx, storage.Batch{Orders: []domain.OrderLog{o}}))

	orders, err := s.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderReceived, orders[0].Status)
	assert.Equal(t, 20, orders[0].QtyReceived)
}

func TestLotsFullReplace(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := []domain.Lot{
		{LotID: "L1", SKU: "A1", Expiry: datePtr(2026, time.April, 1), QtyOnHand: 12, ReceiptDate: domain.Date(2026, time.March, 2)},
		{LotID: "L2", SKU: "A1", QtyOnHand: 8, ReceiptDate: domain.Date(2026, time.March, 3)},
	}
	require.NoError(t, s.Apply(ctx, storage.Batch{Lots: &first}))

	second := []domain.Lot{first[1]}
	require.NoError(t, s.Apply(ctx, storage.Batch{Lots: &second}))

	lots, err := s.Lots(ctx)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, "L2", lots[0].LotID)
	assert.Nil(t, lots[0].Expiry)
}

func TestReceivingDocumentConflict(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	r := domain.ReceivingLog{
		DocumentID: "DOC-9", ReceiptID: "R-1", Date: domain.Date(2026, time.March, 2),
		SKU: "A1", QtyReceived: 10,
	}
	require.NoError(t, s.Apply(ctx, storage.Batch{Receivings: []domain.ReceivingLog{r}}))

	err := s.Apply(ctx, storage.Batch{Receivings: []domain.ReceivingLog{r}})
	assert.ErrorIs(t, err, domain.ErrConflict)

	recs, err := s.Receivings(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestBatchValidationRejectsBadEvents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: domain.Date(2026, time.March, 2), SKU: "A1", Kind: "TELEPORT", Qty: 1},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCancelledContextRejected(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Apply(ctx, storage.Batch{Sales: []domain.SalesRecord{
		{Date: domain.Date(2026, time.March, 2), SKU: "A1", QtySold: 1},
	}})
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestSKURoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	in := []domain.SKU{{
		Code: "A1", Description: "Latte intero, 1L", MinOrderQty: 6, PackSize: 6,
		LeadTimeDays: 1, ShelfLifeDays: 10, MinShelfLifeDays: 3, MaxStock: 60,
		DemandTag: domain.DemandStable, TargetCSL: 0.95, ForecastMethod: "simple",
		InAssortment: true, WastePenaltyMode: domain.PenaltySoft, WastePenaltyFactor: 0.5,
		WasteRiskThreshold: 0.30, WasteHorizonDays: 5, Supplier: "Centrale",
	}}
	require.NoError(t, s.SaveSKUs(ctx, in))

	out, err := s.SKUs(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPromoRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	in := []domain.PromoWindow{{
		SKU: "A1", StartDate: domain.Date(2026, time.March, 2),
		EndDate: domain.Date(2026, time.March, 8), StoreID: "S01", PromoFlag: 1,
	}}
	require.NoError(t, s.SavePromos(ctx, in))

	out, err := s.Promos(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestBackupsCreatedAndPruned(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Fake clock so every overwrite gets a distinct backup stamp.
	tick := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 8; i++ {
		require.NoError(t, s.Apply(ctx, storage.Batch{Sales: []domain.SalesRecord{
			{Date: domain.Date(2026, time.March, 2), SKU: "A1", QtySold: i},
		}}))
	}

	backups, err := filepath.Glob(filepath.Join(s.dir, fileSales+".backup.*"))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), maxBackups)
	assert.GreaterOrEqual(t, len(backups), minBackups)
}

// Files written by an older build missing newer columns still load, with the
// missing fields at their zero values.
func TestSchemaDriftTolerantDecode(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	old := "date,sku,qty_sold\n2026-03-02,A1,4\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, fileSales), []byte(old), 0644))

	sales, err := s.Sales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 4, sales[0].QtySold)
	assert.Equal(t, 0, sales[0].PromoFlag)
}

func TestPartialFileNeverVisible(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, storage.Batch{Sales: []domain.SalesRecord{
		{Date: domain.Date(2026, time.March, 2), SKU: "A1", QtySold: 4},
	}}))

	// No temp files survive a completed write.
	leftovers, err := filepath.Glob(filepath.Join(s.dir, ".*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestApplyRollsBackWhenLaterFileFails(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Make the order log unwritable so its commit rename fails after the
	// ledger file would already have been renamed.
	require.NoError(t, os.Mkdir(filepath.Join(s.dir, fileOrders), 0755))

	err := s.Apply(ctx, storage.Batch{
		Transactions: []domain.Transaction{
			{Date: domain.Date(2026, time.March, 2), SKU: "A1", Kind: domain.EventOrder, Qty: 10, ReceiptDate: datePtr(2026, time.March, 3)},
		},
		Orders: []domain.OrderLog{
			{OrderID: "ORD-1", Date: domain.Date(2026, time.March, 2), SKU: "A1", QtyOrdered: 10, Status: domain.OrderPending, ReceiptDate: domain.Date(2026, time.March, 3)},
		},
	})
	require.Error(t, err)

	// Nothing from the failed batch may be visible.
	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestApplyRollbackPreservesPriorState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: domain.Date(2026, time.March, 1), SKU: "A1", Kind: domain.EventReceipt, Qty: 24},
	}}))

	require.NoError(t, os.Mkdir(filepath.Join(s.dir, fileOrders), 0755))

	err := s.Apply(ctx, storage.Batch{
		Transactions: []domain.Transaction{
			{Date: domain.Date(2026, time.March, 2), SKU: "A1", Kind: domain.EventSale, Qty: 3},
		},
		Orders: []domain.OrderLog{
			{OrderID: "ORD-2", Date: domain.Date(2026, time.March, 2), SKU: "A1", QtyOrdered: 12, Status: domain.OrderPending, ReceiptDate: domain.Date(2026, time.March, 3)},
		},
	})
	require.Error(t, err)

	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.EventReceipt, txs[0].Kind)

	// After the obstruction is removed the same batch commits cleanly.
	require.NoError(t, os.Remove(filepath.Join(s.dir, fileOrders)))
	require.NoError(t, s.Apply(ctx, storage.Batch{
		Transactions: []domain.Transaction{
			{Date: domain.Date(2026, time.March, 2), SKU: "A1", Kind: domain.EventSale, Qty: 3},
		},
		Orders: []domain.OrderLog{
			{OrderID: "ORD-2", Date: domain.Date(2026, time.March, 2), SKU: "A1", QtyOrdered: 12, Status: domain.OrderPending, ReceiptDate: domain.Date(2026, time.March, 3)},
		},
	}))
	txs, err = s.Transactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

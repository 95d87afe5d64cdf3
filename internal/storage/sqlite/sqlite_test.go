package sqlite

import (
	"context"
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
	s, err := Open(config.StorageConfig{DatabasePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := domain.Date(y, m, d)
	return &t
}

func TestMigrateIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StorageConfig{DatabasePath: filepath.Join(dir, "test.db")}

	s1, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening an already-migrated file applies nothing.
	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	var version int
	require.NoError(t, s2.db.Get(&version, `SELECT MAX(version) FROM schema_version`))
	assert.Equal(t, len(migrations), version)
}

func TestApplyTransactionsRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: domain.Date(2026, time.March, 2), SKU: "A1", Kind: domain.EventSnapshot, Qty: 50},
		{Date: domain.Date(2026, time.March, 2), SKU: "A1", Kind: domain.EventOrder, Qty: 12, ReceiptDate: datePtr(2026, time.March, 3), Note: "auto"},
	}})
	require.NoError(t, err)

	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(1), txs[0].Seq)
	assert.Equal(t, domain.EventSnapshot, txs[0].Kind)
	require.NotNil(t, txs[1].ReceiptDate)
	assert.Equal(t, domain.Date(2026, time.March, 3), *txs[1].ReceiptDate)
	assert.Equal(t, "auto", txs[1].Note)
}

func TestReplaceLedger(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, storage.Batch{Transactions: []domain.Transaction{
		{Date: domain.Date(2026, time.March, 2), SKU: "A1", Kind: domain.EventSale, Qty: 1},
		{Date: domain.Date(2026, time.March, 3), SKU: "A1", Kind: domain.EventSale, Qty: 2},
	}}))

	kept := []domain.Transaction{
		{Date: domain.Date(2026, time.March, 3), SKU: "A1", Kind: domain.EventSale, Qty: 2},
	}
	require.NoError(t, s.Apply(ctx, storage.Batch{ReplaceLedger: &kept}))

	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(1), txs[0].Seq)
	assert.Equal(t, 2, txs[0].Qty)
}

func TestOrderUpsert(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	o := domain.OrderLog{
		OrderID: "ORD-1", Date: domain.Date(2026, time.March, 2), SKU: "A1",
		QtyOrdered: 24, Status: domain.OrderPending, ReceiptDate: domain.Date(2026, time.March, 3),
	}
	require.NoError(t, s.Apply(ctx, storage.Batch{Orders: []domain.OrderLog{o}}))

	o.QtyReceived = 12
	o.Status = domain.OrderPartial
	require.NoError(t, s.Apply(ctx, storage.Batch{Orders: []domain.OrderLog{o}}))

	orders, err := s.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderPartial, orders[0].Status)
	assert.Equal(t, 12, orders[0].QtyReceived)
	assert.Equal(t, 24, orders[0].QtyOrdered)
}

func TestReceivingDocumentUnique(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	r := domain.ReceivingLog{
		DocumentID: "DOC-9", ReceiptID: "R-1", Date: domain.Date(2026, time.March, 2),
		SKU: "A1", QtyReceived: 10,
	}
	require.NoError(t, s.Apply(ctx, storage.Batch{Receivings: []domain.ReceivingLog{r}}))

	err := s.Apply(ctx, storage.Batch{Receivings: []domain.ReceivingLog{r}})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Same document for a different SKU line is allowed.
	r.SKU = "B2"
	assert.NoError(t, s.Apply(ctx, storage.Batch{Receivings: []domain.ReceivingLog{r}}))
}

// A failing receiving insert rolls back everything else in the batch.
func TestApplyAtomicOnConflict(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	r := domain.ReceivingLog{DocumentID: "DOC-1", Date: domain.Date(2026, time.March, 2), SKU: "A1", QtyReceived: 5}
	require.NoError(t, s.Apply(ctx, storage.Batch{Receivings: []domain.ReceivingLog{r}}))

	err := s.Apply(ctx, storage.Batch{
		Transactions: []domain.Transaction{
			{Date: domain.Date(2026, time.March, 2), SKU: "A1", Kind: domain.EventReceipt, Qty: 5},
		},
		Receivings: []domain.ReceivingLog{r},
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
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

func TestSalesUpsert(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	day := domain.Date(2026, time.March, 2)

	require.NoError(t, s.Apply(ctx, storage.Batch{Sales: []domain.SalesRecord{{Date: day, SKU: "A1", QtySold: 5}}}))
	require.NoError(t, s.Apply(ctx, storage.Batch{Sales: []domain.SalesRecord{{Date: day, SKU: "A1", QtySold: 8, PromoFlag: 1}}}))

	sales, err := s.Sales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 8, sales[0].QtySold)
}

func TestSKURoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	in := []domain.SKU{{
		Code: "A1", Description: "Yogurt bianco 500g", PackSize: 8, LeadTimeDays: 1,
		ShelfLifeDays: 21, DemandTag: domain.DemandVariable, TargetCSL: 0.98,
		ForecastMethod: "monte_carlo", InAssortment: true,
		WastePenaltyMode: domain.PenaltyHard, WasteRiskThreshold: 0.25,
		MCDistribution: "empirical", MCNSimulations: 500, MCRandomSeed: 42,
		MCOutputStat: "mean", MCHorizonMode: "auto", Supplier: "Granarolo",
	}}
	require.NoError(t, s.SaveSKUs(ctx, in))

	out, err := s.SKUs(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAuditAppendOnly(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ts := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.Apply(ctx, storage.Batch{Audit: []domain.AuditRecord{
		{Timestamp: ts, Operation: "confirm_order", SKU: "A1", Details: "qty=24", RunID: "run-1"},
		{Timestamp: ts.Add(time.Minute), Operation: "close_receipt", SKU: "A1", RunID: "run-2"},
	}}))

	records, err := s.AuditLog(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "confirm_order", records[0].Operation)
	assert.Equal(t, ts, records[0].Timestamp)
}

func TestIntegrityVerdict(t *testing.T) {
	s := newStore(t)
	verdict, err := s.Integrity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", verdict)
}

func TestCancelledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Apply(ctx, storage.Batch{Sales: []domain.SalesRecord{
		{Date: domain.Date(2026, time.March, 2), SKU: "A1", QtySold: 1},
	}})
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

package maintenance

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/storage"
	"github.com/nbrembilla/scorte/internal/storage/flatfile"
)

func newStore(t *testing.T) (*flatfile.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := flatfile.Open(config.StorageConfig{DataDir: dir})
	require.NoError(t, err)
	return store, dir
}

func seedStore(t *testing.T, store *flatfile.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveSKUs(ctx, []domain.SKU{
		{Code: "MILK-1L", Description: "Whole milk", MinOrderQty: 6, PackSize: 6, ShelfLifeDays: 7},
	}))
	day := domain.Date(2026, time.March, 2)
	require.NoError(t, store.Apply(ctx, storage.Batch{
		Transactions: []domain.Transaction{
			{Date: day, SKU: "MILK-1L", Kind: domain.EventReceipt, Qty: 24},
		},
		Sales: []domain.SalesRecord{
			{Date: day, SKU: "MILK-1L", QtySold: 5},
		},
	}))
}

func TestDBCheckPassesOnCleanData(t *testing.T) {
	store, _ := newStore(t)
	seedStore(t, store)

	report, err := DBCheck(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, report.Status)
	assert.Empty(t, report.Problems)
}

func TestDBCheckFailsOnOverReceivedOrder(t *testing.T) {
	store, dir := newStore(t)
	seedStore(t, store)

	// Corrupt the order file directly, bypassing batch validation.
	orders := "order_id,date,sku,qty_ordered,qty_received,status,receipt_date,prebuild\n" +
		"ORD-1,2026-03-02,MILK-1L,10,15,RECEIVED,2026-03-03,\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.csv"), []byte(orders), 0644))

	report, err := DBCheck(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, report.Status)
	require.Len(t, report.Problems, 1)
	assert.Contains(t, report.Problems[0], "ORD-1")
}

func TestDBCheckWarnsOnUnknownSKU(t *testing.T) {
	store, dir := newStore(t)
	seedStore(t, store)

	txns := "id,date,sku,event,qty,receipt_date,note,seq\n" +
		"1,2026-03-02,GHOST-SKU,RECEIPT,5,,,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "transactions.csv"), []byte(txns), 0644))

	report, err := DBCheck(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, report.Status)
	assert.Empty(t, report.Problems)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "GHOST-SKU")
}

func TestDBCheckFailsOnNegativeLot(t *testing.T) {
	store, dir := newStore(t)
	seedStore(t, store)

	lots := "lot_id,sku,expiry_date,qty_on_hand,receipt_id,receipt_date\n" +
		"L-1,MILK-1L,2026-03-09,-3,R-1,2026-03-02\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lots.csv"), []byte(lots), 0644))

	report, err := DBCheck(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, report.Status)
}

func TestReindexVacuumWarnsOnFlatFile(t *testing.T) {
	store, _ := newStore(t)

	status, err := ReindexVacuum(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, status)
}

func TestRestoreBackupUsesLatest(t *testing.T) {
	store, dir := newStore(t)
	seedStore(t, store)

	target := filepath.Join(dir, "transactions.csv")
	older := "id,date,sku,event,qty,receipt_date,note,seq\n"
	newer := older + "1,2026-03-02,MILK-1L,RECEIPT,24,,,1\n"
	require.NoError(t, os.WriteFile(target+".backup.20260301_090000", []byte(older), 0644))
	require.NoError(t, os.WriteFile(target+".backup.20260302_090000", []byte(newer), 0644))

	status, err := RestoreBackup(context.Background(), store, dir, "transactions.csv", "")
	require.NoError(t, err)
	assert.Equal(t, StatusPass, status)

	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, newer, string(restored))
}

func TestRestoreBackupMissing(t *testing.T) {
	store, dir := newStore(t)

	status, err := RestoreBackup(context.Background(), store, dir, "sales.csv", "")
	assert.Equal(t, StatusFail, status)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExportSnapshotManifest(t *testing.T) {
	store, _ := newStore(t)
	seedStore(t, store)

	outDir := t.TempDir()
	m, err := ExportSnapshot(context.Background(), store, outDir)
	require.NoError(t, err)
	assert.NotEmpty(t, m.RunID)
	require.Len(t, m.Files, 7)

	byName := make(map[string]ManifestEntry, len(m.Files))
	for _, f := range m.Files {
		byName[f.File] = f
	}
	assert.Equal(t, 1, byName["skus.csv"].Rows)
	assert.Equal(t, 1, byName["transactions.csv"].Rows)
	assert.Equal(t, 1, byName["sales.csv"].Rows)
	assert.Equal(t, 0, byName["orders.csv"].Rows)

	// Checksums in the manifest must match the files on disk.
	for _, f := range m.Files {
		data, err := os.ReadFile(filepath.Join(outDir, f.File))
		require.NoError(t, err)
		sum := sha256.Sum256(data)
		assert.Equal(t, f.SHA256, hex.EncodeToString(sum[:]), f.File)
	}

	raw, err := os.ReadFile(filepath.Join(outDir, "manifest.json"))
	require.NoError(t, err)
	var reread Manifest
	require.NoError(t, json.Unmarshal(raw, &reread))
	assert.Equal(t, m.RunID, reread.RunID)
}

func TestDebugBundleContainsDataFiles(t *testing.T) {
	store, dir := newStore(t)
	seedStore(t, store)
	require.NoError(t, store.Close())

	outPath := filepath.Join(t.TempDir(), "bundle.zip")
	runID, err := DebugBundle(dir, outPath)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	zr, err := zip.OpenReader(outPath)
	require.NoError(t, err)
	defer zr.Close()

	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["transactions.csv"])
	assert.True(t, names["sales.csv"])
	assert.True(t, names["bundle_info.json"])
}

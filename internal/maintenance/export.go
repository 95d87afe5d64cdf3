package maintenance

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/storage"
)

// ManifestEntry describes one exported file.
type ManifestEntry struct {
	File   string `json:"file"`
	Rows   int    `json:"rows"`
	SHA256 string `json:"sha256"`
}

// Manifest describes a snapshot export.
type Manifest struct {
	RunID      string          `json:"run_id"`
	ExportedAt time.Time       `json:"exported_at"`
	Files      []ManifestEntry `json:"files"`
}

// ExportSnapshot dumps every entity to CSV under outDir and writes a
// manifest.json with row counts and checksums. The export reads through the
// storage interface so it works the same on either backend.
func ExportSnapshot(ctx context.Context, store storage.Storage, outDir string) (*Manifest, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	skus, err := store.SKUs(ctx)
	if err != nil {
		return nil, err
	}
	txns, err := store.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := store.Sales(ctx)
	if err != nil {
		return nil, err
	}
	lots, err := store.Lots(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := store.Orders(ctx)
	if err != nil {
		return nil, err
	}
	receivings, err := store.Receivings(ctx)
	if err != nil {
		return nil, err
	}
	promos, err := store.Promos(ctx)
	if err != nil {
		return nil, err
	}

	m := &Manifest{RunID: uuid.NewString(), ExportedAt: time.Now().UTC()}

	exports := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"skus.csv",
			[]string{"sku", "description", "min_order_qty", "pack_size", "lead_time_days", "shelf_life_days", "max_stock", "in_assortment"},
			skuRows(skus)},
		{"transactions.csv",
			[]string{"id", "date", "sku", "event", "qty", "receipt_date", "note", "seq"},
			txnRows(txns)},
		{"sales.csv",
			[]string{"date", "sku", "qty_sold", "promo_flag"},
			salesRows(sales)},
		{"lots.csv",
			[]string{"lot_id", "sku", "expiry_date", "qty_on_hand", "receipt_id", "receipt_date"},
			lotRows(lots)},
		{"orders.csv",
			[]string{"order_id", "date", "sku", "qty_ordered", "qty_received", "status", "receipt_date"},
			orderRows(orders)},
		{"receivings.csv",
			[]string{"document_id", "receipt_id", "date", "sku", "qty_received", "receipt_date", "order_ids"},
			receivingRows(receivings)},
		{"promos.csv",
			[]string{"sku", "start_date", "end_date", "store_id", "promo_flag"},
			promoRows(promos)},
	}

	for _, e := range exports {
		path := filepath.Join(outDir, e.name)
		sum, err := writeCSV(path, e.header, e.rows)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", e.name, err)
		}
		m.Files = append(m.Files, ManifestEntry{File: e.name, Rows: len(e.rows), SHA256: sum})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outDir, "manifest.json"), data, 0644); err != nil {
		return nil, err
	}

	log.Info().Str("run_id", m.RunID).Str("dir", outDir).Int("files", len(m.Files)).
		Msg("snapshot exported")
	return m, nil
}

// DebugBundle zips the live data directory, backups included, into outPath.
// It returns the run id stamped into the archive.
func DebugBundle(dataDir, outPath string) (string, error) {
	runID := uuid.NewString()

	f, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		zw.Close()
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addToZip(zw, dataDir, entry.Name()); err != nil {
			zw.Close()
			return "", err
		}
	}

	info := map[string]string{
		"run_id":     runID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"data_dir":   dataDir,
	}
	data, _ := json.MarshalIndent(info, "", "  ")
	w, err := zw.Create("bundle_info.json")
	if err != nil {
		zw.Close()
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		zw.Close()
		return "", err
	}

	if err := zw.Close(); err != nil {
		return "", err
	}
	log.Info().Str("run_id", runID).Str("path", outPath).Msg("debug bundle written")
	return runID, nil
}

func addToZip(zw *zip.Writer, dir, name string) error {
	src, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	defer src.Close()
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// writeCSV writes header+rows and returns the file's sha256 hex digest.
func writeCSV(path string, header []string, rows [][]string) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	w := csv.NewWriter(io.MultiWriter(f, h))
	if err := w.Write(header); err != nil {
		f.Close()
		return "", err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			f.Close()
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func day(t time.Time) string { return t.Format(domain.DateLayout) }

func dayPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(domain.DateLayout)
}

func skuRows(skus []domain.SKU) [][]string {
	rows := make([][]string, 0, len(skus))
	for _, k := range skus {
		rows = append(rows, []string{
			k.Code, k.Description,
			strconv.Itoa(k.MinOrderQty), strconv.Itoa(k.PackSize),
			strconv.Itoa(k.LeadTimeDays), strconv.Itoa(k.ShelfLifeDays),
			strconv.Itoa(k.MaxStock), strconv.FormatBool(k.InAssortment),
		})
	}
	return rows
}

func txnRows(txns []domain.Transaction) [][]string {
	rows := make([][]string, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10), day(t.Date), t.SKU, string(t.Kind),
			strconv.Itoa(t.Qty), dayPtr(t.ReceiptDate), t.Note,
			strconv.FormatInt(t.Seq, 10),
		})
	}
	return rows
}

func salesRows(sales []domain.SalesRecord) [][]string {
	rows := make([][]string, 0, len(sales))
	for _, s := range sales {
		rows = append(rows, []string{
			day(s.Date), s.SKU, strconv.Itoa(s.QtySold), strconv.Itoa(s.PromoFlag),
		})
	}
	return rows
}

func lotRows(lots []domain.Lot) [][]string {
	rows := make([][]string, 0, len(lots))
	for _, l := range lots {
		rows = append(rows, []string{
			l.LotID, l.SKU, dayPtr(l.Expiry), strconv.Itoa(l.QtyOnHand),
			l.ReceiptID, day(l.ReceiptDate),
		})
	}
	return rows
}

func orderRows(orders []domain.OrderLog) [][]string {
	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, []string{
			o.OrderID, day(o.Date), o.SKU,
			strconv.Itoa(o.QtyOrdered), strconv.Itoa(o.QtyReceived),
			string(o.Status), day(o.ReceiptDate),
		})
	}
	return rows
}

func receivingRows(recs []domain.ReceivingLog) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.DocumentID, r.ReceiptID, day(r.Date), r.SKU,
			strconv.Itoa(r.QtyReceived), day(r.ReceiptDate), r.OrderIDs,
		})
	}
	return rows
}

func promoRows(promos []domain.PromoWindow) [][]string {
	rows := make([][]string, 0, len(promos))
	for _, p := range promos {
		rows = append(rows, []string{
			p.SKU, day(p.StartDate), day(p.EndDate), p.StoreID,
			strconv.Itoa(p.PromoFlag),
		})
	}
	return rows
}

// Package sqlite is the database backend, an embedded single-file store.
// The modernc driver is pure Go, so the binary stays cgo-free.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/storage"
)

const (
	busyMaxAttempts = 5
	busyBaseDelay   = 10 * time.Millisecond
)

// Store is the sqlite backend. SQLite serializes writers itself; contention
// shows up as SQLITE_BUSY, which withRetry absorbs up to a point.
type Store struct {
	db *sqlx.DB
}

var _ storage.Storage = (*Store)(nil)

// Open connects, applies pragmas, and migrates the schema.
func Open(cfg config.StorageConfig) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		cfg.DatabasePath)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.DatabasePath, err)
	}
	// A single connection avoids writer-vs-writer busy storms inside the
	// process; SQLite gains nothing from a pool here.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS skus (
		sku TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		barcode TEXT NOT NULL DEFAULT '',
		min_order_qty INTEGER NOT NULL DEFAULT 0,
		pack_size INTEGER NOT NULL DEFAULT 1,
		lead_time_days INTEGER NOT NULL DEFAULT 0,
		review_period_days INTEGER NOT NULL DEFAULT 0,
		safety_stock INTEGER NOT NULL DEFAULT 0,
		shelf_life_days INTEGER NOT NULL DEFAULT 0,
		min_shelf_life_days INTEGER NOT NULL DEFAULT 0,
		reorder_point INTEGER NOT NULL DEFAULT 0,
		max_stock INTEGER NOT NULL DEFAULT 0,
		demand_tag TEXT NOT NULL DEFAULT '',
		target_csl REAL NOT NULL DEFAULT 0,
		forecast_method TEXT NOT NULL DEFAULT '',
		in_assortment INTEGER NOT NULL DEFAULT 1,
		waste_penalty_mode TEXT NOT NULL DEFAULT 'none',
		waste_penalty_factor REAL NOT NULL DEFAULT 0,
		waste_risk_threshold REAL NOT NULL DEFAULT 0,
		waste_horizon_days INTEGER NOT NULL DEFAULT 0,
		mc_distribution TEXT NOT NULL DEFAULT '',
		mc_n_simulations INTEGER NOT NULL DEFAULT 0,
		mc_random_seed INTEGER NOT NULL DEFAULT 0,
		mc_output_stat TEXT NOT NULL DEFAULT '',
		mc_output_percentile INTEGER NOT NULL DEFAULT 0,
		mc_horizon_mode TEXT NOT NULL DEFAULT '',
		mc_horizon_days INTEGER NOT NULL DEFAULT 0,
		mc_expected_waste_rate REAL NOT NULL DEFAULT 0,
		supplier TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		sku TEXT NOT NULL REFERENCES skus(sku) ON DELETE RESTRICT,
		event TEXT NOT NULL,
		qty INTEGER NOT NULL,
		receipt_date TEXT,
		note TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_sku_date ON transactions(sku, date);
	CREATE TABLE IF NOT EXISTS sales (
		date TEXT NOT NULL,
		sku TEXT NOT NULL,
		qty_sold INTEGER NOT NULL,
		promo_flag INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, sku)
	);
	CREATE TABLE IF NOT EXISTS lots (
		lot_id TEXT PRIMARY KEY,
		sku TEXT NOT NULL,
		expiry_date TEXT,
		qty_on_hand INTEGER NOT NULL,
		receipt_id TEXT NOT NULL DEFAULT '',
		receipt_date TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		sku TEXT NOT NULL,
		qty_ordered INTEGER NOT NULL,
		qty_received INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		receipt_date TEXT NOT NULL DEFAULT '',
		prebuild TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS receivings (
		document_id TEXT NOT NULL,
		receipt_id TEXT NOT NULL,
		date TEXT NOT NULL,
		sku TEXT NOT NULL,
		qty_received INTEGER NOT NULL,
		receipt_date TEXT NOT NULL DEFAULT '',
		order_ids TEXT NOT NULL DEFAULT '',
		UNIQUE (document_id, sku)
	);
	CREATE TABLE IF NOT EXISTS promos (
		sku TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		store_id TEXT NOT NULL DEFAULT '',
		promo_flag INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS audit_log (
		timestamp TEXT NOT NULL,
		operation TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		user TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT ''
	);`,
}

// migrate applies versioned statements exactly once. Re-running against an
// up-to-date database is a no-op.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var version int
	if err := s.db.Get(&version, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// withRetry retries busy errors with doubling backoff and jitter. Anything
// still busy after the last attempt surfaces as ErrBackendBusy.
func withRetry(ctx context.Context, fn func() error) error {
	delay := busyBaseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt >= busyMaxAttempts {
			return fmt.Errorf("%s: %w", err, domain.ErrBackendBusy)
		}
		jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", ctx.Err(), domain.ErrCancelled)
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}

// Row types keep dates as TEXT at the SQL boundary; conversion to time.Time
// happens in one place per entity.

type txRow struct {
	ID          int64          `db:"id"`
	Date        string         `db:"date"`
	SKU         string         `db:"sku"`
	Event       string         `db:"event"`
	Qty         int            `db:"qty"`
	ReceiptDate sql.NullString `db:"receipt_date"`
	Note        string         `db:"note"`
	Seq         int64          `db:"seq"`
}

func parseDay(s string) time.Time {
	t, _ := time.Parse(domain.DateLayout, s)
	return t
}

func parseDayPtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(domain.DateLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func dayString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.DateLayout)
}

func dayPtrString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(domain.DateLayout)
}

func (s *Store) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	var rows []txRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM transactions ORDER BY seq`); err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	out := make([]domain.Transaction, len(rows))
	for i, r := range rows {
		out[i] = domain.Transaction{
			ID:          r.ID,
			Date:        parseDay(r.Date),
			SKU:         r.SKU,
			Kind:        domain.EventKind(r.Event),
			Qty:         r.Qty,
			ReceiptDate: parseDayPtr(r.ReceiptDate),
			Note:        r.Note,
			Seq:         r.Seq,
		}
	}
	return out, nil
}

type salesRow struct {
	Date      string `db:"date"`
	SKU       string `db:"sku"`
	QtySold   int    `db:"qty_sold"`
	PromoFlag int    `db:"promo_flag"`
}

func (s *Store) Sales(ctx context.Context) ([]domain.SalesRecord, error) {
	var rows []salesRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sales ORDER BY date, sku`); err != nil {
		return nil, fmt.Errorf("select sales: %w", err)
	}
	out := make([]domain.SalesRecord, len(rows))
	for i, r := range rows {
		out[i] = domain.SalesRecord{Date: parseDay(r.Date), SKU: r.SKU, QtySold: r.QtySold, PromoFlag: r.PromoFlag}
	}
	return out, nil
}

type lotRow struct {
	LotID       string         `db:"lot_id"`
	SKU         string         `db:"sku"`
	Expiry      sql.NullString `db:"expiry_date"`
	QtyOnHand   int            `db:"qty_on_hand"`
	ReceiptID   string         `db:"receipt_id"`
	ReceiptDate string         `db:"receipt_date"`
}

func (s *Store) Lots(ctx context.Context) ([]domain.Lot, error) {
	var rows []lotRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM lots ORDER BY receipt_date, lot_id`); err != nil {
		return nil, fmt.Errorf("select lots: %w", err)
	}
	out := make([]domain.Lot, len(rows))
	for i, r := range rows {
		out[i] = domain.Lot{
			LotID:       r.LotID,
			SKU:         r.SKU,
			Expiry:      parseDayPtr(r.Expiry),
			QtyOnHand:   r.QtyOnHand,
			ReceiptID:   r.ReceiptID,
			ReceiptDate: parseDay(r.ReceiptDate),
		}
	}
	return out, nil
}

type orderRow struct {
	OrderID     string `db:"order_id"`
	Date        string `db:"date"`
	SKU         string `db:"sku"`
	QtyOrdered  int    `db:"qty_ordered"`
	QtyReceived int    `db:"qty_received"`
	Status      string `db:"status"`
	ReceiptDate string `db:"receipt_date"`
	Prebuild    string `db:"prebuild"`
}

func (s *Store) Orders(ctx context.Context) ([]domain.OrderLog, error) {
	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM orders ORDER BY date, order_id`); err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	out := make([]domain.OrderLog, len(rows))
	for i, r := range rows {
		out[i] = domain.OrderLog{
			OrderID:     r.OrderID,
			Date:        parseDay(r.Date),
			SKU:         r.SKU,
			QtyOrdered:  r.QtyOrdered,
			QtyReceived: r.QtyReceived,
			Status:      domain.OrderStatus(r.Status),
			ReceiptDate: parseDay(r.ReceiptDate),
			Prebuild:    r.Prebuild,
		}
	}
	return out, nil
}

type receivingRow struct {
	DocumentID  string `db:"document_id"`
	ReceiptID   string `db:"receipt_id"`
	Date        string `db:"date"`
	SKU         string `db:"sku"`
	QtyReceived int    `db:"qty_received"`
	ReceiptDate string `db:"receipt_date"`
	OrderIDs    string `db:"order_ids"`
}

func (s *Store) Receivings(ctx context.Context) ([]domain.ReceivingLog, error) {
	var rows []receivingRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM receivings ORDER BY date, document_id`); err != nil {
		return nil, fmt.Errorf("select receivings: %w", err)
	}
	out := make([]domain.ReceivingLog, len(rows))
	for i, r := range rows {
		out[i] = domain.ReceivingLog{
			DocumentID:  r.DocumentID,
			ReceiptID:   r.ReceiptID,
			Date:        parseDay(r.Date),
			SKU:         r.SKU,
			QtyReceived: r.QtyReceived,
			ReceiptDate: parseDay(r.ReceiptDate),
			OrderIDs:    r.OrderIDs,
		}
	}
	return out, nil
}

type promoRow struct {
	SKU       string `db:"sku"`
	StartDate string `db:"start_date"`
	EndDate   string `db:"end_date"`
	StoreID   string `db:"store_id"`
	PromoFlag int    `db:"promo_flag"`
}

func (s *Store) Promos(ctx context.Context) ([]domain.PromoWindow, error) {
	var rows []promoRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM promos ORDER BY sku, start_date`); err != nil {
		return nil, fmt.Errorf("select promos: %w", err)
	}
	out := make([]domain.PromoWindow, len(rows))
	for i, r := range rows {
		out[i] = domain.PromoWindow{
			SKU:       r.SKU,
			StartDate: parseDay(r.StartDate),
			EndDate:   parseDay(r.EndDate),
			StoreID:   r.StoreID,
			PromoFlag: r.PromoFlag,
		}
	}
	return out, nil
}

func (s *Store) SavePromos(ctx context.Context, promos []domain.PromoWindow) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM promos`); err != nil {
			return err
		}
		for _, p := range promos {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO promos (sku, start_date, end_date, store_id, promo_flag) VALUES (?, ?, ?, ?, ?)`,
				p.SKU, dayString(p.StartDate), dayString(p.EndDate), p.StoreID, p.PromoFlag)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

type skuRow struct {
	Code               string  `db:"sku"`
	Description        string  `db:"description"`
	Barcode            string  `db:"barcode"`
	MinOrderQty        int     `db:"min_order_qty"`
	PackSize           int     `db:"pack_size"`
	LeadTimeDays       int     `db:"lead_time_days"`
	ReviewPeriodDays   int     `db:"review_period_days"`
	SafetyStock        int     `db:"safety_stock"`
	ShelfLifeDays      int     `db:"shelf_life_days"`
	MinShelfLifeDays   int     `db:"min_shelf_life_days"`
	ReorderPoint       int     `db:"reorder_point"`
	MaxStock           int     `db:"max_stock"`
	DemandTag          string  `db:"demand_tag"`
	TargetCSL          float64 `db:"target_csl"`
	ForecastMethod     string  `db:"forecast_method"`
	InAssortment       bool    `db:"in_assortment"`
	WastePenaltyMode   string  `db:"waste_penalty_mode"`
	WastePenaltyFactor float64 `db:"waste_penalty_factor"`
	WasteRiskThreshold float64 `db:"waste_risk_threshold"`
	WasteHorizonDays   int     `db:"waste_horizon_days"`
	MCDistribution     string  `db:"mc_distribution"`
	MCNSimulations     int     `db:"mc_n_simulations"`
	MCRandomSeed       int64   `db:"mc_random_seed"`
	MCOutputStat       string  `db:"mc_output_stat"`
	MCOutputPercentile int     `db:"mc_output_percentile"`
	MCHorizonMode      string  `db:"mc_horizon_mode"`
	MCHorizonDays      int     `db:"mc_horizon_days"`
	MCWasteRate        float64 `db:"mc_expected_waste_rate"`
	Supplier           string  `db:"supplier"`
	Notes              string  `db:"notes"`
}

func (s *Store) SKUs(ctx context.Context) ([]domain.SKU, error) {
	var rows []skuRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM skus ORDER BY sku`); err != nil {
		return nil, fmt.Errorf("select skus: %w", err)
	}
	out := make([]domain.SKU, len(rows))
	for i, r := range rows {
		out[i] = domain.SKU{
			Code:               r.Code,
			Description:        r.Description,
			Barcode:            r.Barcode,
			MinOrderQty:        r.MinOrderQty,
			PackSize:           r.PackSize,
			LeadTimeDays:       r.LeadTimeDays,
			ReviewPeriodDays:   r.ReviewPeriodDays,
			SafetyStock:        r.SafetyStock,
			ShelfLifeDays:      r.ShelfLifeDays,
			MinShelfLifeDays:   r.MinShelfLifeDays,
			ReorderPoint:       r.ReorderPoint,
			MaxStock:           r.MaxStock,
			DemandTag:          domain.DemandTag(r.DemandTag),
			TargetCSL:          r.TargetCSL,
			ForecastMethod:     r.ForecastMethod,
			InAssortment:       r.InAssortment,
			WastePenaltyMode:   domain.WastePenaltyMode(r.WastePenaltyMode),
			WastePenaltyFactor: r.WastePenaltyFactor,
			WasteRiskThreshold: r.WasteRiskThreshold,
			WasteHorizonDays:   r.WasteHorizonDays,
			MCDistribution:     r.MCDistribution,
			MCNSimulations:     r.MCNSimulations,
			MCRandomSeed:       r.MCRandomSeed,
			MCOutputStat:       r.MCOutputStat,
			MCOutputPercentile: r.MCOutputPercentile,
			MCHorizonMode:      r.MCHorizonMode,
			MCHorizonDays:      r.MCHorizonDays,
			MCWasteRate:        r.MCWasteRate,
			Supplier:           r.Supplier,
			Notes:              r.Notes,
		}
	}
	return out, nil
}

const insertSKU = `INSERT INTO skus (
	sku, description, barcode, min_order_qty, pack_size, lead_time_days,
	review_period_days, safety_stock, shelf_life_days, min_shelf_life_days,
	reorder_point, max_stock, demand_tag, target_csl, forecast_method,
	in_assortment, waste_penalty_mode, waste_penalty_factor, waste_risk_threshold,
	waste_horizon_days, mc_distribution, mc_n_simulations, mc_random_seed,
	mc_output_stat, mc_output_percentile, mc_horizon_mode, mc_horizon_days,
	mc_expected_waste_rate, supplier, notes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) SaveSKUs(ctx context.Context, skus []domain.SKU) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM skus`); err != nil {
			return err
		}
		for _, k := range skus {
			_, err := tx.ExecContext(ctx, insertSKU,
				k.Code, k.Description, k.Barcode, k.MinOrderQty, k.PackSize, k.LeadTimeDays,
				k.ReviewPeriodDays, k.SafetyStock, k.ShelfLifeDays, k.MinShelfLifeDays,
				k.ReorderPoint, k.MaxStock, string(k.DemandTag), k.TargetCSL, k.ForecastMethod,
				k.InAssortment, string(k.WastePenaltyMode), k.WastePenaltyFactor, k.WasteRiskThreshold,
				k.WasteHorizonDays, k.MCDistribution, k.MCNSimulations, k.MCRandomSeed,
				k.MCOutputStat, k.MCOutputPercentile, k.MCHorizonMode, k.MCHorizonDays,
				k.MCWasteRate, k.Supplier, k.Notes)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// Apply runs the whole batch in one transaction.
func (s *Store) Apply(ctx context.Context, batch storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", err, domain.ErrCancelled)
	}
	if err := storage.ValidateBatch(batch); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}
	return withRetry(ctx, func() error { return s.applyOnce(ctx, batch) })
}

func (s *Store) applyOnce(ctx context.Context, batch storage.Batch) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if batch.ReplaceLedger != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
			return err
		}
		for i, t := range *batch.ReplaceLedger {
			seq := int64(i + 1)
			_, err := tx.ExecContext(ctx,
				`INSERT INTO transactions (date, sku, event, qty, receipt_date, note, seq) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				dayString(t.Date), t.SKU, string(t.Kind), t.Qty, dayPtrString(t.ReceiptDate), t.Note, seq)
			if err != nil {
				return err
			}
		}
	} else if len(batch.Transactions) > 0 {
		var maxSeq int64
		if err := tx.GetContext(ctx, &maxSeq, `SELECT COALESCE(MAX(seq), 0) FROM transactions`); err != nil {
			return err
		}
		for _, t := range batch.Transactions {
			maxSeq++
			_, err := tx.ExecContext(ctx,
				`INSERT INTO transactions (date, sku, event, qty, receipt_date, note, seq) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				dayString(t.Date), t.SKU, string(t.Kind), t.Qty, dayPtrString(t.ReceiptDate), t.Note, maxSeq)
			if err != nil {
				return err
			}
		}
	}

	for _, o := range batch.Orders {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO orders (order_id, date, sku, qty_ordered, qty_received, status, receipt_date, prebuild)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(order_id) DO UPDATE SET
			 qty_received = excluded.qty_received, status = excluded.status,
			 receipt_date = excluded.receipt_date, prebuild = excluded.prebuild`,
			o.OrderID, dayString(o.Date), o.SKU, o.QtyOrdered, o.QtyReceived,
			string(o.Status), dayString(o.ReceiptDate), o.Prebuild)
		if err != nil {
			return err
		}
	}

	if batch.Lots != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM lots`); err != nil {
			return err
		}
		for _, l := range *batch.Lots {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO lots (lot_id, sku, expiry_date, qty_on_hand, receipt_id, receipt_date) VALUES (?, ?, ?, ?, ?, ?)`,
				l.LotID, l.SKU, dayPtrString(l.Expiry), l.QtyOnHand, l.ReceiptID, dayString(l.ReceiptDate))
			if err != nil {
				return err
			}
		}
	}

	for _, sr := range batch.Sales {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sales (date, sku, qty_sold, promo_flag) VALUES (?, ?, ?, ?)
			 ON CONFLICT(date, sku) DO UPDATE SET qty_sold = excluded.qty_sold, promo_flag = excluded.promo_flag`,
			dayString(sr.Date), sr.SKU, sr.QtySold, sr.PromoFlag)
		if err != nil {
			return err
		}
	}

	for _, a := range batch.Audit {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO audit_log (timestamp, operation, sku, details, user, run_id) VALUES (?, ?, ?, ?, ?, ?)`,
			a.Timestamp.UTC().Format(time.RFC3339), a.Operation, a.SKU, a.Details, a.User, a.RunID)
		if err != nil {
			return err
		}
	}

	for _, r := range batch.Receivings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO receivings (document_id, receipt_id, date, sku, qty_received, receipt_date, order_ids)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.DocumentID, r.ReceiptID, dayString(r.Date), r.SKU, r.QtyReceived,
			dayString(r.ReceiptDate), r.OrderIDs)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("document %s already processed for %s: %w",
					r.DocumentID, r.SKU, domain.ErrConflict)
			}
			return err
		}
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// AuditLog returns the append-only audit trail, oldest first.
func (s *Store) AuditLog(ctx context.Context) ([]domain.AuditRecord, error) {
	type auditRow struct {
		Timestamp string `db:"timestamp"`
		Operation string `db:"operation"`
		SKU       string `db:"sku"`
		Details   string `db:"details"`
		User      string `db:"user"`
		RunID     string `db:"run_id"`
	}
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM audit_log ORDER BY timestamp`); err != nil {
		return nil, fmt.Errorf("select audit_log: %w", err)
	}
	out := make([]domain.AuditRecord, len(rows))
	for i, r := range rows {
		ts, _ := time.Parse(time.RFC3339, r.Timestamp)
		out[i] = domain.AuditRecord{
			Timestamp: ts, Operation: r.Operation, SKU: r.SKU,
			Details: r.Details, User: r.User, RunID: r.RunID,
		}
	}
	return out, nil
}

// Integrity runs PRAGMA integrity_check and returns its verdict.
func (s *Store) Integrity(ctx context.Context) (string, error) {
	var verdict string
	if err := s.db.GetContext(ctx, &verdict, `PRAGMA integrity_check`); err != nil {
		return "", fmt.Errorf("integrity check: %w", err)
	}
	if verdict != "ok" {
		return verdict, domain.ErrIntegrityViolation
	}
	return verdict, nil
}

// Vacuum rebuilds the database file, reclaiming free pages.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `REINDEX`)
	return err
}

// Checkpoint flushes the WAL into the main database file. Restore and copy
// tooling calls this before touching the file.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

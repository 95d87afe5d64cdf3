package flatfile

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/nbrembilla/scorte/internal/domain"
)

// Fixed column orders for each record file. Decoding maps by header name, so
// files written by older versions with fewer columns still load: a missing
// column yields the zero value and unknown columns are ignored.
var (
	transactionHeader = []string{"id", "date", "sku", "event", "qty", "receipt_date", "note", "seq"}
	salesHeader       = []string{"date", "sku", "qty_sold", "promo_flag"}
	lotHeader         = []string{"lot_id", "sku", "expiry_date", "qty_on_hand", "receipt_id", "receipt_date"}
	orderHeader       = []string{"order_id", "date", "sku", "qty_ordered", "qty_received", "status", "receipt_date", "prebuild"}
	receivingHeader   = []string{"document_id", "receipt_id", "date", "sku", "qty_received", "receipt_date", "order_ids"}
	promoHeader       = []string{"sku", "start_date", "end_date", "store_id", "promo_flag"}
	auditHeader       = []string{"timestamp", "operation", "sku", "details", "user", "run_id"}
	skuHeader         = []string{
		"sku", "description", "barcode", "min_order_qty", "pack_size", "lead_time_days",
		"review_period_days", "safety_stock", "shelf_life_days", "min_shelf_life_days",
		"reorder_point", "max_stock", "demand_tag", "target_csl", "forecast_method",
		"in_assortment", "waste_penalty_mode", "waste_penalty_factor", "waste_risk_threshold",
		"waste_horizon_days", "mc_distribution", "mc_n_simulations", "mc_random_seed",
		"mc_output_stat", "mc_output_percentile", "mc_horizon_mode", "mc_horizon_days",
		"mc_expected_waste_rate", "supplier", "notes",
	}
)

// row gives name-based access to one CSV record.
type row struct {
	idx map[string]int
	rec []string
}

func (r row) str(col string) string {
	i, ok := r.idx[col]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return r.rec[i]
}

func (r row) int(col string) int {
	v, _ := strconv.Atoi(r.str(col))
	return v
}

func (r row) int64(col string) int64 {
	v, _ := strconv.ParseInt(r.str(col), 10, 64)
	return v
}

func (r row) float(col string) float64 {
	v, _ := strconv.ParseFloat(r.str(col), 64)
	return v
}

func (r row) boolean(col string) bool {
	v, _ := strconv.ParseBool(r.str(col))
	return v
}

func (r row) date(col string) time.Time {
	t, _ := time.Parse(domain.DateLayout, r.str(col))
	return t
}

func (r row) datePtr(col string) *time.Time {
	s := r.str(col)
	if s == "" {
		return nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

func (r row) timestamp(col string) time.Time {
	t, _ := time.Parse(time.RFC3339, r.str(col))
	return t
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.DateLayout)
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(domain.DateLayout)
}

// decodeCSV parses data and calls fn per record. Empty data means no file
// yet: zero records.
func decodeCSV(data []byte, fn func(row)) error {
	if len(data) == 0 {
		return nil
	}
	rd := csv.NewReader(bytes.NewReader(data))
	rd.FieldsPerRecord = -1
	records, err := rd.ReadAll()
	if err != nil {
		return fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	idx := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		idx[name] = i
	}
	for _, rec := range records[1:] {
		fn(row{idx: idx, rec: rec})
	}
	return nil
}

func encodeCSV(header []string, rows [][]string) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	_ = w.WriteAll(rows)
	w.Flush()
	return buf.Bytes()
}

func decodeTransactions(data []byte) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := decodeCSV(data, func(r row) {
		out = append(out, domain.Transaction{
			ID:          r.int64("id"),
			Date:        r.date("date"),
			SKU:         r.str("sku"),
			Kind:        domain.EventKind(r.str("event")),
			Qty:         r.int("qty"),
			ReceiptDate: r.datePtr("receipt_date"),
			Note:        r.str("note"),
			Seq:         r.int64("seq"),
		})
	})
	return out, err
}

func encodeTransactions(txs []domain.Transaction) []byte {
	rows := make([][]string, len(txs))
	for i, t := range txs {
		rows[i] = []string{
			strconv.FormatInt(t.ID, 10), formatDate(t.Date), t.SKU, string(t.Kind),
			strconv.Itoa(t.Qty), formatDatePtr(t.ReceiptDate), t.Note, strconv.FormatInt(t.Seq, 10),
		}
	}
	return encodeCSV(transactionHeader, rows)
}

func decodeSales(data []byte) ([]domain.SalesRecord, error) {
	var out []domain.SalesRecord
	err := decodeCSV(data, func(r row) {
		out = append(out, domain.SalesRecord{
			Date:      r.date("date"),
			SKU:       r.str("sku"),
			QtySold:   r.int("qty_sold"),
			PromoFlag: r.int("promo_flag"),
		})
	})
	return out, err
}

func encodeSales(sales []domain.SalesRecord) []byte {
	rows := make([][]string, len(sales))
	for i, s := range sales {
		rows[i] = []string{formatDate(s.Date), s.SKU, strconv.Itoa(s.QtySold), strconv.Itoa(s.PromoFlag)}
	}
	return encodeCSV(salesHeader, rows)
}

func decodeLots(data []byte) ([]domain.Lot, error) {
	var out []domain.Lot
	err := decodeCSV(data, func(r row) {
		out = append(out, domain.Lot{
			LotID:       r.str("lot_id"),
			SKU:         r.str("sku"),
			Expiry:      r.datePtr("expiry_date"),
			QtyOnHand:   r.int("qty_on_hand"),
			ReceiptID:   r.str("receipt_id"),
			ReceiptDate: r.date("receipt_date"),
		})
	})
	return out, err
}

func encodeLots(lots []domain.Lot) []byte {
	rows := make([][]string, len(lots))
	for i, l := range lots {
		rows[i] = []string{
			l.LotID, l.SKU, formatDatePtr(l.Expiry),
			strconv.Itoa(l.QtyOnHand), l.ReceiptID, formatDate(l.ReceiptDate),
		}
	}
	return encodeCSV(lotHeader, rows)
}

func decodeOrders(data []byte) ([]domain.OrderLog, error) {
	var out []domain.OrderLog
	err := decodeCSV(data, func(r row) {
		out = append(out, domain.OrderLog{
			OrderID:     r.str("order_id"),
			Date:        r.date("date"),
			SKU:         r.str("sku"),
			QtyOrdered:  r.int("qty_ordered"),
			QtyReceived: r.int("qty_received"),
			Status:      domain.OrderStatus(r.str("status")),
			ReceiptDate: r.date("receipt_date"),
			Prebuild:    r.str("prebuild"),
		})
	})
	return out, err
}

func encodeOrders(orders []domain.OrderLog) []byte {
	rows := make([][]string, len(orders))
	for i, o := range orders {
		rows[i] = []string{
			o.OrderID, formatDate(o.Date), o.SKU, strconv.Itoa(o.QtyOrdered),
			strconv.Itoa(o.QtyReceived), string(o.Status), formatDate(o.ReceiptDate), o.Prebuild,
		}
	}
	return encodeCSV(orderHeader, rows)
}

func decodeReceivings(data []byte) ([]domain.ReceivingLog, error) {
	var out []domain.ReceivingLog
	err := decodeCSV(data, func(r row) {
		out = append(out, domain.ReceivingLog{
			DocumentID:  r.str("document_id"),
			ReceiptID:   r.str("receipt_id"),
			Date:        r.date("date"),
			SKU:         r.str("sku"),
			QtyReceived: r.int("qty_received"),
			ReceiptDate: r.date("receipt_date"),
			OrderIDs:    r.str("order_ids"),
		})
	})
	return out, err
}

func encodeReceivings(recs []domain.ReceivingLog) []byte {
	rows := make([][]string, len(recs))
	for i, rl := range recs {
		rows[i] = []string{
			rl.DocumentID, rl.ReceiptID, formatDate(rl.Date), rl.SKU,
			strconv.Itoa(rl.QtyReceived), formatDate(rl.ReceiptDate), rl.OrderIDs,
		}
	}
	return encodeCSV(receivingHeader, rows)
}

func decodePromos(data []byte) ([]domain.PromoWindow, error) {
	var out []domain.PromoWindow
	err := decodeCSV(data, func(r row) {
		out = append(out, domain.PromoWindow{
			SKU:       r.str("sku"),
			StartDate: r.date("start_date"),
			EndDate:   r.date("end_date"),
			StoreID:   r.str("store_id"),
			PromoFlag: r.int("promo_flag"),
		})
	})
	return out, err
}

func encodePromos(promos []domain.PromoWindow) []byte {
	rows := make([][]string, len(promos))
	for i, p := range promos {
		rows[i] = []string{p.SKU, formatDate(p.StartDate), formatDate(p.EndDate), p.StoreID, strconv.Itoa(p.PromoFlag)}
	}
	return encodeCSV(promoHeader, rows)
}

func decodeAudit(data []byte) ([]domain.AuditRecord, error) {
	var out []domain.AuditRecord
	err := decodeCSV(data, func(r row) {
		out = append(out, domain.AuditRecord{
			Timestamp: r.timestamp("timestamp"),
			Operation: r.str("operation"),
			SKU:       r.str("sku"),
			Details:   r.str("details"),
			User:      r.str("user"),
			RunID:     r.str("run_id"),
		})
	})
	return out, err
}

func encodeAudit(records []domain.AuditRecord) []byte {
	rows := make([][]string, len(records))
	for i, a := range records {
		rows[i] = []string{a.Timestamp.UTC().Format(time.RFC3339), a.Operation, a.SKU, a.Details, a.User, a.RunID}
	}
	return encodeCSV(auditHeader, rows)
}

func decodeSKUs(data []byte) ([]domain.SKU, error) {
	var out []domain.SKU
	err := decodeCSV(data, func(r row) {
		out = append(out, domain.SKU{
			Code:               r.str("sku"),
			Description:        r.str("description"),
			Barcode:            r.str("barcode"),
			MinOrderQty:        r.int("min_order_qty"),
			PackSize:           r.int("pack_size"),
			LeadTimeDays:       r.int("lead_time_days"),
			ReviewPeriodDays:   r.int("review_period_days"),
			SafetyStock:        r.int("safety_stock"),
			ShelfLifeDays:      r.int("shelf_life_days"),
			MinShelfLifeDays:   r.int("min_shelf_life_days"),
			ReorderPoint:       r.int("reorder_point"),
			MaxStock:           r.int("max_stock"),
			DemandTag:          domain.DemandTag(r.str("demand_tag")),
			TargetCSL:          r.float("target_csl"),
			ForecastMethod:     r.str("forecast_method"),
			InAssortment:       r.boolean("in_assortment"),
			WastePenaltyMode:   domain.WastePenaltyMode(r.str("waste_penalty_mode")),
			WastePenaltyFactor: r.float("waste_penalty_factor"),
			WasteRiskThreshold: r.float("waste_risk_threshold"),
			WasteHorizonDays:   r.int("waste_horizon_days"),
			MCDistribution:     r.str("mc_distribution"),
			MCNSimulations:     r.int("mc_n_simulations"),
			MCRandomSeed:       r.int64("mc_random_seed"),
			MCOutputStat:       r.str("mc_output_stat"),
			MCOutputPercentile: r.int("mc_output_percentile"),
			MCHorizonMode:      r.str("mc_horizon_mode"),
			MCHorizonDays:      r.int("mc_horizon_days"),
			MCWasteRate:        r.float("mc_expected_waste_rate"),
			Supplier:           r.str("supplier"),
			Notes:              r.str("notes"),
		})
	})
	return out, err
}

func encodeSKUs(skus []domain.SKU) []byte {
	rows := make([][]string, len(skus))
	for i, s := range skus {
		rows[i] = []string{
			s.Code, s.Description, s.Barcode, strconv.Itoa(s.MinOrderQty), strconv.Itoa(s.PackSize),
			strconv.Itoa(s.LeadTimeDays), strconv.Itoa(s.ReviewPeriodDays), strconv.Itoa(s.SafetyStock),
			strconv.Itoa(s.ShelfLifeDays), strconv.Itoa(s.MinShelfLifeDays), strconv.Itoa(s.ReorderPoint),
			strconv.Itoa(s.MaxStock), string(s.DemandTag), strconv.FormatFloat(s.TargetCSL, 'g', -1, 64),
			s.ForecastMethod, strconv.FormatBool(s.InAssortment), string(s.WastePenaltyMode),
			strconv.FormatFloat(s.WastePenaltyFactor, 'g', -1, 64),
			strconv.FormatFloat(s.WasteRiskThreshold, 'g', -1, 64), strconv.Itoa(s.WasteHorizonDays),
			s.MCDistribution, strconv.Itoa(s.MCNSimulations), strconv.FormatInt(s.MCRandomSeed, 10),
			s.MCOutputStat, strconv.Itoa(s.MCOutputPercentile), s.MCHorizonMode, strconv.Itoa(s.MCHorizonDays),
			strconv.FormatFloat(s.MCWasteRate, 'g', -1, 64), s.Supplier, s.Notes,
		}
	}
	return encodeCSV(skuHeader, rows)
}

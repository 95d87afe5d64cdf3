package domain

import "time"

// DateLayout is the ISO-8601 day format used by every record file and table.
const DateLayout = "2006-01-02"

// DemandTag classifies a SKU's demand pattern for forecasting.
type DemandTag string

const (
	DemandStable       DemandTag = "STABLE"
	DemandVariable     DemandTag = "VARIABLE"
	DemandIntermittent DemandTag = "INTERMITTENT"
)

// WastePenaltyMode controls how a high waste risk affects a proposed order.
type WastePenaltyMode string

const (
	PenaltyNone WastePenaltyMode = "none"
	PenaltySoft WastePenaltyMode = "soft"
	PenaltyHard WastePenaltyMode = "hard"
)

// SKU is a catalog entry with its replenishment policy. ShelfLifeDays == 0
// means non-perishable.
type SKU struct {
	Code               string           `json:"sku" db:"sku"`
	Description        string           `json:"description" db:"description"`
	Barcode            string           `json:"barcode" db:"barcode"`
	MinOrderQty        int              `json:"min_order_qty" db:"min_order_qty"`
	PackSize           int              `json:"pack_size" db:"pack_size"`
	LeadTimeDays       int              `json:"lead_time_days" db:"lead_time_days"`
	ReviewPeriodDays   int              `json:"review_period_days" db:"review_period_days"`
	SafetyStock        int              `json:"safety_stock" db:"safety_stock"`
	ShelfLifeDays      int              `json:"shelf_life_days" db:"shelf_life_days"`
	MinShelfLifeDays   int              `json:"min_shelf_life_days" db:"min_shelf_life_days"`
	ReorderPoint       int              `json:"reorder_point" db:"reorder_point"`
	MaxStock           int              `json:"max_stock" db:"max_stock"`
	DemandTag          DemandTag        `json:"demand_tag" db:"demand_tag"`
	TargetCSL          float64          `json:"target_csl" db:"target_csl"`
	ForecastMethod     string           `json:"forecast_method" db:"forecast_method"`
	InAssortment       bool             `json:"in_assortment" db:"in_assortment"`
	WastePenaltyMode   WastePenaltyMode `json:"waste_penalty_mode" db:"waste_penalty_mode"`
	WastePenaltyFactor float64          `json:"waste_penalty_factor" db:"waste_penalty_factor"`
	WasteRiskThreshold float64          `json:"waste_risk_threshold" db:"waste_risk_threshold"`
	WasteHorizonDays   int              `json:"waste_horizon_days" db:"waste_horizon_days"`
	MCDistribution     string           `json:"mc_distribution" db:"mc_distribution"`
	MCNSimulations     int              `json:"mc_n_simulations" db:"mc_n_simulations"`
	MCRandomSeed       int64            `json:"mc_random_seed" db:"mc_random_seed"`
	MCOutputStat       string           `json:"mc_output_stat" db:"mc_output_stat"`
	MCOutputPercentile int              `json:"mc_output_percentile" db:"mc_output_percentile"`
	MCHorizonMode      string           `json:"mc_horizon_mode" db:"mc_horizon_mode"`
	MCHorizonDays      int              `json:"mc_horizon_days" db:"mc_horizon_days"`
	MCWasteRate        float64          `json:"mc_expected_waste_rate" db:"mc_expected_waste_rate"`
	Supplier           string           `json:"supplier" db:"supplier"`
	Notes              string           `json:"notes" db:"notes"`
}

// Transaction is one append-only ledger event. Seq preserves insertion order
// and is the tie-break within the same (date, priority) slot.
type Transaction struct {
	ID          int64      `json:"id" db:"id"`
	Date        time.Time  `json:"date" db:"date"`
	SKU         string     `json:"sku" db:"sku"`
	Kind        EventKind  `json:"event" db:"event"`
	Qty         int        `json:"qty" db:"qty"`
	ReceiptDate *time.Time `json:"receipt_date,omitempty" db:"receipt_date"`
	Note        string     `json:"note" db:"note"`
	Seq         int64      `json:"seq" db:"seq"`
}

// SalesRecord is one day's sales for a SKU. (Date, SKU) is the natural key;
// re-entry overwrites.
type SalesRecord struct {
	Date      time.Time `json:"date" db:"date"`
	SKU       string    `json:"sku" db:"sku"`
	QtySold   int       `json:"qty_sold" db:"qty_sold"`
	PromoFlag int       `json:"promo_flag" db:"promo_flag"`
}

// Lot is a received batch tracked for FEFO consumption. A nil Expiry means
// infinite shelf life.
type Lot struct {
	LotID       string     `json:"lot_id" db:"lot_id"`
	SKU         string     `json:"sku" db:"sku"`
	Expiry      *time.Time `json:"expiry_date,omitempty" db:"expiry_date"`
	QtyOnHand   int        `json:"qty_on_hand" db:"qty_on_hand"`
	ReceiptID   string     `json:"receipt_id" db:"receipt_id"`
	ReceiptDate time.Time  `json:"receipt_date" db:"receipt_date"`
}

// OrderLog tracks one confirmed purchase order through receiving.
type OrderLog struct {
	OrderID     string      `json:"order_id" db:"order_id"`
	Date        time.Time   `json:"date" db:"date"`
	SKU         string      `json:"sku" db:"sku"`
	QtyOrdered  int         `json:"qty_ordered" db:"qty_ordered"`
	QtyReceived int         `json:"qty_received" db:"qty_received"`
	Status      OrderStatus `json:"status" db:"status"`
	ReceiptDate time.Time   `json:"receipt_date" db:"receipt_date"`
	Prebuild    string      `json:"prebuild" db:"prebuild"`
}

// ReceivingLog links one delivery document to the orders it fulfilled.
// DocumentID is the idempotency key for close_receipt_by_document.
type ReceivingLog struct {
	DocumentID  string    `json:"document_id" db:"document_id"`
	ReceiptID   string    `json:"receipt_id" db:"receipt_id"`
	Date        time.Time `json:"date" db:"date"`
	SKU         string    `json:"sku" db:"sku"`
	QtyReceived int       `json:"qty_received" db:"qty_received"`
	ReceiptDate time.Time `json:"receipt_date" db:"receipt_date"`
	OrderIDs    string    `json:"order_ids" db:"order_ids"`
}

// PromoWindow marks a promotional period for a SKU.
type PromoWindow struct {
	SKU       string    `json:"sku" db:"sku"`
	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date" db:"end_date"`
	StoreID   string    `json:"store_id" db:"store_id"`
	PromoFlag int       `json:"promo_flag" db:"promo_flag"`
}

// Overlaps reports whether two windows for the same (sku, store) intersect.
func (p PromoWindow) Overlaps(o PromoWindow) bool {
	if p.SKU != o.SKU || p.StoreID != o.StoreID {
		return false
	}
	return !p.EndDate.Before(o.StartDate) && !o.EndDate.Before(p.StartDate)
}

// AuditRecord is one row of the append-only audit log.
type AuditRecord struct {
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Operation string    `json:"operation" db:"operation"`
	SKU       string    `json:"sku" db:"sku"`
	Details   string    `json:"details" db:"details"`
	User      string    `json:"user" db:"user"`
	RunID     string    `json:"run_id" db:"run_id"`
}

// StockPosition is the reduced ledger state for one SKU as of a date.
type StockPosition struct {
	SKU            string `json:"sku"`
	OnHand         int    `json:"on_hand"`
	OnOrder        int    `json:"on_order"`
	UnfulfilledQty int    `json:"unfulfilled_qty"`
}

// OrderProposal is the output of the order workflow for one SKU.
type OrderProposal struct {
	SKU                     string    `json:"sku"`
	Description             string    `json:"description"`
	OnHand                  int       `json:"on_hand"`
	OnOrder                 int       `json:"on_order"`
	DailySalesAvg           float64   `json:"daily_sales_avg"`
	ProposedQty             int       `json:"proposed_qty"`
	ReceiptDate             time.Time `json:"receipt_date"`
	ProtectionDays          int       `json:"protection_days"`
	SafetyStock             int       `json:"safety_stock"`
	ForecastMethod          string    `json:"forecast_method"`
	WasteRiskPercent        float64   `json:"waste_risk_percent"`
	ExpectedWaste           int       `json:"expected_waste"`
	WasteRiskReason         string    `json:"waste_risk_reason,omitempty"`
	ShelfLifePenaltyApplied bool      `json:"shelf_life_penalty_applied"`
	IsCensored              bool      `json:"is_censored"`
}

// Day truncates t to midnight UTC. All record dates are day-resolution.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Date builds a day-resolution UTC date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

package lot

import (
	"fmt"
	"math"
	"time"

	"github.com/nbrembilla/scorte/internal/domain"
)

// UsableBreakdown buckets a SKU's lots relative to a check date.
type UsableBreakdown struct {
	Usable           int     `json:"usable"`
	ExpiringSoon     int     `json:"expiring_soon"`
	Unusable         int     `json:"unusable"`
	Total            int     `json:"total"`
	WasteRiskPercent float64 `json:"waste_risk_percent"`
}

// ForwardWasteRisk is the projected waste picture at a future receipt date,
// including a proposed incoming quantity.
type ForwardWasteRisk struct {
	AdjustedRiskPercent float64 `json:"adjusted_risk_percent"`
	TotalAtReceipt      int     `json:"total_at_receipt"`
	RawExpiringSoon     int     `json:"raw_expiring_soon"`
	ExpectedWaste       int     `json:"expected_waste"`
}

// daysUntil returns whole days from check to expiry (negative when past).
func daysUntil(check time.Time, expiry time.Time) int {
	return int(domain.Day(expiry).Sub(domain.Day(check)).Hours() / 24)
}

// UsableStock classifies each lot into exactly one bucket. Lots without
// expiry count as usable.
func UsableStock(lots []domain.Lot, checkDate time.Time, minShelfLifeDays, wasteHorizonDays int) UsableBreakdown {
	var b UsableBreakdown
	for _, l := range lots {
		b.Total += l.QtyOnHand
		if l.Expiry == nil {
			b.Usable += l.QtyOnHand
			continue
		}
		d := daysUntil(checkDate, *l.Expiry)
		switch {
		case d < 0 || d < minShelfLifeDays:
			b.Unusable += l.QtyOnHand
		case d <= wasteHorizonDays:
			b.ExpiringSoon += l.QtyOnHand
		default:
			b.Usable += l.QtyOnHand
		}
	}
	if b.Total > 0 {
		b.WasteRiskPercent = float64(b.ExpiringSoon) / float64(b.Total) * 100
	}
	return b
}

// ProjectForwardWasteRisk projects lots forward to receiptDate including a
// virtual incoming lot of proposedQty, then discounts the expiring-soon
// quantity by the demand expected before each lot expires (allocated FEFO).
// With a non-positive demand forecast the expected waste degenerates to the
// raw expiring-soon quantity.
func ProjectForwardWasteRisk(lots []domain.Lot, receiptDate time.Time, proposedQty, shelfLifeDays, minShelfLifeDays, wasteHorizonDays int, forecastDailyDemand float64) ForwardWasteRisk {
	combined := append([]domain.Lot{}, lots...)
	if proposedQty > 0 {
		incoming := domain.Lot{
			LotID:       "incoming",
			QtyOnHand:   proposedQty,
			ReceiptDate: domain.Day(receiptDate),
		}
		if shelfLifeDays > 0 {
			exp := domain.Day(receiptDate).AddDate(0, 0, shelfLifeDays)
			incoming.Expiry = &exp
		}
		combined = append(combined, incoming)
	}

	breakdown := UsableStock(combined, receiptDate, minShelfLifeDays, wasteHorizonDays)
	risk := ForwardWasteRisk{
		TotalAtReceipt:  breakdown.Total,
		RawExpiringSoon: breakdown.ExpiringSoon,
	}

	if forecastDailyDemand <= 0 {
		risk.ExpectedWaste = breakdown.ExpiringSoon
	} else {
		risk.ExpectedWaste = expectedWasteFEFO(combined, receiptDate, minShelfLifeDays, wasteHorizonDays, forecastDailyDemand)
	}
	if risk.TotalAtReceipt > 0 {
		risk.AdjustedRiskPercent = float64(risk.ExpectedWaste) / float64(risk.TotalAtReceipt) * 100
	}
	return risk
}

// expectedWasteFEFO walks the expiring-soon lots earliest-expiry first and
// subtracts the demand each lot can absorb before it expires. Demand already
// allocated to earlier lots is not available to later ones.
func expectedWasteFEFO(lots []domain.Lot, checkDate time.Time, minShelfLifeDays, wasteHorizonDays int, dailyDemand float64) int {
	sorted := append([]domain.Lot{}, lots...)
	SortFEFO(sorted)

	waste := 0
	allocated := 0.0
	for _, l := range sorted {
		if l.Expiry == nil {
			continue
		}
		d := daysUntil(checkDate, *l.Expiry)
		if d < 0 || d < minShelfLifeDays || d > wasteHorizonDays {
			continue
		}
		capacity := dailyDemand * float64(d)
		available := capacity - allocated
		if available < 0 {
			available = 0
		}
		absorbed := math.Min(float64(l.QtyOnHand), available)
		allocated += absorbed
		waste += l.QtyOnHand - int(math.Floor(absorbed))
	}
	if waste < 0 {
		waste = 0
	}
	return waste
}

// ApplyWastePenalty adjusts a proposed quantity for its projected waste
// risk. Hard mode blocks the order at or above the threshold; soft mode
// scales it down by the penalty factor.
func ApplyWastePenalty(proposedQty int, adjustedRiskPercent float64, mode domain.WastePenaltyMode, penaltyFactor, riskThreshold float64) (qty int, applied bool, reason string) {
	if adjustedRiskPercent < riskThreshold || mode == domain.PenaltyNone {
		return proposedQty, false, ""
	}
	switch mode {
	case domain.PenaltyHard:
		return 0, true, fmt.Sprintf("waste risk %.1f%% >= %.1f%%: order blocked", adjustedRiskPercent, riskThreshold)
	case domain.PenaltySoft:
		reduced := int(math.Floor(float64(proposedQty) * (1 - penaltyFactor)))
		if reduced < 0 {
			reduced = 0
		}
		return reduced, true, fmt.Sprintf("waste risk %.1f%% >= %.1f%%: reduced by factor %.2f", adjustedRiskPercent, riskThreshold, penaltyFactor)
	default:
		return proposedQty, false, ""
	}
}

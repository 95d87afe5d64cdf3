package lot

import (
	"sort"
	"time"

	"github.com/nbrembilla/scorte/internal/domain"
)

// AlertLevel grades how close a lot is to expiry.
type AlertLevel string

const (
	AlertCritical AlertLevel = "critical"
	AlertWarning  AlertLevel = "warning"
)

// ExpiryAlert flags a lot approaching expiry for the dashboard consumers.
type ExpiryAlert struct {
	SKU             string     `json:"sku"`
	LotID           string     `json:"lot_id"`
	Expiry          time.Time  `json:"expiry_date"`
	QtyOnHand       int        `json:"qty_on_hand"`
	DaysUntilExpiry int        `json:"days_until_expiry"`
	Level           AlertLevel `json:"level"`
}

// BuildExpiryAlerts scans lots as of a date and returns critical/warning
// alerts sorted by expiry. Already-expired lots report as critical with a
// negative day count.
func BuildExpiryAlerts(lots []domain.Lot, asof time.Time, criticalDays, warningDays int) []ExpiryAlert {
	var alerts []ExpiryAlert
	for _, l := range lots {
		if l.Expiry == nil || l.QtyOnHand <= 0 {
			continue
		}
		d := daysUntil(asof, *l.Expiry)
		var level AlertLevel
		switch {
		case d <= criticalDays:
			level = AlertCritical
		case d <= warningDays:
			level = AlertWarning
		default:
			continue
		}
		alerts = append(alerts, ExpiryAlert{
			SKU:             l.SKU,
			LotID:           l.LotID,
			Expiry:          domain.Day(*l.Expiry),
			QtyOnHand:       l.QtyOnHand,
			DaysUntilExpiry: d,
			Level:           level,
		})
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Expiry.Before(alerts[j].Expiry) })
	return alerts
}

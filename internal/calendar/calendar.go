package calendar

import (
	"fmt"
	"time"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/domain"
)

// Lane is the logistics channel that determines which delivery day follows
// an order. SATURDAY and MONDAY are Friday-only variants.
type Lane string

const (
	LaneStandard Lane = "STANDARD"
	LaneSaturday Lane = "SATURDAY"
	LaneMonday   Lane = "MONDAY"
)

// maxDeliverySearchDays bounds NextDeliveryDay before giving up.
const maxDeliverySearchDays = 14

// maxOrderSearchDays bounds NextOrderOpportunity; a year with no order day
// means the calendar is misconfigured.
const maxOrderSearchDays = 366

// Config holds the order/delivery day rules for one store.
type Config struct {
	OrderDays    map[time.Weekday]bool
	DeliveryDays map[time.Weekday]bool
	LeadTimeDays int
	Holidays     *HolidaySet
}

// Default returns the standard single-store setup: Mon-Fri order days,
// Mon-Sat delivery days, one day lead time, Italian public holidays.
func Default() Config {
	return Config{
		OrderDays: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		},
		DeliveryDays: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true, time.Saturday: true,
		},
		LeadTimeDays: 1,
		Holidays:     ItalianHolidays(),
	}
}

// FromAppConfig builds a calendar Config from process configuration.
// Weekday indices use Mon=0.
func FromAppConfig(cfg config.CalendarConfig, holidays *HolidaySet) Config {
	c := Default()
	if len(cfg.OrderDays) > 0 {
		c.OrderDays = weekdaySet(cfg.OrderDays)
	}
	if len(cfg.DeliveryDays) > 0 {
		c.DeliveryDays = weekdaySet(cfg.DeliveryDays)
	}
	if cfg.LeadTimeDaysDefault >= 0 {
		c.LeadTimeDays = cfg.LeadTimeDaysDefault
	}
	if holidays != nil {
		c.Holidays = holidays
	}
	return c
}

func weekdaySet(indices []int) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(indices))
	for _, i := range indices {
		// Mon=0 .. Sun=6
		set[time.Weekday((i+1)%7)] = true
	}
	return set
}

// ProtectionWindow is the span between the receipt of the current order (R1)
// and the receipt of the next order opportunity's shipment (R2). Safety stock
// must cover demand over Days.
type ProtectionWindow struct {
	R1   time.Time `json:"r1"`
	R2   time.Time `json:"r2"`
	Days int       `json:"days"`
}

// Calendar answers order/delivery day questions for one store.
type Calendar struct {
	cfg Config
}

func New(cfg Config) *Calendar {
	return &Calendar{cfg: cfg}
}

// IsOrderDay reports whether orders may be placed on d.
func (c *Calendar) IsOrderDay(d time.Time) bool {
	if !c.cfg.OrderDays[d.Weekday()] {
		return false
	}
	return !c.cfg.Holidays.Blocked(d, EffectNoOrder)
}

// IsDeliveryDay reports whether goods may be received on d.
func (c *Calendar) IsDeliveryDay(d time.Time) bool {
	if !c.cfg.DeliveryDays[d.Weekday()] {
		return false
	}
	return !c.cfg.Holidays.Blocked(d, EffectNoReceipt)
}

// NextDeliveryDay returns the smallest d' >= d that is a delivery day.
func (c *Calendar) NextDeliveryDay(d time.Time) (time.Time, error) {
	d = domain.Day(d)
	for i := 0; i < maxDeliverySearchDays; i++ {
		cand := d.AddDate(0, 0, i)
		if c.IsDeliveryDay(cand) {
			return cand, nil
		}
	}
	return time.Time{}, fmt.Errorf("no delivery day within %d days of %s: %w",
		maxDeliverySearchDays, d.Format(domain.DateLayout), domain.ErrNoDeliveryWindow)
}

// NextReceiptDate computes when goods ordered on orderDate arrive via lane.
func (c *Calendar) NextReceiptDate(orderDate time.Time, lane Lane) (time.Time, error) {
	orderDate = domain.Day(orderDate)
	if !c.IsOrderDay(orderDate) {
		return time.Time{}, fmt.Errorf("%s: %w", orderDate.Format(domain.DateLayout), domain.ErrNotAnOrderDay)
	}

	switch lane {
	case LaneStandard:
		return c.NextDeliveryDay(orderDate.AddDate(0, 0, c.cfg.LeadTimeDays))
	case LaneSaturday:
		if orderDate.Weekday() != time.Friday {
			return time.Time{}, fmt.Errorf("saturday lane requires a friday order date: %w", domain.ErrInvalidInput)
		}
		return orderDate.AddDate(0, 0, 1), nil
	case LaneMonday:
		if orderDate.Weekday() != time.Friday {
			return time.Time{}, fmt.Errorf("monday lane requires a friday order date: %w", domain.ErrInvalidInput)
		}
		return orderDate.AddDate(0, 0, 3), nil
	default:
		return time.Time{}, fmt.Errorf("unknown lane %q: %w", lane, domain.ErrInvalidInput)
	}
}

// NextOrderOpportunity returns the smallest d' > d that is an order day.
func (c *Calendar) NextOrderOpportunity(d time.Time) (time.Time, error) {
	d = domain.Day(d)
	for i := 1; i <= maxOrderSearchDays; i++ {
		cand := d.AddDate(0, 0, i)
		if c.IsOrderDay(cand) {
			return cand, nil
		}
	}
	return time.Time{}, fmt.Errorf("no order day within %d days of %s: %w",
		maxOrderSearchDays, d.Format(domain.DateLayout), domain.ErrNoDeliveryWindow)
}

// ProtectionWindowFor derives (r1, r2, P) for an order placed on orderDate
// via lane. P is whole days and never negative.
func (c *Calendar) ProtectionWindowFor(orderDate time.Time, lane Lane) (ProtectionWindow, error) {
	r1, err := c.NextReceiptDate(orderDate, lane)
	if err != nil {
		return ProtectionWindow{}, err
	}
	nextOrder, err := c.NextOrderOpportunity(orderDate)
	if err != nil {
		return ProtectionWindow{}, err
	}
	r2, err := c.NextReceiptDate(nextOrder, LaneStandard)
	if err != nil {
		return ProtectionWindow{}, err
	}
	days := int(r2.Sub(r1).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return ProtectionWindow{R1: r1, R2: r2, Days: days}, nil
}

// FridayLanes returns the SATURDAY and MONDAY protection windows for a
// Friday order date.
func (c *Calendar) FridayLanes(friday time.Time) (sat, mon ProtectionWindow, err error) {
	if domain.Day(friday).Weekday() != time.Friday {
		return ProtectionWindow{}, ProtectionWindow{},
			fmt.Errorf("%s is not a friday: %w", friday.Format(domain.DateLayout), domain.ErrInvalidInput)
	}
	sat, err = c.ProtectionWindowFor(friday, LaneSaturday)
	if err != nil {
		return ProtectionWindow{}, ProtectionWindow{}, err
	}
	mon, err = c.ProtectionWindowFor(friday, LaneMonday)
	if err != nil {
		return ProtectionWindow{}, ProtectionWindow{}, err
	}
	return sat, mon, nil
}

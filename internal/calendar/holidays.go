package calendar

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nbrembilla/scorte/internal/domain"
)

// Scope limits which consumers a holiday rule applies to.
type Scope string

const (
	ScopeSystem    Scope = "system"
	ScopeStore     Scope = "store"
	ScopeWarehouse Scope = "warehouse"
	ScopeSupplier  Scope = "supplier"
	ScopeOrders    Scope = "orders"
)

// Effect is what a holiday blocks.
type Effect string

const (
	EffectNoOrder   Effect = "NO_ORDER"
	EffectNoReceipt Effect = "NO_RECEIPT"
	EffectBoth      Effect = "BOTH"
)

// RuleType selects how a rule matches dates.
type RuleType string

const (
	RuleSingleDate RuleType = "single"
	RuleDateRange  RuleType = "range"
	RuleMonthlyDay RuleType = "monthly"
	RuleAnnualDate RuleType = "annual"
)

// Rule is one holiday definition. Only the fields relevant to Type are used.
// Out-of-range tuples (e.g. Feb 30 as an annual rule) simply never match.
type Rule struct {
	Name   string     `json:"name"`
	Scope  Scope      `json:"scope"`
	Effect Effect     `json:"effect"`
	Type   RuleType   `json:"type"`
	Date   time.Time  `json:"date,omitempty"`
	Start  time.Time  `json:"start,omitempty"`
	End    time.Time  `json:"end,omitempty"`
	Day    int        `json:"day,omitempty"`
	Month  time.Month `json:"month,omitempty"`
}

// Matches reports whether d falls under this rule.
func (r Rule) Matches(d time.Time) bool {
	d = domain.Day(d)
	switch r.Type {
	case RuleSingleDate:
		return d.Equal(domain.Day(r.Date))
	case RuleDateRange:
		return !d.Before(domain.Day(r.Start)) && !d.After(domain.Day(r.End))
	case RuleMonthlyDay:
		return d.Day() == r.Day
	case RuleAnnualDate:
		return d.Month() == r.Month && d.Day() == r.Day
	default:
		return false
	}
}

// blocks reports whether the rule's effect covers the requested one.
func (r Rule) blocks(effect Effect) bool {
	return r.Effect == effect || r.Effect == EffectBoth
}

// HolidaySet evaluates holiday rules. Easter Sunday and Easter Monday are
// always treated as system-scope BOTH regardless of the loaded rules.
type HolidaySet struct {
	Rules []Rule
}

// ItalianHolidays returns the built-in Italian public holidays. Easter and
// Easter Monday are handled by Blocked directly, not listed here.
func ItalianHolidays() *HolidaySet {
	annual := func(name string, month time.Month, day int) Rule {
		return Rule{
			Name:   name,
			Scope:  ScopeSystem,
			Effect: EffectBoth,
			Type:   RuleAnnualDate,
			Month:  month,
			Day:    day,
		}
	}
	return &HolidaySet{Rules: []Rule{
		annual("Capodanno", time.January, 1),
		annual("Epifania", time.January, 6),
		annual("Liberazione", time.April, 25),
		annual("Festa del Lavoro", time.May, 1),
		annual("Festa della Repubblica", time.June, 2),
		annual("Ferragosto", time.August, 15),
		annual("Ognissanti", time.November, 1),
		annual("Immacolata", time.December, 8),
		annual("Natale", time.December, 25),
		annual("Santo Stefano", time.December, 26),
	}}
}

// LoadHolidays reads a rule set from a JSON file. An empty path keeps the
// built-in Italian holidays.
func LoadHolidays(path string) (*HolidaySet, error) {
	if path == "" {
		return ItalianHolidays(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holiday calendar %s: %w", path, err)
	}
	var rules []Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse holiday calendar %s: %w", path, err)
	}
	return &HolidaySet{Rules: rules}, nil
}

// Blocked reports whether d is blocked for the given effect by any rule, in
// any scope, or by Easter.
func (h *HolidaySet) Blocked(d time.Time, effect Effect) bool {
	return h.BlockedForScopes(d, effect, nil)
}

// BlockedForScopes evaluates only rules whose scope is in scopes (nil means
// all scopes).
func (h *HolidaySet) BlockedForScopes(d time.Time, effect Effect, scopes []Scope) bool {
	d = domain.Day(d)
	if isEaster(d) {
		return true
	}
	if h == nil {
		return false
	}
	for _, r := range h.Rules {
		if scopes != nil && !scopeIn(r.Scope, scopes) {
			continue
		}
		if r.blocks(effect) && r.Matches(d) {
			return true
		}
	}
	return false
}

func scopeIn(s Scope, scopes []Scope) bool {
	for _, c := range scopes {
		if s == c {
			return true
		}
	}
	return false
}

// isEaster reports whether d is Easter Sunday or Easter Monday.
func isEaster(d time.Time) bool {
	easter := EasterSunday(d.Year())
	return d.Equal(easter) || d.Equal(easter.AddDate(0, 0, 1))
}

// EasterSunday computes Gregorian Easter with the Meeus/Jones/Butcher
// algorithm.
func EasterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return domain.Date(year, time.Month(month), day)
}

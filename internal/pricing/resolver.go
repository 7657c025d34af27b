package pricing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ms-booking/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Context carries the facts a rule's eligibility depends on.
type Context struct {
	PartySize int
	At        time.Time
	Traveler  models.TravelerType
}

// Resolution is the outcome of resolving one price against a rule list.
type Resolution struct {
	BasePrice         decimal.Decimal     `json:"base_price"`
	FinalPrice        decimal.Decimal     `json:"final_price"`
	AppliedRule       models.DiscountKind `json:"applied_rule,omitempty"`
	AppliedPercentage decimal.Decimal     `json:"applied_percentage"`
}

func (r Resolution) Discounted() bool {
	return r.AppliedRule != ""
}

// Resolver picks the single best discount for a price. Rules never stack.
type Resolver struct {
	loc *time.Location
}

// NewResolver evaluates time windows in loc. A nil loc means UTC.
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Resolve applies the maximum eligible percentage to base. A 0% rule is
// never eligible; equal percentages go to the higher priority kind.
// Stored percentages are trusted as already clamped to 0..100.
func (r *Resolver) Resolve(base decimal.Decimal, rules []models.DiscountRule, ctx Context) Resolution {
	res := Resolution{
		BasePrice:         base,
		FinalPrice:        Round2(base),
		AppliedPercentage: decimal.Zero,
	}

	var best *models.DiscountRule
	for i := range rules {
		rule := &rules[i]
		if !r.Eligible(*rule, ctx) {
			continue
		}
		if best == nil ||
			rule.Percentage > best.Percentage ||
			(rule.Percentage == best.Percentage && rule.Kind.Priority() < best.Kind.Priority()) {
			best = rule
		}
	}

	if best == nil {
		return res
	}

	pct := decimal.NewFromFloat(best.Percentage)
	factor := decimal.NewFromInt(1).Sub(pct.Div(hundred))
	res.FinalPrice = Round2(base.Mul(factor))
	res.AppliedRule = best.Kind
	res.AppliedPercentage = pct
	return res
}

// Eligible evaluates a single rule's predicate.
func (r *Resolver) Eligible(rule models.DiscountRule, ctx Context) bool {
	if rule.Disabled || rule.Percentage <= 0 {
		return false
	}

	switch rule.Kind {
	case models.DiscountFlat:
		return true
	case models.DiscountGroup:
		return rule.MinPeople > 0 && ctx.PartySize >= rule.MinPeople
	case models.DiscountTimeWindow:
		return r.inWindow(rule, ctx.At)
	case models.DiscountChild:
		return ctx.Traveler == models.TravelerChild
	}
	return false
}

func (r *Resolver) inWindow(rule models.DiscountRule, at time.Time) bool {
	if at.IsZero() {
		return false
	}
	start, err := ParseClock(rule.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(rule.End)
	if err != nil {
		return false
	}

	local := at.In(r.loc)
	if len(rule.Weekdays) > 0 && !containsWeekday(rule.Weekdays, local.Weekday()) {
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	switch {
	case start == end:
		return true
	case start < end:
		return minute >= start && minute < end
	default:
		// wraps midnight
		return minute >= start || minute < end
	}
}

func containsWeekday(days []int, wd time.Weekday) bool {
	for _, d := range days {
		if time.Weekday(d) == wd {
			return true
		}
	}
	return false
}

// ParseClock turns "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Round2 rounds half away from zero to cents; prices are never negative
// so this is half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

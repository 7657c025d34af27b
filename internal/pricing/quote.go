package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"ms-booking/internal/models"
)

// LineRequest describes one group of identically priced units, e.g. the
// adult seats of a trip or the nights of a room.
type LineRequest struct {
	Traveler  models.TravelerType
	UnitPrice decimal.Decimal
	Count     int
	// Periods multiplies the unit price (nights for rooms, days for cars).
	Periods int
}

type LineItem struct {
	Traveler models.TravelerType `json:"traveler"`
	Count    int                 `json:"count"`
	Periods  int                 `json:"periods"`
	Resolution
}

type Breakdown struct {
	Lines             []LineItem          `json:"lines"`
	Subtotal          decimal.Decimal     `json:"subtotal"`
	Total             decimal.Decimal     `json:"total"`
	AppliedRule       models.DiscountKind `json:"applied_rule,omitempty"`
	AppliedPercentage decimal.Decimal     `json:"applied_percentage"`
}

// Price resolves each line independently and sums the rounded line totals.
// The reported rule is the strongest one applied to any line.
func (r *Resolver) Price(rules []models.DiscountRule, partySize int, at time.Time, lines []LineRequest) Breakdown {
	out := Breakdown{
		Subtotal:          decimal.Zero,
		Total:             decimal.Zero,
		AppliedPercentage: decimal.Zero,
	}

	for _, lr := range lines {
		if lr.Count <= 0 {
			continue
		}
		periods := lr.Periods
		if periods <= 0 {
			periods = 1
		}

		lineBase := lr.UnitPrice.Mul(decimal.NewFromInt(int64(lr.Count * periods)))
		res := r.Resolve(lineBase, rules, Context{
			PartySize: partySize,
			At:        at,
			Traveler:  lr.Traveler,
		})

		out.Lines = append(out.Lines, LineItem{
			Traveler:   lr.Traveler,
			Count:      lr.Count,
			Periods:    periods,
			Resolution: res,
		})
		out.Subtotal = out.Subtotal.Add(Round2(lineBase))
		out.Total = out.Total.Add(res.FinalPrice)

		if res.Discounted() && (out.AppliedRule == "" ||
			res.AppliedPercentage.GreaterThan(out.AppliedPercentage) ||
			(res.AppliedPercentage.Equal(out.AppliedPercentage) && res.AppliedRule.Priority() < out.AppliedRule.Priority())) {
			out.AppliedRule = res.AppliedRule
			out.AppliedPercentage = res.AppliedPercentage
		}
	}

	return out
}

// Advance returns the share of total charged up front, rounded to cents.
// A percentage outside 1..99 charges the full amount.
func Advance(total decimal.Decimal, percentage int) decimal.Decimal {
	if percentage <= 0 || percentage >= 100 {
		return total
	}
	return Round2(total.Mul(decimal.NewFromInt(int64(percentage))).Div(hundred))
}

package pricing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/models"
	"ms-booking/internal/pricing"
)

func TestPrice_LineItemsResolvedIndependently(t *testing.T) {
	r := pricing.NewResolver(time.UTC)
	rules := []models.DiscountRule{
		{Kind: models.DiscountFlat, Percentage: 10},
		{Kind: models.DiscountChild, Percentage: 40},
	}

	b := r.Price(rules, 3, time.Now(), []pricing.LineRequest{
		{Traveler: models.TravelerAdult, UnitPrice: dec("100"), Count: 2},
		{Traveler: models.TravelerChild, UnitPrice: dec("60"), Count: 1},
	})

	require.Len(t, b.Lines, 2)
	assert.Equal(t, models.DiscountFlat, b.Lines[0].AppliedRule)
	assert.Equal(t, "180.00", b.Lines[0].FinalPrice.StringFixed(2))
	assert.Equal(t, models.DiscountChild, b.Lines[1].AppliedRule)
	assert.Equal(t, "36.00", b.Lines[1].FinalPrice.StringFixed(2))

	assert.Equal(t, "260.00", b.Subtotal.StringFixed(2))
	assert.Equal(t, "216.00", b.Total.StringFixed(2))
	assert.Equal(t, models.DiscountChild, b.AppliedRule)
}

func TestPrice_PeriodsMultiplyUnitPrice(t *testing.T) {
	r := pricing.NewResolver(time.UTC)

	b := r.Price(nil, 2, time.Now(), []pricing.LineRequest{
		{Traveler: models.TravelerAdult, UnitPrice: dec("75.50"), Count: 1, Periods: 4},
	})

	assert.Equal(t, "302.00", b.Total.StringFixed(2))
	assert.Empty(t, b.AppliedRule)
}

func TestPrice_SkipsEmptyLines(t *testing.T) {
	r := pricing.NewResolver(time.UTC)
	b := r.Price(nil, 1, time.Now(), []pricing.LineRequest{
		{Traveler: models.TravelerAdult, UnitPrice: dec("10"), Count: 1},
		{Traveler: models.TravelerChild, UnitPrice: dec("5"), Count: 0},
	})
	assert.Len(t, b.Lines, 1)
}

func TestAdvance(t *testing.T) {
	assert.Equal(t, "48.15", pricing.Advance(dec("160.50"), 30).StringFixed(2))
	assert.Equal(t, "160.50", pricing.Advance(dec("160.50"), 0).StringFixed(2))
	assert.Equal(t, "160.50", pricing.Advance(dec("160.50"), 100).StringFixed(2))
}

func TestNormalizeRules(t *testing.T) {
	rules, err := pricing.NormalizeRules([]models.DiscountRule{
		{Kind: models.DiscountChild, Percentage: 150},
		{Kind: models.DiscountFlat, Percentage: -5},
		{Kind: models.DiscountTimeWindow, Percentage: 10, Start: "22:00", End: "02:00", Weekdays: []int{5, 6}},
	})
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, models.DiscountFlat, rules[0].Kind)
	assert.Equal(t, float64(0), rules[0].Percentage)
	assert.Equal(t, models.DiscountTimeWindow, rules[1].Kind)
	assert.Equal(t, models.DiscountChild, rules[2].Kind)
	assert.Equal(t, float64(100), rules[2].Percentage)
}

func TestNormalizeRules_Rejects(t *testing.T) {
	cases := map[string][]models.DiscountRule{
		"unknown kind":   {{Kind: "loyalty", Percentage: 5}},
		"duplicate kind": {{Kind: models.DiscountFlat, Percentage: 5}, {Kind: models.DiscountFlat, Percentage: 7}},
		"group minimum":  {{Kind: models.DiscountGroup, Percentage: 5}},
		"bad clock":      {{Kind: models.DiscountTimeWindow, Percentage: 5, Start: "25:00", End: "10:00"}},
		"bad weekday":    {{Kind: models.DiscountTimeWindow, Percentage: 5, Start: "08:00", End: "10:00", Weekdays: []int{7}}},
	}

	for name, rules := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := pricing.NormalizeRules(rules)
			assert.Error(t, err)
		})
	}
}

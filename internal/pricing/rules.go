package pricing

import (
	"fmt"
	"sort"

	"ms-booking/internal/models"
)

// NormalizeRules validates a discount configuration before it is stored:
// known kinds, one rule per kind, group minimum >= 1, well-formed clock
// times and weekdays. Percentages are clamped to 0..100. Rules come back in
// priority order.
func NormalizeRules(rules []models.DiscountRule) ([]models.DiscountRule, error) {
	seen := make(map[models.DiscountKind]bool, len(rules))
	out := make([]models.DiscountRule, 0, len(rules))

	for _, rule := range rules {
		if rule.Kind.Priority() > models.DiscountChild.Priority() {
			return nil, fmt.Errorf("unknown discount kind %q", rule.Kind)
		}
		if seen[rule.Kind] {
			return nil, fmt.Errorf("duplicate %s discount", rule.Kind)
		}
		seen[rule.Kind] = true

		rule.Percentage = clampPercentage(rule.Percentage)

		switch rule.Kind {
		case models.DiscountGroup:
			if rule.MinPeople < 1 {
				return nil, fmt.Errorf("group discount needs min_people >= 1")
			}
		case models.DiscountTimeWindow:
			if _, err := ParseClock(rule.Start); err != nil {
				return nil, fmt.Errorf("time_window start: %w", err)
			}
			if _, err := ParseClock(rule.End); err != nil {
				return nil, fmt.Errorf("time_window end: %w", err)
			}
			for _, d := range rule.Weekdays {
				if d < 0 || d > 6 {
					return nil, fmt.Errorf("time_window weekday %d out of range 0-6", d)
				}
			}
		case models.DiscountFlat, models.DiscountChild:
		}

		out = append(out, rule)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kind.Priority() < out[j].Kind.Priority()
	})
	return out, nil
}

func clampPercentage(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

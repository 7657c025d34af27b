package currency

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// StaticRates is a fixed table keyed "FROM:TO". Missing pairs fall back to
// the inverse of the opposite pair.
type StaticRates map[string]decimal.Decimal

func (s StaticRates) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	from, to = Normalize(from), Normalize(to)
	if r, ok := s[from+":"+to]; ok {
		return r, nil
	}
	if r, ok := s[to+":"+from]; ok && r.IsPositive() {
		return decimal.NewFromInt(1).DivRound(r, 8), nil
	}
	return decimal.Zero, fmt.Errorf("%w: no static rate for %s/%s", ErrRateUnavailable, from, to)
}

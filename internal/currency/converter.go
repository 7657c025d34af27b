package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingCredentials means the rate source cannot be used at all.
	ErrMissingCredentials = errors.New("exchange rate source is not configured")
	// ErrRateUnavailable means the source answered but had no usable rate.
	ErrRateUnavailable = errors.New("exchange rate unavailable")
)

// RateSource returns how many units of `to` one unit of `from` buys.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

type Converter struct {
	source RateSource
}

func NewConverter(source RateSource) *Converter {
	return &Converter{source: source}
}

// Convert is the identity for equal currencies. Otherwise it multiplies by
// the source rate without rounding; any lookup failure is returned.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from = Normalize(from)
	to = Normalize(to)
	if from == to {
		return amount, nil
	}
	if c.source == nil {
		return decimal.Zero, ErrMissingCredentials
	}

	rate, err := c.source.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert %s to %s: %w", from, to, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("convert %s to %s: %w: non-positive rate %s", from, to, ErrRateUnavailable, rate)
	}
	return amount.Mul(rate), nil
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ToMinorUnits converts a major-unit amount into integer minor units,
// e.g. cents for USD or millimes for TND.
func ToMinorUnits(amount decimal.Decimal, code string) int64 {
	return amount.Shift(int32(MinorExponent(code))).Round(0).IntPart()
}

func MinorExponent(code string) int {
	switch Normalize(code) {
	case "TND", "KWD", "BHD", "OMR", "JOD":
		return 3
	case "JPY", "KRW":
		return 0
	}
	return 2
}

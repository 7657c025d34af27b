package booking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"ms-booking/internal/availability"
	"ms-booking/internal/models"
	"ms-booking/internal/payment"
	"ms-booking/internal/pricing"
)

const dateLayout = "2006-01-02"

// Request is a booking (or quote) attempt for one resource.
type Request struct {
	Kind            models.ResourceKind    `json:"kind" validate:"required,oneof=trip car room"`
	ResourceID      string                 `json:"resource_id" validate:"required,max=64"`
	UserID          string                 `json:"-" validate:"required"`
	CustomerEmail   string                 `json:"customer_email" validate:"omitempty,email"`
	Adults          int                    `json:"adults" validate:"gte=0,lte=50"`
	Children        int                    `json:"children" validate:"gte=0,lte=50"`
	Quantity        int                    `json:"quantity" validate:"gte=0,lte=50"`
	StartDate       string                 `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate         string                 `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Provider        models.PaymentProvider `json:"payment_provider" validate:"required,oneof=stripe wallet"`
	PayAdvance      bool                   `json:"pay_advance"`
	PaymentMethodID string                 `json:"payment_method_id" validate:"omitempty,startswith=pm_"`
	Locale          string                 `json:"locale" validate:"omitempty,oneof=en fr ar"`
}

// Pricing is what a request costs and what the provider will be asked for.
type Pricing struct {
	Breakdown         pricing.Breakdown `json:"breakdown"`
	Currency          string            `json:"currency"`
	Total             decimal.Decimal   `json:"total"`
	AmountDue         decimal.Decimal   `json:"amount_due"`
	IsAdvance         bool              `json:"is_advance"`
	AdvancePercentage int               `json:"advance_percentage"`
	ChargeAmount      decimal.Decimal   `json:"charge_amount"`
	ChargeCurrency    string            `json:"charge_currency"`
}

// plan is a validated request bound to its resource and provider.
type plan struct {
	req       Request
	resource  *models.Resource
	provider  payment.Provider
	rng       availability.Range
	quantity  int
	partySize int
	lines     []pricing.LineRequest
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// bind checks kind-specific rules and derives quantity, range and
// line items from the resource.
func bind(req Request, res *models.Resource, today time.Time) (*plan, error) {
	p := &plan{req: req, resource: res}
	unit := decimal.NewFromFloat(res.BasePrice)
	childUnit := unit
	if res.ChildPrice > 0 {
		childUnit = decimal.NewFromFloat(res.ChildPrice)
	}

	switch res.Kind {
	case models.KindTrip:
		seats := req.Adults + req.Children
		if seats < 1 {
			return nil, Invalid("at least one traveller is required")
		}
		if req.Adults < 1 {
			return nil, Invalid("children must travel with an adult")
		}
		p.rng = availability.NewRange(res.StartDate, res.EndDate)
		if p.rng.Start.Before(today) {
			return nil, Unavailable("this trip has already departed")
		}
		p.quantity = seats
		p.partySize = seats
		p.lines = []pricing.LineRequest{
			{Traveler: models.TravelerAdult, UnitPrice: unit, Count: req.Adults},
			{Traveler: models.TravelerChild, UnitPrice: childUnit, Count: req.Children},
		}

	case models.KindRoom:
		rng, err := dateRange(req, today)
		if err != nil {
			return nil, err
		}
		nights := days(rng)
		if nights < 1 {
			return nil, Invalid("check-out must be after check-in")
		}
		if req.Adults < 1 {
			return nil, Invalid("at least one adult is required")
		}
		guests := req.Adults + req.Children
		if res.MaxGuests > 0 && guests > res.MaxGuests {
			return nil, Invalid(fmt.Sprintf("room sleeps at most %d guests", res.MaxGuests))
		}
		p.quantity = 1
		p.partySize = guests
		p.rng = rng
		p.lines = []pricing.LineRequest{
			{Traveler: models.TravelerAdult, UnitPrice: unit, Count: 1, Periods: nights},
		}

	case models.KindCar:
		rng, err := dateRange(req, today)
		if err != nil {
			return nil, err
		}
		units := req.Quantity
		if units == 0 {
			units = 1
		}
		rentalDays := days(rng)
		if rentalDays < 1 {
			rentalDays = 1
		}
		p.quantity = units
		p.partySize = units
		p.rng = rng
		p.lines = []pricing.LineRequest{
			{Traveler: models.TravelerAdult, UnitPrice: unit, Count: units, Periods: rentalDays},
		}

	default:
		return nil, Invalid(fmt.Sprintf("unknown resource kind %q", res.Kind))
	}

	return p, nil
}

func dateRange(req Request, today time.Time) (availability.Range, error) {
	if req.StartDate == "" || req.EndDate == "" {
		return availability.Range{}, Invalid("start_date and end_date are required")
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		return availability.Range{}, Invalid("start_date must be YYYY-MM-DD")
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		return availability.Range{}, Invalid("end_date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return availability.Range{}, Invalid("end_date must not be before start_date")
	}
	if start.Before(today) {
		return availability.Range{}, Invalid("start_date is in the past")
	}
	return availability.NewRange(start, end), nil
}

func days(r availability.Range) int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

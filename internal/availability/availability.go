package availability

import (
	"context"
	"fmt"
	"time"

	"ms-booking/internal/models"
)

// Range is a closed date interval. Both ends are booked days.
type Range struct {
	Start time.Time
	End   time.Time
}

func NewRange(start, end time.Time) Range {
	return Range{Start: models.DateOnly(start), End: models.DateOnly(end)}
}

// RangesConflict reports whether two closed ranges share at least one day.
// Touching ranges conflict: a checkout equal to another checkin collides.
func RangesConflict(a, b Range) bool {
	return !a.Start.After(b.End) && !a.End.Before(b.Start)
}

type Verdict struct {
	Available bool     `json:"available"`
	Remaining int      `json:"remaining"`
	Reason    string   `json:"reason,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// Evaluate decides availability from the resource's current state and the
// reservations referencing it. Reservations that no longer hold inventory
// or do not overlap are ignored, so callers may pass a superset.
func Evaluate(res models.Resource, existing []models.Reservation, requested Range, quantity int) Verdict {
	switch res.Kind {
	case models.KindTrip:
		if quantity > res.Units {
			return Verdict{Remaining: res.Units, Reason: fmt.Sprintf("only %d seats left", res.Units)}
		}
		return Verdict{Available: true, Remaining: res.Units}

	case models.KindRoom:
		conflicts := overlapping(existing, requested)
		if len(conflicts) > 0 {
			return Verdict{Reason: "room already booked for these dates", Conflicts: ids(conflicts)}
		}
		return Verdict{Available: true, Remaining: 1}

	case models.KindCar:
		conflicts := overlapping(existing, requested)
		used := 0
		for _, r := range conflicts {
			used += r.Quantity
		}
		remaining := res.Units - used
		if remaining < 0 {
			remaining = 0
		}
		if quantity > remaining {
			return Verdict{
				Remaining: remaining,
				Reason:    fmt.Sprintf("only %d cars free for these dates", remaining),
				Conflicts: ids(conflicts),
			}
		}
		return Verdict{Available: true, Remaining: remaining}
	}

	return Verdict{Reason: fmt.Sprintf("unknown resource kind %q", res.Kind)}
}

func overlapping(existing []models.Reservation, requested Range) []models.Reservation {
	var out []models.Reservation
	for _, r := range existing {
		if !r.Status.Holds() {
			continue
		}
		if RangesConflict(NewRange(r.StartDate, r.EndDate), requested) {
			out = append(out, r)
		}
	}
	return out
}

func ids(rs []models.Reservation) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

// Reader loads reservations that may overlap a range.
type Reader interface {
	ActiveReservations(ctx context.Context, kind models.ResourceKind, resourceID string, start, end time.Time) ([]models.Reservation, error)
}

type Checker struct {
	reader Reader
}

func NewChecker(reader Reader) *Checker {
	return &Checker{reader: reader}
}

// IsAvailable returns a rejection verdict on conflict; the error is only
// for failed lookups.
func (c *Checker) IsAvailable(ctx context.Context, res models.Resource, requested Range, quantity int) (Verdict, error) {
	if res.Kind == models.KindTrip {
		return Evaluate(res, nil, requested, quantity), nil
	}

	existing, err := c.reader.ActiveReservations(ctx, res.Kind, res.ID, requested.Start, requested.End)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to load reservations for %s %s: %w", res.Kind, res.ID, err)
	}
	return Evaluate(res, existing, requested, quantity), nil
}

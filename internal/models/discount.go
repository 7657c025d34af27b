package models

type DiscountKind string

// Declaration order doubles as tie-break priority.
const (
	DiscountFlat       DiscountKind = "flat"
	DiscountGroup      DiscountKind = "group"
	DiscountTimeWindow DiscountKind = "time_window"
	DiscountChild      DiscountKind = "child"
)

func (k DiscountKind) Priority() int {
	switch k {
	case DiscountFlat:
		return 0
	case DiscountGroup:
		return 1
	case DiscountTimeWindow:
		return 2
	case DiscountChild:
		return 3
	}
	return 99
}

// DiscountRule is one independently toggled percentage-off condition.
// Fields not used by a kind are ignored.
type DiscountRule struct {
	Kind       DiscountKind `json:"kind"`
	Percentage float64      `json:"percentage"`
	Disabled   bool         `json:"disabled,omitempty"`
	MinPeople  int          `json:"min_people,omitempty"`
	Start      string       `json:"start,omitempty"`
	End        string       `json:"end,omitempty"`
	Weekdays   []int        `json:"weekdays,omitempty"`
}

type TravelerType string

const (
	TravelerAdult TravelerType = "adult"
	TravelerChild TravelerType = "child"
)

package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ResourceKind string

const (
	KindTrip ResourceKind = "trip"
	KindCar  ResourceKind = "car"
	KindRoom ResourceKind = "room"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case KindTrip, KindCar, KindRoom:
		return true
	}
	return false
}

type ResourceStatus string

const (
	ResourcePending  ResourceStatus = "pending"
	ResourceApproved ResourceStatus = "approved"
	ResourceRejected ResourceStatus = "rejected"
	ResourceArchived ResourceStatus = "archived"
)

type Trip struct {
	bun.BaseModel `bun:"table:trips"`

	ID                string         `bun:"id,pk" json:"id"`
	AgencyID          string         `bun:"agency_id" json:"agency_id"`
	Title             string         `bun:"title" json:"title"`
	Destination       string         `bun:"destination" json:"destination"`
	BasePrice         float64        `bun:"base_price" json:"base_price"`
	ChildPrice        float64        `bun:"child_price" json:"child_price,omitempty"`
	Currency          string         `bun:"currency" json:"currency"`
	Capacity          int            `bun:"capacity" json:"capacity"`
	AvailableSeats    int            `bun:"available_seats" json:"available_seats"`
	DepartureDate     time.Time      `bun:"departure_date" json:"departure_date"`
	ReturnDate        time.Time      `bun:"return_date" json:"return_date"`
	AdvancePercentage int            `bun:"advance_percentage" json:"advance_percentage"`
	Discounts         []DiscountRule `bun:"discounts,type:jsonb" json:"discounts"`
	Status            ResourceStatus `bun:"status" json:"status"`
	CreatedAt         time.Time      `bun:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `bun:"updated_at" json:"updated_at"`
}

type Car struct {
	bun.BaseModel `bun:"table:cars"`

	ID        string         `bun:"id,pk" json:"id"`
	AgencyID  string         `bun:"agency_id" json:"agency_id"`
	Title     string         `bun:"title" json:"title"`
	Location  string         `bun:"location" json:"location"`
	BasePrice float64        `bun:"base_price" json:"base_price"`
	Currency  string         `bun:"currency" json:"currency"`
	Quantity  int            `bun:"quantity" json:"quantity"`
	Discounts []DiscountRule `bun:"discounts,type:jsonb" json:"discounts"`
	Status    ResourceStatus `bun:"status" json:"status"`
	CreatedAt time.Time      `bun:"created_at" json:"created_at"`
	UpdatedAt time.Time      `bun:"updated_at" json:"updated_at"`
}

type Room struct {
	bun.BaseModel `bun:"table:rooms"`

	ID         string         `bun:"id,pk" json:"id"`
	AgencyID   string         `bun:"agency_id" json:"agency_id"`
	Title      string         `bun:"title" json:"title"`
	Hotel      string         `bun:"hotel" json:"hotel"`
	BasePrice  float64        `bun:"base_price" json:"base_price"`
	ChildPrice float64        `bun:"child_price" json:"child_price,omitempty"`
	Currency   string         `bun:"currency" json:"currency"`
	MaxGuests  int            `bun:"max_guests" json:"max_guests"`
	Discounts  []DiscountRule `bun:"discounts,type:jsonb" json:"discounts"`
	Status     ResourceStatus `bun:"status" json:"status"`
	CreatedAt  time.Time      `bun:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `bun:"updated_at" json:"updated_at"`
}

// Resource is the kind-independent view of a bookable listing used by
// admission and pricing.
type Resource struct {
	Kind              ResourceKind
	ID                string
	AgencyID          string
	Title             string
	BasePrice         float64
	ChildPrice        float64
	Currency          string
	Discounts         []DiscountRule
	Status            ResourceStatus
	AdvancePercentage int
	// Units is remaining seats for trips, fleet size for cars, 1 for rooms.
	Units     int
	MaxGuests int
	StartDate time.Time
	EndDate   time.Time
}

func (t *Trip) AsResource() Resource {
	return Resource{
		Kind:              KindTrip,
		ID:                t.ID,
		AgencyID:          t.AgencyID,
		Title:             t.Title,
		BasePrice:         t.BasePrice,
		ChildPrice:        t.ChildPrice,
		Currency:          t.Currency,
		Discounts:         t.Discounts,
		Status:            t.Status,
		AdvancePercentage: t.AdvancePercentage,
		Units:             t.AvailableSeats,
		StartDate:         t.DepartureDate,
		EndDate:           t.ReturnDate,
	}
}

func (c *Car) AsResource() Resource {
	return Resource{
		Kind:      KindCar,
		ID:        c.ID,
		AgencyID:  c.AgencyID,
		Title:     c.Title,
		BasePrice: c.BasePrice,
		Currency:  c.Currency,
		Discounts: c.Discounts,
		Status:    c.Status,
		Units:     c.Quantity,
	}
}

func (r *Room) AsResource() Resource {
	return Resource{
		Kind:       KindRoom,
		ID:         r.ID,
		AgencyID:   r.AgencyID,
		Title:      r.Title,
		BasePrice:  r.BasePrice,
		ChildPrice: r.ChildPrice,
		Currency:   r.Currency,
		Discounts:  r.Discounts,
		Status:     r.Status,
		Units:      1,
		MaxGuests:  r.MaxGuests,
	}
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

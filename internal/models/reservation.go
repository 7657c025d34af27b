package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingFailed    BookingStatus = "failed"
	BookingCancelled BookingStatus = "cancelled"
)

// Terminal reports whether reconciliation may no longer move the booking.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingConfirmed, BookingFailed, BookingCancelled:
		return true
	case BookingPending:
		return false
	}
	return false
}

// Holds reports whether the booking still occupies inventory.
func (s BookingStatus) Holds() bool {
	switch s {
	case BookingPending, BookingConfirmed:
		return true
	case BookingFailed, BookingCancelled:
		return false
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type PaymentProvider string

const (
	ProviderStripe PaymentProvider = "stripe"
	ProviderWallet PaymentProvider = "wallet"
)

type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID                 string          `bun:"id,pk" json:"id"`
	Kind               ResourceKind    `bun:"kind" json:"kind"`
	ResourceID         string          `bun:"resource_id" json:"resource_id"`
	AgencyID           string          `bun:"agency_id" json:"agency_id"`
	UserID             string          `bun:"user_id" json:"user_id"`
	CustomerEmail      string          `bun:"customer_email" json:"customer_email,omitempty"`
	Quantity           int             `bun:"quantity" json:"quantity"`
	Adults             int             `bun:"adults" json:"adults"`
	Children           int             `bun:"children" json:"children"`
	StartDate          time.Time       `bun:"start_date" json:"start_date"`
	EndDate            time.Time       `bun:"end_date" json:"end_date"`
	TotalPrice         float64         `bun:"total_price" json:"total_price"`
	Currency           string          `bun:"currency" json:"currency"`
	AmountDue          float64         `bun:"amount_due" json:"amount_due"`
	AmountCharged      float64         `bun:"amount_charged" json:"amount_charged"`
	ChargeCurrency     string          `bun:"charge_currency" json:"charge_currency"`
	AdvancePercentage  int             `bun:"advance_percentage" json:"advance_percentage"`
	IsAdvance          bool            `bun:"is_advance" json:"is_advance"`
	DiscountRule       string          `bun:"discount_rule" json:"discount_rule,omitempty"`
	DiscountPercentage float64         `bun:"discount_percentage" json:"discount_percentage"`
	PaymentProvider    PaymentProvider `bun:"payment_provider" json:"payment_provider"`
	PaymentRef         string          `bun:"payment_ref" json:"payment_ref,omitempty"`
	PaymentURL         string          `bun:"payment_url" json:"payment_url,omitempty"`
	PaymentStatus      PaymentStatus   `bun:"payment_status" json:"payment_status"`
	Status             BookingStatus   `bun:"status" json:"status"`
	VoucherIssued      bool            `bun:"voucher_issued" json:"voucher_issued"`
	CreatedAt          time.Time       `bun:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `bun:"updated_at" json:"updated_at"`
}

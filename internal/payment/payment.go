package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"ms-booking/internal/models"
)

var (
	ErrNotConfigured   = errors.New("payment provider is not configured")
	ErrUnknownProvider = errors.New("unknown payment provider")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Request struct {
	ReservationID string
	Description   string
	// Amount is in major units of Currency.
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	Locale        string
	// PaymentMethodID, when set, asks providers that support it to charge
	// a saved method synchronously.
	PaymentMethodID string
}

type Session struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url,omitempty"`
	// Status is pending unless the provider settled the charge in-line.
	Status Status `json:"status"`
}

type Provider interface {
	Name() models.PaymentProvider
	Currency() string
	Initiate(ctx context.Context, req Request) (*Session, error)
	Lookup(ctx context.Context, reference string) (Status, error)
	// Cancel abandons the payment behind reference, refunding it when the
	// provider already collected the money.
	Cancel(ctx context.Context, reference string) error
}

type Registry map[models.PaymentProvider]Provider

func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Name()] = p
	}
	return r
}

func (r Registry) Get(name models.PaymentProvider) (Provider, error) {
	p, ok := r[name]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// WebhookError carries a client-safe message alongside the internal detail.
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-booking/internal/currency"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type StripeOptions struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
	// Backends overrides the API endpoint, used by tests.
	Backends *stripe.Backends
}

// StripeProvider takes card payments through Checkout Sessions, or a
// confirmed PaymentIntent when the customer supplies a saved method.
type StripeProvider struct {
	client *client.API
	opts   StripeOptions
	log    *logger.Logger
}

func NewStripeProvider(opts StripeOptions, log *logger.Logger) *StripeProvider {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	p := &StripeProvider{opts: opts, log: log}
	if opts.SecretKey != "" {
		p.client = client.New(opts.SecretKey, opts.Backends)
		log.Info("STRIPE", "Stripe client initialized successfully")
	} else {
		log.Warn("STRIPE", "STRIPE_SECRET_KEY not set, card payments disabled")
	}
	return p
}

func (p *StripeProvider) Name() models.PaymentProvider { return models.ProviderStripe }

func (p *StripeProvider) Currency() string { return p.opts.Currency }

func (p *StripeProvider) Initiate(ctx context.Context, req Request) (*Session, error) {
	if p.client == nil {
		return nil, ErrNotConfigured
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("invalid payment amount: %s", req.Amount)
	}

	amount := currency.ToMinorUnits(req.Amount, p.opts.Currency)
	cur := strings.ToLower(p.opts.Currency)

	if req.PaymentMethodID != "" {
		return p.chargeSavedMethod(ctx, req, amount, cur)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withReservation(p.opts.SuccessURL, req.ReservationID, true)),
		CancelURL:         stripe.String(withReservation(p.opts.CancelURL, req.ReservationID, false)),
		ClientReferenceID: stripe.String(req.ReservationID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(cur),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.Locale != "" {
		params.Locale = stripe.String(req.Locale)
	}
	params.AddMetadata("reservation_id", req.ReservationID)
	params.Context = ctx

	sess, err := p.client.CheckoutSessions.New(params)
	if err != nil {
		p.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for %s: %v", req.ReservationID, err))
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}

	p.log.LogPayment("stripe", sess.ID, fmt.Sprintf("Checkout session created for reservation %s (%d %s)", req.ReservationID, amount, cur))
	return &Session{Reference: sess.ID, RedirectURL: sess.URL, Status: StatusPending}, nil
}

func (p *StripeProvider) chargeSavedMethod(ctx context.Context, req Request, amount int64, cur string) (*Session, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(cur),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("reservation_id", req.ReservationID)
	params.Context = ctx

	intent, err := p.client.PaymentIntents.New(params)
	if err != nil {
		p.log.Error("STRIPE", fmt.Sprintf("Direct charge failed for %s: %v", req.ReservationID, err))
		return nil, fmt.Errorf("stripe payment intent: %w", err)
	}

	status := intentStatus(intent.Status)
	p.log.LogPayment("stripe", intent.ID, fmt.Sprintf("Direct charge for reservation %s is %s", req.ReservationID, intent.Status))
	return &Session{Reference: intent.ID, Status: status}, nil
}

func (p *StripeProvider) Lookup(ctx context.Context, reference string) (Status, error) {
	if p.client == nil {
		return "", ErrNotConfigured
	}

	if strings.HasPrefix(reference, "pi_") {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		intent, err := p.client.PaymentIntents.Get(reference, params)
		if err != nil {
			return "", fmt.Errorf("stripe payment intent lookup: %w", err)
		}
		return intentStatus(intent.Status), nil
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := p.client.CheckoutSessions.Get(reference, params)
	if err != nil {
		return "", fmt.Errorf("stripe checkout session lookup: %w", err)
	}
	return sessionStatus(sess), nil
}

// Cancel abandons a payment. Open checkout sessions are expired. A direct
// charge is cancelled while Stripe still allows it and refunded once it has
// succeeded.
func (p *StripeProvider) Cancel(ctx context.Context, reference string) error {
	if p.client == nil {
		return ErrNotConfigured
	}
	switch {
	case strings.HasPrefix(reference, "cs_"):
		params := &stripe.CheckoutSessionExpireParams{}
		params.Context = ctx
		if _, err := p.client.CheckoutSessions.Expire(reference, params); err != nil {
			return fmt.Errorf("stripe expire session: %w", err)
		}
		p.log.LogPayment("stripe", reference, "Checkout session expired")
		return nil
	case strings.HasPrefix(reference, "pi_"):
		return p.cancelIntent(ctx, reference)
	}
	return fmt.Errorf("unknown stripe reference %q", reference)
}

func (p *StripeProvider) cancelIntent(ctx context.Context, id string) error {
	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx
	intent, err := p.client.PaymentIntents.Get(id, getParams)
	if err != nil {
		return fmt.Errorf("stripe payment intent lookup: %w", err)
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusCanceled:
		return nil
	case stripe.PaymentIntentStatusSucceeded:
		params := &stripe.RefundParams{PaymentIntent: stripe.String(id)}
		params.AddMetadata("reason", "booking_abandoned")
		params.Context = ctx
		refund, err := p.client.Refunds.New(params)
		if err != nil {
			p.log.Error("STRIPE", fmt.Sprintf("Refund of %s failed: %v", id, err))
			return fmt.Errorf("stripe refund: %w", err)
		}
		p.log.LogPayment("stripe", id, fmt.Sprintf("Refunded as %s (%s)", refund.ID, refund.Status))
		return nil
	case stripe.PaymentIntentStatusProcessing:
		return fmt.Errorf("stripe payment intent %s is processing and cannot be cancelled yet", id)
	}

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := p.client.PaymentIntents.Cancel(id, params); err != nil {
		return fmt.Errorf("stripe cancel payment intent: %w", err)
	}
	p.log.LogPayment("stripe", id, "Payment intent cancelled")
	return nil
}

// WebhookResult is the reconciliation-relevant content of a Stripe event.
type WebhookResult struct {
	EventType     string
	Reference     string
	ReservationID string
	Status        Status
	// Handled is false for event types we acknowledge but ignore.
	Handled bool
}

// ParseWebhook verifies the signature and maps checkout session events.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookResult, error) {
	if p.opts.WebhookSecret == "" {
		return nil, &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.opts.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook signature",
			InternalError: fmt.Sprintf("Webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	result := &WebhookResult{EventType: string(event.Type)}

	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.expired",
		"checkout.session.async_payment_failed":
	default:
		return result, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Failed to unmarshal checkout session: %v", err),
			OriginalErr:   err,
		}
	}

	result.Reference = sess.ID
	result.ReservationID = sess.Metadata["reservation_id"]
	if result.ReservationID == "" {
		result.ReservationID = sess.ClientReferenceID
	}

	switch event.Type {
	case "checkout.session.completed":
		// Delayed methods complete unpaid and settle with async_payment_*.
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return result, nil
		}
		result.Status = StatusSucceeded
	case "checkout.session.async_payment_succeeded":
		result.Status = StatusSucceeded
	default:
		result.Status = StatusFailed
	}
	result.Handled = true
	return result, nil
}

func sessionStatus(sess *stripe.CheckoutSession) Status {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return StatusSucceeded
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return StatusFailed
	}
	return StatusPending
}

func intentStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusFailed
	}
	return StatusPending
}

func withReservation(base, reservationID string, withSession bool) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	u := fmt.Sprintf("%s%sreservation_id=%s", base, sep, reservationID)
	if withSession {
		// Stripe substitutes the template on redirect.
		u += "&session_id={CHECKOUT_SESSION_ID}"
	}
	return u
}

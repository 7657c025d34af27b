package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ms-booking/internal/currency"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type WalletOptions struct {
	BaseURL        string
	APIKey         string
	ReceiverWallet string
	Currency       string
	SuccessURL     string
	FailURL        string
	Timeout        time.Duration
}

// WalletProvider talks to the regional wallet gateway. Amounts travel in
// millimes.
type WalletProvider struct {
	opts   WalletOptions
	client *http.Client
	log    *logger.Logger
}

func NewWalletProvider(opts WalletOptions, log *logger.Logger) *WalletProvider {
	if opts.Currency == "" {
		opts.Currency = "TND"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &WalletProvider{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		log:    log,
	}
}

type initPaymentRequest struct {
	ReceiverWalletID       string   `json:"receiverWalletId"`
	Token                  string   `json:"token"`
	Amount                 int64    `json:"amount"`
	Type                   string   `json:"type"`
	Description            string   `json:"description"`
	AcceptedPaymentMethods []string `json:"acceptedPaymentMethods"`
	Lifespan               int      `json:"lifespan"`
	CheckoutForm           bool     `json:"checkoutForm"`
	AddPaymentFeesToAmount bool     `json:"addPaymentFeesToAmount"`
	Email                  string   `json:"email,omitempty"`
	OrderID                string   `json:"orderId"`
	SuccessURL             string   `json:"successUrl"`
	FailURL                string   `json:"failUrl"`
	Theme                  string   `json:"theme"`
	Language               string   `json:"language,omitempty"`
}

type initPaymentResponse struct {
	PayURL     string `json:"payUrl"`
	PaymentRef string `json:"paymentRef"`
}

type paymentDetailsResponse struct {
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
}

func (p *WalletProvider) Name() models.PaymentProvider { return models.ProviderWallet }

func (p *WalletProvider) Currency() string { return p.opts.Currency }

func (p *WalletProvider) configured() bool {
	return p.opts.BaseURL != "" && p.opts.APIKey != "" && p.opts.ReceiverWallet != ""
}

func (p *WalletProvider) Initiate(ctx context.Context, req Request) (*Session, error) {
	if !p.configured() {
		return nil, ErrNotConfigured
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("invalid payment amount: %s", req.Amount)
	}

	body := initPaymentRequest{
		ReceiverWalletID:       p.opts.ReceiverWallet,
		Token:                  p.opts.Currency,
		Amount:                 currency.ToMinorUnits(req.Amount, p.opts.Currency),
		Type:                   "immediate",
		Description:            req.Description,
		AcceptedPaymentMethods: []string{"wallet", "bank_card", "e-DINAR"},
		Lifespan:               30,
		Email:                  req.CustomerEmail,
		OrderID:                req.ReservationID,
		SuccessURL:             p.opts.SuccessURL,
		FailURL:                p.opts.FailURL,
		Theme:                  "light",
		Language:               req.Locale,
	}

	var out initPaymentResponse
	if err := p.do(ctx, http.MethodPost, "/payments/init-payment", body, &out); err != nil {
		p.log.Error("WALLET", fmt.Sprintf("Failed to init payment for %s: %v", req.ReservationID, err))
		return nil, err
	}
	if out.PaymentRef == "" || out.PayURL == "" {
		return nil, fmt.Errorf("wallet gateway returned an empty payment reference")
	}

	p.log.LogPayment("wallet", out.PaymentRef, fmt.Sprintf("Payment link created for reservation %s (%d millimes)", req.ReservationID, body.Amount))
	return &Session{Reference: out.PaymentRef, RedirectURL: out.PayURL, Status: StatusPending}, nil
}

func (p *WalletProvider) Lookup(ctx context.Context, reference string) (Status, error) {
	if !p.configured() {
		return "", ErrNotConfigured
	}

	var out paymentDetailsResponse
	if err := p.do(ctx, http.MethodGet, "/payments/"+reference, nil, &out); err != nil {
		return "", err
	}

	switch out.Payment.Status {
	case "completed":
		return StatusSucceeded, nil
	case "pending", "":
		return StatusPending, nil
	default:
		return StatusFailed, nil
	}
}

// Cancel is a no-op: wallet links lapse after their lifespan.
func (p *WalletProvider) Cancel(context.Context, string) error {
	return nil
}

func (p *WalletProvider) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode wallet request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.opts.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build wallet request: %w", err)
	}
	req.Header.Set("x-api-key", p.opts.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("wallet gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("wallet gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode wallet response: %w", err)
	}
	return nil
}

package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

const testWebhookSecret = "whsec_test_secret"

func signedEvent(t *testing.T, eventType string, object map[string]interface{}) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_test",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func newWebhookProvider() *StripeProvider {
	return NewStripeProvider(StripeOptions{WebhookSecret: testWebhookSecret}, logger.NewDiscard())
}

func TestParseWebhook_CheckoutEvents(t *testing.T) {
	cases := []struct {
		eventType     string
		paymentStatus string
		wantStatus    Status
		wantHandled   bool
	}{
		{"checkout.session.completed", "paid", StatusSucceeded, true},
		{"checkout.session.completed", "unpaid", "", false},
		{"checkout.session.async_payment_succeeded", "paid", StatusSucceeded, true},
		{"checkout.session.async_payment_failed", "unpaid", StatusFailed, true},
		{"checkout.session.expired", "unpaid", StatusFailed, true},
	}

	p := newWebhookProvider()
	for _, tc := range cases {
		t.Run(tc.eventType+"/"+tc.paymentStatus, func(t *testing.T) {
			payload, header := signedEvent(t, tc.eventType, map[string]interface{}{
				"id":             "cs_test_1",
				"object":         "checkout.session",
				"payment_status": tc.paymentStatus,
				"metadata":       map[string]string{"reservation_id": "res-1"},
			})

			result, err := p.ParseWebhook(payload, header)
			require.NoError(t, err)
			assert.Equal(t, tc.wantHandled, result.Handled)
			assert.Equal(t, tc.wantStatus, result.Status)
			assert.Equal(t, "cs_test_1", result.Reference)
			assert.Equal(t, "res-1", result.ReservationID)
		})
	}
}

func TestParseWebhook_IgnoresOtherEvents(t *testing.T) {
	payload, header := signedEvent(t, "customer.created", map[string]interface{}{"id": "cus_1", "object": "customer"})
	result, err := newWebhookProvider().ParseWebhook(payload, header)
	require.NoError(t, err)
	assert.False(t, result.Handled)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	payload, _ := signedEvent(t, "checkout.session.completed", map[string]interface{}{"id": "cs_1"})
	_, err := newWebhookProvider().ParseWebhook(payload, "t=1,v1=deadbeef")

	var werr *WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, http.StatusBadRequest, werr.StatusCode)
	assert.Equal(t, "validation", werr.Category)
}

func TestParseWebhook_MissingSecret(t *testing.T) {
	p := NewStripeProvider(StripeOptions{}, logger.NewDiscard())
	_, err := p.ParseWebhook([]byte("{}"), "")

	var werr *WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "configuration", werr.Category)
}

func newStripeBackend(t *testing.T, handler http.HandlerFunc) *stripe.Backends {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	return &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
}

func TestStripeInitiate_CreatesCheckoutSessionInMinorUnits(t *testing.T) {
	var form url.Values
	backends := newStripeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_123","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_123"}`)
	})

	p := NewStripeProvider(StripeOptions{
		SecretKey:  "sk_test_123",
		SuccessURL: "https://app.example/success",
		CancelURL:  "https://app.example/cancel",
		Backends:   backends,
	}, logger.NewDiscard())

	sess, err := p.Initiate(context.Background(), Request{
		ReservationID: "res-1",
		Description:   "Sahara trip",
		Amount:        decimal.RequireFromString("51.445"),
		Currency:      "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, "cs_test_123", sess.Reference)
	assert.Equal(t, StatusPending, sess.Status)
	assert.Contains(t, sess.RedirectURL, "checkout.stripe.com")
	assert.Equal(t, "5145", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "usd", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "res-1", form.Get("metadata[reservation_id]"))
}

func TestStripeInitiate_NotConfigured(t *testing.T) {
	p := NewStripeProvider(StripeOptions{}, logger.NewDiscard())
	_, err := p.Initiate(context.Background(), Request{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStripeLookup_SessionStatus(t *testing.T) {
	backends := newStripeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/checkout/sessions/cs_paid":
			fmt.Fprint(w, `{"id":"cs_paid","object":"checkout.session","status":"complete","payment_status":"paid"}`)
		case "/v1/checkout/sessions/cs_expired":
			fmt.Fprint(w, `{"id":"cs_expired","object":"checkout.session","status":"expired","payment_status":"unpaid"}`)
		default:
			fmt.Fprint(w, `{"id":"cs_open","object":"checkout.session","status":"open","payment_status":"unpaid"}`)
		}
	})
	p := NewStripeProvider(StripeOptions{SecretKey: "sk_test_123", Backends: backends}, logger.NewDiscard())

	for ref, want := range map[string]Status{"cs_paid": StatusSucceeded, "cs_expired": StatusFailed, "cs_open": StatusPending} {
		got, err := p.Lookup(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, want, got, ref)
	}
}

func newWalletServer(t *testing.T, status string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "wallet-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/payments/init-payment":
			var body initPaymentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(160500), body.Amount)
			assert.Equal(t, "res-9", body.OrderID)
			assert.Equal(t, "wallet-123", body.ReceiverWalletID)
			fmt.Fprint(w, `{"payUrl":"https://pay.example/ref-1","paymentRef":"ref-1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/payments/ref-1":
			fmt.Fprintf(w, `{"payment":{"id":"ref-1","status":%q}}`, status)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWalletProvider_InitiateAndLookup(t *testing.T) {
	srv := newWalletServer(t, "completed")
	p := NewWalletProvider(WalletOptions{
		BaseURL:        srv.URL,
		APIKey:         "wallet-key",
		ReceiverWallet: "wallet-123",
	}, logger.NewDiscard())

	assert.Equal(t, models.ProviderWallet, p.Name())
	assert.Equal(t, "TND", p.Currency())

	sess, err := p.Initiate(context.Background(), Request{
		ReservationID: "res-9",
		Amount:        decimal.RequireFromString("160.5"),
		Currency:      "TND",
	})
	require.NoError(t, err)
	assert.Equal(t, "ref-1", sess.Reference)
	assert.Equal(t, "https://pay.example/ref-1", sess.RedirectURL)

	status, err := p.Lookup(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)
}

func TestWalletProvider_StatusMapping(t *testing.T) {
	for remote, want := range map[string]Status{"pending": StatusPending, "failed": StatusFailed, "expired": StatusFailed} {
		srv := newWalletServer(t, remote)
		p := NewWalletProvider(WalletOptions{BaseURL: srv.URL, APIKey: "wallet-key", ReceiverWallet: "wallet-123"}, logger.NewDiscard())
		got, err := p.Lookup(context.Background(), "ref-1")
		require.NoError(t, err)
		assert.Equal(t, want, got, remote)
	}
}

func TestWalletProvider_GatewayError(t *testing.T) {
	srv := newWalletServer(t, "pending")
	p := NewWalletProvider(WalletOptions{BaseURL: srv.URL, APIKey: "wrong", ReceiverWallet: "wallet-123"}, logger.NewDiscard())

	_, err := p.Initiate(context.Background(), Request{ReservationID: "res-9", Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)
}

func TestWalletProvider_NotConfigured(t *testing.T) {
	p := NewWalletProvider(WalletOptions{}, logger.NewDiscard())
	_, err := p.Initiate(context.Background(), Request{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRegistry(t *testing.T) {
	w := NewWalletProvider(WalletOptions{}, logger.NewDiscard())
	r := NewRegistry(w)

	got, err := r.Get(models.ProviderWallet)
	require.NoError(t, err)
	assert.Same(t, w, got)

	_, err = r.Get(models.ProviderStripe)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestStripeCancel_DirectCharges(t *testing.T) {
	var calls []string
	var refundForm url.Values
	backends := newStripeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_paid":
			fmt.Fprint(w, `{"id":"pi_paid","object":"payment_intent","status":"succeeded"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_action":
			fmt.Fprint(w, `{"id":"pi_action","object":"payment_intent","status":"requires_action"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_gone":
			fmt.Fprint(w, `{"id":"pi_gone","object":"payment_intent","status":"canceled"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_busy":
			fmt.Fprint(w, `{"id":"pi_busy","object":"payment_intent","status":"processing"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/refunds":
			body, _ := io.ReadAll(r.Body)
			refundForm, _ = url.ParseQuery(string(body))
			fmt.Fprint(w, `{"id":"re_1","object":"refund","status":"succeeded"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents/pi_action/cancel":
			fmt.Fprint(w, `{"id":"pi_action","object":"payment_intent","status":"canceled"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"unexpected call"}}`)
		}
	})
	p := NewStripeProvider(StripeOptions{SecretKey: "sk_test_123", Backends: backends}, logger.NewDiscard())
	ctx := context.Background()

	require.NoError(t, p.Cancel(ctx, "pi_paid"))
	assert.Equal(t, "pi_paid", refundForm.Get("payment_intent"), "a succeeded charge is refunded")

	require.NoError(t, p.Cancel(ctx, "pi_action"))
	require.NoError(t, p.Cancel(ctx, "pi_gone"))
	assert.Error(t, p.Cancel(ctx, "pi_busy"))
	assert.Error(t, p.Cancel(ctx, "ch_legacy"))

	assert.Equal(t, []string{
		"GET /v1/payment_intents/pi_paid",
		"POST /v1/refunds",
		"GET /v1/payment_intents/pi_action",
		"POST /v1/payment_intents/pi_action/cancel",
		"GET /v1/payment_intents/pi_gone",
		"GET /v1/payment_intents/pi_busy",
	}, calls)
}

func TestStripeCancel_ExpiresCheckoutSession(t *testing.T) {
	var path string
	backends := newStripeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.Method + " " + r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_open","object":"checkout.session","status":"expired"}`)
	})
	p := NewStripeProvider(StripeOptions{SecretKey: "sk_test_123", Backends: backends}, logger.NewDiscard())

	require.NoError(t, p.Cancel(context.Background(), "cs_open"))
	assert.Equal(t, "POST /v1/checkout/sessions/cs_open/expire", path)
}

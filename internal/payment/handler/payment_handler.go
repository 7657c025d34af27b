package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/payment"
	"ms-booking/internal/utils"
)

const maxWebhookBytes = 65536

// Reconciler applies provider outcomes to reservations.
type Reconciler interface {
	ApplyPaymentResult(ctx context.Context, reservationID, paymentRef string, status payment.Status) (*models.Reservation, error)
	ApplyByReference(ctx context.Context, provider models.PaymentProvider, paymentRef string, status payment.Status) (*models.Reservation, error)
	SyncPayment(ctx context.Context, reservationID string) (*models.Reservation, error)
	SyncByReference(ctx context.Context, provider models.PaymentProvider, paymentRef string) (*models.Reservation, error)
}

// WebhookParser verifies and decodes a signed provider notification.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payment.WebhookResult, error)
}

type PaymentHandler struct {
	reconciler Reconciler
	stripe     WebhookParser
	logger     *logger.Logger
}

func NewPaymentHandler(reconciler Reconciler, stripe WebhookParser, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler, stripe: stripe, logger: log}
}

// Register mounts the provider callbacks. Provider traffic carries no user
// token, so these routes sit outside the auth middleware.
func (h *PaymentHandler) Register(r gin.IRouter) {
	g := r.Group("/payments")
	g.POST("/stripe/webhook", h.StripeWebhook)
	g.GET("/stripe/return", h.StripeReturn)
	g.GET("/wallet/return", h.WalletReturn)
	g.POST("/wallet/webhook", h.WalletWebhook)
}

// StripeWebhook applies checkout session outcomes pushed by Stripe.
func (h *PaymentHandler) StripeWebhook(c *gin.Context) {
	h.logger.Info("PAYMENT", "StripeWebhook: received webhook event")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, utils.ErrorResponse("Webhook processing error", "could not read body"))
		return
	}
	if h.stripe == nil {
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Webhook processing error", "Webhook processing error"))
		return
	}

	result, err := h.stripe.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		var webhookErr *payment.WebhookError
		if errors.As(err, &webhookErr) {
			h.logger.Error("PAYMENT", fmt.Sprintf("StripeWebhook: category=%s status=%d: %s",
				webhookErr.Category, webhookErr.StatusCode, webhookErr.InternalError))
			c.JSON(webhookErr.StatusCode, utils.ErrorResponse("Webhook rejected", webhookErr.PublicError))
			return
		}
		h.logger.Error("PAYMENT", fmt.Sprintf("StripeWebhook: %v", err))
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Webhook rejected", "Webhook processing error"))
		return
	}

	if !result.Handled {
		h.logger.Debug("PAYMENT", fmt.Sprintf("StripeWebhook: ignoring %s", result.EventType))
		c.JSON(http.StatusOK, utils.SuccessResponse("Event ignored", nil))
		return
	}

	ctx := c.Request.Context()
	var res *models.Reservation
	if result.ReservationID != "" {
		res, err = h.reconciler.ApplyPaymentResult(ctx, result.ReservationID, result.Reference, result.Status)
	} else {
		res, err = h.reconciler.ApplyByReference(ctx, models.ProviderStripe, result.Reference, result.Status)
	}
	h.respond(c, "StripeWebhook", res, err)
}

// StripeReturn runs when the customer lands back from checkout. The
// session is looked up rather than trusting the redirect.
func (h *PaymentHandler) StripeReturn(c *gin.Context) {
	id := c.Query("reservation_id")
	if id == "" {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request", "reservation_id is required"))
		return
	}
	res, err := h.reconciler.SyncPayment(c.Request.Context(), id)
	h.respond(c, "StripeReturn", res, err)
}

// WalletReturn handles the wallet gateway redirect, keyed by payment_ref.
func (h *PaymentHandler) WalletReturn(c *gin.Context) {
	h.syncWallet(c, "WalletReturn", c.Query("payment_ref"))
}

// WalletWebhook accepts the gateway notification. Its body only names the
// payment; the status is always fetched from the gateway.
func (h *PaymentHandler) WalletWebhook(c *gin.Context) {
	ref := c.Query("payment_ref")
	if ref == "" {
		var body struct {
			PaymentRef string `json:"payment_ref"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", "payment_ref is required"))
			return
		}
		ref = body.PaymentRef
	}
	h.syncWallet(c, "WalletWebhook", ref)
}

func (h *PaymentHandler) syncWallet(c *gin.Context, op, ref string) {
	if ref == "" {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request", "payment_ref is required"))
		return
	}
	res, err := h.reconciler.SyncByReference(c.Request.Context(), models.ProviderWallet, ref)
	h.respond(c, op, res, err)
}

type paymentOutcome struct {
	ReservationID string               `json:"reservation_id"`
	Status        models.BookingStatus `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
}

// respond acknowledges duplicate and late notifications with 200 so the
// provider stops retrying.
func (h *PaymentHandler) respond(c *gin.Context, op string, res *models.Reservation, err error) {
	if err != nil && !errors.Is(err, booking.ErrReconciliationConflict) {
		status := booking.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("PAYMENT", fmt.Sprintf("%s: %v", op, err))
		} else {
			h.logger.Warn("PAYMENT", fmt.Sprintf("%s: %v", op, err))
		}
		c.JSON(status, utils.ErrorResponse(op+" failed", booking.PublicMessage(err)))
		return
	}
	if err != nil {
		h.logger.Info("PAYMENT", fmt.Sprintf("%s: %v", op, err))
	}

	out := paymentOutcome{}
	if res != nil {
		out = paymentOutcome{ReservationID: res.ID, Status: res.Status, PaymentStatus: res.PaymentStatus}
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment status recorded", out))
}

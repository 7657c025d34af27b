package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/sse"
	"ms-booking/internal/utils"
	"ms-booking/internal/voucher"
)

// Agencies resolves the agency a user owns.
type Agencies interface {
	AgencyFor(ctx context.Context, userID string) (*models.Agency, error)
}

// VoucherLedger records that a voucher went out for a reservation.
type VoucherLedger interface {
	MarkVoucherIssued(ctx context.Context, id string) error
}

type Deps struct {
	Service  *booking.Service
	Vouchers *voucher.Issuer
	Ledger   VoucherLedger
	Agencies Agencies
	Events   *sse.BookingEventEmitter
	Logger   *logger.Logger
}

type Handler struct {
	Service  *booking.Service
	Vouchers *voucher.Issuer
	Ledger   VoucherLedger
	Agencies Agencies
	Events   *sse.BookingEventEmitter
	Logger   *logger.Logger
	now      func() time.Time
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = logger.NewDiscard()
	}
	if d.Events == nil {
		d.Events = sse.NewBookingEventEmitter()
	}
	return &Handler{
		Service:  d.Service,
		Vouchers: d.Vouchers,
		Ledger:   d.Ledger,
		Agencies: d.Agencies,
		Events:   d.Events,
		Logger:   d.Logger,
		now:      time.Now,
	}
}

// PublicRoutes need no authentication.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/availability/{kind}/{id}", h.Availability)
}

// Routes must be mounted behind auth.Middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/bookings", h.Book)
	r.Post("/bookings/quote", h.Quote)
	r.Get("/bookings/mine", h.ListMine)
	r.Get("/bookings/{id}", h.Get)
	r.Post("/bookings/{id}/cancel", h.Cancel)
	r.Get("/bookings/{id}/voucher", h.Voucher)
	r.Post("/vouchers/verify", h.VerifyVoucher)
	r.Get("/events/bookings", h.StreamUserBookings)
	r.Get("/events/agency", h.StreamAgencyBookings)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := booking.HTTPStatus(err)
	switch {
	case status >= http.StatusInternalServerError:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	case status == http.StatusConflict:
		h.Logger.Info("API", fmt.Sprintf("%s: %v", op, err))
	default:
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(op+" failed", booking.PublicMessage(err)))
}

func kindParam(r *http.Request) models.ResourceKind {
	switch k := chi.URLParam(r, "kind"); k {
	case "trips":
		return models.KindTrip
	case "cars":
		return models.KindCar
	case "rooms":
		return models.KindRoom
	default:
		return models.ResourceKind(k)
	}
}

// request reads a booking request and binds it to the caller.
func (h *Handler) request(r *http.Request) (booking.Request, error) {
	var req booking.Request
	if err := utils.DecodeJSON(r, &req); err != nil {
		return req, booking.Invalid(err.Error())
	}
	id := auth.IdentityFrom(r.Context())
	req.UserID = id.UserID
	if req.CustomerEmail == "" {
		req.CustomerEmail = id.Email
	}
	return req, nil
}

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	req, err := h.request(r)
	if err != nil {
		h.fail(w, "Book", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("Book: %s %s for user %s via %s", req.Kind, req.ResourceID, req.UserID, req.Provider))

	adm, err := h.Service.Book(r.Context(), req)
	if err != nil {
		h.fail(w, "Book", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Reservation created", adm))
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	req, err := h.request(r)
	if err != nil {
		h.fail(w, "Quote", err)
		return
	}
	q, err := h.Service.Quote(r.Context(), req)
	if err != nil {
		h.fail(w, "Quote", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Quote computed", q))
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quantity, _ := strconv.Atoi(q.Get("quantity"))

	verdict, err := h.Service.Availability(r.Context(), kindParam(r), chi.URLParam(r, "id"), q.Get("start_date"), q.Get("end_date"), quantity)
	if err != nil {
		h.fail(w, "Availability", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Availability checked", verdict))
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListMine(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, "ListBookings", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Reservations retrieved", list))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, "GetBooking", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Reservation retrieved", res))
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Cancel(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, "Cancel", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Reservation cancelled", res))
}

package catalog

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
)

type Handler struct {
	Service *Service
	Logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// PublicRoutes need no authentication.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/{kind}", h.Browse)
}

// AgencyRoutes must be mounted behind auth.Middleware.
func (h *Handler) AgencyRoutes(r chi.Router) {
	r.Post("/agency", h.RegisterAgency)
	r.Get("/agency", h.MyAgency)
	r.Post("/trips", h.CreateTrip)
	r.Post("/cars", h.CreateCar)
	r.Post("/rooms", h.CreateRoom)
	r.Put("/{kind}/{id}/discounts", h.SetDiscounts)
	r.Post("/{kind}/{id}/archive", h.Archive)
	r.Delete("/{kind}/{id}", h.Delete)
}

// AdminRoutes must be mounted behind auth.RequireRole.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/{kind}/pending", h.Pending)
	r.Post("/{kind}/{id}/approve", h.Approve)
	r.Post("/{kind}/{id}/reject", h.Reject)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := booking.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(op+" failed", booking.PublicMessage(err)))
}

func kindParam(r *http.Request) models.ResourceKind {
	k := chi.URLParam(r, "kind")
	// Routes use plural collection names.
	switch k {
	case "trips":
		return models.KindTrip
	case "cars":
		return models.KindCar
	case "rooms":
		return models.KindRoom
	}
	return models.ResourceKind(k)
}

func (h *Handler) Browse(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := h.Service.Browse(r.Context(), kindParam(r), limit, offset)
	if err != nil {
		h.fail(w, "Browse", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Listings retrieved", list))
}

func (h *Handler) RegisterAgency(w http.ResponseWriter, r *http.Request) {
	var in AgencyInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		h.fail(w, "RegisterAgency", booking.Invalid(err.Error()))
		return
	}
	a, err := h.Service.RegisterAgency(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		h.fail(w, "RegisterAgency", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Agency registered", a))
}

func (h *Handler) MyAgency(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.AgencyFor(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, "MyAgency", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Agency retrieved", a))
}

func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var in TripInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		h.fail(w, "CreateTrip", booking.Invalid(err.Error()))
		return
	}
	trip, err := h.Service.CreateTrip(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		h.fail(w, "CreateTrip", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Trip submitted for review", trip))
}

func (h *Handler) CreateCar(w http.ResponseWriter, r *http.Request) {
	var in CarInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		h.fail(w, "CreateCar", booking.Invalid(err.Error()))
		return
	}
	car, err := h.Service.CreateCar(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		h.fail(w, "CreateCar", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Car submitted for review", car))
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var in RoomInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		h.fail(w, "CreateRoom", booking.Invalid(err.Error()))
		return
	}
	room, err := h.Service.CreateRoom(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		h.fail(w, "CreateRoom", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Room submitted for review", room))
}

func (h *Handler) SetDiscounts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Discounts []models.DiscountRule `json:"discounts"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		h.fail(w, "SetDiscounts", booking.Invalid(err.Error()))
		return
	}
	rules, err := h.Service.SetDiscounts(r.Context(), auth.UserID(r.Context()), kindParam(r), chi.URLParam(r, "id"), body.Discounts)
	if err != nil {
		h.fail(w, "SetDiscounts", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Discounts updated", rules))
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Archive(r.Context(), auth.UserID(r.Context()), kindParam(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "Archive", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Listing archived", nil))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), auth.UserID(r.Context()), kindParam(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "Delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.Pending(r.Context(), kindParam(r))
	if err != nil {
		h.fail(w, "Pending", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Pending listings retrieved", list))
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, true)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, false)
}

func (h *Handler) moderate(w http.ResponseWriter, r *http.Request, approve bool) {
	err := h.Service.Moderate(r.Context(), auth.UserID(r.Context()), kindParam(r), chi.URLParam(r, "id"), approve)
	if err != nil {
		h.fail(w, "Moderate", err)
		return
	}
	msg := "Listing rejected"
	if approve {
		msg = "Listing approved"
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(msg, nil))
}

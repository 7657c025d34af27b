package wallet

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/utils"
)

type Handler struct {
	Service *Service
	Logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// AgencyRoutes must be mounted behind auth.Middleware.
func (h *Handler) AgencyRoutes(r chi.Router) {
	r.Get("/balance", h.GetBalance)
	r.Get("/withdrawals", h.ListMine)
	r.Post("/withdrawals", h.Request)
}

// AdminRoutes must be mounted behind auth.RequireRole.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/withdrawals/pending", h.ListPending)
	r.Post("/withdrawals/{id}/approve", h.Approve)
	r.Post("/withdrawals/{id}/reject", h.Reject)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := booking.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(op+" failed", booking.PublicMessage(err)))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.Balance(r.Context(), auth.UserID(r.Context()), r.URL.Query().Get("currency"))
	if err != nil {
		h.fail(w, "GetBalance", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Balance retrieved", b))
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.MyWithdrawals(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, "ListWithdrawals", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Withdrawals retrieved", list))
}

func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	var in WithdrawalInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		h.fail(w, "RequestWithdrawal", booking.Invalid(err.Error()))
		return
	}
	wd, b, err := h.Service.RequestWithdrawal(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		h.fail(w, "RequestWithdrawal", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Withdrawal requested", map[string]interface{}{
		"withdrawal": wd,
		"balance":    b,
	}))
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.PendingWithdrawals(r.Context())
	if err != nil {
		h.fail(w, "ListPendingWithdrawals", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Pending withdrawals retrieved", list))
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	wd, err := h.Service.DecideWithdrawal(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), approve)
	if err != nil {
		h.fail(w, "DecideWithdrawal", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Withdrawal "+string(wd.Status), wd))
}

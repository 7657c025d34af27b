package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/utils"
	"ms-booking/internal/voucher"
)

// Voucher renders the voucher of a confirmed reservation as a QR PNG, or
// as a printable PDF with ?format=pdf.
func (h *Handler) Voucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.Service.Get(ctx, chi.URLParam(r, "id"), auth.UserID(ctx))
	if err != nil {
		h.fail(w, "Voucher", err)
		return
	}

	token, err := h.Vouchers.Issue(res, h.now())
	switch {
	case errors.Is(err, voucher.ErrNotConfirmed):
		h.fail(w, "Voucher", booking.Invalid("a voucher is available once the booking is confirmed"))
		return
	case err != nil:
		h.fail(w, "Voucher", booking.Misconfigured(err))
		return
	}

	var body []byte
	contentType := "image/png"
	if r.URL.Query().Get("format") == "pdf" {
		contentType = "application/pdf"
		body, err = voucher.PDF(res, token)
	} else {
		size, _ := strconv.Atoi(r.URL.Query().Get("size"))
		if size > 1024 {
			size = 1024
		}
		body, err = voucher.QR(token, size)
	}
	if err != nil {
		h.fail(w, "Voucher", fmt.Errorf("render voucher: %w", err))
		return
	}

	if !res.VoucherIssued && h.Ledger != nil {
		if err := h.Ledger.MarkVoucherIssued(ctx, res.ID); err != nil {
			h.Logger.Warn("API", fmt.Sprintf("Voucher: failed to flag reservation %s: %v", res.ID, err))
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Voucher-Token", token)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// VerifyVoucher lets the agency that owns the booked listing check a
// voucher in.
func (h *Handler) VerifyVoucher(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil || body.Token == "" {
		h.fail(w, "VerifyVoucher", booking.Invalid("token is required"))
		return
	}

	ctx := r.Context()
	agency, err := h.Agencies.AgencyFor(ctx, auth.UserID(ctx))
	if err != nil {
		h.fail(w, "VerifyVoucher", err)
		return
	}

	claims, err := h.Vouchers.Verify(body.Token)
	switch {
	case errors.Is(err, voucher.ErrNoSecret):
		h.fail(w, "VerifyVoucher", booking.Misconfigured(err))
		return
	case err != nil:
		h.Logger.LogSecurity("INVALID_VOUCHER", fmt.Sprintf("user %s: %v", auth.UserID(ctx), err))
		h.fail(w, "VerifyVoucher", booking.Invalid("voucher is not valid"))
		return
	}
	if claims.AgencyID != agency.ID {
		h.Logger.LogSecurity("FOREIGN_VOUCHER", fmt.Sprintf("user %s presented reservation %s of agency %s", auth.UserID(ctx), claims.ReservationID, claims.AgencyID))
		h.fail(w, "VerifyVoucher", booking.Forbidden("voucher belongs to another agency"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Voucher is valid", claims))
}

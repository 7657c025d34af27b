package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-booking/internal/auth"
	"ms-booking/internal/notify"
)

// StreamUserBookings streams the caller's own booking events.
func (h *Handler) StreamUserBookings(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	events := h.Events.SubscribeToUser(r.Context(), userID)
	h.stream(w, r, events, "user", userID)
}

// StreamAgencyBookings streams booking events for the caller's agency.
func (h *Handler) StreamAgencyBookings(w http.ResponseWriter, r *http.Request) {
	agency, err := h.Agencies.AgencyFor(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, "StreamAgencyBookings", err)
		return
	}
	events := h.Events.SubscribeToAgency(r.Context(), agency.ID)
	h.stream(w, r, events, "agency", agency.ID)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, events <-chan notify.Event, scope, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	setupSSEHeaders(w)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"%s\":%q}\n\n", scope, id)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to %s booking events: %s", scope, id))

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for %s: %s", scope, id))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize booking event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from %s booking events: %s", scope, id))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

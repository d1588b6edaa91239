package handlers

import (
	"net/http"
)

// HandleNotificationStatus reports the current alert-cycle state.
func (h *Handlers) HandleNotificationStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.Status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleNotificationCheck runs the daily expiry decision on demand,
// mirroring what the cron job does.
func (h *Handlers) HandleNotificationCheck(w http.ResponseWriter, r *http.Request) {
	fired, err := h.scheduler.CheckExpiration(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	renewed := false
	if !fired {
		renewed, err = h.scheduler.CheckRenewed(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{
		"alert_fired":      fired,
		"renewal_detected": renewed,
	})
}

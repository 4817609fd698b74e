package api

import (
	"net/http"

	"github.com/mklimuk/crm-pilot/pkg/reminder"
)

type refreshResponse struct {
	reminder.Summary
	Error string `json:"error,omitempty"`
}

type snoozeRequest struct {
	Days int `json:"days"`
}

func (h *Handler) HandleReminders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Shell.Reminders().Snapshot())
}

// HandleRefreshReminders refreshes immediately. A failed refresh still answers
// 200 with the previous summary and the failure message.
func (h *Handler) HandleRefreshReminders(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	sum, err := h.Shell.Reminders().Refresh(r.Context(), sess)
	resp := refreshResponse{Summary: sum}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleDismissGate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Shell.Reminders().DismissGate())
}

func (h *Handler) HandleDismissBanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Shell.Reminders().DismissBanner())
}

func (h *Handler) HandleCompleteReminder(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	sum, err := h.Shell.Reminders().Complete(r.Context(), sess, pathID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// HandleSnoozeReminder moves a reminder by the requested number of days, one by default.
func (h *Handler) HandleSnoozeReminder(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	req := snoozeRequest{Days: 1}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	sum, err := h.Shell.Reminders().Snooze(r.Context(), sess, pathID(r), req.Days)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

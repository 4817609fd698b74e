package api

import (
	"net/http"

	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/mklimuk/crm-pilot/pkg/settings"
)

type passwordRequest struct {
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

type inviteRequest struct {
	Email string       `json:"email"`
	Role  session.Role `json:"role"`
}

type roleRequest struct {
	Role session.Role `json:"role"`
}

func (h *Handler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	p, err := h.Shell.Settings().Profile(r.Context(), sess)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleSaveProfile(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	var in settings.ProfileInput
	if !decode(w, r, &in) {
		return
	}
	p, err := h.Shell.Settings().SaveProfile(r.Context(), sess, in)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Shell.Settings().ChangePassword(r.Context(), sess, req.Password, req.Confirm); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListTeam(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	members, err := h.Shell.Settings().Members(r.Context(), sess)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	var nu settings.NewUser
	if !decode(w, r, &nu) {
		return
	}
	m, err := h.Shell.Settings().CreateUser(r.Context(), sess, nu)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	var req inviteRequest
	if !decode(w, r, &req) {
		return
	}
	inv, err := h.Shell.Settings().Invite(r.Context(), sess, req.Email, req.Role)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// HandleUpdateRole changes a member's role. The role stays applied locally
// even when the backend rejects it; the error carries the backend message.
func (h *Handler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	var req roleRequest
	if !decode(w, r, &req) {
		return
	}
	members, err := h.Shell.Settings().UpdateRole(r.Context(), sess, pathID(r), req.Role)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// HandleDeleteUser removes a member. Requires ?confirm=true.
func (h *Handler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	members, err := h.Shell.Settings().DeleteUser(r.Context(), sess, pathID(r), confirmed(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

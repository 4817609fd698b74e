package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/mklimuk/crm-pilot/pkg/settings"
	"github.com/mklimuk/crm-pilot/pkg/shell"
	"github.com/rs/zerolog"
)

// Handler serves the shell over HTTP. Every request acts on behalf of the
// shell's signed-in session.
type Handler struct {
	Shell *shell.Shell
	Log   zerolog.Logger
}

// session resolves the active session, refreshing it when needed. It writes
// a 401 and returns nil when nobody is signed in.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *session.Session {
	sess, err := h.Shell.Auth().Current(r.Context())
	if err != nil {
		h.Log.Warn().Err(err).Msg("failed to resolve session")
		writeFailure(w, err)
		return nil
	}
	if !sess.Active() {
		writeFailure(w, settings.ErrNotSignedIn)
		return nil
	}
	return sess
}

func confirmed(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	return ok
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleGetSession returns the signed-in user.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if sess := h.session(w, r); sess != nil {
		writeJSON(w, http.StatusOK, sess)
	}
}

// HandleSignIn signs the shell in with email and password.
func (h *Handler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	sess, err := h.Shell.Auth().SignIn(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleSignOut ends the session.
func (h *Handler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	if err := h.Shell.Auth().SignOut(r.Context(), sess); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleState returns the shell view state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Shell.State())
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

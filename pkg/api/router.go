package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mklimuk/crm-pilot/pkg/shell"
	"github.com/rs/zerolog"
)

// NewRouter creates the HTTP router over sh. When token is set every /api
// request must present it as a bearer token.
func NewRouter(sh *shell.Shell, token string, log zerolog.Logger) *mux.Router {
	h := &Handler{
		Shell: sh,
		Log:   log.With().Str("component", "api").Logger(),
	}

	r := mux.NewRouter()
	r.Use(recovery(h.Log), h.accessLog)

	api := r.PathPrefix("/api").Subrouter()
	if token != "" {
		api.Use(requireToken(token))
	}

	api.HandleFunc("/session", h.HandleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/session", h.HandleSignIn).Methods(http.MethodPost)
	api.HandleFunc("/session", h.HandleSignOut).Methods(http.MethodDelete)
	api.HandleFunc("/state", h.HandleState).Methods(http.MethodGet)

	api.HandleFunc("/reminders", h.HandleReminders).Methods(http.MethodGet)
	api.HandleFunc("/reminders/refresh", h.HandleRefreshReminders).Methods(http.MethodPost)
	api.HandleFunc("/reminders/gate/dismiss", h.HandleDismissGate).Methods(http.MethodPost)
	api.HandleFunc("/reminders/banner/dismiss", h.HandleDismissBanner).Methods(http.MethodPost)
	api.HandleFunc("/reminders/{id}/complete", h.HandleCompleteReminder).Methods(http.MethodPost)
	api.HandleFunc("/reminders/{id}/snooze", h.HandleSnoozeReminder).Methods(http.MethodPost)

	api.HandleFunc("/search", h.HandleSearch).Methods(http.MethodGet)
	api.HandleFunc("/search/input", h.HandleSearchInput).Methods(http.MethodPost)
	api.HandleFunc("/search/state", h.HandleSearchState).Methods(http.MethodGet)

	api.HandleFunc("/profile", h.HandleGetProfile).Methods(http.MethodGet)
	api.HandleFunc("/profile", h.HandleSaveProfile).Methods(http.MethodPut)
	api.HandleFunc("/profile/password", h.HandleChangePassword).Methods(http.MethodPost)

	api.HandleFunc("/team", h.HandleListTeam).Methods(http.MethodGet)
	api.HandleFunc("/team", h.HandleCreateUser).Methods(http.MethodPost)
	api.HandleFunc("/team/invites", h.HandleInvite).Methods(http.MethodPost)
	api.HandleFunc("/team/{id}/role", h.HandleUpdateRole).Methods(http.MethodPatch)
	api.HandleFunc("/team/{id}", h.HandleDeleteUser).Methods(http.MethodDelete)

	api.HandleFunc("/records/{entity}", h.HandleListRecords).Methods(http.MethodGet)
	api.HandleFunc("/records/{entity}", h.HandleSaveRecord).Methods(http.MethodPut)
	api.HandleFunc("/records/{entity}/{id}", h.HandleDeleteRecord).Methods(http.MethodDelete)

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
		h.Log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

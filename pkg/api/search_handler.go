package api

import (
	"net/http"
)

type searchInput struct {
	Text string `json:"text"`
}

// HandleSearch runs one search immediately, bypassing the debounce.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, h.Shell.Searcher().Search(r.Context(), sess, r.URL.Query().Get("q")))
}

// HandleSearchInput feeds the debounced search box. Results arrive later via
// the search state.
func (h *Handler) HandleSearchInput(w http.ResponseWriter, r *http.Request) {
	var in searchInput
	if !decode(w, r, &in) {
		return
	}
	h.Shell.Search().Input(in.Text)
	writeJSON(w, http.StatusAccepted, h.Shell.Search().State())
}

func (h *Handler) HandleSearchState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Shell.Search().State())
}

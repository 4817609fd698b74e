package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/records"
)

func (h *Handler) collection(w http.ResponseWriter, r *http.Request) *records.Collection {
	c, err := h.Shell.Records().Collection(mux.Vars(r)["entity"])
	if err != nil {
		writeFailure(w, err)
		return nil
	}
	return c
}

func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	c := h.collection(w, r)
	if c == nil {
		return
	}
	rows, err := c.List(r.Context(), sess)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if rows == nil {
		rows = []gateway.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) HandleSaveRecord(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	c := h.collection(w, r)
	if c == nil {
		return
	}
	var row gateway.Row
	if !decode(w, r, &row) {
		return
	}
	saved, err := c.Save(r.Context(), sess, row)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleDeleteRecord removes a row. Requires ?confirm=true.
func (h *Handler) HandleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	c := h.collection(w, r)
	if c == nil {
		return
	}
	if err := c.Delete(r.Context(), sess, pathID(r), confirmed(r)); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

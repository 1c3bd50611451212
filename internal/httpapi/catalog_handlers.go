package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"authcore.org/internal/auth"
)

type renameRequest struct {
	Name string `json:"name"`
}

// catalogRoutes mounts CRUD for one catalog under prefix.
func (a *API) catalogRoutes(r *mux.Router, prefix string, c auth.Catalog) {
	r.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		q, err := listQuery(r)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		page, err := a.svc.ListEntries(r.Context(), c, q)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}).Methods(http.MethodGet)

	r.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		var in auth.CatalogInput
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		entry, err := a.svc.CreateEntry(r.Context(), c, in)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/api/v1%s/%s", prefix, entry.ID))
		writeJSON(w, http.StatusCreated, entry)
	}).Methods(http.MethodPost)

	r.HandleFunc(prefix+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		entry, err := a.svc.GetEntry(r.Context(), c, id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}).Methods(http.MethodGet)

	r.HandleFunc(prefix+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var in renameRequest
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		entry, err := a.svc.RenameEntry(r.Context(), c, id, in.Name)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}).Methods(http.MethodPut)

	r.HandleFunc(prefix+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := a.svc.DeleteEntry(r.Context(), c, id); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
}

package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"authcore.org/internal/auth"
)

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	page, err := a.svc.ListAccounts(r.Context(), q)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	views := make([]auth.AccountView, 0, len(page.Items))
	for _, acct := range page.Items {
		views = append(views, acct.View())
	}
	writeJSON(w, http.StatusOK, auth.Page[auth.AccountView]{
		Items: views,
		Total: page.Total,
		Page:  page.Page,
		Limit: page.Limit,
	})
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	var in auth.CreateAccountInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.svc.CreateAccount(r.Context(), in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/user/%s", acct.ID))
	writeJSON(w, http.StatusCreated, acct.View())
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	acct, err := a.svc.GetAccount(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct.View())
}

func (a *API) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in auth.UpdateProfileInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.svc.UpdateProfile(r.Context(), id, in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct.View())
}

func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteAccount(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in auth.ChangePasswordInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), id, in); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password changed"})
}

// syncHandler replaces the account's set in catalog c with the ids listed
// under field in the body.
func (a *API) syncHandler(c auth.Catalog, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var body map[string][]string
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		raw, present := body[field]
		if !present {
			a.writeServiceError(w, r, &auth.ValidationError{Fields: map[string][]string{
				field: {field + " field is required"},
			}})
			return
		}
		ids, err := parseIDs(field, raw)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		if err := a.svc.Sync(r.Context(), c, id, ids); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": string(c) + " synced"})
	}
}

// pathID parses {id}; a malformed id cannot name anything, so it is a 404.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return uuid.Nil, false
	}
	return id, true
}

func parseIDs(field string, raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	var bad []string
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%q is not a valid id", s))
			continue
		}
		ids = append(ids, id)
	}
	if len(bad) > 0 {
		return nil, &auth.ValidationError{Fields: map[string][]string{field: bad}}
	}
	return ids, nil
}

func listQuery(r *http.Request) (auth.ListQuery, error) {
	v := r.URL.Query()
	q := auth.ListQuery{
		Search: v.Get("search"),
		Order:  v.Get("order"),
		Sort:   v.Get("sort"),
	}
	fields := map[string][]string{}
	var err error
	if q.Page, err = parsePositiveInt(v.Get("page"), 1); err != nil {
		fields["page"] = []string{"page must be a positive integer"}
	}
	if q.Limit, err = parsePositiveInt(v.Get("limit"), 0); err != nil {
		fields["limit"] = []string{"limit must be a positive integer"}
	}
	if len(fields) > 0 {
		return auth.ListQuery{}, &auth.ValidationError{Fields: fields}
	}
	return q, nil
}

func parsePositiveInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid value %q", raw)
	}
	return n, nil
}

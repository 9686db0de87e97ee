package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/exemi-au/exemi/internal/apperr"
)

// pathID parses the {id} route variable.
func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validation("Invalid id %q", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("Query parameter %s must be an integer", name)
	}
	return v, nil
}

func queryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation("Query parameter %s must be a boolean", name)
	}
	return v, nil
}

// page reads offset and limit.
func page(r *http.Request, defLimit int) (offset, limit int, err error) {
	if offset, err = queryInt(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(r, "limit", defLimit); err != nil {
		return 0, 0, err
	}
	if offset < 0 || limit < 0 {
		return 0, 0, apperr.Validation("offset and limit must not be negative")
	}
	return offset, limit, nil
}

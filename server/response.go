package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	_ = writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "Method not allowed")
		return false
	}
	return true
}

// requireParams reads required query parameters, writing a 400 when any is missing
func requireParams(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	q := r.URL.Query()
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = q.Get(name)
		if values[i] == "" {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "missing query parameter: "+name)
			return nil, false
		}
	}
	return values, true
}

// queryBool parses an optional boolean query parameter
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.NewInvalidRequestError("%s must be a boolean, got %q", name, raw)
	}
	return v, nil
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

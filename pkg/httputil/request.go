package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ParseJSON decodes the request body into dest
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("invalid JSON: empty body")
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes the body and replies 400 when it cannot.
// It reports whether the handler should continue.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathString returns the named mux path variable
func ParsePathString(r *http.Request, key string) (string, error) {
	value := mux.Vars(r)[key]
	if value == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return value, nil
}

// ParsePathStringOrError returns the named path variable or replies 400
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	value, err := ParsePathString(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return value, true
}

// ParseQueryInt parses an integer query parameter, defaultVal when absent
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, raw)
	}
	return value, nil
}

// ParseQueryString returns a query parameter, defaultVal when absent
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultVal
}

// RequireNonEmpty replies 400 when value is empty
func RequireNonEmpty(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		WriteValidationError(w, fmt.Sprintf("%s is required", fieldName))
		return false
	}
	return true
}

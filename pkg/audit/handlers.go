package audit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/schoolwelfare/caseboard/pkg/httputil"
)

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{
		store: store,
	}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/entries", h.listEntries).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEntries).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
}

// listEntries handles GET /audit/entries
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.store.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// exportEntries handles GET /audit/export
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatCSV)))
	switch format {
	case ExportFormatCSV, ExportFormatJSON, ExportFormatNDJSON:
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("unsupported export format: %s", format))
		return
	}

	data, err := Export(r.Context(), h.store, filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	contentType := "application/json"
	switch format {
	case ExportFormatCSV:
		contentType = "text/csv; charset=utf-8"
	case ExportFormatNDJSON:
		contentType = "application/x-ndjson"
	}
	httputil.WriteAttachment(w, contentType, ExportFilename(format), data)
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.Limit = 0

	entries, err := h.store.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, ComputeStats(entries))
}

// ParseFilter reads q, kind (repeatable), from, to and limit from the query
// string. Dates may be RFC3339 or YYYY-MM-DD; a date-only "to" covers the
// whole day.
func ParseFilter(r *http.Request) (Filter, error) {
	query := r.URL.Query()
	filter := Filter{Text: query.Get("q")}

	for _, k := range query["kind"] {
		kind, err := ParseKind(k)
		if err != nil {
			return Filter{}, err
		}
		filter.Kinds = append(filter.Kinds, kind)
	}

	if s := query.Get("from"); s != "" {
		t, _, err := parseTime(s)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid from: %w", err)
		}
		filter.From = &t
	}

	if s := query.Get("to"); s != "" {
		t, dateOnly, err := parseTime(s)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid to: %w", err)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		filter.To = &t
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		return Filter{}, err
	}
	filter.Limit = limit

	return filter, nil
}

func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

package backup

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/schoolwelfare/caseboard/pkg/httputil"
)

// Handlers exposes manual backup runs over HTTP
type Handlers struct {
	scheduler *Scheduler
}

// NewHandlers creates backup handlers
func NewHandlers(scheduler *Scheduler) *Handlers {
	return &Handlers{scheduler: scheduler}
}

// RegisterRoutes registers backup routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/backups", h.runBackup).Methods("POST")
	router.HandleFunc("/backups/last", h.lastBackup).Methods("GET")
}

// runBackup handles POST /backups
func (h *Handlers) runBackup(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.RunOnce(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, result)
}

// lastBackup handles GET /backups/last
func (h *Handlers) lastBackup(w http.ResponseWriter, r *http.Request) {
	last := h.scheduler.Last()
	if last == nil {
		httputil.WriteNotFoundError(w, "no backup has been written yet")
		return
	}
	httputil.WriteSuccess(w, last)
}

package rbac

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/schoolwelfare/caseboard/pkg/catalog"
	"github.com/schoolwelfare/caseboard/pkg/httputil"
	"github.com/schoolwelfare/caseboard/pkg/observability"
)

// maxSnapshotBytes bounds the body of a snapshot import
const maxSnapshotBytes = 10 * 1024 * 1024

// Handlers provides HTTP handlers for permission management
type Handlers struct {
	service *Service
	checker *Checker

	// guard, when set, requires the caller to hold settings permissions
	guard *Checker
}

// NewHandlers creates new permission handlers
func NewHandlers(service *Service, checker *Checker) *Handlers {
	if checker == nil {
		checker = NewChecker(service, 0, 0)
	}
	return &Handlers{
		service: service,
		checker: checker,
	}
}

// WithGuard makes every management route require the caller to hold the
// matching settings permission
func (h *Handlers) WithGuard(checker *Checker) *Handlers {
	h.guard = checker
	return h
}

func (h *Handlers) protect(action catalog.ActionID, fn http.HandlerFunc) http.Handler {
	if h.guard == nil {
		return fn
	}
	return RequirePermission(h.guard, catalog.ModuleSettings, action)(fn)
}

// RegisterRoutes registers all permission routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	const (
		view   = catalog.ActionView
		edit   = catalog.ActionEdit
		export = catalog.ActionExport
	)

	// Catalog and role policy
	router.HandleFunc("/catalog", h.GetCatalog).Methods("GET")
	router.Handle("/roles", h.protect(view, h.ListRoles)).Methods("GET")
	router.Handle("/roles/{role}/defaults", h.protect(view, h.GetRoleDefaults)).Methods("GET")
	router.Handle("/roles/{role}/defaults", h.protect(edit, h.SetRoleDefaults)).Methods("PUT")

	// Users
	router.Handle("/users", h.protect(view, h.ListUsers)).Methods("GET")
	router.Handle("/users", h.protect(edit, h.ProvisionUser)).Methods("POST")
	router.Handle("/users/{id}", h.protect(edit, h.RemoveUser)).Methods("DELETE")
	router.Handle("/users/{id}/permissions", h.protect(view, h.GetUserPermissions)).Methods("GET")
	router.Handle("/users/{id}/permissions/toggle", h.protect(edit, h.TogglePermission)).Methods("POST")
	router.Handle("/users/{id}/permissions/modules/{module}", h.protect(edit, h.SetModulePermissions)).Methods("PUT")
	router.Handle("/users/{id}/permissions/reset", h.protect(edit, h.ResetToRoleDefault)).Methods("POST")
	router.Handle("/users/{id}/permissions/copy", h.protect(edit, h.CopyFrom)).Methods("POST")

	// Bulk actions
	router.Handle("/bulk/add", h.protect(edit, h.BulkAdd)).Methods("POST")
	router.Handle("/bulk/remove", h.protect(edit, h.BulkRemove)).Methods("POST")

	// Snapshot
	router.Handle("/snapshot", h.protect(export, h.ExportSnapshot)).Methods("GET")
	router.Handle("/snapshot", h.protect(edit, h.ImportSnapshot)).Methods("POST")
	router.Handle("/reset-all", h.protect(edit, h.ResetAll)).Methods("POST")

	// Permission checking
	router.HandleFunc("/check", h.Check).Methods("GET")
}

// writeError maps service errors to HTTP status codes
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidSnapshot),
		errors.Is(err, ErrUnknownRole), errors.Is(err, catalog.ErrUnknownModule),
		errors.Is(err, catalog.ErrUnknownAction):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrRoleNotEditable), errors.Is(err, ErrUserExists):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Permission request failed")
		httputil.WriteInternalError(w, err)
	}
}

// roleFromPath parses the {role} path variable
func roleFromPath(r *http.Request) (Role, error) {
	raw, err := httputil.ParsePathString(r, "role")
	if err != nil {
		return "", err
	}
	return ParseRole(raw)
}

// GetCatalog lists modules and actions
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"modules": catalog.Modules(),
		"actions": catalog.Actions(),
	})
}

// RoleView describes a role and its current defaults
type RoleView struct {
	ID          Role                 `json:"id"`
	Label       string               `json:"label"`
	Editable    bool                 `json:"editable"`
	Permissions []catalog.Permission `json:"permissions"`
}

// ListRoles lists every role with its defaults
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles := make([]RoleView, 0, len(roleOrder))
	for _, role := range Roles() {
		roles = append(roles, RoleView{
			ID:          role,
			Label:       role.Label(),
			Editable:    role.Editable(),
			Permissions: h.service.Policy().Defaults(role).Slice(),
		})
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

// GetRoleDefaults returns one role's defaults
func (h *Handlers) GetRoleDefaults(w http.ResponseWriter, r *http.Request) {
	role, err := roleFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, RoleView{
		ID:          role,
		Label:       role.Label(),
		Editable:    role.Editable(),
		Permissions: h.service.Policy().Defaults(role).Slice(),
	})
}

// SetRoleDefaults replaces one role's defaults
func (h *Handlers) SetRoleDefaults(w http.ResponseWriter, r *http.Request) {
	role, err := roleFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		Permissions []catalog.Permission `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	cascaded, err := h.service.SetRoleDefaults(r.Context(), role, req.Permissions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"role":        role,
		"permissions": h.service.Policy().Defaults(role).Slice(),
		"cascadedTo":  cascaded,
		"cascadeMode": h.service.CascadeMode(),
	})
}

// ListUsers lists every user's grants
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users := h.service.ListUsers()
	httputil.WriteSuccess(w, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// ProvisionUser seeds a new user's grants from their role default
func (h *Handlers) ProvisionUser(w http.ResponseWriter, r *http.Request) {
	var user User
	if !httputil.ParseJSONOrError(w, r, &user) {
		return
	}
	if !httputil.RequireNonEmpty(w, user.ID, "id") {
		return
	}

	up, err := h.service.ProvisionUser(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, up)
}

// RemoveUser discards a user's grants
func (h *Handlers) RemoveUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.RemoveUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserPermissions returns a user's grants
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	up, err := h.service.UserPermissions(userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, up)
}

// TogglePermission flips one grant
func (h *Handlers) TogglePermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req catalog.Permission
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	granted, err := h.service.TogglePermission(r.Context(), userID, req.Module, req.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"userId":     userID,
		"permission": req,
		"granted":    granted,
	})
}

// SetModulePermissions replaces a user's grants on one module
func (h *Handlers) SetModulePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	rawModule, ok := httputil.ParsePathStringOrError(w, r, "module")
	if !ok {
		return
	}
	module, err := catalog.ParseModule(rawModule)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		Actions []catalog.ActionID `json:"actions"`
		Enabled bool               `json:"enabled"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.SetModulePermissions(r.Context(), userID, module, req.Actions, req.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetUserPermissions(w, r)
}

// ResetToRoleDefault puts a user back on their role default
func (h *Handlers) ResetToRoleDefault(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.ResetToRoleDefault(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetUserPermissions(w, r)
}

// CopyFrom copies another user's grants
func (h *Handlers) CopyFrom(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		SourceUserID string `json:"sourceUserId"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.SourceUserID, "sourceUserId") {
		return
	}

	if err := h.service.CopyFrom(r.Context(), userID, req.SourceUserID); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetUserPermissions(w, r)
}

// BulkRequest is the body of the bulk endpoints
type BulkRequest struct {
	Module  string   `json:"module"`
	Action  string   `json:"action"`
	UserIDs []string `json:"userIds"`
}

// parse validates ids present in the request; empty fields are left for the
// service to reject
func (req BulkRequest) parse() (catalog.ModuleID, catalog.ActionID, error) {
	var (
		module catalog.ModuleID
		action catalog.ActionID
		err    error
	)
	if req.Module != "" {
		if module, err = catalog.ParseModule(req.Module); err != nil {
			return "", "", err
		}
	}
	if req.Action != "" {
		if action, err = catalog.ParseAction(req.Action); err != nil {
			return "", "", err
		}
	}
	return module, action, nil
}

// BulkAdd grants one permission to several users
func (h *Handlers) BulkAdd(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, true)
}

// BulkRemove revokes one permission from several users
func (h *Handlers) BulkRemove(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, false)
}

func (h *Handlers) bulk(w http.ResponseWriter, r *http.Request, grant bool) {
	var req BulkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	module, action, err := req.parse()
	if err != nil {
		writeError(w, r, err)
		return
	}

	var result *BulkResult
	if grant {
		result, err = h.service.AddPermissionToUsers(r.Context(), module, action, req.UserIDs)
	} else {
		result, err = h.service.RemovePermissionFromUsers(r.Context(), module, action, req.UserIDs)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// ExportSnapshot downloads the whole permission state
func (h *Handlers) ExportSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := MarshalSnapshot(h.service.ExportSnapshot())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteAttachment(w, "application/json", SnapshotFilename(time.Now()), data)
}

// ImportSnapshot replaces the whole permission state
func (h *Handlers) ImportSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBytes))
	if err != nil {
		httputil.WriteBadRequest(w, fmt.Sprintf("failed to read snapshot: %v", err))
		return
	}

	if err := h.service.ImportSnapshot(r.Context(), data); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccessMessage(w, "snapshot imported", map[string]interface{}{
		"users": h.service.Store().Len(),
	})
}

// ResetAll puts every user back on their role default
func (h *Handlers) ResetAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ResetAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"reset": n})
}

// Check answers GET /check?user=&module=&action=
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	userID := httputil.ParseQueryString(r, "user", "")
	if !httputil.RequireNonEmpty(w, userID, "user") {
		return
	}
	p, err := catalog.NewPermission(r.URL.Query().Get("module"), r.URL.Query().Get("action"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"userId":     userID,
		"permission": p,
		"allowed":    h.checker.Check(userID, p.Module, p.Action),
	})
}

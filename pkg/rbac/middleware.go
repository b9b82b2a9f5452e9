package rbac

import (
	"net/http"

	"github.com/schoolwelfare/caseboard/pkg/audit"
	"github.com/schoolwelfare/caseboard/pkg/catalog"
	"github.com/schoolwelfare/caseboard/pkg/contextkeys"
	"github.com/schoolwelfare/caseboard/pkg/httputil"
)

// RequirePermission creates middleware that only lets through requests whose
// X-User-ID holds (module, action)
func RequirePermission(checker *Checker, module catalog.ModuleID, action catalog.ActionID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(audit.HeaderActorID)
			if userID == "" {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !checker.Check(userID, module, action) {
				httputil.WriteForbidden(w, "Insufficient permissions: "+catalog.Permission{Module: module, Action: action}.String())
				return
			}

			ctx := contextkeys.WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

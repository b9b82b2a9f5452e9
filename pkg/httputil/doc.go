// Package httputil holds the JSON response writers, request parsers and
// middleware shared by the caseboard HTTP handlers.
//
// # Responses
//
// Handlers reply through the Write* helpers so every error body has the same
// shape:
//
//	{"error": "user not found: u42"}
//
// Downloads use WriteAttachment:
//
//	httputil.WriteAttachment(w, "text/csv; charset=utf-8", "auditoria-permissoes.csv", data)
//
// # Requests
//
//	var req BulkRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(10<<20),
//	)(router)
package httputil

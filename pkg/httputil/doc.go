// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteBadRequest(w, "q is required")
//	httputil.WriteDetailedError(w, http.StatusBadRequest, "validation failed", details)
//	httputil.WriteInternalError(w)
//
// # Request Parsing
//
//	var req CreateSavedSearchRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 20)
//	lat, ok, err := httputil.ParseQueryFloat(r, "lat")
//	types := httputil.ParseQueryList(r, "types")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil

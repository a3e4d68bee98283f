// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, the error
// envelope, parameter parsing, validation, and common HTTP middleware.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, data)
//
// Error responses wrap the message in the envelope billing frontends read:
//
//	httputil.WriteBadRequest(w, "priceLookupKey is required")
//	// -> {"error":{"message":"priceLookupKey is required"}}
//
// # Request Parsing
//
// JSON parsing:
//
//	var req createSubscriptionRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
// Compose with Chain:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(mux)
package httputil

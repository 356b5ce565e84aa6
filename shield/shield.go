// Package shield holds the HTTP middleware shared by the read-only JSON API.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack() {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// APIStack returns the middleware for a read-only JSON API, outermost first:
// HeadToGet, SecurityHeaders(APIHeaders()), ReadOnly.
func APIStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		ReadOnly,
	}
}

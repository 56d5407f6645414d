// Package requesttime provides middleware that pins one "now" per request.
// All timestamps written while handling a request (status changes, notification
// records, aggregate claims) share the same instant.
package requesttime

import (
	"net/http"
	"time"

	"siraj/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request
// and stores it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/svgforge/internal/api/response"
)

// Recovery turns a handler panic into a 500 with the standard error envelope.
// The envelope carries the request id so a caller can quote it. A panic with
// http.ErrAbortHandler is passed on so net/http drops the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			reqID := chimw.GetReqID(r.Context())
			attrs := []any{
				"error", rec,
				"stack", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", reqID,
			}
			slog.Error("panic recovered", append(attrs, tagsFrom(r.Context()).attrs()...)...)

			var details any
			if reqID != "" {
				details = map[string]string{"request_id": reqID}
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", details)
		}()
		next.ServeHTTP(w, r)
	})
}

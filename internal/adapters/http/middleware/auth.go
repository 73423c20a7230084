package middleware

import (
	"log/slog"
	"net/http"
)

// AdminChecker reports whether instructor mode is on.
// The state store satisfies it; instructor mode is app-wide, not per cookie.
type AdminChecker interface {
	IsAdmin() bool
}

// RequireAdmin returns middleware that blocks requests while instructor mode is off.
// PRE: checker is non-nil
// POST: non-admin requests get 403 and never reach next
func RequireAdmin(checker AdminChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checker.IsAdmin() {
				slog.Info("admin_event", "event", "admin_route_refused", "path", r.URL.Path)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

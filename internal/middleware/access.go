package middleware

import (
	"net/http"

	"github.com/appgarcom/prestador/internal/guard"
	"github.com/appgarcom/prestador/internal/http/respond"
	"github.com/appgarcom/prestador/internal/session"
)

// RequireAccess lets a request through only when the current session is
// settled, signed in and holds the provider role.
func RequireAccess(state func() session.State) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch d := guard.EvaluateState(state()); d {
			case guard.Allowed:
				next.ServeHTTP(w, r)
			case guard.Pending:
				w.Header().Set("Retry-After", "1")
				respond.Retry(w, http.StatusServiceUnavailable, "session is still loading")
			case guard.DeniedNoSession:
				respond.Redirect(w, http.StatusUnauthorized, "sign in required", d.Redirect())
			default:
				respond.Redirect(w, http.StatusForbidden, "provider role required", d.Redirect())
			}
		})
	}
}

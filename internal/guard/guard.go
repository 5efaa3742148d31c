// Package guard decides whether the protected provider surface may be shown.
package guard

import (
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/session"
)

// Decision is the outcome of evaluating a session state.
type Decision int

const (
	Pending Decision = iota
	DeniedNoSession
	DeniedWrongRole
	Allowed
)

func (d Decision) String() string {
	switch d {
	case Pending:
		return "PENDING"
	case DeniedNoSession:
		return "DENIED_NO_SESSION"
	case DeniedWrongRole:
		return "DENIED_WRONG_ROLE"
	case Allowed:
		return "ALLOWED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the decision name.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Redirect is the surface a consumer should navigate to, or "" when the
// decision renders in place.
func (d Decision) Redirect() string {
	switch d {
	case DeniedNoSession:
		return "/login"
	case DeniedWrongRole:
		return "/unauthorized"
	default:
		return ""
	}
}

// Evaluate is total and has no side effects.
func Evaluate(loading bool, user *models.User, role models.Role) Decision {
	switch {
	case loading:
		return Pending
	case user == nil:
		return DeniedNoSession
	case !role.Authorized():
		return DeniedWrongRole
	default:
		return Allowed
	}
}

// EvaluateState is Evaluate over a session state.
func EvaluateState(s session.State) Decision {
	return Evaluate(s.Loading, s.User, s.Role)
}

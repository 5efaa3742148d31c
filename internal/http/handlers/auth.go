package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/appgarcom/prestador/internal/auth"
	"github.com/appgarcom/prestador/internal/guard"
	"github.com/appgarcom/prestador/internal/http/respond"
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/session"
)

// Sessions is the part of the session manager the auth endpoints use.
type Sessions interface {
	State() session.State
	SignIn(ctx context.Context, email, password string) (*models.User, error)
	SignOut(ctx context.Context) error
}

// AuthHandler owns the login, logout and session-state endpoints.
type AuthHandler struct {
	sessions Sessions
	log      *slog.Logger
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(sessions Sessions, log *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, log: log.With("component", "auth-handler")}
}

// Register attaches auth routes to the mux.
func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("POST /logout", h.handleLogout)
	mux.HandleFunc("GET /me", h.handleMe)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	*models.User
	FirstName string `json:"first_name"`
}

// meResponse is the guard's view of the current session.
type meResponse struct {
	User     *userResponse  `json:"user"`
	Role     models.Role    `json:"role"`
	Loading  bool           `json:"loading"`
	Decision guard.Decision `json:"decision"`
	Redirect string         `json:"redirect,omitempty"`
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		respond.Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.sessions.SignIn(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		respond.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	case errors.Is(err, auth.ErrRateLimited):
		respond.Retry(w, http.StatusTooManyRequests, "too many sign-in attempts")
		return
	default:
		h.log.Error("sign in failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to sign in")
		return
	}
	respond.JSON(w, http.StatusOK, "login successful", userResponse{User: user, FirstName: user.FirstName()})
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(r.Context()); err != nil {
		h.log.Error("sign out failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	respond.JSON(w, http.StatusOK, "logout successful", nil)
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, "session state", describe(h.sessions.State()))
}

func describe(st session.State) meResponse {
	d := guard.EvaluateState(st)
	out := meResponse{Role: st.Role, Loading: st.Loading, Decision: d, Redirect: d.Redirect()}
	if st.User != nil {
		out.User = &userResponse{User: st.User, FirstName: st.User.FirstName()}
	}
	return out
}

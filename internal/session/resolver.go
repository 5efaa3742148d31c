package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/storage"
)

// Resolver looks up the authorization role of a user identity. It never
// fails: a missing profile or a store error resolves to RoleUnresolved.
type Resolver struct {
	roles storage.RoleStore
	log   *slog.Logger
}

// NewResolver returns a resolver backed by roles.
func NewResolver(roles storage.RoleStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{roles: roles, log: log.With("component", "role-resolver")}
}

// Resolve returns the role stored for userID.
func (r *Resolver) Resolve(ctx context.Context, userID string) models.Role {
	name, err := r.roles.GetRole(ctx, userID)
	switch {
	case err == nil:
		return models.ParseRole(name)
	case errors.Is(err, storage.ErrNotFound):
		// Just-registered users have no profile yet.
		r.log.Debug("no role record", "user_id", userID)
	default:
		r.log.Error("fetch role failed", "user_id", userID, "error", err)
	}
	return models.RoleUnresolved
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/realtime"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrStale indicates a conditional update matched no rows because the record
// already left the expected state.
var ErrStale = errors.New("record no longer in expected state")

// CredentialStore resolves login credentials.
type CredentialStore interface {
	FindCredential(ctx context.Context, email string) (models.Credential, error)
}

// RoleStore maps a user identity to a stored role name.
type RoleStore interface {
	GetRole(ctx context.Context, userID string) (string, error)
}

// OfferStore holds servicos_realizados records and their insert feed.
type OfferStore interface {
	QueryPending(ctx context.Context, userID string) ([]models.Offer, error)
	GetOffer(ctx context.Context, offerID string) (models.Offer, error)
	// MarkViewed moves the view status ENVIADA -> VISUALIZADA and reports
	// whether a row changed.
	MarkViewed(ctx context.Context, offerID string) (bool, error)
	// UpdateDecision moves an offer out of aguardando_aceite while its
	// response window is open; otherwise it returns ErrStale.
	UpdateDecision(ctx context.Context, offerID string, to models.DecisionStatus) error
	SubscribeInserts(ctx context.Context, userID string) (*realtime.Subscription[models.Offer], error)
	// ExpireStale cancels pending offers whose window closed before now.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

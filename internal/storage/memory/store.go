package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appgarcom/prestador/internal/clock"
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/realtime"
	"github.com/appgarcom/prestador/internal/storage"
)

var (
	_ storage.CredentialStore = (*Store)(nil)
	_ storage.RoleStore       = (*Store)(nil)
	_ storage.OfferStore      = (*Store)(nil)
)

// Store is an in-process implementation of the backing stores. It enforces
// the same conditional-update rules as the Postgres store.
type Store struct {
	mu          sync.RWMutex
	clock       clock.Clock
	window      time.Duration
	credentials map[string]models.Credential // by lower-cased email
	roles       map[string]string
	offers      map[string]models.Offer
	inserts     *realtime.Hub[models.Offer]

	viewWrites     int
	decisionWrites int
	failures       map[string]error
}

// New returns an empty store using c for timestamps and expiry.
func New(c clock.Clock, window time.Duration) *Store {
	if window <= 0 {
		window = models.DefaultResponseWindow
	}
	return &Store{
		clock:       c,
		window:      window,
		credentials: make(map[string]models.Credential),
		roles:       make(map[string]string),
		offers:      make(map[string]models.Offer),
		inserts:     realtime.NewHub[models.Offer](32),
		failures:    make(map[string]error),
	}
}

// Close disconnects every insert subscriber.
func (s *Store) Close() {
	s.inserts.Close()
}

// FailNext makes the next call to the named operation return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) takeFailure(op string) error {
	err, ok := s.failures[op]
	if ok {
		delete(s.failures, op)
	}
	return err
}

// CreateCredential stores a login record, assigning an id when empty.
func (s *Store) CreateCredential(_ context.Context, cred models.Credential) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(cred.User.Email)
	if _, ok := s.credentials[key]; ok {
		return models.Credential{}, storage.ErrAlreadyExists
	}
	if cred.User.ID == "" {
		cred.User.ID = uuid.NewString()
	}
	cred.CreatedAt = s.clock.Now()
	s.credentials[key] = cred
	return cred, nil
}

func (s *Store) FindCredential(_ context.Context, email string) (models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return models.Credential{}, storage.ErrNotFound
	}
	return cred, nil
}

// SetRole assigns a role name to a user.
func (s *Store) SetRole(userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = role
}

func (s *Store) GetRole(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetRole"); err != nil {
		return "", err
	}
	role, ok := s.roles[userID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return role, nil
}

// InsertOffer stores a new offer and publishes it on the insert feed.
// Empty id, status, view status and creation time are filled in.
func (s *Store) InsertOffer(_ context.Context, offer models.Offer) (models.Offer, error) {
	s.mu.Lock()
	if offer.ID == "" {
		offer.ID = uuid.NewString()
	}
	if _, ok := s.offers[offer.ID]; ok {
		s.mu.Unlock()
		return models.Offer{}, storage.ErrAlreadyExists
	}
	if offer.Status == "" {
		offer.Status = models.StatusAwaitingAcceptance
	}
	if offer.ViewStatus == "" {
		offer.ViewStatus = models.ViewSent
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = s.clock.Now()
	}
	s.offers[offer.ID] = offer
	s.mu.Unlock()

	s.inserts.Publish(offer)
	return offer, nil
}

func (s *Store) QueryPending(_ context.Context, userID string) ([]models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("QueryPending"); err != nil {
		return nil, err
	}
	var out []models.Offer
	for _, o := range s.offers {
		if o.ProfessionalID == userID && o.Pending() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetOffer(_ context.Context, offerID string) (models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetOffer"); err != nil {
		return models.Offer{}, err
	}
	o, ok := s.offers[offerID]
	if !ok {
		return models.Offer{}, storage.ErrNotFound
	}
	return o, nil
}

func (s *Store) MarkViewed(_ context.Context, offerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("MarkViewed"); err != nil {
		return false, err
	}
	o, ok := s.offers[offerID]
	if !ok || o.ViewStatus != models.ViewSent {
		return false, nil
	}
	o.ViewStatus = models.ViewViewed
	s.offers[offerID] = o
	s.viewWrites++
	return true, nil
}

func (s *Store) UpdateDecision(_ context.Context, offerID string, to models.DecisionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("UpdateDecision"); err != nil {
		return err
	}
	o, ok := s.offers[offerID]
	if !ok {
		return storage.ErrNotFound
	}
	if !o.Pending() || !s.clock.Now().Before(o.ExpiresAt(s.window)) {
		return storage.ErrStale
	}
	o.Status = to
	s.offers[offerID] = o
	s.decisionWrites++
	return nil
}

func (s *Store) SubscribeInserts(_ context.Context, userID string) (*realtime.Subscription[models.Offer], error) {
	s.mu.Lock()
	err := s.takeFailure("SubscribeInserts")
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inserts.Subscribe(func(o models.Offer) bool {
		return o.ProfessionalID == userID
	}), nil
}

func (s *Store) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, o := range s.offers {
		if o.Pending() && !now.Before(o.ExpiresAt(s.window)) {
			o.Status = models.StatusCancelled
			s.offers[id] = o
			n++
		}
	}
	return n, nil
}

// ViewWrites returns how many view-status writes were persisted.
func (s *Store) ViewWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewWrites
}

// DecisionWrites returns how many decision writes were persisted.
func (s *Store) DecisionWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decisionWrites
}

// InsertSubscribers returns the number of live insert subscriptions.
func (s *Store) InsertSubscribers() int {
	return s.inserts.Len()
}

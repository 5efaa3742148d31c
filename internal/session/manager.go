// Package session owns the authenticated session of a running client and
// the role derived from it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/appgarcom/prestador/internal/auth"
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/realtime"
)

// ErrAlreadyInitialized is returned when Initialize is called twice.
var ErrAlreadyInitialized = errors.New("session manager already initialized")

// State is the authoritative (user, role, loading) triple.
type State struct {
	User    *models.User    `json:"user"`
	Session *models.Session `json:"-"`
	Role    models.Role     `json:"role"`
	Loading bool            `json:"loading"`
}

type eventSource string

const (
	sourceFetch        eventSource = "initial-fetch"
	sourceSubscription eventSource = "subscription"
)

type sessionEvent struct {
	session *models.Session
	source  eventSource
	// failed marks the signed-out fallback for a fetch error. It only
	// settles loading and never overrides a session already applied.
	failed bool
}

// Manager merges the initial session fetch and the gateway change feed into
// a single State. Events are applied one at a time on the manager's own
// goroutine, so a role lookup can never be overwritten by an older one.
// Loading is true until the first event from either source has been fully
// applied and never becomes true again.
type Manager struct {
	gateway  auth.Gateway
	resolver *Resolver
	log      *slog.Logger

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	ready   chan struct{}
	sub     *realtime.Subscription[*models.Session]
	watch   *realtime.Hub[State]

	// Only touched by the run goroutine.
	roleFor string
}

// NewManager returns a manager in the loading state.
func NewManager(gateway auth.Gateway, resolver *Resolver, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		gateway:  gateway,
		resolver: resolver,
		log:      log.With("component", "session-manager"),
		state:    State{Loading: true},
		ready:    make(chan struct{}),
		watch:    realtime.NewLatestHub[State](16),
	}
}

// Initialize subscribes to session changes and fetches the current session
// concurrently. The manager runs until Teardown or until ctx is cancelled.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	sub, err := m.gateway.Subscribe(runCtx)
	if err != nil {
		// The initial fetch still settles the loading phase.
		m.log.Error("subscribe to session changes failed", "error", err)
		sub = nil
	}
	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()

	fetched := make(chan sessionEvent, 1)
	go func() {
		s, err := m.gateway.CurrentSession(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return
			}
			m.log.Error("fetch initial session failed", "error", err)
			fetched <- sessionEvent{source: sourceFetch, failed: true}
			return
		}
		fetched <- sessionEvent{session: s, source: sourceFetch}
	}()

	go m.run(runCtx, fetched, sub)
	return nil
}

func (m *Manager) run(ctx context.Context, fetched <-chan sessionEvent, sub *realtime.Subscription[*models.Session]) {
	defer close(m.done)

	var changes <-chan *models.Session
	if sub != nil {
		changes = sub.Events()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-fetched:
			fetched = nil
			m.apply(ctx, ev)
		case s, ok := <-changes:
			if !ok {
				changes = nil
				if err := sub.Err(); err != nil {
					m.log.Warn("session change feed disconnected", "error", err)
				}
				continue
			}
			m.apply(ctx, sessionEvent{session: s, source: sourceSubscription})
		}
	}
}

func (m *Manager) apply(ctx context.Context, ev sessionEvent) {
	m.mu.Lock()
	role, loading := m.state.Role, m.state.Loading
	m.mu.Unlock()

	if ev.failed && !loading {
		m.log.Debug("ignoring failed fetch after session settled", "source", ev.source)
		return
	}

	var user *models.User
	if ev.session != nil {
		u := ev.session.User
		user = &u
	}

	switch {
	case user == nil:
		role = models.RoleUnresolved
		m.roleFor = ""
	case user.ID != m.roleFor:
		m.log.Debug("resolving role", "user_id", user.ID, "source", ev.source)
		role = m.resolver.Resolve(ctx, user.ID)
		m.roleFor = user.ID
	}

	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	first := m.state.Loading
	m.state = State{User: user, Session: ev.session, Role: role, Loading: false}
	next := m.state
	if first {
		close(m.ready)
	}
	m.mu.Unlock()

	if first {
		m.log.Info("session resolved", "source", ev.source, "signed_in", user != nil, "role", role.String())
	}
	m.watch.Publish(next)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready is closed once loading has finished.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Watch streams state changes, starting with the current state.
func (m *Manager) Watch() *realtime.Subscription[State] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watch.SubscribeWith(nil, m.state)
}

// SignIn forwards to the gateway. The resulting state arrives through the
// change feed.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	return m.gateway.SignIn(ctx, email, password)
}

// SignOut forwards to the gateway.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.gateway.SignOut(ctx)
}

// Teardown cancels the subscription and waits for in-flight work to stop.
// It is safe to call before Initialize and more than once.
func (m *Manager) Teardown() {
	m.mu.Lock()
	cancel, sub, done := m.cancel, m.sub, m.done
	m.mu.Unlock()

	if cancel == nil {
		m.watch.Close()
		return
	}
	cancel()
	if sub != nil {
		sub.Close()
	}
	m.watch.Close()
	<-done
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/appgarcom/prestador/internal/clock"
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/realtime"
	"github.com/appgarcom/prestador/internal/storage"
)

var (
	// ErrInvalidCredentials is returned for an unknown e-mail or a wrong password.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrRateLimited is returned when too many sign-in attempts were made.
	ErrRateLimited = errors.New("too many sign-in attempts")
)

// Gateway is the credential service the session manager consumes.
type Gateway interface {
	// CurrentSession returns the active session, or nil when signed out.
	CurrentSession(ctx context.Context) (*models.Session, error)
	// Subscribe streams session changes. The first event is the current
	// session; later events follow every sign-in and sign-out.
	Subscribe(ctx context.Context) (*realtime.Subscription[*models.Session], error)
	SignIn(ctx context.Context, email, password string) (*models.User, error)
	SignOut(ctx context.Context) error
}

// LocalGateway holds the session of a single running client. Passwords are
// checked against bcrypt hashes and sessions are signed JWTs.
type LocalGateway struct {
	creds   storage.CredentialStore
	tokens  *TokenManager
	limiter Limiter
	clock   clock.Clock
	log     *slog.Logger

	mu      sync.Mutex
	current *models.Session
	expiry  *clock.Timer
	changes *realtime.Hub[*models.Session]
}

var _ Gateway = (*LocalGateway)(nil)

// NewLocalGateway builds a gateway. limiter may be nil and a nil clock
// means the real one.
func NewLocalGateway(creds storage.CredentialStore, tokens *TokenManager, limiter Limiter, clk clock.Clock, log *slog.Logger) *LocalGateway {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &LocalGateway{
		creds:   creds,
		tokens:  tokens,
		limiter: limiter,
		clock:   clk,
		log:     log.With("component", "credential-gateway"),
		changes: realtime.NewHub[*models.Session](8),
	}
}

// CurrentSession re-verifies the held token. A token that no longer verifies
// counts as a sign-out and is announced to subscribers.
func (g *LocalGateway) CurrentSession(ctx context.Context) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validLocked(), nil
}

func (g *LocalGateway) validLocked() *models.Session {
	if g.current == nil {
		return nil
	}
	session, err := g.tokens.Verify(g.current.Token)
	if err == nil && g.current.Expired(g.clock.Now()) {
		err = ErrInvalidToken
	}
	if err != nil {
		g.log.Info("session no longer valid", "user_id", g.current.User.ID, "error", err)
		g.clearLocked()
		return nil
	}
	session.User = g.current.User
	return session
}

func (g *LocalGateway) Subscribe(ctx context.Context) (*realtime.Subscription[*models.Session], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changes.SubscribeWith(nil, g.validLocked()), nil
}

func (g *LocalGateway) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, email)
		if err != nil {
			g.log.Warn("sign-in limiter unavailable", "error", err)
		} else if !allowed {
			return nil, ErrRateLimited
		}
	}

	cred, err := g.creds.FindCredential(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find credential: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	session, err := g.tokens.Issue(cred.User)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.stopExpiryLocked()
	g.current = session
	g.expiry = g.clock.AfterFunc(session.ExpiresAt.Sub(g.clock.Now()), func() { g.expire(session) })
	g.changes.Publish(session)
	g.mu.Unlock()

	g.log.Info("signed in", "user_id", cred.User.ID)
	user := cred.User
	return &user, nil
}

func (g *LocalGateway) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return nil
	}
	g.log.Info("signed out", "user_id", g.current.User.ID)
	g.clearLocked()
	return nil
}

// expire ends s once its lifetime has passed, unless it was already
// replaced or signed out.
func (g *LocalGateway) expire(s *models.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != s || !s.Expired(g.clock.Now()) {
		return
	}
	g.log.Info("session expired", "user_id", s.User.ID, "expires_at", s.ExpiresAt)
	g.clearLocked()
}

func (g *LocalGateway) clearLocked() {
	g.stopExpiryLocked()
	g.current = nil
	g.changes.Publish(nil)
}

func (g *LocalGateway) stopExpiryLocked() {
	if g.expiry != nil {
		g.expiry.Stop()
		g.expiry = nil
	}
}

// Close disconnects every session subscriber.
func (g *LocalGateway) Close() {
	g.mu.Lock()
	g.stopExpiryLocked()
	g.mu.Unlock()
	g.changes.Close()
}

// HashPassword returns the bcrypt hash stored for a new credential.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

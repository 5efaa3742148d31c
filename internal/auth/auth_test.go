package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/appgarcom/prestador/internal/clock"
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/storage/memory"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", "prestador-test", time.Hour)
	user := models.User{ID: "u-1", Email: "ana@example.com", DisplayName: "Ana Souza"}

	session, err := tm.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := tm.Verify(session.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.User != user {
		t.Fatalf("user = %+v, want %+v", got.User, user)
	}
	if !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Fatalf("expiry = %v, want %v", got.ExpiresAt, session.ExpiresAt)
	}
}

func TestTokenRejectsExpiredAndForeign(t *testing.T) {
	tm := NewTokenManager("secret", "prestador-test", time.Minute)
	session, err := tm.Issue(models.User{ID: "u-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tm.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := tm.Verify(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: err = %v, want ErrInvalidToken", err)
	}

	other := NewTokenManager("other-secret", "prestador-test", time.Minute)
	if _, err := other.Verify(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign token: err = %v, want ErrInvalidToken", err)
	}
}

type stubLimiter struct {
	allow bool
	err   error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.allow, s.err }

func newGateway(t *testing.T, limiter Limiter) (*LocalGateway, models.User) {
	t.Helper()
	return newGatewayWithClock(t, limiter, clock.Real())
}

func newGatewayWithClock(t *testing.T, limiter Limiter, clk clock.Clock) (*LocalGateway, models.User) {
	t.Helper()
	store := memory.New(clk, 0)
	hash, err := HashPassword("Senha!123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cred, err := store.CreateCredential(context.Background(), models.Credential{
		User:         models.User{Email: "ana@example.com", DisplayName: "Ana"},
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewLocalGateway(store, NewTokenManager("secret", "prestador-test", time.Hour).WithClock(clk), limiter, clk, log)
	t.Cleanup(g.Close)
	return g, cred.User
}

func nextSession(t *testing.T, events <-chan *models.Session) *models.Session {
	t.Helper()
	select {
	case s := <-events:
		return s
	case <-time.After(time.Second):
		t.Fatal("no session event")
		return nil
	}
}

func TestGatewaySubscribeSeesSignInAndSignOut(t *testing.T) {
	ctx := context.Background()
	g, user := newGateway(t, nil)

	sub, err := g.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if s := nextSession(t, sub.Events()); s != nil {
		t.Fatalf("initial event = %+v, want nil session", s)
	}

	signedIn, err := g.SignIn(ctx, "ANA@example.com", "Senha!123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if signedIn.ID != user.ID {
		t.Fatalf("signed in as %q, want %q", signedIn.ID, user.ID)
	}
	if s := nextSession(t, sub.Events()); s == nil || s.User.ID != user.ID {
		t.Fatalf("sign-in event = %+v", s)
	}

	current, err := g.CurrentSession(ctx)
	if err != nil || current == nil {
		t.Fatalf("CurrentSession = %v, %v", current, err)
	}

	if err := g.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if s := nextSession(t, sub.Events()); s != nil {
		t.Fatalf("sign-out event = %+v, want nil", s)
	}
}

func TestGatewayRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t, nil)

	cases := []struct {
		name, email, password string
	}{
		{"wrong password", "ana@example.com", "nope"},
		{"unknown email", "bia@example.com", "Senha!123"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := g.SignIn(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestGatewayLimiter(t *testing.T) {
	ctx := context.Background()

	g, _ := newGateway(t, stubLimiter{allow: false})
	if _, err := g.SignIn(ctx, "ana@example.com", "Senha!123"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	open, _ := newGateway(t, stubLimiter{err: errors.New("redis down")})
	if _, err := open.SignIn(ctx, "ana@example.com", "Senha!123"); err != nil {
		t.Fatalf("limiter failure should fail open, got %v", err)
	}
}

func TestGatewayAnnouncesSessionExpiry(t *testing.T) {
	ctx := context.Background()
	fc := clock.Fake(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	g, user := newGatewayWithClock(t, nil, fc)

	sub, err := g.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	if s := nextSession(t, sub.Events()); s != nil {
		t.Fatalf("initial event = %+v, want nil session", s)
	}

	if _, err := g.SignIn(ctx, "ana@example.com", "Senha!123"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if s := nextSession(t, sub.Events()); s == nil || s.User.ID != user.ID {
		t.Fatalf("sign-in event = %+v", s)
	}

	fc.Advance(59 * time.Minute)
	select {
	case s := <-sub.Events():
		t.Fatalf("event before expiry: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}

	fc.Advance(time.Minute)
	if s := nextSession(t, sub.Events()); s != nil {
		t.Fatalf("expiry event = %+v, want nil session", s)
	}
	current, err := g.CurrentSession(ctx)
	if err != nil || current != nil {
		t.Fatalf("CurrentSession after expiry = %+v, %v", current, err)
	}
}

func TestGatewaySignOutCancelsExpiry(t *testing.T) {
	ctx := context.Background()
	fc := clock.Fake(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	g, _ := newGatewayWithClock(t, nil, fc)

	if _, err := g.SignIn(ctx, "ana@example.com", "Senha!123"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := g.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	sub, err := g.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	if s := nextSession(t, sub.Events()); s != nil {
		t.Fatalf("initial event = %+v, want nil session", s)
	}

	fc.Advance(2 * time.Hour)
	select {
	case s := <-sub.Events():
		t.Fatalf("signed-out gateway announced %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

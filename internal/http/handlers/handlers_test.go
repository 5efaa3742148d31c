package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/appgarcom/prestador/internal/auth"
	"github.com/appgarcom/prestador/internal/clock"
	"github.com/appgarcom/prestador/internal/http/respond"
	"github.com/appgarcom/prestador/internal/middleware"
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/offers"
	"github.com/appgarcom/prestador/internal/realtime"
	"github.com/appgarcom/prestador/internal/session"
	"github.com/appgarcom/prestador/internal/storage/memory"
)

var provider = &models.User{ID: "u-1", Email: "ana@example.com", DisplayName: "Ana Souza"}

type fakeSessions struct {
	mu      sync.Mutex
	state   session.State
	signIn  error
	changes *realtime.Hub[session.State]
}

func newFakeSessions(st session.State) *fakeSessions {
	return &fakeSessions{state: st, changes: realtime.NewHub[session.State](8)}
}

func (f *fakeSessions) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSessions) set(st session.State) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
	f.changes.Publish(st)
}

func (f *fakeSessions) SignIn(_ context.Context, email, _ string) (*models.User, error) {
	if f.signIn != nil {
		return nil, f.signIn
	}
	u := *provider
	u.Email = email
	f.set(session.State{User: &u, Role: models.RoleProvider})
	return &u, nil
}

func (f *fakeSessions) SignOut(context.Context) error {
	f.set(session.State{})
	return nil
}

func (f *fakeSessions) Watch() *realtime.Subscription[session.State] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changes.SubscribeWith(nil, f.state)
}

type bridge struct {
	sessions *fakeSessions
	store    *memory.Store
	ctrl     *offers.Controller
	notes    *offers.Broadcaster
	srv      *httptest.Server
}

var bridgeEpoch = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func newBridge(t *testing.T, st session.State) *bridge {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := clock.Fake(bridgeEpoch)
	store := memory.New(fc, 0)
	notes := offers.NewBroadcaster(16)
	ctrl := offers.NewController(store, notes, offers.Options{Clock: fc, Logger: log})
	sessions := newFakeSessions(st)
	if st.User != nil {
		if err := ctrl.Attach(context.Background(), st.User.ID); err != nil {
			t.Fatalf("Attach: %v", err)
		}
	}

	ready := make(chan struct{})
	close(ready)
	protect := middleware.RequireAccess(sessions.State)
	mux := http.NewServeMux()
	NewHealthHandler(fc.Now(), ready).Register(mux)
	NewAuthHandler(sessions, log).Register(mux)
	NewOffersHandler(ctrl, protect, log).Register(mux)
	NewStreamHandler(notes, sessions, ctrl, nil, protect, fc, log).Register(mux)
	srv := httptest.NewServer(middleware.Logging(log)(mux))

	t.Cleanup(func() {
		srv.Close()
		ctrl.Close()
		notes.Close()
		store.Close()
	})
	return &bridge{sessions: sessions, store: store, ctrl: ctrl, notes: notes, srv: srv}
}

func (b *bridge) do(t *testing.T, method, path string, body any) (int, respond.Envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, b.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env respond.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp.StatusCode, env
}

func (b *bridge) insert(t *testing.T) models.Offer {
	t.Helper()
	offer, err := b.store.InsertOffer(context.Background(), models.Offer{ProfessionalID: provider.ID, StartTime: "18:00", EndTime: "22:00"})
	if err != nil {
		t.Fatalf("InsertOffer: %v", err)
	}
	return offer
}

func signedIn() session.State {
	return session.State{User: provider, Role: models.RoleProvider}
}

func TestHealth(t *testing.T) {
	b := newBridge(t, session.State{Loading: true})
	status, env := b.do(t, http.MethodGet, "/health", nil)
	if status != http.StatusOK || env.Message != "ok" {
		t.Fatalf("health = %d %+v", status, env)
	}
}

func TestLogin(t *testing.T) {
	b := newBridge(t, session.State{})

	status, env := b.do(t, http.MethodPost, "/login", map[string]string{"email": "ana@example.com", "password": "x"})
	if status != http.StatusOK {
		t.Fatalf("login = %d %+v", status, env)
	}
	data, _ := env.Data.(map[string]any)
	if data["first_name"] != "Ana" {
		t.Fatalf("login data = %+v", env.Data)
	}

	if status, _ := b.do(t, http.MethodPost, "/login", map[string]string{"email": "ana@example.com"}); status != http.StatusBadRequest {
		t.Fatalf("missing password = %d", status)
	}

	cases := []struct {
		err  error
		want int
	}{
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{auth.ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		b.sessions.signIn = tc.err
		status, _ := b.do(t, http.MethodPost, "/login", map[string]string{"email": "ana@example.com", "password": "x"})
		if status != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, status, tc.want)
		}
	}
}

func TestMeReportsGuardDecision(t *testing.T) {
	cases := []struct {
		name     string
		state    session.State
		decision string
		redirect string
	}{
		{"loading", session.State{Loading: true}, "PENDING", ""},
		{"signed out", session.State{}, "DENIED_NO_SESSION", "/login"},
		{"contractor", session.State{User: provider, Role: models.RoleContractor}, "DENIED_WRONG_ROLE", "/unauthorized"},
		{"provider", signedIn(), "ALLOWED", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBridge(t, session.State{})
			b.sessions.set(tc.state)
			_, env := b.do(t, http.MethodGet, "/me", nil)
			data, _ := env.Data.(map[string]any)
			if data["decision"] != tc.decision {
				t.Fatalf("decision = %v, want %s", data["decision"], tc.decision)
			}
			if got, _ := data["redirect"].(string); got != tc.redirect {
				t.Fatalf("redirect = %q, want %q", got, tc.redirect)
			}
		})
	}
}

func TestOffersRequireAccess(t *testing.T) {
	cases := []struct {
		name  string
		state session.State
		want  int
	}{
		{"loading", session.State{Loading: true}, http.StatusServiceUnavailable},
		{"signed out", session.State{}, http.StatusUnauthorized},
		{"contractor", session.State{User: provider, Role: models.RoleContractor}, http.StatusForbidden},
		{"provider", signedIn(), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBridge(t, tc.state)
			if status, _ := b.do(t, http.MethodGet, "/offers", nil); status != tc.want {
				t.Fatalf("status = %d, want %d", status, tc.want)
			}
		})
	}
}

func TestOfferViewAndDecide(t *testing.T) {
	b := newBridge(t, signedIn())
	offer := b.insert(t)

	status, env := b.do(t, http.MethodGet, "/offers/"+offer.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("view = %d %+v", status, env)
	}
	if data, _ := env.Data.(map[string]any); data["status_visualizacao_prestador"] != string(models.ViewViewed) {
		t.Fatalf("view data = %+v", env.Data)
	}
	if status, _ := b.do(t, http.MethodGet, "/offers/missing", nil); status != http.StatusNotFound {
		t.Fatalf("missing = %d", status)
	}

	if status, env := b.do(t, http.MethodPost, "/offers/"+offer.ID+"/decline", nil); status != http.StatusOK {
		t.Fatalf("decline = %d %+v", status, env)
	}
	if status, _ := b.do(t, http.MethodPost, "/offers/"+offer.ID+"/accept", nil); status != http.StatusConflict {
		t.Fatalf("accept after decline = %d, want 409", status)
	}

	other := b.insert(t)
	b.store.FailNext("UpdateDecision", errors.New("connection reset"))
	status, env = b.do(t, http.MethodPost, "/offers/"+other.ID+"/accept", nil)
	if status != http.StatusBadGateway || !env.Retryable {
		t.Fatalf("transport failure = %d %+v", status, env)
	}
}

func TestReloadRetriesSnapshot(t *testing.T) {
	b := newBridge(t, session.State{})
	b.sessions.set(signedIn())
	offer := b.insert(t)
	b.store.FailNext("QueryPending", errors.New("timeout"))
	if err := b.ctrl.Attach(context.Background(), provider.ID); err == nil {
		t.Fatal("expected snapshot failure")
	}

	b.store.FailNext("QueryPending", errors.New("timeout"))
	status, env := b.do(t, http.MethodPost, "/offers/reload", nil)
	if status != http.StatusBadGateway || !env.Retryable {
		t.Fatalf("failing reload = %d %+v", status, env)
	}

	status, env = b.do(t, http.MethodPost, "/offers/reload", nil)
	if status != http.StatusOK {
		t.Fatalf("reload = %d %+v", status, env)
	}
	list, _ := env.Data.([]any)
	if len(list) != 1 || list[0].(map[string]any)["id"] != offer.ID {
		t.Fatalf("reload data = %+v", env.Data)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	b := newBridge(t, signedIn())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(b.srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	seen := map[string]bool{}
	for !seen["session"] || !seen["pending"] {
		var ev streamEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read initial: %v", err)
		}
		if !ev.At.Equal(bridgeEpoch) {
			t.Fatalf("%s event at %v, want %v", ev.Type, ev.At, bridgeEpoch)
		}
		seen[ev.Type] = true
	}

	b.insert(t)
	for {
		var ev struct {
			Type string              `json:"type"`
			Data models.Notification `json:"data"`
		}
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type == "notification" {
			if ev.Data.Kind != models.NotifyNewOffer {
				t.Fatalf("notification kind = %s", ev.Data.Kind)
			}
			return
		}
	}
}

func TestStreamRejectsSignedOut(t *testing.T) {
	b := newBridge(t, session.State{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(b.srv.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}
}

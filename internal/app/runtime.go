// Package app wires the session manager, the access guard and the offer
// controller into one running client.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/appgarcom/prestador/internal/clock"
	"github.com/appgarcom/prestador/internal/guard"
	"github.com/appgarcom/prestador/internal/offers"
	"github.com/appgarcom/prestador/internal/session"
)

// Sweeper cancels offers whose response window has closed.
type Sweeper interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// Options configures a Runtime.
type Options struct {
	Clock         clock.Clock
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// Runtime keeps the offer feed attached exactly while the guard allows the
// current user through.
type Runtime struct {
	manager *session.Manager
	offers  *offers.Controller
	sweeper Sweeper
	clock   clock.Clock
	every   time.Duration
	log     *slog.Logger
}

// NewRuntime returns a runtime. A non-positive sweep interval turns the
// expiry ticker off. A nil sweeper skips the store sweep but the local
// projection is still pruned.
func NewRuntime(manager *session.Manager, ctrl *offers.Controller, sweeper Sweeper, opts Options) *Runtime {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runtime{
		manager: manager,
		offers:  ctrl,
		sweeper: sweeper,
		clock:   opts.Clock,
		every:   opts.SweepInterval,
		log:     opts.Logger.With("component", "runtime"),
	}
}

// Run initializes the session manager and reacts to its state until ctx is
// cancelled. On return the offer controller is closed and the manager torn
// down.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.manager.Initialize(ctx); err != nil {
		return err
	}
	states := r.manager.Watch()
	var ticks <-chan time.Time
	if r.every > 0 {
		ticker := r.clock.NewTicker(r.every)
		defer ticker.Stop()
		ticks = ticker.C
	}
	defer func() {
		states.Close()
		r.offers.Close()
		r.manager.Teardown()
		r.log.Info("runtime stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states.Events():
			if !ok {
				return states.Err()
			}
			r.reconcile(ctx, st)
		case <-ticks:
			r.sweep(ctx)
		}
	}
}

func (r *Runtime) reconcile(ctx context.Context, st session.State) {
	decision := guard.EvaluateState(st)
	if decision != guard.Allowed {
		if r.offers.AttachedTo() != "" {
			r.log.Info("detaching offer feed", "decision", decision.String())
		}
		r.offers.Detach()
		return
	}
	if r.offers.AttachedTo() == st.User.ID {
		r.reseed(ctx)
		return
	}
	if err := r.offers.Attach(ctx, st.User.ID); err != nil {
		r.log.Error("attach offer feed failed", "user_id", st.User.ID, "error", err)
	}
}

// reseed retries the pending snapshot while the attached feed has none.
func (r *Runtime) reseed(ctx context.Context) {
	if r.offers.AttachedTo() == "" || r.offers.Seeded() {
		return
	}
	if err := r.offers.Reload(ctx); err != nil {
		r.log.Warn("reload pending offers failed", "error", err)
		return
	}
	r.log.Info("pending offers reloaded")
}

func (r *Runtime) sweep(ctx context.Context) {
	if r.sweeper != nil {
		n, err := r.sweeper.ExpireStale(ctx, r.clock.Now())
		switch {
		case err != nil:
			r.log.Warn("expire stale offers failed", "error", err)
		case n > 0:
			r.log.Info("expired stale offers", "count", n)
		}
	}
	r.offers.Prune()
	r.reseed(ctx)
}

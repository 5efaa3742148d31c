// Package offers tracks the job offers addressed to the signed-in provider
// and drives their view and decision transitions.
package offers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/appgarcom/prestador/internal/clock"
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/realtime"
	"github.com/appgarcom/prestador/internal/storage"
)

// Controller keeps the pending set of one provider in sync with the offer
// store. The store is the source of truth: the pending set is a projection
// that is reconciled after every feed event and local mutation.
//
// Every attach starts a new generation. Results of work started under an
// older generation, or after Close, are dropped instead of applied.
type Controller struct {
	store  storage.OfferStore
	notify Notifier
	clock  clock.Clock
	window time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	gen      uint64
	userID   string
	sub      *realtime.Subscription[models.Offer]
	pending  map[string]models.Offer
	answered map[string]struct{}
	seeded   bool
	closed   bool
	drains   sync.WaitGroup

	pubMu   sync.Mutex
	changes *realtime.Hub[[]models.Offer]
}

// Options configures a Controller.
type Options struct {
	Clock  clock.Clock
	Window time.Duration
	Logger *slog.Logger
}

// NewController returns a detached controller.
func NewController(store storage.OfferStore, notify Notifier, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Window <= 0 {
		opts.Window = models.DefaultResponseWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if notify == nil {
		notify = NotifierFunc(func(models.Notification) {})
	}
	return &Controller{
		store:   store,
		notify:  notify,
		clock:   opts.Clock,
		window:  opts.Window,
		log:     opts.Logger.With("component", "offer-controller"),
		pending: make(map[string]models.Offer),
		changes: realtime.NewLatestHub[[]models.Offer](16),
	}
}

// Attach subscribes to offers inserted for userID and seeds the pending set
// from a snapshot. Any previous attachment is released first, so attaching
// again never leaves two feeds open. If the snapshot fails the feed stays
// attached and the error is returned.
func (c *Controller) Attach(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("attach: %w", ErrDetached)
	}
	c.Detach()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.userID = userID
	c.seeded = false
	c.answered = make(map[string]struct{})
	c.mu.Unlock()

	sub, err := c.store.SubscribeInserts(ctx, userID)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.userID = ""
		}
		c.mu.Unlock()
		c.log.Error("subscribe to offer inserts failed", "user_id", userID, "error", err)
		return &TransportError{Op: "subscribe", Err: err}
	}

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		sub.Close()
		return ErrDetached
	}
	c.sub = sub
	c.drains.Add(1)
	c.mu.Unlock()

	go c.drain(gen, sub)
	c.log.Info("attached", "user_id", userID)

	return c.LoadInitialPending(ctx, userID)
}

// Detach releases the insert feed and clears the pending set.
func (c *Controller) Detach() {
	c.mu.Lock()
	sub, userID := c.sub, c.userID
	c.gen++
	c.sub = nil
	c.userID = ""
	c.seeded = false
	c.answered = nil
	cleared := len(c.pending) > 0
	c.pending = make(map[string]models.Offer)
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
		c.log.Info("detached", "user_id", userID)
	}
	if cleared {
		c.publishPending()
	}
}

// Close detaches and waits for the feed goroutine to exit. Later calls to
// any operation return ErrClosed or are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Detach()
	c.drains.Wait()
	c.changes.Close()
}

func (c *Controller) drain(gen uint64, sub *realtime.Subscription[models.Offer]) {
	defer c.drains.Done()
	for offer := range sub.Events() {
		c.admit(gen, offer, true)
	}
	if err := sub.Err(); err != nil {
		c.mu.Lock()
		if c.gen == gen && c.sub == sub {
			c.sub = nil
		}
		c.mu.Unlock()
		c.log.Warn("offer feed disconnected", "error", err)
	}
}

// admit adds a pending offer to the set unless it is already there or was
// answered during this attachment.
func (c *Controller) admit(gen uint64, offer models.Offer, fromFeed bool) bool {
	c.mu.Lock()
	if c.gen != gen || c.closed || offer.ProfessionalID != c.userID || !offer.Pending() {
		c.mu.Unlock()
		return false
	}
	if _, done := c.answered[offer.ID]; done {
		c.mu.Unlock()
		return false
	}
	if _, dup := c.pending[offer.ID]; dup {
		c.mu.Unlock()
		return false
	}
	c.pending[offer.ID] = offer
	c.mu.Unlock()

	c.publishPending()
	if fromFeed {
		c.notify.Notify(models.Notification{
			Kind:    models.NotifyNewOffer,
			OfferID: offer.ID,
			Message: msgNewOffer,
			At:      c.clock.Now(),
		})
	}
	return true
}

// LoadInitialPending seeds the pending set with the offers that were
// already awaiting acceptance when the feed was attached.
func (c *Controller) LoadInitialPending(ctx context.Context, userID string) error {
	c.mu.Lock()
	gen, current := c.gen, c.userID
	c.mu.Unlock()
	if current == "" || current != userID {
		return ErrDetached
	}

	offers, err := c.store.QueryPending(ctx, userID)
	if err != nil {
		c.log.Error("load pending offers failed", "user_id", userID, "error", err)
		c.emit(gen, models.Notification{Kind: models.NotifyError, Message: msgPendingFailed, Retryable: true})
		return &TransportError{Op: "load pending", Err: err}
	}
	added := 0
	for _, offer := range offers {
		if c.admit(gen, offer, false) {
			added++
		}
	}
	c.mu.Lock()
	if c.gen == gen {
		c.seeded = true
	}
	c.mu.Unlock()
	c.log.Debug("pending offers loaded", "user_id", userID, "returned", len(offers), "added", added)
	return nil
}

// Seeded reports whether the snapshot for the current attachment has loaded.
func (c *Controller) Seeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seeded
}

// Reload re-reads the pending snapshot for the attached provider.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	userID, closed := c.userID, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.LoadInitialPending(ctx, userID)
}

// ViewOffer fetches an offer and marks it VISUALIZADA if this is its first
// read. Concurrent viewers may both attempt the write; the conditional
// update lets only one of them change the row.
func (c *Controller) ViewOffer(ctx context.Context, offerID string) (models.Offer, error) {
	c.mu.Lock()
	gen, userID, closed := c.gen, c.userID, c.closed
	c.mu.Unlock()
	if closed {
		return models.Offer{}, ErrClosed
	}
	if userID == "" {
		return models.Offer{}, fmt.Errorf("view offer %s: %w", offerID, ErrDetached)
	}

	offer, err := c.store.GetOffer(ctx, offerID)
	if err != nil {
		c.emit(gen, models.Notification{Kind: models.NotifyError, OfferID: offerID, Message: msgLoadFailed, Retryable: !errors.Is(err, storage.ErrNotFound)})
		if errors.Is(err, storage.ErrNotFound) {
			return models.Offer{}, fmt.Errorf("view offer %s: %w", offerID, ErrOfferNotFound)
		}
		c.log.Error("fetch offer failed", "offer_id", offerID, "error", err)
		return models.Offer{}, &TransportError{Op: "view", OfferID: offerID, Err: err}
	}
	if offer.ProfessionalID != userID {
		c.emit(gen, models.Notification{Kind: models.NotifyError, OfferID: offerID, Message: msgLoadFailed})
		return models.Offer{}, fmt.Errorf("view offer %s: %w", offerID, ErrOfferNotFound)
	}
	if offer.ViewStatus != models.ViewSent {
		return offer, nil
	}

	if _, err := c.store.MarkViewed(ctx, offerID); err != nil {
		c.log.Warn("mark offer viewed failed", "offer_id", offerID, "error", err)
		return offer, &TransportError{Op: "mark viewed", OfferID: offerID, Err: err}
	}
	// Whether this call or a concurrent one wrote it, the row has left ENVIADA.
	offer.ViewStatus = models.ViewViewed

	c.mu.Lock()
	updated := false
	if c.gen == gen && !c.closed {
		if p, ok := c.pending[offerID]; ok {
			p.ViewStatus = models.ViewViewed
			c.pending[offerID] = p
			updated = true
		}
	}
	c.mu.Unlock()
	if updated {
		c.publishPending()
	}
	return offer, nil
}

// Decide accepts or declines an offer. The store applies the update only
// while the offer is still awaiting acceptance and inside its response
// window; otherwise ErrOfferStale is returned and nothing is retried.
func (c *Controller) Decide(ctx context.Context, offerID string, decision models.Decision) error {
	if decision != models.Accept && decision != models.Decline {
		return fmt.Errorf("decide offer %s: invalid decision %d", offerID, decision)
	}

	c.mu.Lock()
	gen, userID, closed := c.gen, c.userID, c.closed
	_, known := c.pending[offerID]
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if userID == "" {
		return ErrDetached
	}

	if !known {
		offer, err := c.store.GetOffer(ctx, offerID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.settle(gen, offerID)
			c.emit(gen, models.Notification{Kind: models.NotifyUnavailable, OfferID: offerID, Message: msgUnavailable})
			return fmt.Errorf("decide offer %s: %w", offerID, ErrOfferStale)
		case err != nil:
			return c.decideFailed(gen, offerID, decision, err)
		case offer.ProfessionalID != userID:
			return fmt.Errorf("decide offer %s: %w", offerID, ErrOfferNotFound)
		}
	}

	err := c.store.UpdateDecision(ctx, offerID, decision.Target())
	switch {
	case err == nil:
		c.settle(gen, offerID)
		msg := msgAccepted
		if decision == models.Decline {
			msg = msgDeclined
		}
		c.emit(gen, models.Notification{Kind: models.NotifySuccess, OfferID: offerID, Message: msg})
		c.log.Info("offer answered", "offer_id", offerID, "decision", decision.String())
		return nil

	case errors.Is(err, storage.ErrStale), errors.Is(err, storage.ErrNotFound):
		c.settle(gen, offerID)
		c.emit(gen, models.Notification{Kind: models.NotifyUnavailable, OfferID: offerID, Message: msgUnavailable})
		c.log.Info("offer no longer available", "offer_id", offerID, "decision", decision.String())
		return fmt.Errorf("decide offer %s: %w: %w", offerID, ErrOfferStale, err)

	default:
		return c.decideFailed(gen, offerID, decision, err)
	}
}

func (c *Controller) decideFailed(gen uint64, offerID string, decision models.Decision, err error) error {
	msg := msgAcceptFailed
	if decision == models.Decline {
		msg = msgDeclineFailed
	}
	c.emit(gen, models.Notification{Kind: models.NotifyError, OfferID: offerID, Message: msg, Retryable: true})
	c.log.Error("decide offer failed", "offer_id", offerID, "decision", decision.String(), "error", err)
	return &TransportError{Op: "decide", OfferID: offerID, Err: err}
}

// settle removes an offer that has left aguardando_aceite and remembers it so
// a late snapshot or feed echo cannot bring it back.
func (c *Controller) settle(gen uint64, offerID string) {
	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	_, had := c.pending[offerID]
	delete(c.pending, offerID)
	if c.answered != nil {
		c.answered[offerID] = struct{}{}
	}
	c.mu.Unlock()
	if had {
		c.publishPending()
	}
}

// emit notifies unless the attachment that started the work is gone.
func (c *Controller) emit(gen uint64, n models.Notification) {
	c.mu.Lock()
	stale := c.gen != gen || c.closed
	c.mu.Unlock()
	if stale {
		return
	}
	if n.At.IsZero() {
		n.At = c.clock.Now()
	}
	c.notify.Notify(n)
}

// Prune drops offers whose response window has closed. The store still
// decides expiry; this only keeps the projection from showing offers that
// can no longer be answered.
func (c *Controller) Prune() int {
	now := c.clock.Now()
	c.mu.Lock()
	removed := 0
	for id, offer := range c.pending {
		if !now.Before(offer.ExpiresAt(c.window)) {
			delete(c.pending, id)
			removed++
		}
	}
	c.mu.Unlock()
	if removed > 0 {
		c.publishPending()
		c.log.Debug("pruned expired offers", "count", removed)
	}
	return removed
}

// Pending returns the pending offers, oldest first.
func (c *Controller) Pending() []models.Offer {
	c.mu.Lock()
	out := make([]models.Offer, 0, len(c.pending))
	for _, offer := range c.pending {
		out = append(out, offer)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AttachedTo returns the provider whose feed is live, or "" when detached or
// after the feed dropped.
func (c *Controller) AttachedTo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return ""
	}
	return c.userID
}

// Watch streams pending-set snapshots, starting with the current one.
func (c *Controller) Watch() *realtime.Subscription[[]models.Offer] {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.changes.SubscribeWith(nil, c.Pending())
}

func (c *Controller) publishPending() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.changes.Publish(c.Pending())
}

package realtime

import "sync"

// Hub fans published values out to filtered subscribers. Values are
// delivered to each subscriber in publish order.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]func(T) bool
	buffer int
	latest bool
	closed bool
}

// NewHub returns a hub whose subscriptions buffer up to buffer events.
func NewHub[T any](buffer int) *Hub[T] {
	return &Hub[T]{
		subs:   make(map[*Subscription[T]]func(T) bool),
		buffer: buffer,
	}
}

// NewLatestHub returns a hub whose subscribers keep only the most recent
// buffer events, so a slow subscriber never holds up Publish.
func NewLatestHub[T any](buffer int) *Hub[T] {
	h := NewHub[T](buffer)
	h.latest = true
	return h
}

// Subscribe registers a subscriber for values accepted by match. A nil match
// accepts everything.
func (h *Hub[T]) Subscribe(match func(T) bool) *Subscription[T] {
	return h.subscribe(match, nil)
}

// SubscribeWith registers a subscriber whose first event is initial.
// No published value can be delivered ahead of it.
func (h *Hub[T]) SubscribeWith(match func(T) bool, initial T) *Subscription[T] {
	return h.subscribe(match, &initial)
}

func (h *Hub[T]) subscribe(match func(T) bool, initial *T) *Subscription[T] {
	var sub *Subscription[T]
	onClose := func() { h.remove(sub) }
	if h.latest {
		sub = NewLatestSubscription[T](h.buffer, onClose)
	} else {
		sub = NewSubscription[T](h.buffer, onClose)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.Fail(ErrClosed)
		return sub
	}
	defer h.mu.Unlock()
	if initial != nil {
		sub.offer(*initial)
	}
	if match == nil {
		match = func(T) bool { return true }
	}
	h.subs[sub] = match
	return sub
}

// Publish delivers v to every matching subscriber and returns how many
// accepted it.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for sub, match := range h.subs {
		if !match(v) {
			continue
		}
		if sub.Send(v) {
			delivered++
		}
	}
	return delivered
}

// Len returns the number of live subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription with ErrClosed and rejects new ones.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription[T], 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Fail(ErrClosed)
	}
}

func (h *Hub[T]) remove(sub *Subscription[T]) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

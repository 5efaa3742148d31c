// Package realtime provides typed, cancellable event streams used for the
// session change feed and the offer insert feed.
package realtime

import (
	"errors"
	"sync"
)

// ErrClosed is recorded when a hub shuts down its subscribers.
var ErrClosed = errors.New("realtime: feed closed")

// Subscription is a stream of events of type T. The producer delivers with
// Send and reports a disconnect with Fail; the consumer drains Events and
// calls Close when it no longer wants events. Events is closed once the
// subscription ends, whichever side ended it.
type Subscription[T any] struct {
	events  chan T
	done    chan struct{}
	once    sync.Once
	onClose func()

	sendMu sync.Mutex
	closed bool
	// latest makes Send drop the oldest buffered event instead of waiting.
	latest bool

	errMu sync.Mutex
	err   error
}

// NewSubscription returns a subscription with the given event buffer.
// onClose, if non-nil, runs once when the subscription ends.
func NewSubscription[T any](buffer int, onClose func()) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscription[T]{
		events:  make(chan T, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// NewLatestSubscription returns a subscription whose Send never waits: when
// the buffer is full the oldest event is discarded. Suited to consumers that
// only need the most recent snapshots.
func NewLatestSubscription[T any](buffer int, onClose func()) *Subscription[T] {
	s := NewSubscription[T](buffer, onClose)
	s.latest = true
	return s
}

// Events returns the receive side of the stream.
func (s *Subscription[T]) Events() <-chan T {
	return s.events
}

// Done is closed when the subscription ends.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Err returns the disconnect cause, or nil if the subscription is live or
// was closed by its consumer.
func (s *Subscription[T]) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Send delivers v, blocking while the buffer is full unless the subscription
// keeps only the latest events. It reports false once the subscription has
// ended.
func (s *Subscription[T]) Send(v T) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	if s.latest {
		for {
			select {
			case s.events <- v:
				return true
			default:
			}
			select {
			case <-s.events:
			default:
			}
		}
	}
	select {
	case s.events <- v:
		return true
	case <-s.done:
		return false
	}
}

// Close ends the subscription. Safe to call more than once and from any
// goroutine.
func (s *Subscription[T]) Close() {
	s.finish(nil)
}

// Fail ends the subscription and records err as the cause.
func (s *Subscription[T]) Fail(err error) {
	s.finish(err)
}

func (s *Subscription[T]) finish(err error) {
	s.once.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()

		// Closing done first releases a Send blocked on a full buffer.
		close(s.done)

		s.sendMu.Lock()
		s.closed = true
		close(s.events)
		s.sendMu.Unlock()

		if s.onClose != nil {
			s.onClose()
		}
	})
}

// offer enqueues v without blocking. Only used on a fresh subscription.
func (s *Subscription[T]) offer(v T) {
	select {
	case s.events <- v:
	default:
	}
}

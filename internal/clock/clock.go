// Package clock abstracts time so offer expiry and sweeps can be driven
// deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the client uses.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *Ticker
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer runs a function once after a delay unless stopped first.
type Timer struct {
	stop func() bool
}

// Stop prevents the function from running. It reports whether the call
// stopped the timer before it fired.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers ticks on C until stopped.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

// Fake returns a FakeClock that stands still until advanced.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

// FakeClock is a manually advanced Clock. Timers and tickers fire during
// Advance. A ticker fires at most once per call, dropping ticks a slow
// reader has not consumed.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

type fakeTimer struct {
	at   time.Time
	f    func()
	done bool
}

type fakeTicker struct {
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ft := &fakeTicker{ch: make(chan time.Time, 1), interval: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, ft)
	return &Ticker{C: ft.ch, stop: func() {
		c.mu.Lock()
		ft.stopped = true
		c.mu.Unlock()
	}}
}

// AfterFunc schedules f to run on its own goroutine once the clock has moved
// forward by at least d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	ft := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, ft)
	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.done {
			return false
		}
		ft.done = true
		return true
	}}
}

// Advance moves the clock forward by d and fires due tickers and timers.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	pending := c.timers[:0]
	for _, ft := range c.timers {
		switch {
		case ft.done:
		case !c.now.Before(ft.at):
			ft.done = true
			go ft.f()
		default:
			pending = append(pending, ft)
		}
	}
	c.timers = pending
	live := c.tickers[:0]
	for _, ft := range c.tickers {
		if ft.stopped {
			continue
		}
		if !c.now.Before(ft.next) {
			select {
			case ft.ch <- c.now:
			default:
			}
			for !c.now.Before(ft.next) {
				ft.next = ft.next.Add(ft.interval)
			}
		}
		live = append(live, ft)
	}
	c.tickers = live
}

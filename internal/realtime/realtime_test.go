package realtime

import (
	"errors"
	"testing"
	"time"
)

func TestHubDeliversInPublishOrder(t *testing.T) {
	hub := NewHub[int](8)
	sub := hub.Subscribe(nil)
	defer sub.Close()

	for i := 1; i <= 3; i++ {
		if n := hub.Publish(i); n != 1 {
			t.Fatalf("Publish(%d) delivered to %d subscribers, want 1", i, n)
		}
	}
	for want := 1; want <= 3; want++ {
		if got := <-sub.Events(); got != want {
			t.Fatalf("event = %d, want %d", got, want)
		}
	}
}

func TestHubFiltersBySubscriber(t *testing.T) {
	hub := NewHub[string](4)
	alice := hub.Subscribe(func(v string) bool { return v == "alice" })
	defer alice.Close()

	hub.Publish("bob")
	hub.Publish("alice")

	select {
	case got := <-alice.Events():
		if got != "alice" {
			t.Fatalf("got %q, want alice", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case got := <-alice.Events():
		t.Fatalf("unexpected extra event %q", got)
	default:
	}
}

func TestSubscribeWithDeliversInitialFirst(t *testing.T) {
	hub := NewHub[int](4)
	sub := hub.SubscribeWith(nil, 42)
	defer sub.Close()
	hub.Publish(7)

	if got := <-sub.Events(); got != 42 {
		t.Fatalf("first event = %d, want 42", got)
	}
	if got := <-sub.Events(); got != 7 {
		t.Fatalf("second event = %d, want 7", got)
	}
}

func TestCloseIsIdempotentAndUnregisters(t *testing.T) {
	hub := NewHub[int](1)
	sub := hub.Subscribe(nil)
	sub.Close()
	sub.Close()

	if hub.Len() != 0 {
		t.Fatalf("hub still holds %d subscribers", hub.Len())
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("events channel should be closed")
	}
	if sub.Err() != nil {
		t.Fatalf("consumer close recorded error %v", sub.Err())
	}
	if sub.Send(1) {
		t.Fatal("Send succeeded on a closed subscription")
	}
}

func TestCloseReleasesBlockedPublisher(t *testing.T) {
	hub := NewHub[int](1)
	sub := hub.Subscribe(nil)
	hub.Publish(1) // fills the buffer

	published := make(chan struct{})
	go func() {
		hub.Publish(2)
		close(published)
	}()

	time.Sleep(10 * time.Millisecond)
	sub.Close()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("Publish still blocked after Close")
	}
}

func TestFailRecordsCause(t *testing.T) {
	sub := NewSubscription[int](1, nil)
	cause := errors.New("connection reset")
	sub.Fail(cause)

	<-sub.Done()
	if !errors.Is(sub.Err(), cause) {
		t.Fatalf("Err() = %v, want %v", sub.Err(), cause)
	}
}

func TestHubCloseFailsSubscribers(t *testing.T) {
	hub := NewHub[int](1)
	sub := hub.Subscribe(nil)
	hub.Close()

	<-sub.Done()
	if !errors.Is(sub.Err(), ErrClosed) {
		t.Fatalf("Err() = %v, want ErrClosed", sub.Err())
	}
	late := hub.Subscribe(nil)
	if !errors.Is(late.Err(), ErrClosed) {
		t.Fatalf("late subscriber Err() = %v, want ErrClosed", late.Err())
	}
}

func TestLatestHubNeverBlocksPublisher(t *testing.T) {
	hub := NewLatestHub[int](2)
	slow := hub.Subscribe(nil)
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 5; i++ {
			hub.Publish(i)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	for _, want := range []int{4, 5} {
		if got := <-slow.Events(); got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	}
	select {
	case v := <-slow.Events():
		t.Fatalf("unexpected extra event %d", v)
	default:
	}
}

func TestLatestSubscriptionEndsCleanly(t *testing.T) {
	sub := NewLatestSubscription[string](1, nil)
	if !sub.Send("a") || !sub.Send("b") {
		t.Fatal("Send refused on a live subscription")
	}
	sub.Close()
	if sub.Send("c") {
		t.Fatal("Send accepted after Close")
	}
	if got := <-sub.Events(); got != "b" {
		t.Fatalf("buffered = %q, want b", got)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("events not closed")
	}
}

package events

import (
	"testing"
	"time"
)

func TestHubDeliversPerUser(t *testing.T) {
	hub := NewHub(4)
	alice := hub.Subscribe("alice")
	defer alice.Close()
	bob := hub.Subscribe("bob")
	defer bob.Close()

	hub.Publish(Event{Type: RewardGranted, UserID: "alice", Data: "5.00"})

	select {
	case ev := <-alice.C:
		if ev.Type != RewardGranted || ev.At.IsZero() {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("alice did not receive the event")
	}

	select {
	case ev := <-bob.C:
		t.Errorf("bob received alice's event: %+v", ev)
	default:
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("u1")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(Event{Type: SessionCompleted, UserID: "u1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := len(sub.C); got != 1 {
		t.Errorf("expected 1 buffered event, got %d", got)
	}
}

func TestSubscriptionClose(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("u1")
	if hub.SubscriberCount("u1") != 1 {
		t.Fatalf("expected one subscriber")
	}

	sub.Close()
	sub.Close()

	if hub.SubscriberCount("u1") != 0 {
		t.Errorf("subscriber not removed")
	}
	if _, ok := <-sub.C; ok {
		t.Errorf("channel not closed")
	}

	// publishing after close must not panic
	hub.Publish(Event{Type: RewardFailed, UserID: "u1"})
}

package fanout

import (
	"fmt"
	"testing"
)

func drain(t *testing.T, sub *Subscriber, want int) [][]byte {
	t.Helper()
	got := make([][]byte, 0, want)
	for i := 0; i < want; i++ {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				t.Fatalf("channel closed after %d of %d messages", i, want)
			}
			got = append(got, msg)
		default:
			t.Fatalf("expected %d buffered messages, got %d", want, i)
		}
	}
	return got
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe()
	b := h.Subscribe()
	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.Len())
	}

	h.Broadcast([]byte("one"))
	h.Broadcast([]byte("two"))

	for _, sub := range []*Subscriber{a, b} {
		msgs := drain(t, sub, 2)
		if string(msgs[0]) != "one" || string(msgs[1]) != "two" {
			t.Fatalf("got %q, %q; want one, two", msgs[0], msgs[1])
		}
	}
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	h := NewHub(2)
	slow := h.Subscribe()
	fast := h.Subscribe()

	// The slow subscriber never drains; the fast one drains after each send.
	var fastGot int
	for i := 0; i < 5; i++ {
		h.Broadcast([]byte(fmt.Sprintf("m%d", i)))
		select {
		case _, ok := <-fast.C():
			if ok {
				fastGot++
			}
		default:
		}
	}

	// Queue depth 2: broadcasts 0 and 1 fill the slow queue, broadcast 2
	// finds it full and disconnects it.
	if h.Len() != 1 {
		t.Fatalf("Len() = %d after slow consumer, want 1", h.Len())
	}
	if fastGot != 5 {
		t.Fatalf("fast subscriber got %d messages, want 5", fastGot)
	}

	// The slow subscriber still holds its buffered frames, then sees close.
	drain(t, slow, 2)
	if _, ok := <-slow.C(); ok {
		t.Fatal("slow subscriber channel should be closed")
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe()
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestCloseDisconnectsAndRefusesNew(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe()
	h.Close()
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after hub close")
	}
	if h.Subscribe() != nil {
		t.Fatal("Subscribe after Close should return nil")
	}
	h.Broadcast([]byte("late"))
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
}

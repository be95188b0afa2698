package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClientOverflowCloses(t *testing.T) {
	c := NewClient("c1", "u1", "", 2)

	if !c.Send(&Event{Kind: EventUserTyping}) || !c.Send(&Event{Kind: EventUserTyping}) {
		t.Fatal("sends within the limit should succeed")
	}
	if c.Send(&Event{Kind: EventUserTyping}) {
		t.Fatal("send beyond the limit should fail")
	}
	if !c.Overflowed() {
		t.Fatal("client should be marked overflowed")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("overflowed client should be closed")
	}

	// Queued events are still handed out, then the close is reported.
	for range 2 {
		if _, err := c.Next(context.Background()); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if _, err := c.Next(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

func TestClientNextWakesAndHonoursContext(t *testing.T) {
	c := NewClient("c1", "u1", "", 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Send(&Event{Kind: EventNewMessage})
	}()
	ev, err := c.Next(context.Background())
	if err != nil || ev.Kind != EventNewMessage {
		t.Fatalf("Next = %v, %v", ev, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	c.Close()
	c.Close()
	if c.Send(&Event{}) {
		t.Fatal("closed client must reject events")
	}
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		unlock()
		close(acquired)
	}()

	// Other keys are independent.
	k.Lock("b")()

	select {
	case <-acquired:
		t.Fatal("second holder of key a acquired while locked")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected idle keys to be forgotten, got %d", len(k.locks))
	}
}

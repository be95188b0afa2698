package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

func TestPresenceSupersedesOlderConnection(t *testing.T) {
	p := NewPresence(nil, nil)
	first := NewClient("c1", "u1", store.RoleAdmin, 0)
	second := NewClient("c2", "u1", store.RoleAdmin, 0)

	if prev, _ := p.MarkOnline(first); prev != nil {
		t.Fatalf("unexpected previous connection %s", prev.ID)
	}
	prev, _ := p.MarkOnline(second)
	if prev != first {
		t.Fatalf("expected c1 to be superseded, got %v", prev)
	}
	select {
	case <-first.Done():
		t.Fatal("registry must not close the superseded connection")
	default:
	}

	if id, ok := p.ConnectionFor("u1"); !ok || id != "c2" {
		t.Fatalf("ConnectionFor = %q, %v", id, ok)
	}

	// The stale connection going away must not take the user offline.
	if p.MarkOffline("c1") {
		t.Fatal("MarkOffline for a superseded connection should be a no-op")
	}
	if !p.IsOnline("u1") {
		t.Fatal("user should still be online through c2")
	}

	if !p.MarkOffline("c2") {
		t.Fatal("MarkOffline for the live connection should succeed")
	}
	entry, ok := p.Entry("u1")
	if !ok || entry.Online || entry.ConnectionID != "c2" || entry.Role != store.RoleAdmin {
		t.Fatalf("expected retained offline entry, got %+v (ok=%v)", entry, ok)
	}
	if p.IsOnline("u1") {
		t.Fatal("user should be offline")
	}
	if p.MarkOffline("unknown") {
		t.Fatal("unknown connection should be a no-op")
	}
}

func TestPresenceDeliverOrQueue(t *testing.T) {
	mb := NewMemoryMailbox()
	p := NewPresence(mb, nil)
	msg := &store.Message{ID: "m1", Content: "hi"}

	if got := p.DeliverOrQueue("u2", msg, nil); got != DeliveryQueued {
		t.Fatalf("offline user: got %s", got)
	}
	if _, ok := p.Entry("u2"); ok {
		t.Fatal("queueing must not invent a presence entry")
	}

	c := NewClient("c1", "u2", store.RoleClient, 0)
	if _, flushed := p.MarkOnline(c); flushed != 1 {
		t.Fatalf("expected 1 flushed message, got %d", flushed)
	}
	if got := p.DeliverOrQueue("u2", msg, map[string]struct{}{"c1": {}}); got != DeliveryRoom {
		t.Fatalf("reached connection: got %s", got)
	}
	if got := p.DeliverOrQueue("u2", msg, nil); got != DeliveryDirect {
		t.Fatalf("live connection: got %s", got)
	}
	if c.Pending() != 2 {
		t.Fatalf("expected flushed + direct message, got %d", c.Pending())
	}

	c.Close()
	if got := p.DeliverOrQueue("u2", msg, nil); got != DeliveryQueued {
		t.Fatalf("closed connection: got %s", got)
	}
	if mb.Pending("u2") != 1 {
		t.Fatal("message for a closed connection should be queued")
	}
}

func TestPresenceFlushToClosedClientRequeues(t *testing.T) {
	mb := NewMemoryMailbox()
	p := NewPresence(mb, nil)
	for i := range 5 {
		mb.Enqueue("u2", store.Message{ID: fmt.Sprintf("m%d", i)})
	}

	c := NewClient("c1", "u2", store.RoleClient, 2)
	c.Close()
	if _, flushed := p.MarkOnline(c); flushed != 0 {
		t.Fatalf("expected nothing flushed to a closed client, got %d", flushed)
	}

	rest := mb.Drain("u2")
	if len(rest) != 5 || rest[0].ID != "m0" || rest[4].ID != "m4" {
		t.Fatalf("unexpected requeued messages: %+v", rest)
	}
}

func TestPresenceFlushBacklogBeyondOutboxLimit(t *testing.T) {
	mb := NewMemoryMailbox()
	p := NewPresence(mb, nil)
	const queued = 30
	for i := range queued {
		mb.Enqueue("u2", store.Message{ID: fmt.Sprintf("m%d", i)})
	}

	c := NewClient("c1", "u2", store.RoleClient, 10)
	if _, flushed := p.MarkOnline(c); flushed != queued {
		t.Fatalf("expected %d flushed, got %d", queued, flushed)
	}
	if c.Overflowed() {
		t.Fatal("a fresh connection must not overflow on its own backlog")
	}
	if mb.Pending("u2") != 0 {
		t.Fatalf("%d messages left in the mailbox", mb.Pending("u2"))
	}

	// Live traffic still has the full limit on top of the backlog.
	for i := range 10 {
		if !c.Send(&Event{Kind: EventUserTyping}) {
			t.Fatalf("live send %d rejected", i)
		}
	}

	ctx := context.Background()
	for i := range queued {
		ev, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if want := fmt.Sprintf("m%d", i); ev.Message == nil || ev.Message.ID != want {
			t.Fatalf("event %d: expected %s, got %+v", i, want, ev)
		}
	}

	// Once the backlog is consumed the plain limit applies again.
	if c.Send(&Event{Kind: EventUserTyping}) {
		t.Fatal("send past the outbox limit should overflow")
	}
	if !c.Overflowed() {
		t.Fatal("client should be marked overflowed")
	}
}

// Messages sent while the receiver connects are either flushed or delivered
// directly, never stranded in the mailbox.
func TestPresenceConnectRacesDelivery(t *testing.T) {
	mb := NewMemoryMailbox()
	p := NewPresence(mb, nil)
	c := NewClient("c1", "u2", store.RoleClient, 1000)

	const total = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range total {
			p.DeliverOrQueue("u2", &store.Message{ID: fmt.Sprintf("m%d", i)}, nil)
		}
	}()
	p.MarkOnline(c)
	wg.Wait()

	if got := c.Pending() + mb.Pending("u2"); got != total {
		t.Fatalf("expected %d messages accounted for, got %d", total, got)
	}
	if mb.Pending("u2") != 0 {
		t.Fatalf("%d messages stranded in the mailbox of an online user", mb.Pending("u2"))
	}
}

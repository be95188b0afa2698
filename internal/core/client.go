package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

// DefaultOutboxLimit bounds the number of undelivered events per connection.
const DefaultOutboxLimit = 256

// ErrClientClosed is returned by Next once the client is closed and drained.
var ErrClientClosed = errors.New("client closed")

// Client is one authenticated connection as seen by the core layer.
// Its identity is fixed at construction.
type Client struct {
	ID          string
	UserID      string
	Role        store.Role
	ConnectedAt time.Time

	mu       sync.Mutex
	pending  []*Event
	limit    int
	backlog  int
	closed   bool
	overflow bool
	wake     chan struct{}
	done     chan struct{}
}

// NewClient constructs a client with an empty outbox.
// A non-positive limit uses DefaultOutboxLimit.
func NewClient(id, userID string, role store.Role, limit int) *Client {
	if limit <= 0 {
		limit = DefaultOutboxLimit
	}
	return &Client{
		ID:          id,
		UserID:      userID,
		Role:        role,
		ConnectedAt: time.Now().UTC(),
		limit:       limit,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Send queues an event for delivery without blocking.
// It returns false if the client is closed. A client whose outbox is full is
// closed and marked as overflowed.
func (c *Client) Send(ev *Event) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if len(c.pending) >= c.limit+c.backlog {
		c.overflow = true
		c.closeLocked()
		c.mu.Unlock()
		return false
	}
	c.pending = append(c.pending, ev)
	c.mu.Unlock()

	c.notify()
	return true
}

// sendBacklog queues mailbox events in one step. They extend the outbox limit
// until the connection has consumed them, so a fresh connection is never
// overflowed by its own backlog. It returns false if the client is closed.
func (c *Client) sendBacklog(evs []*Event) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.pending = append(c.pending, evs...)
	c.backlog += len(evs)
	c.mu.Unlock()

	c.notify()
	return true
}

func (c *Client) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the client is closed or ctx is done.
// Events queued before Close are still returned.
func (c *Client) Next(ctx context.Context) (*Event, error) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			ev := c.pending[0]
			c.pending[0] = nil
			c.pending = c.pending[1:]
			if c.backlog > 0 {
				c.backlog--
			}
			c.mu.Unlock()
			return ev, nil
		}
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClientClosed
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pending returns the number of queued events.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops accepting events. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Overflowed reports whether the client was closed because it fell behind.
func (c *Client) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflow
}

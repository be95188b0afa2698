package core

import (
	"sync"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

// Mailbox holds messages for users without a live connection.
// Implementations never fail externally.
type Mailbox interface {
	// Enqueue appends msg to the user's queue.
	Enqueue(userID string, msg store.Message)
	// Drain atomically empties the user's queue and returns its prior contents in FIFO order.
	Drain(userID string) []store.Message
	// Pending returns the queue length.
	Pending(userID string) int
}

// MemoryMailbox is a process-local Mailbox. Its contents are lost on restart.
type MemoryMailbox struct {
	mu     sync.Mutex
	queues map[string]*mailboxQueue
}

// mailboxQueue is one user's queue instance. A drained queue is retired and
// replaced, so an enqueue racing a drain lands in the next instance.
type mailboxQueue struct {
	mu      sync.Mutex
	items   []store.Message
	retired bool
}

var _ Mailbox = (*MemoryMailbox)(nil)

// NewMemoryMailbox creates an empty mailbox.
func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{queues: make(map[string]*mailboxQueue)}
}

func (m *MemoryMailbox) queue(userID string) *mailboxQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[userID]
	if !ok {
		q = &mailboxQueue{}
		m.queues[userID] = q
	}
	return q
}

// Enqueue appends msg to the user's current queue instance.
func (m *MemoryMailbox) Enqueue(userID string, msg store.Message) {
	for {
		q := m.queue(userID)
		q.mu.Lock()
		if q.retired {
			q.mu.Unlock()
			continue
		}
		q.items = append(q.items, msg)
		q.mu.Unlock()
		return
	}
}

// Drain detaches the user's queue instance and returns its contents.
func (m *MemoryMailbox) Drain(userID string) []store.Message {
	m.mu.Lock()
	q, ok := m.queues[userID]
	if ok {
		delete(m.queues, userID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.retired = true
	items := q.items
	q.items = nil
	return items
}

// Pending returns the number of queued messages for the user.
func (m *MemoryMailbox) Pending(userID string) int {
	m.mu.Lock()
	q, ok := m.queues[userID]
	m.mu.Unlock()
	if !ok {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retired {
		return 0
	}
	return len(q.items)
}

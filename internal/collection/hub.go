package collection

import (
	"sync"

	"github.com/roach88/replica/internal/fifo"
	"github.com/roach88/replica/internal/record"
)

type notification struct {
	event  record.Event
	record record.Record
}

type subscription struct {
	id int64
	h  Handler
}

// Hub fans lifecycle events out to handlers in FIFO order.
//
// Publish enqueues; Flush delivers everything queued. Only one goroutine
// delivers at a time, so handlers never run concurrently and never observe
// events out of order. When another goroutine is already delivering, Flush
// leaves the queued events to it and returns.
type Hub struct {
	mu       sync.Mutex
	handlers map[record.Event][]subscription
	nextID   int64

	queue    *fifo.Queue[notification]
	dispatch sync.Mutex
}

// NewHub creates a hub with no handlers.
func NewHub() *Hub {
	return &Hub{
		handlers: make(map[record.Event][]subscription),
		queue:    fifo.New[notification](),
	}
}

// On registers h for event. The returned function detaches it.
func (h *Hub) On(event record.Event, fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.handlers[event] = append(h.handlers[event], subscription{id: id, h: fn})

	var once sync.Once
	return func() {
		once.Do(func() { h.off(event, id) })
	}
}

func (h *Hub) off(event record.Event, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.handlers[event]
	for i, s := range subs {
		if s.id == id {
			h.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of handlers registered for event.
func (h *Hub) Listeners(event record.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers[event])
}

// Publish queues an event for delivery. Collections call it while still
// holding their own write lock so that queue order equals commit order.
// The record is cloned here; handlers share the clone and must not modify it.
func (h *Hub) Publish(event record.Event, rec record.Record) {
	h.queue.Enqueue(notification{event: event, record: rec.Clone()})
}

// Flush delivers queued events. Collections call it after releasing their
// write lock.
func (h *Hub) Flush() {
	for {
		if !h.dispatch.TryLock() {
			return
		}
		for {
			n, ok := h.queue.TryDequeue()
			if !ok {
				break
			}
			h.deliver(n)
		}
		h.dispatch.Unlock()

		// An event published between the last dequeue and Unlock would
		// otherwise be stranded.
		if h.queue.Len() == 0 {
			return
		}
	}
}

// Emit publishes and flushes one event.
func (h *Hub) Emit(event record.Event, rec record.Record) {
	h.Publish(event, rec)
	h.Flush()
}

func (h *Hub) deliver(n notification) {
	h.mu.Lock()
	subs := make([]subscription, len(h.handlers[n.event]))
	copy(subs, h.handlers[n.event])
	h.mu.Unlock()

	for _, s := range subs {
		s.h(n.record)
	}
}

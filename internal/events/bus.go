package events

import (
	"fmt"
	"log"
	"sync"

	"printwatch/internal/model"
)

// Job lifecycle event names
const (
	JobCreated          = "job_created"
	JobFinished         = "job_finished"
	JobFailed           = "job_failed"
	JobMonitoringFailed = "job_monitoring_failed"
)

// Event is the payload delivered to subscribers.
// Handlers receive a pointer and may refresh Job so that later handlers see the updated record.
type Event struct {
	Name      string
	Job       model.Job
	Err       error  // Set on job_monitoring_failed
	Reason    string // Human readable cause (detected class, failure reason)
	SessionID string // Monitoring session that produced the event, if any
}

// Handler processes an event. A returned error aborts the remaining dispatch.
type Handler func(ev *Event) error

type subscription struct {
	handler Handler
}

// Bus is a synchronous publish/subscribe registry keyed by event name
type Bus struct {
	subscribers map[string][]*subscription
	mu          sync.RWMutex
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]*subscription),
	}
}

// Subscribe registers a handler for an event name.
// Handlers for the same name run in registration order.
// Returns an unsubscribe function
func (b *Bus) Subscribe(name string, handler Handler) func() {
	sub := &subscription{handler: handler}

	b.mu.Lock()
	b.subscribers[name] = append(b.subscribers[name], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[name]
		for i, s := range subs {
			if s == sub {
				b.subscribers[name] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subscribers[name]) == 0 {
			delete(b.subscribers, name)
		}
	}
}

// Emit runs every handler registered for name on the calling goroutine, in order.
// The first handler that fails (error or panic) stops dispatch and its error is returned.
// Emitting a name without subscribers is a no-op.
func (b *Bus) Emit(name string, ev Event) error {
	b.mu.RLock()
	subs := b.subscribers[name]
	if len(subs) == 0 {
		b.mu.RUnlock()
		return nil
	}
	// Snapshot so handlers can subscribe or emit without deadlocking
	handlers := make([]Handler, len(subs))
	for i, s := range subs {
		handlers[i] = s.handler
	}
	b.mu.RUnlock()

	ev.Name = name
	for i, h := range handlers {
		if err := invoke(h, &ev); err != nil {
			log.Printf("[Events] Handler %d for %s (job %d) failed, remaining %d skipped: %v",
				i, name, ev.Job.ID, len(handlers)-i-1, err)
			return fmt.Errorf("handler %d for %s: %w", i, name, err)
		}
	}
	return nil
}

// SubscriberCount returns the number of handlers registered for an event name
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[name])
}

func invoke(h Handler, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ev)
}

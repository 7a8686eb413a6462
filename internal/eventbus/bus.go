// Package eventbus provides an in-process pub/sub bus for dialog
// notifications. Dialogs publish without blocking; subscribers are called
// from a single consumer goroutine.
package eventbus

import (
	"context"
	"sync"

	"github.com/matthewbaird/pgform/internal/event"
	"github.com/matthewbaird/pgform/internal/logger"
)

// Handler processes a notification.
type Handler interface {
	HandleNotification(ctx context.Context, n event.Notification) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, n event.Notification) error

func (f HandlerFunc) HandleNotification(ctx context.Context, n event.Notification) error {
	return f(ctx, n)
}

// Bus is a simple in-process notification bus. Notifications are queued on
// a buffered channel and dispatched to all subscribers in order.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	events      chan event.Notification
	done        chan struct{}
	stopped     bool
}

type namedHandler struct {
	name    string
	handler Handler
}

// New creates a new Bus with the given channel buffer size.
func New(bufSize int) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	return &Bus{
		events: make(chan event.Notification, bufSize),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a named handler. A handler registered under the same
// name is replaced.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s.name == name {
			b.subscribers[i].handler = h
			return
		}
	}
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Unsubscribe removes the handler registered under name.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s.name == name {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish queues a notification. Non-blocking: if the buffer is full the
// notification is dropped and a warning is logged. A nil or stopped bus
// drops every notification.
func (b *Bus) Publish(ctx context.Context, n event.Notification) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		logger.FromContext(ctx).WithField("type", n.Type).Debugf("eventbus: stopped, dropping notification %s", n.ID)
		return
	}
	select {
	case b.events <- n:
	default:
		logger.FromContext(ctx).WithField("type", n.Type).Warnf("eventbus: buffer full, dropping notification %s", n.ID)
	}
}

// Start begins the consumer goroutine. It processes notifications until
// the context is cancelled or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case n, ok := <-b.events:
				if !ok {
					return
				}
				b.dispatch(ctx, n)
			case <-ctx.Done():
				// Drain remaining notifications before exiting.
				for {
					select {
					case n, ok := <-b.events:
						if !ok {
							return
						}
						b.dispatch(ctx, n)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop closes the bus and waits for the consumer goroutine to finish.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.events)
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) dispatch(ctx context.Context, n event.Notification) {
	b.mu.RLock()
	subs := make([]namedHandler, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleNotification(ctx, n); err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("eventbus: %s handler error for %s", s.name, n.Type)
		}
	}
}

// Package event provides the notifications raised by dialogs. Notifications
// are delivered to the dialog's client and published to the in-process
// event bus for downstream consumers.
package event

import (
	"context"
	"sync"
)

// Publisher sends notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, n Notification)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, n Notification)

func (f PublisherFunc) Publish(ctx context.Context, n Notification) { f(ctx, n) }

// Fanout publishes to several publishers in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, n Notification) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, n)
		}
	}
}

// Recorder keeps published notifications in memory. Tests and the
// render command use it to inspect what a dialog raised.
type Recorder struct {
	mu  sync.Mutex
	all []Notification
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.all))
	copy(out, r.all)
	return out
}

// OfType returns the recorded notifications of one type.
func (r *Recorder) OfType(typ string) []Notification {
	var out []Notification
	for _, n := range r.All() {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

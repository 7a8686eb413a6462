package model

import "sort"

// Event names emitted by models and collections. Attribute changes are
// emitted as "change:<attribute>" followed by a plain "change".
const (
	EventChange      = "change"
	EventAdd         = "add"
	EventRemove      = "remove"
	EventFetching    = "fetching"
	EventFetched     = "fetched"
	EventFetchError  = "fetch:error"
	EventStateChange = "state"
)

// ChangeEvent returns the event name for a change of attr.
func ChangeEvent(attr string) string { return EventChange + ":" + attr }

// Event is delivered synchronously to listeners.
type Event struct {
	Name     string
	Model    *Model
	Attr     string
	Value    any
	Previous any
	Row      *Model
	Message  string
}

// Listener handles one event.
type Listener func(Event)

// Subscription releases a listener registered with On.
type Subscription struct {
	emitter *Emitter
	name    string
	id      uint64
}

// Unsubscribe removes the listener. Calling it twice is harmless.
func (s Subscription) Unsubscribe() {
	if s.emitter == nil {
		return
	}
	s.emitter.off(s.name, s.id)
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Emitter dispatches events synchronously on the calling goroutine. It is
// not safe for concurrent use: a dialog is driven from a single loop.
type Emitter struct {
	next      uint64
	listeners map[string][]listenerEntry
}

// On registers fn for events called name.
func (e *Emitter) On(name string, fn Listener) Subscription {
	if e.listeners == nil {
		e.listeners = make(map[string][]listenerEntry)
	}
	e.next++
	e.listeners[name] = append(e.listeners[name], listenerEntry{id: e.next, fn: fn})
	return Subscription{emitter: e, name: name, id: e.next}
}

func (e *Emitter) off(name string, id uint64) {
	entries := e.listeners[name]
	for i, l := range entries {
		if l.id == id {
			e.listeners[name] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(e.listeners[name]) == 0 {
		delete(e.listeners, name)
	}
}

// Emit delivers ev to the listeners registered when the call started.
func (e *Emitter) Emit(ev Event) {
	entries := e.listeners[ev.Name]
	if len(entries) == 0 {
		return
	}
	snapshot := make([]listenerEntry, len(entries))
	copy(snapshot, entries)
	for _, l := range snapshot {
		if !e.has(ev.Name, l.id) {
			continue
		}
		l.fn(ev)
	}
}

func (e *Emitter) has(name string, id uint64) bool {
	for _, l := range e.listeners[name] {
		if l.id == id {
			return true
		}
	}
	return false
}

// Count returns the number of registered listeners.
func (e *Emitter) Count() int {
	n := 0
	for _, entries := range e.listeners {
		n += len(entries)
	}
	return n
}

// Names returns the event names that have listeners, sorted.
func (e *Emitter) Names() []string {
	out := make([]string, 0, len(e.listeners))
	for name := range e.listeners {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

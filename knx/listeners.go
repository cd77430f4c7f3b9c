package knx

import (
	"log/slog"
	"sync"
)

// EventListeners keeps a set of listeners for event delivery. Iterating over
// listeners is assumed to be the predominant operation; adding and removing
// are rare. Mutations rebuild an immutable snapshot under the lock, so Fire
// iterates without holding any lock and never observes a set mutated
// mid-delivery.
type EventListeners[T comparable] struct {
	mu        sync.Mutex
	listeners []T
	snapshot  []T

	logger *slog.Logger
}

// NewEventListeners creates an empty listener container. A nil logger falls
// back to slog.Default().
func NewEventListeners[T comparable](logger *slog.Logger) *EventListeners[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventListeners[T]{logger: logger}
}

// Add registers listener. Zero-valued and already-registered listeners are
// ignored.
func (l *EventListeners[T]) Add(listener T) {
	var zero T
	if listener == zero {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.listeners {
		if existing == listener {
			l.logger.Warn("event listener already registered")
			return
		}
	}
	l.listeners = append(l.listeners, listener)
	l.rebuild()
}

// Remove deregisters listener. Unknown listeners are ignored.
func (l *EventListeners[T]) Remove(listener T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.listeners {
		if existing == listener {
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			l.rebuild()
			return
		}
	}
}

// RemoveAll deregisters every listener.
func (l *EventListeners[T]) RemoveAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = nil
	l.rebuild()
}

// Listeners returns the current snapshot in registration order. Later registry
// mutations never affect an already-returned snapshot.
func (l *EventListeners[T]) Listeners() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot
}

// Fire invokes action on every listener in the current snapshot, in snapshot
// order. A listener that panics is removed from the container and the panic
// is logged; delivery continues with the remaining listeners. Fire never
// propagates a listener failure to its caller.
func (l *EventListeners[T]) Fire(action func(T)) {
	for _, listener := range l.Listeners() {
		l.dispatch(listener, action)
	}
}

func (l *EventListeners[T]) dispatch(listener T, action func(T)) {
	defer func() {
		if r := recover(); r != nil {
			l.Remove(listener)
			l.logger.Error("removed event listener", slog.Any("panic", r))
		}
	}()
	action(listener)
}

// rebuild publishes a fresh snapshot; callers hold l.mu.
func (l *EventListeners[T]) rebuild() {
	l.snapshot = append([]T(nil), l.listeners...)
}

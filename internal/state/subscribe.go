package state

import (
	"log/slog"
	"slices"

	"github.com/starford/minicycle/internal/models"
)

// Subscribe registers fn under key. Listeners run in registration order.
// The returned func removes this registration only.
func (s *Store) Subscribe(key string, fn Listener) func() {
	s.subsMu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscription{id: id, key: key, fn: fn})
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool { return sub.id == id })
	}
}

// Unsubscribe removes every listener registered under key.
func (s *Store) Unsubscribe(key string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool { return sub.key == key })
}

// UnsubscribeAll removes every listener.
func (s *Store) UnsubscribeAll() {
	s.subsMu.Lock()
	s.subs = nil
	s.subsMu.Unlock()
}

// ListenerCount returns the listeners under key, or all listeners when key is empty.
func (s *Store) ListenerCount(key string) int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	if key == "" {
		return len(s.subs)
	}
	n := 0
	for _, sub := range s.subs {
		if sub.key == key {
			n++
		}
	}
	return n
}

// AddObserver registers an event observer.
func (s *Store) AddObserver(o Observer) {
	s.subsMu.Lock()
	s.observers = append(s.observers, o)
	s.subsMu.Unlock()
}

func (s *Store) publish(next, prev *models.Document) {
	s.subsMu.RLock()
	subs := slices.Clone(s.subs)
	s.subsMu.RUnlock()

	for _, sub := range subs {
		s.callListener(sub, next, prev)
	}
	s.emit(Updated{Document: next, Previous: prev})
}

func (s *Store) callListener(sub subscription, next, prev *models.Document) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state: listener panicked",
				slog.String("key", sub.key), slog.Any("panic", r))
		}
	}()
	sub.fn(next, prev)
}

func (s *Store) emit(ev Event) {
	s.subsMu.RLock()
	observers := slices.Clone(s.observers)
	s.subsMu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("state: observer panicked",
						slog.String("event", ev.Kind().String()), slog.Any("panic", r))
				}
			}()
			o.OnEvent(ev)
		}()
	}
}

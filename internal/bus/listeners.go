// Package bus provides in-process fan-out of stream events to
// registered callbacks.
package bus

import "sync"

// ListenerID identifies a registered callback. IDs are never reused.
type ListenerID uint64

type entry[F any] struct {
	id ListenerID
	fn F
}

// Listeners is an ordered set of callbacks keyed by ListenerID.
// The zero value is ready to use.
//
// Each iterates over a snapshot taken when it starts: listeners added during
// iteration are not called until the next round, and a listener removed during
// iteration is skipped if it has not been reached yet. No listener is called
// twice in one round.
type Listeners[F any] struct {
	mu      sync.RWMutex
	nextID  ListenerID
	entries []entry[F]
	live    map[ListenerID]struct{}
}

// Add registers fn and returns its ID.
func (l *Listeners[F]) Add(fn F) ListenerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live == nil {
		l.live = make(map[ListenerID]struct{})
	}
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, entry[F]{id: id, fn: fn})
	l.live[id] = struct{}{}
	return id
}

// Remove deregisters a listener. Returns false if id was not registered.
func (l *Listeners[F]) Remove(id ListenerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.live[id]; !ok {
		return false
	}
	delete(l.live, id)
	for i, e := range l.entries {
		if e.id == id {
			// copy into a fresh slice so in-flight snapshots stay intact
			next := make([]entry[F], 0, len(l.entries)-1)
			next = append(next, l.entries[:i]...)
			next = append(next, l.entries[i+1:]...)
			l.entries = next
			break
		}
	}
	return true
}

// Len returns the number of registered listeners.
func (l *Listeners[F]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Each calls visit for every listener registered when Each started that is
// still registered when its turn comes. visit runs without the lock held, so
// listeners may call Add or Remove.
func (l *Listeners[F]) Each(visit func(F)) {
	l.mu.RLock()
	snapshot := l.entries
	l.mu.RUnlock()

	for _, e := range snapshot {
		if !l.registered(e.id) {
			continue
		}
		visit(e.fn)
	}
}

func (l *Listeners[F]) registered(id ListenerID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.live[id]
	return ok
}

package source

import "sync"

// Watchers is a set of change callbacks. Sources embed it to implement
// Watch. The zero value is ready to use.
type Watchers struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(id string)
}

// Add registers fn and returns a function that removes it.
func (w *Watchers) Add(fn func(id string)) (cancel func()) {
	w.mu.Lock()
	if w.fns == nil {
		w.fns = make(map[uint64]func(string))
	}
	key := w.next
	w.next++
	w.fns[key] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.fns, key)
			w.mu.Unlock()
		})
	}
}

// Notify calls every registered callback with id. Callbacks run outside the
// lock, in no particular order.
func (w *Watchers) Notify(id string) {
	w.mu.RLock()
	fns := make([]func(string), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.RUnlock()

	for _, fn := range fns {
		fn(id)
	}
}

// Len returns the number of registered callbacks.
func (w *Watchers) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.fns)
}

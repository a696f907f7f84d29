// Package listeners provides a typed callback registry with explicit
// unsubscribe, used by stat sources to fan events out to their observers.
package listeners

import "sync"

type Registry[T any] struct {
	mu       sync.Mutex
	next     uint64
	handlers map[uint64]func(T)
	order    []uint64
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{handlers: make(map[uint64]func(T))}
}

// Add registers fn and returns a function that removes it. The returned
// function may be called any number of times.
func (r *Registry[T]) Add(fn func(T)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = make(map[uint64]func(T))
	}
	r.next++
	id := r.next
	r.handlers[id] = fn
	r.order = append(r.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Emit calls every registered handler in registration order. Handlers run
// outside the registry lock, so they may unsubscribe themselves.
func (r *Registry[T]) Emit(v T) {
	r.mu.Lock()
	fns := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		fns = append(fns, r.handlers[id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Signal is a Registry for events that carry no value.
type Signal struct {
	reg Registry[struct{}]
}

func (s *Signal) Add(fn func()) func() {
	return s.reg.Add(func(struct{}) { fn() })
}

func (s *Signal) Emit() {
	s.reg.Emit(struct{}{})
}

func (s *Signal) Len() int {
	return s.reg.Len()
}

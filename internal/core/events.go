package core

import "sync"

// CancelFunc removes a listener. Calling it more than once is a no-op.
type CancelFunc func()

// Emitter is a listener set for one event type.
type Emitter[T any] struct {
	mu        sync.Mutex
	next      int
	listeners map[int]func(T)
}

func (e *Emitter[T]) On(fn func(T)) CancelFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[int]func(T))
	}
	id := e.next
	e.next++
	e.listeners[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Emit calls every listener outside the lock, so listeners may cancel themselves.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	fns := make([]func(T), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Notifier is an Emitter for events without a payload.
type Notifier struct{ Emitter[struct{}] }

func (s *Notifier) OnFire(fn func()) CancelFunc {
	return s.On(func(struct{}) { fn() })
}

func (s *Notifier) Fire() { s.Emit(struct{}{}) }

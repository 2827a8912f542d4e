// Package events provides synchronous typed event emitters and the
// subscription handles that release them.
//
// Every Subscribe call returns a Subscription. Owners collect their
// subscriptions into a DisposableStore and release the whole set when they
// are torn down, so no listener outlives the object that registered it.
package events

import (
	"sync"
	"sync/atomic"
)

// Subscription is a releasable handle returned by Subscribe.
type Subscription interface {
	// Unsubscribe detaches the listener. Calling it more than once is a no-op.
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

type listener[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// Emitter fans an event out to its listeners on the calling goroutine.
// Listeners added while an event is being delivered do not see that event;
// listeners removed during delivery are skipped.
type Emitter[T any] struct {
	mu        sync.Mutex
	listeners []*listener[T]
	disposed  bool
}

func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{}
}

// Subscribe registers fn and returns the handle that removes it.
func (e *Emitter[T]) Subscribe(fn func(T)) Subscription {
	if e == nil || fn == nil {
		return SubscriptionFunc(nil)
	}
	l := &listener[T]{fn: fn}
	l.active.Store(true)

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return SubscriptionFunc(nil)
	}
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()

	var once sync.Once
	return SubscriptionFunc(func() {
		once.Do(func() { e.remove(l) })
	})
}

// Fire delivers ev to every active listener in subscription order.
func (e *Emitter[T]) Fire(ev T) {
	if e == nil {
		return
	}
	e.mu.Lock()
	snapshot := append([]*listener[T](nil), e.listeners...)
	e.mu.Unlock()

	for _, l := range snapshot {
		if !l.active.Load() {
			continue
		}
		l.fn(ev)
	}
}

// ListenerCount reports how many listeners are attached.
func (e *Emitter[T]) ListenerCount() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Dispose removes all listeners; later Subscribe calls return inert handles.
func (e *Emitter[T]) Dispose() {
	if e == nil {
		return
	}
	e.mu.Lock()
	for _, l := range e.listeners {
		l.active.Store(false)
	}
	e.listeners = nil
	e.disposed = true
	e.mu.Unlock()
}

func (e *Emitter[T]) remove(target *listener[T]) {
	target.active.Store(false)
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l == target {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

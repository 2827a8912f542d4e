package events

import "sync"

// DisposableStore collects subscriptions owned by one object and releases
// them together.
type DisposableStore struct {
	mu       sync.Mutex
	subs     []Subscription
	disposed bool
}

func NewDisposableStore() *DisposableStore {
	return &DisposableStore{}
}

// Add takes ownership of sub. Adding to a disposed store releases sub
// immediately.
func (s *DisposableStore) Add(sub Subscription) Subscription {
	if sub == nil {
		return sub
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return sub
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub
}

func (s *DisposableStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *DisposableStore) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose releases every owned subscription in reverse registration order.
func (s *DisposableStore) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for i := len(subs) - 1; i >= 0; i-- {
		subs[i].Unsubscribe()
	}
}

package session

import "sync"

// Registry tracks live sessions. A freshly accepted session sits in the
// pending set until its handshake verifies, then moves to the active set.
// Dropped sessions leave both.
type Registry struct {
	mu      sync.Mutex
	pending map[*Session]struct{}
	active  map[*Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[*Session]struct{}),
		active:  make(map[*Session]struct{}),
	}
}

func (r *Registry) addPending(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[s] = struct{}{}
}

// promote moves a verified session from pending to active.
func (r *Registry) promote(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, s)
	r.active[s] = struct{}{}
}

// remove takes a session out of every set. Safe to call more than once.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, s)
	delete(r.active, s)
}

func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Contains reports whether the session is still registered anywhere.
func (r *Registry) Contains(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[s]; ok {
		return true
	}
	_, ok := r.active[s]
	return ok
}

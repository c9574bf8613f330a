package cart

import (
	"sync"
	"time"

	"bodyshop-storefront/internal/repository/localstate"
	"bodyshop-storefront/internal/session"
)

// Registry holds one Service per session so that concurrent requests of a
// session share the busy guard and sequence numbers.
type Registry struct {
	repo localstate.Repository
	deps Deps
	idle time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	svc      *Service
	lastUsed time.Time
}

// NewRegistry builds services on demand over repo. Services unused for idle
// are dropped by Sweep; their persisted state stays in repo.
func NewRegistry(repo localstate.Repository, deps Deps, idle time.Duration) *Registry {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		repo:    repo,
		deps:    deps,
		idle:    idle,
		now:     now,
		entries: make(map[string]*entry),
	}
}

// Get returns the session's Service, creating it on first use.
func (r *Registry) Get(sessionID string) *Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		sess := session.New(sessionID, r.repo, r.deps.Logger)
		e = &entry{svc: New(sess, r.deps)}
		r.entries[sessionID] = e
		r.deps.Metrics.SetSessions(len(r.entries))
	}
	e.lastUsed = r.now()
	return e.svc
}

// Peek returns the session's Service only if one is held.
func (r *Registry) Peek(sessionID string) (*Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return e.svc, true
}

// Sweep drops services idle for longer than the registry's idle period and
// not in the middle of a request. It returns how many were dropped.
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, e := range r.entries {
		if e.lastUsed.Before(cutoff) && !e.svc.Busy() {
			delete(r.entries, id)
			dropped++
		}
	}
	if dropped > 0 {
		r.deps.Metrics.SetSessions(len(r.entries))
	}
	return dropped
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

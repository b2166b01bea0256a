package raid

import (
	"fmt"
	"sync"
)

// errDuplicateID marks an InsertUnique failure caused by an id collision
// rather than by the caller's conflict predicate.
var errDuplicateID = fmt.Errorf("%w: session id already registered", ErrConflict)

// Registry is the in-memory index of live sessions and the single authority
// other components consult. It owns one exclusive lock per session; every
// read-modify-write sequence runs under that lock, so sessions serialize
// independently and never block each other.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	mu      sync.Mutex
	session *Session
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// InsertUnique adds a session after checking, atomically with the insert,
// that no live session satisfies the conflict predicate. The predicate is
// evaluated before the duplicate-id guard so callers can tell a real domain
// conflict (plain ErrConflict) apart from an id collision (errDuplicateID).
// A nil predicate only guards against duplicate ids.
func (r *Registry) InsertUnique(s *Session, conflicts func(Session) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conflicts != nil {
		for _, e := range r.entries {
			e.mu.Lock()
			hit := e.session != nil && conflicts(*e.session)
			e.mu.Unlock()
			if hit {
				return ErrConflict
			}
		}
	}
	if _, ok := r.entries[s.ID]; ok {
		return errDuplicateID
	}
	r.entries[s.ID] = &registryEntry{session: s}
	return nil
}

// With runs fn with the session's lock held. fn sees the live session and may
// mutate it. Returns ErrNotFound when the session is not (or no longer)
// registered.
func (r *Registry) With(raidID string, fn func(*Session) error) error {
	r.mu.RLock()
	e, ok := r.entries[raidID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ErrNotFound
	}
	return fn(e.session)
}

// Remove drops the session from the index. Callers must not hold the
// session's lock. Removal is idempotent.
func (r *Registry) Remove(raidID string) {
	r.mu.Lock()
	e, ok := r.entries[raidID]
	if ok {
		delete(r.entries, raidID)
	}
	r.mu.Unlock()
	if ok {
		// Mark the entry dead for anyone who raced Remove and still holds a
		// reference to it.
		e.mu.Lock()
		e.session = nil
		e.mu.Unlock()
	}
}

// Snapshot returns a deep copy of the session.
func (r *Registry) Snapshot(raidID string) (Session, error) {
	var out Session
	err := r.With(raidID, func(s *Session) error {
		out = s.Clone()
		return nil
	})
	return out, err
}

// IDs lists the ids of all live sessions.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

// Snapshots returns deep copies of every live session.
func (r *Registry) Snapshots() []Session {
	ids := r.IDs()
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		if s, err := r.Snapshot(id); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

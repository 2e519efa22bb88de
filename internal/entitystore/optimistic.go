package entitystore

import (
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/metrics"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

// pending is the overlay for one document id.
type pending struct {
	// value is the newest optimistic value; nil means deleted.
	value  store.Entity
	latest string
	// superseded holds the fingerprints of the value seen before the first
	// write and of every older own write. An incoming server value that
	// matches one of them is a stale echo.
	superseded map[string]bool
	inflight   int
	failed     bool
	writes     int
}

// reconcile decides whether the overlay survives an incoming server value.
func (p *pending) reconcile(incoming string) (keep bool, reason string) {
	switch {
	case incoming == p.latest:
		return false, "echo"
	case p.failed && p.inflight == 0:
		return false, "write failed, server wins"
	case p.superseded[incoming]:
		return true, "stale echo"
	case p.inflight == 0:
		return false, "foreign write, server wins"
	default:
		return true, "write in flight"
	}
}

// Pending is the handle of one optimistic write.
type Pending struct {
	Collection store.Collection
	ID         string

	entry *pending
	write int
	// prior is the value visible before the write; nil means absent.
	prior store.Entity
}

// Apply makes e visible immediately, ahead of the server. The returned handle
// must be passed to Settle once the persist call returns.
func (s *Store) Apply(e store.Entity) *Pending {
	return s.apply(e.EntityCollection(), e.EntityID(), e)
}

// ApplyDelete hides id in c immediately.
func (s *Store) ApplyDelete(c store.Collection, id string) *Pending {
	return s.apply(c, id, nil)
}

func (s *Store) apply(c store.Collection, id string, value store.Entity) *Pending {
	s.mu.Lock()
	col := s.col(c)
	var prior store.Entity
	if i, ok := col.index[id]; ok {
		prior = col.view[i]
	}

	p, ok := col.pending[id]
	if !ok {
		p = &pending{superseded: map[string]bool{col.serverFingerprint(id): true}}
		col.pending[id] = p
		col.pendingOrder = append(col.pendingOrder, id)
		metrics.PendingWrites.Inc()
	} else {
		p.superseded[p.latest] = true
	}
	p.value = value
	p.latest = fingerprint(value)
	delete(p.superseded, p.latest)
	p.inflight++
	p.failed = false
	p.writes++

	handle := &Pending{Collection: c, ID: id, entry: p, write: p.writes, prior: prior}
	change := s.touch(c, col, SourceLocal)
	s.mu.Unlock()
	s.notify(change)
	return handle
}

// Settle records the result of the persist call behind h. A failed write
// leaves the optimistic value visible until the next snapshot of the
// collection replaces it; call Revert to restore the prior value at once.
func (s *Store) Settle(h *Pending, err error) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[h.Collection]
	if !ok || col.pending[h.ID] != h.entry {
		return
	}
	if h.entry.inflight > 0 {
		h.entry.inflight--
	}
	if err != nil && h.write == h.entry.writes {
		h.entry.failed = true
	}
}

// Revert restores the value that was visible before h's write. It is a
// no-op once a newer write to the same id was applied or the overlay has
// already been reconciled.
func (s *Store) Revert(h *Pending) bool {
	if h == nil {
		return false
	}
	s.mu.Lock()
	col, ok := s.collections[h.Collection]
	if !ok || col.pending[h.ID] != h.entry || h.write != h.entry.writes {
		s.mu.Unlock()
		return false
	}
	p := h.entry
	if fingerprint(h.prior) == col.serverFingerprint(h.ID) {
		col.dropPending(h.ID)
	} else {
		p.superseded[p.latest] = true
		p.value = h.prior
		p.latest = fingerprint(h.prior)
		delete(p.superseded, p.latest)
		p.failed = true
	}
	change := s.touch(h.Collection, col, SourceLocal)
	s.mu.Unlock()
	s.notify(change)
	return true
}

// Pending reports whether id in c carries an unconfirmed optimistic value.
func (s *Store) Pending(c store.Collection, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[c]
	if !ok {
		return false
	}
	_, ok = col.pending[id]
	return ok
}

// PendingCount is the number of ids in c with an optimistic overlay.
func (s *Store) PendingCount(c store.Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[c]
	if !ok {
		return 0
	}
	return len(col.pending)
}

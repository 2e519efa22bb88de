// Package entitystore is the in-memory cache of the latest known state of
// every collection, with an overlay of optimistic local writes that have not
// yet been echoed back by the change feed.
package entitystore

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/metrics"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

// Source says what caused a Change.
type Source string

const (
	SourceFeed  Source = "feed"
	SourceLocal Source = "local"
)

type Change struct {
	Collection store.Collection
	Version    uint64
	Source     Source
}

// Store is safe for concurrent use. Reads always see a whole snapshot of a
// collection plus the optimistic overlay, never a partial update.
type Store struct {
	mu          sync.RWMutex
	collections map[store.Collection]*collection
	listeners   map[int]func(Change)
	nextID      int
	logger      *slog.Logger
}

type collection struct {
	server      []store.Entity
	serverIndex map[string]int
	ready       bool
	version     uint64

	pending      map[string]*pending
	pendingOrder []string

	view  []store.Entity
	index map[string]int
}

func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		collections: make(map[store.Collection]*collection),
		listeners:   make(map[int]func(Change)),
		logger:      logger,
	}
}

func (s *Store) col(c store.Collection) *collection {
	col, ok := s.collections[c]
	if !ok {
		col = &collection{
			serverIndex: make(map[string]int),
			pending:     make(map[string]*pending),
			index:       make(map[string]int),
		}
		s.collections[c] = col
	}
	return col
}

// UpsertAll replaces the server state of c with items in one transition and
// reconciles any optimistic values against it. The collection becomes Ready.
func (s *Store) UpsertAll(c store.Collection, items []store.Entity) {
	s.mu.Lock()
	col := s.col(c)
	col.server = append([]store.Entity(nil), items...)
	col.serverIndex = make(map[string]int, len(items))
	for i, item := range col.server {
		col.serverIndex[item.EntityID()] = i
	}
	for _, id := range append([]string(nil), col.pendingOrder...) {
		p := col.pending[id]
		incoming := col.serverFingerprint(id)
		if keep, reason := p.reconcile(incoming); !keep {
			s.logger.Debug("optimistic value settled", "collection", c, "id", id, "reason", reason)
			col.dropPending(id)
		}
	}
	col.ready = true
	change := s.touch(c, col, SourceFeed)
	s.mu.Unlock()
	s.notify(change)
}

func (s *Store) touch(c store.Collection, col *collection, source Source) Change {
	col.version++
	col.rebuild()
	return Change{Collection: c, Version: col.version, Source: source}
}

func (col *collection) serverFingerprint(id string) string {
	i, ok := col.serverIndex[id]
	if !ok {
		return absent
	}
	return fingerprint(col.server[i])
}

// rebuild merges the server list with the overlay. Server order is kept;
// optimistic creations follow in the order they were applied.
func (col *collection) rebuild() {
	view := make([]store.Entity, 0, len(col.server)+len(col.pending))
	for _, item := range col.server {
		if p, ok := col.pending[item.EntityID()]; ok {
			if p.value != nil {
				view = append(view, p.value)
			}
			continue
		}
		view = append(view, item)
	}
	for _, id := range col.pendingOrder {
		if _, onServer := col.serverIndex[id]; onServer {
			continue
		}
		if p := col.pending[id]; p.value != nil {
			view = append(view, p.value)
		}
	}
	col.view = view
	col.index = make(map[string]int, len(view))
	for i, item := range view {
		col.index[item.EntityID()] = i
	}
}

func (col *collection) dropPending(id string) {
	if _, ok := col.pending[id]; !ok {
		return
	}
	delete(col.pending, id)
	for i, existing := range col.pendingOrder {
		if existing == id {
			col.pendingOrder = append(col.pendingOrder[:i], col.pendingOrder[i+1:]...)
			break
		}
	}
	metrics.PendingWrites.Dec()
}

// Get returns the current value of id in c.
func (s *Store) Get(c store.Collection, id string) (store.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[c]
	if !ok {
		return nil, false
	}
	i, ok := col.index[id]
	if !ok {
		return nil, false
	}
	return col.view[i], true
}

// List returns the current content of c.
func (s *Store) List(c store.Collection) []store.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[c]
	if !ok {
		return nil
	}
	return append([]store.Entity(nil), col.view...)
}

// Ready reports whether c has received at least one snapshot.
func (s *Store) Ready(c store.Collection) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[c]
	return ok && col.ready
}

func (s *Store) Version(c store.Collection) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[c]
	if !ok {
		return 0
	}
	return col.version
}

// OnChange registers fn to run after every transition. Listeners run outside
// the store lock, on the goroutine that caused the change.
func (s *Store) OnChange(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(change Change) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(change)
	}
}

// Reset drops every collection, pending value and readiness flag.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, col := range s.collections {
		metrics.PendingWrites.Sub(float64(len(col.pending)))
	}
	s.collections = make(map[store.Collection]*collection)
}

const absent = ""

func fingerprint(e store.Entity) string {
	if e == nil {
		return absent
	}
	data, err := json.Marshal(e)
	if err != nil {
		return absent
	}
	return string(data)
}

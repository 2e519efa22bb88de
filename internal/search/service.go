package search

import (
	"log/slog"
	"sync"
)

// Service is the facade that tries Meilisearch first and falls back to the
// local searcher. It also keeps the remote index in step with the entity
// store: Sync diffs against what was last pushed and a single worker applies
// the batches in order.
type Service struct {
	remote Index
	local  Searcher
	logger *slog.Logger

	mu      sync.Mutex
	indexed map[string]Record
	batches chan batch
	wg      sync.WaitGroup

	sendMu sync.RWMutex
	closed bool
}

type batch struct {
	upserts []Record
	deletes []string
}

// NewService creates a search service. remote may be nil if Meilisearch is
// not configured.
func NewService(remote Index, local Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		remote:  remote,
		local:   local,
		logger:  logger,
		indexed: make(map[string]Record),
		batches: make(chan batch, 64),
	}
	if remote != nil {
		s.wg.Add(1)
		go s.run()
	}
	return s
}

func (s *Service) Search(q Query) Response {
	if s.remote != nil && s.remote.Healthy() {
		results, total, err := s.remote.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to local search", "error", err)
	}
	if s.local == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.local.Search(q)
	if err != nil {
		s.logger.Warn("local search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Sync queues the difference between records and the last pushed state.
// Nothing is queued while the remote index is unhealthy, so the next Sync
// after recovery carries everything that was missed.
func (s *Service) Sync(records []Record) {
	if s.remote == nil || !s.remote.Healthy() {
		return
	}
	s.mu.Lock()
	var b batch
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		seen[r.ID] = true
		if prev, ok := s.indexed[r.ID]; ok && prev == r {
			continue
		}
		s.indexed[r.ID] = r
		b.upserts = append(b.upserts, r)
	}
	for id := range s.indexed {
		if !seen[id] {
			delete(s.indexed, id)
			b.deletes = append(b.deletes, id)
		}
	}
	s.mu.Unlock()

	if len(b.upserts) == 0 && len(b.deletes) == 0 {
		return
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	s.batches <- b
}

func (s *Service) run() {
	defer s.wg.Done()
	for b := range s.batches {
		if err := s.remote.Upsert(b.upserts); err != nil {
			s.logger.Warn("index records", "count", len(b.upserts), "error", err)
			s.forget(b.upserts)
		}
		if err := s.remote.Delete(b.deletes); err != nil {
			s.logger.Warn("delete records", "count", len(b.deletes), "error", err)
		}
	}
}

// forget drops records that failed to index so the next Sync retries them.
func (s *Service) forget(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		delete(s.indexed, r.ID)
	}
}

// Close drains queued batches and stops the worker.
func (s *Service) Close() {
	s.sendMu.Lock()
	if s.closed || s.remote == nil {
		s.closed = true
		s.sendMu.Unlock()
		return
	}
	s.closed = true
	close(s.batches)
	s.sendMu.Unlock()
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

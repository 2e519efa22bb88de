package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Op names a store operation for fault injection and hooks.
type Op string

const (
	OpSubscribe Op = "subscribe"
	OpGet       Op = "get"
	OpPut       Op = "put"
	OpDelete    Op = "delete"
)

// WriteHook runs before a Put or Delete commits. Returning an error aborts
// the write; blocking holds it in flight.
type WriteHook func(ctx context.Context, op Op, c Collection, id string) error

type memCollection struct {
	docs  map[string]json.RawMessage
	order []string
	seq   uint64
}

type fault struct {
	op         Op
	collection Collection
	remaining  int
	err        error
}

// MemoryStore is an in-process DocumentStore. Deliveries run on one
// goroutine per subscription and coalesce to the latest snapshot.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[Collection]*memCollection
	subs        map[Collection]map[*memSubscriber]struct{}
	faults      []*fault
	beforeWrite WriteHook
	closed      bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[Collection]*memCollection),
		subs:        make(map[Collection]map[*memSubscriber]struct{}),
	}
}

// FailNext makes the next n calls of op on collection c (any collection when
// c is empty) fail with err.
func (s *MemoryStore) FailNext(op Op, c Collection, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{op: op, collection: c, remaining: n, err: err})
}

// SetWriteHook installs a hook run before every write commits.
func (s *MemoryStore) SetWriteHook(hook WriteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeWrite = hook
}

func (s *MemoryStore) takeFault(op Op, c Collection) error {
	for i, f := range s.faults {
		if f.op != op || (f.collection != "" && f.collection != c) {
			continue
		}
		f.remaining--
		if f.remaining <= 0 {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
		}
		return f.err
	}
	return nil
}

func (s *MemoryStore) collection(c Collection) *memCollection {
	col, ok := s.collections[c]
	if !ok {
		col = &memCollection{docs: make(map[string]json.RawMessage)}
		s.collections[c] = col
	}
	return col
}

func (s *MemoryStore) snapshotLocked(c Collection) Snapshot {
	col := s.collection(c)
	docs := make([]Document, 0, len(col.order))
	for _, id := range col.order {
		docs = append(docs, Document{ID: id, Data: col.docs[id]})
	}
	return Snapshot{Collection: c, Seq: col.seq, Documents: docs}
}

func (s *MemoryStore) Subscribe(ctx context.Context, c Collection, fn SnapshotFunc, onErr func(error)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if err := s.takeFault(OpSubscribe, c); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sub := newMemSubscriber(fn)
	if s.subs[c] == nil {
		s.subs[c] = make(map[*memSubscriber]struct{})
	}
	s.subs[c][sub] = struct{}{}
	sub.offer(s.snapshotLocked(c))
	s.mu.Unlock()

	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[c], sub)
			s.mu.Unlock()
			sub.stop()
		})
	}, nil
}

func (s *MemoryStore) Get(ctx context.Context, c Collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFault(OpGet, c); err != nil {
		return Document{}, err
	}
	data, ok := s.collection(c).docs[id]
	if !ok {
		return Document{}, fmt.Errorf("get %s/%s: %w", c, id, ErrNotFound)
	}
	return Document{ID: id, Data: data}, nil
}

func (s *MemoryStore) Put(ctx context.Context, c Collection, doc Document) error {
	if err := s.runHook(ctx, OpPut, c, doc.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.takeFault(OpPut, c); err != nil {
		return err
	}
	col := s.collection(c)
	if _, exists := col.docs[doc.ID]; !exists {
		col.order = append(col.order, doc.ID)
	}
	col.docs[doc.ID] = append(json.RawMessage(nil), doc.Data...)
	col.seq++
	s.publishLocked(c)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, c Collection, id string) error {
	if err := s.runHook(ctx, OpDelete, c, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.takeFault(OpDelete, c); err != nil {
		return err
	}
	col := s.collection(c)
	if _, exists := col.docs[id]; !exists {
		return nil
	}
	delete(col.docs, id)
	for i, existing := range col.order {
		if existing == id {
			col.order = append(col.order[:i], col.order[i+1:]...)
			break
		}
	}
	col.seq++
	s.publishLocked(c)
	return nil
}

func (s *MemoryStore) runHook(ctx context.Context, op Op, c Collection, id string) error {
	s.mu.Lock()
	hook := s.beforeWrite
	s.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(ctx, op, c, id)
}

func (s *MemoryStore) publishLocked(c Collection) {
	if len(s.subs[c]) == 0 {
		return
	}
	snapshot := s.snapshotLocked(c)
	for sub := range s.subs[c] {
		sub.offer(snapshot)
	}
}

// Len returns the number of documents in c.
func (s *MemoryStore) Len(c Collection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collection(c).docs)
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[Collection]map[*memSubscriber]struct{})
	s.closed = true
	s.mu.Unlock()
	for _, set := range subs {
		for sub := range set {
			sub.stop()
		}
	}
	return nil
}

// memSubscriber is a latest-only mailbox drained by one goroutine.
type memSubscriber struct {
	fn      SnapshotFunc
	mu      sync.Mutex
	latest  *Snapshot
	signal  chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newMemSubscriber(fn SnapshotFunc) *memSubscriber {
	return &memSubscriber{
		fn:      fn,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (m *memSubscriber) offer(snapshot Snapshot) {
	m.mu.Lock()
	m.latest = &snapshot
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *memSubscriber) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}
		m.mu.Lock()
		snapshot := m.latest
		m.latest = nil
		m.mu.Unlock()
		if snapshot == nil {
			continue
		}
		select {
		case <-m.done:
			return
		default:
		}
		m.fn(*snapshot)
	}
}

func (m *memSubscriber) stop() {
	m.once.Do(func() { close(m.done) })
	<-m.stopped
}

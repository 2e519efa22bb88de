// Package feed turns the document store's per-collection subscriptions into
// a stream of decoded, ordered, full-collection snapshots.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/metrics"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/retry"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

// Handler receives the full current content of a collection. It must not
// call the Unsubscribe of its own subscription.
type Handler func(items []store.Entity)

// Unsubscribe stops a subscription. It is idempotent and synchronous: once it
// returns no Handler call is running and none will start.
type Unsubscribe func()

type options struct {
	orderField string
	onError    func(error)
}

type Option func(*options)

// WithOrderField sorts items descending by a top-level document field.
// Numbers compare numerically, everything else as strings.
func WithOrderField(field string) Option {
	return func(o *options) { o.orderField = field }
}

// WithErrorHandler receives permanent subscription failures, including
// exhausted retries.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

type Adapter struct {
	docs   store.DocumentStore
	policy retry.Policy
	logger *slog.Logger
}

func New(docs store.DocumentStore, policy retry.Policy, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{docs: docs, policy: policy, logger: logger}
}

// Subscribe starts delivering snapshots of c to handler. Establishing the
// subscription happens in the background; failures never surface here.
func (a *Adapter) Subscribe(ctx context.Context, c store.Collection, handler Handler, opts ...Option) Unsubscribe {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		adapter:   a,
		id:        uuid.NewString(),
		c:         c,
		handler:   handler,
		opts:      o,
		ctx:       subCtx,
		cancel:    cancel,
		streamErr: make(chan error, 1),
		done:      make(chan struct{}),
	}
	s.logger = a.logger.With("collection", string(c), "subscription", s.id)
	go s.run()
	return s.stop
}

type subscription struct {
	adapter *Adapter
	id      string
	c       store.Collection
	handler Handler
	opts    options
	logger  *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	streamErr chan error
	done      chan struct{}
	once      sync.Once

	mu        sync.Mutex
	closed    bool
	delivered bool
	lastSeq   uint64
	// failures counts stream errors since the last delivered snapshot.
	failures int
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		cancelInner, err := s.establish()
		if err != nil {
			if s.ctx.Err() == nil {
				s.fail(err)
			}
			return
		}
		select {
		case <-s.ctx.Done():
			cancelInner()
			return
		case err := <-s.streamErr:
			cancelInner()
			if store.IsPermissionDenied(err) && !store.IsTransient(err) {
				s.fail(err)
				return
			}
			s.mu.Lock()
			s.failures++
			failures := s.failures
			s.mu.Unlock()
			policy := s.adapter.policy
			if failures > policy.MaxRetries {
				s.fail(fmt.Errorf("subscribe %s: stream failed %d times in a row: %w", s.c, failures, err))
				return
			}
			wait := policy.Delay(failures)
			s.logger.Info("subscription interrupted, resubscribing", "attempt", failures, "wait", wait, "error", err)
			metrics.SubscribeRetries.WithLabelValues(string(s.c)).Inc()
			if !sleep(s.ctx, wait) {
				return
			}
		}
	}
}

func (s *subscription) establish() (func(), error) {
	var cancelInner func()
	_, err := retry.Do(s.ctx, s.adapter.policy, store.IsTransient, func(ctx context.Context, attempt int) error {
		cancel, err := s.adapter.docs.Subscribe(ctx, s.c, s.deliver, s.onStreamError)
		if err != nil {
			return err
		}
		cancelInner = cancel
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		s.logger.Info("subscribe denied, retrying", "attempt", attempt, "wait", wait, "error", err)
		metrics.SubscribeRetries.WithLabelValues(string(s.c)).Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", s.c, err)
	}
	return cancelInner, nil
}

func (s *subscription) onStreamError(err error) {
	select {
	case s.streamErr <- err:
	default:
	}
}

func (s *subscription) fail(err error) {
	s.logger.Error("subscription failed", "error", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.opts.onError == nil {
		return
	}
	s.opts.onError(err)
}

func (s *subscription) deliver(snapshot store.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.delivered && snapshot.Seq <= s.lastSeq {
		s.logger.Debug("dropping stale snapshot", "seq", snapshot.Seq, "last_seq", s.lastSeq)
		metrics.SnapshotsDropped.WithLabelValues(string(s.c)).Inc()
		return
	}
	s.delivered = true
	s.lastSeq = snapshot.Seq
	s.failures = 0

	items := s.decode(snapshot.Documents)
	metrics.SnapshotsApplied.WithLabelValues(string(s.c)).Inc()
	s.handler(items)
}

type decoded struct {
	entity store.Entity
	key    any
}

func (s *subscription) decode(docs []store.Document) []store.Entity {
	rows := make([]decoded, 0, len(docs))
	for _, doc := range docs {
		entity, err := store.Decode(s.c, doc)
		if err != nil {
			s.logger.Warn("skipping undecodable document", "id", doc.ID, "error", err)
			metrics.DocumentsSkipped.WithLabelValues(string(s.c)).Inc()
			continue
		}
		row := decoded{entity: entity}
		if s.opts.orderField != "" {
			row.key = fieldValue(doc.Data, s.opts.orderField)
		}
		rows = append(rows, row)
	}
	if s.opts.orderField != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			return greater(rows[i].key, rows[j].key)
		})
	}
	items := make([]store.Entity, len(rows))
	for i, row := range rows {
		items[i] = row.entity
	}
	return items
}

func fieldValue(data json.RawMessage, field string) any {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields[field]
}

// greater orders a before b when a sorts higher. Missing values sort last.
func greater(a, b any) bool {
	if a == nil || b == nil {
		return a != nil && b == nil
	}
	af, aNum := a.(float64)
	bf, bNum := b.(float64)
	if aNum && bNum {
		return af > bf
	}
	return fmt.Sprint(a) > fmt.Sprint(b)
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		<-s.done
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

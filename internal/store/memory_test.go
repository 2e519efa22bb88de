package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
	notify    chan struct{}
}

func newSnapshotRecorder() *snapshotRecorder {
	return &snapshotRecorder{notify: make(chan struct{}, 64)}
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, s)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *snapshotRecorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[len(r.snapshots)-1]
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

// waitFor blocks until the latest snapshot satisfies cond.
func (r *snapshotRecorder) waitFor(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if r.count() > 0 && cond(r.last()) {
			return r.last()
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
		}
	}
}

func doc(id, body string) Document {
	return Document{ID: id, Data: json.RawMessage(body)}
}

func TestMemoryStoreSubscribeDeliversFullSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, CollectionBets, doc("b1", `{"title":"one"}`)))

	rec := newSnapshotRecorder()
	cancel, err := s.Subscribe(ctx, CollectionBets, rec.record, nil)
	require.NoError(t, err)
	defer cancel()

	first := rec.waitFor(t, func(s Snapshot) bool { return len(s.Documents) == 1 })
	assert.Equal(t, uint64(1), first.Seq)

	require.NoError(t, s.Put(ctx, CollectionBets, doc("b2", `{"title":"two"}`)))
	require.NoError(t, s.Put(ctx, CollectionBets, doc("b1", `{"title":"one again"}`)))
	latest := rec.waitFor(t, func(s Snapshot) bool { return s.Seq == 3 })
	require.Len(t, latest.Documents, 2)
	assert.Equal(t, "b1", latest.Documents[0].ID)
	assert.JSONEq(t, `{"title":"one again"}`, string(latest.Documents[0].Data))

	require.NoError(t, s.Delete(ctx, CollectionBets, "b1"))
	latest = rec.waitFor(t, func(s Snapshot) bool { return s.Seq == 4 })
	require.Len(t, latest.Documents, 1)
	assert.Equal(t, "b2", latest.Documents[0].ID)
}

func TestMemoryStoreNoDeliveryAfterCancel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := newSnapshotRecorder()
	cancel, err := s.Subscribe(ctx, CollectionTasks, rec.record, nil)
	require.NoError(t, err)
	rec.waitFor(t, func(Snapshot) bool { return true })

	cancel()
	before := rec.count()
	require.NoError(t, s.Put(ctx, CollectionTasks, doc("t1", `{}`)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, rec.count())
	cancel()
}

func TestMemoryStoreFaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	denied := &AccessError{Op: "put", Collection: CollectionBets, Transient: true, Reason: "not yet"}
	s.FailNext(OpPut, CollectionBets, 2, denied)

	err := s.Put(ctx, CollectionBets, doc("b1", `{}`))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.True(t, IsPermissionDenied(err))
	require.Error(t, s.Put(ctx, CollectionBets, doc("b1", `{}`)))
	require.NoError(t, s.Put(ctx, CollectionBets, doc("b1", `{}`)))
	require.NoError(t, s.Put(ctx, CollectionTasks, doc("t1", `{}`)))

	_, err = s.Get(ctx, CollectionBets, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreWriteHookHoldsWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	release := make(chan struct{})
	s.SetWriteHook(func(ctx context.Context, op Op, c Collection, id string) error {
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.Put(ctx, CollectionBets, doc("b1", `{}`)) }()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, s.Len(CollectionBets))
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, s.Len(CollectionBets))
}

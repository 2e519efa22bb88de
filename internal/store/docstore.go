package store

import "context"

// SnapshotFunc receives the full current content of a collection.
type SnapshotFunc func(Snapshot)

// DocumentStore is the external key-value document store: per-collection
// subscriptions that deliver full snapshots, point reads, and whole-document
// upserts and deletes keyed by id.
type DocumentStore interface {
	// Subscribe delivers the current snapshot and then one snapshot after
	// every commit (bursts may be coalesced). onErr receives failures of an
	// established subscription. No delivery happens after cancel returns.
	Subscribe(ctx context.Context, c Collection, fn SnapshotFunc, onErr func(error)) (cancel func(), err error)
	Get(ctx context.Context, c Collection, id string) (Document, error)
	Put(ctx context.Context, c Collection, doc Document) error
	Delete(ctx context.Context, c Collection, id string) error
	Ping(ctx context.Context) error
	Close() error
}

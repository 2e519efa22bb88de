// Package coordinator applies local mutations to the entity store at once and
// persists them to the document store, keeping bet progress consistent with
// task progress on every path.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/entitystore"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/metrics"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/rbac"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/retry"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid entity")
	ErrNotFound  = errors.New("entity not found")
)

type Coordinator struct {
	docs     store.DocumentStore
	entities *entitystore.Store
	actorID  string
	policy   retry.Policy
	logger   *slog.Logger
	now      func() time.Time
	revert   bool
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRevertOnFailure restores the prior value when a write fails
// permanently. By default the optimistic value stays until the next snapshot.
func WithRevertOnFailure() Option {
	return func(c *Coordinator) { c.revert = true }
}

// New returns a coordinator writing on behalf of actorID.
func New(docs store.DocumentStore, entities *entitystore.Store, actorID string, opts ...Option) *Coordinator {
	c := &Coordinator{
		docs:     docs,
		entities: entities,
		actorID:  actorID,
		policy:   retry.DefaultPolicy(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) ActorID() string {
	return c.actorID
}

// Write creates or replaces e. Tasks and bets go through SaveTask and
// SaveBet so bet progress always follows the rollup.
func (c *Coordinator) Write(ctx context.Context, e store.Entity) error {
	switch v := e.(type) {
	case store.Task:
		return c.SaveTask(ctx, v)
	case store.Bet:
		return c.SaveBet(ctx, v)
	default:
		return c.save(ctx, e)
	}
}

// Delete removes id from col. Bets take their tasks with them.
func (c *Coordinator) Delete(ctx context.Context, col store.Collection, id string) error {
	switch col {
	case store.CollectionTasks:
		return c.DeleteTask(ctx, id)
	case store.CollectionBets:
		return c.DeleteBet(ctx, id)
	default:
		return c.remove(ctx, col, id)
	}
}

func (c *Coordinator) save(ctx context.Context, e store.Entity) error {
	e, created := c.stamp(e)
	if err := c.check(e, false); err != nil {
		return err
	}
	h := c.entities.Apply(e)
	if err := c.finish(h, c.put(ctx, e)); err != nil {
		return err
	}
	c.audit(ctx, e, activityFor(e, created))
	return nil
}

func (c *Coordinator) remove(ctx context.Context, col store.Collection, id string) error {
	if err := c.authorize(col, id, true); err != nil {
		return err
	}
	existing, _ := c.entities.Get(col, id)
	h := c.entities.ApplyDelete(col, id)
	if err := c.finish(h, c.del(ctx, col, id)); err != nil {
		return err
	}
	if existing != nil {
		c.audit(ctx, existing, store.ActivityDeleted)
	}
	return nil
}

// check validates e and runs the client-side permission check.
func (c *Coordinator) check(e store.Entity, deleting bool) error {
	if err := store.Validate(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return c.authorize(e.EntityCollection(), e.EntityID(), deleting)
}

// authorize mirrors the store's access rules against the cached actor so
// obviously forbidden writes never reach the overlay. An actor whose user
// document has not arrived yet is let through; the store decides.
func (c *Coordinator) authorize(col store.Collection, id string, deleting bool) error {
	if col == store.CollectionUsers && id == c.actorID {
		return nil
	}
	if col == store.CollectionActivity {
		if deleting {
			return fmt.Errorf("%w: activity entries are never deleted", ErrForbidden)
		}
		if _, exists := c.entities.Get(col, id); exists {
			return fmt.Errorf("%w: activity entry %s already exists", ErrForbidden, id)
		}
	}
	actor, ok := c.entities.User(c.actorID)
	if !ok {
		return nil
	}
	role := rbac.Normalize(string(actor.Role))
	if !rbac.Can(role, store.RequiredAction(col, deleting)) {
		return fmt.Errorf("%w: role %s may not change %s", ErrForbidden, role, col)
	}
	return nil
}

// finish settles h with err and applies the failure policy.
func (c *Coordinator) finish(h *entitystore.Pending, err error) error {
	c.entities.Settle(h, err)
	if err == nil {
		return nil
	}
	if c.revert {
		c.entities.Revert(h)
	}
	c.logger.Warn("write failed", "collection", h.Collection, "id", h.ID, "error", err)
	return err
}

func (c *Coordinator) put(ctx context.Context, e store.Entity) error {
	doc, err := store.Encode(e)
	if err != nil {
		return err
	}
	col := e.EntityCollection()
	return c.persist(ctx, col, "put", doc.ID, func(ctx context.Context) error {
		return c.docs.Put(ctx, col, doc)
	})
}

func (c *Coordinator) del(ctx context.Context, col store.Collection, id string) error {
	return c.persist(ctx, col, "delete", id, func(ctx context.Context) error {
		return c.docs.Delete(ctx, col, id)
	})
}

// persist runs op, retrying transient permission denials.
func (c *Coordinator) persist(ctx context.Context, col store.Collection, op, id string, fn func(context.Context) error) error {
	_, err := retry.Do(ctx, c.policy, store.IsTransient, func(ctx context.Context, attempt int) error {
		return fn(ctx)
	}, func(attempt int, wait time.Duration, err error) {
		c.logger.Info("write denied, retrying", "collection", col, "id", id, "op", op, "attempt", attempt, "wait", wait)
		metrics.WriteRetries.WithLabelValues(string(col)).Inc()
	})
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Writes.WithLabelValues(string(col), op, result).Inc()
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", op, col, id, err)
	}
	return nil
}

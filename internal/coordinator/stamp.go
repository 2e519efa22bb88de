package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/util"
)

// stamp fills in a missing id and the bookkeeping timestamps. created is
// true when the entity is not known yet.
func (c *Coordinator) stamp(e store.Entity) (store.Entity, bool) {
	now := c.now().UTC()
	_, exists := c.entities.Get(e.EntityCollection(), e.EntityID())
	created := !exists || e.EntityID() == ""

	switch v := e.(type) {
	case store.User:
		ensureID(&v.ID)
		touch(&v.CreatedAt, &v.UpdatedAt, now)
		return v, created
	case store.Theme:
		ensureID(&v.ID)
		touch(&v.CreatedAt, &v.UpdatedAt, now)
		return v, created
	case store.Outcome:
		ensureID(&v.ID)
		touch(&v.CreatedAt, &v.UpdatedAt, now)
		return v, created
	case store.Measure:
		ensureID(&v.ID)
		touch(&v.CreatedAt, &v.UpdatedAt, now)
		return v, created
	case store.Bet:
		ensureID(&v.ID)
		touch(&v.CreatedAt, &v.UpdatedAt, now)
		return v, created
	case store.Task:
		ensureID(&v.ID)
		touch(&v.CreatedAt, &v.UpdatedAt, now)
		return v, created
	case store.Comment:
		ensureID(&v.ID)
		if v.AuthorID == "" {
			v.AuthorID = c.actorID
		}
		touch(&v.CreatedAt, nil, now)
		return v, created
	case store.RhythmSession:
		ensureID(&v.ID)
		touch(&v.CreatedAt, &v.UpdatedAt, now)
		return v, created
	case store.CanvasSnapshot:
		ensureID(&v.ID)
		if v.CreatedBy == "" {
			v.CreatedBy = c.actorID
		}
		touch(&v.CreatedAt, nil, now)
		return v, created
	case store.Canvas:
		if v.ID == "" {
			v.ID = store.CanvasID
		}
		v.UpdatedBy = c.actorID
		v.UpdatedAt = now
		return v, created
	case store.ActivityLog:
		ensureID(&v.ID)
		if v.ActorID == "" {
			v.ActorID = c.actorID
		}
		touch(&v.CreatedAt, nil, now)
		return v, created
	default:
		return e, created
	}
}

func ensureID(id *string) {
	if *id == "" {
		*id = util.NewID("")
	}
}

func touch(createdAt, updatedAt *time.Time, now time.Time) {
	if createdAt.IsZero() {
		*createdAt = now
	}
	if updatedAt != nil {
		*updatedAt = now
	}
}

// activityFor is the audit type recorded for a successful save of e; empty
// means no audit record.
func activityFor(e store.Entity, created bool) store.ActivityType {
	switch e.(type) {
	case store.Comment:
		return store.ActivityCommented
	case store.CanvasSnapshot:
		return store.ActivitySnapshot
	case store.ActivityLog:
		return ""
	}
	if created {
		return store.ActivityCreated
	}
	return store.ActivityUpdated
}

// label is the human summary of an entity used in audit records.
func label(e store.Entity) string {
	switch v := e.(type) {
	case store.User:
		return v.DisplayName
	case store.Theme:
		return v.Name
	case store.Outcome:
		return v.Title
	case store.Measure:
		return v.Name
	case store.Bet:
		return v.Title
	case store.Task:
		return v.Title
	case store.Comment:
		return v.Body
	case store.RhythmSession:
		return v.Title
	case store.CanvasSnapshot:
		return v.Label
	case store.Canvas:
		return v.Purpose
	case store.ActivityLog:
		return v.Summary
	default:
		return e.EntityID()
	}
}

// audit appends an activity record for e. Failures are logged, not
// returned: the mutation itself already succeeded.
func (c *Coordinator) audit(ctx context.Context, e store.Entity, typ store.ActivityType) {
	if typ == "" {
		return
	}
	entry := store.ActivityLog{
		ID:        util.NewID(""),
		Type:      typ,
		TargetID:  e.EntityID(),
		ActorID:   c.actorID,
		Summary:   label(e),
		CreatedAt: c.now().UTC(),
	}
	if kind, ok := store.KindOf(e.EntityCollection()); ok {
		entry.TargetType = kind
	}
	if comment, ok := e.(store.Comment); ok {
		entry.TargetType = comment.TargetType
		entry.TargetID = comment.TargetID
	}
	if typ == store.ActivityRollup {
		if bet, ok := e.(store.Bet); ok {
			entry.Summary = fmt.Sprintf("%s progress %d%%", bet.Title, bet.Progress)
		}
	}
	if err := c.put(ctx, entry); err != nil {
		c.logger.Warn("activity log append failed", "type", typ, "entity_id", entry.TargetID, "error", err)
	}
}

package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/compose"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/entitystore"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

type rollup struct {
	bet store.Bet
	h   *entitystore.Pending
}

// SaveTask writes task and rewrites the progress of its bet, and of the bet
// it moved away from, before either persist call starts. Once bets have
// synced, a task must name one of them; before that it is accepted as is.
func (c *Coordinator) SaveTask(ctx context.Context, task store.Task) error {
	stamped, created := c.stamp(task)
	task = stamped.(store.Task)
	if err := c.check(task, false); err != nil {
		return err
	}
	if c.entities.Ready(store.CollectionBets) {
		if _, ok := c.entities.Bet(task.BetID); !ok {
			return fmt.Errorf("%w: task %s references unknown bet %q", ErrInvalid, task.ID, task.BetID)
		}
	}

	previousBet := ""
	if old, ok := c.entities.Task(task.ID); ok {
		previousBet = old.BetID
	}
	h := c.entities.Apply(task)
	rollups := c.applyRollups(task.BetID, previousBet)

	if err := c.finish(h, c.put(ctx, task)); err != nil {
		c.abandon(rollups, err)
		return err
	}
	c.audit(ctx, task, activityFor(task, created))
	return c.persistRollups(ctx, rollups)
}

// DeleteTask removes a task and rolls its bet up from the remaining tasks.
func (c *Coordinator) DeleteTask(ctx context.Context, id string) error {
	if err := c.authorize(store.CollectionTasks, id, true); err != nil {
		return err
	}
	old, known := c.entities.Task(id)
	h := c.entities.ApplyDelete(store.CollectionTasks, id)
	var rollups []rollup
	if known {
		rollups = c.applyRollups(old.BetID)
	}

	if err := c.finish(h, c.del(ctx, store.CollectionTasks, id)); err != nil {
		c.abandon(rollups, err)
		return err
	}
	if known {
		c.audit(ctx, old, store.ActivityDeleted)
	}
	return c.persistRollups(ctx, rollups)
}

// SaveBet writes bet with its progress forced to the rollup of its tasks
// whenever it has any.
func (c *Coordinator) SaveBet(ctx context.Context, bet store.Bet) error {
	stamped, created := c.stamp(bet)
	bet = stamped.(store.Bet)
	if progress, ok := compose.Rollup(c.entities.TasksFor(bet.ID)); ok {
		bet.Progress = progress
	}
	if err := c.check(bet, false); err != nil {
		return err
	}
	h := c.entities.Apply(bet)
	if err := c.finish(h, c.put(ctx, bet)); err != nil {
		return err
	}
	c.audit(ctx, bet, activityFor(bet, created))
	return nil
}

// DeleteBet deletes the bet's tasks first and the bet only once they are
// all gone.
func (c *Coordinator) DeleteBet(ctx context.Context, id string) error {
	if err := c.authorize(store.CollectionBets, id, true); err != nil {
		return err
	}
	for _, task := range c.entities.TasksFor(id) {
		if err := c.remove(ctx, store.CollectionTasks, task.ID); err != nil {
			return fmt.Errorf("delete tasks of bet %s: %w", id, err)
		}
	}
	return c.remove(ctx, store.CollectionBets, id)
}

// ReapOrphanTasks deletes tasks whose bet no longer exists. It does nothing
// until both collections have been synced at least once.
func (c *Coordinator) ReapOrphanTasks(ctx context.Context) (int, error) {
	if !c.entities.Ready(store.CollectionBets) || !c.entities.Ready(store.CollectionTasks) {
		return 0, nil
	}
	orphans := compose.OrphanTasks(c.entities.Bets(), c.entities.Tasks())
	var errs []error
	reaped := 0
	for _, task := range orphans {
		if err := c.remove(ctx, store.CollectionTasks, task.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		c.logger.Info("reaped orphan tasks", "count", reaped)
	}
	return reaped, errors.Join(errs...)
}

// applyRollups recomputes each named bet from the current task view and
// applies the changed ones optimistically.
func (c *Coordinator) applyRollups(betIDs ...string) []rollup {
	tasks := c.entities.Tasks()
	seen := make(map[string]bool, len(betIDs))
	var out []rollup
	for _, id := range betIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		bet, ok := c.entities.Bet(id)
		if !ok {
			c.logger.Debug("task references unknown bet", "bet_id", id)
			continue
		}
		updated, changed := compose.ApplyRollup(bet, tasks, c.now().UTC())
		if !changed {
			continue
		}
		out = append(out, rollup{bet: updated, h: c.entities.Apply(updated)})
	}
	return out
}

func (c *Coordinator) persistRollups(ctx context.Context, rollups []rollup) error {
	var first error
	for _, r := range rollups {
		if err := c.finish(r.h, c.put(ctx, r.bet)); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		c.audit(ctx, r.bet, store.ActivityRollup)
	}
	return first
}

// abandon settles rollups whose triggering write failed.
func (c *Coordinator) abandon(rollups []rollup, err error) {
	for _, r := range rollups {
		c.entities.Settle(r.h, err)
		if c.revert {
			c.entities.Revert(r.h)
		}
	}
}

// SetAdvisory stores generated text on a bet. Nothing but Advisory changes,
// so a late generation never overwrites structure edited in the meantime.
func (c *Coordinator) SetAdvisory(ctx context.Context, betID, text string) error {
	bet, ok := c.entities.Bet(betID)
	if !ok {
		return fmt.Errorf("bet %s: %w", betID, ErrNotFound)
	}
	bet.Advisory = text
	stamped, _ := c.stamp(bet)
	bet = stamped.(store.Bet)
	if err := c.check(bet, false); err != nil {
		return err
	}
	h := c.entities.Apply(bet)
	if err := c.finish(h, c.put(ctx, bet)); err != nil {
		return err
	}
	c.audit(ctx, bet, store.ActivityAdvisory)
	return nil
}

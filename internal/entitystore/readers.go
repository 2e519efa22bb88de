package entitystore

import (
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

func listAs[T store.Entity](s *Store, c store.Collection) []T {
	items := s.List(c)
	out := make([]T, 0, len(items))
	for _, item := range items {
		if v, ok := item.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func getAs[T store.Entity](s *Store, c store.Collection, id string) (T, bool) {
	var zero T
	item, ok := s.Get(c, id)
	if !ok {
		return zero, false
	}
	v, ok := item.(T)
	return v, ok
}

func (s *Store) Users() []store.User             { return listAs[store.User](s, store.CollectionUsers) }
func (s *Store) Themes() []store.Theme           { return listAs[store.Theme](s, store.CollectionThemes) }
func (s *Store) Outcomes() []store.Outcome       { return listAs[store.Outcome](s, store.CollectionOutcomes) }
func (s *Store) Measures() []store.Measure       { return listAs[store.Measure](s, store.CollectionMeasures) }
func (s *Store) Bets() []store.Bet               { return listAs[store.Bet](s, store.CollectionBets) }
func (s *Store) Tasks() []store.Task             { return listAs[store.Task](s, store.CollectionTasks) }
func (s *Store) Comments() []store.Comment       { return listAs[store.Comment](s, store.CollectionComments) }
func (s *Store) Sessions() []store.RhythmSession { return listAs[store.RhythmSession](s, store.CollectionSessions) }
func (s *Store) Snapshots() []store.CanvasSnapshot {
	return listAs[store.CanvasSnapshot](s, store.CollectionSnapshots)
}
func (s *Store) ActivityLogs() []store.ActivityLog {
	return listAs[store.ActivityLog](s, store.CollectionActivity)
}

func (s *Store) User(id string) (store.User, bool) { return getAs[store.User](s, store.CollectionUsers, id) }
func (s *Store) Bet(id string) (store.Bet, bool)   { return getAs[store.Bet](s, store.CollectionBets, id) }
func (s *Store) Task(id string) (store.Task, bool) { return getAs[store.Task](s, store.CollectionTasks, id) }
func (s *Store) Outcome(id string) (store.Outcome, bool) {
	return getAs[store.Outcome](s, store.CollectionOutcomes, id)
}

// Canvas returns the singleton canvas document.
func (s *Store) Canvas() (store.Canvas, bool) {
	return getAs[store.Canvas](s, store.CollectionCanvas, store.CanvasID)
}

// TasksFor returns the tasks of betID in feed order.
func (s *Store) TasksFor(betID string) []store.Task {
	var out []store.Task
	for _, task := range s.Tasks() {
		if task.BetID == betID {
			out = append(out, task)
		}
	}
	return out
}

// CommentsFor returns the comments attached to one entity.
func (s *Store) CommentsFor(kind store.EntityKind, id string) []store.Comment {
	var out []store.Comment
	for _, comment := range s.Comments() {
		if comment.TargetType == kind && comment.TargetID == id {
			out = append(out, comment)
		}
	}
	return out
}

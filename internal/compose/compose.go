// Package compose joins tasks onto their bets and derives bet progress from
// task progress. Everything here is pure: no I/O, no shared state, and
// missing foreign keys are treated as "no match".
package compose

import (
	"sort"
	"time"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

// PopulatedBet is a bet with its tasks attached.
type PopulatedBet struct {
	store.Bet
	Tasks []store.Task `json:"tasks"`
}

// Populate attaches to every bet the tasks whose BetID names it, in the
// order the tasks are given. Tasks pointing at unknown bets are left out.
func Populate(bets []store.Bet, tasks []store.Task) []PopulatedBet {
	byBet := make(map[string][]store.Task, len(bets))
	for _, task := range tasks {
		byBet[task.BetID] = append(byBet[task.BetID], task)
	}
	out := make([]PopulatedBet, len(bets))
	for i, bet := range bets {
		attached := byBet[bet.ID]
		out[i] = PopulatedBet{Bet: bet, Tasks: make([]store.Task, len(attached))}
		copy(out[i].Tasks, attached)
	}
	return out
}

// RoundHalfUp returns sum/n rounded to the nearest integer, halves upward.
// n must be positive and sum non-negative.
func RoundHalfUp(sum, n int) int {
	return (2*sum + n) / (2 * n)
}

// Rollup is the derived progress of a set of tasks; ok is false when there
// are none and the bet keeps its own value.
func Rollup(tasks []store.Task) (progress int, ok bool) {
	if len(tasks) == 0 {
		return 0, false
	}
	sum := 0
	for _, task := range tasks {
		sum += task.Progress
	}
	return RoundHalfUp(sum, len(tasks)), true
}

// TasksOf filters tasks to those of betID, keeping their order.
func TasksOf(betID string, tasks []store.Task) []store.Task {
	var out []store.Task
	for _, task := range tasks {
		if task.BetID == betID {
			out = append(out, task)
		}
	}
	return out
}

// ApplyRollup returns bet with progress derived from its tasks among the
// given ones. changed is false, and bet is returned untouched, when the
// rollup is undefined or equals the current progress.
func ApplyRollup(bet store.Bet, tasks []store.Task, now time.Time) (store.Bet, bool) {
	progress, ok := Rollup(TasksOf(bet.ID, tasks))
	if !ok || progress == bet.Progress {
		return bet, false
	}
	bet.Progress = progress
	bet.UpdatedAt = now
	return bet, true
}

// OrphanTasks lists tasks whose bet does not exist.
func OrphanTasks(bets []store.Bet, tasks []store.Task) []store.Task {
	known := make(map[string]bool, len(bets))
	for _, bet := range bets {
		known[bet.ID] = true
	}
	var out []store.Task
	for _, task := range tasks {
		if !known[task.BetID] {
			out = append(out, task)
		}
	}
	return out
}

// ThemeSummary aggregates the bets of one theme.
type ThemeSummary struct {
	ThemeID         string `json:"theme_id"`
	Bets            int    `json:"bets"`
	Tasks           int    `json:"tasks"`
	AverageProgress int    `json:"average_progress"`
}

// Summary groups populated bets by theme, sorted by theme id. Archived bets
// are skipped; bets without a theme are grouped under "".
func Summary(bets []PopulatedBet) []ThemeSummary {
	type acc struct {
		bets, tasks, progress int
	}
	byTheme := make(map[string]*acc)
	for _, bet := range bets {
		if bet.ArchivedAt != nil {
			continue
		}
		a, ok := byTheme[bet.ThemeID]
		if !ok {
			a = &acc{}
			byTheme[bet.ThemeID] = a
		}
		a.bets++
		a.tasks += len(bet.Tasks)
		a.progress += bet.Progress
	}
	out := make([]ThemeSummary, 0, len(byTheme))
	for themeID, a := range byTheme {
		out = append(out, ThemeSummary{
			ThemeID:         themeID,
			Bets:            a.bets,
			Tasks:           a.tasks,
			AverageProgress: RoundHalfUp(a.progress, a.bets),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThemeID < out[j].ThemeID })
	return out
}

package compose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

func task(id, betID string, progress int) store.Task {
	return store.Task{ID: id, BetID: betID, Title: id, Progress: progress}
}

func TestRollup(t *testing.T) {
	cases := []struct {
		name     string
		progress []int
		want     int
		ok       bool
	}{
		{name: "no tasks", ok: false},
		{name: "single", progress: []int{25}, want: 25, ok: true},
		{name: "three", progress: []int{100, 75, 50}, want: 75, ok: true},
		{name: "fourth at zero", progress: []int{100, 75, 50, 0}, want: 56, ok: true},
		{name: "half rounds up", progress: []int{25, 0}, want: 13, ok: true},
		{name: "all done", progress: []int{100, 100}, want: 100, ok: true},
		{name: "thirds", progress: []int{0, 0, 50}, want: 17, ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var tasks []store.Task
			for i, p := range tc.progress {
				tasks = append(tasks, task(string(rune('a'+i)), "b1", p))
			}
			got, ok := Rollup(tasks)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, 3, RoundHalfUp(5, 2))
	assert.Equal(t, 2, RoundHalfUp(7, 4))
	assert.Equal(t, 0, RoundHalfUp(0, 9))
}

func TestPopulate(t *testing.T) {
	bets := []store.Bet{{ID: "b1", Title: "one"}, {ID: "b2", Title: "two"}}
	tasks := []store.Task{task("t3", "b1", 0), task("t1", "b2", 50), task("t2", "b1", 100), task("orphan", "gone", 25)}

	populated := Populate(bets, tasks)
	require.Len(t, populated, 2)
	require.Len(t, populated[0].Tasks, 2)
	assert.Equal(t, "t3", populated[0].Tasks[0].ID)
	assert.Equal(t, "t2", populated[0].Tasks[1].ID)
	assert.Len(t, populated[1].Tasks, 1)

	for _, bet := range populated {
		for _, task := range bet.Tasks {
			assert.NotEqual(t, "orphan", task.ID)
		}
	}
}

func TestPopulateIsIdempotent(t *testing.T) {
	bets := []store.Bet{{ID: "b1"}, {ID: "b2"}}
	tasks := []store.Task{task("t1", "b1", 25), task("t2", "missing", 50)}
	first := Populate(bets, tasks)
	second := Populate(bets, tasks)
	assert.Equal(t, first, second)

	first[0].Tasks[0].Progress = 100
	assert.Equal(t, 25, tasks[0].Progress)
}

func TestPopulateWithoutBets(t *testing.T) {
	assert.Empty(t, Populate(nil, []store.Task{task("t1", "b1", 25)}))
}

func TestApplyRollup(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	bet := store.Bet{ID: "b1", Progress: 10}

	unchanged, changed := ApplyRollup(bet, nil, now)
	assert.False(t, changed)
	assert.Equal(t, 10, unchanged.Progress)
	assert.True(t, unchanged.UpdatedAt.IsZero())

	tasks := []store.Task{task("t1", "b1", 100), task("t2", "b1", 75), task("t3", "b1", 50), task("x", "b2", 0)}
	updated, changed := ApplyRollup(bet, tasks, now)
	assert.True(t, changed)
	assert.Equal(t, 75, updated.Progress)
	assert.Equal(t, now, updated.UpdatedAt)

	again, changed := ApplyRollup(updated, tasks, now.Add(time.Hour))
	assert.False(t, changed)
	assert.Equal(t, now, again.UpdatedAt)
}

func TestOrphanTasks(t *testing.T) {
	bets := []store.Bet{{ID: "b1"}}
	tasks := []store.Task{task("t1", "b1", 0), task("t2", "b9", 0), task("t3", "", 0)}
	orphans := OrphanTasks(bets, tasks)
	require.Len(t, orphans, 2)
	assert.Equal(t, "t2", orphans[0].ID)
	assert.Equal(t, "t3", orphans[1].ID)
}

func TestSummary(t *testing.T) {
	archived := time.Now()
	bets := Populate([]store.Bet{
		{ID: "b1", ThemeID: "growth", Progress: 50},
		{ID: "b2", ThemeID: "growth", Progress: 25},
		{ID: "b3", ThemeID: "ops", Progress: 80},
		{ID: "b4", ThemeID: "ops", Progress: 0, ArchivedAt: &archived},
	}, []store.Task{task("t1", "b1", 50)})

	summary := Summary(bets)
	require.Len(t, summary, 2)
	assert.Equal(t, ThemeSummary{ThemeID: "growth", Bets: 2, Tasks: 1, AverageProgress: 38}, summary[0])
	assert.Equal(t, ThemeSummary{ThemeID: "ops", Bets: 1, Tasks: 0, AverageProgress: 80}, summary[1])
}

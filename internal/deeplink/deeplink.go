// Package deeplink keeps "which detail view is open" in step with a
// shareable location such as "/bets?betId=b1&taskId=t4".
package deeplink

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

const (
	ParamBet     = "betId"
	ParamOutcome = "outcomeId"
	ParamTask    = "taskId"
)

// View is the detail surface driven by a Sync.
type View interface {
	OpenBet(bet store.Bet, focusTaskID string)
	OpenOutcome(outcome store.Outcome)
	CloseDetail()
}

// Source resolves ids; *entitystore.Store satisfies it.
type Source interface {
	Ready(c store.Collection) bool
	Bet(id string) (store.Bet, bool)
	Outcome(id string) (store.Outcome, bool)
	Task(id string) (store.Task, bool)
}

// NavigateFunc is told about locations the Sync produced itself. replace is
// true when a parameter was stripped rather than set by a user action.
type NavigateFunc func(location string, replace bool)

type Option func(*Sync)

func WithNavigate(fn NavigateFunc) Option {
	return func(s *Sync) { s.onNavigate = append(s.onNavigate, fn) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sync) { s.logger = logger }
}

type detail struct {
	kind store.EntityKind
	id   string
	task string
}

type Sync struct {
	mu         sync.Mutex
	source     Source
	view       View
	location   *url.URL
	pending    bool
	open       detail
	onNavigate []NavigateFunc
	logger     *slog.Logger
}

// New starts at path with no detail open.
func New(source Source, view View, path string, opts ...Option) *Sync {
	if path == "" {
		path = "/"
	}
	s := &Sync{
		source:   source,
		view:     view,
		location: &url.URL{Path: path},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the current shareable location.
func (s *Sync) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location.String()
}

// Pending reports whether a parameter is waiting for its collection's first
// snapshot.
func (s *Sync) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// OpenBet opens a bet's detail view and records it in the location.
func (s *Sync) OpenBet(betID string) {
	s.OpenBetTask(betID, "")
}

// OpenBetTask opens a bet's detail view focused on one of its tasks.
func (s *Sync) OpenBetTask(betID, taskID string) {
	s.update(func(q url.Values) {
		q.Set(ParamBet, betID)
		q.Del(ParamOutcome)
		setOrDel(q, ParamTask, taskID)
	})
}

// OpenOutcome opens an outcome's detail view and records it in the location.
func (s *Sync) OpenOutcome(outcomeID string) {
	s.update(func(q url.Values) {
		q.Set(ParamOutcome, outcomeID)
		q.Del(ParamBet)
		q.Del(ParamTask)
	})
}

// Close closes the detail view and clears its parameters.
func (s *Sync) Close() {
	s.update(func(q url.Values) {
		q.Del(ParamBet)
		q.Del(ParamOutcome)
		q.Del(ParamTask)
	})
}

func (s *Sync) update(mutate func(url.Values)) {
	s.mu.Lock()
	q := s.location.Query()
	mutate(q)
	s.location.RawQuery = q.Encode()
	effects := []func(){s.announce(s.location.String(), false)}
	effects = append(effects, s.resolveLocked()...)
	s.mu.Unlock()
	run(effects)
}

// Navigate adopts a location from outside (a pasted link, back/forward) and
// opens whatever it names once the referenced collection is ready.
func (s *Sync) Navigate(location string) error {
	u, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("parse location %q: %w", location, err)
	}
	s.mu.Lock()
	s.location = u
	effects := s.resolveLocked()
	s.mu.Unlock()
	run(effects)
	return nil
}

// Refresh retries a pending resolution; wire it to entity store changes.
func (s *Sync) Refresh() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	effects := s.resolveLocked()
	s.mu.Unlock()
	run(effects)
}

// resolveLocked works out the detail the location names and returns the
// view calls and notifications to run once the lock is released.
func (s *Sync) resolveLocked() []func() {
	q := s.location.Query()
	betID, outcomeID, taskID := q.Get(ParamBet), q.Get(ParamOutcome), q.Get(ParamTask)
	s.pending = false

	switch {
	case betID != "":
		if !s.source.Ready(store.CollectionBets) || (taskID != "" && !s.source.Ready(store.CollectionTasks)) {
			s.pending = true
			return nil
		}
		bet, ok := s.source.Bet(betID)
		if !ok {
			s.logger.Debug("deep link names unknown bet", "bet_id", betID)
			return append(s.strip(ParamBet, ParamTask), s.closeLocked()...)
		}
		var effects []func()
		if taskID != "" {
			if task, ok := s.source.Task(taskID); !ok || task.BetID != betID {
				s.logger.Debug("deep link names unknown task", "bet_id", betID, "task_id", taskID)
				effects = s.strip(ParamTask)
				taskID = ""
			}
		}
		want := detail{kind: store.KindBet, id: betID, task: taskID}
		if s.open != want {
			s.open = want
			effects = append(effects, func() { s.view.OpenBet(bet, taskID) })
		}
		return effects
	case outcomeID != "":
		if !s.source.Ready(store.CollectionOutcomes) {
			s.pending = true
			return nil
		}
		outcome, ok := s.source.Outcome(outcomeID)
		if !ok {
			s.logger.Debug("deep link names unknown outcome", "outcome_id", outcomeID)
			return append(s.strip(ParamOutcome), s.closeLocked()...)
		}
		want := detail{kind: store.KindOutcome, id: outcomeID}
		if s.open == want {
			return nil
		}
		s.open = want
		return []func(){func() { s.view.OpenOutcome(outcome) }}
	default:
		return s.closeLocked()
	}
}

func (s *Sync) closeLocked() []func() {
	if s.open == (detail{}) {
		return nil
	}
	s.open = detail{}
	return []func(){s.view.CloseDetail}
}

// strip removes params from the location and announces the replacement.
func (s *Sync) strip(params ...string) []func() {
	q := s.location.Query()
	for _, p := range params {
		q.Del(p)
	}
	s.location.RawQuery = q.Encode()
	return []func(){s.announce(s.location.String(), true)}
}

func (s *Sync) announce(location string, replace bool) func() {
	listeners := append([]NavigateFunc(nil), s.onNavigate...)
	return func() {
		for _, fn := range listeners {
			fn(location, replace)
		}
	}
}

func setOrDel(q url.Values, key, value string) {
	if value == "" {
		q.Del(key)
		return
	}
	q.Set(key, value)
}

func run(effects []func()) {
	for _, effect := range effects {
		effect()
	}
}

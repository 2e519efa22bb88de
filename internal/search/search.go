package search

import (
	"strings"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultOutcome ResultType = "outcome"
	ResultMeasure ResultType = "measure"
	ResultBet     ResultType = "bet"
	ResultTask    ResultType = "task"
)

func (t ResultType) Valid() bool {
	switch t {
	case ResultOutcome, ResultMeasure, ResultBet, ResultTask:
		return true
	default:
		return false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	ThemeID string     `json:"themeId,omitempty"`
	BetID   string     `json:"betId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	FilterThemeID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push records into a search index.
type Indexer interface {
	Upsert(records []Record) error
	Delete(ids []string) error
}

// Index is a remote index that both searches and accepts records.
type Index interface {
	Searcher
	Indexer
}

// Record is the data we index for one strategy entity.
type Record struct {
	ID      string     `json:"id"`
	Type    ResultType `json:"type"`
	Title   string     `json:"title"`
	Body    string     `json:"body"`
	ThemeID string     `json:"themeId"`
	BetID   string     `json:"betId"`
}

// Entities is the read side records are built from.
type Entities interface {
	Outcomes() []store.Outcome
	Measures() []store.Measure
	Bets() []store.Bet
	Tasks() []store.Task
}

// Records flattens the searchable collections. Archived entities are left out.
func Records(src Entities) []Record {
	var records []Record
	for _, o := range src.Outcomes() {
		if o.ArchivedAt != nil {
			continue
		}
		records = append(records, Record{ID: o.ID, Type: ResultOutcome, Title: o.Title, Body: o.Description, ThemeID: o.ThemeID})
	}
	for _, m := range src.Measures() {
		records = append(records, Record{ID: m.ID, Type: ResultMeasure, Title: m.Name, Body: m.Unit})
	}
	betThemes := make(map[string]string)
	for _, b := range src.Bets() {
		if b.ArchivedAt != nil {
			continue
		}
		betThemes[b.ID] = b.ThemeID
		body := strings.TrimSpace(strings.Join([]string{b.Description, b.Hypothesis}, "\n"))
		records = append(records, Record{ID: b.ID, Type: ResultBet, Title: b.Title, Body: body, ThemeID: b.ThemeID})
	}
	for _, t := range src.Tasks() {
		themeID, ok := betThemes[t.BetID]
		if !ok {
			continue
		}
		records = append(records, Record{ID: t.ID, Type: ResultTask, Title: t.Title, ThemeID: themeID, BetID: t.BetID})
	}
	return records
}

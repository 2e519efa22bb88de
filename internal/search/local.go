package search

import (
	"sort"
	"strings"
	"unicode/utf8"
)

var typeRank = map[ResultType]int{ResultOutcome: 0, ResultMeasure: 1, ResultBet: 2, ResultTask: 3}

// Local searches the in-memory entity store by case-insensitive substring.
// It backs the search endpoint whenever Meilisearch is not reachable.
type Local struct {
	src Entities
}

func NewLocal(src Entities) *Local {
	return &Local{src: src}
}

func (l *Local) Healthy() bool {
	return true
}

func (l *Local) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var matches []Result
	for _, r := range Records(l.src) {
		if q.FilterType != "" && r.Type != q.FilterType {
			continue
		}
		if q.FilterThemeID != "" && r.ThemeID != q.FilterThemeID {
			continue
		}
		title := strings.ToLower(r.Title)
		body := strings.ToLower(r.Body)
		if needle != "" && !strings.Contains(title, needle) && !strings.Contains(body, needle) {
			continue
		}
		matches = append(matches, Result{
			Type:    r.Type,
			ID:      r.ID,
			Title:   r.Title,
			Snippet: snippet(r.Body, needle),
			ThemeID: r.ThemeID,
			BetID:   r.BetID,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Type != matches[j].Type {
			return typeRank[matches[i].Type] < typeRank[matches[j].Type]
		}
		return strings.ToLower(matches[i].Title) < strings.ToLower(matches[j].Title)
	})

	total := len(matches)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if q.Offset >= total {
		return nil, total, nil
	}
	end := q.Offset + limit
	if end > total {
		end = total
	}
	return matches[q.Offset:end], total, nil
}

const snippetRadius = 60

func snippet(body, needle string) string {
	runes := []rune(body)
	if len(runes) == 0 {
		return ""
	}
	at := 0
	if lower := strings.ToLower(body); needle != "" && utf8.RuneCountInString(lower) == len(runes) {
		if i := strings.Index(lower, needle); i > 0 {
			at = utf8.RuneCountInString(lower[:i])
		}
	}
	start := at - snippetRadius
	if start < 0 {
		start = 0
	}
	end := at + utf8.RuneCountInString(needle) + snippetRadius
	if end > len(runes) {
		end = len(runes)
	}
	out := string(runes[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

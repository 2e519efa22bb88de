package export

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/compose"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

// DataStore is the read side the report is built from.
type DataStore interface {
	Ready(c store.Collection) bool
	Themes() []store.Theme
	Outcomes() []store.Outcome
	Measures() []store.Measure
	Bets() []store.Bet
	Tasks() []store.Task
	Canvas() (store.Canvas, bool)
}

// Service provides strategy report export
type Service struct {
	store        DataStore
	now          func() time.Time
	referenceDoc string
}

type Option func(*Service)

// WithDOCXReference styles DOCX reports after the given Word document.
func WithDOCXReference(path string) Option {
	return func(s *Service) { s.referenceDoc = path }
}

// NewService creates a new export service
func NewService(store DataStore, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	for _, c := range []store.Collection{store.CollectionThemes, store.CollectionOutcomes, store.CollectionBets, store.CollectionTasks} {
		if !s.store.Ready(c) {
			return nil, fmt.Errorf("%w: %s not synced", ErrContentUnavailable, c)
		}
	}

	data := s.buildReport(req)
	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: reportFilename(data, "html"),
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(ctx, html, data, req.IncludeTasks)
	case FormatDOCX:
		return exportDOCX(ctx, html, data, s.referenceDoc)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

const unthemedID = ""

func (s *Service) buildReport(req Request) ReportData {
	data := ReportData{Title: "Strategy Report", GeneratedAt: s.now().UTC()}
	if canvas, ok := s.store.Canvas(); ok {
		data.Purpose = canvas.Purpose
		data.Vision = canvas.Vision
	}

	measuresByOutcome := make(map[string][]ReportMeasure)
	for _, m := range s.store.Measures() {
		measuresByOutcome[m.OutcomeID] = append(measuresByOutcome[m.OutcomeID], ReportMeasure{
			Name: m.Name, Unit: m.Unit, Baseline: m.Baseline, Target: m.Target, Current: m.Current,
		})
	}

	sections := make(map[string]*ReportTheme)
	var order []string
	section := func(themeID string) *ReportTheme {
		if sec, ok := sections[themeID]; ok {
			return sec
		}
		sec := &ReportTheme{ID: themeID, Name: "Unthemed"}
		sections[themeID] = sec
		order = append(order, themeID)
		return sec
	}
	for _, theme := range s.store.Themes() {
		if theme.ArchivedAt != nil {
			continue
		}
		sec := section(theme.ID)
		sec.Name = theme.Name
		sec.Color = theme.Color
		sec.Description = theme.Description
	}

	for _, o := range s.store.Outcomes() {
		if o.ArchivedAt != nil {
			continue
		}
		sec := section(themeOrUnthemed(sections, o.ThemeID))
		sec.Outcomes = append(sec.Outcomes, ReportOutcome{
			Title:    o.Title,
			Health:   string(o.Health),
			Measures: measuresByOutcome[o.ID],
		})
	}

	for _, bet := range compose.Populate(s.store.Bets(), s.store.Tasks()) {
		if bet.ArchivedAt != nil {
			continue
		}
		progress := bet.Progress
		if rolled, ok := compose.Rollup(bet.Tasks); ok {
			progress = rolled
		}
		rb := ReportBet{Title: bet.Title, Stage: string(bet.Stage), Progress: progress, Hypothesis: bet.Hypothesis}
		if req.IncludeTasks {
			for _, task := range bet.Tasks {
				rb.Tasks = append(rb.Tasks, ReportTask{Title: task.Title, Progress: task.Progress})
			}
		}
		sec := section(themeOrUnthemed(sections, bet.ThemeID))
		sec.Bets = append(sec.Bets, rb)
	}

	for _, id := range order {
		if req.ThemeID != "" && id != req.ThemeID {
			continue
		}
		sec := sections[id]
		if id == unthemedID && len(sec.Outcomes) == 0 && len(sec.Bets) == 0 {
			continue
		}
		data.Themes = append(data.Themes, *sec)
	}
	if req.ThemeID != "" && len(data.Themes) == 1 {
		data.Title += " - " + data.Themes[0].Name
	}
	sort.SliceStable(data.Themes, func(i, j int) bool {
		if (data.Themes[i].ID == unthemedID) != (data.Themes[j].ID == unthemedID) {
			return data.Themes[j].ID == unthemedID
		}
		return data.Themes[i].Name < data.Themes[j].Name
	})
	return data
}

// themeOrUnthemed maps a dangling or empty theme reference to the unthemed section.
func themeOrUnthemed(sections map[string]*ReportTheme, themeID string) string {
	if _, ok := sections[themeID]; ok {
		return themeID
	}
	return unthemedID
}

// reportFilename names a report after its title and generation date, for
// example Strategy-Report-Growth-2026-04-01.pdf.
func reportFilename(data ReportData, ext string) string {
	return sanitizeFilename(data.Title) + "-" + data.GeneratedAt.Format("2006-01-02") + "." + ext
}

// sanitizeFilename keeps ASCII letters, digits, '-' and '_', turns spaces
// into hyphens and caps the length at 50.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	result := strings.Trim(b.String(), "-")
	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "report"
	}
	return result
}

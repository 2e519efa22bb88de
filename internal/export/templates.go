package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(reportHTML))

// ReportData holds data for report template rendering
type ReportData struct {
	Title       string
	Purpose     string
	Vision      string
	GeneratedAt time.Time
	Themes      []ReportTheme
}

type ReportTheme struct {
	ID          string
	Name        string
	Color       string
	Description string
	Outcomes    []ReportOutcome
	Bets        []ReportBet
}

type ReportOutcome struct {
	Title    string
	Health   string
	Measures []ReportMeasure
}

type ReportMeasure struct {
	Name     string
	Unit     string
	Baseline float64
	Target   float64
	Current  float64
}

type ReportBet struct {
	Title      string
	Stage      string
	Progress   int
	Hypothesis string
	Tasks      []ReportTask
}

type ReportTask struct {
	Title    string
	Progress int
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 860px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; border-left: 6px solid var(--theme, #333); padding-left: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .health { display: inline-block; padding: 0 0.4rem; border-radius: 3px; font-size: 0.8em; text-transform: uppercase; }
    .health-green { background: #d8f3dc; } .health-yellow { background: #fff3bf; } .health-red { background: #ffd6d6; }
    table { border-collapse: collapse; width: 100%; margin: 0.5rem 0 1rem; }
    th, td { border: 1px solid #ddd; padding: 0.3rem 0.5rem; text-align: left; font-size: 0.9em; }
    .progress { font-variant-numeric: tabular-nums; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}}</div>
  {{if .Purpose}}<p><strong>Purpose:</strong> {{.Purpose}}</p>{{end}}
  {{if .Vision}}<p><strong>Vision:</strong> {{.Vision}}</p>{{end}}
  {{range .Themes}}
  <section>
    <h2{{if .Color}} style="--theme: {{.Color}}"{{end}}>{{.Name}}</h2>
    {{if .Description}}<p>{{.Description}}</p>{{end}}
    {{if .Outcomes}}
    <h3>Outcomes</h3>
    {{range .Outcomes}}
    <p>{{.Title}} <span class="health health-{{lower .Health}}">{{.Health}}</span></p>
    {{if .Measures}}
    <table>
      <tr><th>Measure</th><th>Baseline</th><th>Current</th><th>Target</th></tr>
      {{range .Measures}}<tr><td>{{.Name}}</td><td>{{.Baseline}} {{.Unit}}</td><td>{{.Current}} {{.Unit}}</td><td>{{.Target}} {{.Unit}}</td></tr>{{end}}
    </table>
    {{end}}
    {{end}}
    {{end}}
    {{if .Bets}}
    <h3>Bets</h3>
    <table>
      <tr><th>Bet</th><th>Stage</th><th>Progress</th></tr>
      {{range .Bets}}
      <tr><td>{{.Title}}{{if .Hypothesis}}<br><em>{{.Hypothesis}}</em>{{end}}{{if .Tasks}}<ul>{{range .Tasks}}<li>{{.Title}} ({{.Progress}}%)</li>{{end}}</ul>{{end}}</td><td>{{.Stage}}</td><td class="progress">{{.Progress}}%</td></tr>
      {{end}}
    </table>
    {{end}}
  </section>
  {{end}}
</body>
</html>`

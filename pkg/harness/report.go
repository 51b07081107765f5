package harness

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

// RunReport holds everything needed to render one run as a self-contained
// HTML page, optionally with a comparison against a baseline run.
type RunReport struct {
	Title       string
	GeneratedAt time.Time
	RunID       string
	Config      *StoredConfig
	Metrics     *MetricsDocument
	Comparison  *Comparison
}

// NewRunReport loads a run's persisted artifacts into a report.
func NewRunReport(outputDir, runID string) (*RunReport, error) {
	run, err := loadRun(outputDir, runID)
	if err != nil {
		return nil, err
	}
	return &RunReport{
		Title:       "Vault QA Evaluation",
		GeneratedAt: time.Now(),
		RunID:       runID,
		Config:      run.config,
		Metrics:     run.metrics,
	}, nil
}

// WriteHTML renders the report.
func (r *RunReport) WriteHTML(w io.Writer) error {
	return reportTmpl.Execute(w, r)
}

var reportFuncMap = template.FuncMap{
	"f3": func(v *float64) string {
		if v == nil {
			return "—"
		}
		return fmt.Sprintf("%.3f", *v)
	},
	"pct": func(v *float64) string {
		if v == nil {
			return "—"
		}
		return fmt.Sprintf("%.1f%%", *v*100)
	},
	"ms": func(v float64) string {
		return fmt.Sprintf("%.0fms", v)
	},
	"delta": func(v float64) string {
		sign := "+"
		if v < 0 {
			sign = ""
		}
		return fmt.Sprintf("%s%.3f", sign, v)
	},
	"deltaPct": func(v *float64) string {
		if v == nil {
			return "—"
		}
		sign := "+"
		if *v < 0 {
			sign = ""
		}
		return fmt.Sprintf("%s%.1f%%", sign, *v)
	},
	"deltaClass": func(v float64) string {
		if v > 0.001 {
			return "positive"
		}
		if v < -0.001 {
			return "negative"
		}
		return "neutral"
	},
}

var reportTmpl = template.Must(template.New("report").Funcs(reportFuncMap).Parse(reportHTML))

const reportHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} — {{.RunID}}</title>
<style>
  :root {
    --bg: #0d1117; --fg: #c9d1d9; --card: #161b22;
    --border: #30363d; --accent: #58a6ff; --green: #3fb950;
    --red: #f85149; --yellow: #d29922;
  }
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    background: var(--bg); color: var(--fg); line-height: 1.6; padding: 2rem; }
  h1 { color: var(--accent); margin-bottom: 0.5rem; }
  h2 { color: var(--fg); margin: 2rem 0 1rem; border-bottom: 1px solid var(--border); padding-bottom: 0.5rem; }
  .meta { color: #8b949e; font-size: 0.875rem; margin-bottom: 2rem; }
  table { border-collapse: collapse; width: 100%; margin-bottom: 1.5rem; }
  th, td { padding: 0.5rem 0.75rem; text-align: left; border: 1px solid var(--border); }
  th { background: var(--card); font-weight: 600; font-size: 0.8125rem; text-transform: uppercase;
    letter-spacing: 0.05em; color: #8b949e; }
  td { font-family: 'SF Mono', 'Cascadia Code', monospace; font-size: 0.875rem; }
  tr:hover td { background: rgba(88,166,255,0.04); }
  .positive { color: var(--green); }
  .negative { color: var(--red); }
  .neutral { color: var(--yellow); }
  .warning { color: var(--yellow); }
  .card { background: var(--card); border: 1px solid var(--border); border-radius: 6px;
    padding: 1rem 1.25rem; margin-bottom: 1rem; }
  .stats-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 0.75rem; margin-bottom: 1rem; }
  .stat { text-align: center; }
  .stat-value { font-size: 1.5rem; font-weight: 700; color: var(--accent); font-family: 'SF Mono', monospace; }
  .stat-label { font-size: 0.75rem; color: #8b949e; text-transform: uppercase; letter-spacing: 0.05em; }
</style>
</head>
<body>

<h1>{{.Title}}</h1>
<p class="meta">Run {{.RunID}} · generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>

{{with .Metrics.AggregateMetrics}}
<h2>Retrieval</h2>
<div class="card">
<div class="stats-grid">
  <div class="stat"><div class="stat-value">{{f3 .RecallAtKAvg}}</div><div class="stat-label">Recall@K</div></div>
  <div class="stat"><div class="stat-value">{{f3 .RecallAllAtKAvg}}</div><div class="stat-label">Recall-all@K</div></div>
  <div class="stat"><div class="stat-value">{{f3 .MRRAvg}}</div><div class="stat-label">MRR</div></div>
  <div class="stat"><div class="stat-value">{{f3 .PrecisionAtKAvg}}</div><div class="stat-label">Precision@K</div></div>
  <div class="stat"><div class="stat-value">{{pct .ScopeMissRate}}</div><div class="stat-label">Scope Miss</div></div>
  <div class="stat"><div class="stat-value">{{pct .AttributionHitRate}}</div><div class="stat-label">Attribution Hit</div></div>
</div>
</div>

<h2>Answer Quality</h2>
<div class="card">
<div class="stats-grid">
  <div class="stat"><div class="stat-value">{{f3 .GroundednessAvg}}</div><div class="stat-label">Groundedness</div></div>
  <div class="stat"><div class="stat-value">{{f3 .CorrectnessAvg}}</div><div class="stat-label">Correctness</div></div>
  <div class="stat"><div class="stat-value">{{pct .AbstentionAccuracy}}</div><div class="stat-label">Abstention Acc</div></div>
  <div class="stat"><div class="stat-value">{{pct .HallucinationRateUnanswerable}}</div><div class="stat-label">Hallucination Rate</div></div>
</div>
</div>

{{if .Latency}}
<h2>Latency</h2>
<div class="card">
<div class="stats-grid">
  <div class="stat"><div class="stat-value">{{ms .Latency.P50Ms}}</div><div class="stat-label">p50</div></div>
  <div class="stat"><div class="stat-value">{{ms .Latency.P95Ms}}</div><div class="stat-label">p95</div></div>
  <div class="stat"><div class="stat-value">{{ms .Latency.TotalMs}}</div><div class="stat-label">Total</div></div>
</div>
</div>
{{end}}
{{end}}

{{with .Comparison}}
<h2>Comparison vs {{.BaselineRunID}}</h2>

{{if .Warnings}}
<div class="card">
{{range .Warnings}}<p class="warning">⚠ {{.}}</p>{{end}}
</div>
{{end}}

<table>
  <thead>
    <tr><th>Metric</th><th>Baseline</th><th>New</th><th>&Delta;</th><th>&Delta;%</th></tr>
  </thead>
  <tbody>
  {{range $name, $cmp := .Metrics}}
    <tr>
      <td>{{$name}}</td>
      <td>{{printf "%.3f" $cmp.Baseline}}</td>
      <td>{{printf "%.3f" $cmp.New}}</td>
      <td class="{{deltaClass $cmp.Delta}}">{{delta $cmp.Delta}}</td>
      <td class="{{deltaClass $cmp.Delta}}">{{deltaPct $cmp.DeltaPct}}</td>
    </tr>
  {{end}}
  </tbody>
</table>

{{if .Regressions}}
<h2>Regressions</h2>
<table>
  <thead><tr><th>Test Case</th><th>Question</th><th>Changes</th></tr></thead>
  <tbody>
  {{range .Regressions}}
    <tr>
      <td class="negative">{{.TestCaseID}}</td>
      <td>{{.Question}}</td>
      <td>{{range .Changes}}{{.}}<br>{{end}}</td>
    </tr>
  {{end}}
  </tbody>
</table>
{{end}}

{{if .Improvements}}
<h2>Improvements</h2>
<table>
  <thead><tr><th>Test Case</th><th>Question</th><th>Changes</th></tr></thead>
  <tbody>
  {{range .Improvements}}
    <tr>
      <td class="positive">{{.TestCaseID}}</td>
      <td>{{.Question}}</td>
      <td>{{range .Changes}}{{.}}<br>{{end}}</td>
    </tr>
  {{end}}
  </tbody>
</table>
{{end}}
{{end}}

</body>
</html>`

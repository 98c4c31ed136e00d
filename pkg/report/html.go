// HTML report generation for allocation runs
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"math"
	"os"
	"sort"
	"time"

	"github.com/ajitpratap0/stratalloc/pkg/allocation"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
	"github.com/ajitpratap0/stratalloc/pkg/walkforward"
)

// ============================================================================
// REPORT GENERATOR
// ============================================================================

// Generator renders a self-contained HTML report of a walk-forward run.
type Generator struct {
	Title   string
	lines   []Line
	summary Summary
	table   *allocation.Table
	windows []walkforward.WindowResult
}

// NewGenerator prepares a report for lines produced from table.
func NewGenerator(title string, lines []Line, table *allocation.Table, windows []walkforward.WindowResult) *Generator {
	if title == "" {
		title = "Allocation Report"
	}
	return &Generator{
		Title:   title,
		lines:   lines,
		summary: Summarize(lines),
		table:   table,
		windows: windows,
	}
}

// allocationRow is one strategy's latest quantity.
type allocationRow struct {
	Strategy string
	Quantity float64
}

// windowRow is one optimized window.
type windowRow struct {
	Start       string
	End         string
	Effective   string
	InSample    float64
	OutOfSample string
	Cached      bool
}

// GenerateHTML renders the report.
func (g *Generator) GenerateHTML() (string, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatFloat": func(f float64) string { return fmt.Sprintf("%.2f", f) },
		"formatTime":  func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
	}).Parse(reportTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, g.templateData()); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// SaveToFile writes the HTML report to path.
func (g *Generator) SaveToFile(path string) error {
	html, err := g.GenerateHTML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(html), 0o600)
}

func (g *Generator) templateData() map[string]interface{} {
	return map[string]interface{}{
		"Title":       g.Title,
		"GeneratedAt": time.Now(),
		"Summary":     g.summary,
		"Allocations": g.latestAllocations(),
		"Windows":     g.windowRows(),

		"EquityCurveData": template.JS(g.equityCurveData()),
		"DailyData":       template.JS(g.dailyData()),
		"WindowData":      template.JS(g.windowFitnessData()),
	}
}

// ============================================================================
// CHART DATA PREPARATION
// ============================================================================

func (g *Generator) equityCurveData() string {
	labels := make([]string, len(g.lines))
	values := make([]float64, len(g.lines))
	for i, l := range g.lines {
		labels[i] = l.Date.Format(timeseries.DateLayout)
		values[i] = l.Cumulative.InexactFloat64()
	}

	labelsJSON, _ := json.Marshal(labels)
	valuesJSON, _ := json.Marshal(values)

	return fmt.Sprintf(`{
		labels: %s,
		datasets: [{
			label: 'Cumulative profit',
			data: %s,
			borderColor: 'rgb(75, 192, 192)',
			backgroundColor: 'rgba(75, 192, 192, 0.1)',
			tension: 0.1,
			fill: true
		}]
	}`, labelsJSON, valuesJSON)
}

func (g *Generator) dailyData() string {
	labels := make([]string, len(g.lines))
	values := Series(g.lines)
	for i, l := range g.lines {
		labels[i] = l.Date.Format(timeseries.DateLayout)
	}

	labelsJSON, _ := json.Marshal(labels)
	valuesJSON, _ := json.Marshal(values)

	return fmt.Sprintf(`{
		labels: %s,
		datasets: [{
			label: 'Daily profit',
			data: %s,
			backgroundColor: %s.map(v => v >= 0 ? 'rgba(75, 192, 192, 0.8)' : 'rgba(255, 99, 132, 0.8)')
		}]
	}`, labelsJSON, valuesJSON, valuesJSON)
}

func (g *Generator) windowFitnessData() string {
	labels := make([]string, len(g.windows))
	in := make([]*float64, len(g.windows))
	out := make([]*float64, len(g.windows))
	for i, w := range g.windows {
		labels[i] = w.Effective.Format(timeseries.DateLayout)
		in[i] = finite(w.Fitness)
		out[i] = finite(w.OutOfSampleFitness)
	}

	labelsJSON, _ := json.Marshal(labels)
	inJSON, _ := json.Marshal(in)
	outJSON, _ := json.Marshal(out)

	return fmt.Sprintf(`{
		labels: %s,
		datasets: [
			{label: 'In-sample fitness', data: %s, borderColor: 'rgb(54, 162, 235)'},
			{label: 'Out-of-sample fitness', data: %s, borderColor: 'rgb(255, 159, 64)'}
		]
	}`, labelsJSON, inJSON, outJSON)
}

// finite maps NaN and infinities to JSON null.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (g *Generator) latestAllocations() []allocationRow {
	if g.table == nil {
		return nil
	}
	latest := g.table.Latest()
	rows := make([]allocationRow, 0, len(latest))
	for name, qty := range latest {
		rows = append(rows, allocationRow{Strategy: name, Quantity: qty})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Strategy < rows[j].Strategy })
	return rows
}

func (g *Generator) windowRows() []windowRow {
	rows := make([]windowRow, len(g.windows))
	for i, w := range g.windows {
		oos := "n/a"
		if v := finite(w.OutOfSampleFitness); v != nil {
			oos = fmt.Sprintf("%.2f", *v)
		}
		rows[i] = windowRow{
			Start:       w.Window.Start.Format(timeseries.DateLayout),
			End:         w.Window.End.Format(timeseries.DateLayout),
			Effective:   w.Effective.Format(timeseries.DateLayout),
			InSample:    w.Fitness,
			OutOfSample: oos,
			Cached:      w.Cached,
		}
	}
	return rows
}

// ============================================================================
// HTML TEMPLATE
// ============================================================================

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{ .Title }}</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js@4.4.0/dist/chart.umd.min.js"></script>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background: #f5f5f5; color: #333; margin: 0; }
        .container { max-width: 1400px; margin: 0 auto; padding: 20px; }
        header { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; padding: 30px; border-radius: 10px; margin-bottom: 30px; }
        .section { background: white; padding: 25px; margin-bottom: 25px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0, 0, 0, 0.1); }
        .metrics { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 15px; }
        .metric { background: #f8f9fa; padding: 15px; border-radius: 6px; border-left: 4px solid #667eea; }
        .metric .label { font-size: 0.85em; color: #666; text-transform: uppercase; }
        .metric .value { font-size: 1.6em; font-weight: bold; }
        .positive { color: #10b981; }
        .negative { color: #ef4444; }
        table { width: 100%; border-collapse: collapse; }
        th, td { padding: 8px 12px; border-bottom: 1px solid #eee; text-align: left; }
        th { background: #f8f9fa; }
        .chart { position: relative; height: 380px; }
    </style>
</head>
<body>
<div class="container">
    <header>
        <h1>{{ .Title }}</h1>
        <p>Generated {{ formatTime .GeneratedAt }}</p>
    </header>

    <div class="section">
        <h2>Summary</h2>
        <div class="metrics">
            <div class="metric"><div class="label">Total profit</div><div class="value {{ if ge .Summary.TotalProfit 0.0 }}positive{{ else }}negative{{ end }}">{{ formatFloat .Summary.TotalProfit }}</div></div>
            <div class="metric"><div class="label">Max drawdown</div><div class="value negative">{{ formatFloat .Summary.MaxDrawdown }}</div></div>
            <div class="metric"><div class="label">Sharpe</div><div class="value">{{ formatFloat .Summary.SharpeRatio }}</div></div>
            <div class="metric"><div class="label">Days</div><div class="value">{{ .Summary.Days }}</div></div>
            <div class="metric"><div class="label">Winning days</div><div class="value positive">{{ .Summary.WinningDays }}</div></div>
            <div class="metric"><div class="label">Losing days</div><div class="value negative">{{ .Summary.LosingDays }}</div></div>
        </div>
    </div>

    <div class="section">
        <h2>Cumulative profit</h2>
        <div class="chart"><canvas id="equityChart"></canvas></div>
    </div>

    <div class="section">
        <h2>Daily profit</h2>
        <div class="chart"><canvas id="dailyChart"></canvas></div>
    </div>

    {{ if .Windows }}
    <div class="section">
        <h2>Walk-forward windows</h2>
        <div class="chart"><canvas id="windowChart"></canvas></div>
        <table>
            <tr><th>Start</th><th>End</th><th>Effective</th><th>In-sample</th><th>Out-of-sample</th><th>Cached</th></tr>
            {{ range .Windows }}
            <tr><td>{{ .Start }}</td><td>{{ .End }}</td><td>{{ .Effective }}</td><td>{{ formatFloat .InSample }}</td><td>{{ .OutOfSample }}</td><td>{{ .Cached }}</td></tr>
            {{ end }}
        </table>
    </div>
    {{ end }}

    {{ if .Allocations }}
    <div class="section">
        <h2>Current allocation</h2>
        <table>
            <tr><th>Strategy</th><th>Contracts</th></tr>
            {{ range .Allocations }}
            <tr><td>{{ .Strategy }}</td><td>{{ .Quantity }}</td></tr>
            {{ end }}
        </table>
    </div>
    {{ end }}
</div>
<script>
    new Chart(document.getElementById('equityChart'), {type: 'line', data: {{ .EquityCurveData }}, options: {maintainAspectRatio: false}});
    new Chart(document.getElementById('dailyChart'), {type: 'bar', data: {{ .DailyData }}, options: {maintainAspectRatio: false}});
    {{ if .Windows }}
    new Chart(document.getElementById('windowChart'), {type: 'line', data: {{ .WindowData }}, options: {maintainAspectRatio: false}});
    {{ end }}
</script>
</body>
</html>
`

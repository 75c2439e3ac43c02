package charts

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strconv"
	"strings"

	"github.com/lirany1/qct-report/pkg/models"
)

const (
	trendWidth   = 320
	trendHeight  = 140
	trendPadding = 16

	neutralColor = "#94a3b8"
)

var riskColors = map[string]string{
	models.RiskLow:    "#5cb85c",
	models.RiskMedium: "#f0ad4e",
	models.RiskHigh:   "#d9534f",
}

// Bar is one row of the categorical fallback
type Bar struct {
	Label   string
	Value   string
	Percent int
	Color   string
}

// RiskBars computes proportional bars in series order
func RiskBars(series models.Series) []Bar {
	total := series.Total()
	bars := make([]Bar, 0, len(series))
	for _, p := range series {
		percent := 0
		if total != 0 {
			percent = roundHalfUp(p.Value / total * 100)
		}
		color, ok := riskColors[p.Label]
		if !ok {
			color = neutralColor
		}
		bars = append(bars, Bar{
			Label:   p.Label,
			Value:   strconv.FormatFloat(p.Value, 'f', -1, 64),
			Percent: percent,
			Color:   color,
		})
	}
	return bars
}

// Sparkline is the projected trend polyline
type Sparkline struct {
	Width  int
	Height int
	Points string
	First  string
	Last   string
}

// TrendLine projects a series onto the fixed sparkline box. It returns
// false for an empty series.
func TrendLine(series models.Series) (Sparkline, bool) {
	if len(series) == 0 {
		return Sparkline{}, false
	}

	values := series.Values()
	max, min := 1.0, 0.0
	for _, v := range values {
		max = math.Max(max, v)
		min = math.Min(min, v)
	}
	rng := max - min
	if rng == 0 {
		rng = 1
	}

	step := 0.0
	if len(values) > 1 {
		step = float64(trendWidth-trendPadding*2) / float64(len(values)-1)
	}

	points := make([]string, len(values))
	for i, v := range values {
		x := trendPadding + float64(i)*step
		y := trendPadding + float64(trendHeight-trendPadding*2)*(1-(v-min)/rng)
		points[i] = fmt.Sprintf("%.1f,%.1f", x, y)
	}

	return Sparkline{
		Width:  trendWidth,
		Height: trendHeight,
		Points: strings.Join(points, " "),
		First:  series[0].Label,
		Last:   series[len(series)-1].Label,
	}, true
}

// roundHalfUp rounds .5 towards positive infinity
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

const fallbackTemplates = `
{{define "risk"}}<div class="risk-list">{{range .}}
  <div class="risk-row">
    <div class="risk-name">{{.Label}}</div>
    <div class="risk-bar"><span style="width: {{.Percent}}%; background: {{.Color | safeCSS}};"></span></div>
    <div class="risk-meta">{{.Value}}</div>
  </div>{{end}}
</div>{{end}}
{{define "trend"}}<div class="trend-wrapper">
  <svg viewBox="0 0 {{.Width}} {{.Height}}" class="trend-spark" role="img" aria-label="Average volume trend">
    <polyline points="{{.Points}}" />
  </svg>
  <div class="trend-meta"><span>{{.First}}</span><span>{{.Last}}</span></div>
</div>{{end}}
{{define "trend-empty"}}<p class="chart-empty">No trend data available.</p>{{end}}
`

// FallbackRenderer synthesizes static charts without a charting library
type FallbackRenderer struct {
	tmpl *template.Template
}

// NewFallbackRenderer creates a fallback renderer
func NewFallbackRenderer() *FallbackRenderer {
	funcMap := template.FuncMap{
		// colors come from riskColors, never from input
		"safeCSS": func(s string) template.CSS { return template.CSS(s) },
	}
	return &FallbackRenderer{
		tmpl: template.Must(template.New("fallback").Funcs(funcMap).Parse(fallbackTemplates)),
	}
}

// Name identifies the strategy
func (f *FallbackRenderer) Name() string {
	return "fallback"
}

// Render hides the primary mount and fills the fallback mount. Without a
// fallback mount nothing is drawn.
func (f *FallbackRenderer) Render(primary, fallback *Mount, kind Kind, series models.Series) error {
	if primary == nil || fallback == nil {
		return nil
	}

	var buf bytes.Buffer
	switch kind {
	case Categorical:
		if err := f.tmpl.ExecuteTemplate(&buf, "risk", RiskBars(series)); err != nil {
			return err
		}
	case Trend:
		line, ok := TrendLine(series)
		name, data := "trend", interface{}(line)
		if !ok {
			name, data = "trend-empty", nil
		}
		if err := f.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown chart kind %d", kind)
	}

	primary.Hidden = true
	fallback.Content = template.HTML(buf.String())
	return nil
}

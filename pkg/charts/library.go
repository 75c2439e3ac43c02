package charts

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/lirany1/qct-report/pkg/models"
)

const (
	chartWidth  = "320px"
	chartHeight = "260px"

	trendColor     = "#1f9d96"
	trendAreaColor = "rgba(31, 157, 150, 0.2)"
	trendSeries    = "Average Volume (mm3)"
)

// doughnut slices are colored by position, like the fallback's fixed order
var doughnutPalette = []string{"#5cb85c", "#f0ad4e", "#d9534f"}

type renderable interface {
	Render(w io.Writer) error
}

// LibraryRenderer delegates drawing to go-echarts. The library owns the
// rendered output; no fallback content is produced.
type LibraryRenderer struct{}

// NewLibraryRenderer creates a renderer backed by go-echarts
func NewLibraryRenderer() *LibraryRenderer {
	return &LibraryRenderer{}
}

// Name identifies the strategy
func (l *LibraryRenderer) Name() string {
	return "echarts"
}

// Render draws a doughnut for categorical data and a line for trends
func (l *LibraryRenderer) Render(primary, _ *Mount, kind Kind, series models.Series) error {
	if primary == nil {
		return nil
	}

	var chart renderable
	switch kind {
	case Categorical:
		chart = buildDoughnut(primary.ID, series)
	case Trend:
		chart = buildTrendLine(primary.ID, series)
	default:
		return fmt.Errorf("unknown chart kind %d", kind)
	}

	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		return fmt.Errorf("echarts render failed: %w", err)
	}

	primary.Content = template.HTML(fmt.Sprintf(
		`<iframe class="chart-frame" title="%s" style="border:0;width:100%%;height:%s" srcdoc="%s"></iframe>`,
		html.EscapeString(primary.ID), chartHeight, html.EscapeString(buf.String()),
	))
	return nil
}

func buildDoughnut(id string, series models.Series) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			ChartID: id + "-echarts",
			Width:   chartWidth,
			Height:  chartHeight,
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:      opts.Bool(true),
			Trigger:   "item",
			Formatter: "{b}: {c} ({d}%)",
		}),
		charts.WithLegendOpts(opts.Legend{
			Show:   opts.Bool(true),
			Bottom: "0",
		}),
	)

	data := make([]opts.PieData, 0, len(series))
	for i, p := range series {
		item := opts.PieData{Name: p.Label, Value: p.Value}
		if i < len(doughnutPalette) {
			item.ItemStyle = &opts.ItemStyle{Color: doughnutPalette[i]}
		}
		data = append(data, item)
	}

	pie.AddSeries("Risk", data).
		SetSeriesOptions(
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}),
			charts.WithPieChartOpts(opts.PieChart{
				Radius: []string{"45%", "70%"},
				Center: []string{"50%", "45%"},
			}),
		)

	return pie
}

func buildTrendLine(id string, series models.Series) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			ChartID: id + "-echarts",
			Width:   chartWidth,
			Height:  chartHeight,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0}),
	)

	data := make([]opts.LineData, 0, len(series))
	for _, p := range series {
		data = append(data, opts.LineData{Value: p.Value})
	}

	line.SetXAxis(series.Labels()).
		AddSeries(trendSeries, data,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: trendColor}),
			charts.WithAreaStyleOpts(opts.AreaStyle{Color: trendAreaColor}),
		)

	return line
}

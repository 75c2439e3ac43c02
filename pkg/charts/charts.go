// Package charts draws the overview visualizations, either through the
// go-echarts library or through a hand-built fallback.
package charts

import (
	"fmt"
	"html/template"

	"github.com/lirany1/qct-report/pkg/models"
)

// Kind selects how a series is visualized
type Kind int

const (
	// Categorical is a fixed set of categories (the risk breakdown)
	Categorical Kind = iota
	// Trend is a time-ordered series (the volume trend)
	Trend
)

// Mount is a named area of the page a chart is drawn into
type Mount struct {
	ID      string
	Hidden  bool
	Content template.HTML
}

// Renderer draws one series into a primary mount or its fallback
type Renderer interface {
	Name() string
	Render(primary, fallback *Mount, kind Kind, series models.Series) error
}

// Select picks the rendering strategy once, at page initialization
func Select(libraryAvailable bool) Renderer {
	if libraryAvailable {
		return NewLibraryRenderer()
	}
	return NewFallbackRenderer()
}

// Mounts pairs the primary and fallback mount of each chart. Any of them
// may be nil when the page does not carry the element.
type Mounts struct {
	Risk           *Mount
	RiskFallback   *Mount
	Volume         *Mount
	VolumeFallback *Mount
}

// RenderSnapshot draws both overview charts. A nil snapshot or a missing
// primary mount disables the chart without error.
func RenderSnapshot(r Renderer, snapshot *models.Snapshot, m Mounts) error {
	if snapshot == nil {
		return nil
	}

	if m.Risk != nil {
		if err := r.Render(m.Risk, m.RiskFallback, Categorical, snapshot.RiskBreakdown); err != nil {
			return fmt.Errorf("failed to render risk chart: %w", err)
		}
	}

	if m.Volume != nil {
		if err := r.Render(m.Volume, m.VolumeFallback, Trend, snapshot.VolumeTrend); err != nil {
			return fmt.Errorf("failed to render volume chart: %w", err)
		}
	}

	return nil
}

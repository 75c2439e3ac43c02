// Package page holds the in-memory studies page and the controller that
// keeps its derived views consistent with the quick filter state.
package page

import (
	"fmt"

	"github.com/lirany1/qct-report/pkg/banner"
	"github.com/lirany1/qct-report/pkg/charts"
	"github.com/lirany1/qct-report/pkg/meta"
	"github.com/lirany1/qct-report/pkg/models"
)

// Element IDs recognized on a page
const (
	RiskChartID      = "riskChart"
	RiskFallbackID   = "riskFallback"
	VolumeChartID    = "volumeChart"
	VolumeFallbackID = "volumeFallback"
	MetaRefreshID    = "metaRefresh"
	MetaFiltersID    = "metaFilters"
	MetaDateRangeID  = "metaDateRange"
	QualityImageID   = "qualityImage"
	QualitySummaryID = "qualitySummary"
	EmptyStateID     = "clientEmptyState"
)

// TextElementIDs are the plain text elements a page may carry
var TextElementIDs = []string{
	MetaRefreshID,
	MetaFiltersID,
	MetaDateRangeID,
	QualityImageID,
	QualitySummaryID,
	EmptyStateID,
}

// Element is a text element addressed by ID
type Element struct {
	ID     string
	Text   string
	Hidden bool
}

// Trigger is an action control on the page
type Trigger struct {
	Label  string
	Active bool
}

// Document is the source of truth of one rendered studies page. Any field
// may be nil; the features that need it are then skipped.
type Document struct {
	Title    string
	Table    *models.Table
	Snapshot *models.Snapshot
	Query    models.Query
	Banner   *banner.Banner
	Charts   charts.Mounts
	Elements map[string]*Element

	QuickFilter      *Trigger
	ClearQuickFilter *Trigger
	Export           *Trigger
}

// NewDocument creates an empty document
func NewDocument() *Document {
	return &Document{Elements: make(map[string]*Element)}
}

// AddElement registers a text element and returns it
func (d *Document) AddElement(id, text string) *Element {
	if d.Elements == nil {
		d.Elements = make(map[string]*Element)
	}
	el := &Element{ID: id, Text: text}
	d.Elements[id] = el
	return el
}

// Element returns the element with the given ID or nil
func (d *Document) Element(id string) *Element {
	return d.Elements[id]
}

// SetText updates an element's text if the element exists
func (d *Document) SetText(id, text string) {
	if el := d.Element(id); el != nil {
		el.Text = text
	}
}

// Text returns an element's text, or "" when it is missing
func (d *Document) Text(id string) string {
	if el := d.Element(id); el != nil {
		return el.Text
	}
	return ""
}

// AddChartMounts registers all four chart mounts
func (d *Document) AddChartMounts() {
	d.Charts = charts.Mounts{
		Risk:           &charts.Mount{ID: RiskChartID},
		RiskFallback:   &charts.Mount{ID: RiskFallbackID},
		Volume:         &charts.Mount{ID: VolumeChartID},
		VolumeFallback: &charts.Mount{ID: VolumeFallbackID},
	}
}

// AddStudyControls registers the meta, quality, empty state and trigger
// elements of a studies page. The quick filter texts name windowDays.
func (d *Document) AddStudyControls(windowDays int) {
	if windowDays <= 0 {
		windowDays = meta.DefaultWindowDays
	}
	for _, id := range TextElementIDs {
		d.AddElement(id, "")
	}
	d.Element(EmptyStateID).Text = fmt.Sprintf("No studies in the last %d days on this page.", windowDays)
	d.Element(EmptyStateID).Hidden = true
	d.QuickFilter = &Trigger{Label: fmt.Sprintf("Last %d days", windowDays)}
	d.ClearQuickFilter = &Trigger{Label: "Clear"}
	d.Export = &Trigger{Label: "Export CSV"}
}

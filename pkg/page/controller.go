package page

import (
	"errors"
	"io"
	"time"

	"github.com/lirany1/qct-report/pkg/banner"
	"github.com/lirany1/qct-report/pkg/charts"
	"github.com/lirany1/qct-report/pkg/export"
	"github.com/lirany1/qct-report/pkg/filter"
	"github.com/lirany1/qct-report/pkg/logger"
	"github.com/lirany1/qct-report/pkg/meta"
	"github.com/lirany1/qct-report/pkg/models"
	"github.com/lirany1/qct-report/pkg/quality"
)

// ErrExportUnavailable is returned when the page has no export trigger or table
var ErrExportUnavailable = errors.New("export is not available on this page")

// Controller coordinates every view of one document. It is the only owner
// of the page's UI state and the only mutator of row visibility.
type Controller struct {
	doc      *Document
	state    models.UIState
	engine   *filter.Engine
	renderer charts.Renderer
	exporter *export.Exporter
	now      func() time.Time

	windowDays int
	location   *time.Location
}

// Option configures a Controller
type Option func(*Controller)

// WithClock overrides the time source of the filter and the meta indicators
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithWindowDays sets the quick filter window
func WithWindowDays(days int) Option {
	return func(c *Controller) {
		c.windowDays = days
	}
}

// WithLocation sets the zone used to read study dates
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) {
		c.location = loc
	}
}

// WithExporter overrides the exporter
func WithExporter(e *export.Exporter) Option {
	return func(c *Controller) {
		c.exporter = e
	}
}

// NewController creates a controller for the document. The chart renderer
// is chosen by the caller once, see charts.Select.
func NewController(doc *Document, renderer charts.Renderer, opts ...Option) *Controller {
	c := &Controller{
		doc:        doc,
		renderer:   renderer,
		now:        time.Now,
		windowDays: filter.DefaultWindowDays,
		location:   time.UTC,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exporter == nil {
		c.exporter = export.NewExporter(export.WithClock(c.now))
	}
	c.engine = filter.NewEngine(&c.state,
		filter.WithClock(c.now),
		filter.WithWindowDays(c.windowDays),
		filter.WithLocation(c.location),
	)
	return c
}

// Document returns the controlled document
func (c *Controller) Document() *Document {
	return c.doc
}

// State returns a copy of the current UI state
func (c *Controller) State() models.UIState {
	return c.state
}

// Exporter returns the exporter used for downloads
func (c *Controller) Exporter() *export.Exporter {
	return c.exporter
}

// Ready runs the page-ready sequence: charts, banner, meta indicators,
// quality summary, then the quick filter's initial pass. A chart failure
// does not stop the rest of the sequence and is returned at the end.
func (c *Controller) Ready() error {
	var chartErr error
	if c.renderer != nil {
		if err := charts.RenderSnapshot(c.renderer, c.doc.Snapshot, c.doc.Charts); err != nil {
			logger.Warnf("Chart rendering failed with %s renderer: %v", c.renderer.Name(), err)
			chartErr = err
		}
	}

	banner.Apply(c.doc.Banner)
	c.refreshMeta()
	c.refreshQuality()

	if c.doc.QuickFilter != nil {
		c.execute(c.engine.Init())
	}
	return chartErr
}

// ToggleQuickFilter flips the quick filter. ok is false when the page has
// no quick filter trigger.
func (c *Controller) ToggleQuickFilter() (t filter.Transition, ok bool) {
	if c.doc.QuickFilter == nil {
		return filter.Transition{}, false
	}
	t = c.engine.Toggle()
	c.execute(t)
	logger.Debugf("Quick filter %s -> %s", t.From, t.To)
	return t, true
}

// ClearQuickFilter deactivates the quick filter. ok is false when the page
// has no quick filter or clear trigger.
func (c *Controller) ClearQuickFilter() (t filter.Transition, ok bool) {
	if c.doc.QuickFilter == nil || c.doc.ClearQuickFilter == nil {
		return filter.Transition{}, false
	}
	t = c.engine.Clear()
	c.execute(t)
	logger.Debugf("Quick filter %s -> %s", t.From, t.To)
	return t, true
}

// ExportCSV writes the currently visible rows as CSV
func (c *Controller) ExportCSV(w io.Writer) error {
	return c.Export(w, export.FormatCSV)
}

// Export writes the currently visible rows in the given format
func (c *Controller) Export(w io.Writer, format string) error {
	if c.doc.Export == nil || c.doc.Table == nil {
		return ErrExportUnavailable
	}
	return c.exporter.Export(w, c.doc.Table, format)
}

// Exportable reports whether the page offers an export
func (c *Controller) Exportable() bool {
	return c.doc.Export != nil && c.doc.Table != nil
}

// execute runs the view updates of a transition in their listed order.
// Without a table only the trigger follows the state.
func (c *Controller) execute(t filter.Transition) {
	visible := 0
	for _, cmd := range t.Commands {
		if c.doc.Table == nil && cmd != filter.SyncTrigger {
			continue
		}
		switch cmd {
		case filter.ApplyVisibility:
			visible = c.engine.ApplyVisibility(c.doc.Table)
		case filter.SyncEmptyState:
			if el := c.doc.Element(EmptyStateID); el != nil {
				el.Hidden = c.engine.EmptyStateHidden(visible)
			}
		case filter.RefreshQuality:
			c.refreshQuality()
		case filter.RefreshMeta:
			c.refreshMeta()
		case filter.SyncTrigger:
			if c.doc.QuickFilter != nil {
				c.doc.QuickFilter.Active = c.engine.Phase() == filter.Active
			}
		}
	}
}

func (c *Controller) refreshMeta() {
	ind := meta.Compute(c.doc.Query, &c.state, c.now(), c.windowDays)
	c.doc.SetText(MetaRefreshID, ind.Refreshed)
	c.doc.SetText(MetaFiltersID, ind.FiltersText())
	c.doc.SetText(MetaDateRangeID, ind.DateRange)
}

func (c *Controller) refreshQuality() {
	if c.doc.Table == nil {
		return
	}
	s := quality.Compute(c.doc.Table.Rows)
	c.doc.SetText(QualityImageID, s.ImageText())
	c.doc.SetText(QualitySummaryID, s.SummaryText())
}

package page

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lirany1/qct-report/pkg/banner"
	"github.com/lirany1/qct-report/pkg/charts"
	"github.com/lirany1/qct-report/pkg/filter"
	"github.com/lirany1/qct-report/pkg/models"
)

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func daysAgo(n int) string {
	return fixedNow.AddDate(0, 0, -n).Format("2006-01-02")
}

func row(id, date string, image, summary bool) *models.StudyRow {
	return &models.StudyRow{
		ID:         id,
		StudyDate:  date,
		HasImage:   image,
		HasSummary: summary,
		Tracked:    true,
		Cells:      []string{id, date},
	}
}

func newStudiesDoc(rows ...*models.StudyRow) *Document {
	doc := NewDocument()
	doc.Table = &models.Table{Headers: []string{"Study", "Date"}, Rows: rows}
	doc.AddStudyControls(30)
	return doc
}

func visibleIDs(doc *Document) []string {
	ids := []string{}
	for _, r := range doc.Table.VisibleRows() {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestController_QuickFilterScenario(t *testing.T) {
	doc := newStudiesDoc(
		row("old", daysAgo(40), true, false),
		row("mid", daysAgo(20), true, true),
		row("new", daysAgo(5), false, false),
	)
	c := NewController(doc, charts.NewFallbackRenderer(), WithClock(clock))

	if err := c.Ready(); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if got := doc.Text(QualityImageID); got != "67% (2/3)" {
		t.Errorf("quality image = %v, want %v", got, "67% (2/3)")
	}

	tr, ok := c.ToggleQuickFilter()
	if !ok {
		t.Fatal("ToggleQuickFilter() ok = false")
	}
	if tr.From != filter.Inactive || tr.To != filter.Active {
		t.Errorf("transition = %v -> %v, want inactive -> active", tr.From, tr.To)
	}

	if diff := cmp.Diff([]string{"mid", "new"}, visibleIDs(doc)); diff != "" {
		t.Errorf("visible rows mismatch (-want +got):\n%s", diff)
	}
	if !doc.Element(EmptyStateID).Hidden {
		t.Error("empty state shown, want hidden")
	}
	if got := doc.Text(QualityImageID); got != "50% (1/2)" {
		t.Errorf("quality image = %v, want %v", got, "50% (1/2)")
	}
	if got := doc.Text(QualitySummaryID); got != "50% (1/2)" {
		t.Errorf("quality summary = %v, want %v", got, "50% (1/2)")
	}
	if got := doc.Text(MetaFiltersID); got != "1" {
		t.Errorf("meta filters = %v, want %v", got, "1")
	}
	if got := doc.Text(MetaDateRangeID); got != "Last 30 days (page)" {
		t.Errorf("meta date range = %v, want %v", got, "Last 30 days (page)")
	}
	if !doc.QuickFilter.Active {
		t.Error("quick filter trigger not active")
	}
}

func TestController_CustomWindowLabels(t *testing.T) {
	doc := NewDocument()
	doc.Table = &models.Table{
		Headers: []string{"Study", "Date"},
		Rows:    []*models.StudyRow{row("d20", daysAgo(20), true, true), row("d5", daysAgo(5), false, false)},
	}
	doc.AddStudyControls(7)
	c := NewController(doc, nil, WithClock(clock), WithWindowDays(7))
	c.Ready()

	if got := doc.QuickFilter.Label; got != "Last 7 days" {
		t.Errorf("trigger label = %v, want %v", got, "Last 7 days")
	}
	if got := doc.Text(EmptyStateID); got != "No studies in the last 7 days on this page." {
		t.Errorf("empty state = %v", got)
	}

	c.ToggleQuickFilter()
	if diff := cmp.Diff([]string{"d5"}, visibleIDs(doc)); diff != "" {
		t.Errorf("visible rows mismatch (-want +got):\n%s", diff)
	}
	if got := doc.Text(MetaDateRangeID); got != "Last 7 days (page)" {
		t.Errorf("meta date range = %v, want %v", got, "Last 7 days (page)")
	}
}

func TestController_UnparseableDatesStayVisible(t *testing.T) {
	doc := newStudiesDoc(
		row("a", "unknown", true, true),
		row("b", "", false, true),
	)
	c := NewController(doc, nil, WithClock(clock))
	c.Ready()
	c.ToggleQuickFilter()

	if got := len(doc.Table.VisibleRows()); got != 2 {
		t.Fatalf("visible rows = %v, want 2", got)
	}

	var buf bytes.Buffer
	if err := c.ExportCSV(&buf); err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	if len(lines) != 3 {
		t.Errorf("csv lines = %v, want 3 (header + 2 rows)", len(lines))
	}
}

func TestController_DoubleToggleRestores(t *testing.T) {
	doc := newStudiesDoc(
		row("old", daysAgo(90), true, true),
		row("recent", daysAgo(1), false, true),
		row("older", daysAgo(31), true, false),
	)
	c := NewController(doc, nil, WithClock(clock))
	c.Ready()

	beforeImage, beforeSummary := doc.Text(QualityImageID), doc.Text(QualitySummaryID)
	beforeVisible := visibleIDs(doc)

	c.ToggleQuickFilter()
	if got := visibleIDs(doc); cmp.Equal(got, beforeVisible) {
		t.Fatalf("first toggle did not change visibility: %v", got)
	}
	c.ToggleQuickFilter()

	if diff := cmp.Diff(beforeVisible, visibleIDs(doc)); diff != "" {
		t.Errorf("visible rows mismatch (-want +got):\n%s", diff)
	}
	if got := doc.Text(QualityImageID); got != beforeImage {
		t.Errorf("quality image = %v, want %v", got, beforeImage)
	}
	if got := doc.Text(QualitySummaryID); got != beforeSummary {
		t.Errorf("quality summary = %v, want %v", got, beforeSummary)
	}
	if c.State().QuickLast30 {
		t.Error("state still active after double toggle")
	}
}

func TestController_EmptyResults(t *testing.T) {
	doc := newStudiesDoc(row("old", daysAgo(60), true, true))
	c := NewController(doc, nil, WithClock(clock))
	c.Ready()

	if !doc.Element(EmptyStateID).Hidden {
		t.Error("empty state shown before filtering")
	}

	c.ToggleQuickFilter()
	if doc.Element(EmptyStateID).Hidden {
		t.Error("empty state hidden with zero visible rows")
	}
	if got := doc.Text(QualityImageID); got != "--" {
		t.Errorf("quality image = %v, want %v", got, "--")
	}

	tr, ok := c.ClearQuickFilter()
	if !ok || tr.To != filter.Inactive {
		t.Fatalf("ClearQuickFilter() = %v, %v", tr, ok)
	}
	if !doc.Element(EmptyStateID).Hidden {
		t.Error("empty state shown after clear")
	}
	if doc.QuickFilter.Active {
		t.Error("trigger active after clear")
	}
}

func TestController_CommandOrder(t *testing.T) {
	c := NewController(newStudiesDoc(), nil, WithClock(clock))
	tr, _ := c.ToggleQuickFilter()

	want := []filter.Command{
		filter.ApplyVisibility,
		filter.SyncEmptyState,
		filter.RefreshQuality,
		filter.RefreshMeta,
		filter.SyncTrigger,
	}
	if diff := cmp.Diff(want, tr.Commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestController_MissingCollaborators(t *testing.T) {
	doc := NewDocument()
	c := NewController(doc, charts.NewFallbackRenderer(), WithClock(clock))

	if err := c.Ready(); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if _, ok := c.ToggleQuickFilter(); ok {
		t.Error("ToggleQuickFilter() ok = true without trigger")
	}
	if _, ok := c.ClearQuickFilter(); ok {
		t.Error("ClearQuickFilter() ok = true without trigger")
	}
	if err := c.ExportCSV(&bytes.Buffer{}); !errors.Is(err, ErrExportUnavailable) {
		t.Errorf("ExportCSV() error = %v, want %v", err, ErrExportUnavailable)
	}
}

func TestController_QuickFilterWithoutTable(t *testing.T) {
	doc := NewDocument()
	doc.AddStudyControls(30)
	c := NewController(doc, nil, WithClock(clock))
	c.Ready()

	if _, ok := c.ToggleQuickFilter(); !ok {
		t.Fatal("ToggleQuickFilter() ok = false")
	}
	if !doc.QuickFilter.Active {
		t.Error("trigger not active")
	}
	if got := doc.Text(MetaDateRangeID); got != "All time" {
		t.Errorf("meta date range = %v, want %v", got, "All time")
	}
}

func TestController_ReadyChartsAndBanner(t *testing.T) {
	doc := newStudiesDoc()
	doc.AddChartMounts()
	doc.Snapshot = &models.Snapshot{
		RiskBreakdown: models.Series{{Label: "low", Value: 5}, {Label: "medium", Value: 3}, {Label: "high", Value: 2}},
	}
	doc.Banner = &banner.Banner{EnabledAttr: "false", Text: "Demo"}
	doc.Query = models.Query{Risk: "high", StartDate: "2024-01-01"}

	c := NewController(doc, charts.NewFallbackRenderer(), WithClock(clock))
	if err := c.Ready(); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	if !doc.Charts.Risk.Hidden {
		t.Error("risk chart mount not hidden")
	}
	for _, width := range []string{"width: 50%", "width: 30%", "width: 20%"} {
		if !strings.Contains(string(doc.Charts.RiskFallback.Content), width) {
			t.Errorf("risk fallback missing %q", width)
		}
	}
	if !strings.Contains(string(doc.Charts.VolumeFallback.Content), "No trend data available.") {
		t.Error("volume fallback missing empty placeholder")
	}
	if !doc.Banner.Hidden {
		t.Error("banner shown, want hidden")
	}
	if got := doc.Text(MetaFiltersID); got != "2" {
		t.Errorf("meta filters = %v, want %v", got, "2")
	}
	if got := doc.Text(MetaDateRangeID); got != "2024-01-01 to ..." {
		t.Errorf("meta date range = %v, want %v", got, "2024-01-01 to ...")
	}
}

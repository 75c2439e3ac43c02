// Package quality computes the completeness summary of visible studies.
package quality

import (
	"fmt"
	"math"

	"github.com/lirany1/qct-report/pkg/models"
)

// Placeholder is shown when no rows are visible
const Placeholder = "--"

// Summary counts completeness flags over the visible tracked rows
type Summary struct {
	Total       int
	WithImage   int
	WithSummary int
}

// Compute scans the rows that are both tracked and visible
func Compute(rows []*models.StudyRow) Summary {
	var s Summary
	for _, row := range rows {
		if !row.Tracked || !row.Visible() {
			continue
		}
		s.Total++
		if row.HasImage {
			s.WithImage++
		}
		if row.HasSummary {
			s.WithSummary++
		}
	}
	return s
}

// ImageText formats the image completeness
func (s Summary) ImageText() string {
	return Format(s.WithImage, s.Total)
}

// SummaryText formats the report summary completeness
func (s Summary) SummaryText() string {
	return Format(s.WithSummary, s.Total)
}

// Percent returns the rounded percentage; ok is false when total is zero
func Percent(count, total int) (int, bool) {
	if total == 0 {
		return 0, false
	}
	return int(math.Floor(float64(count)/float64(total)*100 + 0.5)), true
}

// Format renders "{percent}% ({count}/{total})" or the placeholder
func Format(count, total int) string {
	percent, ok := Percent(count, total)
	if !ok {
		return Placeholder
	}
	return fmt.Sprintf("%d%% (%d/%d)", percent, count, total)
}

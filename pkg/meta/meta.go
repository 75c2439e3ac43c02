// Package meta derives the small summary indicators shown above the table.
package meta

import (
	"fmt"
	"strconv"
	"time"

	"github.com/lirany1/qct-report/pkg/models"
)

const (
	// RefreshLayout mirrors a US-locale date/time string
	RefreshLayout = "1/2/2006, 3:04:05 PM"

	// DefaultWindowDays is used when no quick filter window is given
	DefaultWindowDays = 30

	rangePlaceholder = "..."
	rangeAll         = "All time"
)

// Indicators are the rendered meta texts
type Indicators struct {
	Refreshed     string
	ActiveFilters int
	DateRange     string
}

// FiltersText returns the active filter count as text
func (i Indicators) FiltersText() string {
	return strconv.Itoa(i.ActiveFilters)
}

// Compute derives the indicators from query parameters and page state.
// windowDays is the quick filter window named in the date range.
func Compute(q models.Query, state *models.UIState, now time.Time, windowDays int) Indicators {
	quick := state != nil && state.QuickLast30

	active := 0
	for _, v := range q.Values() {
		if v != "" {
			active++
		}
	}
	if quick {
		active++
	}

	return Indicators{
		Refreshed:     now.Format(RefreshLayout),
		ActiveFilters: active,
		DateRange:     dateRange(q, quick, windowDays),
	}
}

// QuickRangeText names the quick filter window in the date range indicator
func QuickRangeText(windowDays int) string {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return fmt.Sprintf("Last %d days (page)", windowDays)
}

func dateRange(q models.Query, quick bool, windowDays int) string {
	if q.StartDate != "" || q.EndDate != "" {
		return orPlaceholder(q.StartDate) + " to " + orPlaceholder(q.EndDate)
	}
	if quick {
		return QuickRangeText(windowDays)
	}
	return rangeAll
}

func orPlaceholder(s string) string {
	if s == "" {
		return rangePlaceholder
	}
	return s
}

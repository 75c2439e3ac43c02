package meta

import (
	"net/url"
	"testing"
	"time"

	"github.com/lirany1/qct-report/pkg/models"
)

func TestCompute(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	tests := []struct {
		name          string
		rawQuery      string
		quick         bool
		window        int
		wantFilters   int
		wantDateRange string
	}{
		{
			name:          "no filters",
			rawQuery:      "",
			wantFilters:   0,
			wantDateRange: "All time",
		},
		{
			name:          "risk and start date",
			rawQuery:      "risk=high&start_date=2024-01-01",
			wantFilters:   2,
			wantDateRange: "2024-01-01 to ...",
		},
		{
			name:          "end date only",
			rawQuery:      "end_date=2024-02-01",
			wantFilters:   1,
			wantDateRange: "... to 2024-02-01",
		},
		{
			name:          "quick filter alone",
			quick:         true,
			wantFilters:   1,
			wantDateRange: "Last 30 days (page)",
		},
		{
			name:          "quick filter names its window",
			quick:         true,
			window:        7,
			wantFilters:   1,
			wantDateRange: "Last 7 days (page)",
		},
		{
			name:          "query dates win over quick filter",
			rawQuery:      "start_date=2024-01-01&end_date=2024-01-31&status=ready",
			quick:         true,
			wantFilters:   4,
			wantDateRange: "2024-01-01 to 2024-01-31",
		},
		{
			name:          "empty values and unknown keys are ignored",
			rawQuery:      "status=&q=&page=3&per_page=50",
			wantFilters:   0,
			wantDateRange: "All time",
		},
		{
			name:          "all five keys",
			rawQuery:      "status=ready&risk=low&q=P-1&start_date=2024-01-01&end_date=2024-02-01",
			quick:         true,
			wantFilters:   6,
			wantDateRange: "2024-01-01 to 2024-02-01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.rawQuery)
			if err != nil {
				t.Fatalf("ParseQuery() error = %v", err)
			}
			ind := Compute(models.QueryFromValues(values), &models.UIState{QuickLast30: tt.quick}, now, tt.window)

			if ind.ActiveFilters != tt.wantFilters {
				t.Errorf("ActiveFilters = %v, want %v", ind.ActiveFilters, tt.wantFilters)
			}
			if ind.DateRange != tt.wantDateRange {
				t.Errorf("DateRange = %v, want %v", ind.DateRange, tt.wantDateRange)
			}
			if ind.Refreshed != "3/9/2024, 2:05:07 PM" {
				t.Errorf("Refreshed = %v, want %v", ind.Refreshed, "3/9/2024, 2:05:07 PM")
			}
		})
	}
}

func TestCompute_NilState(t *testing.T) {
	ind := Compute(models.Query{}, nil, time.Now(), 0)
	if ind.ActiveFilters != 0 || ind.DateRange != "All time" {
		t.Errorf("Compute(nil state) = %+v", ind)
	}
	if ind.FiltersText() != "0" {
		t.Errorf("FiltersText() = %v, want %v", ind.FiltersText(), "0")
	}
}

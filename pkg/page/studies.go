package page

import (
	"strconv"

	"github.com/lirany1/qct-report/pkg/models"
)

// StudyDateLayout is the format of the study date marker and column
const StudyDateLayout = "2006-01-02"

// StudyHeaders are the columns of the studies table
var StudyHeaders = []string{
	"Study UID",
	"Patient",
	"Study Date",
	"Status",
	"Risk",
	"Nodules",
	"Image",
	"Summary",
}

// NewStudiesDocument builds a studies page document from stored studies.
// windowDays is the quick filter window the page offers.
func NewStudiesDocument(title string, studies []models.Study, q models.Query, allowPHI bool, windowDays int) *Document {
	d := NewDocument()
	d.Title = title
	d.Query = q
	d.AddStudyControls(windowDays)

	table := &models.Table{Headers: append([]string(nil), StudyHeaders...)}
	for _, s := range studies {
		date := ""
		if !s.StudyDate.IsZero() {
			date = s.StudyDate.Format(StudyDateLayout)
		}
		table.Rows = append(table.Rows, &models.StudyRow{
			ID:         s.ID,
			StudyDate:  date,
			HasImage:   s.HasImage,
			HasSummary: s.HasSummary,
			Tracked:    true,
			Cells: []string{
				s.StudyUID,
				s.PatientLabel(allowPHI),
				date,
				s.Status,
				s.OverallRisk,
				strconv.Itoa(s.NoduleCount),
				yesNo(s.HasImage),
				yesNo(s.HasSummary),
			},
		})
	}
	d.Table = table
	return d
}

// NewOverviewDocument builds the overview page document
func NewOverviewDocument(title string, snapshot *models.Snapshot) *Document {
	d := NewDocument()
	d.Title = title
	d.Snapshot = snapshot
	d.AddChartMounts()
	return d
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"time"
)

// Risk levels in display order
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskOrder is the fixed category order of the risk breakdown
var RiskOrder = []string{RiskLow, RiskMedium, RiskHigh}

// Statuses are the processing states a study can be in
var Statuses = []string{"ready", "processing", "review"}

// Point is a single labeled value of a series
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Series is an ordered sequence of labeled values
type Series []Point

// Labels returns the labels in series order
func (s Series) Labels() []string {
	labels := make([]string, len(s))
	for i, p := range s {
		labels[i] = p.Label
	}
	return labels
}

// Values returns the values in series order
func (s Series) Values() []float64 {
	values := make([]float64, len(s))
	for i, p := range s {
		values[i] = p.Value
	}
	return values
}

// Total returns the sum of all values
func (s Series) Total() float64 {
	total := 0.0
	for _, p := range s {
		total += p.Value
	}
	return total
}

// Snapshot is the chart data injected into a rendered page
type Snapshot struct {
	RiskBreakdown Series `json:"riskBreakdown"`
	VolumeTrend   Series `json:"volumeTrend"`
}

// StudyRow is one body row of the studies table
type StudyRow struct {
	ID         string
	StudyDate  string
	HasImage   bool
	HasSummary bool
	// Tracked rows carry a study date marker and take part in quick
	// filtering and quality statistics.
	Tracked bool
	Cells   []string
	Hidden  bool
}

// Visible reports whether the row is currently displayed
func (r *StudyRow) Visible() bool {
	return !r.Hidden
}

// Table is the in-memory studies table a page is projected from
type Table struct {
	Headers []string
	Rows    []*StudyRow
}

// TrackedRows returns the rows that carry all filter markers
func (t *Table) TrackedRows() []*StudyRow {
	rows := make([]*StudyRow, 0, len(t.Rows))
	for _, row := range t.Rows {
		if row.Tracked {
			rows = append(rows, row)
		}
	}
	return rows
}

// VisibleRows returns every body row that is not hidden
func (t *Table) VisibleRows() []*StudyRow {
	rows := make([]*StudyRow, 0, len(t.Rows))
	for _, row := range t.Rows {
		if row.Visible() {
			rows = append(rows, row)
		}
	}
	return rows
}

// UIState is the client-side state of one page session
type UIState struct {
	QuickLast30 bool
}

// Query holds the recognized URL query parameters of a studies page
type Query struct {
	Status    string
	Risk      string
	Q         string
	StartDate string
	EndDate   string
}

// QueryKeys lists the query parameters counted as filters, in order
var QueryKeys = []string{"status", "risk", "q", "start_date", "end_date"}

// QueryFromValues reads the recognized keys from URL values
func QueryFromValues(v url.Values) Query {
	return Query{
		Status:    v.Get("status"),
		Risk:      v.Get("risk"),
		Q:         v.Get("q"),
		StartDate: v.Get("start_date"),
		EndDate:   v.Get("end_date"),
	}
}

// Values returns the query values in QueryKeys order
func (q Query) Values() []string {
	return []string{q.Status, q.Risk, q.Q, q.StartDate, q.EndDate}
}

// Encode renders the non-empty parameters as a URL query string
func (q Query) Encode() string {
	v := url.Values{}
	for i, key := range QueryKeys {
		if value := q.Values()[i]; value != "" {
			v.Set(key, value)
		}
	}
	return v.Encode()
}

// Study is a stored imaging study
type Study struct {
	ID          string
	StudyUID    string
	PatientUID  string
	AnonLabel   string
	StudyDate   time.Time
	Status      string
	OverallRisk string
	NoduleCount int
	HasImage    bool
	HasSummary  bool
	VolumeMM3   float64
	SiteName    string
	ImagePath   string
}

// PatientLabel is the patient identifier shown on pages. Unless PHI is
// allowed the real identifier is replaced by the anon label or a hash.
func (s Study) PatientLabel(allowPHI bool) string {
	if allowPHI {
		if s.PatientUID != "" {
			return s.PatientUID
		}
		return s.AnonLabel
	}
	if s.AnonLabel != "" {
		return s.AnonLabel
	}
	if s.PatientUID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s.PatientUID))
	return "Anon-" + hex.EncodeToString(sum[:])[:8]
}

// StudyListItem is one entry of the studies JSON API
type StudyListItem struct {
	ID          string `json:"id"`
	StudyUID    string `json:"study_uid"`
	PatientUID  string `json:"patient_uid"`
	StudyDate   string `json:"study_date"`
	Status      string `json:"status"`
	OverallRisk string `json:"overall_risk"`
	NoduleCount int    `json:"nodule_count"`
}

// ListItem converts the study for the JSON API, masking the patient
func (s Study) ListItem(allowPHI bool) StudyListItem {
	item := StudyListItem{
		ID:          s.ID,
		StudyUID:    s.StudyUID,
		PatientUID:  s.PatientLabel(allowPHI),
		Status:      s.Status,
		OverallRisk: s.OverallRisk,
		NoduleCount: s.NoduleCount,
	}
	if !s.StudyDate.IsZero() {
		item.StudyDate = s.StudyDate.Format("2006-01-02")
	}
	return item
}

// StudyFilter narrows a study listing
type StudyFilter struct {
	Status string
	Risk   string
	Search string
}

// OverviewKPIs are the headline counters of the overview page
type OverviewKPIs struct {
	TotalPatients int `json:"total_patients"`
	TotalStudies  int `json:"total_studies"`
	TotalNodules  int `json:"total_nodules"`
	HighRisk      int `json:"high_risk"`
}

// Overview is the JSON payload of the overview API
type Overview struct {
	KPIs          OverviewKPIs `json:"kpis"`
	RiskBreakdown Series       `json:"risk_breakdown"`
	VolumeTrend   Series       `json:"volume_trend"`
}

// Pagination describes the page window of a studies listing
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination clamps the requested window: perPage to [1, 100] and page
// to [1, TotalPages]. An empty listing has one page.
func NewPagination(page, perPage, total int) Pagination {
	if perPage < 1 {
		perPage = 1
	}
	if perPage > 100 {
		perPage = 100
	}
	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Offset is the number of rows before the current page
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// HasPrev reports whether a previous page exists
func (p Pagination) HasPrev() bool {
	return p.Page > 1
}

// HasNext reports whether a next page exists
func (p Pagination) HasNext() bool {
	return p.Page < p.TotalPages
}

// Nodule is one tracked finding of a study
type Nodule struct {
	NoduleUID  string  `json:"nodule_uid"`
	Location   string  `json:"location"`
	VolumeMM3  float64 `json:"volume_mm3"`
	DiameterMM float64 `json:"diameter_mm"`
	VDTDays    float64 `json:"vdt_days"`
	Risk       string  `json:"risk"`
	IsFollowup bool    `json:"is_followup"`
}

// StudySummary is the generated summary attached to a study
type StudySummary struct {
	VolumeTotalMM3 float64 `json:"volume_total_mm3"`
	MeanDiameterMM float64 `json:"mean_diameter_mm"`
	VDTDays        float64 `json:"vdt_days"`
	OverallRisk    string  `json:"overall_risk"`
	Notes          string  `json:"notes"`
}

// StudyDetail is the full view of a single study
type StudyDetail struct {
	ID          string        `json:"id"`
	StudyUID    string        `json:"study_uid"`
	StudyDate   string        `json:"study_date"`
	Status      string        `json:"status"`
	OverallRisk string        `json:"overall_risk"`
	NoduleCount int           `json:"nodule_count"`
	PatientUID  string        `json:"patient_uid"`
	AnonLabel   string        `json:"anon_label"`
	SiteName    string        `json:"site_name"`
	ImagePath   string        `json:"image_path,omitempty"`
	Summary     *StudySummary `json:"summary"`
	Nodules     []Nodule      `json:"nodules"`
}

// StudyRecord is a study with its summary and nodules as stored
type StudyRecord struct {
	Study   Study
	Summary *StudySummary
	Nodules []Nodule
}

// Detail builds the detail view of the record, masking the patient
func (r StudyRecord) Detail(allowPHI bool) StudyDetail {
	s := r.Study
	nodules := r.Nodules
	if nodules == nil {
		nodules = []Nodule{}
	}
	d := StudyDetail{
		ID:          s.ID,
		StudyUID:    s.StudyUID,
		Status:      s.Status,
		OverallRisk: s.OverallRisk,
		NoduleCount: s.NoduleCount,
		PatientUID:  s.PatientLabel(allowPHI),
		AnonLabel:   s.AnonLabel,
		SiteName:    s.SiteName,
		ImagePath:   s.ImagePath,
		Summary:     r.Summary,
		Nodules:     nodules,
	}
	if !s.StudyDate.IsZero() {
		d.StudyDate = s.StudyDate.Format("2006-01-02")
	}
	return d
}

// Followup links a nodule seen in two consecutive studies of a patient
type Followup struct {
	ID              string    `json:"id"`
	NoduleUID       string    `json:"nodule_uid"`
	PatientUID      string    `json:"patient_uid"`
	AnonLabel       string    `json:"anon_label"`
	SiteName        string    `json:"site_name"`
	PriorStudyID    string    `json:"-"`
	PriorStudyUID   string    `json:"prior_study_uid"`
	PriorDate       time.Time `json:"prior_date"`
	CurrentStudyID  string    `json:"current_study_id"`
	CurrentStudyUID string    `json:"current_study_uid"`
	CurrentDate     time.Time `json:"current_date"`
	GrowthPercent   float64   `json:"growth_percent"`
	Status          string    `json:"status"`
	Risk            string    `json:"risk"`
}

// Patient is the identifier shown for the followup's patient
func (f Followup) Patient(allowPHI bool) string {
	return Study{PatientUID: f.PatientUID, AnonLabel: f.AnonLabel}.PatientLabel(allowPHI)
}

// IngestionLog records one ingestion run of a study
type IngestionLog struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	StudyID     string     `json:"study_id"`
	StudyUID    string     `json:"study_uid"`
	PatientUID  string     `json:"patient_uid"`
	AnonLabel   string     `json:"anon_label"`
	SiteName    string     `json:"site_name"`
}

// Patient is the identifier shown for the ingested study's patient
func (l IngestionLog) Patient(allowPHI bool) string {
	return Study{PatientUID: l.PatientUID, AnonLabel: l.AnonLabel}.PatientLabel(allowPHI)
}

// AccessAudit records a view of a study detail page
type AccessAudit struct {
	StudyID    string
	Actor      string
	Action     string
	IPAddress  string
	AccessedAt time.Time
}

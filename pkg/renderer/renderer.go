package renderer

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/lirany1/qct-report/pkg/config"
	"github.com/lirany1/qct-report/pkg/models"
	"github.com/lirany1/qct-report/pkg/page"
)

// StudiesView is the data of a studies page
type StudiesView struct {
	Doc *page.Document
	// SessionID routes the page triggers to a live session; empty for
	// offline pages, whose export link points at ExportHref instead
	SessionID  string
	ExportHref string
	Pagination *models.Pagination
	Statuses   []string
}

// OverviewView is the data of the overview page
type OverviewView struct {
	Doc  *page.Document
	KPIs models.OverviewKPIs
}

// StudyView is the data of a study detail page
type StudyView struct {
	Doc    *page.Document
	Detail models.StudyDetail
}

// FollowupsView is the data of the followup timeline page
type FollowupsView struct {
	Doc        *page.Document
	Followups  []models.Followup
	Search     string
	Pagination *models.Pagination
}

// IngestionView is the data of the ingestion log page
type IngestionView struct {
	Doc        *page.Document
	Logs       []models.IngestionLog
	Search     string
	Pagination *models.Pagination
}

// Renderer projects documents to HTML
type Renderer struct {
	config      *config.Config
	tmpl        *template.Template
	assetPrefix string
}

// Option configures a Renderer
type Option func(*Renderer)

// WithAssetPrefix sets the prefix of theme asset links. Offline pages keep
// the default relative links; served pages use "/".
func WithAssetPrefix(prefix string) Option {
	return func(r *Renderer) {
		r.assetPrefix = prefix
	}
}

// NewRenderer creates a new renderer
func NewRenderer(cfg *config.Config, opts ...Option) *Renderer {
	r := &Renderer{config: cfg}
	for _, opt := range opts {
		opt(r)
	}
	r.tmpl = template.Must(template.New("pages").Funcs(r.funcMap()).Parse(pageTemplates))
	return r
}

// RenderStudies renders the studies table page
func (r *Renderer) RenderStudies(w io.Writer, view StudiesView) error {
	if err := r.tmpl.ExecuteTemplate(w, "studies", view); err != nil {
		return fmt.Errorf("failed to render studies page: %w", err)
	}
	return nil
}

// RenderOverview renders the overview page with KPIs and charts
func (r *Renderer) RenderOverview(w io.Writer, view OverviewView) error {
	if err := r.tmpl.ExecuteTemplate(w, "overview", view); err != nil {
		return fmt.Errorf("failed to render overview page: %w", err)
	}
	return nil
}

// RenderStudy renders the detail page of one study
func (r *Renderer) RenderStudy(w io.Writer, view StudyView) error {
	if err := r.tmpl.ExecuteTemplate(w, "study", view); err != nil {
		return fmt.Errorf("failed to render study page: %w", err)
	}
	return nil
}

// RenderFollowups renders the followup timeline
func (r *Renderer) RenderFollowups(w io.Writer, view FollowupsView) error {
	if err := r.tmpl.ExecuteTemplate(w, "followups", view); err != nil {
		return fmt.Errorf("failed to render followups page: %w", err)
	}
	return nil
}

// RenderIngestion renders the ingestion log listing
func (r *Renderer) RenderIngestion(w io.Writer, view IngestionView) error {
	if err := r.tmpl.ExecuteTemplate(w, "ingestion", view); err != nil {
		return fmt.Errorf("failed to render ingestion page: %w", err)
	}
	return nil
}

func (r *Renderer) funcMap() template.FuncMap {
	return template.FuncMap{
		"appName": func() string {
			return r.config.AppName
		},
		"asset": func(path string) string {
			return r.assetPrefix + path
		},
		"inc": func(n int) int { return n + 1 },
		"dec": func(n int) int { return n - 1 },
		"snapshotJSON": func(s *models.Snapshot) (template.JS, error) {
			// encoding/json escapes <, > and & so the block cannot close early
			b, err := json.Marshal(s)
			if err != nil {
				return "", err
			}
			return template.JS(b), nil
		},
		"pageURL": func(q models.Query, p *models.Pagination, n int) string {
			v, _ := url.ParseQuery(q.Encode())
			v.Set("page", strconv.Itoa(n))
			v.Set("per_page", strconv.Itoa(p.PerPage))
			return "/studies?" + v.Encode()
		},
		"listURL": func(path, search string, p *models.Pagination, n int) string {
			v := url.Values{}
			if search != "" {
				v.Set("q", search)
			}
			v.Set("page", strconv.Itoa(n))
			v.Set("per_page", strconv.Itoa(p.PerPage))
			return path + "?" + v.Encode()
		},
		"listing": func(path, search string, p *models.Pagination, placeholder, noun string) listing {
			return listing{Path: path, Search: search, Pagination: p, Placeholder: placeholder, Noun: noun}
		},
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02")
		},
		"allowPHI": func() bool {
			return r.config.AllowPHI
		},
		"text": func(d *page.Document, id string) string {
			return d.Text(id)
		},
		"hidden": func(d *page.Document, id string) bool {
			el := d.Element(id)
			return el != nil && el.Hidden
		},
		"has": func(d *page.Document, id string) bool {
			return d.Element(id) != nil
		},
		"riskOptions": func() []string {
			return models.RiskOrder
		},
	}
}

const pageTemplates = `
{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}}</title>
  <link rel="stylesheet" href="{{asset "static/css/main.css"}}">
</head>
<body>
<nav class="nav"><span class="brand">{{appName}}</span><a href="/">Overview</a><a href="/studies">Studies</a><a href="/followups">Follow-ups</a><a href="/ingestion">Ingestion</a></nav>
{{with .Banner}}<div class="banner{{if .Hidden}} is-hidden{{end}}" data-banner-enabled="{{.EnabledAttr}}" data-banner-text="{{.TextAttr}}">{{.Text}}</div>{{end}}
<main class="container">{{end}}

{{define "foot"}}
{{with .Snapshot}}<script id="qct-data" type="application/json">{{snapshotJSON .}}</script>{{end}}
</main>
</body>
</html>{{end}}

{{define "mount"}}{{if .}}<div id="{{.ID}}" class="chart-mount"{{if .Hidden}} style="display: none"{{end}}>{{.Content}}</div>{{end}}{{end}}

{{define "charts"}}{{if or .Risk .Volume}}<section class="charts">
  {{with .Risk}}<div class="chart-card"><h2>Risk breakdown</h2>{{template "mount" .}}{{template "mount" $.RiskFallback}}</div>{{end}}
  {{with .Volume}}<div class="chart-card"><h2>Average volume trend</h2>{{template "mount" .}}{{template "mount" $.VolumeFallback}}</div>{{end}}
</section>{{end}}{{end}}

{{define "overview"}}{{template "head" .Doc}}
<h1>Overview</h1>
<section class="kpis">
  <div class="kpi"><span class="kpi-label">Patients</span><span class="kpi-value">{{.KPIs.TotalPatients}}</span></div>
  <div class="kpi"><span class="kpi-label">Studies</span><span class="kpi-value">{{.KPIs.TotalStudies}}</span></div>
  <div class="kpi"><span class="kpi-label">Nodules</span><span class="kpi-value">{{.KPIs.TotalNodules}}</span></div>
  <div class="kpi"><span class="kpi-label">High risk</span><span class="kpi-value">{{.KPIs.HighRisk}}</span></div>
</section>
{{template "charts" .Doc.Charts}}
{{template "foot" .Doc}}{{end}}

{{define "studies"}}{{template "head" .Doc}}{{$doc := .Doc}}{{$session := .SessionID}}
<h1>Studies</h1>
<form class="filters" method="get" action="/studies">
  <select name="status"><option value="">Any status</option>{{range .Statuses}}<option value="{{.}}"{{if eq . $doc.Query.Status}} selected{{end}}>{{.}}</option>{{end}}</select>
  <select name="risk"><option value="">Any risk</option>{{range riskOptions}}<option value="{{.}}"{{if eq . $doc.Query.Risk}} selected{{end}}>{{.}}</option>{{end}}</select>
  <input type="search" name="q" value="{{$doc.Query.Q}}" placeholder="Study or patient">
  <input type="date" name="start_date" value="{{$doc.Query.StartDate}}">
  <input type="date" name="end_date" value="{{$doc.Query.EndDate}}">
  <button type="submit">Apply</button>
</form>

<section class="meta">
  {{if has $doc "metaRefresh"}}<span>Refreshed <span id="metaRefresh">{{text $doc "metaRefresh"}}</span></span>{{end}}
  {{if has $doc "metaFilters"}}<span>Active filters <span id="metaFilters">{{text $doc "metaFilters"}}</span></span>{{end}}
  {{if has $doc "metaDateRange"}}<span>Date range <span id="metaDateRange">{{text $doc "metaDateRange"}}</span></span>{{end}}
</section>
<section class="quality">
  {{if has $doc "qualityImage"}}<span>Images <span id="qualityImage">{{text $doc "qualityImage"}}</span></span>{{end}}
  {{if has $doc "qualitySummary"}}<span>Summaries <span id="qualitySummary">{{text $doc "qualitySummary"}}</span></span>{{end}}
</section>
{{template "charts" $doc.Charts}}

<section class="actions">
{{with $doc.QuickFilter}}{{if $session}}<form method="post" action="/sessions/{{$session}}/quick-filter"><button type="submit" class="btn{{if .Active}} active{{end}}" data-quick-filter="last30">{{.Label}}</button></form>
{{else}}<button type="button" class="btn{{if .Active}} active{{end}}" data-quick-filter="last30">{{.Label}}</button>
{{end}}{{end}}{{with $doc.ClearQuickFilter}}{{if $session}}<form method="post" action="/sessions/{{$session}}/quick-filter/clear"><button type="submit" class="btn" data-clear-quick-filter>{{.Label}}</button></form>
{{else}}<button type="button" class="btn" data-clear-quick-filter>{{.Label}}</button>
{{end}}{{end}}{{with $doc.Export}}<a class="btn" data-export="studies" href="{{if $session}}/sessions/{{$session}}/export.csv{{else}}{{$.ExportHref}}{{end}}">{{.Label}}</a>
{{end}}</section>

{{with $doc.Table}}<table class="table">
  <thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
  <tbody>
  {{range $row := .Rows}}<tr data-study-id="{{.ID}}"{{if .Tracked}} data-study-date="{{.StudyDate}}" data-has-image="{{.HasImage}}" data-has-summary="{{.HasSummary}}"{{end}}{{if .Hidden}} style="display: none"{{end}}>{{range $i, $cell := .Cells}}<td>{{if and $session $row.ID (eq $i 0)}}<a href="/studies/{{$row.ID}}">{{$cell}}</a>{{else}}{{$cell}}{{end}}</td>{{end}}</tr>
  {{end}}</tbody>
</table>{{end}}
{{if has $doc "clientEmptyState"}}<p id="clientEmptyState" class="empty-state{{if hidden $doc "clientEmptyState"}} is-hidden{{end}}">{{text $doc "clientEmptyState"}}</p>{{end}}

{{with .Pagination}}<nav class="pagination">
  {{if .HasPrev}}<a href="{{pageURL $doc.Query . (dec .Page)}}">Previous</a>{{end}}
  <span>Page {{.Page}} of {{.TotalPages}} ({{.Total}} studies)</span>
  {{if .HasNext}}<a href="{{pageURL $doc.Query . (inc .Page)}}">Next</a>{{end}}
</nav>{{end}}
{{template "foot" $doc}}{{end}}

{{define "study"}}{{template "head" .Doc}}{{with .Detail}}
<h1>Study {{.StudyUID}}</h1>
<section class="detail">
  <dl>
    <dt>Patient</dt><dd>{{.PatientUID}}</dd>
    <dt>Site</dt><dd>{{.SiteName}}</dd>
    <dt>Study date</dt><dd>{{.StudyDate}}</dd>
    <dt>Status</dt><dd>{{.Status}}</dd>
    <dt>Risk</dt><dd class="risk-{{.OverallRisk}}">{{.OverallRisk}}</dd>
    <dt>Nodules</dt><dd>{{.NoduleCount}}</dd>
  </dl>
  {{if .ImagePath}}<img class="study-image" src="{{asset .ImagePath}}" alt="Study {{.StudyUID}}">{{end}}
</section>
{{with .Summary}}<section class="summary">
  <h2>Summary</h2>
  <dl>
    <dt>Total volume</dt><dd>{{printf "%.2f" .VolumeTotalMM3}} mm³</dd>
    <dt>Mean diameter</dt><dd>{{printf "%.2f" .MeanDiameterMM}} mm</dd>
    <dt>Volume doubling time</dt><dd>{{printf "%.0f" .VDTDays}} days</dd>
    <dt>Risk</dt><dd>{{.OverallRisk}}</dd>
  </dl>
  <p class="notes">{{.Notes}}</p>
</section>{{else}}<p class="empty-state">No summary for this study.</p>{{end}}
<table class="table">
  <thead><tr><th>Nodule</th><th>Location</th><th>Volume (mm³)</th><th>Diameter (mm)</th><th>VDT (days)</th><th>Risk</th><th>Follow-up</th></tr></thead>
  <tbody>
  {{range .Nodules}}<tr><td>{{.NoduleUID}}</td><td>{{.Location}}</td><td>{{printf "%.2f" .VolumeMM3}}</td><td>{{printf "%.2f" .DiameterMM}}</td><td>{{printf "%.0f" .VDTDays}}</td><td>{{.Risk}}</td><td>{{if .IsFollowup}}Yes{{else}}No{{end}}</td></tr>
  {{else}}<tr><td colspan="7">No nodules recorded.</td></tr>
  {{end}}</tbody>
</table>
<p><a href="/studies/{{.ID}}/api">JSON</a></p>
{{end}}{{template "foot" .Doc}}{{end}}

{{define "search"}}<form class="filters" method="get" action="{{.Path}}">
  <input type="search" name="q" value="{{.Search}}" placeholder="{{.Placeholder}}">
  <button type="submit">Search</button>
</form>{{end}}

{{define "listPages"}}{{with .Pagination}}<nav class="pagination">
  {{if .HasPrev}}<a href="{{listURL $.Path $.Search . (dec .Page)}}">Previous</a>{{end}}
  <span>Page {{.Page}} of {{.TotalPages}} ({{.Total}} {{$.Noun}})</span>
  {{if .HasNext}}<a href="{{listURL $.Path $.Search . (inc .Page)}}">Next</a>{{end}}
</nav>{{end}}{{end}}

{{define "followups"}}{{template "head" .Doc}}
<h1>Follow-ups</h1>
{{template "search" (listing "/followups" .Search .Pagination "Patient, nodule or study" "follow-ups")}}
<table class="table">
  <thead><tr><th>Nodule</th><th>Patient</th><th>Site</th><th>Prior study</th><th>Prior date</th><th>Current study</th><th>Current date</th><th>Growth</th><th>Status</th><th>Risk</th></tr></thead>
  <tbody>
  {{range .Followups}}<tr data-followup-id="{{.ID}}"><td>{{.NoduleUID}}</td><td>{{.Patient allowPHI}}</td><td>{{.SiteName}}</td><td>{{.PriorStudyUID}}</td><td>{{date .PriorDate}}</td><td><a href="/studies/{{.CurrentStudyID}}">{{.CurrentStudyUID}}</a></td><td>{{date .CurrentDate}}</td><td>{{printf "%.1f" .GrowthPercent}}%</td><td>{{.Status}}</td><td>{{.Risk}}</td></tr>
  {{else}}<tr><td colspan="10">No follow-ups found.</td></tr>
  {{end}}</tbody>
</table>
{{template "listPages" (listing "/followups" .Search .Pagination "" "follow-ups")}}
{{template "foot" .Doc}}{{end}}

{{define "ingestion"}}{{template "head" .Doc}}
<h1>Ingestion</h1>
{{template "search" (listing "/ingestion" .Search .Pagination "Patient, study or message" "runs")}}
<table class="table">
  <thead><tr><th>Study</th><th>Patient</th><th>Site</th><th>Status</th><th>Message</th><th>Started</th><th>Completed</th></tr></thead>
  <tbody>
  {{range .Logs}}<tr data-ingestion-id="{{.ID}}"><td><a href="/studies/{{.StudyID}}">{{.StudyUID}}</a></td><td>{{.Patient allowPHI}}</td><td>{{.SiteName}}</td><td>{{.Status}}</td><td>{{.Message}}</td><td>{{.StartedAt.Format "2006-01-02 15:04"}}</td><td>{{with .CompletedAt}}{{.Format "2006-01-02 15:04"}}{{else}}-{{end}}</td></tr>
  {{else}}<tr><td colspan="7">No ingestion runs found.</td></tr>
  {{end}}</tbody>
</table>
{{template "listPages" (listing "/ingestion" .Search .Pagination "" "runs")}}
{{template "foot" .Doc}}{{end}}
`

// listing carries the shared search and pagination data of a list page
type listing struct {
	Path        string
	Search      string
	Pagination  *models.Pagination
	Placeholder string
	Noun        string
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lirany1/qct-report/pkg/config"
	"github.com/lirany1/qct-report/pkg/models"
	"github.com/lirany1/qct-report/pkg/storage"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	studies   []models.Study
	records   map[string]*models.StudyRecord
	followups []models.Followup
	logs      []models.IngestionLog
	audits    []models.AccessAudit
	auditErr  error

	lastFilter models.StudyFilter
	lastSearch string
	lastLimit  int
	lastOffset int
}

func (f *fakeStore) ListStudies(filter models.StudyFilter, limit, offset int) ([]models.Study, error) {
	f.lastFilter, f.lastLimit, f.lastOffset = filter, limit, offset
	if offset >= len(f.studies) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.studies) {
		end = len(f.studies)
	}
	return f.studies[offset:end], nil
}

func (f *fakeStore) CountStudies(models.StudyFilter) (int, error) {
	return len(f.studies), nil
}

func (f *fakeStore) OverviewKPIs() (models.OverviewKPIs, error) {
	return models.OverviewKPIs{TotalPatients: 2, TotalStudies: len(f.studies), TotalNodules: 5, HighRisk: 1}, nil
}

func (f *fakeStore) Snapshot() (*models.Snapshot, error) {
	return &models.Snapshot{
		RiskBreakdown: models.Series{{Label: "low", Value: 1}, {Label: "medium", Value: 0}, {Label: "high", Value: 1}},
		VolumeTrend:   models.Series{{Label: "2024-04-01", Value: 120}, {Label: "2024-06-10", Value: 340}},
	}, nil
}

func (f *fakeStore) StudyRecord(id string) (*models.StudyRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

func (f *fakeStore) RecordAccess(a models.AccessAudit) error {
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audits = append(f.audits, a)
	return nil
}

func (f *fakeStore) ListFollowups(search string, limit, offset int) ([]models.Followup, error) {
	f.lastSearch, f.lastLimit, f.lastOffset = search, limit, offset
	return f.followups, nil
}

func (f *fakeStore) CountFollowups(string) (int, error) {
	return len(f.followups), nil
}

func (f *fakeStore) ListIngestionLogs(search string, limit, offset int) ([]models.IngestionLog, error) {
	f.lastSearch, f.lastLimit, f.lastOffset = search, limit, offset
	return f.logs, nil
}

func (f *fakeStore) CountIngestionLogs(string) (int, error) {
	return len(f.logs), nil
}

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	store := &fakeStore{studies: []models.Study{
		{ID: "2", StudyUID: "ST-2", PatientUID: "P-2", AnonLabel: "Anon-2", StudyDate: testNow.AddDate(0, 0, -5), Status: "ready", OverallRisk: "high", NoduleCount: 3, HasImage: true, HasSummary: true},
		{ID: "1", StudyUID: "ST-1", PatientUID: "P-1", AnonLabel: "Anon-1", StudyDate: testNow.AddDate(0, 0, -40), Status: "review", OverallRisk: "low", NoduleCount: 2},
	}}
	store.records = map[string]*models.StudyRecord{
		"2": {
			Study:   store.studies[0],
			Summary: &models.StudySummary{VolumeTotalMM3: 420, MeanDiameterMM: 9.3, VDTDays: 120, OverallRisk: "high", Notes: "Simulated AI summary for demo use only."},
			Nodules: []models.Nodule{{NoduleUID: "ND-ST-2-1", Location: "RUL", VolumeMM3: 420, DiameterMM: 9.3, VDTDays: 120, Risk: "high", IsFollowup: true}},
		},
	}

	cfg := config.NewConfig()
	cfg.ChartLibrary = false
	cfg.ThemePath = filepath.Join(t.TempDir(), "no-theme")

	srv := NewServer(cfg, store)
	srv.now = func() time.Time { return testNow }
	return srv, store
}

func do(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

var sessionPattern = regexp.MustCompile(`/sessions/([0-9a-f-]+)/quick-filter"`)

func openStudies(t *testing.T, srv *Server, target string) (string, string) {
	t.Helper()
	rec := do(t, srv, http.MethodGet, target)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s status = %d, body = %s", target, rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	m := sessionPattern.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("GET %s rendered no session form", target)
	}
	return m[1], body
}

func TestServer_StudiesQuickFilterFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	id, body := openStudies(t, srv, "/studies")
	if strings.Contains(body, `style="display: none"`) {
		t.Error("rows hidden before the quick filter was applied")
	}
	if !strings.Contains(body, `<span id="qualityImage">50% (1/2)</span>`) {
		t.Error("quality summary not computed on page ready")
	}

	rec := do(t, srv, http.MethodPost, "/sessions/"+id+"/quick-filter")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("POST quick-filter status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != "/sessions/"+id {
		t.Errorf("redirect = %q", loc)
	}

	rec = do(t, srv, http.MethodGet, "/sessions/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET session status = %d", rec.Code)
	}
	page := rec.Body.String()
	for _, want := range []string{
		`class="btn active" data-quick-filter="last30"`,
		`data-study-id="1" data-study-date="2024-05-06" data-has-image="false" data-has-summary="false" style="display: none"`,
		`<span id="qualityImage">100% (1/1)</span>`,
		`<span id="metaFilters">1</span>`,
		`<span id="metaDateRange">Last 30 days (page)</span>`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("filtered page missing %q", want)
		}
	}

	rec = do(t, srv, http.MethodGet, "/sessions/"+id+"/export.csv")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv;charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "studies_export_2024-06-15.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	lines := strings.Split(rec.Body.String(), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], `"ST-2","Anon-2"`) {
		t.Errorf("export = %q, want header and the recent study", rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/sessions/"+id+"/quick-filter/clear")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("POST clear status = %d", rec.Code)
	}
	page = do(t, srv, http.MethodGet, "/sessions/"+id).Body.String()
	if strings.Contains(page, `style="display: none"`) || strings.Contains(page, "btn active") {
		t.Error("clear did not restore every row")
	}
}

func TestServer_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/sessions/missing"},
		{http.MethodPost, "/sessions/missing/quick-filter"},
		{http.MethodPost, "/sessions/missing/quick-filter/clear"},
		{http.MethodGet, "/sessions/missing/export.csv"},
	} {
		if rec := do(t, srv, tc.method, tc.path); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}

func TestServer_Pagination(t *testing.T) {
	srv, store := newTestServer(t)

	tests := []struct {
		name       string
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/studies", 10, 0},
		{"second page", "/studies?per_page=1&page=2", 1, 1},
		{"page past the end", "/studies?per_page=1&page=9", 1, 1},
		{"garbage", "/studies?per_page=x&page=y", 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			openStudies(t, srv, tt.target)
			if store.lastLimit != tt.wantLimit || store.lastOffset != tt.wantOffset {
				t.Errorf("limit, offset = %d, %d; want %d, %d", store.lastLimit, store.lastOffset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestServer_StudiesFilterParams(t *testing.T) {
	srv, store := newTestServer(t)

	_, body := openStudies(t, srv, "/studies?status=ready&risk=high&q=ST")
	want := models.StudyFilter{Status: "ready", Risk: "high", Search: "ST"}
	if diff := cmp.Diff(want, store.lastFilter); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(body, `<option value="ready" selected>`) {
		t.Error("status filter not preserved in the form")
	}
	if !strings.Contains(body, `<span id="metaFilters">3</span>`) {
		t.Error("active filter count not rendered")
	}
}

func TestServer_StudiesAPI(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/studies/api")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var items []models.StudyListItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].PatientUID != "Anon-2" {
		t.Errorf("patient = %q, want masked label", items[0].PatientUID)
	}
	if srv.Sessions().Len() != 0 {
		t.Error("API request created a page session")
	}
}

func TestServer_Overview(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`<span class="kpi-value">2</span>`,
		`width: 50%`,
		"Demo environment: synthetic data only.",
		`href="/static/css/main.css"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("overview missing %q", want)
		}
	}

	rec = do(t, srv, http.MethodGet, "/api/overview")
	var overview models.Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &overview); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if overview.KPIs.TotalStudies != 2 || overview.KPIs.HighRisk != 1 {
		t.Errorf("kpis = %+v", overview.KPIs)
	}
	if diff := cmp.Diff([]string{"low", "medium", "high"}, overview.RiskBreakdown.Labels()); diff != "" {
		t.Errorf("risk labels mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_MissingThemeAssets(t *testing.T) {
	srv, _ := newTestServer(t)

	if rec := do(t, srv, http.MethodGet, "/static/css/main.css"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_QuickFilterWindowFromConfig(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.config.QuickFilterDays = 7

	id, body := openStudies(t, srv, "/studies")
	if !strings.Contains(body, `data-quick-filter="last30">Last 7 days</button>`) {
		t.Error("quick filter trigger does not name the configured window")
	}

	do(t, srv, http.MethodPost, "/sessions/"+id+"/quick-filter")
	page := do(t, srv, http.MethodGet, "/sessions/"+id).Body.String()
	for _, want := range []string{
		`<span id="metaDateRange">Last 7 days (page)</span>`,
		`data-study-id="2" data-study-date="2024-06-10" data-has-image="true" data-has-summary="true">`,
		"No studies in the last 7 days on this page.",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("filtered page missing %q", want)
		}
	}
}

func TestServer_StudyDetail(t *testing.T) {
	srv, store := newTestServer(t)
	srv.config.AuditUser = "reader"

	req := httptest.NewRequest(http.MethodGet, "/studies/2", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<h1>Study ST-2</h1>",
		"<dt>Patient</dt><dd>Anon-2</dd>",
		"<td>ND-ST-2-1</td>",
		"Simulated AI summary for demo use only.",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("detail page missing %q", want)
		}
	}

	want := []models.AccessAudit{{StudyID: "2", Actor: "reader", Action: "view", IPAddress: "10.1.2.3", AccessedAt: testNow}}
	if diff := cmp.Diff(want, store.audits); diff != "" {
		t.Errorf("audit mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_StudyDetailAPI(t *testing.T) {
	srv, store := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/studies/2/api")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var detail models.StudyDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.StudyUID != "ST-2" || detail.PatientUID != "Anon-2" || detail.StudyDate != "2024-06-10" {
		t.Errorf("detail = %+v", detail)
	}
	if detail.Summary == nil || len(detail.Nodules) != 1 {
		t.Errorf("summary = %v, nodules = %v", detail.Summary, detail.Nodules)
	}
	if len(store.audits) != 0 {
		t.Error("API request wrote an access audit")
	}

	srv.config.AllowPHI = true
	rec = do(t, srv, http.MethodGet, "/studies/2/api")
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.PatientUID != "P-2" {
		t.Errorf("patient = %q with PHI allowed, want P-2", detail.PatientUID)
	}
}

func TestServer_StudyDetailErrors(t *testing.T) {
	srv, store := newTestServer(t)

	for _, path := range []string{"/studies/missing", "/studies/missing/api"} {
		if rec := do(t, srv, http.MethodGet, path); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
	if len(store.audits) != 0 {
		t.Error("unknown study wrote an access audit")
	}

	store.auditErr = errors.New("disk full")
	if rec := do(t, srv, http.MethodGet, "/studies/2"); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d with a failing audit, want 500", rec.Code)
	}
}

func TestServer_Followups(t *testing.T) {
	srv, store := newTestServer(t)
	store.followups = []models.Followup{{
		ID: "f1", NoduleUID: "ND-ST-2-1", PatientUID: "P-2", AnonLabel: "Anon-2",
		PriorStudyUID: "ST-1", PriorDate: testNow.AddDate(0, 0, -40),
		CurrentStudyID: "2", CurrentStudyUID: "ST-2", CurrentDate: testNow.AddDate(0, 0, -5),
		GrowthPercent: 8.4, Status: "monitor", Risk: "high",
	}}

	rec := do(t, srv, http.MethodGet, "/followups?q=+ND+&per_page=500")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.lastSearch != "ND" || store.lastLimit != 100 || store.lastOffset != 0 {
		t.Errorf("search, limit, offset = %q, %d, %d", store.lastSearch, store.lastLimit, store.lastOffset)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<td>ND-ST-2-1</td><td>Anon-2</td>",
		`<a href="/studies/2">ST-2</a>`,
		"<td>8.4%</td>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("followups page missing %q", want)
		}
	}
}

func TestServer_Ingestion(t *testing.T) {
	srv, store := newTestServer(t)
	store.logs = []models.IngestionLog{
		{ID: "l1", Status: "processing", Message: "Simulated ingestion event.", StartedAt: testNow, StudyID: "1", StudyUID: "ST-1", PatientUID: "P-1", AnonLabel: "Anon-1"},
	}

	rec := do(t, srv, http.MethodGet, "/ingestion?page=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.lastLimit != 10 || store.lastOffset != 0 {
		t.Errorf("limit, offset = %d, %d; want 10, 0", store.lastLimit, store.lastOffset)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`<a href="/studies/1">ST-1</a></td><td>Anon-1</td>`,
		"<td>processing</td>",
		"<td>-</td>",
		"Page 1 of 1 (1 runs)",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("ingestion page missing %q", want)
		}
	}
}

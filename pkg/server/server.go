package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/lirany1/qct-report/pkg/banner"
	"github.com/lirany1/qct-report/pkg/charts"
	"github.com/lirany1/qct-report/pkg/config"
	"github.com/lirany1/qct-report/pkg/logger"
	"github.com/lirany1/qct-report/pkg/models"
	"github.com/lirany1/qct-report/pkg/page"
	"github.com/lirany1/qct-report/pkg/renderer"
	"github.com/lirany1/qct-report/pkg/storage"
	"github.com/lirany1/qct-report/pkg/themes"
)

// DefaultBannerText is shown when no banner text is configured
const DefaultBannerText = "Demo environment: synthetic data only."

// Store is the study data the server reads
type Store interface {
	ListStudies(f models.StudyFilter, limit, offset int) ([]models.Study, error)
	CountStudies(f models.StudyFilter) (int, error)
	OverviewKPIs() (models.OverviewKPIs, error)
	Snapshot() (*models.Snapshot, error)

	StudyRecord(id string) (*models.StudyRecord, error)
	RecordAccess(a models.AccessAudit) error
	ListFollowups(search string, limit, offset int) ([]models.Followup, error)
	CountFollowups(search string) (int, error)
	ListIngestionLogs(search string, limit, offset int) ([]models.IngestionLog, error)
	CountIngestionLogs(search string) (int, error)
}

// Server serves the overview and studies pages
type Server struct {
	config   *config.Config
	store    Store
	router   *mux.Router
	renderer *renderer.Renderer
	themes   *themes.Manager
	sessions *SessionStore
	now      func() time.Time
}

// NewServer creates a new report server
func NewServer(cfg *config.Config, store Store) *Server {
	s := &Server{
		config:   cfg,
		store:    store,
		router:   mux.NewRouter(),
		renderer: renderer.NewRenderer(cfg, renderer.WithAssetPrefix("/")),
		themes:   themes.NewManager(cfg),
		now:      time.Now,
	}
	s.sessions = NewSessionStore(cfg.SessionTTL, func() time.Time { return s.now() })
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the live page sessions
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.evictSessions(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Server shutdown: %v", err)
		}
	}()

	logger.Infof("Server running at http://%s", addr)
	logger.Infof("Press Ctrl+C to stop")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) evictSessions(ctx context.Context) {
	interval := s.config.SessionTTL / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Evict(); n > 0 {
				logger.Debugf("Evicted %d idle page sessions", n)
			}
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	// Theme assets
	s.router.PathPrefix("/static/").Handler(s.themes.Handler())

	s.router.HandleFunc("/", s.handleOverview).Methods("GET")
	s.router.HandleFunc("/studies", s.handleStudies).Methods("GET")
	s.router.HandleFunc("/followups", s.handleFollowups).Methods("GET")
	s.router.HandleFunc("/ingestion", s.handleIngestion).Methods("GET")

	// API endpoints
	s.router.HandleFunc("/api/overview", s.handleOverviewAPI).Methods("GET")
	s.router.HandleFunc("/studies/api", s.handleStudiesAPI).Methods("GET")

	// Study detail, registered after /studies/api so that path wins
	s.router.HandleFunc("/studies/{id}", s.handleStudy).Methods("GET")
	s.router.HandleFunc("/studies/{id}/api", s.handleStudyAPI).Methods("GET")

	// Page sessions
	sessions := s.router.PathPrefix("/sessions/{id}").Subrouter()
	sessions.HandleFunc("", s.handleSessionPage).Methods("GET")
	sessions.HandleFunc("/quick-filter", s.handleQuickFilter).Methods("POST")
	sessions.HandleFunc("/quick-filter/clear", s.handleClearQuickFilter).Methods("POST")
	sessions.HandleFunc("/export.csv", s.handleExport).Methods("GET")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.WithFields(logger.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request served")
	})
}

func (s *Server) newController(doc *page.Document) *page.Controller {
	return page.NewController(doc, charts.Select(s.config.ChartLibrary),
		page.WithClock(s.now),
		page.WithWindowDays(s.config.QuickFilterDays),
		page.WithLocation(s.config.Location()),
	)
}

func (s *Server) banner() *banner.Banner {
	return banner.New(s.config.BannerEnabled, s.config.BannerText, DefaultBannerText)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	kpis, err := s.store.OverviewKPIs()
	if err != nil {
		s.fail(w, "load overview", err)
		return
	}
	snapshot, err := s.store.Snapshot()
	if err != nil {
		s.fail(w, "load chart data", err)
		return
	}

	doc := page.NewOverviewDocument(s.config.AppName+" | Overview", snapshot)
	doc.Banner = s.banner()
	if err := s.newController(doc).Ready(); err != nil {
		logger.Warnf("Overview charts: %v", err)
	}

	s.writeHTML(w, func(buf *bytes.Buffer) error {
		return s.renderer.RenderOverview(buf, renderer.OverviewView{Doc: doc, KPIs: kpis})
	})
}

func (s *Server) handleOverviewAPI(w http.ResponseWriter, r *http.Request) {
	kpis, err := s.store.OverviewKPIs()
	if err != nil {
		s.fail(w, "load overview", err)
		return
	}
	snapshot, err := s.store.Snapshot()
	if err != nil {
		s.fail(w, "load chart data", err)
		return
	}

	writeJSON(w, models.Overview{
		KPIs:          kpis,
		RiskBreakdown: snapshot.RiskBreakdown,
		VolumeTrend:   snapshot.VolumeTrend,
	})
}

// listing reads the filter and page window of a studies request
func (s *Server) listing(r *http.Request) (models.Query, []models.Study, models.Pagination, error) {
	values := r.URL.Query()
	q := models.QueryFromValues(values)
	f := models.StudyFilter{Status: q.Status, Risk: q.Risk, Search: q.Q}

	total, err := s.store.CountStudies(f)
	if err != nil {
		return q, nil, models.Pagination{}, err
	}
	p := models.NewPagination(intParam(values.Get("page"), 1), intParam(values.Get("per_page"), s.config.PerPage), total)

	studies, err := s.store.ListStudies(f, p.PerPage, p.Offset())
	return q, studies, p, err
}

func (s *Server) handleStudies(w http.ResponseWriter, r *http.Request) {
	q, studies, p, err := s.listing(r)
	if err != nil {
		s.fail(w, "list studies", err)
		return
	}

	doc := page.NewStudiesDocument(s.config.AppName+" | Studies", studies, q, s.config.AllowPHI, s.config.QuickFilterDays)
	doc.Banner = s.banner()
	c := s.newController(doc)
	if err := c.Ready(); err != nil {
		logger.Warnf("Studies page: %v", err)
	}

	session := s.sessions.Create(c, renderer.StudiesView{
		Pagination: &p,
		Statuses:   models.Statuses,
	})
	logger.Debugf("Created page session %s (%d rows)", session.ID, len(studies))

	s.renderSession(w, session)
}

func (s *Server) handleStudiesAPI(w http.ResponseWriter, r *http.Request) {
	_, studies, _, err := s.listing(r)
	if err != nil {
		s.fail(w, "list studies", err)
		return
	}

	items := make([]models.StudyListItem, 0, len(studies))
	for _, study := range studies {
		items = append(items, study.ListItem(s.config.AllowPHI))
	}
	writeJSON(w, items)
}

// plainDocument is the document of a page without studies table or charts
func (s *Server) plainDocument(title string) *page.Document {
	doc := page.NewDocument()
	doc.Title = s.config.AppName + " | " + title
	doc.Banner = s.banner()
	banner.Apply(doc.Banner)
	return doc
}

// studyRecord loads the study named in the route, answering 404 itself
func (s *Server) studyRecord(w http.ResponseWriter, r *http.Request) (*models.StudyRecord, bool) {
	record, err := s.store.StudyRecord(mux.Vars(r)["id"])
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "study not found", http.StatusNotFound)
		return nil, false
	case err != nil:
		s.fail(w, "load study", err)
		return nil, false
	}
	return record, true
}

func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	record, ok := s.studyRecord(w, r)
	if !ok {
		return
	}

	audit := models.AccessAudit{
		StudyID:    record.Study.ID,
		Actor:      s.config.AuditUser,
		Action:     "view",
		IPAddress:  clientIP(r),
		AccessedAt: s.now(),
	}
	if err := s.store.RecordAccess(audit); err != nil {
		s.fail(w, "record study access", err)
		return
	}

	doc := s.plainDocument("Study " + record.Study.StudyUID)
	s.writeHTML(w, func(buf *bytes.Buffer) error {
		return s.renderer.RenderStudy(buf, renderer.StudyView{Doc: doc, Detail: record.Detail(s.config.AllowPHI)})
	})
}

func (s *Server) handleStudyAPI(w http.ResponseWriter, r *http.Request) {
	if record, ok := s.studyRecord(w, r); ok {
		writeJSON(w, record.Detail(s.config.AllowPHI))
	}
}

// listPage reads the search term and the page window of a list request
func (s *Server) listPage(r *http.Request, count func(search string) (int, error)) (string, models.Pagination, error) {
	values := r.URL.Query()
	search := strings.TrimSpace(values.Get("q"))

	total, err := count(search)
	if err != nil {
		return search, models.Pagination{}, err
	}
	return search, models.NewPagination(intParam(values.Get("page"), 1), intParam(values.Get("per_page"), s.config.PerPage), total), nil
}

func (s *Server) handleFollowups(w http.ResponseWriter, r *http.Request) {
	search, p, err := s.listPage(r, s.store.CountFollowups)
	if err != nil {
		s.fail(w, "count followups", err)
		return
	}
	followups, err := s.store.ListFollowups(search, p.PerPage, p.Offset())
	if err != nil {
		s.fail(w, "list followups", err)
		return
	}

	s.writeHTML(w, func(buf *bytes.Buffer) error {
		return s.renderer.RenderFollowups(buf, renderer.FollowupsView{
			Doc:        s.plainDocument("Follow-ups"),
			Followups:  followups,
			Search:     search,
			Pagination: &p,
		})
	})
}

func (s *Server) handleIngestion(w http.ResponseWriter, r *http.Request) {
	search, p, err := s.listPage(r, s.store.CountIngestionLogs)
	if err != nil {
		s.fail(w, "count ingestion logs", err)
		return
	}
	logs, err := s.store.ListIngestionLogs(search, p.PerPage, p.Offset())
	if err != nil {
		s.fail(w, "list ingestion logs", err)
		return
	}

	s.writeHTML(w, func(buf *bytes.Buffer) error {
		return s.renderer.RenderIngestion(buf, renderer.IngestionView{
			Doc:        s.plainDocument("Ingestion"),
			Logs:       logs,
			Search:     search,
			Pagination: &p,
		})
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := mux.Vars(r)["id"]
	session, ok := s.sessions.Get(id)
	if !ok {
		http.Error(w, "page session not found, reload the studies page", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	if session, ok := s.session(w, r); ok {
		s.renderSession(w, session)
	}
}

func (s *Server) handleQuickFilter(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(c *page.Controller) bool {
		_, ok := c.ToggleQuickFilter()
		return ok
	})
}

func (s *Server) handleClearQuickFilter(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(c *page.Controller) bool {
		_, ok := c.ClearQuickFilter()
		return ok
	})
}

// transition applies a quick filter action and redirects to the page
func (s *Server) transition(w http.ResponseWriter, r *http.Request, apply func(c *page.Controller) bool) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	applied := false
	session.Do(func(c *page.Controller, _ renderer.StudiesView) error {
		applied = apply(c)
		return nil
	})
	if !applied {
		http.Error(w, "quick filter is not available on this page", http.StatusNotFound)
		return
	}

	http.Redirect(w, r, "/sessions/"+session.ID, http.StatusSeeOther)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	err := session.Do(func(c *page.Controller, _ renderer.StudiesView) error {
		if !c.Exportable() {
			return page.ErrExportUnavailable
		}
		return c.Exporter().Download(w, r, c.Document().Table)
	})
	switch {
	case errors.Is(err, page.ErrExportUnavailable):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		s.fail(w, "export studies", err)
	}
}

func (s *Server) renderSession(w http.ResponseWriter, session *Session) {
	s.writeHTML(w, func(buf *bytes.Buffer) error {
		return session.Do(func(c *page.Controller, view renderer.StudiesView) error {
			view.Doc = c.Document()
			return s.renderer.RenderStudies(buf, view)
		})
	})
}

// writeHTML renders into a buffer first so a template error never leaves
// a half-written page
func (s *Server) writeHTML(w http.ResponseWriter, render func(buf *bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		s.fail(w, "render page", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	logger.Errorf("Failed to %s: %v", action, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to write response: %v", err)
	}
}

// clientIP is the remote host of the request, or "unknown"
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func intParam(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lirany1/qct-report/pkg/logger"
	"github.com/lirany1/qct-report/pkg/models"
	_ "github.com/mattn/go-sqlite3"
)

const dateLayout = "2006-01-02"

// Database is the sqlite store of patients and studies
type Database struct {
	db   *sql.DB
	path string
}

// NewDatabase creates or opens the study database
func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	logger.Infof("Opening database at: %s", dbPath)

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:   db,
		path: dbPath,
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Debugf("Database initialized successfully")
	return database, nil
}

// migrate creates or updates the database schema
func (d *Database) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS patients (
			id TEXT PRIMARY KEY,
			patient_uid TEXT NOT NULL UNIQUE,
			anon_label TEXT,
			site_name TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS studies (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			study_uid TEXT NOT NULL UNIQUE,
			study_date TEXT,
			status TEXT NOT NULL,
			overall_risk TEXT,
			nodule_count INTEGER DEFAULT 0,
			has_image INTEGER DEFAULT 0,
			has_summary INTEGER DEFAULT 0,
			volume_total_mm3 REAL,
			image_path TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (patient_id) REFERENCES patients(id)
		)`,

		`CREATE TABLE IF NOT EXISTS study_summaries (
			study_id TEXT PRIMARY KEY,
			volume_total_mm3 REAL,
			mean_diameter_mm REAL,
			vdt_days REAL,
			overall_risk TEXT,
			notes TEXT,
			FOREIGN KEY (study_id) REFERENCES studies(id)
		)`,

		`CREATE TABLE IF NOT EXISTS nodules (
			id TEXT PRIMARY KEY,
			study_id TEXT NOT NULL,
			nodule_uid TEXT NOT NULL UNIQUE,
			location TEXT,
			volume_mm3 REAL,
			diameter_mm REAL,
			vdt_days REAL,
			risk TEXT,
			is_followup INTEGER DEFAULT 0,
			FOREIGN KEY (study_id) REFERENCES studies(id)
		)`,

		`CREATE TABLE IF NOT EXISTS followups (
			id TEXT PRIMARY KEY,
			nodule_uid TEXT NOT NULL,
			prior_study_id TEXT NOT NULL,
			current_study_id TEXT NOT NULL,
			growth_percent REAL,
			status TEXT NOT NULL,
			FOREIGN KEY (prior_study_id) REFERENCES studies(id),
			FOREIGN KEY (current_study_id) REFERENCES studies(id)
		)`,

		`CREATE TABLE IF NOT EXISTS ingestion_logs (
			id TEXT PRIMARY KEY,
			study_id TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			FOREIGN KEY (study_id) REFERENCES studies(id)
		)`,

		`CREATE TABLE IF NOT EXISTS access_audits (
			id TEXT PRIMARY KEY,
			study_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			ip_address TEXT,
			accessed_at TEXT NOT NULL,
			FOREIGN KEY (study_id) REFERENCES studies(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_study_date
		 ON studies(study_date DESC)`,

		`CREATE INDEX IF NOT EXISTS idx_study_status_risk
		 ON studies(status, overall_risk)`,
	}

	for i, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	logger.Debugf("Database migrations completed")
	return nil
}

// SaveStudy stores a study and its patient, assigning IDs when missing
func (d *Database) SaveStudy(s *models.Study) error {
	if s.PatientUID == "" {
		return fmt.Errorf("study %s has no patient", s.StudyUID)
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO patients (id, patient_uid, anon_label, site_name) VALUES (?, ?, ?, ?)
		ON CONFLICT(patient_uid) DO UPDATE SET
			anon_label = excluded.anon_label,
			site_name = excluded.site_name
	`, uuid.New().String(), s.PatientUID, s.AnonLabel, s.SiteName)
	if err != nil {
		return fmt.Errorf("failed to save patient: %w", err)
	}

	var patientID string
	if err := tx.QueryRow(`SELECT id FROM patients WHERE patient_uid = ?`, s.PatientUID).Scan(&patientID); err != nil {
		return fmt.Errorf("failed to load patient: %w", err)
	}

	var studyDate interface{}
	if !s.StudyDate.IsZero() {
		studyDate = s.StudyDate.Format(dateLayout)
	}

	var existingID string
	err = tx.QueryRow(`SELECT id FROM studies WHERE study_uid = ?`, s.StudyUID).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO studies (
				id, patient_id, study_uid, study_date, status, overall_risk,
				nodule_count, has_image, has_summary, volume_total_mm3, image_path
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			s.ID,
			patientID,
			s.StudyUID,
			studyDate,
			s.Status,
			s.OverallRisk,
			s.NoduleCount,
			s.HasImage,
			s.HasSummary,
			s.VolumeMM3,
			s.ImagePath,
		)
	case err == nil:
		s.ID = existingID
		_, err = tx.Exec(`
			UPDATE studies SET
				patient_id = ?, study_date = ?, status = ?, overall_risk = ?,
				nodule_count = ?, has_image = ?, has_summary = ?, volume_total_mm3 = ?,
				image_path = ?
			WHERE id = ?
		`,
			patientID,
			studyDate,
			s.Status,
			s.OverallRisk,
			s.NoduleCount,
			s.HasImage,
			s.HasSummary,
			s.VolumeMM3,
			s.ImagePath,
			s.ID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to save study: %w", err)
	}

	return tx.Commit()
}

// filterClause builds the WHERE clause shared by listing and counting
func filterClause(f models.StudyFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.Status != "" {
		conds = append(conds, "s.status = ?")
		args = append(args, f.Status)
	}
	if f.Risk != "" {
		conds = append(conds, "s.overall_risk = ?")
		args = append(args, f.Risk)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + search + "%"
		conds = append(conds, "(s.study_uid LIKE ? OR p.patient_uid LIKE ? OR p.anon_label LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// ListStudies returns a page of studies, newest first. A limit of zero or
// less returns every match.
func (d *Database) ListStudies(f models.StudyFilter, limit, offset int) ([]models.Study, error) {
	where, args := filterClause(f)
	if limit <= 0 {
		limit = -1
	}
	query := fmt.Sprintf(`
		SELECT
			s.id, s.study_uid, p.patient_uid, COALESCE(p.anon_label, ''),
			COALESCE(s.study_date, ''), s.status, COALESCE(s.overall_risk, ''),
			s.nodule_count, s.has_image, s.has_summary, COALESCE(s.volume_total_mm3, 0)
		FROM studies s
		JOIN patients p ON s.patient_id = p.id
		%s
		ORDER BY s.study_date DESC, s.study_uid ASC
		LIMIT ? OFFSET ?
	`, where)

	rows, err := d.db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	defer rows.Close()

	var studies []models.Study
	for rows.Next() {
		var s models.Study
		var studyDate string

		err := rows.Scan(
			&s.ID,
			&s.StudyUID,
			&s.PatientUID,
			&s.AnonLabel,
			&studyDate,
			&s.Status,
			&s.OverallRisk,
			&s.NoduleCount,
			&s.HasImage,
			&s.HasSummary,
			&s.VolumeMM3,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to read study: %w", err)
		}

		if studyDate != "" {
			s.StudyDate, _ = time.Parse(dateLayout, studyDate)
		}
		studies = append(studies, s)
	}

	return studies, rows.Err()
}

// CountStudies counts the studies matching the filter
func (d *Database) CountStudies(f models.StudyFilter) (int, error) {
	where, args := filterClause(f)
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM studies s
		JOIN patients p ON s.patient_id = p.id
		%s
	`, where)

	var count int
	if err := d.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count studies: %w", err)
	}
	return count, nil
}

// OverviewKPIs returns the headline counters
func (d *Database) OverviewKPIs() (models.OverviewKPIs, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM patients),
			COUNT(*),
			COALESCE(SUM(nodule_count), 0),
			COALESCE(SUM(CASE WHEN overall_risk = 'high' THEN 1 ELSE 0 END), 0)
		FROM studies
	`

	var k models.OverviewKPIs
	err := d.db.QueryRow(query).Scan(&k.TotalPatients, &k.TotalStudies, &k.TotalNodules, &k.HighRisk)
	if err != nil {
		return k, fmt.Errorf("failed to load overview: %w", err)
	}
	return k, nil
}

// RiskBreakdown counts studies per risk level in low, medium, high order.
// Levels without studies are reported as zero.
func (d *Database) RiskBreakdown() (models.Series, error) {
	rows, err := d.db.Query(`
		SELECT overall_risk, COUNT(*)
		FROM studies
		WHERE overall_risk IS NOT NULL
		GROUP BY overall_risk
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk breakdown: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]float64)
	for rows.Next() {
		var risk string
		var count float64
		if err := rows.Scan(&risk, &count); err != nil {
			return nil, fmt.Errorf("failed to read risk breakdown: %w", err)
		}
		counts[risk] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	series := make(models.Series, 0, len(models.RiskOrder))
	for _, risk := range models.RiskOrder {
		series = append(series, models.Point{Label: risk, Value: counts[risk]})
	}
	return series, nil
}

// VolumeTrend averages the total nodule volume of summarized studies per
// study date, oldest first
func (d *Database) VolumeTrend() (models.Series, error) {
	rows, err := d.db.Query(`
		SELECT study_date, AVG(volume_total_mm3)
		FROM studies
		WHERE has_summary = 1 AND study_date IS NOT NULL AND volume_total_mm3 IS NOT NULL
		GROUP BY study_date
		ORDER BY study_date ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load volume trend: %w", err)
	}
	defer rows.Close()

	series := models.Series{}
	for rows.Next() {
		var p models.Point
		if err := rows.Scan(&p.Label, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to read volume trend: %w", err)
		}
		series = append(series, p)
	}
	return series, rows.Err()
}

// Snapshot returns the chart data of the overview page
func (d *Database) Snapshot() (*models.Snapshot, error) {
	risk, err := d.RiskBreakdown()
	if err != nil {
		return nil, err
	}
	trend, err := d.VolumeTrend()
	if err != nil {
		return nil, err
	}
	return &models.Snapshot{RiskBreakdown: risk, VolumeTrend: trend}, nil
}

// Reset removes every stored record, dependents first
func (d *Database) Reset() error {
	tables := []string{
		"access_audits", "ingestion_logs", "followups",
		"nodules", "study_summaries", "studies", "patients",
	}
	for _, table := range tables {
		if _, err := d.db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lirany1/qct-report/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, _ := time.Parse(timeLayout, raw)
	return t
}

func parseDate(raw string) time.Time {
	t, _ := time.Parse(dateLayout, raw)
	return t
}

// searchClause matches search against any of the columns
func searchClause(search string, columns ...string) (string, []interface{}) {
	search = strings.TrimSpace(search)
	if search == "" {
		return "", nil
	}

	pattern := "%" + search + "%"
	conds := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, column := range columns {
		conds[i] = column + " LIKE ?"
		args[i] = pattern
	}
	return "WHERE (" + strings.Join(conds, " OR ") + ")", args
}

// SaveNodules replaces the nodules of a study
func (d *Database) SaveNodules(studyID string, nodules []models.Nodule) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM nodules WHERE study_id = ?`, studyID); err != nil {
		return fmt.Errorf("failed to clear nodules: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO nodules (
			id, study_id, nodule_uid, location, volume_mm3,
			diameter_mm, vdt_days, risk, is_followup
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodules {
		_, err := stmt.Exec(
			uuid.New().String(),
			studyID,
			n.NoduleUID,
			n.Location,
			n.VolumeMM3,
			n.DiameterMM,
			n.VDTDays,
			n.Risk,
			n.IsFollowup,
		)
		if err != nil {
			return fmt.Errorf("failed to save nodule %s: %w", n.NoduleUID, err)
		}
	}

	return tx.Commit()
}

// SaveSummary stores the summary of a study, replacing any earlier one
func (d *Database) SaveSummary(studyID string, s *models.StudySummary) error {
	_, err := d.db.Exec(`
		INSERT INTO study_summaries (
			study_id, volume_total_mm3, mean_diameter_mm, vdt_days, overall_risk, notes
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(study_id) DO UPDATE SET
			volume_total_mm3 = excluded.volume_total_mm3,
			mean_diameter_mm = excluded.mean_diameter_mm,
			vdt_days = excluded.vdt_days,
			overall_risk = excluded.overall_risk,
			notes = excluded.notes
	`, studyID, s.VolumeTotalMM3, s.MeanDiameterMM, s.VDTDays, s.OverallRisk, s.Notes)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// SaveFollowup links a nodule across two studies
func (d *Database) SaveFollowup(f *models.Followup) error {
	if f.PriorStudyID == "" || f.CurrentStudyID == "" {
		return fmt.Errorf("followup of %s needs both studies", f.NoduleUID)
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}

	_, err := d.db.Exec(`
		INSERT INTO followups (
			id, nodule_uid, prior_study_id, current_study_id, growth_percent, status
		) VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.NoduleUID, f.PriorStudyID, f.CurrentStudyID, f.GrowthPercent, f.Status)
	if err != nil {
		return fmt.Errorf("failed to save followup: %w", err)
	}
	return nil
}

// SaveIngestionLog records an ingestion run of a study
func (d *Database) SaveIngestionLog(l *models.IngestionLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}

	var completedAt interface{}
	if l.CompletedAt != nil {
		completedAt = formatTime(*l.CompletedAt)
	}

	_, err := d.db.Exec(`
		INSERT INTO ingestion_logs (id, study_id, status, message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.StudyID, l.Status, l.Message, formatTime(l.StartedAt), completedAt)
	if err != nil {
		return fmt.Errorf("failed to save ingestion log: %w", err)
	}
	return nil
}

// RecordAccess appends an access audit entry
func (d *Database) RecordAccess(a models.AccessAudit) error {
	_, err := d.db.Exec(`
		INSERT INTO access_audits (id, study_id, actor, action, ip_address, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), a.StudyID, a.Actor, a.Action, a.IPAddress, formatTime(a.AccessedAt))
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	return nil
}

// AccessAudits returns the audit trail of a study, oldest first
func (d *Database) AccessAudits(studyID string) ([]models.AccessAudit, error) {
	rows, err := d.db.Query(`
		SELECT study_id, actor, action, COALESCE(ip_address, ''), accessed_at
		FROM access_audits
		WHERE study_id = ?
		ORDER BY accessed_at ASC
	`, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load access audits: %w", err)
	}
	defer rows.Close()

	var audits []models.AccessAudit
	for rows.Next() {
		var a models.AccessAudit
		var accessedAt string
		if err := rows.Scan(&a.StudyID, &a.Actor, &a.Action, &a.IPAddress, &accessedAt); err != nil {
			return nil, fmt.Errorf("failed to read access audit: %w", err)
		}
		a.AccessedAt = parseTime(accessedAt)
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// StudyRecord loads a study with its summary and nodules. ErrNotFound is
// returned for an unknown id.
func (d *Database) StudyRecord(id string) (*models.StudyRecord, error) {
	var s models.Study
	var studyDate string

	err := d.db.QueryRow(`
		SELECT
			s.id, s.study_uid, p.patient_uid, COALESCE(p.anon_label, ''),
			COALESCE(p.site_name, ''), COALESCE(s.study_date, ''), s.status,
			COALESCE(s.overall_risk, ''), s.nodule_count, s.has_image, s.has_summary,
			COALESCE(s.volume_total_mm3, 0), COALESCE(s.image_path, '')
		FROM studies s
		JOIN patients p ON s.patient_id = p.id
		WHERE s.id = ?
	`, id).Scan(
		&s.ID,
		&s.StudyUID,
		&s.PatientUID,
		&s.AnonLabel,
		&s.SiteName,
		&studyDate,
		&s.Status,
		&s.OverallRisk,
		&s.NoduleCount,
		&s.HasImage,
		&s.HasSummary,
		&s.VolumeMM3,
		&s.ImagePath,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("study %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load study: %w", err)
	}
	if studyDate != "" {
		s.StudyDate = parseDate(studyDate)
	}

	record := &models.StudyRecord{Study: s}

	var summary models.StudySummary
	err = d.db.QueryRow(`
		SELECT
			COALESCE(volume_total_mm3, 0), COALESCE(mean_diameter_mm, 0),
			COALESCE(vdt_days, 0), COALESCE(overall_risk, ''), COALESCE(notes, '')
		FROM study_summaries
		WHERE study_id = ?
	`, id).Scan(&summary.VolumeTotalMM3, &summary.MeanDiameterMM, &summary.VDTDays, &summary.OverallRisk, &summary.Notes)
	switch {
	case err == nil:
		record.Summary = &summary
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}

	rows, err := d.db.Query(`
		SELECT
			nodule_uid, COALESCE(location, ''), COALESCE(volume_mm3, 0),
			COALESCE(diameter_mm, 0), COALESCE(vdt_days, 0), COALESCE(risk, ''), is_followup
		FROM nodules
		WHERE study_id = ?
		ORDER BY nodule_uid ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n models.Nodule
		if err := rows.Scan(&n.NoduleUID, &n.Location, &n.VolumeMM3, &n.DiameterMM, &n.VDTDays, &n.Risk, &n.IsFollowup); err != nil {
			return nil, fmt.Errorf("failed to read nodule: %w", err)
		}
		record.Nodules = append(record.Nodules, n)
	}
	return record, rows.Err()
}

const followupFrom = `
	FROM followups f
	JOIN studies cs ON f.current_study_id = cs.id
	JOIN studies ps ON f.prior_study_id = ps.id
	JOIN patients p ON cs.patient_id = p.id
`

var followupSearch = []string{"p.patient_uid", "p.anon_label", "f.nodule_uid", "cs.study_uid", "ps.study_uid"}

// ListFollowups returns a page of the followup timeline, most recent
// current study first. A limit of zero or less returns every match.
func (d *Database) ListFollowups(search string, limit, offset int) ([]models.Followup, error) {
	where, args := searchClause(search, followupSearch...)
	if limit <= 0 {
		limit = -1
	}
	query := fmt.Sprintf(`
		SELECT
			f.id, f.nodule_uid, p.patient_uid, COALESCE(p.anon_label, ''),
			COALESCE(p.site_name, ''), ps.id, ps.study_uid, COALESCE(ps.study_date, ''),
			cs.id, cs.study_uid, COALESCE(cs.study_date, ''),
			COALESCE(f.growth_percent, 0), f.status, COALESCE(cs.overall_risk, '')
		%s
		%s
		ORDER BY cs.study_date DESC, f.nodule_uid ASC
		LIMIT ? OFFSET ?
	`, followupFrom, where)

	rows, err := d.db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list followups: %w", err)
	}
	defer rows.Close()

	var followups []models.Followup
	for rows.Next() {
		var f models.Followup
		var priorDate, currentDate string

		err := rows.Scan(
			&f.ID,
			&f.NoduleUID,
			&f.PatientUID,
			&f.AnonLabel,
			&f.SiteName,
			&f.PriorStudyID,
			&f.PriorStudyUID,
			&priorDate,
			&f.CurrentStudyID,
			&f.CurrentStudyUID,
			&currentDate,
			&f.GrowthPercent,
			&f.Status,
			&f.Risk,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to read followup: %w", err)
		}

		f.PriorDate = parseDate(priorDate)
		f.CurrentDate = parseDate(currentDate)
		f.GrowthPercent = math.Round(f.GrowthPercent*10) / 10
		followups = append(followups, f)
	}
	return followups, rows.Err()
}

// CountFollowups counts the followups matching the search
func (d *Database) CountFollowups(search string) (int, error) {
	where, args := searchClause(search, followupSearch...)
	query := fmt.Sprintf("SELECT COUNT(*) %s %s", followupFrom, where)

	var count int
	if err := d.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count followups: %w", err)
	}
	return count, nil
}

const ingestionFrom = `
	FROM ingestion_logs l
	JOIN studies s ON l.study_id = s.id
	JOIN patients p ON s.patient_id = p.id
`

var ingestionSearch = []string{"p.patient_uid", "p.anon_label", "s.study_uid", "l.message"}

// ListIngestionLogs returns a page of ingestion runs, latest start first.
// A limit of zero or less returns every match.
func (d *Database) ListIngestionLogs(search string, limit, offset int) ([]models.IngestionLog, error) {
	where, args := searchClause(search, ingestionSearch...)
	if limit <= 0 {
		limit = -1
	}
	query := fmt.Sprintf(`
		SELECT
			l.id, l.status, COALESCE(l.message, ''), l.started_at, l.completed_at,
			s.id, s.study_uid, p.patient_uid, COALESCE(p.anon_label, ''), COALESCE(p.site_name, '')
		%s
		%s
		ORDER BY l.started_at DESC, l.id ASC
		LIMIT ? OFFSET ?
	`, ingestionFrom, where)

	rows, err := d.db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion logs: %w", err)
	}
	defer rows.Close()

	var logs []models.IngestionLog
	for rows.Next() {
		var l models.IngestionLog
		var startedAt string
		var completedAt sql.NullString

		err := rows.Scan(
			&l.ID,
			&l.Status,
			&l.Message,
			&startedAt,
			&completedAt,
			&l.StudyID,
			&l.StudyUID,
			&l.PatientUID,
			&l.AnonLabel,
			&l.SiteName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to read ingestion log: %w", err)
		}

		l.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			l.CompletedAt = &t
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CountIngestionLogs counts the ingestion runs matching the search
func (d *Database) CountIngestionLogs(search string) (int, error) {
	where, args := searchClause(search, ingestionSearch...)
	query := fmt.Sprintf("SELECT COUNT(*) %s %s", ingestionFrom, where)

	var count int
	if err := d.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count ingestion logs: %w", err)
	}
	return count, nil
}

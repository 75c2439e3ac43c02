package storage

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/lirany1/qct-report/pkg/logger"
	"github.com/lirany1/qct-report/pkg/models"
)

var seedSites = []string{"Chicago", "Seattle"}

// SeedOptions controls fake data generation
type SeedOptions struct {
	PatientsPerSite int
	Seed            int64
	Now             time.Time
}

// Seed replaces the database content with deterministic demo studies and
// returns how many studies were written
func (d *Database) Seed(opts SeedOptions) (int, error) {
	if opts.PatientsPerSite <= 0 {
		opts.PatientsPerSite = 5
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	if err := d.Reset(); err != nil {
		return 0, err
	}

	count := 0
	for _, site := range seedSites {
		prefix := strings.ToUpper(site[:2])
		for idx := 1; idx <= opts.PatientsPerSite; idx++ {
			patientUID := fmt.Sprintf("P-%s-%03d", prefix, idx)
			anonLabel := fmt.Sprintf("Anon-%s-%03d", prefix, idx)

			studyCount := 2 + rng.Intn(2)
			base := opts.Now.AddDate(0, 0, -(40 + rng.Intn(181)))
			var prior *seeded
			for s := 0; s < studyCount; s++ {
				cur := seedStudy(rng, patientUID, anonLabel, site, s, base)
				if err := d.saveSeeded(rng, cur, opts.Now); err != nil {
					return count, err
				}
				if prior != nil {
					if err := d.SaveFollowup(seedFollowup(rng, prior, cur)); err != nil {
						return count, err
					}
				}
				if count < seedAuditViews {
					err := d.RecordAccess(models.AccessAudit{
						StudyID:    cur.study.ID,
						Actor:      "seed",
						Action:     "seed_view",
						IPAddress:  "127.0.0.1",
						AccessedAt: opts.Now,
					})
					if err != nil {
						return count, err
					}
				}
				prior = cur
				count++
			}
		}
	}

	logger.Infof("Seeded %d studies", count)
	return count, nil
}

// seedAuditViews is how many seeded studies get an initial audit entry
const seedAuditViews = 5

var seedLocations = []string{"RUL", "RML", "RLL", "LUL", "LLL"}

// seeded is a generated study with the records stored alongside it
type seeded struct {
	study   *models.Study
	nodules []models.Nodule
	summary *models.StudySummary
}

func (d *Database) saveSeeded(rng *rand.Rand, s *seeded, now time.Time) error {
	if err := d.SaveStudy(s.study); err != nil {
		return err
	}
	if err := d.SaveNodules(s.study.ID, s.nodules); err != nil {
		return err
	}
	if s.summary != nil {
		if err := d.SaveSummary(s.study.ID, s.summary); err != nil {
			return err
		}
	}

	status := "completed"
	if s.study.Status == "processing" {
		status = "processing"
	}
	completed := now
	return d.SaveIngestionLog(&models.IngestionLog{
		StudyID:     s.study.ID,
		Status:      status,
		Message:     "Simulated ingestion event.",
		StartedAt:   now.Add(-time.Duration(1+rng.Intn(48)) * time.Hour),
		CompletedAt: &completed,
	})
}

func seedStudy(rng *rand.Rand, patientUID, anonLabel, site string, idx int, base time.Time) *seeded {
	date := base.AddDate(0, 0, idx*(60+rng.Intn(61)))
	studyUID := fmt.Sprintf("ST-%s-%d", patientUID, idx+1)
	count := 1 + rng.Intn(4)

	total, diameters, vdts := 0.0, 0.0, 0.0
	risk := models.RiskLow
	nodules := make([]models.Nodule, 0, count)
	for n := 0; n < count; n++ {
		volume := 50 + rng.Float64()*2950
		vdtDays := 30 + rng.Intn(371)
		diameter := math.Cbrt(volume*6/math.Pi) + rng.Float64() - 0.5
		noduleRisk := riskFromMetrics(volume, vdtDays)

		nodules = append(nodules, models.Nodule{
			NoduleUID:  fmt.Sprintf("ND-%s-%d", studyUID, n+1),
			Location:   seedLocations[rng.Intn(len(seedLocations))],
			VolumeMM3:  round2(volume),
			DiameterMM: round2(diameter),
			VDTDays:    float64(vdtDays),
			Risk:       noduleRisk,
			IsFollowup: idx > 0,
		})
		total += volume
		diameters += diameter
		vdts += float64(vdtDays)
		risk = higherRisk(risk, noduleRisk)
	}

	status := models.Statuses[rng.Intn(len(models.Statuses))]
	if risk == models.RiskHigh {
		status = "review"
	}

	study := &models.Study{
		StudyUID:    studyUID,
		PatientUID:  patientUID,
		AnonLabel:   anonLabel,
		SiteName:    site,
		StudyDate:   time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Status:      status,
		OverallRisk: risk,
		NoduleCount: count,
		HasImage:    rng.Intn(5) > 0,
		HasSummary:  rng.Intn(4) > 0,
		VolumeMM3:   round2(total),
	}
	if study.HasImage {
		study.ImagePath = fmt.Sprintf("static/images/%s.png", studyUID)
	}

	out := &seeded{study: study, nodules: nodules}
	if study.HasSummary {
		out.summary = &models.StudySummary{
			VolumeTotalMM3: round2(total),
			MeanDiameterMM: round2(diameters / float64(count)),
			VDTDays:        round2(vdts / float64(count)),
			OverallRisk:    risk,
			Notes:          "Simulated AI summary for demo use only.",
		}
	}
	return out
}

// seedFollowup tracks the first nodule of the current study against the
// patient's previous study
func seedFollowup(rng *rand.Rand, prior, cur *seeded) *models.Followup {
	status := "monitor"
	if cur.study.OverallRisk == models.RiskLow {
		status = "stable"
	}
	return &models.Followup{
		NoduleUID:      cur.nodules[0].NoduleUID,
		PriorStudyID:   prior.study.ID,
		CurrentStudyID: cur.study.ID,
		GrowthPercent:  round2(-5 + rng.Float64()*40),
		Status:         status,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func riskFromMetrics(volume float64, vdtDays int) string {
	switch {
	case volume > 1500 || vdtDays < 100:
		return models.RiskHigh
	case volume > 500 || vdtDays < 200:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func higherRisk(a, b string) string {
	if riskRank(b) > riskRank(a) {
		return b
	}
	return a
}

func riskRank(risk string) int {
	for i, r := range models.RiskOrder {
		if r == risk {
			return i
		}
	}
	return -1
}

package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/noah-isme/labroster/internal/models"
	"github.com/noah-isme/labroster/pkg/export"
)

type rosterSource interface {
	ListStudentsByClass(ctx context.Context, classID int64) ([]models.Student, error)
	ListTeachersByClass(ctx context.Context, classID int64) ([]models.ClassTeacher, error)
	ListStudentsByExperiment(ctx context.Context, experimentID int64) ([]models.Student, error)
	ListTeachersByExperiment(ctx context.Context, experimentID int64) ([]models.Teacher, error)
	ListStudentsByTimeRange(ctx context.Context, timeRangeID int64) ([]models.Student, error)
}

type classLookup interface {
	Get(ctx context.Context, id int64) (*models.Class, error)
}

type experimentLookup interface {
	Get(ctx context.Context, id int64) (*models.Experiment, error)
	ListTimeRanges(ctx context.Context, experimentID int64) ([]models.ExperimentTimeRange, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type datasetRenderer interface {
	Render(data *export.Dataset) ([]byte, error)
}

var rosterHeaders = []string{"Role", "ID", "External ID", "Account", "Name", "Admin", "Slot"}

// RosterExportService renders class and experiment rosters to CSV or PDF
// files.
type RosterExportService struct {
	rosters     rosterSource
	classes     classLookup
	experiments experimentLookup
	storage     fileStorage
	renderers   map[export.Format]datasetRenderer
	retention   time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewRosterExportService constructs a RosterExportService.
func NewRosterExportService(rosters rosterSource, classes classLookup, experiments experimentLookup, storage fileStorage, retention time.Duration, logger *zap.Logger) *RosterExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RosterExportService{
		rosters:     rosters,
		classes:     classes,
		experiments: experiments,
		storage:     storage,
		renderers: map[export.Format]datasetRenderer{
			export.FormatCSV: export.NewCSVExporter(),
			export.FormatPDF: export.NewPDFExporter(),
		},
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ExportClassRoster writes the teachers and students of a class.
func (s *RosterExportService) ExportClassRoster(ctx context.Context, classID int64, format export.Format) (*models.RosterExport, error) {
	class, err := s.classes.Get(ctx, classID)
	if err != nil {
		return nil, err
	}
	teachers, err := s.rosters.ListTeachersByClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	students, err := s.rosters.ListStudentsByClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	label := "class " + strconv.FormatInt(class.ID, 10)
	if class.ClassID != nil && *class.ClassID != "" {
		label = "class " + *class.ClassID
	}
	data := export.NewDataset(strings.ToUpper(label)+" ROSTER", rosterHeaders...)
	for _, t := range teachers {
		if err := data.Append("teacher", strconv.FormatInt(t.ID, 10), deref(t.TeacherID), deref(t.Account), deref(t.Name), yesNo(t.Admin), ""); err != nil {
			return nil, normalize(err, "failed to build roster")
		}
	}
	for _, st := range students {
		if err := appendStudent(data, "student", st, ""); err != nil {
			return nil, normalize(err, "failed to build roster")
		}
	}
	return s.write(ctx, "class", class.ID, label, data, format)
}

// ExportExperimentRoster writes the supervisors, assigned students and time
// range bookings of an experiment.
func (s *RosterExportService) ExportExperimentRoster(ctx context.Context, experimentID int64, format export.Format) (*models.RosterExport, error) {
	experiment, err := s.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	teachers, err := s.rosters.ListTeachersByExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	students, err := s.rosters.ListStudentsByExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	ranges, err := s.experiments.ListTimeRanges(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	label := "experiment " + strconv.FormatInt(experiment.ID, 10)
	if experiment.Name != nil && *experiment.Name != "" {
		label = *experiment.Name
	}
	data := export.NewDataset(strings.ToUpper(label)+" ROSTER", rosterHeaders...)
	for _, t := range teachers {
		if err := data.Append("supervisor", strconv.FormatInt(t.ID, 10), deref(t.TeacherID), deref(t.Account), deref(t.Name), "", ""); err != nil {
			return nil, normalize(err, "failed to build roster")
		}
	}
	for _, st := range students {
		if err := appendStudent(data, "student", st, ""); err != nil {
			return nil, normalize(err, "failed to build roster")
		}
	}
	for _, tr := range ranges {
		booked, err := s.rosters.ListStudentsByTimeRange(ctx, tr.ID)
		if err != nil {
			return nil, err
		}
		slot := formatSlot(tr)
		for _, st := range booked {
			if err := appendStudent(data, "booking", st, slot); err != nil {
				return nil, normalize(err, "failed to build roster")
			}
		}
	}
	return s.write(ctx, "experiment", experiment.ID, label, data, format)
}

// Cleanup removes exports older than the retention window.
func (s *RosterExportService) Cleanup(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deleted, err := s.storage.CleanupOlderThan(s.retention)
	if err != nil {
		return nil, normalize(err, "failed to clean up exports")
	}
	if len(deleted) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(deleted)))
	}
	return deleted, nil
}

func (s *RosterExportService) write(ctx context.Context, owner string, ownerID int64, label string, data *export.Dataset, format export.Format) (*models.RosterExport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, validationError(fmt.Errorf("unsupported format %q", format), "unsupported export format")
	}
	body, err := renderer.Render(data)
	if err != nil {
		return nil, normalize(err, "failed to render roster")
	}

	now := s.now()
	filename := buildFilename(owner, label, now, format)
	path, err := s.storage.Save(filename, body)
	if err != nil {
		return nil, normalize(err, "failed to store roster")
	}
	s.logger.Info("roster exported",
		zap.String("owner", owner),
		zap.Int64("owner_id", ownerID),
		zap.String("format", string(format)),
		zap.Int("rows", data.Len()),
		zap.String("path", path),
	)
	return &models.RosterExport{
		Owner:     owner,
		OwnerID:   ownerID,
		Filename:  filename,
		Path:      path,
		Format:    string(format),
		Rows:      data.Len(),
		CreatedAt: now,
	}, nil
}

func appendStudent(data *export.Dataset, role string, st models.Student, slot string) error {
	return data.Append(role, strconv.FormatInt(st.ID, 10), deref(st.StudentID), deref(st.Account), deref(st.Name), "", slot)
}

func formatSlot(tr models.ExperimentTimeRange) string {
	start, end := tr.StartTime.UTC(), tr.EndTime.UTC()
	if start.Format("2006-01-02") == end.Format("2006-01-02") {
		return start.Format("2006-01-02 15:04") + " to " + end.Format("15:04")
	}
	return start.Format("2006-01-02 15:04") + " to " + end.Format("2006-01-02 15:04")
}

func buildFilename(owner, label string, at time.Time, format export.Format) string {
	return fmt.Sprintf("%s/%s_%s%s", owner, sanitizeFilename(label), at.Format("20060102T150405"), format.Extension())
}

const maxFilenameBytes = 100

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(strings.ToLower(raw))
	if len(result) <= maxFilenameBytes {
		return result
	}
	cut := maxFilenameBytes
	for cut > 0 && !utf8.RuneStart(result[cut]) {
		cut--
	}
	return result[:cut]
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

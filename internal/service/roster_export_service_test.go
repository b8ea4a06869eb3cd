package service

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/labroster/internal/models"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
	"github.com/noah-isme/labroster/pkg/export"
	"github.com/noah-isme/labroster/pkg/storage"
)

type stubRosters struct{}

func (stubRosters) ListStudentsByClass(ctx context.Context, classID int64) ([]models.Student, error) {
	return []models.Student{{ID: 1, StudentID: strPtr("S-1"), Name: strPtr("Ada")}, {ID: 2, Account: strPtr("bob")}}, nil
}

func (stubRosters) ListTeachersByClass(ctx context.Context, classID int64) ([]models.ClassTeacher, error) {
	return []models.ClassTeacher{{Teacher: models.Teacher{ID: 9, Name: strPtr("Grace")}, Admin: true}}, nil
}

func (stubRosters) ListStudentsByExperiment(ctx context.Context, experimentID int64) ([]models.Student, error) {
	return []models.Student{{ID: 1}}, nil
}

func (stubRosters) ListTeachersByExperiment(ctx context.Context, experimentID int64) ([]models.Teacher, error) {
	return []models.Teacher{{ID: 9}}, nil
}

func (stubRosters) ListStudentsByTimeRange(ctx context.Context, timeRangeID int64) ([]models.Student, error) {
	return []models.Student{{ID: 1}}, nil
}

type stubClasses struct{}

func (stubClasses) Get(ctx context.Context, id int64) (*models.Class, error) {
	if id != 3 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	return &models.Class{ID: 3, ClassID: strPtr("1A/lab")}, nil
}

type stubExperiments struct{}

func (stubExperiments) Get(ctx context.Context, id int64) (*models.Experiment, error) {
	return &models.Experiment{ID: id, Name: strPtr("Titration")}, nil
}

func (stubExperiments) ListTimeRanges(ctx context.Context, experimentID int64) ([]models.ExperimentTimeRange, error) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return []models.ExperimentTimeRange{{ID: 1, ExperimentID: experimentID, StartTime: start, EndTime: start.Add(time.Hour)}}, nil
}

func newRosterExportServiceForTest(t *testing.T) (*RosterExportService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewRosterExportService(stubRosters{}, stubClasses{}, stubExperiments{}, store, time.Hour, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestRosterExportServiceClassCSV(t *testing.T) {
	svc, _ := newRosterExportServiceForTest(t)

	result, err := svc.ExportClassRoster(context.Background(), 3, export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "class/class_1a-lab_20260301T120000.csv", result.Filename)
	assert.Equal(t, 3, result.Rows)

	body, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Role,ID,External ID,Account,Name,Admin,Slot", lines[0])
	assert.Equal(t, "teacher,9,,,Grace,yes,", lines[1])
	assert.Equal(t, "student,1,S-1,,Ada,,", lines[2])
	assert.Equal(t, "student,2,,bob,,,", lines[3])
}

func TestRosterExportServiceExperimentPDF(t *testing.T) {
	svc, _ := newRosterExportServiceForTest(t)

	result, err := svc.ExportExperimentRoster(context.Background(), 4, export.FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Rows)
	assert.True(t, strings.HasPrefix(result.Filename, "experiment/titration_"))

	body, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "%PDF-"))
}

func TestRosterExportServiceErrors(t *testing.T) {
	svc, _ := newRosterExportServiceForTest(t)
	ctx := context.Background()

	_, err := svc.ExportClassRoster(ctx, 99, export.FormatCSV)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.ExportClassRoster(ctx, 3, export.Format("xlsx"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRosterExportServiceCleanup(t *testing.T) {
	svc, store := newRosterExportServiceForTest(t)
	ctx := context.Background()

	result, err := svc.ExportClassRoster(ctx, 3, export.FormatCSV)
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(result.Path, past, past))

	deleted, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{result.Filename}, deleted)
	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFormatSlot(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-02 09:00 to 10:30", formatSlot(models.ExperimentTimeRange{StartTime: start, EndTime: start.Add(90 * time.Minute)}))
	assert.Equal(t, "2026-03-02 09:00 to 2026-03-03 09:00", formatSlot(models.ExperimentTimeRange{StartTime: start, EndTime: start.Add(24 * time.Hour)}))
}

func TestSanitizeFilenameKeepsRunesWhole(t *testing.T) {
	label := strings.Repeat("a", 99) + "ééé"
	name := sanitizeFilename(label)
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, strings.Repeat("a", 99), name)

	cyrillic := sanitizeFilename(strings.Repeat("Ж", 80))
	assert.True(t, utf8.ValidString(cyrillic))
	assert.Equal(t, strings.Repeat("ж", 50), cyrillic)

	assert.Equal(t, "physics_lab", sanitizeFilename("Physics Lab"))
	assert.Equal(t, "na", sanitizeFilename(""))
}

package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/labroster/internal/models"
	"github.com/noah-isme/labroster/internal/repository"
	"github.com/noah-isme/labroster/pkg/database"
)

type membershipRepository interface {
	Join(ctx context.Context, exec sqlx.ExtContext, j repository.Junction, ownerID, memberID int64) error
	JoinClassTeacher(ctx context.Context, exec sqlx.ExtContext, classID, teacherID int64, admin bool) error
	Leave(ctx context.Context, exec sqlx.ExtContext, j repository.Junction, ownerID, memberID int64) error
	Exists(ctx context.Context, exec sqlx.ExtContext, j repository.Junction, ownerID, memberID int64) (bool, error)
	CountMembers(ctx context.Context, exec sqlx.ExtContext, j repository.Junction, ownerID int64) (int, error)
	CountOwners(ctx context.Context, exec sqlx.ExtContext, j repository.Junction, memberID int64) (int, error)
	SetClassAdmin(ctx context.Context, exec sqlx.ExtContext, classID, teacherID int64, admin bool) error
	ListStudentsByClass(ctx context.Context, exec sqlx.ExtContext, classID int64) ([]models.Student, error)
	ListClassesByStudent(ctx context.Context, exec sqlx.ExtContext, studentID int64) ([]models.Class, error)
	ListTeachersByClass(ctx context.Context, exec sqlx.ExtContext, classID int64) ([]models.ClassTeacher, error)
	ListClassesByTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID int64) ([]models.TeacherClass, error)
	ListStudentsByExperiment(ctx context.Context, exec sqlx.ExtContext, experimentID int64) ([]models.Student, error)
	ListExperimentsByStudent(ctx context.Context, exec sqlx.ExtContext, studentID int64) ([]models.Experiment, error)
	ListTeachersByExperiment(ctx context.Context, exec sqlx.ExtContext, experimentID int64) ([]models.Teacher, error)
	ListExperimentsByTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID int64) ([]models.Experiment, error)
	ListStudentsByTimeRange(ctx context.Context, exec sqlx.ExtContext, timeRangeID int64) ([]models.Student, error)
	ListTimeRangesByStudent(ctx context.Context, exec sqlx.ExtContext, studentID int64) ([]models.ExperimentTimeRange, error)
}

// MembershipService joins and leaves members through junction rows and
// serves cached rosters.
type MembershipService struct {
	txScope
	repo    membershipRepository
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
}

// NewMembershipService constructs a MembershipService.
func NewMembershipService(db database.Handle, repo membershipRepository, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *MembershipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MembershipService{txScope: txScope{db: db}, repo: repo, cache: cache, metrics: metrics, logger: logger}
}

// WithTx returns a copy of the service whose calls run inside tx. Roster
// reads of the copy bypass the cache.
func (s *MembershipService) WithTx(tx *sqlx.Tx) *MembershipService {
	clone := *s
	clone.exec = tx
	return &clone
}

// Join adds member to owner through j.
func (s *MembershipService) Join(ctx context.Context, j repository.Junction, ownerID, memberID int64) error {
	if err := s.repo.Join(ctx, s.exec, j, ownerID, memberID); err != nil {
		return normalize(err, "failed to join "+j.Name)
	}
	s.changed(ctx, j, "join", ownerID, memberID)
	return nil
}

// Leave removes member from owner through j.
func (s *MembershipService) Leave(ctx context.Context, j repository.Junction, ownerID, memberID int64) error {
	if err := s.repo.Leave(ctx, s.exec, j, ownerID, memberID); err != nil {
		return normalize(err, "failed to leave "+j.Name)
	}
	s.changed(ctx, j, "leave", ownerID, memberID)
	return nil
}

func (s *MembershipService) changed(ctx context.Context, j repository.Junction, op string, ownerID, memberID int64) {
	s.metrics.RecordMembershipChange(j.Name, op)
	_ = s.cache.Delete(ctx, rosterKey(j.Name, "owner", ownerID), rosterKey(j.Name, "member", memberID))
	s.logger.Debug("membership changed",
		zap.String("junction", j.Name),
		zap.String("op", op),
		zap.Int64("owner_id", ownerID),
		zap.Int64("member_id", memberID),
	)
}

// JoinClass enrolls a student in a class.
func (s *MembershipService) JoinClass(ctx context.Context, classID, studentID int64) error {
	return s.Join(ctx, repository.ClassStudents, classID, studentID)
}

// LeaveClass removes a student from a class.
func (s *MembershipService) LeaveClass(ctx context.Context, classID, studentID int64) error {
	return s.Leave(ctx, repository.ClassStudents, classID, studentID)
}

// MoveStudent transfers a student from one class to another atomically.
func (s *MembershipService) MoveStudent(ctx context.Context, fromClassID, toClassID, studentID int64) error {
	err := s.transact(ctx, func(exec sqlx.ExtContext) error {
		if err := s.repo.Leave(ctx, exec, repository.ClassStudents, fromClassID, studentID); err != nil {
			return err
		}
		return s.repo.Join(ctx, exec, repository.ClassStudents, toClassID, studentID)
	})
	if err != nil {
		return normalize(err, "failed to move student")
	}
	s.changed(ctx, repository.ClassStudents, "leave", fromClassID, studentID)
	s.changed(ctx, repository.ClassStudents, "join", toClassID, studentID)
	return nil
}

// JoinClassAsTeacher adds a teacher to a class, optionally as class admin.
func (s *MembershipService) JoinClassAsTeacher(ctx context.Context, classID, teacherID int64, admin bool) error {
	if err := s.repo.JoinClassTeacher(ctx, s.exec, classID, teacherID, admin); err != nil {
		return normalize(err, "failed to join class_teacher")
	}
	s.changed(ctx, repository.ClassTeachers, "join", classID, teacherID)
	return nil
}

// LeaveClassAsTeacher removes a teacher from a class.
func (s *MembershipService) LeaveClassAsTeacher(ctx context.Context, classID, teacherID int64) error {
	return s.Leave(ctx, repository.ClassTeachers, classID, teacherID)
}

// SetClassAdmin grants or revokes class admin rights of a member teacher.
func (s *MembershipService) SetClassAdmin(ctx context.Context, classID, teacherID int64, admin bool) error {
	if err := s.repo.SetClassAdmin(ctx, s.exec, classID, teacherID, admin); err != nil {
		return normalize(err, "failed to set class admin")
	}
	_ = s.cache.Delete(ctx,
		rosterKey(repository.ClassTeachers.Name, "owner", classID),
		rosterKey(repository.ClassTeachers.Name, "member", teacherID),
	)
	return nil
}

// JoinExperiment assigns a student to an experiment.
func (s *MembershipService) JoinExperiment(ctx context.Context, experimentID, studentID int64) error {
	return s.Join(ctx, repository.ExperimentStudents, experimentID, studentID)
}

// LeaveExperiment unassigns a student from an experiment.
func (s *MembershipService) LeaveExperiment(ctx context.Context, experimentID, studentID int64) error {
	return s.Leave(ctx, repository.ExperimentStudents, experimentID, studentID)
}

// AssignExperimentTeacher makes a teacher supervise an experiment.
func (s *MembershipService) AssignExperimentTeacher(ctx context.Context, experimentID, teacherID int64) error {
	return s.Join(ctx, repository.ExperimentTeachers, experimentID, teacherID)
}

// UnassignExperimentTeacher removes a supervising teacher.
func (s *MembershipService) UnassignExperimentTeacher(ctx context.Context, experimentID, teacherID int64) error {
	return s.Leave(ctx, repository.ExperimentTeachers, experimentID, teacherID)
}

// BookTimeRange books a student into an experiment time range.
func (s *MembershipService) BookTimeRange(ctx context.Context, timeRangeID, studentID int64) error {
	return s.Join(ctx, repository.TimeRangeStudents, timeRangeID, studentID)
}

// CancelTimeRange cancels a student's booking.
func (s *MembershipService) CancelTimeRange(ctx context.Context, timeRangeID, studentID int64) error {
	return s.Leave(ctx, repository.TimeRangeStudents, timeRangeID, studentID)
}

// IsMember reports whether the pair is joined through j.
func (s *MembershipService) IsMember(ctx context.Context, j repository.Junction, ownerID, memberID int64) (bool, error) {
	ok, err := s.repo.Exists(ctx, s.exec, j, ownerID, memberID)
	if err != nil {
		return false, normalize(err, "failed to check membership")
	}
	return ok, nil
}

// CountMembers returns the roster size of owner.
func (s *MembershipService) CountMembers(ctx context.Context, j repository.Junction, ownerID int64) (int, error) {
	count, err := s.repo.CountMembers(ctx, s.exec, j, ownerID)
	if err != nil {
		return 0, normalize(err, "failed to count members")
	}
	return count, nil
}

// CountOwners returns how many owners member belongs to.
func (s *MembershipService) CountOwners(ctx context.Context, j repository.Junction, memberID int64) (int, error) {
	count, err := s.repo.CountOwners(ctx, s.exec, j, memberID)
	if err != nil {
		return 0, normalize(err, "failed to count memberships")
	}
	return count, nil
}

// roster loads a list through the cache. Copies bound to a transaction skip
// the cache so they observe their own uncommitted writes.
func roster[T any](ctx context.Context, s *MembershipService, j repository.Junction, side string, id int64, load func(ctx context.Context, exec sqlx.ExtContext, id int64) ([]T, error)) ([]T, error) {
	key := rosterKey(j.Name, side, id)
	useCache := !s.bound() && s.cache.Enabled()
	var epoch uint64
	if useCache {
		var cached []T
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
		epoch = s.cache.Epoch()
	}

	start := time.Now()
	items, err := load(ctx, s.exec, id)
	if err != nil {
		return nil, normalize(err, "failed to list "+j.Name)
	}
	s.metrics.ObserveDBQuery("roster_"+j.Name+"_"+side, time.Since(start))

	if useCache {
		_, _ = s.cache.Fill(ctx, key, items, epoch)
	}
	return items, nil
}

// ListStudentsByClass returns the students of a class.
func (s *MembershipService) ListStudentsByClass(ctx context.Context, classID int64) ([]models.Student, error) {
	return roster(ctx, s, repository.ClassStudents, "owner", classID, s.repo.ListStudentsByClass)
}

// ListClassesByStudent returns the classes of a student.
func (s *MembershipService) ListClassesByStudent(ctx context.Context, studentID int64) ([]models.Class, error) {
	return roster(ctx, s, repository.ClassStudents, "member", studentID, s.repo.ListClassesByStudent)
}

// ListTeachersByClass returns the teachers of a class with their admin flag.
func (s *MembershipService) ListTeachersByClass(ctx context.Context, classID int64) ([]models.ClassTeacher, error) {
	return roster(ctx, s, repository.ClassTeachers, "owner", classID, s.repo.ListTeachersByClass)
}

// ListClassesByTeacher returns the classes of a teacher.
func (s *MembershipService) ListClassesByTeacher(ctx context.Context, teacherID int64) ([]models.TeacherClass, error) {
	return roster(ctx, s, repository.ClassTeachers, "member", teacherID, s.repo.ListClassesByTeacher)
}

// ListStudentsByExperiment returns the students of an experiment.
func (s *MembershipService) ListStudentsByExperiment(ctx context.Context, experimentID int64) ([]models.Student, error) {
	return roster(ctx, s, repository.ExperimentStudents, "owner", experimentID, s.repo.ListStudentsByExperiment)
}

// ListExperimentsByStudent returns the experiments of a student.
func (s *MembershipService) ListExperimentsByStudent(ctx context.Context, studentID int64) ([]models.Experiment, error) {
	return roster(ctx, s, repository.ExperimentStudents, "member", studentID, s.repo.ListExperimentsByStudent)
}

// ListTeachersByExperiment returns the supervisors of an experiment.
func (s *MembershipService) ListTeachersByExperiment(ctx context.Context, experimentID int64) ([]models.Teacher, error) {
	return roster(ctx, s, repository.ExperimentTeachers, "owner", experimentID, s.repo.ListTeachersByExperiment)
}

// ListExperimentsByTeacher returns the experiments a teacher supervises.
func (s *MembershipService) ListExperimentsByTeacher(ctx context.Context, teacherID int64) ([]models.Experiment, error) {
	return roster(ctx, s, repository.ExperimentTeachers, "member", teacherID, s.repo.ListExperimentsByTeacher)
}

// ListStudentsByTimeRange returns the students booked into a time range.
func (s *MembershipService) ListStudentsByTimeRange(ctx context.Context, timeRangeID int64) ([]models.Student, error) {
	return roster(ctx, s, repository.TimeRangeStudents, "owner", timeRangeID, s.repo.ListStudentsByTimeRange)
}

// ListTimeRangesByStudent returns the bookings of a student.
func (s *MembershipService) ListTimeRangesByStudent(ctx context.Context, studentID int64) ([]models.ExperimentTimeRange, error) {
	return roster(ctx, s, repository.TimeRangeStudents, "member", studentID, s.repo.ListTimeRangesByStudent)
}

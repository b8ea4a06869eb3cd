package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/labroster/internal/models"
	"github.com/noah-isme/labroster/pkg/database"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

// Junction describes one many-to-many relationship. The set of junctions is
// closed: use the package level values, never construct one.
type Junction struct {
	Name         string
	Table        string
	OwnerColumn  string
	OwnerTable   string
	MemberColumn string
	MemberTable  string
}

var (
	ClassStudents = Junction{
		Name: "class_student", Table: "class_student_junction",
		OwnerColumn: "class_pid", OwnerTable: "class",
		MemberColumn: "student_pid", MemberTable: "student",
	}
	ClassTeachers = Junction{
		Name: "class_teacher", Table: "class_teacher_junction",
		OwnerColumn: "class_pid", OwnerTable: "class",
		MemberColumn: "teacher_pid", MemberTable: "teacher",
	}
	ExperimentStudents = Junction{
		Name: "experiment_student", Table: "experiment_student_junction",
		OwnerColumn: "experiment_pid", OwnerTable: "experiment",
		MemberColumn: "student_pid", MemberTable: "student",
	}
	ExperimentTeachers = Junction{
		Name: "experiment_teacher", Table: "experiment_teacher_junction",
		OwnerColumn: "experiment_pid", OwnerTable: "experiment",
		MemberColumn: "teacher_pid", MemberTable: "teacher",
	}
	TimeRangeStudents = Junction{
		Name: "time_range_student", Table: "experiment_time_range_student_junction",
		OwnerColumn: "time_range_pid", OwnerTable: "experiment_time_range",
		MemberColumn: "student_pid", MemberTable: "student",
	}
)

// Junctions lists every relationship kind.
func Junctions() []Junction {
	return []Junction{ClassStudents, ClassTeachers, ExperimentStudents, ExperimentTeachers, TimeRangeStudents}
}

// MembershipRepository inserts, deletes and resolves junction rows.
type MembershipRepository struct {
	handle database.Handle
}

// NewMembershipRepository constructs a MembershipRepository.
func NewMembershipRepository(handle database.Handle) *MembershipRepository {
	return &MembershipRepository{handle: handle}
}

// Join records that member belongs to owner. A second join of the same pair
// fails with ErrDuplicateMembership; a missing endpoint fails with ErrNotFound.
func (r *MembershipRepository) Join(ctx context.Context, exec sqlx.ExtContext, j Junction, ownerID, memberID int64) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)", j.Table, j.OwnerColumn, j.MemberColumn)
	if _, err := target.ExecContext(ctx, target.Rebind(query), ownerID, memberID); err != nil {
		return joinError(j, err)
	}
	return nil
}

// JoinClassTeacher adds a teacher to a class with the given admin flag.
func (r *MembershipRepository) JoinClassTeacher(ctx context.Context, exec sqlx.ExtContext, classID, teacherID int64, admin bool) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	const query = `INSERT INTO class_teacher_junction (class_pid, teacher_pid, admin) VALUES (?, ?, ?)`
	if _, err := target.ExecContext(ctx, target.Rebind(query), classID, teacherID, admin); err != nil {
		return joinError(ClassTeachers, err)
	}
	return nil
}

func joinError(j Junction, err error) error {
	switch {
	case database.IsUniqueViolation(err):
		return appErrors.WrapAs(appErrors.ErrDuplicateMembership, err, fmt.Sprintf("%s %s membership already exists", j.OwnerTable, j.MemberTable))
	case database.IsForeignKeyViolation(err):
		return appErrors.WrapAs(appErrors.ErrNotFound, err, fmt.Sprintf("%s or %s not found", j.OwnerTable, j.MemberTable))
	}
	return fmt.Errorf("join %s: %w", j.Name, err)
}

// Leave removes the membership of member in owner, failing with ErrNotMember
// when there is none.
func (r *MembershipRepository) Leave(ctx context.Context, exec sqlx.ExtContext, j Junction, ownerID, memberID int64) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?", j.Table, j.OwnerColumn, j.MemberColumn)
	affected, err := execAffected(ctx, target, query, ownerID, memberID)
	if err != nil {
		return fmt.Errorf("leave %s: %w", j.Name, err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotMember, fmt.Sprintf("%s is not a member of %s", j.MemberTable, j.OwnerTable))
	}
	return nil
}

// Exists reports whether the pair is joined.
func (r *MembershipRepository) Exists(ctx context.Context, exec sqlx.ExtContext, j Junction, ownerID, memberID int64) (bool, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return false, err
	}
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s = ?", j.Table, j.OwnerColumn, j.MemberColumn)
	if err := sqlx.GetContext(ctx, target, &count, target.Rebind(query), ownerID, memberID); err != nil {
		return false, fmt.Errorf("check %s membership: %w", j.Name, err)
	}
	return count > 0, nil
}

// CountMembers returns how many members owner has.
func (r *MembershipRepository) CountMembers(ctx context.Context, exec sqlx.ExtContext, j Junction, ownerID int64) (int, error) {
	return r.count(ctx, exec, j, j.OwnerColumn, ownerID)
}

// CountOwners returns how many owners member belongs to.
func (r *MembershipRepository) CountOwners(ctx context.Context, exec sqlx.ExtContext, j Junction, memberID int64) (int, error) {
	return r.count(ctx, exec, j, j.MemberColumn, memberID)
}

func (r *MembershipRepository) count(ctx context.Context, exec sqlx.ExtContext, j Junction, column string, id int64) (int, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return 0, err
	}
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", j.Table, column)
	if err := sqlx.GetContext(ctx, target, &count, target.Rebind(query), id); err != nil {
		return 0, fmt.Errorf("count %s: %w", j.Name, err)
	}
	return count, nil
}

// SetClassAdmin toggles the admin flag of a teacher in a class.
func (r *MembershipRepository) SetClassAdmin(ctx context.Context, exec sqlx.ExtContext, classID, teacherID int64, admin bool) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	const query = `UPDATE class_teacher_junction SET admin = ? WHERE class_pid = ? AND teacher_pid = ?`
	affected, err := execAffected(ctx, target, query, admin, classID, teacherID)
	if err != nil {
		return fmt.Errorf("set class admin: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotMember, "teacher is not a member of class")
	}
	return nil
}

// selectMembers loads the member rows of owner with one join through j.
func (r *MembershipRepository) selectMembers(ctx context.Context, exec sqlx.ExtContext, j Junction, columns string, ownerID int64, dest interface{}) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT %s FROM %s m JOIN %s j ON j.%s = m.id WHERE j.%s = ? ORDER BY m.id",
		columns, j.MemberTable, j.Table, j.MemberColumn, j.OwnerColumn)
	if err := sqlx.SelectContext(ctx, target, dest, target.Rebind(query), ownerID); err != nil {
		return fmt.Errorf("list %s members: %w", j.Name, err)
	}
	return nil
}

// selectOwners loads the owner rows of member with one join through j.
func (r *MembershipRepository) selectOwners(ctx context.Context, exec sqlx.ExtContext, j Junction, columns string, memberID int64, dest interface{}) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT %s FROM %s o JOIN %s j ON j.%s = o.id WHERE j.%s = ? ORDER BY o.id",
		columns, j.OwnerTable, j.Table, j.OwnerColumn, j.MemberColumn)
	if err := sqlx.SelectContext(ctx, target, dest, target.Rebind(query), memberID); err != nil {
		return fmt.Errorf("list %s owners: %w", j.Name, err)
	}
	return nil
}

// Rosters never carry password hashes.
const (
	memberStudentColumns = "m.id, m.student_id, m.account, m.name"
	memberTeacherColumns = "m.id, m.teacher_id, m.account, m.name"
	ownerClassColumns    = "o.id, o.class_id"
	ownerExperimentCols  = "o.id, o.name, o.description"
)

// ListStudentsByClass returns the students of a class.
func (r *MembershipRepository) ListStudentsByClass(ctx context.Context, exec sqlx.ExtContext, classID int64) ([]models.Student, error) {
	students := []models.Student{}
	if err := r.selectMembers(ctx, exec, ClassStudents, memberStudentColumns, classID, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// ListClassesByStudent returns the classes a student belongs to.
func (r *MembershipRepository) ListClassesByStudent(ctx context.Context, exec sqlx.ExtContext, studentID int64) ([]models.Class, error) {
	classes := []models.Class{}
	if err := r.selectOwners(ctx, exec, ClassStudents, ownerClassColumns, studentID, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// ListTeachersByClass returns the teachers of a class with their admin flag.
func (r *MembershipRepository) ListTeachersByClass(ctx context.Context, exec sqlx.ExtContext, classID int64) ([]models.ClassTeacher, error) {
	teachers := []models.ClassTeacher{}
	if err := r.selectMembers(ctx, exec, ClassTeachers, memberTeacherColumns+", j.admin", classID, &teachers); err != nil {
		return nil, err
	}
	return teachers, nil
}

// ListClassesByTeacher returns the classes a teacher belongs to.
func (r *MembershipRepository) ListClassesByTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID int64) ([]models.TeacherClass, error) {
	classes := []models.TeacherClass{}
	if err := r.selectOwners(ctx, exec, ClassTeachers, ownerClassColumns+", j.admin", teacherID, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// ListStudentsByExperiment returns the students assigned to an experiment.
func (r *MembershipRepository) ListStudentsByExperiment(ctx context.Context, exec sqlx.ExtContext, experimentID int64) ([]models.Student, error) {
	students := []models.Student{}
	if err := r.selectMembers(ctx, exec, ExperimentStudents, memberStudentColumns, experimentID, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// ListExperimentsByStudent returns the experiments a student is assigned to.
func (r *MembershipRepository) ListExperimentsByStudent(ctx context.Context, exec sqlx.ExtContext, studentID int64) ([]models.Experiment, error) {
	experiments := []models.Experiment{}
	if err := r.selectOwners(ctx, exec, ExperimentStudents, ownerExperimentCols, studentID, &experiments); err != nil {
		return nil, err
	}
	return experiments, nil
}

// ListTeachersByExperiment returns the teachers supervising an experiment.
func (r *MembershipRepository) ListTeachersByExperiment(ctx context.Context, exec sqlx.ExtContext, experimentID int64) ([]models.Teacher, error) {
	teachers := []models.Teacher{}
	if err := r.selectMembers(ctx, exec, ExperimentTeachers, memberTeacherColumns, experimentID, &teachers); err != nil {
		return nil, err
	}
	return teachers, nil
}

// ListExperimentsByTeacher returns the experiments a teacher supervises.
func (r *MembershipRepository) ListExperimentsByTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID int64) ([]models.Experiment, error) {
	experiments := []models.Experiment{}
	if err := r.selectOwners(ctx, exec, ExperimentTeachers, ownerExperimentCols, teacherID, &experiments); err != nil {
		return nil, err
	}
	return experiments, nil
}

// ListStudentsByTimeRange returns the students booked into a time range.
func (r *MembershipRepository) ListStudentsByTimeRange(ctx context.Context, exec sqlx.ExtContext, timeRangeID int64) ([]models.Student, error) {
	students := []models.Student{}
	if err := r.selectMembers(ctx, exec, TimeRangeStudents, memberStudentColumns, timeRangeID, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// ListTimeRangesByStudent returns the time ranges a student is booked into.
func (r *MembershipRepository) ListTimeRangesByStudent(ctx context.Context, exec sqlx.ExtContext, studentID int64) ([]models.ExperimentTimeRange, error) {
	ranges := []models.ExperimentTimeRange{}
	if err := r.selectOwners(ctx, exec, TimeRangeStudents, "o.id, o.experiment_pid, o.start_time, o.end_time", studentID, &ranges); err != nil {
		return nil, err
	}
	return ranges, nil
}

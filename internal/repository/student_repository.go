package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/labroster/internal/models"
	"github.com/noah-isme/labroster/pkg/database"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

const studentColumns = "id, student_id, account, password_hash, name"

// StudentRepository manages persistence for student accounts.
type StudentRepository struct {
	handle database.Handle
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(handle database.Handle) *StudentRepository {
	return &StudentRepository{handle: handle}
}

// Create inserts student and writes the assigned id back.
func (r *StudentRepository) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	const query = `INSERT INTO student (student_id, account, password_hash, name) VALUES (?, ?, ?, ?)`
	id, err := insertID(ctx, target, query, student.StudentID, student.Account, student.PasswordHash, student.Name)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return appErrors.WrapAs(appErrors.ErrUniqueConstraint, err, "student id or account already exists")
		}
		return fmt.Errorf("create student: %w", err)
	}
	student.ID = id
	return nil
}

// FindByID fetches a student by surrogate id.
func (r *StudentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Student, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, err
	}
	var student models.Student
	query := target.Rebind("SELECT " + studentColumns + " FROM student WHERE id = ?")
	if err := sqlx.GetContext(ctx, target, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// FindByIdentifierOrAccount fetches the student whose student_id or account
// equals value.
func (r *StudentRepository) FindByIdentifierOrAccount(ctx context.Context, exec sqlx.ExtContext, value string) (*models.Student, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, err
	}
	var student models.Student
	query := target.Rebind("SELECT " + studentColumns + " FROM student WHERE student_id = ? OR account = ? ORDER BY id LIMIT 1")
	if err := sqlx.GetContext(ctx, target, &student, query, value, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, fmt.Errorf("find student by identifier: %w", err)
	}
	return &student, nil
}

// UpdatePasswordHash replaces the stored hash of a student.
func (r *StudentRepository) UpdatePasswordHash(ctx context.Context, exec sqlx.ExtContext, id int64, hash string) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	affected, err := execAffected(ctx, target, "UPDATE student SET password_hash = ? WHERE id = ?", hash, id)
	if err != nil {
		return fmt.Errorf("update student password: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return nil
}

// Delete removes a student. Memberships and refresh tokens cascade.
func (r *StudentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	affected, err := execAffected(ctx, target, "DELETE FROM student WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return nil
}

// Count returns the number of students.
func (r *StudentRepository) Count(ctx context.Context, exec sqlx.ExtContext) (int, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return 0, err
	}
	var total int
	if err := sqlx.GetContext(ctx, target, &total, "SELECT COUNT(*) FROM student"); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return total, nil
}

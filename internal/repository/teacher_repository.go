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

const teacherColumns = "id, teacher_id, account, password_hash, name"

// TeacherRepository manages persistence for teacher accounts.
type TeacherRepository struct {
	handle database.Handle
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(handle database.Handle) *TeacherRepository {
	return &TeacherRepository{handle: handle}
}

// Create inserts teacher and writes the assigned id back.
func (r *TeacherRepository) Create(ctx context.Context, exec sqlx.ExtContext, teacher *models.Teacher) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	const query = `INSERT INTO teacher (teacher_id, account, password_hash, name) VALUES (?, ?, ?, ?)`
	id, err := insertID(ctx, target, query, teacher.TeacherID, teacher.Account, teacher.PasswordHash, teacher.Name)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return appErrors.WrapAs(appErrors.ErrUniqueConstraint, err, "teacher id or account already exists")
		}
		return fmt.Errorf("create teacher: %w", err)
	}
	teacher.ID = id
	return nil
}

// FindByID fetches a teacher by surrogate id.
func (r *TeacherRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Teacher, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, err
	}
	var teacher models.Teacher
	query := target.Rebind("SELECT " + teacherColumns + " FROM teacher WHERE id = ?")
	if err := sqlx.GetContext(ctx, target, &teacher, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, fmt.Errorf("find teacher: %w", err)
	}
	return &teacher, nil
}

// FindByIdentifierOrAccount fetches the teacher whose teacher_id or account
// equals value.
func (r *TeacherRepository) FindByIdentifierOrAccount(ctx context.Context, exec sqlx.ExtContext, value string) (*models.Teacher, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, err
	}
	var teacher models.Teacher
	query := target.Rebind("SELECT " + teacherColumns + " FROM teacher WHERE teacher_id = ? OR account = ? ORDER BY id LIMIT 1")
	if err := sqlx.GetContext(ctx, target, &teacher, query, value, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, fmt.Errorf("find teacher by identifier: %w", err)
	}
	return &teacher, nil
}

// UpdatePasswordHash replaces the stored hash of a teacher.
func (r *TeacherRepository) UpdatePasswordHash(ctx context.Context, exec sqlx.ExtContext, id int64, hash string) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	affected, err := execAffected(ctx, target, "UPDATE teacher SET password_hash = ? WHERE id = ?", hash, id)
	if err != nil {
		return fmt.Errorf("update teacher password: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
	}
	return nil
}

// Delete removes a teacher. Memberships and refresh tokens cascade.
func (r *TeacherRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	affected, err := execAffected(ctx, target, "DELETE FROM teacher WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete teacher: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
	}
	return nil
}

// Count returns the number of teachers.
func (r *TeacherRepository) Count(ctx context.Context, exec sqlx.ExtContext) (int, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return 0, err
	}
	var total int
	if err := sqlx.GetContext(ctx, target, &total, "SELECT COUNT(*) FROM teacher"); err != nil {
		return 0, fmt.Errorf("count teachers: %w", err)
	}
	return total, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/labroster/internal/models"
	"github.com/noah-isme/labroster/pkg/database"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

// ClassRepository manages persistence for classes.
type ClassRepository struct {
	handle database.Handle
}

// NewClassRepository constructs a ClassRepository.
func NewClassRepository(handle database.Handle) *ClassRepository {
	return &ClassRepository{handle: handle}
}

// Create inserts class and writes the assigned id back.
func (r *ClassRepository) Create(ctx context.Context, exec sqlx.ExtContext, class *models.Class) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	id, err := insertID(ctx, target, "INSERT INTO class (class_id) VALUES (?)", class.ClassID)
	if err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	class.ID = id
	return nil
}

// FindByID fetches a class by surrogate id.
func (r *ClassRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Class, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, err
	}
	var class models.Class
	if err := sqlx.GetContext(ctx, target, &class, target.Rebind("SELECT id, class_id FROM class WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// FindByLabel returns every class carrying label. Labels are not unique.
func (r *ClassRepository) FindByLabel(ctx context.Context, exec sqlx.ExtContext, label string) ([]models.Class, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, err
	}
	classes := []models.Class{}
	if err := sqlx.SelectContext(ctx, target, &classes, target.Rebind("SELECT id, class_id FROM class WHERE class_id = ? ORDER BY id"), label); err != nil {
		return nil, fmt.Errorf("find class by label: %w", err)
	}
	return classes, nil
}

// List returns classes matching filter and the total match count.
func (r *ClassRepository) List(ctx context.Context, exec sqlx.ExtContext, filter models.ClassFilter) ([]models.Class, int, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, 0, err
	}

	where := ""
	args := []interface{}{}
	if filter.Search != "" {
		where = " WHERE LOWER(class_id) LIKE ?"
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	classes := []models.Class{}
	query := fmt.Sprintf("SELECT id, class_id FROM class%s ORDER BY id LIMIT %d OFFSET %d", where, size, offset)
	if err := sqlx.SelectContext(ctx, target, &classes, target.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, target, &total, target.Rebind("SELECT COUNT(*) FROM class"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// Delete removes a class. Student and teacher memberships cascade.
func (r *ClassRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	affected, err := execAffected(ctx, target, "DELETE FROM class WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	return nil
}

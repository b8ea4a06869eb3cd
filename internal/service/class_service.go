package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/labroster/internal/dto"
	"github.com/noah-isme/labroster/internal/models"
)

type classRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, class *models.Class) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Class, error)
	FindByLabel(ctx context.Context, exec sqlx.ExtContext, label string) ([]models.Class, error)
	List(ctx context.Context, exec sqlx.ExtContext, filter models.ClassFilter) ([]models.Class, int, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

// ClassService handles class use-cases.
type ClassService struct {
	exec      sqlx.ExtContext
	repo      classRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs the class service.
func NewClassService(repo classRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, cache: cache, validator: validate, logger: logger}
}

// WithTx returns a copy of the service whose calls run inside tx.
func (s *ClassService) WithTx(tx *sqlx.Tx) *ClassService {
	clone := *s
	clone.exec = tx
	return &clone
}

// Create registers a new class.
func (s *ClassService) Create(ctx context.Context, req dto.CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid class payload")
	}
	class := &models.Class{ClassID: req.ClassID}
	if err := s.repo.Create(ctx, s.exec, class); err != nil {
		return nil, normalize(err, "failed to create class")
	}
	return class, nil
}

// Get returns a class by id.
func (s *ClassService) Get(ctx context.Context, id int64) (*models.Class, error) {
	class, err := s.repo.FindByID(ctx, s.exec, id)
	if err != nil {
		return nil, normalize(err, "failed to load class")
	}
	return class, nil
}

// FindByLabel returns the classes labelled label.
func (s *ClassService) FindByLabel(ctx context.Context, label string) ([]models.Class, error) {
	classes, err := s.repo.FindByLabel(ctx, s.exec, label)
	if err != nil {
		return nil, normalize(err, "failed to find classes")
	}
	return classes, nil
}

// List returns classes and pagination metadata.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error) {
	classes, total, err := s.repo.List(ctx, s.exec, filter)
	if err != nil {
		return nil, nil, normalize(err, "failed to list classes")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return classes, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Delete removes a class; its memberships cascade.
func (s *ClassService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, s.exec, id); err != nil {
		return normalize(err, "failed to delete class")
	}
	_ = s.cache.InvalidateRosters(ctx)
	s.logger.Info("class deleted", zap.Int64("class_id", id))
	return nil
}

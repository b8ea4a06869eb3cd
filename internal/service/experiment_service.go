package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/labroster/internal/dto"
	"github.com/noah-isme/labroster/internal/models"
)

type experimentRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, experiment *models.Experiment) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Experiment, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error
	CreateTimeRange(ctx context.Context, exec sqlx.ExtContext, tr *models.ExperimentTimeRange) error
	FindTimeRange(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.ExperimentTimeRange, error)
	ListTimeRanges(ctx context.Context, exec sqlx.ExtContext, experimentID int64) ([]models.ExperimentTimeRange, error)
	DeleteTimeRange(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

// ExperimentService manages experiments and their bookable time ranges.
type ExperimentService struct {
	exec      sqlx.ExtContext
	repo      experimentRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewExperimentService constructs the experiment service.
func NewExperimentService(repo experimentRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ExperimentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExperimentService{repo: repo, cache: cache, validator: validate, logger: logger}
}

// WithTx returns a copy of the service whose calls run inside tx.
func (s *ExperimentService) WithTx(tx *sqlx.Tx) *ExperimentService {
	clone := *s
	clone.exec = tx
	return &clone
}

// Create registers an experiment.
func (s *ExperimentService) Create(ctx context.Context, req dto.CreateExperimentRequest) (*models.Experiment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid experiment payload")
	}
	experiment := &models.Experiment{Name: req.Name, Description: req.Description}
	if err := s.repo.Create(ctx, s.exec, experiment); err != nil {
		return nil, normalize(err, "failed to create experiment")
	}
	return experiment, nil
}

// Get returns an experiment by id.
func (s *ExperimentService) Get(ctx context.Context, id int64) (*models.Experiment, error) {
	experiment, err := s.repo.FindByID(ctx, s.exec, id)
	if err != nil {
		return nil, normalize(err, "failed to load experiment")
	}
	return experiment, nil
}

// Delete removes an experiment with its time ranges and memberships.
func (s *ExperimentService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, s.exec, id); err != nil {
		return normalize(err, "failed to delete experiment")
	}
	_ = s.cache.InvalidateRosters(ctx)
	s.logger.Info("experiment deleted", zap.Int64("experiment_id", id))
	return nil
}

// AddTimeRange adds a slot to an experiment. EndTime must be after StartTime.
func (s *ExperimentService) AddTimeRange(ctx context.Context, experimentID int64, req dto.TimeRangeRequest) (*models.ExperimentTimeRange, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid time range payload")
	}
	tr := &models.ExperimentTimeRange{ExperimentID: experimentID, StartTime: req.StartTime.UTC(), EndTime: req.EndTime.UTC()}
	if err := s.repo.CreateTimeRange(ctx, s.exec, tr); err != nil {
		return nil, normalize(err, "failed to add time range")
	}
	return tr, nil
}

// GetTimeRange returns a time range by id.
func (s *ExperimentService) GetTimeRange(ctx context.Context, id int64) (*models.ExperimentTimeRange, error) {
	tr, err := s.repo.FindTimeRange(ctx, s.exec, id)
	if err != nil {
		return nil, normalize(err, "failed to load time range")
	}
	return tr, nil
}

// ListTimeRanges returns the slots of an experiment, failing with NotFound
// when the experiment does not exist.
func (s *ExperimentService) ListTimeRanges(ctx context.Context, experimentID int64) ([]models.ExperimentTimeRange, error) {
	if _, err := s.repo.FindByID(ctx, s.exec, experimentID); err != nil {
		return nil, normalize(err, "failed to load experiment")
	}
	ranges, err := s.repo.ListTimeRanges(ctx, s.exec, experimentID)
	if err != nil {
		return nil, normalize(err, "failed to list time ranges")
	}
	return ranges, nil
}

// DeleteTimeRange removes a slot and its bookings.
func (s *ExperimentService) DeleteTimeRange(ctx context.Context, id int64) error {
	if err := s.repo.DeleteTimeRange(ctx, s.exec, id); err != nil {
		return normalize(err, "failed to delete time range")
	}
	_ = s.cache.InvalidateRosters(ctx)
	return nil
}

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

const timeRangeColumns = "id, experiment_pid, start_time, end_time"

// ExperimentRepository manages experiments and their time ranges.
type ExperimentRepository struct {
	handle database.Handle
}

// NewExperimentRepository constructs an ExperimentRepository.
func NewExperimentRepository(handle database.Handle) *ExperimentRepository {
	return &ExperimentRepository{handle: handle}
}

// Create inserts experiment and writes the assigned id back.
func (r *ExperimentRepository) Create(ctx context.Context, exec sqlx.ExtContext, experiment *models.Experiment) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	id, err := insertID(ctx, target, "INSERT INTO experiment (name, description) VALUES (?, ?)", experiment.Name, experiment.Description)
	if err != nil {
		return fmt.Errorf("create experiment: %w", err)
	}
	experiment.ID = id
	return nil
}

// FindByID fetches an experiment by surrogate id.
func (r *ExperimentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Experiment, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, err
	}
	var experiment models.Experiment
	if err := sqlx.GetContext(ctx, target, &experiment, target.Rebind("SELECT id, name, description FROM experiment WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "experiment not found")
		}
		return nil, fmt.Errorf("find experiment: %w", err)
	}
	return &experiment, nil
}

// Delete removes an experiment together with its time ranges and memberships.
func (r *ExperimentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	affected, err := execAffected(ctx, target, "DELETE FROM experiment WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "experiment not found")
	}
	return nil
}

// CreateTimeRange inserts a time range for an existing experiment.
func (r *ExperimentRepository) CreateTimeRange(ctx context.Context, exec sqlx.ExtContext, tr *models.ExperimentTimeRange) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	const query = `INSERT INTO experiment_time_range (experiment_pid, start_time, end_time) VALUES (?, ?, ?)`
	id, err := insertID(ctx, target, query, tr.ExperimentID, tr.StartTime.UTC(), tr.EndTime.UTC())
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return appErrors.WrapAs(appErrors.ErrNotFound, err, "experiment not found")
		}
		return fmt.Errorf("create experiment time range: %w", err)
	}
	tr.ID = id
	return nil
}

// FindTimeRange fetches a time range by id.
func (r *ExperimentRepository) FindTimeRange(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.ExperimentTimeRange, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, err
	}
	var tr models.ExperimentTimeRange
	query := target.Rebind("SELECT " + timeRangeColumns + " FROM experiment_time_range WHERE id = ?")
	if err := sqlx.GetContext(ctx, target, &tr, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "time range not found")
		}
		return nil, fmt.Errorf("find experiment time range: %w", err)
	}
	return &tr, nil
}

// ListTimeRanges returns the time ranges of an experiment ordered by start.
func (r *ExperimentRepository) ListTimeRanges(ctx context.Context, exec sqlx.ExtContext, experimentID int64) ([]models.ExperimentTimeRange, error) {
	target, err := executor(r.handle, exec)
	if err != nil {
		return nil, err
	}
	ranges := []models.ExperimentTimeRange{}
	query := target.Rebind("SELECT " + timeRangeColumns + " FROM experiment_time_range WHERE experiment_pid = ? ORDER BY start_time ASC, id ASC")
	if err := sqlx.SelectContext(ctx, target, &ranges, query, experimentID); err != nil {
		return nil, fmt.Errorf("list experiment time ranges: %w", err)
	}
	return ranges, nil
}

// DeleteTimeRange removes a time range and its student bookings.
func (r *ExperimentRepository) DeleteTimeRange(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	target, err := executor(r.handle, exec)
	if err != nil {
		return err
	}
	affected, err := execAffected(ctx, target, "DELETE FROM experiment_time_range WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete experiment time range: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "time range not found")
	}
	return nil
}

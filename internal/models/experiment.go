package models

import "time"

// Experiment is a lab session students and teachers can be assigned to.
type Experiment struct {
	ID          int64   `db:"id" json:"id"`
	Name        *string `db:"name" json:"name,omitempty"`
	Description *string `db:"description" json:"description,omitempty"`
}

// ExperimentTimeRange is a bookable slot of an experiment.
type ExperimentTimeRange struct {
	ID           int64     `db:"id" json:"id"`
	ExperimentID int64     `db:"experiment_pid" json:"experiment_id"`
	StartTime    time.Time `db:"start_time" json:"start_time"`
	EndTime      time.Time `db:"end_time" json:"end_time"`
}

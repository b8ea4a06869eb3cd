package dto

import "time"

// CreateClassRequest defines payload for creating a class.
type CreateClassRequest struct {
	ClassID *string `json:"classId,omitempty" validate:"omitempty,min=1,max=64"`
}

// CreateExperimentRequest defines payload for creating an experiment.
type CreateExperimentRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=255"`
	Description *string `json:"description,omitempty"`
}

// TimeRangeRequest defines a bookable slot of an experiment.
type TimeRangeRequest struct {
	StartTime time.Time `json:"startTime" validate:"required"`
	EndTime   time.Time `json:"endTime" validate:"required,gtfield=StartTime"`
}

package storage

import (
	"time"

	"github.com/google/uuid"
)

// MaterialChangeRecord is one finished material change, successful or not.
// Written exactly once, after the change reached its terminal state.
type MaterialChangeRecord struct {
	ID            uuid.UUID          `json:"id"`
	Layer         int                `json:"layer"`
	Material      string             `json:"material"`
	Trigger       string             `json:"trigger"`
	Success       bool               `json:"success"`
	FailureReason string             `json:"failure_reason,omitempty"`
	StepTimings   map[string]float64 `json:"step_timings"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
}

type RecipeRecord struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Text      string    `json:"recipe_text"`
	CreatedAt time.Time `json:"created_at"`
}

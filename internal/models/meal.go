// internal/models/meal.go
package models

import (
	"time"
)

// Meal is a persisted health-record entry.
type Meal struct {
	ID          string    `json:"id"`
	Calories    int       `json:"calories"`
	Protein     float64   `json:"protein"`
	Carbs       float64   `json:"carbs"`
	Fat         float64   `json:"fat"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	PhotoRef    string    `json:"photo_ref,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	Source      string    `json:"source"` // "ai_photo", "manual"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	SourceAIPhoto = "ai_photo"
	SourceManual  = "manual"
)

// MealInput is what the orchestrator hands to the store for a single insert.
type MealInput struct {
	Nutrition NutritionData
	Timestamp time.Time
	PhotoRef  string
	JobID     string
	Source    string
}

// Nutrition rebuilds the validated view of a stored meal.
func (m *Meal) Nutrition() (NutritionData, error) {
	return NewNutritionData(m.Calories, m.Protein, m.Carbs, m.Fat, m.Description)
}

// JobRecord is the persisted view of one analysis job.
type JobRecord struct {
	ID         string    `json:"id"`
	PhotoRef   string    `json:"photo_ref"`
	CapturedAt time.Time `json:"captured_at"`
	State      string    `json:"state"`
	Attempts   int       `json:"attempts"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	RecordID   string    `json:"record_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

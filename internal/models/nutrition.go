// internal/models/nutrition.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Accepted ranges for an estimated meal.
const (
	MinCalories = 1
	MaxCalories = 5000
	MaxProtein  = 500.0
	MaxCarbs    = 1000.0
	MaxFat      = 500.0
)

// ValidationError reports the first field of a domain value that is out of range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Invalid %s: %s", e.Field, e.Reason)
}

// NutritionData is an estimated meal that passed range validation. It can only
// be built through NewNutritionData and is immutable afterwards.
type NutritionData struct {
	calories    int
	protein     float64
	carbs       float64
	fat         float64
	description string
}

// NewNutritionData validates the values in order calories, protein, carbs,
// fat, description and returns a *ValidationError for the first failure.
func NewNutritionData(calories int, protein, carbs, fat float64, description string) (NutritionData, error) {
	if calories < MinCalories || calories > MaxCalories {
		return NutritionData{}, &ValidationError{
			Field:  "calories",
			Reason: fmt.Sprintf("must be between %d and %d, got %d", MinCalories, MaxCalories, calories),
		}
	}
	if err := checkGrams("protein", protein, MaxProtein); err != nil {
		return NutritionData{}, err
	}
	if err := checkGrams("carbs", carbs, MaxCarbs); err != nil {
		return NutritionData{}, err
	}
	if err := checkGrams("fat", fat, MaxFat); err != nil {
		return NutritionData{}, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return NutritionData{}, &ValidationError{Field: "description", Reason: "must not be blank"}
	}

	return NutritionData{
		calories:    calories,
		protein:     protein,
		carbs:       carbs,
		fat:         fat,
		description: description,
	}, nil
}

func checkGrams(field string, v, max float64) error {
	// NaN fails both comparisons, so test the accepted range directly.
	if !(v >= 0 && v <= max) {
		return &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("must be between 0 and %g grams, got %g", max, v),
		}
	}
	return nil
}

func (n NutritionData) Calories() int       { return n.calories }
func (n NutritionData) Protein() float64    { return n.protein }
func (n NutritionData) Carbs() float64      { return n.carbs }
func (n NutritionData) Fat() float64        { return n.fat }
func (n NutritionData) Description() string { return n.description }

// IsZero reports whether n was never constructed.
func (n NutritionData) IsZero() bool { return n.calories == 0 && n.description == "" }

type nutritionJSON struct {
	Calories    int     `json:"calories"`
	Protein     float64 `json:"protein"`
	Carbs       float64 `json:"carbs"`
	Fat         float64 `json:"fat"`
	Description string  `json:"description"`
}

func (n NutritionData) MarshalJSON() ([]byte, error) {
	return json.Marshal(nutritionJSON{
		Calories:    n.calories,
		Protein:     n.protein,
		Carbs:       n.carbs,
		Fat:         n.fat,
		Description: n.description,
	})
}

// NoFoodDetected is the outcome of an analysis whose photo holds no meal. It is
// neither an error nor nutrition data.
type NoFoodDetected struct {
	Reason string `json:"reason"`
}

// internal/vision/response.go
package vision

import (
	"encoding/json"
	"math"
	"strings"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
)

// Outcome is the result of a successful analysis: Detected or NoFood.
type Outcome interface {
	isOutcome()
}

// Detected carries validated nutrition data.
type Detected struct {
	Data models.NutritionData
}

// NoFood means the photo was readable but shows no meal. It is not an error.
type NoFood struct {
	models.NoFoodDetected
}

func (Detected) isOutcome() {}
func (NoFood) isOutcome()   {}

// Usage holds the token counters reported by the service.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the part of the service reply the client keeps. Only
// OutputText is interpreted; the rest is logged.
type Response struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	OutputText string `json:"output_text"`
	Usage      Usage  `json:"usage"`
}

type outputPayload struct {
	HasFood     *bool    `json:"hasFood"`
	Reason      *string  `json:"reason"`
	Calories    *float64 `json:"calories"`
	Protein     *float64 `json:"protein"`
	Carbs       *float64 `json:"carbs"`
	Fat         *float64 `json:"fat"`
	Description *string  `json:"description"`
}

// ParseOutput interprets the model's JSON text. Unknown keys are ignored.
// Malformed or schema-violating payloads return *failure.ParseFailure;
// well-formed payloads that cannot become NutritionData return the
// constructor's *models.ValidationError.
func ParseOutput(text string) (Outcome, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var p outputPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, &failure.ParseFailure{Reason: "output is not valid JSON", Err: err}
	}
	if p.HasFood == nil {
		return nil, &failure.ParseFailure{Reason: "missing hasFood"}
	}

	if !*p.HasFood {
		if p.Reason == nil || strings.TrimSpace(*p.Reason) == "" {
			return nil, &failure.ParseFailure{Reason: "missing reason for hasFood=false"}
		}
		return NoFood{models.NoFoodDetected{Reason: strings.TrimSpace(*p.Reason)}}, nil
	}

	if p.Calories == nil {
		return nil, &failure.ParseFailure{Reason: "missing calories"}
	}
	if p.Description == nil {
		return nil, &failure.ParseFailure{Reason: "missing description"}
	}

	data, err := models.NewNutritionData(
		clampCalories(*p.Calories),
		clampGrams(p.Protein, models.MaxProtein),
		clampGrams(p.Carbs, models.MaxCarbs),
		clampGrams(p.Fat, models.MaxFat),
		*p.Description,
	)
	if err != nil {
		return nil, err
	}
	return Detected{Data: data}, nil
}

// extractJSON trims anything outside the outermost object, such as markdown
// fences some models add even in JSON mode.
func extractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return "", &failure.ParseFailure{Reason: "output contains no JSON object"}
	}
	return text[start : end+1], nil
}

func clampCalories(v float64) int {
	v = math.Max(models.MinCalories, math.Min(models.MaxCalories, v))
	return int(math.Round(v))
}

func clampGrams(v *float64, max float64) float64 {
	if v == nil {
		return 0
	}
	return math.Max(0, math.Min(max, *v))
}

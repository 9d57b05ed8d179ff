// internal/vision/prompt.go
package vision

import (
	"github.com/sashabaranov/go-openai/jsonschema"
)

const schemaName = "meal_nutrition"

const systemInstruction = `You are a nutrition expert estimating the energy and macronutrient content of a meal from a single photo.

Identify every food and drink visible, estimate realistic portion sizes from plate size, utensils and packaging, and total the meal.

Rules:
- If the photo does not show food or drink (documents, people, screens, empty plates), set "hasFood" to false, explain why in "reason", and use 0 for every number and "" for "description".
- Otherwise set "hasFood" to true and "reason" to "".
- "calories" is the total energy in kcal as a whole number.
- "protein", "carbs" and "fat" are totals in grams.
- "description" is a short human-readable summary of the meal, for example "Grilled chicken with rice".
- Respond only with JSON matching the provided schema.`

const userInstruction = `Estimate the nutrition of the meal in this photo.`

// outputSchema is the strict response schema. Strict mode requires every
// property to be listed as required, so the no-food branch fills the numeric
// fields with zeros.
func outputSchema() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"hasFood": {
				Type:        jsonschema.Boolean,
				Description: "Whether the photo shows food or drink",
			},
			"reason": {
				Type:        jsonschema.String,
				Description: "Why no food was detected; empty when hasFood is true",
			},
			"calories": {
				Type:        jsonschema.Integer,
				Description: "Total energy in kcal",
			},
			"protein": {
				Type:        jsonschema.Number,
				Description: "Total protein in grams",
			},
			"carbs": {
				Type:        jsonschema.Number,
				Description: "Total carbohydrates in grams",
			},
			"fat": {
				Type:        jsonschema.Number,
				Description: "Total fat in grams",
			},
			"description": {
				Type:        jsonschema.String,
				Description: "Short summary of the meal",
			},
		},
		Required:             []string{"hasFood", "reason", "calories", "protein", "carbs", "fat", "description"},
		AdditionalProperties: false,
	}
}

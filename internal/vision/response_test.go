package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
)

func TestParseOutput_Detected(t *testing.T) {
	out, err := ParseOutput(`{"hasFood":true,"reason":"","calories":650,"protein":45,"carbs":70,"fat":15,"description":"Grilled chicken with rice"}`)
	require.NoError(t, err)

	want, err := models.NewNutritionData(650, 45, 70, 15, "Grilled chicken with rice")
	require.NoError(t, err)
	assert.Equal(t, Detected{Data: want}, out)
}

func TestParseOutput_NoFood(t *testing.T) {
	out, err := ParseOutput(`{"hasFood":false,"reason":"Image shows a document, not food","calories":0,"protein":0,"carbs":0,"fat":0,"description":""}`)
	require.NoError(t, err)

	noFood, ok := out.(NoFood)
	require.True(t, ok, "expected NoFood, got %T", out)
	assert.Equal(t, "Image shows a document, not food", noFood.Reason)
}

func TestParseOutput_IgnoresUnknownFields(t *testing.T) {
	minimal, err := ParseOutput(`{"hasFood":true,"calories":520,"protein":22.5,"carbs":61,"fat":18,"description":"Pasta bolognese"}`)
	require.NoError(t, err)

	extended, err := ParseOutput(`{
		"hasFood": true,
		"calories": 520,
		"protein": 22.5,
		"carbs": 61,
		"fat": 18,
		"description": "Pasta bolognese",
		"confidence": 0.82,
		"items": [{"name": "spaghetti", "grams": 180}, {"name": "ragu", "grams": 120}],
		"flags": {"blurry": false}
	}`)
	require.NoError(t, err)

	assert.Equal(t, minimal, extended)
}

func TestParseOutput_Clamping(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		calories int
		protein  float64
		carbs    float64
		fat      float64
	}{
		{
			name:     "rounds calories",
			payload:  `{"hasFood":true,"calories":649.6,"protein":10,"carbs":10,"fat":10,"description":"Soup"}`,
			calories: 650, protein: 10, carbs: 10, fat: 10,
		},
		{
			name:     "clamps upper bounds",
			payload:  `{"hasFood":true,"calories":9000,"protein":700,"carbs":1500,"fat":900,"description":"Buffet"}`,
			calories: 5000, protein: 500, carbs: 1000, fat: 500,
		},
		{
			name:     "clamps lower bounds",
			payload:  `{"hasFood":true,"calories":0,"protein":-3,"carbs":-1,"fat":-0.5,"description":"Water"}`,
			calories: 1, protein: 0, carbs: 0, fat: 0,
		},
		{
			name:     "macros default to zero",
			payload:  `{"hasFood":true,"calories":95,"description":"Apple"}`,
			calories: 95, protein: 0, carbs: 0, fat: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParseOutput(tt.payload)
			require.NoError(t, err)
			data := out.(Detected).Data
			assert.Equal(t, tt.calories, data.Calories())
			assert.Equal(t, tt.protein, data.Protein())
			assert.Equal(t, tt.carbs, data.Carbs())
			assert.Equal(t, tt.fat, data.Fat())
		})
	}
}

func TestParseOutput_Fenced(t *testing.T) {
	out, err := ParseOutput("```json\n{\"hasFood\":true,\"calories\":300,\"description\":\"Toast\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, 300, out.(Detected).Data.Calories())
}

func TestParseOutput_ParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "empty", payload: ""},
		{name: "prose", payload: "I think this is a salad."},
		{name: "truncated", payload: `{"hasFood":true,"calories":3`},
		{name: "broken object", payload: `{"hasFood":true,"calories":}`},
		{name: "missing discriminator", payload: `{"calories":300,"description":"Toast"}`},
		{name: "discriminator wrong type", payload: `{"hasFood":"yes","calories":300,"description":"Toast"}`},
		{name: "no food without reason", payload: `{"hasFood":false}`},
		{name: "no food with blank reason", payload: `{"hasFood":false,"reason":"   "}`},
		{name: "missing calories", payload: `{"hasFood":true,"description":"Toast"}`},
		{name: "missing description", payload: `{"hasFood":true,"calories":300}`},
		{name: "calories wrong type", payload: `{"hasFood":true,"calories":"lots","description":"Toast"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParseOutput(tt.payload)
			assert.Nil(t, out)
			var pf *failure.ParseFailure
			require.ErrorAs(t, err, &pf)
			assert.Equal(t, failure.ParseError{}, failure.Classify(err))
		})
	}
}

func TestParseOutput_ValidationNotParse(t *testing.T) {
	_, err := ParseOutput(`{"hasFood":true,"calories":400,"description":"   "}`)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "description", verr.Field)
	assert.Equal(t, failure.ValidationError{Field: "description", Reason: "must not be blank"}, failure.Classify(err))
}

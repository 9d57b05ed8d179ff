// internal/status/view.go
package status

import (
	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
)

// View is the flat, serializable form of a status used by the job ledger and
// the tool responses. Cause is never included.
type View struct {
	State     string                `json:"state"`
	Progress  *float64              `json:"progress,omitempty"`
	Attempt   int                   `json:"attempt,omitempty"`
	Stage     string                `json:"stage,omitempty"`
	Nutrition *models.NutritionData `json:"nutrition,omitempty"`
	RecordID  string                `json:"record_id,omitempty"`
	ErrorKind string                `json:"error_kind,omitempty"`
	Message   string                `json:"message,omitempty"`
	NoFood    bool                  `json:"no_food,omitempty"`
}

// ViewOf flattens s.
func ViewOf(s AnalysisStatus) View {
	switch v := s.(type) {
	case Analyzing:
		return View{State: v.Name(), Progress: v.Progress, Attempt: v.Attempt, Stage: v.Stage}
	case Success:
		data := v.Data
		return View{State: v.Name(), Nutrition: &data, RecordID: v.RecordID}
	case Error:
		return View{State: v.Name(), ErrorKind: KindName(v.Kind), Message: v.Message, NoFood: v.NoFood}
	default:
		return View{State: Idle{}.Name()}
	}
}

// KindName is the stable name of kind, or "" when there is none.
func KindName(kind failure.ErrorKind) string {
	if kind == nil {
		return ""
	}
	return kind.Name()
}

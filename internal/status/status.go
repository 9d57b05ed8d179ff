// internal/status/status.go
package status

import (
	"fmt"
	"math"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
)

// AnalysisStatus is the lifecycle state of one analysis job. The set of
// implementations is closed: Idle, Analyzing, Success and Error.
type AnalysisStatus interface {
	Name() string
	isStatus()
}

// Idle is the initial state and the state a finished job is reset to.
type Idle struct{}

// Analyzing means the job is running. A nil Progress is indeterminate.
type Analyzing struct {
	Progress *float64
	Attempt  int
	Stage    string
}

// Success is terminal: the estimate was validated and persisted as RecordID.
type Success struct {
	Data     models.NutritionData
	RecordID string
}

// Error is terminal. Kind is nil when the job was cancelled or the photo held
// no food; NoFood distinguishes the latter.
type Error struct {
	Message string
	Kind    failure.ErrorKind
	Cause   error
	NoFood  bool
}

func (Idle) Name() string      { return "idle" }
func (Analyzing) Name() string { return "analyzing" }
func (Success) Name() string   { return "success" }
func (Error) Name() string     { return "error" }

func (Idle) isStatus()      {}
func (Analyzing) isStatus() {}
func (Success) isStatus()   {}
func (Error) isStatus()     {}

// Stages reported while analyzing.
const (
	StageAnalyzing = "analyzing"
	StageSaving    = "saving"
)

// Indeterminate is the Analyzing state for an attempt without known progress.
func Indeterminate(attempt int) Analyzing {
	return Analyzing{Attempt: attempt, Stage: StageAnalyzing}
}

// WithProgress is a determinate Analyzing state; p is clamped to [0, 1].
func WithProgress(p float64, attempt int, stage string) Analyzing {
	switch {
	case p < 0 || math.IsNaN(p):
		p = 0
	case p > 1:
		p = 1
	}
	return Analyzing{Progress: &p, Attempt: attempt, Stage: stage}
}

// IsTerminal reports whether s is Success or Error.
func IsTerminal(s AnalysisStatus) bool {
	switch s.(type) {
	case Success, Error:
		return true
	default:
		return false
	}
}

// ValidateTransition checks that the lifecycle allows moving from one state to
// the next.
func ValidateTransition(from, to AnalysisStatus) error {
	if !isValidTransition(from, to) {
		return fmt.Errorf("invalid analysis status transition from %s to %s", nameOf(from), nameOf(to))
	}
	return nil
}

func isValidTransition(from, to AnalysisStatus) bool {
	switch from.(type) {
	case Idle:
		_, ok := to.(Analyzing)
		return ok
	case Analyzing:
		switch to.(type) {
		case Analyzing, Success, Error:
			return true
		}
		return false
	default:
		// Terminal states only leave through Reset.
		return false
	}
}

func nameOf(s AnalysisStatus) string {
	if s == nil {
		return "<nil>"
	}
	return s.Name()
}

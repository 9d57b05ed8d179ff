// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"mcp-meal-vision/internal/job"
	"mcp-meal-vision/internal/models"
	"mcp-meal-vision/internal/notify"
)

var errInvalidParams = errors.New("invalid parameters")

const (
	dateLayout        = "2006-01-02"
	defaultMealsLimit = 20
)

type AnalyzeMealPhotoParams struct {
	PhotoRef   string `json:"photo_ref" description:"Reference to the captured photo (file path or file:// URI)"`
	CapturedAt string `json:"captured_at,omitempty" description:"RFC3339 capture time (defaults to now)"`
}

type JobParams struct {
	JobID string `json:"job_id" description:"Analysis job id returned by analyze_meal_photo"`
}

type GetMealsParams struct {
	StartDate string `json:"start_date,omitempty" description:"First day to include (YYYY-MM-DD)"`
	EndDate   string `json:"end_date,omitempty" description:"Last day to include (YYYY-MM-DD)"`
	Limit     int    `json:"limit,omitempty" description:"Maximum number of meals to return"`
}

type UpdateMealParams struct {
	ID          string   `json:"id" description:"Meal record id"`
	Calories    *int     `json:"calories,omitempty" description:"Calories (1-5000)"`
	Protein     *float64 `json:"protein,omitempty" description:"Protein in grams"`
	Carbs       *float64 `json:"carbs,omitempty" description:"Carbohydrates in grams"`
	Fat         *float64 `json:"fat,omitempty" description:"Fat in grams"`
	Description *string  `json:"description,omitempty" description:"Short meal description"`
	Timestamp   string   `json:"timestamp,omitempty" description:"RFC3339 time the meal was eaten"`
}

type ListAnalysesParams struct {
	Limit int `json:"limit,omitempty" description:"Maximum number of jobs to return"`
}

type DeleteMealParams struct {
	ID string `json:"id" description:"Meal record id"`
}

// extractParams converts the request arguments into target.
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

func invalidParams(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errInvalidParams, fmt.Sprintf(format, args...))
}

// handleAnalyzeMealPhoto queues a photo for background analysis.
func (s *MealVisionServer) handleAnalyzeMealPhoto(_ context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params AnalyzeMealPhotoParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.PhotoRef) == "" {
		return nil, invalidParams("photo_ref is required")
	}

	var capturedAt time.Time
	if params.CapturedAt != "" {
		t, err := time.Parse(time.RFC3339, params.CapturedAt)
		if err != nil {
			return nil, invalidParams("captured_at: %v", err)
		}
		capturedAt = t
	}

	jobID, err := s.deps.Jobs.Submit(job.Input{PhotoRef: params.PhotoRef, CapturedAt: capturedAt})
	if err != nil {
		return nil, fmt.Errorf("failed to submit analysis: %w", err)
	}

	return s.createJSONResponse(map[string]interface{}{
		"job_id": jobID,
		"state":  "submitted",
	})
}

func (s *MealVisionServer) handleGetAnalysisStatus(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params JobParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.JobID == "" {
		return nil, invalidParams("job_id is required")
	}

	view, err := s.deps.Jobs.Status(ctx, params.JobID)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]interface{}{
		"job_id": params.JobID,
		"status": view,
	})
}

func (s *MealVisionServer) handleCancelAnalysis(_ context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params JobParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.JobID == "" {
		return nil, invalidParams("job_id is required")
	}

	if err := s.deps.Jobs.Cancel(params.JobID); err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]interface{}{
		"job_id":    params.JobID,
		"cancelled": true,
	})
}

// handleRetryAnalysis resubmits the photo of a failed job.
func (s *MealVisionServer) handleRetryAnalysis(_ context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params JobParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.JobID == "" {
		return nil, invalidParams("job_id is required")
	}

	jobID, err := s.deps.Jobs.Retry(params.JobID)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]interface{}{
		"job_id":   jobID,
		"retry_of": params.JobID,
	})
}

// handleGetMeals lists stored meals between two calendar days, both included.
func (s *MealVisionServer) handleGetMeals(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetMealsParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	if params.Limit <= 0 {
		params.Limit = defaultMealsLimit
	}

	var from, to time.Time
	var err error
	if params.StartDate != "" {
		if from, err = time.ParseInLocation(dateLayout, params.StartDate, s.config.Location); err != nil {
			return nil, invalidParams("start_date: %v", err)
		}
	}
	if params.EndDate != "" {
		if to, err = time.ParseInLocation(dateLayout, params.EndDate, s.config.Location); err != nil {
			return nil, invalidParams("end_date: %v", err)
		}
		to = to.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, invalidParams("start_date is after end_date")
	}

	meals, err := s.deps.Meals.Query(ctx, from, to, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve meals: %w", err)
	}
	if meals == nil {
		meals = []*models.Meal{}
	}

	return s.createJSONResponse(meals)
}

// handleUpdateMeal corrects a stored estimate. Omitted fields keep their value.
func (s *MealVisionServer) handleUpdateMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params UpdateMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, invalidParams("id is required")
	}

	meal, err := s.deps.Meals.Get(ctx, params.ID)
	if err != nil {
		return nil, err
	}

	if params.Calories != nil {
		meal.Calories = *params.Calories
	}
	if params.Protein != nil {
		meal.Protein = *params.Protein
	}
	if params.Carbs != nil {
		meal.Carbs = *params.Carbs
	}
	if params.Fat != nil {
		meal.Fat = *params.Fat
	}
	if params.Description != nil {
		meal.Description = *params.Description
	}
	if params.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, params.Timestamp)
		if err != nil {
			return nil, invalidParams("timestamp: %v", err)
		}
		meal.Timestamp = t
	}

	// Same bounds as an analyzed meal.
	if _, err := meal.Nutrition(); err != nil {
		return nil, err
	}

	if err := s.deps.Meals.Update(ctx, *meal); err != nil {
		return nil, fmt.Errorf("failed to update meal: %w", err)
	}

	updated, err := s.deps.Meals.Get(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(updated)
}

func (s *MealVisionServer) handleDeleteMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DeleteMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, invalidParams("id is required")
	}

	if err := s.deps.Meals.Delete(ctx, params.ID); err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]interface{}{
		"id":      params.ID,
		"deleted": true,
	})
}

// handleListAnalyses returns recent jobs, including those of earlier runs.
func (s *MealVisionServer) handleListAnalyses(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ListAnalysesParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = defaultMealsLimit
	}

	jobs, err := s.deps.History.ListJobs(ctx, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	if jobs == nil {
		jobs = []*models.JobRecord{}
	}
	return s.createJSONResponse(jobs)
}

func (s *MealVisionServer) handleListNotifications(_ context.Context, _ *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	active := []notify.Notification{}
	if s.deps.Notifications != nil {
		active = append(active, s.deps.Notifications.Active()...)
	}
	return s.createJSONResponse(active)
}

func (s *MealVisionServer) registerTools() error {
	tools := map[string]toolHandler{
		"analyze_meal_photo":  s.handleAnalyzeMealPhoto,
		"get_analysis_status": s.handleGetAnalysisStatus,
		"cancel_analysis":     s.handleCancelAnalysis,
		"retry_analysis":      s.handleRetryAnalysis,
		"list_notifications":  s.handleListNotifications,
	}
	if s.deps.Jobs == nil {
		return errors.New("job manager is required")
	}
	if s.deps.Meals != nil {
		tools["get_meals"] = s.handleGetMeals
		tools["update_meal"] = s.handleUpdateMeal
		tools["delete_meal"] = s.handleDeleteMeal
	}
	if s.deps.History != nil {
		tools["list_analyses"] = s.handleListAnalyses
	}

	for name := range tools {
		s.logger.Debug("registered tool", "name", name)
	}
	s.tools = tools
	return nil
}

package status

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
)

func mustNutrition(t *testing.T) models.NutritionData {
	t.Helper()
	data, err := models.NewNutritionData(650, 45, 70, 15, "Grilled chicken with rice")
	require.NoError(t, err)
	return data
}

func TestValidateTransition(t *testing.T) {
	data := mustNutrition(t)
	success := Success{Data: data, RecordID: "rec-1"}
	failed := Error{Message: "No connection", Kind: failure.NetworkError{}}

	tests := []struct {
		name    string
		from    AnalysisStatus
		to      AnalysisStatus
		wantErr bool
	}{
		{name: "idle to analyzing", from: Idle{}, to: Indeterminate(1)},
		{name: "analyzing to analyzing", from: Indeterminate(1), to: Indeterminate(2)},
		{name: "analyzing to success", from: Indeterminate(1), to: success},
		{name: "analyzing to error", from: Indeterminate(1), to: failed},
		{name: "idle to success", from: Idle{}, to: success, wantErr: true},
		{name: "idle to error", from: Idle{}, to: failed, wantErr: true},
		{name: "idle to idle", from: Idle{}, to: Idle{}, wantErr: true},
		{name: "analyzing to idle", from: Indeterminate(1), to: Idle{}, wantErr: true},
		{name: "success to analyzing", from: success, to: Indeterminate(1), wantErr: true},
		{name: "error to analyzing", from: failed, to: Indeterminate(1), wantErr: true},
		{name: "success to error", from: success, to: failed, wantErr: true},
		{name: "error to idle without reset", from: failed, to: Idle{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMachine_PublishesInOrder(t *testing.T) {
	m := NewMachine("job-1")
	assert.Equal(t, Idle{}, m.Current())

	var seen []string
	m.Subscribe(func(jobID string, prev, next AnalysisStatus) {
		assert.Equal(t, "job-1", jobID)
		seen = append(seen, "a:"+prev.Name()+">"+next.Name())
	})
	m.Subscribe(func(_ string, _, next AnalysisStatus) {
		seen = append(seen, "b:"+next.Name())
	})

	require.NoError(t, m.Transition(Indeterminate(1)))
	require.NoError(t, m.Transition(WithProgress(0.75, 1, StageSaving)))
	require.NoError(t, m.Transition(Success{Data: mustNutrition(t), RecordID: "rec-1"}))

	assert.Equal(t, []string{
		"a:idle>analyzing", "b:analyzing",
		"a:analyzing>analyzing", "b:analyzing",
		"a:analyzing>success", "b:success",
	}, seen)
	assert.True(t, IsTerminal(m.Current()))
}

func TestMachine_RejectedTransitionIsNotPublished(t *testing.T) {
	m := NewMachine("job-1")
	calls := 0
	m.Subscribe(func(string, AnalysisStatus, AnalysisStatus) { calls++ })

	err := m.Transition(Error{Message: "x"})
	assert.Error(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, Idle{}, m.Current())
}

func TestMachine_Reset(t *testing.T) {
	m := NewMachine("job-1")
	assert.ErrorIs(t, m.Reset(), ErrNotTerminal)

	require.NoError(t, m.Transition(Indeterminate(1)))
	assert.ErrorIs(t, m.Reset(), ErrNotTerminal)

	require.NoError(t, m.Transition(Error{Message: "Analysis cancelled", Cause: context.Canceled}))
	require.NoError(t, m.Reset())
	assert.Equal(t, Idle{}, m.Current())

	// A reset machine can run a new job.
	assert.NoError(t, m.Transition(Indeterminate(1)))
}

func TestMachine_ConcurrentReaders(t *testing.T) {
	m := NewMachine("job-1")
	require.NoError(t, m.Transition(Indeterminate(1)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.Current()
			}
		}()
	}
	for i := 2; i < 50; i++ {
		require.NoError(t, m.Transition(Indeterminate(i)))
	}
	wg.Wait()
	assert.Equal(t, 49, m.Current().(Analyzing).Attempt)
}

func TestWithProgress_Clamps(t *testing.T) {
	assert.Equal(t, 1.0, *WithProgress(1.7, 1, StageSaving).Progress)
	assert.Equal(t, 0.0, *WithProgress(-0.2, 1, StageSaving).Progress)
	assert.Nil(t, Indeterminate(3).Progress)
}

func TestViewOf(t *testing.T) {
	assert.Equal(t, View{State: "idle"}, ViewOf(Idle{}))

	v := ViewOf(WithProgress(0.75, 2, StageSaving))
	assert.Equal(t, "analyzing", v.State)
	assert.Equal(t, 2, v.Attempt)
	assert.Equal(t, 0.75, *v.Progress)

	v = ViewOf(Success{Data: mustNutrition(t), RecordID: "rec-9"})
	assert.Equal(t, "rec-9", v.RecordID)
	require.NotNil(t, v.Nutrition)
	assert.Equal(t, 650, v.Nutrition.Calories())

	v = ViewOf(Error{Message: "Too many requests", Kind: failure.RateLimitError{}})
	assert.Equal(t, "rate_limit_error", v.ErrorKind)

	v = ViewOf(Error{Message: "We couldn't find any food in this photo.", NoFood: true})
	assert.Empty(t, v.ErrorKind)
	assert.True(t, v.NoFood)
}

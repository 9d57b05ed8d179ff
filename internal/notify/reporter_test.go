package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
	"mcp-meal-vision/internal/status"
)

var fixedNow = time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC)

func newTestReporter(opts Options) (*Reporter, *MemoryChannel) {
	mem := NewMemoryChannel()
	opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	opts.Now = func() time.Time { return fixedNow }
	return NewReporter(mem, opts), mem
}

func lunch(t *testing.T) models.NutritionData {
	t.Helper()
	data, err := models.NewNutritionData(650, 45, 70, 15, "Grilled chicken with rice")
	require.NoError(t, err)
	return data
}

func runMachine(t *testing.T, r *Reporter, jobID string, states ...status.AnalysisStatus) {
	t.Helper()
	m := status.NewMachine(jobID)
	m.Subscribe(r.Listener())
	for _, s := range states {
		require.NoError(t, m.Transition(s))
	}
}

func TestReporter_SuccessFlow(t *testing.T) {
	r, mem := newTestReporter(Options{DeepLinkBase: "mealvision://app/"})

	runMachine(t, r, "job-1",
		status.Indeterminate(1),
		status.WithProgress(0.75, 1, status.StageSaving),
		status.Success{Data: lunch(t), RecordID: "rec-42"},
	)

	history := mem.History()
	require.Len(t, history, 4)

	first := history[0]
	assert.Equal(t, OpUpdate, first.Op)
	assert.Equal(t, OngoingNotificationID, first.Notification.ID)
	assert.Equal(t, "job-1", first.Notification.Tag)
	assert.True(t, first.Notification.Indeterminate)
	assert.True(t, first.Notification.Ongoing)
	assert.True(t, first.Notification.Silent)
	assert.False(t, first.Notification.Dismissible)
	assert.Equal(t, PriorityLow, first.Notification.Priority)

	second := history[1].Notification
	assert.Equal(t, OngoingNotificationID, second.ID)
	require.NotNil(t, second.Progress)
	assert.Equal(t, 0.75, *second.Progress)
	assert.False(t, second.Indeterminate)
	assert.Equal(t, "Saving to your health records", second.Text)

	assert.Equal(t, OpCancel, history[2].Op)
	assert.Equal(t, OngoingNotificationID, history[2].Notification.ID)

	done := history[3]
	assert.Equal(t, OpComplete, done.Op)
	assert.Equal(t, TerminalNotificationID, done.Notification.ID)
	assert.NotEqual(t, OngoingNotificationID, done.Notification.ID)
	assert.Equal(t, "Meal logged", done.Notification.Title)
	assert.Equal(t, "650 kcal · Grilled chicken with rice", done.Notification.Text)
	assert.True(t, done.Notification.Dismissible)
	assert.False(t, done.Notification.Ongoing)
	require.NotNil(t, done.Notification.Action)
	assert.Equal(t, ActionOpenRecord, done.Notification.Action.Kind)
	assert.Equal(t, "mealvision://app/meals/rec-42", done.Notification.Action.Target)
	assert.Equal(t, fixedNow, done.Notification.PostedAt)

	active := mem.Active()
	require.Len(t, active, 1)
	assert.Equal(t, TerminalNotificationID, active[0].ID)
}

func TestReporter_ErrorActions(t *testing.T) {
	tests := []struct {
		name     string
		kind     failure.ErrorKind
		canRetry bool
		want     *Action
	}{
		{name: "auth", kind: failure.AuthError{}, want: &Action{Kind: ActionOpenSettings, Label: "Open Settings"}},
		{name: "credential missing", kind: failure.CredentialMissing{}, want: &Action{Kind: ActionOpenSettings, Label: "Open Settings"}},
		{name: "network with retry", kind: failure.NetworkError{}, canRetry: true, want: &Action{Kind: ActionRetry, Label: "Retry", Target: "job-1"}},
		{name: "network without retry", kind: failure.NetworkError{}},
		{name: "permission", kind: failure.PermissionDenied{Permissions: []string{"write:meals"}}, want: &Action{Kind: ActionGrantAccess, Label: "Grant Access", Target: "write:meals"}},
		{name: "camera", kind: failure.CameraPermissionDenied{}, want: &Action{Kind: ActionGrantAccess, Label: "Grant Access", Target: "camera"}},
		{name: "server", kind: failure.ServerError{StatusCode: 503}, canRetry: true},
		{name: "rate limit", kind: failure.RateLimitError{}},
		{name: "parse", kind: failure.ParseError{}},
		{name: "validation", kind: failure.ValidationError{Field: "calories", Reason: "x"}},
		{name: "store unavailable", kind: failure.ExternalStoreUnavailable{}},
		{name: "storage full", kind: failure.StorageFull{}},
		{name: "unknown", kind: failure.UnknownError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mem := newTestReporter(Options{CanRetry: func(string) bool { return tt.canRetry }})
			msg := failure.UserMessage(tt.kind)

			runMachine(t, r, "job-1",
				status.Indeterminate(1),
				status.Error{Message: msg.Text, Kind: tt.kind, Cause: errors.New("raw")},
			)

			active := mem.Active()
			require.Len(t, active, 1)
			n := active[0]
			assert.Equal(t, TerminalNotificationID, n.ID)
			assert.Equal(t, msg.Title, n.Title)
			assert.Equal(t, msg.Text, n.Text)
			assert.Equal(t, tt.kind.Name(), n.ErrorKind)
			assert.Equal(t, tt.want, n.Action)
			assert.NotContains(t, n.Text, "raw")
		})
	}
}

func TestReporter_NoFood(t *testing.T) {
	r, mem := newTestReporter(Options{CanRetry: func(string) bool { return true }})
	msg := failure.NoFoodMessage("Image shows a document, not food")

	runMachine(t, r, "job-1",
		status.Indeterminate(1),
		status.Error{Message: msg.Text, NoFood: true},
	)

	active := mem.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "No food detected", active[0].Title)
	assert.Equal(t, msg.Text, active[0].Text)
	assert.Nil(t, active[0].Action)
	assert.Empty(t, active[0].ErrorKind)
}

func TestReporter_CancelledDismissesOnly(t *testing.T) {
	r, mem := newTestReporter(Options{})

	runMachine(t, r, "job-1",
		status.Indeterminate(1),
		status.Error{Message: "Analysis cancelled", Cause: context.Canceled},
	)

	assert.Empty(t, mem.Active())
	for _, e := range mem.History() {
		assert.NotEqual(t, OpComplete, e.Op)
	}
}

func TestReporter_DropsStaleProgress(t *testing.T) {
	r, mem := newTestReporter(Options{})

	r.Observe("job-1", status.Idle{}, status.Indeterminate(1))
	r.Observe("job-1", status.Indeterminate(1), status.Error{Message: "x", Kind: failure.UnknownError{}})
	// Delivered late, after the outcome.
	r.Observe("job-1", status.Idle{}, status.WithProgress(0.5, 1, status.StageAnalyzing))

	active := mem.Active()
	require.Len(t, active, 1)
	assert.Equal(t, TerminalNotificationID, active[0].ID)

	// Another job is unaffected.
	r.Observe("job-2", status.Idle{}, status.Indeterminate(1))
	assert.Len(t, mem.Active(), 2)

	// A reset job reports progress again.
	r.Observe("job-1", status.Error{}, status.Idle{})
	r.Observe("job-1", status.Idle{}, status.Indeterminate(1))
	assert.Len(t, mem.Active(), 3)
}

func TestReporter_RetryAttemptText(t *testing.T) {
	r, mem := newTestReporter(Options{})
	runMachine(t, r, "job-1", status.Indeterminate(1), status.Indeterminate(2))

	history := mem.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Estimating calories and macros (attempt 2)", history[1].Notification.Text)
	assert.Len(t, mem.Active(), 1)
}

type failingChannel struct{ calls int }

func (f *failingChannel) Update(Notification) error   { f.calls++; return errors.New("down") }
func (f *failingChannel) Complete(Notification) error { f.calls++; return errors.New("down") }
func (f *failingChannel) Cancel(int, string) error    { f.calls++; return errors.New("down") }

func TestReporter_DeliveryErrorsDoNotStopTransitions(t *testing.T) {
	ch := &failingChannel{}
	r := NewReporter(ch, Options{Logger: log.NewWithOptions(io.Discard, log.Options{})})
	m := status.NewMachine("job-1")
	m.Subscribe(r.Listener())

	require.NoError(t, m.Transition(status.Indeterminate(1)))
	require.NoError(t, m.Transition(status.Error{Message: "x", Kind: failure.NetworkError{}}))
	assert.Equal(t, 3, ch.calls)
}

func TestBusChannel_Publishes(t *testing.T) {
	bus := evbus.New()
	var updates, completes []Notification
	var cancelled []string

	require.NoError(t, bus.Subscribe(TopicUpdate, func(n Notification) { updates = append(updates, n) }))
	require.NoError(t, bus.Subscribe(TopicComplete, func(n Notification) { completes = append(completes, n) }))
	require.NoError(t, bus.Subscribe(TopicCancel, func(id int, tag string) { cancelled = append(cancelled, tag) }))

	r := NewReporter(NewBusChannel(bus), Options{Logger: log.NewWithOptions(io.Discard, log.Options{})})
	runMachine(t, r, "job-7", status.Indeterminate(1), status.Success{Data: lunch(t), RecordID: "rec-1"})

	require.Len(t, updates, 1)
	require.Len(t, completes, 1)
	assert.Equal(t, "job-7", completes[0].Tag)
	assert.Equal(t, []string{"job-7"}, cancelled)
}

func TestFanout(t *testing.T) {
	a, b := NewMemoryChannel(), NewMemoryChannel()
	out := Fanout{a, b, NewLogChannel(log.NewWithOptions(io.Discard, log.Options{}))}

	require.NoError(t, out.Update(Notification{ID: OngoingNotificationID, Tag: "j"}))
	require.NoError(t, out.Cancel(OngoingNotificationID, "j"))
	assert.Len(t, a.History(), 2)
	assert.Len(t, b.History(), 2)

	err := Fanout{a, &failingChannel{}}.Complete(Notification{ID: TerminalNotificationID, Tag: "j"})
	assert.Error(t, err)
	assert.Len(t, a.Active(), 1)
}

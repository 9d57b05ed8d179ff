// internal/notify/notification.go
package notify

import (
	"fmt"
	"strings"
	"time"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/status"
)

// Notification ids. Progress reuses the ongoing id; the outcome is posted
// under a different id so the two never replace each other.
const (
	OngoingNotificationID  = 1001
	TerminalNotificationID = 1002
)

type Priority string

const (
	PriorityLow     Priority = "low"
	PriorityDefault Priority = "default"
)

type ActionKind string

const (
	ActionOpenSettings ActionKind = "open_settings"
	ActionRetry        ActionKind = "retry"
	ActionGrantAccess  ActionKind = "grant_access"
	ActionOpenRecord   ActionKind = "open_record"
)

// Action is the single button attached to a terminal notification. Target is
// a deep link, a job id or a permission list depending on Kind.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Label  string     `json:"label"`
	Target string     `json:"target,omitempty"`
}

// Notification is the content handed to a Channel. Tag is the job id, so
// notifications of concurrent jobs stay separate.
type Notification struct {
	ID            int       `json:"id"`
	Tag           string    `json:"tag"`
	Title         string    `json:"title"`
	Text          string    `json:"text"`
	Progress      *float64  `json:"progress,omitempty"`
	Indeterminate bool      `json:"indeterminate,omitempty"`
	Ongoing       bool      `json:"ongoing"`
	Silent        bool      `json:"silent"`
	Dismissible   bool      `json:"dismissible"`
	Priority      Priority  `json:"priority"`
	Action        *Action   `json:"action,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	PostedAt      time.Time `json:"posted_at"`
}

func ongoing(jobID string, s status.Analyzing) Notification {
	text := "Estimating calories and macros"
	if s.Stage == status.StageSaving {
		text = "Saving to your health records"
	}
	if s.Attempt > 1 {
		text = fmt.Sprintf("%s (attempt %d)", text, s.Attempt)
	}

	return Notification{
		ID:            OngoingNotificationID,
		Tag:           jobID,
		Title:         "Analyzing meal",
		Text:          text,
		Progress:      s.Progress,
		Indeterminate: s.Progress == nil,
		Ongoing:       true,
		Silent:        true,
		Dismissible:   false,
		Priority:      PriorityLow,
	}
}

func success(jobID, deepLinkBase string, s status.Success) Notification {
	link := RecordLink(deepLinkBase, s.RecordID)
	return Notification{
		ID:          TerminalNotificationID,
		Tag:         jobID,
		Title:       "Meal logged",
		Text:        fmt.Sprintf("%d kcal · %s", s.Data.Calories(), s.Data.Description()),
		Dismissible: true,
		Priority:    PriorityDefault,
		Action:      &Action{Kind: ActionOpenRecord, Label: "View", Target: link},
	}
}

func failed(jobID string, s status.Error, canRetry bool) Notification {
	var msg failure.Message
	if s.NoFood {
		msg = failure.Message{Title: "No food detected"}
	} else {
		msg = failure.UserMessage(s.Kind)
	}
	if s.Message != "" {
		msg.Text = s.Message
	}

	n := Notification{
		ID:          TerminalNotificationID,
		Tag:         jobID,
		Title:       msg.Title,
		Text:        msg.Text,
		Dismissible: true,
		Priority:    PriorityDefault,
		ErrorKind:   status.KindName(s.Kind),
	}
	if !s.NoFood {
		n.Action = actionFor(jobID, s.Kind, canRetry)
	}
	return n
}

func actionFor(jobID string, kind failure.ErrorKind, canRetry bool) *Action {
	switch k := kind.(type) {
	case failure.AuthError, failure.CredentialMissing:
		return &Action{Kind: ActionOpenSettings, Label: "Open Settings"}
	case failure.NetworkError:
		if canRetry {
			return &Action{Kind: ActionRetry, Label: "Retry", Target: jobID}
		}
	case failure.PermissionDenied:
		return &Action{Kind: ActionGrantAccess, Label: "Grant Access", Target: strings.Join(k.Permissions, ",")}
	case failure.CameraPermissionDenied:
		return &Action{Kind: ActionGrantAccess, Label: "Grant Access", Target: "camera"}
	}
	return nil
}

// RecordLink is the deep link to a persisted meal's detail view.
func RecordLink(base, recordID string) string {
	return strings.TrimRight(base, "/") + "/meals/" + recordID
}

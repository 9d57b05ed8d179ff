// internal/failure/messages.go
package failure

import (
	"fmt"
	"strings"
)

// Message is user-facing text for a classified failure. It never contains raw
// error text, type names, hosts or credentials.
type Message struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// UserMessage renders the notification text for kind.
func UserMessage(kind ErrorKind) Message {
	switch k := kind.(type) {
	case NetworkError:
		return Message{
			Title: "No connection",
			Text:  "Couldn't reach the meal analysis service. Check your internet connection and try again.",
		}
	case ServerError:
		return Message{
			Title: "Service unavailable",
			Text:  "The meal analysis service is having trouble right now. Please try again in a few minutes.",
		}
	case ExternalStoreUnavailable:
		return Message{
			Title: "Couldn't save meal",
			Text:  "Your health records are temporarily unavailable, so the meal wasn't saved. Please try again later.",
		}
	case AuthError:
		return Message{
			Title: "API key rejected",
			Text:  "The meal analysis service didn't accept your API key. Check it in Settings.",
		}
	case RateLimitError:
		if k.RetryAfter != nil && *k.RetryAfter > 0 {
			return Message{
				Title: "Too many requests",
				Text:  fmt.Sprintf("The meal analysis service is busy. Please wait %s and try again.", humanizeSeconds(*k.RetryAfter)),
			}
		}
		return Message{
			Title: "Too many requests",
			Text:  "The meal analysis service is busy. Please wait a moment and try again.",
		}
	case ParseError:
		return Message{
			Title: "Couldn't read the result",
			Text:  "The analysis came back in an unexpected shape. Please try again, ideally with a clearer photo.",
		}
	case ValidationError:
		if k.Field == "photo" {
			return Message{
				Title: "Photo can't be used",
				Text:  "This photo couldn't be analyzed. Please take a new photo of your meal.",
			}
		}
		return Message{
			Title: "Estimate looked wrong",
			Text:  fmt.Sprintf("The %s estimate was out of range, so nothing was saved. Please try another photo.", humanizeField(k.Field)),
		}
	case PermissionDenied:
		return Message{
			Title: "Health access needed",
			Text:  "Allow access to your health records so analyzed meals can be saved.",
		}
	case CameraPermissionDenied:
		return Message{
			Title: "Photo access needed",
			Text:  "Allow access to the camera and photos so meals can be analyzed.",
		}
	case CredentialMissing:
		return Message{
			Title: "API key missing",
			Text:  "Add your API key in Settings to start analyzing meal photos.",
		}
	case StorageFull:
		return Message{
			Title: "Storage full",
			Text:  "There isn't enough free space to save this meal. Free up some space and try again.",
		}
	default:
		return Message{
			Title: "Analysis failed",
			Text:  "Something went wrong while analyzing your meal. Please try again.",
		}
	}
}

// NoFoodMessage is the dedicated text for a photo without a meal in it.
func NoFoodMessage(reason string) Message {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Message{Title: "No food detected", Text: "We couldn't find any food in this photo."}
	}
	return Message{Title: "No food detected", Text: "We couldn't find any food in this photo. " + reason}
}

func humanizeSeconds(secs int) string {
	switch {
	case secs < 60:
		if secs == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	case secs < 3600:
		mins := (secs + 59) / 60
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	default:
		hours := (secs + 3599) / 3600
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
}

func humanizeField(field string) string {
	switch field {
	case "calories", "protein", "carbs", "fat", "description":
		return field
	default:
		return "nutrition"
	}
}

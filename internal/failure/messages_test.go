package failure

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func allKinds() []ErrorKind {
	return []ErrorKind{
		NetworkError{},
		ServerError{StatusCode: 502},
		ExternalStoreUnavailable{},
		AuthError{},
		RateLimitError{},
		RateLimitError{RetryAfter: intPtr(45)},
		ParseError{},
		ValidationError{Field: "calories", Reason: "must be between 1 and 5000, got 9000"},
		ValidationError{Field: "photo", Reason: "unsupported format"},
		PermissionDenied{Permissions: []string{"write:meals"}},
		CameraPermissionDenied{},
		CredentialMissing{},
		StorageFull{},
		UnknownError{},
	}
}

func TestUserMessage_NeverLeaksInternals(t *testing.T) {
	forbidden := []string{"Error{", "failure.", "http://", "https://", "sk-", "status 5", "got 9000", "write:meals"}

	for _, kind := range allKinds() {
		t.Run(kind.Name(), func(t *testing.T) {
			msg := UserMessage(kind)
			assert.NotEmpty(t, msg.Title)
			assert.NotEmpty(t, msg.Text)
			for _, f := range forbidden {
				assert.NotContains(t, msg.Title+" "+msg.Text, f)
			}
		})
	}
}

func TestUserMessage_RateLimitWait(t *testing.T) {
	assert.Contains(t, UserMessage(RateLimitError{RetryAfter: intPtr(45)}).Text, "45 seconds")
	assert.Contains(t, UserMessage(RateLimitError{RetryAfter: intPtr(120)}).Text, "2 minutes")
	assert.Contains(t, UserMessage(RateLimitError{RetryAfter: intPtr(1)}).Text, "1 second")
	assert.Contains(t, UserMessage(RateLimitError{}).Text, "a moment")
}

func TestUserMessage_DistinctKinds(t *testing.T) {
	seen := map[string]string{}
	for _, kind := range []ErrorKind{
		NetworkError{}, ServerError{}, ExternalStoreUnavailable{}, AuthError{}, RateLimitError{}, ParseError{},
		ValidationError{Field: "fat"}, PermissionDenied{}, CameraPermissionDenied{}, CredentialMissing{},
		StorageFull{}, UnknownError{},
	} {
		text := UserMessage(kind).Text
		if other, ok := seen[text]; ok {
			t.Errorf("%s and %s share the same text", kind.Name(), other)
		}
		seen[text] = kind.Name()
	}
}

func TestNoFoodMessage(t *testing.T) {
	msg := NoFoodMessage("Image shows a document, not food")
	assert.Equal(t, "No food detected", msg.Title)
	assert.True(t, strings.HasSuffix(msg.Text, "Image shows a document, not food"))
	assert.NotEqual(t, UserMessage(UnknownError{}), msg)

	assert.Equal(t, "We couldn't find any food in this photo.", NoFoodMessage("  ").Text)
}

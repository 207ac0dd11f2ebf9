package gemini

import (
	"errors"
	"strings"
)

// ErrNoImageData is returned when the first response part carries no inline image.
var ErrNoImageData = errors.New("no image data returned from API")

// IsRateLimited reports whether err looks like a 429 / quota rejection from the
// image service. Used only to classify failures in logs and user messages.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "resource_exhausted") ||
		strings.Contains(errStr, "resourceexhausted")
}

package playback

import (
	"errors"

	"github.com/desertthunder/ytplay/internal/shared"
)

// MessageKey names a user-facing playback error. Front-ends translate keys into text.
type MessageKey string

const (
	ErrorNoInternet MessageKey = "error_no_internet"
	ErrorTimeout    MessageKey = "error_timeout"
	ErrorRemote     MessageKey = "error_remote"
	ErrorUnplayable MessageKey = "error_unplayable"
	ErrorUnknown    MessageKey = "error_unknown"
)

// Classify maps err onto a message key by its sentinel.
func Classify(err error) MessageKey {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, shared.ErrNetworkUnavailable):
		return ErrorNoInternet
	case errors.Is(err, shared.ErrTimeout):
		return ErrorTimeout
	case errors.Is(err, shared.ErrRemote):
		return ErrorRemote
	case errors.Is(err, shared.ErrUnplayable):
		return ErrorUnplayable
	default:
		return ErrorUnknown
	}
}

// Retryable reports whether a failure may be skipped past automatically.
// Connectivity failures and pure decoder or player failures are retryable;
// tracks the provider rejected are not.
func Retryable(err error) bool {
	switch Classify(err) {
	case ErrorNoInternet, ErrorTimeout, ErrorUnknown:
		return true
	default:
		return false
	}
}

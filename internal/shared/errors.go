package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Stream resolution and playback errors
	ErrNetworkUnavailable = fmt.Errorf("network unavailable")
	ErrTimeout            = fmt.Errorf("operation timed out")
	ErrRemote             = fmt.Errorf("remote provider error")
	ErrUnplayable         = fmt.Errorf("track is not playable")

	// Non-fatal background errors
	ErrPersistence = fmt.Errorf("snapshot persistence failed")
	ErrPagination  = fmt.Errorf("queue pagination failed")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrTrackNotFound      = fmt.Errorf("track not found")
	ErrFormatNotFound     = fmt.Errorf("stream format not found")
	ErrNoSnapshot         = fmt.Errorf("no snapshot to resume")
	ErrQueueEmpty         = fmt.Errorf("queue is empty")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

package remote

import (
	"errors"
	"fmt"

	"liveroom/internal/api"
)

// ErrInvalidBaseURL is returned by New for anything but an absolute http(s) URL.
var ErrInvalidBaseURL = errors.New("base URL must be http or https")

// APIError is returned for every non-2xx reply. It unwraps to the error value
// the server mapped, so errors.Is(err, types.ErrSpeakerAlreadyLive) works
// across the wire.
type APIError struct {
	Status  int
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("liveroom api %d: %s (%s)", e.Status, e.Message, e.Reason)
}

func (e *APIError) Unwrap() error {
	return api.ErrorForReason(e.Reason)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"liveroom/pkg/types"
)

var (
	// ErrRateLimited is what a client sees after exceeding its write budget.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrBadRequest covers malformed bodies and query parameters.
	ErrBadRequest = errors.New("bad request")
)

// ErrorResponse is the body of every non-2xx reply. Reason is a stable key
// clients map back to an error value.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

type errorMapping struct {
	err    error
	reason string
	status int
}

var errorMappings = []errorMapping{
	{types.ErrInvalidUserID, "invalid_user_id", http.StatusBadRequest},
	{types.ErrInvalidRoomID, "invalid_room_id", http.StatusBadRequest},
	{types.ErrInvalidDisplayName, "invalid_display_name", http.StatusBadRequest},
	{types.ErrInvalidRole, "invalid_role", http.StatusBadRequest},
	{types.ErrInvalidStatus, "invalid_status", http.StatusBadRequest},
	{types.ErrEmptyMessage, "empty_message", http.StatusBadRequest},
	{types.ErrMessageTooLong, "message_too_long", http.StatusBadRequest},
	{ErrBadRequest, "bad_request", http.StatusBadRequest},
	{types.ErrInteractionNotFound, "interaction_not_found", http.StatusNotFound},
	{types.ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{types.ErrSpeakerAlreadyLive, "speaker_already_live", http.StatusConflict},
	{ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
}

// StatusFor maps err to an HTTP status and reason key.
func StatusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.reason
		}
	}
	return http.StatusInternalServerError, "internal"
}

// ErrorForReason is the inverse of StatusFor; unknown reasons return nil.
func ErrorForReason(reason string) error {
	for _, m := range errorMappings {
		if m.reason == reason {
			return m.err
		}
	}
	return nil
}

// sendError writes the standard error body. Internal errors are not echoed.
func sendError(w http.ResponseWriter, err error) {
	code, reason := StatusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		message = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Reason:  reason,
		Message: message,
	})
}

package types

import "errors"

// ARCHITECTURAL DISCOVERY: Store-level errors live here so the sqlite store,
// the HTTP API and the remote client can round-trip them with errors.Is
var (
	ErrInvalidUserID       = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomID       = errors.New("room ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName  = errors.New("display name must be 1-100 characters")
	ErrInvalidRole         = errors.New("role must be student, teacher or admin")
	ErrInvalidStatus       = errors.New("invalid interaction status")
	ErrEmptyMessage        = errors.New("message body cannot be empty")
	ErrMessageTooLong      = errors.New("message body exceeds 2000 characters")
	ErrInteractionNotFound = errors.New("interaction not found")
	ErrInvalidTransition   = errors.New("invalid interaction status transition")
	ErrSpeakerAlreadyLive  = errors.New("another participant is already live")
)

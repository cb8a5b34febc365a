package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is counted in characters, not bytes.
const MaxMessageLength = 2000

var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks the fields a caller supplies when raising a hand.
// Status defaults to waiting; ID and CreatedAt are assigned by the store.
func (r *InteractionRecord) Validate() error {
	if !IsValidUserID(r.ParticipantID) {
		return ErrInvalidUserID
	}
	name := strings.TrimSpace(r.DisplayName)
	if name == "" || utf8.RuneCountInString(name) > 100 {
		return ErrInvalidDisplayName
	}
	if r.Status == "" {
		r.Status = InteractionWaiting
	}
	if r.Status != InteractionWaiting {
		return ErrInvalidStatus
	}
	return nil
}

// Validate ensures an outgoing message is acceptable to the store
// FUNCTIONAL DISCOVERY: whitespace-only bodies count as empty
func (m *ChatMessage) Validate() error {
	if !IsValidUserID(m.AuthorID) {
		return ErrInvalidUserID
	}
	if !IsValidRole(m.AuthorRole) {
		return ErrInvalidRole
	}
	return ValidateBody(m.Body)
}

// ValidateBody applies the body rules shared by the engine and the store.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return identifierRegex.MatchString(userID)
}

// IsValidRoomID uses the same rules as user IDs.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 64 {
		return false
	}
	return identifierRegex.MatchString(roomID)
}

func IsValidRole(role Role) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

func IsValidInteractionStatus(status InteractionStatus) bool {
	switch status {
	case InteractionWaiting, InteractionLive, InteractionEnded:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a persisted record may move from one status to another.
// TECHNICAL DISCOVERY: ended is terminal and live is only reachable from waiting
func CanTransition(from, to InteractionStatus) bool {
	switch to {
	case InteractionLive:
		return from == InteractionWaiting
	case InteractionEnded:
		return from == InteractionWaiting || from == InteractionLive
	default:
		return false
	}
}

package types

import (
	"time"
)

// InteractionStatus is the persisted lifecycle state of a raised hand.
type InteractionStatus string

const (
	InteractionWaiting InteractionStatus = "waiting"
	InteractionLive    InteractionStatus = "live"
	InteractionEnded   InteractionStatus = "ended"
)

// MyStatus is the current user's derived position in the speaker queue.
// ARCHITECTURAL DISCOVERY: idle has no backend row; it is what remains when
// the user owns no waiting or live record
type MyStatus string

const (
	StatusIdle    MyStatus = "idle"
	StatusWaiting MyStatus = "waiting"
	StatusLive    MyStatus = "live"
	// StatusEnded mirrors the backend's terminal state for callers that set
	// status themselves. The engine never produces it: ending a call moves
	// the user straight to idle, as the next poll would.
	StatusEnded MyStatus = "ended"
)

// Role of a participant. Teachers and admins arbitrate the speaker slot.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// DeliveryStatus exists only on the client to drive optimistic rendering.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// User is what the identity collaborator resolves for the signed-in participant.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// InteractionRecord is one participant's request to speak
// FUNCTIONAL DISCOVERY: CreatedAt is the FIFO ordering key for the queue
type InteractionRecord struct {
	ID            string            `json:"id" db:"id"`
	RoomID        string            `json:"room_id,omitempty" db:"room_id"`
	ParticipantID string            `json:"participant_id" db:"participant_id"`
	DisplayName   string            `json:"display_name" db:"display_name"`
	Status        InteractionStatus `json:"status" db:"status"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// ChatMessage is one entry in the session feed.
// DeliveryStatus is never persisted; rows read back from the store leave it empty.
type ChatMessage struct {
	ID             string         `json:"id" db:"id"`
	RoomID         string         `json:"room_id,omitempty" db:"room_id"`
	AuthorID       string         `json:"author_id" db:"author_id"`
	AuthorName     string         `json:"author_name" db:"author_name"`
	AuthorRole     Role           `json:"author_role" db:"author_role"`
	Body           string         `json:"body" db:"body"`
	IsQuestion     bool           `json:"is_question" db:"is_question"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	DeliveryStatus DeliveryStatus `json:"-"`
}

// Snapshot is the immutable view handed to consumers
// ARCHITECTURAL DISCOVERY: snapshots are replaced wholesale on every mutation,
// callers must treat every field as read-only
type Snapshot struct {
	MyStatus       MyStatus
	Queue          []InteractionRecord
	CurrentSpeaker *InteractionRecord
	Messages       []ChatMessage
}

// EmptySnapshot returns the initial idle state.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		MyStatus: StatusIdle,
		Queue:    []InteractionRecord{},
		Messages: []ChatMessage{},
	}
}

// Equal reports whether two records carry the same values.
func (r InteractionRecord) Equal(o InteractionRecord) bool {
	return r.ID == o.ID &&
		r.RoomID == o.RoomID &&
		r.ParticipantID == o.ParticipantID &&
		r.DisplayName == o.DisplayName &&
		r.Status == o.Status &&
		r.CreatedAt.Equal(o.CreatedAt)
}

// IsArbiter reports whether the role may accept, end and clear speakers.
func (r Role) IsArbiter() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// IsArbiter reports whether the user holds an arbitration role.
func (u *User) IsArbiter() bool {
	return u != nil && u.Role.IsArbiter()
}

// ChangeKind names which half of a room changed.
type ChangeKind string

const (
	ChangeInteractions ChangeKind = "interactions"
	ChangeMessages     ChangeKind = "messages"
)

// ChangeEvent is pushed on the change feed after a successful write. It only
// says that something changed; clients still read the state by polling.
type ChangeEvent struct {
	Room string     `json:"room"`
	Kind ChangeKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
	At   time.Time  `json:"at"`
}

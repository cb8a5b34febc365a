package interfaces

import (
	"context"
	"time"

	"liveroom/pkg/types"
)

// InteractionStore is the raised-hand half of the external store
// ARCHITECTURAL DISCOVERY: every method is a plain request/response call so the
// engine works the same against sqlite, HTTP or an in-memory fake
type InteractionStore interface {
	// ListInteractions returns records whose status is in statuses, oldest first.
	ListInteractions(ctx context.Context, statuses []types.InteractionStatus) ([]types.InteractionRecord, error)

	// InsertInteraction persists a new waiting record. The store assigns ID and
	// CreatedAt and writes them back into record.
	InsertInteraction(ctx context.Context, record *types.InteractionRecord) error

	// UpdateInteractionStatus moves one record to status. Moving to live fails
	// with types.ErrSpeakerAlreadyLive when another record is live.
	UpdateInteractionStatus(ctx context.Context, id string, status types.InteractionStatus) error

	// BulkEndWaiting ends every waiting record in one call.
	BulkEndWaiting(ctx context.Context) error
}

// MessageStore is the chat half of the external store.
type MessageStore interface {
	// ListRecentMessages returns at most limit messages, newest first.
	ListRecentMessages(ctx context.Context, limit int) ([]types.ChatMessage, error)

	// InsertMessage persists message under a store-assigned ID. The caller's
	// ID field is ignored.
	InsertMessage(ctx context.Context, message *types.ChatMessage) error
}

// Store is everything the engine needs from persistence for one room.
type Store interface {
	InteractionStore
	MessageStore
}

// Identity resolves the signed-in participant; nil means nobody is signed in.
type Identity interface {
	CurrentUser() *types.User
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func() *types.User

func (f IdentityFunc) CurrentUser() *types.User { return f() }

// StaticIdentity always returns the same user.
func StaticIdentity(user *types.User) Identity {
	return IdentityFunc(func() *types.User { return user })
}

// Clock is injected wherever interval or debounce decisions read the time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

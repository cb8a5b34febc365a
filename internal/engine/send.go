package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"liveroom/pkg/types"
)

// localIDPrefix marks ids minted on this client; the store assigns its own.
const localIDPrefix = "local-"

// SendMessage shows the message immediately as pending, then writes it and
// resolves it to sent or failed. A failed message stays in the list and is
// not retried; the caller may send again right away. The returned message carries the local id.
//
// The store's row comes back through polling under a different id; the two
// are not reconciled.
func (e *Engine) SendMessage(ctx context.Context, body string, isQuestion bool) (types.ChatMessage, error) {
	user := e.identity.CurrentUser()
	if user == nil {
		return types.ChatMessage{}, ErrNotSignedIn
	}
	body = strings.TrimSpace(body)
	if err := types.ValidateBody(body); err != nil {
		return types.ChatMessage{}, err
	}

	// the window runs from the last successful send; a failed write hands
	// its reservation back so a manual retry is not held off
	now := e.clock.Now()
	slot := e.sends.ReserveN(now, 1)
	if !slot.OK() || slot.DelayFrom(now) > 0 {
		slot.CancelAt(now)
		return types.ChatMessage{}, ErrSendTooSoon
	}

	msg := types.ChatMessage{
		ID:             localIDPrefix + uuid.NewString(),
		AuthorID:       user.ID,
		AuthorName:     user.DisplayName,
		AuthorRole:     user.Role,
		Body:           body,
		IsQuestion:     isQuestion,
		CreatedAt:      now,
		DeliveryStatus: types.DeliveryPending,
	}
	e.container.AddOptimisticMessage(msg)
	e.poller.NoteActivity(now)

	out := msg
	out.ID = ""
	if err := e.store.InsertMessage(ctx, &out); err != nil {
		slot.CancelAt(now)
		e.container.UpdateMessageStatus(msg.ID, types.DeliveryFailed)
		msg.DeliveryStatus = types.DeliveryFailed
		e.log.Warn("send failed", "local_id", msg.ID, "error", err)
		return msg, fmt.Errorf("send message: %w", err)
	}

	e.container.UpdateMessageStatus(msg.ID, types.DeliverySent)
	msg.DeliveryStatus = types.DeliverySent
	return msg, nil
}

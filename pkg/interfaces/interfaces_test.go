package interfaces_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

type nopStore struct{}

func (nopStore) ListInteractions(ctx context.Context, statuses []types.InteractionStatus) ([]types.InteractionRecord, error) {
	return nil, nil
}
func (nopStore) InsertInteraction(ctx context.Context, record *types.InteractionRecord) error {
	return nil
}
func (nopStore) UpdateInteractionStatus(ctx context.Context, id string, status types.InteractionStatus) error {
	return nil
}
func (nopStore) BulkEndWaiting(ctx context.Context) error { return nil }
func (nopStore) ListRecentMessages(ctx context.Context, limit int) ([]types.ChatMessage, error) {
	return nil, nil
}
func (nopStore) InsertMessage(ctx context.Context, message *types.ChatMessage) error { return nil }

func TestStore_InterfaceContract(t *testing.T) {
	var store interfaces.Store = nopStore{}
	var _ interfaces.InteractionStore = store
	var _ interfaces.MessageStore = store
}

func TestStaticIdentity(t *testing.T) {
	user := &types.User{ID: "s1", DisplayName: "Ada", Role: types.RoleStudent}
	id := interfaces.StaticIdentity(user)
	assert.Same(t, user, id.CurrentUser())

	anon := interfaces.StaticIdentity(nil)
	assert.Nil(t, anon.CurrentUser())
}

func TestIdentityFunc_ReadsEachCall(t *testing.T) {
	var current *types.User
	id := interfaces.IdentityFunc(func() *types.User { return current })
	assert.Nil(t, id.CurrentUser())

	current = &types.User{ID: "t1", Role: types.RoleTeacher}
	assert.Equal(t, "t1", id.CurrentUser().ID)
}

func TestSystemClock(t *testing.T) {
	before := time.Now()
	got := interfaces.SystemClock{}.Now()
	assert.False(t, got.Before(before))
}

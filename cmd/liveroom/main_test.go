package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveroom/internal/engine"
	"liveroom/internal/storetest"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "liveroom", cmd.Use)

	for _, name := range []string{"serve", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watch, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	role := watch.Flags().Lookup("role")
	require.NotNil(t, role)
	assert.Equal(t, "student", role.DefValue)
	assert.NotNil(t, watch.Flags().Lookup("server"))
}

func TestWatchCommand_RequiresRoomAndUser(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"watch"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestWatchOptions_User(t *testing.T) {
	o := &WatchOptions{User: "s1", Role: "student"}
	u, err := o.user()
	require.NoError(t, err)
	assert.Equal(t, "s1", u.DisplayName, "name defaults to the id")

	o.Role = "guest"
	_, err = o.user()
	assert.ErrorIs(t, err, types.ErrInvalidRole)

	o.Role, o.User = "teacher", "bad id"
	_, err = o.user()
	assert.ErrorIs(t, err, types.ErrInvalidUserID)
}

func newEngine(store *storetest.Fake, user *types.User) *engine.Engine {
	return engine.New(store, interfaces.StaticIdentity(user), engine.WithClock(storetest.NewClock(base)))
}

func TestDispatch_StudentCommands(t *testing.T) {
	store := storetest.NewFake(base)
	eng := newEngine(store, &types.User{ID: "s1", DisplayName: "Ada", Role: types.RoleStudent})
	ctx := context.Background()

	require.NoError(t, dispatch(ctx, eng, "/hand"))
	assert.Equal(t, types.StatusWaiting, eng.Snapshot().MyStatus)
	assert.ErrorIs(t, dispatch(ctx, eng, "/hand"), engine.ErrAlreadyQueued)

	require.NoError(t, dispatch(ctx, eng, "?what is a monad"))
	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsQuestion)
	assert.Equal(t, "what is a monad", msgs[0].Body)

	assert.ErrorIs(t, dispatch(ctx, eng, "/clear"), engine.ErrNotArbiter)
	assert.ErrorIs(t, dispatch(ctx, eng, "/quit"), errQuit)
	assert.Error(t, dispatch(ctx, eng, "/dance"))
	assert.NoError(t, dispatch(ctx, eng, "   "))
	assert.NoError(t, dispatch(ctx, eng, "/hide"))
	assert.NoError(t, dispatch(ctx, eng, "/show"))
}

func TestDispatch_TeacherAcceptsByPosition(t *testing.T) {
	store := storetest.NewFake(base)
	store.Seed(
		types.InteractionRecord{ID: "a", ParticipantID: "s1", DisplayName: "Ada", Status: types.InteractionWaiting, CreatedAt: base},
		types.InteractionRecord{ID: "b", ParticipantID: "s2", DisplayName: "Alan", Status: types.InteractionWaiting, CreatedAt: base.Add(time.Second)},
	)
	eng := newEngine(store, &types.User{ID: "t1", DisplayName: "Grace", Role: types.RoleTeacher})
	ctx := context.Background()
	require.NoError(t, eng.Sync(ctx))

	assert.Error(t, dispatch(ctx, eng, "/accept"))
	assert.Error(t, dispatch(ctx, eng, "/accept 3"))
	require.NoError(t, dispatch(ctx, eng, "/accept 2"))

	for _, r := range store.Interactions() {
		if r.ID == "b" {
			assert.Equal(t, types.InteractionLive, r.Status)
		}
	}
}

func TestResolveQueueRef(t *testing.T) {
	snap := &types.Snapshot{Queue: []types.InteractionRecord{
		{ID: "live1", Status: types.InteractionLive},
		{ID: "w1", Status: types.InteractionWaiting},
	}}
	id, err := resolveQueueRef(snap, "1")
	require.NoError(t, err)
	assert.Equal(t, "w1", id, "positions count waiting records only")

	id, err = resolveQueueRef(snap, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)
}

func TestRenderer_PrintsChangesOnce(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, &types.User{ID: "s1"})

	speaker := types.InteractionRecord{ID: "a", DisplayName: "Ada", Status: types.InteractionLive}
	snap := &types.Snapshot{
		MyStatus:       types.StatusLive,
		CurrentSpeaker: &speaker,
		Queue: []types.InteractionRecord{
			speaker,
			{ID: "b", DisplayName: "Alan", Status: types.InteractionWaiting},
		},
		Messages: []types.ChatMessage{
			{ID: "m1", AuthorName: "Grace", AuthorRole: types.RoleTeacher, Body: "welcome", CreatedAt: base},
			{ID: "local-1", AuthorName: "Ada", Body: "hi", DeliveryStatus: types.DeliveryPending, CreatedAt: base},
		},
	}
	r.render(snap)
	first := out.String()
	assert.Contains(t, first, "you are live")
	assert.Contains(t, first, "Ada is speaking")
	assert.Contains(t, first, "queue: 1.Alan")
	assert.Contains(t, first, "Grace [teacher]: welcome")
	assert.Contains(t, first, "hi (sending)")

	out.Reset()
	r.render(snap)
	assert.Empty(t, out.String(), "unchanged snapshot prints nothing")

	failed := *snap
	failed.Messages = []types.ChatMessage{snap.Messages[0], snap.Messages[1]}
	failed.Messages[1].DeliveryStatus = types.DeliveryFailed
	failed.CurrentSpeaker = nil
	r.render(&failed)
	got := out.String()
	assert.Contains(t, got, "not delivered: hi")
	assert.Contains(t, got, "nobody is speaking")
	assert.Equal(t, 2, strings.Count(got, "\n"))
}

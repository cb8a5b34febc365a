package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveroom/internal/pacer"
	"liveroom/internal/storetest"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	ada   = &types.User{ID: "s1", DisplayName: "Ada", Role: types.RoleStudent}
	alan  = &types.User{ID: "s2", DisplayName: "Alan", Role: types.RoleStudent}
	grace = &types.User{ID: "t1", DisplayName: "Grace", Role: types.RoleTeacher}
)

type fixture struct {
	store *storetest.Fake
	clock *storetest.Clock
}

func newFixture() *fixture {
	return &fixture{store: storetest.NewFake(base), clock: storetest.NewClock(base)}
}

func (f *fixture) engine(user *types.User) *Engine {
	return New(f.store, interfaces.StaticIdentity(user), WithClock(f.clock))
}

func TestRaiseHand_FlipsToWaitingAndInserts(t *testing.T) {
	f := newFixture()
	e := f.engine(ada)

	require.NoError(t, e.RaiseHand(context.Background()))
	assert.Equal(t, types.StatusWaiting, e.Snapshot().MyStatus)

	records := f.store.Interactions()
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].ParticipantID)
	assert.Equal(t, "Ada", records[0].DisplayName)
	assert.Equal(t, types.InteractionWaiting, records[0].Status)
}

func TestRaiseHand_GuardWhenNotIdle(t *testing.T) {
	f := newFixture()
	e := f.engine(ada)
	e.container.SetStatus(types.StatusLive)

	var n int
	e.Subscribe(func(*types.Snapshot) { n++ })
	before := e.Snapshot()

	assert.ErrorIs(t, e.RaiseHand(context.Background()), ErrAlreadyQueued)
	assert.Equal(t, 0, f.store.CallCount("InsertInteraction"))
	assert.Equal(t, 0, n)
	assert.Same(t, before, e.Snapshot())
}

func TestRaiseHand_FailureRevertsToIdle(t *testing.T) {
	f := newFixture()
	f.store.InsertErr = errors.New("db down")
	e := f.engine(ada)

	err := e.RaiseHand(context.Background())
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, types.StatusIdle, e.Snapshot().MyStatus)
}

func TestRaiseHand_PendingWriteShowsWaiting(t *testing.T) {
	f := newFixture()
	gate := make(chan struct{})
	f.store.SetGate(gate)
	e := f.engine(ada)

	done := make(chan error, 1)
	go func() { done <- e.RaiseHand(context.Background()) }()
	assert.Eventually(t, func() bool { return e.Snapshot().MyStatus == types.StatusWaiting }, time.Second, time.Millisecond)

	// a second press while the first is in flight is rejected
	assert.ErrorIs(t, e.RaiseHand(context.Background()), ErrAlreadyQueued)
	close(gate)
	require.NoError(t, <-done)
}

func TestRaiseHand_RequiresUser(t *testing.T) {
	f := newFixture()
	e := f.engine(nil)
	assert.ErrorIs(t, e.RaiseHand(context.Background()), ErrNotSignedIn)
}

func TestAcceptStudent_ArbiterOnly(t *testing.T) {
	f := newFixture()
	student := f.engine(ada)
	require.NoError(t, student.RaiseHand(context.Background()))
	id := f.store.Interactions()[0].ID

	assert.ErrorIs(t, student.AcceptStudent(context.Background(), id), ErrNotArbiter)
	assert.Equal(t, 0, f.store.CallCount("UpdateInteractionStatus"))

	teacher := f.engine(grace)
	require.NoError(t, teacher.AcceptStudent(context.Background(), id))
	assert.Equal(t, types.InteractionLive, f.store.Interactions()[0].Status)
}

func TestAcceptStudent_SecondAcceptRejectedByStore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.engine(ada).RaiseHand(ctx))
	require.NoError(t, f.engine(alan).RaiseHand(ctx))
	records := f.store.Interactions()

	teacher := f.engine(grace)
	require.NoError(t, teacher.AcceptStudent(ctx, records[0].ID))
	err := teacher.AcceptStudent(ctx, records[1].ID)
	assert.ErrorIs(t, err, types.ErrSpeakerAlreadyLive)

	require.NoError(t, teacher.Sync(ctx))
	snap := teacher.Snapshot()
	require.NotNil(t, snap.CurrentSpeaker)
	assert.Equal(t, "s1", snap.CurrentSpeaker.ParticipantID)

	live := 0
	for _, r := range snap.Queue {
		if r.Status == types.InteractionLive {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestEndCall_ParticipantEndsOnlyOwnRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	other := f.engine(alan)
	require.NoError(t, other.RaiseHand(ctx))
	me := f.engine(ada)
	require.NoError(t, me.RaiseHand(ctx))

	teacher := f.engine(grace)
	require.NoError(t, teacher.AcceptStudent(ctx, f.store.Interactions()[0].ID))

	require.NoError(t, me.Sync(ctx))
	require.Equal(t, types.StatusWaiting, me.Snapshot().MyStatus)
	require.NotNil(t, me.Snapshot().CurrentSpeaker, "alan is live")

	require.NoError(t, me.EndCall(ctx))
	assert.Equal(t, types.StatusIdle, me.Snapshot().MyStatus)
	assert.NotNil(t, me.Snapshot().CurrentSpeaker, "someone else's call is untouched")

	records := f.store.Interactions()
	assert.Equal(t, types.InteractionLive, records[0].Status, "alan still live")
	assert.Equal(t, types.InteractionEnded, records[1].Status)
}

func TestEndCall_LiveParticipantClearsSpeaker(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	me := f.engine(ada)
	require.NoError(t, me.RaiseHand(ctx))
	require.NoError(t, f.engine(grace).AcceptStudent(ctx, f.store.Interactions()[0].ID))
	require.NoError(t, me.Sync(ctx))
	require.Equal(t, types.StatusLive, me.Snapshot().MyStatus)

	var seen []types.MyStatus
	unsubscribe := me.Subscribe(func(s *types.Snapshot) { seen = append(seen, s.MyStatus) })
	defer unsubscribe()

	require.NoError(t, me.EndCall(ctx))
	assert.Equal(t, types.StatusIdle, me.Snapshot().MyStatus)
	assert.Nil(t, me.Snapshot().CurrentSpeaker)
	assert.NotContains(t, seen, types.StatusEnded, "live goes straight to idle")
}

func TestEndCall_WithdrawBeforeFirstPoll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	me := f.engine(ada)
	require.NoError(t, me.RaiseHand(ctx))
	require.Empty(t, me.Snapshot().Queue, "no poll has run")

	require.NoError(t, me.EndCall(ctx))
	records := f.store.Interactions()
	require.Len(t, records, 1)
	assert.Equal(t, types.InteractionEnded, records[0].Status)
	assert.Equal(t, types.StatusIdle, me.Snapshot().MyStatus)

	assert.ErrorIs(t, me.EndCall(ctx), ErrNothingToEnd, "the record is only ended once")
	assert.Equal(t, 1, f.store.CallCount("UpdateInteractionStatus"))
}

func TestEndCall_NothingToEnd(t *testing.T) {
	f := newFixture()
	assert.ErrorIs(t, f.engine(ada).EndCall(context.Background()), ErrNothingToEnd)
	assert.ErrorIs(t, f.engine(grace).EndCall(context.Background()), ErrNothingToEnd)
	assert.Equal(t, 0, f.store.CallCount("UpdateInteractionStatus"))
}

func TestEndCall_ArbiterEndsCurrentSpeaker(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.engine(ada).RaiseHand(ctx))
	teacher := f.engine(grace)
	require.NoError(t, teacher.AcceptStudent(ctx, f.store.Interactions()[0].ID))
	require.NoError(t, teacher.Sync(ctx))

	require.NoError(t, teacher.EndCall(ctx))
	assert.Nil(t, teacher.Snapshot().CurrentSpeaker)
	assert.Equal(t, types.InteractionEnded, f.store.Interactions()[0].Status)

	// the student's next poll observes it and falls back to idle
	student := f.engine(ada)
	student.container.SetStatus(types.StatusLive)
	require.NoError(t, student.Sync(ctx))
	assert.Equal(t, types.StatusIdle, student.Snapshot().MyStatus)
}

func TestEndCall_WriteFailureKeepsState(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	me := f.engine(ada)
	require.NoError(t, me.RaiseHand(ctx))
	require.NoError(t, me.Sync(ctx))

	f.store.Configure(func(s *storetest.Fake) { s.UpdateErr = errors.New("timeout") })
	assert.Error(t, me.EndCall(ctx))
	assert.Equal(t, types.StatusWaiting, me.Snapshot().MyStatus)
}

func TestLowerAllHands(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.engine(ada).RaiseHand(ctx))
	require.NoError(t, f.engine(alan).RaiseHand(ctx))

	assert.ErrorIs(t, f.engine(ada).LowerAllHands(ctx), ErrNotArbiter)

	teacher := f.engine(grace)
	require.NoError(t, teacher.LowerAllHands(ctx))
	assert.Equal(t, 1, f.store.CallCount("BulkEndWaiting"), "one bulk call, not one per record")
	for _, r := range f.store.Interactions() {
		assert.Equal(t, types.InteractionEnded, r.Status)
	}
}

func TestSendMessage_OptimisticSuccess(t *testing.T) {
	f := newFixture()
	gate := make(chan struct{})
	f.store.SetGate(gate)
	e := f.engine(ada)

	done := make(chan error, 1)
	go func() {
		_, err := e.SendMessage(context.Background(), "hi", false)
		done <- err
	}()

	require.Eventually(t, func() bool { return len(e.Snapshot().Messages) == 1 }, time.Second, time.Millisecond)
	pending := e.Snapshot().Messages[0]
	assert.Equal(t, types.DeliveryPending, pending.DeliveryStatus)
	assert.True(t, strings.HasPrefix(pending.ID, localIDPrefix))

	close(gate)
	require.NoError(t, <-done)
	msgs := e.Snapshot().Messages
	require.Len(t, msgs, 1, "no duplicate entry")
	assert.Equal(t, pending.ID, msgs[0].ID)
	assert.Equal(t, types.DeliverySent, msgs[0].DeliveryStatus)

	stored := f.store.Messages()
	require.Len(t, stored, 1)
	assert.NotEqual(t, pending.ID, stored[0].ID, "store assigns its own id")
	assert.Equal(t, "hi", stored[0].Body)
	assert.Equal(t, types.RoleStudent, stored[0].AuthorRole)
}

func TestSendMessage_FailureMarksFailed(t *testing.T) {
	f := newFixture()
	f.store.InsertMessageErr = errors.New("offline")
	e := f.engine(ada)

	msg, err := e.SendMessage(context.Background(), "hi", true)
	assert.Error(t, err)
	assert.Equal(t, types.DeliveryFailed, msg.DeliveryStatus)

	msgs := e.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, types.DeliveryFailed, msgs[0].DeliveryStatus)
	assert.True(t, msgs[0].IsQuestion)
	assert.Equal(t, 1, f.store.CallCount("InsertMessage"), "no automatic retry")
}

func TestSendMessage_Debounce(t *testing.T) {
	f := newFixture()
	e := f.engine(ada)
	ctx := context.Background()

	_, err := e.SendMessage(ctx, "one", false)
	require.NoError(t, err)

	f.clock.Advance(200 * time.Millisecond)
	_, err = e.SendMessage(ctx, "two", false)
	assert.ErrorIs(t, err, ErrSendTooSoon)
	assert.Len(t, e.Snapshot().Messages, 1)

	f.clock.Advance(300 * time.Millisecond)
	_, err = e.SendMessage(ctx, "three", false)
	require.NoError(t, err)
	assert.Len(t, e.Snapshot().Messages, 2)
}

func TestSendMessage_FailedSendDoesNotHoldOffRetry(t *testing.T) {
	f := newFixture()
	f.store.InsertMessageErr = errors.New("offline")
	e := f.engine(ada)
	ctx := context.Background()

	_, err := e.SendMessage(ctx, "one", false)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSendTooSoon)

	f.store.Configure(func(s *storetest.Fake) { s.InsertMessageErr = nil })
	f.clock.Advance(100 * time.Millisecond)
	_, err = e.SendMessage(ctx, "one", false)
	require.NoError(t, err)

	// the successful send starts the window again
	f.clock.Advance(100 * time.Millisecond)
	_, err = e.SendMessage(ctx, "two", false)
	assert.ErrorIs(t, err, ErrSendTooSoon)
	assert.Len(t, f.store.Messages(), 1)
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture()
	e := f.engine(ada)
	_, err := e.SendMessage(context.Background(), "   ", false)
	assert.ErrorIs(t, err, types.ErrEmptyMessage)

	_, err = e.SendMessage(context.Background(), strings.Repeat("x", types.MaxMessageLength+1), false)
	assert.ErrorIs(t, err, types.ErrMessageTooLong)

	_, err = f.engine(nil).SendMessage(context.Background(), "hi", false)
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.Empty(t, e.Snapshot().Messages)
}

func TestSendMessage_ServerEchoIsSeparateEntry(t *testing.T) {
	f := newFixture()
	e := f.engine(ada)
	ctx := context.Background()

	require.NoError(t, e.Sync(ctx)) // cold start on an empty room
	_, err := e.SendMessage(ctx, "hi", false)
	require.NoError(t, err)

	require.NoError(t, e.Sync(ctx))
	for e.container.Buffered() > 0 {
		e.pacer.Step()
	}
	msgs := e.Snapshot().Messages
	require.Len(t, msgs, 2, "local and stored copies are not reconciled")
	assert.Equal(t, msgs[0].Body, msgs[1].Body)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func TestEngine_StartStop(t *testing.T) {
	f := newFixture()
	f.store.SeedMessages(types.ChatMessage{ID: "m1", Body: "hello", CreatedAt: base})
	e := New(f.store, interfaces.StaticIdentity(ada))
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	assert.ErrorIs(t, e.Start(ctx), ErrAlreadyRunning)
	assert.Eventually(t, func() bool { return len(e.Snapshot().Messages) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop())
	assert.ErrorIs(t, e.Stop(), ErrNotRunning)
	assert.Empty(t, e.Snapshot().Messages, "teardown resets the snapshot")
}

func TestEngine_SyncAfterStopIsRejected(t *testing.T) {
	f := newFixture()
	f.store.SeedMessages(types.ChatMessage{ID: "m1", Body: "hello", CreatedAt: base})
	e := New(f.store, interfaces.StaticIdentity(ada))
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Stop())

	assert.ErrorIs(t, e.Sync(ctx), ErrNotRunning)
	assert.Empty(t, e.Snapshot().Messages)

	// a restart lifts the guard
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Stop() }()
	require.NoError(t, e.Sync(ctx))
	assert.Len(t, e.Snapshot().Messages, 1)
}

func TestEngine_StopDiscardsInFlightSync(t *testing.T) {
	f := newFixture()
	f.store.SeedMessages(types.ChatMessage{ID: "m1", Body: "hello", CreatedAt: base})
	f.store.SetGate(make(chan struct{}))
	e := New(f.store, interfaces.StaticIdentity(ada))
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- e.Sync(ctx) }()
	require.Eventually(t, func() bool {
		return f.store.CallCount("ListRecentMessages") >= 2
	}, time.Second, time.Millisecond, "both the poll loop and Sync are blocked in the store")

	require.NoError(t, e.Stop())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sync did not return after stop")
	}
	assert.Empty(t, e.Snapshot().Messages)
}

func TestEngine_PacerRevealsBurst(t *testing.T) {
	f := newFixture()
	e := New(f.store, interfaces.StaticIdentity(ada), WithConfig(Config{
		Display: defaultDisplayFast(),
	}))
	ctx := context.Background()
	require.NoError(t, e.Sync(ctx))

	for i := 0; i < 20; i++ {
		f.store.SeedMessages(types.ChatMessage{ID: "m" + string(rune('a'+i)), CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	require.NoError(t, e.Sync(ctx))
	assert.Empty(t, e.Snapshot().Messages)

	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Stop() }()
	assert.Eventually(t, func() bool { return len(e.Snapshot().Messages) == 20 }, 2*time.Second, 5*time.Millisecond)
}

func defaultDisplayFast() pacer.Config {
	return pacer.Config{ChunkSize: 3, FrameInterval: time.Millisecond}
}

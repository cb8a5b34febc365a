package engine

import (
	"context"
	"fmt"

	"liveroom/pkg/types"
)

// RaiseHand queues the current user to speak. Only allowed from idle; the
// status flips to waiting before the write and reverts if the write fails.
func (e *Engine) RaiseHand(ctx context.Context) error {
	user := e.identity.CurrentUser()
	if user == nil {
		return ErrNotSignedIn
	}
	if !e.container.CompareAndSetStatus(types.StatusIdle, types.StatusWaiting) {
		return ErrAlreadyQueued
	}

	record := &types.InteractionRecord{
		ParticipantID: user.ID,
		DisplayName:   user.DisplayName,
		Status:        types.InteractionWaiting,
	}
	if err := e.store.InsertInteraction(ctx, record); err != nil {
		// a poll may already have moved us on; only undo our own flip
		e.container.CompareAndSetStatus(types.StatusWaiting, types.StatusIdle)
		e.log.Warn("raise hand failed", "user", user.ID, "error", err)
		return fmt.Errorf("raise hand: %w", err)
	}
	e.setRaised(record)
	e.log.Debug("hand raised", "user", user.ID, "interaction", record.ID)
	return nil
}

// AcceptStudent promotes a waiting record to live. The store rejects the
// write with types.ErrSpeakerAlreadyLive while someone else is live.
func (e *Engine) AcceptStudent(ctx context.Context, interactionID string) error {
	user := e.identity.CurrentUser()
	if user == nil {
		return ErrNotSignedIn
	}
	if !user.IsArbiter() {
		return ErrNotArbiter
	}
	if err := e.store.UpdateInteractionStatus(ctx, interactionID, types.InteractionLive); err != nil {
		return fmt.Errorf("accept %s: %w", interactionID, err)
	}
	e.log.Info("speaker accepted", "interaction", interactionID, "by", user.ID)
	return nil
}

// EndCall ends the current speaker when called by an arbiter, otherwise the
// caller's own waiting or live request. Other participants' records are
// never touched by a non-arbiter.
func (e *Engine) EndCall(ctx context.Context) error {
	user := e.identity.CurrentUser()
	if user == nil {
		return ErrNotSignedIn
	}
	snap := e.container.Snapshot()

	var target types.InteractionRecord
	switch {
	case user.IsArbiter():
		if snap.CurrentSpeaker == nil {
			return ErrNothingToEnd
		}
		target = *snap.CurrentSpeaker
	default:
		own, ok := ownRecord(snap, user.ID)
		if !ok {
			own, ok = e.unpolledRecord(snap, user.ID)
		}
		if !ok {
			return ErrNothingToEnd
		}
		target = own
	}

	if err := e.store.UpdateInteractionStatus(ctx, target.ID, types.InteractionEnded); err != nil {
		return fmt.Errorf("end %s: %w", target.ID, err)
	}

	if cur := e.container.Snapshot().CurrentSpeaker; cur != nil && cur.ID == target.ID {
		e.container.SetCurrentSpeaker(nil)
	}
	if target.ParticipantID == user.ID {
		e.container.SetStatus(types.StatusIdle)
	}
	if r, ok := e.raisedRecord(); ok && r.ID == target.ID {
		e.setRaised(nil)
	}
	e.log.Info("call ended", "interaction", target.ID, "by", user.ID)
	return nil
}

// LowerAllHands ends every waiting request in a single store call.
func (e *Engine) LowerAllHands(ctx context.Context) error {
	user := e.identity.CurrentUser()
	if user == nil {
		return ErrNotSignedIn
	}
	if !user.IsArbiter() {
		return ErrNotArbiter
	}
	if err := e.store.BulkEndWaiting(ctx); err != nil {
		return fmt.Errorf("lower all hands: %w", err)
	}
	e.log.Info("all hands lowered", "by", user.ID)
	return nil
}

// ownRecord finds the user's record matching their derived status.
func ownRecord(snap *types.Snapshot, userID string) (types.InteractionRecord, bool) {
	var want types.InteractionStatus
	switch snap.MyStatus {
	case types.StatusWaiting:
		want = types.InteractionWaiting
	case types.StatusLive:
		want = types.InteractionLive
	default:
		return types.InteractionRecord{}, false
	}
	for _, r := range snap.Queue {
		if r.ParticipantID == userID && r.Status == want {
			return r, true
		}
	}
	return types.InteractionRecord{}, false
}

// unpolledRecord falls back to the record RaiseHand inserted when no poll
// has listed it yet. A status of idle means it is already gone.
func (e *Engine) unpolledRecord(snap *types.Snapshot, userID string) (types.InteractionRecord, bool) {
	if snap.MyStatus != types.StatusWaiting && snap.MyStatus != types.StatusLive {
		return types.InteractionRecord{}, false
	}
	r, ok := e.raisedRecord()
	if !ok || r.ParticipantID != userID || r.ID == "" {
		return types.InteractionRecord{}, false
	}
	return r, true
}

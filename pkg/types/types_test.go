package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInteractionRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		record  InteractionRecord
		wantErr error
	}{
		{
			name:    "valid record defaults to waiting",
			record:  InteractionRecord{ParticipantID: "student_1", DisplayName: "Ada"},
			wantErr: nil,
		},
		{
			name:    "invalid participant",
			record:  InteractionRecord{ParticipantID: "bad id!", DisplayName: "Ada"},
			wantErr: ErrInvalidUserID,
		},
		{
			name:    "blank display name",
			record:  InteractionRecord{ParticipantID: "student_1", DisplayName: "   "},
			wantErr: ErrInvalidDisplayName,
		},
		{
			name:    "display name too long",
			record:  InteractionRecord{ParticipantID: "student_1", DisplayName: strings.Repeat("a", 101)},
			wantErr: ErrInvalidDisplayName,
		},
		{
			name:    "cannot insert live",
			record:  InteractionRecord{ParticipantID: "student_1", DisplayName: "Ada", Status: InteractionLive},
			wantErr: ErrInvalidStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == nil {
				assert.Equal(t, InteractionWaiting, tt.record.Status)
			}
		})
	}
}

func TestChatMessage_Validate(t *testing.T) {
	valid := ChatMessage{AuthorID: "t1", AuthorName: "Grace", AuthorRole: RoleTeacher, Body: "hello"}
	assert.NoError(t, valid.Validate())

	noRole := valid
	noRole.AuthorRole = "guest"
	assert.ErrorIs(t, noRole.Validate(), ErrInvalidRole)

	blank := valid
	blank.Body = " \n\t "
	assert.ErrorIs(t, blank.Validate(), ErrEmptyMessage)

	long := valid
	long.Body = strings.Repeat("é", MaxMessageLength+1)
	assert.ErrorIs(t, long.Validate(), ErrMessageTooLong)

	exact := valid
	exact.Body = strings.Repeat("é", MaxMessageLength)
	assert.NoError(t, exact.Validate())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(InteractionWaiting, InteractionLive))
	assert.True(t, CanTransition(InteractionWaiting, InteractionEnded))
	assert.True(t, CanTransition(InteractionLive, InteractionEnded))

	assert.False(t, CanTransition(InteractionLive, InteractionLive))
	assert.False(t, CanTransition(InteractionEnded, InteractionLive))
	assert.False(t, CanTransition(InteractionEnded, InteractionEnded))
	assert.False(t, CanTransition(InteractionLive, InteractionWaiting))
}

func TestInteractionRecord_Equal(t *testing.T) {
	now := time.Now()
	a := InteractionRecord{ID: "1", ParticipantID: "s1", DisplayName: "Ada", Status: InteractionWaiting, CreatedAt: now}
	b := a
	b.CreatedAt = now.UTC()
	assert.True(t, a.Equal(b), "same instant in another location is equal")

	b.Status = InteractionLive
	assert.False(t, a.Equal(b))
}

func TestRole_IsArbiter(t *testing.T) {
	assert.True(t, RoleTeacher.IsArbiter())
	assert.True(t, RoleAdmin.IsArbiter())
	assert.False(t, RoleStudent.IsArbiter())

	var nobody *User
	assert.False(t, nobody.IsArbiter())
	assert.True(t, (&User{ID: "t", Role: RoleAdmin}).IsArbiter())
}

func TestEmptySnapshot(t *testing.T) {
	s := EmptySnapshot()
	assert.Equal(t, StatusIdle, s.MyStatus)
	assert.Empty(t, s.Queue)
	assert.Empty(t, s.Messages)
	assert.Nil(t, s.CurrentSpeaker)
}

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivechat/callbridge/pkg/call"
	"github.com/hivechat/callbridge/pkg/callerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{
		DBPath:         filepath.Join(t.TempDir(), "calls.db"),
		EnableWAL:      true,
		ConnectionPool: 10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createRinging(t *testing.T, s *Store, callID, roomID, initiatorID string, createdAt time.Time) {
	t.Helper()
	err := s.CreateSession(context.Background(),
		&call.Session{
			CallID:      callID,
			RoomID:      roomID,
			Kind:        call.KindVoice,
			Status:      call.StatusRinging,
			InitiatorID: initiatorID,
			CreatedAt:   createdAt,
		},
		&call.Participant{
			CallID:       callID,
			UserID:       initiatorID,
			Status:       call.ParticipantJoined,
			AudioEnabled: true,
			VideoEnabled: true,
			JoinedAt:     &createdAt,
		},
		&call.Event{
			CallID:    callID,
			UserID:    initiatorID,
			Type:      call.EventInitiated,
			CreatedAt: createdAt,
		})
	require.NoError(t, err)
}

// TestCreateAndGetSession tests that one transaction produces the session,
// the initiator participant and the initiated event
func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	createRinging(t, s, "c1", "room-1", "alice", now)

	sess, err := s.GetSession(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", sess.CallID)
	assert.Equal(t, "room-1", sess.RoomID)
	assert.Equal(t, call.KindVoice, sess.Kind)
	assert.Equal(t, call.StatusRinging, sess.Status)
	assert.Equal(t, "alice", sess.InitiatorID)
	assert.Nil(t, sess.StartedAt)
	assert.Nil(t, sess.EndedAt)

	participants, err := s.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, "alice", participants[0].UserID)
	assert.Equal(t, call.ParticipantJoined, participants[0].Status)
	require.NotNil(t, participants[0].JoinedAt)

	events, err := s.ListEvents(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, call.EventInitiated, events[0].Type)
	assert.Equal(t, "alice", events[0].UserID)
}

// TestGetSessionNotFound tests the not-found classification
func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "nope")
	assert.True(t, callerr.IsKind(err, callerr.KindNotFound))

	_, err = s.SessionStatus(context.Background(), "nope")
	assert.True(t, callerr.IsKind(err, callerr.KindNotFound))
}

// TestAnswerSession tests the ringing-to-active transition
func TestAnswerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRinging(t, s, "c1", "room-1", "alice", time.Now())

	sess, err := s.AnswerSession(ctx, "c1", "bob", time.Now())
	require.NoError(t, err)
	assert.Equal(t, call.StatusActive, sess.Status)
	require.NotNil(t, sess.StartedAt)

	participants, err := s.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, participants, 2)

	events, err := s.ListEvents(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, call.EventAnswered, events[1].Type)
	assert.Equal(t, "bob", events[1].UserID)
}

// TestAnswerSessionNotFound tests answering an unknown call
func TestAnswerSessionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AnswerSession(context.Background(), "nope", "bob", time.Now())
	assert.True(t, callerr.IsKind(err, callerr.KindNotFound))
}

// TestAnswerSessionAlreadyActive tests the losing side of the transition
func TestAnswerSessionAlreadyActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRinging(t, s, "c1", "room-1", "alice", time.Now())

	_, err := s.AnswerSession(ctx, "c1", "bob", time.Now())
	require.NoError(t, err)

	_, err = s.AnswerSession(ctx, "c1", "carol", time.Now())
	assert.True(t, callerr.IsKind(err, callerr.KindInvalidState))
	assert.Equal(t, callerr.CodeNotRinging, callerr.CodeOf(err))
}

// TestAnswerSessionRace tests that of many concurrent answers exactly one
// wins
func TestAnswerSessionRace(t *testing.T) {
	// Losers must see an invalid-state error, never SQLITE_BUSY. The busy
	// timeout lives in the DSN so every pooled connection waits for the
	// write lock; run both journal modes to cover both paths.
	for _, enableWAL := range []bool{true, false} {
		name := "wal"
		if !enableWAL {
			name = "rollback"
		}
		t.Run(name, func(t *testing.T) {
			s, err := New(context.Background(), Config{
				DBPath:         filepath.Join(t.TempDir(), "calls.db"),
				EnableWAL:      enableWAL,
				ConnectionPool: 10,
			})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })

			ctx := context.Background()
			const racers = 8
			const rounds = 20

			for round := 0; round < rounds; round++ {
				callID := fmt.Sprintf("race-%d", round)
				createRinging(t, s, callID, "room-1", "alice", time.Now())

				var wg sync.WaitGroup
				results := make(chan error, racers)
				for i := 0; i < racers; i++ {
					wg.Add(1)
					go func(n int) {
						defer wg.Done()
						_, err := s.AnswerSession(ctx, callID, "user-"+string(rune('a'+n)), time.Now())
						results <- err
					}(i)
				}
				wg.Wait()
				close(results)

				wins, losses := 0, 0
				for err := range results {
					if err == nil {
						wins++
					} else {
						require.Truef(t, callerr.IsKind(err, callerr.KindInvalidState),
							"round %d: loser got %v, want invalid_state", round, err)
						losses++
					}
				}
				assert.Equal(t, 1, wins, "exactly one answer should win")
				assert.Equal(t, racers-1, losses)
			}
		})
	}
}

// TestRejectSession tests the basic reject path
func TestRejectSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRinging(t, s, "c1", "room-1", "alice", time.Now())

	sess, err := s.RejectSession(ctx, "c1", "bob", time.Now())
	require.NoError(t, err)
	assert.Equal(t, call.StatusRejected, sess.Status)
	require.NotNil(t, sess.EndedAt)

	participants, err := s.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	for _, p := range participants {
		if p.UserID == "bob" {
			assert.Equal(t, call.ParticipantRejected, p.Status)
		}
	}
}

// TestRejectOverwritesActive tests that reject carries no status
// precondition: a late reject lands even on an active call
func TestRejectOverwritesActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRinging(t, s, "c1", "room-1", "alice", time.Now())

	_, err := s.AnswerSession(ctx, "c1", "bob", time.Now())
	require.NoError(t, err)

	sess, err := s.RejectSession(ctx, "c1", "carol", time.Now())
	require.NoError(t, err)
	assert.Equal(t, call.StatusRejected, sess.Status)
}

// TestEndSession tests end plus the joined-to-left sweep over participants
func TestEndSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRinging(t, s, "c1", "room-1", "alice", time.Now())
	_, err := s.AnswerSession(ctx, "c1", "bob", time.Now())
	require.NoError(t, err)

	sess, err := s.EndSession(ctx, "c1", "alice", time.Now())
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, sess.Status)
	require.NotNil(t, sess.EndedAt)

	participants, err := s.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	for _, p := range participants {
		assert.Equal(t, call.ParticipantLeft, p.Status, "participant %s", p.UserID)
		assert.NotNil(t, p.LeftAt)
	}
}

// TestEndSessionIdempotent tests that re-ending an ended call succeeds
func TestEndSessionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRinging(t, s, "c1", "room-1", "alice", time.Now())

	_, err := s.EndSession(ctx, "c1", "alice", time.Now())
	require.NoError(t, err)

	sess, err := s.EndSession(ctx, "c1", "alice", time.Now())
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, sess.Status)
}

// TestSetParticipantMedia tests flag updates and the append-only toggle log
func TestSetParticipantMedia(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRinging(t, s, "c1", "room-1", "alice", time.Now())

	p, err := s.SetParticipantMedia(ctx, "c1", "alice", call.MediaAudio, false, time.Now())
	require.NoError(t, err)
	assert.False(t, p.AudioEnabled)
	assert.True(t, p.VideoEnabled)

	// Same value again: flag unchanged, but a second event appends
	p, err = s.SetParticipantMedia(ctx, "c1", "alice", call.MediaAudio, false, time.Now())
	require.NoError(t, err)
	assert.False(t, p.AudioEnabled)

	events, err := s.ListEvents(ctx, "c1")
	require.NoError(t, err)

	var toggles []call.Event
	for _, ev := range events {
		if ev.Type == call.EventAudioToggled {
			toggles = append(toggles, ev)
		}
	}
	require.Len(t, toggles, 2)
	for _, ev := range toggles {
		assert.Equal(t, false, ev.Metadata["enabled"])
	}
}

// TestSetParticipantMediaUnknown tests toggling for a non-participant
func TestSetParticipantMediaUnknown(t *testing.T) {
	s := newTestStore(t)
	createRinging(t, s, "c1", "room-1", "alice", time.Now())

	_, err := s.SetParticipantMedia(context.Background(), "c1", "mallory", call.MediaVideo, false, time.Now())
	assert.True(t, callerr.IsKind(err, callerr.KindNotFound))
	assert.Equal(t, callerr.CodeParticipantNotFound, callerr.CodeOf(err))
}

// TestUpsertInvited tests that repeated invites never duplicate rows and
// never demote a joined participant
func TestUpsertInvited(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRinging(t, s, "c1", "room-1", "alice", time.Now())

	require.NoError(t, s.UpsertInvited(ctx, "c1", "bob"))
	require.NoError(t, s.UpsertInvited(ctx, "c1", "bob"))

	participants, err := s.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, participants, 2)

	// Answering upgrades the same row rather than adding one
	_, err = s.AnswerSession(ctx, "c1", "bob", time.Now())
	require.NoError(t, err)

	require.NoError(t, s.UpsertInvited(ctx, "c1", "bob"))

	participants, err = s.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	for _, p := range participants {
		if p.UserID == "bob" {
			assert.Equal(t, call.ParticipantJoined, p.Status)
		}
	}
}

// TestMarkParticipantLeft tests the relay disconnect path
func TestMarkParticipantLeft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRinging(t, s, "c1", "room-1", "alice", time.Now())

	require.NoError(t, s.MarkParticipantLeft(ctx, "c1", "alice", time.Now()))

	participants, err := s.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, call.ParticipantLeft, participants[0].Status)

	events, err := s.ListEvents(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, call.EventUserLeft, events[len(events)-1].Type)
}

// TestListPendingForUser tests the polling fallback query
func TestListPendingForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Fresh ringing call where bob is invited
	createRinging(t, s, "c1", "room-1", "alice", now)
	require.NoError(t, s.UpsertInvited(ctx, "c1", "bob"))

	// Stale ringing call outside the window
	createRinging(t, s, "c2", "room-1", "alice", now.Add(-10*time.Minute))
	require.NoError(t, s.UpsertInvited(ctx, "c2", "bob"))

	// Answered call: no longer pending
	createRinging(t, s, "c3", "room-2", "alice", now)
	require.NoError(t, s.UpsertInvited(ctx, "c3", "bob"))
	_, err := s.AnswerSession(ctx, "c3", "bob", now)
	require.NoError(t, err)

	cutoff := now.Add(-90 * time.Second)

	pending, err := s.ListPendingForUser(ctx, "bob", cutoff)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].CallID)

	// The initiator never sees their own call as pending
	pending, err = s.ListPendingForUser(ctx, "alice", cutoff)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestListRoomHistory tests newest-first ordering and the limit
func TestListRoomHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		createRinging(t, s, "c"+string(rune('1'+i)), "room-1", "alice", base.Add(time.Duration(i)*time.Minute))
	}
	createRinging(t, s, "other", "room-2", "alice", base)

	history, err := s.ListRoomHistory(ctx, "room-1", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "c5", history[0].CallID)
	assert.Equal(t, "c4", history[1].CallID)
	assert.Equal(t, "c3", history[2].CallID)

	// Zero limit falls back to the default
	history, err = s.ListRoomHistory(ctx, "room-1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

// TestMarkMissedBefore tests the ring-timeout sweep
func TestMarkMissedBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	createRinging(t, s, "stale", "room-1", "alice", now.Add(-5*time.Minute))
	createRinging(t, s, "fresh", "room-1", "alice", now)

	// An active call older than the cutoff is left alone
	createRinging(t, s, "active", "room-2", "alice", now.Add(-5*time.Minute))
	_, err := s.AnswerSession(ctx, "active", "bob", now.Add(-4*time.Minute))
	require.NoError(t, err)

	missed, err := s.MarkMissedBefore(ctx, now.Add(-90*time.Second), now)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, "stale", missed[0].CallID)

	status, err := s.SessionStatus(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, call.StatusMissed, status)

	status, err = s.SessionStatus(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, call.StatusRinging, status)

	status, err = s.SessionStatus(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, call.StatusActive, status)

	events, err := s.ListEvents(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, call.EventMissed, events[len(events)-1].Type)

	// Nothing left to sweep
	missed, err = s.MarkMissedBefore(ctx, now.Add(-90*time.Second), now)
	require.NoError(t, err)
	assert.Empty(t, missed)
}

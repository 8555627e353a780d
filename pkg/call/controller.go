package call

import (
	"context"
	"time"

	"github.com/hivechat/callbridge/pkg/callerr"
	"github.com/hivechat/callbridge/pkg/ice"
	"github.com/hivechat/callbridge/pkg/logger"
	"github.com/hivechat/callbridge/pkg/rooms"
)

// Store is the durable persistence the controller drives. Each method is
// one transaction; a returned error means the transaction rolled back.
type Store interface {
	CreateSession(ctx context.Context, sess *Session, initiator *Participant, ev *Event) error
	AnswerSession(ctx context.Context, callID, userID string, now time.Time) (*Session, error)
	RejectSession(ctx context.Context, callID, userID string, now time.Time) (*Session, error)
	EndSession(ctx context.Context, callID, userID string, now time.Time) (*Session, error)
	SetParticipantMedia(ctx context.Context, callID, userID string, kind MediaKind, enabled bool, now time.Time) (*Participant, error)
	GetSession(ctx context.Context, callID string) (*Session, error)
	ListParticipants(ctx context.Context, callID string) ([]Participant, error)
	ListPendingForUser(ctx context.Context, userID string, cutoff time.Time) ([]Session, error)
	ListRoomHistory(ctx context.Context, roomID string, limit int) ([]Session, error)
	MarkMissedBefore(ctx context.Context, cutoff, now time.Time) ([]Session, error)
}

// Notifier is the real-time side the controller triggers after commits.
// Every method is fire-and-forget; notification failure never fails the
// lifecycle operation that triggered it.
type Notifier interface {
	NotifyIncomingCall(roomID, callID string, kind Kind, initiatorID, displayName, credential string)
	NotifyCallAnswered(callID, initiatorID, answeredBy string)
	NotifyCallRejected(callID, initiatorID, rejectedBy string)
	NotifyCallEnded(callID, roomID, endedBy string)
	NotifyCallMissed(callID string)
	NotifyMediaToggled(callID, userID string, kind MediaKind, enabled bool)
}

// Config holds controller configuration
type Config struct {
	// RingWindow is how long an unanswered call keeps ringing. It bounds
	// both the pending-call polling fallback and the sweeper's
	// timeout-to-missed transition.
	RingWindow time.Duration
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() Config {
	return Config{
		RingWindow: 90 * time.Second,
	}
}

// Controller exposes the call lifecycle operations and enforces the state
// machine
type Controller struct {
	config   Config
	store    Store
	notifier Notifier
	chat     rooms.ChatNotifier
	iceProv  *ice.Provider
	log      *logger.Logger
}

// NewController creates a controller. The chat notifier may be nil; the
// best-effort call-started room announcement is then skipped.
func NewController(config Config, store Store, notifier Notifier, chat rooms.ChatNotifier, iceProv *ice.Provider, log *logger.Logger) *Controller {
	if config.RingWindow <= 0 {
		config.RingWindow = 90 * time.Second
	}
	return &Controller{
		config:   config,
		store:    store,
		notifier: notifier,
		chat:     chat,
		iceProv:  iceProv,
		log:      log.WithComponent("call"),
	}
}

// InitiateRequest is the input to Initiate
type InitiateRequest struct {
	RoomID     string
	Kind       Kind
	CallerID   string
	Credential string
}

// LifecycleResult is the outcome of a state-changing lifecycle operation
type LifecycleResult struct {
	CallID     string       `json:"callId"`
	Status     Status       `json:"status"`
	ICEServers []ice.Server `json:"iceServers,omitempty"`
}

// StatusResult is the session plus all its participant rows
type StatusResult struct {
	Session      *Session      `json:"session"`
	Participants []Participant `json:"participants"`
}

// PendingResult is the polling fallback response for missed live
// notifications
type PendingResult struct {
	Calls      []Session    `json:"calls"`
	ICEServers []ice.Server `json:"iceServers"`
}

// Initiate creates a ringing session with the caller joined, in one
// transaction committed before any notification fires. A reconnect or
// poll path reading session status must never observe "not found" for a
// call whose notification already went out.
func (c *Controller) Initiate(ctx context.Context, req InitiateRequest) (*LifecycleResult, error) {
	if !req.Kind.Valid() {
		return nil, callerr.Validation(callerr.CodeInvalidKind, "call kind must be voice or video")
	}
	if req.RoomID == "" || req.CallerID == "" {
		return nil, callerr.Validation(callerr.CodeMissingField, "roomId and callerId are required")
	}

	now := time.Now()
	sess := &Session{
		CallID:      NewCallID(),
		RoomID:      req.RoomID,
		Kind:        req.Kind,
		Status:      StatusRinging,
		InitiatorID: req.CallerID,
		CreatedAt:   now,
	}
	joined := now
	initiator := &Participant{
		CallID:       sess.CallID,
		UserID:       req.CallerID,
		Status:       ParticipantJoined,
		AudioEnabled: true,
		VideoEnabled: true,
		JoinedAt:     &joined,
	}
	ev := &Event{
		CallID:    sess.CallID,
		UserID:    req.CallerID,
		Type:      EventInitiated,
		Metadata:  map[string]any{"callKind": req.Kind},
		CreatedAt: now,
	}

	if err := c.store.CreateSession(ctx, sess, initiator, ev); err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(StatusRinging)).Inc()
	c.log.Info("call initiated", "call_id", sess.CallID, "room_id", req.RoomID, "kind", req.Kind, "caller_id", req.CallerID)

	// Committed; everything below is best-effort
	if c.chat != nil {
		if err := c.chat.PushEvent(ctx, req.RoomID, "call-started", map[string]any{
			"callId":   sess.CallID,
			"callKind": req.Kind,
			"callerId": req.CallerID,
		}); err != nil {
			c.log.Warn("call-started chat push failed", "call_id", sess.CallID, "error", err)
		}
	}
	c.notifier.NotifyIncomingCall(req.RoomID, sess.CallID, req.Kind, req.CallerID, "", req.Credential)

	return &LifecycleResult{
		CallID:     sess.CallID,
		Status:     StatusRinging,
		ICEServers: c.iceProv.ServersFor(sess.CallID),
	}, nil
}

// Answer performs the winning ringing->active transition. Exactly one of
// two concurrent answers succeeds; the loser gets InvalidState and
// mutates nothing.
func (c *Controller) Answer(ctx context.Context, callID, userID string) (*LifecycleResult, error) {
	if callID == "" || userID == "" {
		return nil, callerr.Validation(callerr.CodeMissingField, "callId and userId are required")
	}

	sess, err := c.store.AnswerSession(ctx, callID, userID, time.Now())
	if err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(StatusActive)).Inc()
	c.log.Info("call answered", "call_id", callID, "user_id", userID)

	c.notifier.NotifyCallAnswered(callID, sess.InitiatorID, userID)

	return &LifecycleResult{
		CallID:     callID,
		Status:     sess.Status,
		ICEServers: c.iceProv.ServersFor(callID),
	}, nil
}

// Reject transitions the session to rejected and notifies the initiator.
// There is no check that the session is still ringing; a late reject from
// another callee overwrites whatever status the call reached.
func (c *Controller) Reject(ctx context.Context, callID, userID string) (*LifecycleResult, error) {
	if callID == "" || userID == "" {
		return nil, callerr.Validation(callerr.CodeMissingField, "callId and userId are required")
	}

	sess, err := c.store.RejectSession(ctx, callID, userID, time.Now())
	if err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(StatusRejected)).Inc()
	c.log.Info("call rejected", "call_id", callID, "user_id", userID)

	c.notifier.NotifyCallRejected(callID, sess.InitiatorID, userID)

	return &LifecycleResult{CallID: callID, Status: sess.Status}, nil
}

// End transitions the session to ended, marks every joined participant
// left, and notifies everyone attached to the call room. Idempotent in
// effect: re-ending re-applies harmless updates.
func (c *Controller) End(ctx context.Context, callID, userID string) (*LifecycleResult, error) {
	if callID == "" || userID == "" {
		return nil, callerr.Validation(callerr.CodeMissingField, "callId and userId are required")
	}

	sess, err := c.store.EndSession(ctx, callID, userID, time.Now())
	if err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(StatusEnded)).Inc()
	c.log.Info("call ended", "call_id", callID, "user_id", userID)

	c.notifier.NotifyCallEnded(callID, sess.RoomID, userID)

	return &LifecycleResult{CallID: callID, Status: sess.Status}, nil
}

// ToggleMedia updates one media flag on the participant row, appends the
// toggle event and broadcasts the change. No session-status precondition
// is enforced; the append-only log records every toggle, repeated or not.
func (c *Controller) ToggleMedia(ctx context.Context, callID, userID string, kind MediaKind, enabled bool) (*Participant, error) {
	if callID == "" || userID == "" {
		return nil, callerr.Validation(callerr.CodeMissingField, "callId and userId are required")
	}
	if !kind.Valid() {
		return nil, callerr.Validation(callerr.CodeInvalidKind, "media kind must be audio or video")
	}

	p, err := c.store.SetParticipantMedia(ctx, callID, userID, kind, enabled, time.Now())
	if err != nil {
		return nil, err
	}

	c.notifier.NotifyMediaToggled(callID, userID, kind, enabled)
	return p, nil
}

// Status returns the session row plus all participant rows
func (c *Controller) Status(ctx context.Context, callID string) (*StatusResult, error) {
	sess, err := c.store.GetSession(ctx, callID)
	if err != nil {
		return nil, err
	}
	participants, err := c.store.ListParticipants(ctx, callID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{Session: sess, Participants: participants}, nil
}

// PendingForUser returns ringing calls younger than the ring window where
// the user is invited and not the initiator. Clients poll this after
// reconnecting in case they missed the live notification.
func (c *Controller) PendingForUser(ctx context.Context, userID string) (*PendingResult, error) {
	if userID == "" {
		return nil, callerr.Validation(callerr.CodeMissingField, "userId is required")
	}

	cutoff := time.Now().Add(-c.config.RingWindow)
	calls, err := c.store.ListPendingForUser(ctx, userID, cutoff)
	if err != nil {
		return nil, err
	}
	return &PendingResult{
		Calls:      calls,
		ICEServers: c.iceProv.ServersFor(""),
	}, nil
}

// History returns the most recent sessions for a room, newest first
func (c *Controller) History(ctx context.Context, roomID string, limit int) ([]Session, error) {
	if roomID == "" {
		return nil, callerr.Validation(callerr.CodeMissingField, "roomId is required")
	}
	return c.store.ListRoomHistory(ctx, roomID, limit)
}

// Package relay implements the real-time signaling side of the call
// bridge: the connection registry, per-call signaling rooms, targeted and
// broadcast relay of handshake payloads, and deferred incoming-call
// notifications for users who were offline at call start.
//
// All registry and room state is process-local and rebuilt from nothing
// on restart. It must not be treated as authoritative across horizontally
// scaled instances without an external broadcast layer.
package relay

import (
	"context"
	"time"

	"github.com/hivechat/callbridge/pkg/call"
	"github.com/hivechat/callbridge/pkg/ice"
	"github.com/hivechat/callbridge/pkg/logger"
	"github.com/hivechat/callbridge/pkg/rooms"
)

// Store is the slice of the call session store the relay needs
type Store interface {
	SessionStatus(ctx context.Context, callID string) (call.Status, error)
	MarkParticipantLeft(ctx context.Context, callID, userID string, now time.Time) error
	UpsertInvited(ctx context.Context, callID, userID string) error
	AppendEvent(ctx context.Context, ev *call.Event) error
}

// Config holds relay configuration
type Config struct {
	// PendingTTL is the validity window of a queued incoming-call
	// notification, matching the caller's ring timeout
	PendingTTL time.Duration

	// QueueSize bounds the inbound dispatch channel
	QueueSize int

	// SweepInterval is how often expired pending notifications are
	// discarded
	SweepInterval time.Duration
}

// DefaultConfig returns the default relay configuration
func DefaultConfig() Config {
	return Config{
		PendingTTL:    90 * time.Second,
		QueueSize:     256,
		SweepInterval: 30 * time.Second,
	}
}

// Relay owns the ephemeral signaling state and fans events out to client
// connections. Every inbound operation becomes a typed message on the
// dispatch channel, consumed by a single loop: handling one event never
// blocks others behind a lock, and ordering is deterministic per arrival.
type Relay struct {
	config   Config
	store    Store
	resolver rooms.Resolver
	chat     rooms.ChatNotifier
	iceProv  *ice.Provider
	log      *logger.Logger

	registry *ConnectionRegistry
	rooms    *callRooms
	pending  *pendingQueue

	inbound chan message
	quit    chan struct{}
	done    chan struct{}
}

// Stats is a point-in-time snapshot of relay state
type Stats struct {
	Connections  int `json:"connections"`
	Users        int `json:"users"`
	CallRooms    int `json:"callRooms"`
	PendingDepth int `json:"pendingDepth"`
}

// Typed dispatch messages. One concrete struct per inbound operation.
type message interface{ dispatch(r *Relay) }

type msgRegister struct {
	userID string
	connID string
	sink   Sink
}

type msgUnregister struct {
	connID string
}

type msgJoinCall struct {
	callID string
	userID string
	connID string
}

type msgLeaveCall struct {
	callID string
	userID string
}

type msgSignal struct {
	sig Signal
}

type msgIncomingCall struct {
	roomID      string
	callID      string
	kind        call.Kind
	initiatorID string
	displayName string
	credential  string
}

type msgCallAnswered struct {
	callID      string
	initiatorID string
	answeredBy  string
}

type msgCallRejected struct {
	callID      string
	initiatorID string
	rejectedBy  string
}

type msgCallEnded struct {
	callID  string
	roomID  string
	endedBy string
}

type msgCallMissed struct {
	callID string
}

type msgMediaToggled struct {
	callID  string
	userID  string
	kind    call.MediaKind
	enabled bool
}

type msgSweepPending struct{}

type msgStats struct {
	reply chan Stats
}

// New creates a relay. The chat notifier may be nil; room-level call-ended
// announcements are then skipped.
func New(config Config, store Store, resolver rooms.Resolver, chat rooms.ChatNotifier, iceProv *ice.Provider, log *logger.Logger) *Relay {
	if config.PendingTTL <= 0 {
		config.PendingTTL = 90 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	return &Relay{
		config:   config,
		store:    store,
		resolver: resolver,
		chat:     chat,
		iceProv:  iceProv,
		log:      log.WithComponent("relay"),
		registry: NewConnectionRegistry(),
		rooms:    newCallRooms(),
		pending:  newPendingQueue(config.PendingTTL),
		inbound:  make(chan message, config.QueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run consumes the dispatch channel until Stop is called. Call it in its
// own goroutine.
func (r *Relay) Run() {
	defer close(r.done)
	sweep := time.NewTicker(r.config.SweepInterval)
	defer sweep.Stop()
	for {
		select {
		case <-r.quit:
			r.closeAll()
			return
		case <-sweep.C:
			msgSweepPending{}.dispatch(r)
		case msg := <-r.inbound:
			msg.dispatch(r)
		}
	}
}

// Stop shuts down the dispatch loop and closes every live connection
func (r *Relay) Stop() {
	close(r.quit)
	<-r.done
}

func (r *Relay) closeAll() {
	for connID, userID := range r.registry.byConn {
		for _, sink := range r.registry.ConnectionsFor(userID) {
			if sink.ID() == connID {
				sink.Close()
			}
		}
	}
	connectionsGauge.Set(0)
}

// enqueue places a message on the dispatch channel unless stopped
func (r *Relay) enqueue(msg message) {
	select {
	case r.inbound <- msg:
	case <-r.quit:
	}
}

// Register attaches a user's device connection. On the user's first live
// connection, still-valid pending notifications are revalidated against
// the store and redelivered.
func (r *Relay) Register(userID, connID string, sink Sink) {
	r.enqueue(msgRegister{userID: userID, connID: connID, sink: sink})
}

// Unregister detaches a connection. If it was the user's last connection
// and the user was mid-call, their participant rows are marked left and
// the rooms are told. This is the only path reacting to ungraceful
// departure.
func (r *Relay) Unregister(connID string) {
	r.enqueue(msgUnregister{connID: connID})
}

// JoinCall adds a user to a call's signaling room
func (r *Relay) JoinCall(callID, userID, connID string) {
	r.enqueue(msgJoinCall{callID: callID, userID: userID, connID: connID})
}

// LeaveCall removes a user from a call's signaling room
func (r *Relay) LeaveCall(callID, userID string) {
	r.enqueue(msgLeaveCall{callID: callID, userID: userID})
}

// RelaySignal forwards a handshake payload to its target, or to every
// other user in the call room when the target is unset
func (r *Relay) RelaySignal(sig Signal) {
	r.enqueue(msgSignal{sig: sig})
}

// NotifyIncomingCall resolves room membership and rings every member
// except the initiator, queueing a deferred notification for anyone
// currently offline. Delivery is best-effort.
func (r *Relay) NotifyIncomingCall(roomID, callID string, kind call.Kind, initiatorID, displayName, credential string) {
	r.enqueue(msgIncomingCall{
		roomID:      roomID,
		callID:      callID,
		kind:        kind,
		initiatorID: initiatorID,
		displayName: displayName,
		credential:  credential,
	})
}

// NotifyCallAnswered tells the initiator's live connections the call was
// answered
func (r *Relay) NotifyCallAnswered(callID, initiatorID, answeredBy string) {
	r.enqueue(msgCallAnswered{callID: callID, initiatorID: initiatorID, answeredBy: answeredBy})
}

// NotifyCallRejected tells the initiator's live connections the call was
// rejected
func (r *Relay) NotifyCallRejected(callID, initiatorID, rejectedBy string) {
	r.enqueue(msgCallRejected{callID: callID, initiatorID: initiatorID, rejectedBy: rejectedBy})
}

// NotifyCallEnded tells every user in the call room the call ended, and
// separately announces it at the room level for listeners not attached to
// the call
func (r *Relay) NotifyCallEnded(callID, roomID, endedBy string) {
	r.enqueue(msgCallEnded{callID: callID, roomID: roomID, endedBy: endedBy})
}

// NotifyCallMissed tells the call room a ring timed out unanswered
func (r *Relay) NotifyCallMissed(callID string) {
	r.enqueue(msgCallMissed{callID: callID})
}

// NotifyMediaToggled broadcasts a participant's media flag change to the
// rest of the call room
func (r *Relay) NotifyMediaToggled(callID, userID string, kind call.MediaKind, enabled bool) {
	r.enqueue(msgMediaToggled{callID: callID, userID: userID, kind: kind, enabled: enabled})
}

// SweepPending discards expired pending notifications. Run does this on
// its own timer; the method exists for manual and test use.
func (r *Relay) SweepPending() {
	r.enqueue(msgSweepPending{})
}

// Stats returns a snapshot of relay state, or zeroes after shutdown
func (r *Relay) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case r.inbound <- msgStats{reply: reply}:
	case <-r.quit:
		return Stats{}
	}
	// The message may have been buffered just as the loop exited; done
	// unblocks the wait in that case instead of hanging forever.
	select {
	case s := <-reply:
		return s
	case <-r.done:
		select {
		case s := <-reply:
			return s
		default:
			return Stats{}
		}
	}
}

package relay

import (
	"context"
	"time"

	"github.com/hivechat/callbridge/pkg/call"
)

// storeTimeout bounds store and resolver calls made from the dispatch
// loop
const storeTimeout = 10 * time.Second

func (m msgRegister) dispatch(r *Relay) {
	first := r.registry.Register(m.userID, m.connID, m.sink)
	connectionsGauge.Set(float64(r.registry.ConnectionCount()))
	r.log.Info("connection registered",
		"user_id", m.userID,
		"connection_id", m.connID,
		"first", first,
	)

	if !first {
		return
	}

	// First device back online: redeliver queued invites whose session is
	// still ringing, silently drop the rest to prevent ghost rings
	now := time.Now()
	for _, inv := range r.pending.redeem(m.userID, now) {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		status, err := r.store.SessionStatus(ctx, inv.callID)
		cancel()
		if err != nil || status != call.StatusRinging {
			pendingDropped.Inc()
			continue
		}
		r.sendToUser(m.userID, inv.event)
		pendingDelivered.Inc()
	}
	pendingGauge.Set(float64(r.pending.depth()))
}

func (m msgUnregister) dispatch(r *Relay) {
	userID, last := r.registry.Unregister(m.connID)
	if userID == "" {
		return
	}
	connectionsGauge.Set(float64(r.registry.ConnectionCount()))
	r.log.Info("connection unregistered",
		"user_id", userID,
		"connection_id", m.connID,
		"last", last,
	)

	if !last {
		return
	}

	// Last device gone while mid-call: treat as an ungraceful leave
	now := time.Now()
	for _, callID := range r.rooms.callsOf(userID) {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.store.MarkParticipantLeft(ctx, callID, userID, now); err != nil {
			r.log.Error("mark participant left failed", "call_id", callID, "user_id", userID, "error", err)
		}
		cancel()
		r.rooms.remove(callID, userID)
		r.sendToRoom(callID, userID, Event{
			Type: EventUserLeft,
			Data: map[string]any{"userId": userID},
		})
	}
	roomsGauge.Set(float64(r.rooms.roomCount()))
}

func (m msgJoinCall) dispatch(r *Relay) {
	r.rooms.add(m.callID, m.userID)
	roomsGauge.Set(float64(r.rooms.roomCount()))

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	err := r.store.AppendEvent(ctx, &call.Event{
		CallID:    m.callID,
		UserID:    m.userID,
		Type:      call.EventSocketConnected,
		Metadata:  map[string]any{"connectionId": m.connID},
		CreatedAt: time.Now(),
	})
	cancel()
	if err != nil {
		r.log.Error("append socket_connected event failed", "call_id", m.callID, "error", err)
	}

	r.sendToRoom(m.callID, m.userID, Event{
		Type: EventUserJoined,
		Data: map[string]any{"userId": m.userID},
	})
}

func (m msgLeaveCall) dispatch(r *Relay) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	if err := r.store.MarkParticipantLeft(ctx, m.callID, m.userID, time.Now()); err != nil {
		r.log.Error("mark participant left failed", "call_id", m.callID, "user_id", m.userID, "error", err)
	}
	cancel()

	r.rooms.remove(m.callID, m.userID)
	roomsGauge.Set(float64(r.rooms.roomCount()))

	r.sendToRoom(m.callID, m.userID, Event{
		Type: EventUserLeft,
		Data: map[string]any{"userId": m.userID},
	})
}

func (m msgSignal) dispatch(r *Relay) {
	sig := m.sig
	ev := Event{
		Type: sig.Kind.eventType(),
		Data: map[string]any{
			"callId":          sig.CallID,
			sig.Kind.payloadKey(): sig.Payload,
			"fromUserId":      sig.SenderID,
		},
	}

	if sig.TargetUserID != "" {
		r.sendToUser(sig.TargetUserID, ev)
	} else {
		r.sendToRoom(sig.CallID, sig.SenderID, ev)
	}
	eventsRelayed.WithLabelValues(ev.Type).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	err := r.store.AppendEvent(ctx, &call.Event{
		CallID:    sig.CallID,
		UserID:    sig.SenderID,
		Type:      sig.Kind.auditTag(),
		CreatedAt: time.Now(),
	})
	cancel()
	if err != nil {
		r.log.Error("append signal event failed", "call_id", sig.CallID, "error", err)
	}
}

func (m msgIncomingCall) dispatch(r *Relay) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	members, err := r.resolver.Members(ctx, m.roomID, m.credential)
	cancel()
	if err != nil {
		// Swallowed by policy: lifecycle correctness never depends on the
		// notification fan-out succeeding
		r.log.Warn("room membership resolution failed", "room_id", m.roomID, "call_id", m.callID, "error", err)
		return
	}

	displayName := m.displayName
	if displayName == "" {
		for _, member := range members {
			if member.UserID == m.initiatorID {
				displayName = member.DisplayName
				break
			}
		}
	}

	ev := Event{
		Type: EventIncomingCall,
		Data: map[string]any{
			"callId":     m.callID,
			"callKind":   m.kind,
			"roomId":     m.roomID,
			"callerId":   m.initiatorID,
			"callerName": displayName,
			"iceServers": r.iceProv.ServersFor(m.callID),
		},
	}

	now := time.Now()
	for _, member := range members {
		if member.UserID == m.initiatorID {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.store.UpsertInvited(ctx, m.callID, member.UserID); err != nil {
			r.log.Error("insert invited participant failed", "call_id", m.callID, "user_id", member.UserID, "error", err)
		}
		cancel()

		if sinks := r.registry.ConnectionsFor(member.UserID); len(sinks) > 0 {
			for _, sink := range sinks {
				r.send(sink, member.UserID, ev)
			}
		} else {
			r.pending.enqueue(member.UserID, m.callID, ev, now)
			pendingQueued.Inc()
		}
	}
	pendingGauge.Set(float64(r.pending.depth()))
}

func (m msgCallAnswered) dispatch(r *Relay) {
	r.sendToUser(m.initiatorID, Event{
		Type: EventCallAnswered,
		Data: map[string]any{"callId": m.callID, "answeredBy": m.answeredBy},
	})
}

func (m msgCallRejected) dispatch(r *Relay) {
	r.sendToUser(m.initiatorID, Event{
		Type: EventCallRejected,
		Data: map[string]any{"callId": m.callID, "rejectedBy": m.rejectedBy},
	})
}

func (m msgCallEnded) dispatch(r *Relay) {
	ev := Event{
		Type: EventCallEnded,
		Data: map[string]any{"callId": m.callID, "endedBy": m.endedBy},
	}
	for _, userID := range r.rooms.membersOf(m.callID) {
		r.sendToUser(userID, ev)
	}

	// Room-level announcement for listeners not attached to the call
	if r.chat != nil && m.roomID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.chat.PushEvent(ctx, m.roomID, EventCallEnded, ev.Data); err != nil {
			r.log.Warn("room-level call-ended push failed", "room_id", m.roomID, "error", err)
		}
		cancel()
	}
}

func (m msgCallMissed) dispatch(r *Relay) {
	ev := Event{
		Type: EventCallMissed,
		Data: map[string]any{"callId": m.callID},
	}
	for _, userID := range r.rooms.membersOf(m.callID) {
		r.sendToUser(userID, ev)
	}
}

func (m msgMediaToggled) dispatch(r *Relay) {
	eventType := EventAudioToggled
	if m.kind == call.MediaVideo {
		eventType = EventVideoToggled
	}
	r.sendToRoom(m.callID, m.userID, Event{
		Type: eventType,
		Data: map[string]any{"userId": m.userID, "enabled": m.enabled},
	})
}

func (m msgSweepPending) dispatch(r *Relay) {
	expired := r.pending.sweep(time.Now())
	if expired > 0 {
		pendingExpired.Add(float64(expired))
		r.log.Debug("pending notifications expired", "count", expired)
	}
	pendingGauge.Set(float64(r.pending.depth()))
}

func (m msgStats) dispatch(r *Relay) {
	m.reply <- Stats{
		Connections:  r.registry.ConnectionCount(),
		Users:        r.registry.UserCount(),
		CallRooms:    r.rooms.roomCount(),
		PendingDepth: r.pending.depth(),
	}
}

// sendToUser fans an event out to every one of the user's registered
// connections
func (r *Relay) sendToUser(userID string, ev Event) {
	for _, sink := range r.registry.ConnectionsFor(userID) {
		r.send(sink, userID, ev)
	}
}

// sendToRoom fans an event out to every user in the call room except
// exclude
func (r *Relay) sendToRoom(callID, exclude string, ev Event) {
	for _, userID := range r.rooms.membersOf(callID) {
		if userID == exclude {
			continue
		}
		r.sendToUser(userID, ev)
	}
}

// send pushes one event to one sink. Failures are logged, not surfaced:
// delivery is best-effort and never acknowledged to the sender.
func (r *Relay) send(sink Sink, userID string, ev Event) {
	if err := sink.Send(ev); err != nil {
		eventsDropped.Inc()
		r.log.Debug("event send failed",
			"user_id", userID,
			"connection_id", sink.ID(),
			"event", ev.Type,
			"error", err,
		)
	}
}

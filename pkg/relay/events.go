package relay

import "encoding/json"

// Server-to-client event names
const (
	EventIncomingCall = "incoming-call"
	EventUserJoined   = "user-joined"
	EventUserLeft     = "user-left"
	EventWebRTCOffer  = "webrtc-offer"
	EventWebRTCAnswer = "webrtc-answer"
	EventICECandidate = "ice-candidate"
	EventAudioToggled = "audio-toggled"
	EventVideoToggled = "video-toggled"
	EventCallAnswered = "call-answered"
	EventCallRejected = "call-rejected"
	EventCallEnded    = "call-ended"
	EventCallMissed   = "call-missed"
)

// Event is one server-to-client real-time event
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// SignalKind identifies a handshake payload being relayed between peers
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "iceCandidate"
)

// Valid reports whether the signal kind is known
func (k SignalKind) Valid() bool {
	return k == SignalOffer || k == SignalAnswer || k == SignalCandidate
}

// eventType returns the server-to-client event name for the signal kind
func (k SignalKind) eventType() string {
	switch k {
	case SignalOffer:
		return EventWebRTCOffer
	case SignalAnswer:
		return EventWebRTCAnswer
	default:
		return EventICECandidate
	}
}

// payloadKey returns the field name the relayed payload travels under
func (k SignalKind) payloadKey() string {
	switch k {
	case SignalOffer:
		return "offer"
	case SignalAnswer:
		return "answer"
	default:
		return "candidate"
	}
}

// auditTag returns the call-event tag appended when a signal is relayed
func (k SignalKind) auditTag() string {
	switch k {
	case SignalOffer:
		return "offer_sent"
	case SignalAnswer:
		return "answer_sent"
	default:
		return "ice_candidate"
	}
}

// Sink is one live client connection the relay can push events to.
// Implementations must not block: a slow consumer drops events rather
// than stalling the dispatch loop.
type Sink interface {
	ID() string
	Send(ev Event) error
	Close() error
}

// Signal is a handshake payload in flight between two peers
type Signal struct {
	Kind     SignalKind
	CallID   string
	SenderID string
	// TargetUserID names the recipient; empty means broadcast to every
	// other user in the call room (the target may not be known to the
	// sender yet in calls with more than two parties)
	TargetUserID string
	Payload      json.RawMessage
}

// Package call implements the call lifecycle: the session state machine,
// the controller operations that drive it, and the ring-timeout sweeper.
package call

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the media kind of a call
type Kind string

const (
	// KindVoice is an audio-only call
	KindVoice Kind = "voice"
	// KindVideo is an audio+video call
	KindVideo Kind = "video"
)

// Valid reports whether the kind is a known call kind
func (k Kind) Valid() bool {
	return k == KindVoice || k == KindVideo
}

// Status is the state of a call session. Sessions only move forward:
// ringing -> active -> ended, or ringing -> rejected/missed. The terminal
// states are ended, rejected and missed.
type Status string

const (
	StatusRinging  Status = "ringing"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
	StatusRejected Status = "rejected"
	StatusMissed   Status = "missed"
)

// Valid reports whether the status is a known session status
func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusActive, StatusEnded, StatusRejected, StatusMissed:
		return true
	}
	return false
}

// Terminal reports whether the status is terminal
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusMissed:
		return true
	}
	return false
}

// ParticipantStatus is the state of one user within one call
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantRinging  ParticipantStatus = "ringing"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantLeft     ParticipantStatus = "left"
	ParticipantRejected ParticipantStatus = "rejected"
)

// Valid reports whether the status is a known participant status
func (s ParticipantStatus) Valid() bool {
	switch s {
	case ParticipantInvited, ParticipantRinging, ParticipantJoined, ParticipantLeft, ParticipantRejected:
		return true
	}
	return false
}

// MediaKind selects which media flag a toggle operation updates
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Valid reports whether the media kind is known
func (m MediaKind) Valid() bool {
	return m == MediaAudio || m == MediaVideo
}

// Session is one call attempt. Sessions are never deleted; terminal rows
// remain as the historical record.
type Session struct {
	CallID      string     `json:"callId"`
	RoomID      string     `json:"roomId"`
	Kind        Kind       `json:"callKind"`
	Status      Status     `json:"status"`
	InitiatorID string     `json:"initiatorId"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Participant is one user's membership and media state within one call.
// At most one row exists per (call, user) pair.
type Participant struct {
	CallID       string            `json:"callId"`
	UserID       string            `json:"userId"`
	Status       ParticipantStatus `json:"status"`
	AudioEnabled bool              `json:"audioEnabled"`
	VideoEnabled bool              `json:"videoEnabled"`
	JoinedAt     *time.Time        `json:"joinedAt,omitempty"`
	LeftAt       *time.Time        `json:"leftAt,omitempty"`
}

// Event is one append-only audit record. Events are never read by a
// lifecycle decision; they exist as the forensic trail.
type Event struct {
	CallID    string         `json:"callId"`
	UserID    string         `json:"userId,omitempty"`
	Type      string         `json:"eventType"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Audit event type tags
const (
	EventInitiated       = "initiated"
	EventAnswered        = "answered"
	EventRejected        = "rejected"
	EventEnded           = "ended"
	EventMissed          = "missed"
	EventAudioToggled    = "audio_toggled"
	EventVideoToggled    = "video_toggled"
	EventSocketConnected = "socket_connected"
	EventUserLeft        = "user_left"
)

// NewCallID generates an opaque globally-unique call ID
func NewCallID() string {
	return uuid.New().String()
}

// Package rooms provides the facade to the external chat-room membership
// system. The call bridge consumes it to answer "who is in this room" and
// to push best-effort informational chat events; it never implements
// membership itself.
package rooms

import (
	"context"
)

// Member is one resolved room member
type Member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Resolver answers room membership queries against the chat backend
type Resolver interface {
	// Members returns the member identities of a room. The credential is
	// the caller's own token; the chat backend decides whether it grants
	// visibility into the room.
	Members(ctx context.Context, roomID, credential string) ([]Member, error)
}

// ChatNotifier pushes informational events into a chat room. Failures are
// always swallowed by callers; call-lifecycle correctness never depends on
// a chat push succeeding.
type ChatNotifier interface {
	PushEvent(ctx context.Context, roomID, eventType string, content map[string]any) error
}

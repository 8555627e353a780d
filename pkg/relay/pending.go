package relay

import (
	"time"
)

// pendingInvite is one queued incoming-call notification held for a
// currently-offline recipient
type pendingInvite struct {
	callID    string
	event     Event
	expiresAt time.Time
}

// pendingQueue holds incoming-call notifications for offline users.
// Entries expire a fixed window after enqueue, matching the caller's ring
// timeout, whether or not they were ever delivered. Owned by the dispatch
// loop.
type pendingQueue struct {
	ttl     time.Duration
	entries map[string][]pendingInvite // userID -> queued invites
}

func newPendingQueue(ttl time.Duration) *pendingQueue {
	return &pendingQueue{
		ttl:     ttl,
		entries: make(map[string][]pendingInvite),
	}
}

// enqueue queues an invite for a user with the standard expiry window
func (q *pendingQueue) enqueue(userID, callID string, ev Event, now time.Time) {
	q.entries[userID] = append(q.entries[userID], pendingInvite{
		callID:    callID,
		event:     ev,
		expiresAt: now.Add(q.ttl),
	})
}

// redeem removes and returns the user's still-valid invites. Expired
// entries are discarded. Each invite is redeemed at most once.
func (q *pendingQueue) redeem(userID string, now time.Time) []pendingInvite {
	queued, ok := q.entries[userID]
	if !ok {
		return nil
	}
	delete(q.entries, userID)

	var valid []pendingInvite
	for _, inv := range queued {
		if now.Before(inv.expiresAt) {
			valid = append(valid, inv)
		}
	}
	return valid
}

// sweep discards every expired entry and returns the number discarded
func (q *pendingQueue) sweep(now time.Time) int {
	expired := 0
	for userID, queued := range q.entries {
		var keep []pendingInvite
		for _, inv := range queued {
			if now.Before(inv.expiresAt) {
				keep = append(keep, inv)
			} else {
				expired++
			}
		}
		if len(keep) == 0 {
			delete(q.entries, userID)
		} else {
			q.entries[userID] = keep
		}
	}
	return expired
}

// depth returns the total number of queued invites
func (q *pendingQueue) depth() int {
	n := 0
	for _, queued := range q.entries {
		n += len(queued)
	}
	return n
}

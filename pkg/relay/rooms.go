package relay

// callRooms tracks which users currently occupy each call's signaling
// room. Entries are pruned as soon as a room's member set becomes empty.
// Owned by the dispatch loop; process-local state only.
type callRooms struct {
	members map[string]map[string]struct{} // callID -> userID set
	byUser  map[string]map[string]struct{} // userID -> callID set
}

func newCallRooms() *callRooms {
	return &callRooms{
		members: make(map[string]map[string]struct{}),
		byUser:  make(map[string]map[string]struct{}),
	}
}

// add puts a user into a call room, creating the room if needed
func (c *callRooms) add(callID, userID string) {
	room, ok := c.members[callID]
	if !ok {
		room = make(map[string]struct{})
		c.members[callID] = room
	}
	room[userID] = struct{}{}

	calls, ok := c.byUser[userID]
	if !ok {
		calls = make(map[string]struct{})
		c.byUser[userID] = calls
	}
	calls[callID] = struct{}{}
}

// remove takes a user out of a call room, pruning empty entries on both
// indexes
func (c *callRooms) remove(callID, userID string) {
	if room, ok := c.members[callID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(c.members, callID)
		}
	}
	if calls, ok := c.byUser[userID]; ok {
		delete(calls, callID)
		if len(calls) == 0 {
			delete(c.byUser, userID)
		}
	}
}

// membersOf returns the users currently in a call room
func (c *callRooms) membersOf(callID string) []string {
	room := c.members[callID]
	if len(room) == 0 {
		return nil
	}
	users := make([]string, 0, len(room))
	for userID := range room {
		users = append(users, userID)
	}
	return users
}

// callsOf returns the calls a user is currently attached to. Used by
// disconnect handling, the only path that reacts to ungraceful departure.
func (c *callRooms) callsOf(userID string) []string {
	calls := c.byUser[userID]
	if len(calls) == 0 {
		return nil
	}
	ids := make([]string, 0, len(calls))
	for callID := range calls {
		ids = append(ids, callID)
	}
	return ids
}

// contains reports whether a user is in a call room
func (c *callRooms) contains(callID, userID string) bool {
	_, ok := c.members[callID][userID]
	return ok
}

// roomCount returns the number of live call rooms
func (c *callRooms) roomCount() int {
	return len(c.members)
}

package relay

// ConnectionRegistry tracks which live connections belong to which user.
// One user may hold many simultaneous device connections; every one of
// them receives events addressed to the user.
//
// The registry is owned by the relay dispatch loop and is not safe for
// concurrent use on its own. It is rebuilt from nothing on process
// restart; reconnect is cheap and expected.
type ConnectionRegistry struct {
	byUser map[string]map[string]Sink // userID -> connID -> sink
	byConn map[string]string          // connID -> userID
}

// NewConnectionRegistry creates an empty registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byUser: make(map[string]map[string]Sink),
		byConn: make(map[string]string),
	}
}

// Register adds a connection to the user's connection set, creating the
// set if absent. A connection already bound to a different user is
// detached from that user first, otherwise the old user keeps a dead
// sink and looks online forever. It reports whether this is the user's
// first live connection, which is the trigger for pending-notification
// redelivery.
func (r *ConnectionRegistry) Register(userID, connID string, sink Sink) (first bool) {
	if prev, bound := r.byConn[connID]; bound && prev != userID {
		r.Unregister(connID)
	}
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]Sink)
		r.byUser[userID] = conns
	}
	conns[connID] = sink
	r.byConn[connID] = userID
	return !ok
}

// Unregister removes the connection from whichever user's set contains
// it, deleting the user's entry once empty. It returns the owning user
// and whether this was the user's last connection.
func (r *ConnectionRegistry) Unregister(connID string) (userID string, last bool) {
	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)

	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return userID, true
	}
	return userID, false
}

// ConnectionsFor returns the user's live connection sinks. An empty
// result means the user is currently offline.
func (r *ConnectionRegistry) ConnectionsFor(userID string) []Sink {
	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	sinks := make([]Sink, 0, len(conns))
	for _, sink := range conns {
		sinks = append(sinks, sink)
	}
	return sinks
}

// UserOf returns the user owning a connection, if registered
func (r *ConnectionRegistry) UserOf(connID string) (string, bool) {
	userID, ok := r.byConn[connID]
	return userID, ok
}

// ConnectionCount returns the number of live connections
func (r *ConnectionRegistry) ConnectionCount() int {
	return len(r.byConn)
}

// UserCount returns the number of users with at least one connection
func (r *ConnectionRegistry) UserCount() int {
	return len(r.byUser)
}

package core

import "sync"

// Registry maps a user id to the set of that user's open connections,
// one per device or tab. All access goes through its methods.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[*Conn]struct{}
}

// RegistryStats is a point-in-time count of registry contents.
type RegistryStats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[*Conn]struct{}),
	}
}

// Register adds conn to the user's set, creating the set if absent.
// Registering the same connection twice is a no-op: the set never holds
// duplicates. A connection that is already closed is refused and Register
// returns false, so cleanup that ran first cannot be undone.
func (r *Registry) Register(userID string, conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.Closed() {
		return false
	}

	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[*Conn]struct{})
		r.users[userID] = conns
	}
	conns[conn] = struct{}{}
	return true
}

// Unregister removes conn from the user's set and drops the entry once it
// is empty. Absent users or connections are ignored. Returns the number of
// connections the user still has.
func (r *Registry) Unregister(userID string, conn *Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		return 0
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.users, userID)
		return 0
	}
	return len(conns)
}

// ConnectionsFor returns a snapshot of the user's open connections.
func (r *Registry) ConnectionsFor(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	if len(conns) == 0 {
		return nil
	}
	snapshot := make([]*Conn, 0, len(conns))
	for c := range conns {
		snapshot = append(snapshot, c)
	}
	return snapshot
}

// Stats counts users and connections.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{Users: len(r.users)}
	for _, conns := range r.users {
		stats.Connections += len(conns)
	}
	return stats
}

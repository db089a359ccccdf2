// Package registry tracks which connections are present in which room.
//
// A room exists only while it has members: it is created by the first Join
// and removed by the Leave that empties it, so the registry never retains
// state for abandoned rooms.
package registry

import "sync"

// Registry maps a room id to the set of members currently in it. M is the
// member handle; the relay uses its connection type, tests use plain values.
// A Registry is safe for concurrent use.
type Registry[M comparable] struct {
	mu    sync.RWMutex
	rooms map[string]map[M]struct{}
}

// New returns an empty registry.
func New[M comparable]() *Registry[M] {
	return &Registry[M]{rooms: make(map[string]map[M]struct{})}
}

// Join registers m under room and returns the number of members that were
// already present. Joining twice is a no-op. An empty room id is ignored.
func (r *Registry[M]) Join(room string, m M) int {
	if room == "" {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[M]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[m]; exists {
		return len(members) - 1
	}

	before := len(members)
	members[m] = struct{}{}
	return before
}

// Leave removes m from room and returns how many members remain. The room
// entry is deleted once it is empty. Unknown rooms and members are ignored.
func (r *Registry[M]) Leave(room string, m M) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return 0
	}
	delete(members, m)

	if len(members) == 0 {
		delete(r.rooms, room)
		return 0
	}
	return len(members)
}

// Members returns a snapshot of every member of room.
func (r *Registry[M]) Members(room string) []M {
	var zero M
	return r.collect(room, zero, false)
}

// MembersExcept returns a snapshot of the members of room other than m.
func (r *Registry[M]) MembersExcept(room string, m M) []M {
	return r.collect(room, m, true)
}

func (r *Registry[M]) collect(room string, skip M, skipping bool) []M {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]M, 0, len(members))
	for member := range members {
		if skipping && member == skip {
			continue
		}
		out = append(out, member)
	}
	return out
}

// Size returns the number of members in room.
func (r *Registry[M]) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Has reports whether room currently has an entry.
func (r *Registry[M]) Has(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room]
	return ok
}

// Rooms returns the number of live rooms.
func (r *Registry[M]) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

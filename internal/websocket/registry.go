package websocket

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"promanchat/pkg/interfaces"
)

const shardCount = 64

// Registry maps room ids to the ordered set of sessions joined to them.
// ARCHITECTURAL DISCOVERY: rooms are spread over independently locked
// shards so joins and broadcasts in unrelated rooms never contend.
type Registry struct {
	shards [shardCount]*registryShard
}

type registryShard struct {
	mu    sync.RWMutex
	rooms map[string]*roomSet
}

// roomSet keeps insertion order for deterministic snapshots.
type roomSet struct {
	order   []interfaces.Connection
	members map[interfaces.Connection]struct{}
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{rooms: make(map[string]*roomSet)}
	}
	return r
}

func (r *Registry) shard(roomID string) *registryShard {
	return r.shards[xxhash.Sum64String(roomID)%shardCount]
}

// Join adds conn to roomID. Joining twice is a no-op.
func (r *Registry) Join(roomID string, conn interfaces.Connection) error {
	if roomID == "" {
		return ErrRoomNotFound
	}
	if conn == nil {
		return ErrNilConnection
	}

	s := r.shard(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = &roomSet{members: make(map[interfaces.Connection]struct{})}
		s.rooms[roomID] = room
	}
	if _, exists := room.members[conn]; exists {
		return nil
	}
	room.members[conn] = struct{}{}
	room.order = append(room.order, conn)
	return nil
}

// Leave removes conn from roomID. Absent connections are ignored; a room
// left empty is dropped.
func (r *Registry) Leave(roomID string, conn interfaces.Connection) {
	if roomID == "" || conn == nil {
		return
	}

	s := r.shard(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	if _, exists := room.members[conn]; !exists {
		return
	}
	delete(room.members, conn)
	for i, c := range room.order {
		if c == conn {
			room.order = append(room.order[:i], room.order[i+1:]...)
			break
		}
	}
	if len(room.members) == 0 {
		delete(s.rooms, roomID)
	}
}

// Snapshot returns a copy of the room's sessions in join order. An unknown
// room yields an empty slice.
func (r *Registry) Snapshot(roomID string) []interfaces.Connection {
	s := r.shard(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]interfaces.Connection, len(room.order))
	copy(out, room.order)
	return out
}

func (r *Registry) RoomSize(roomID string) int {
	s := r.shard(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if room, ok := s.rooms[roomID]; ok {
		return len(room.members)
	}
	return 0
}

// Stats returns registry statistics for health and metrics.
func (r *Registry) Stats() map[string]int {
	total, rooms := 0, 0
	for _, s := range r.shards {
		s.mu.RLock()
		rooms += len(s.rooms)
		for _, room := range s.rooms {
			total += len(room.members)
		}
		s.mu.RUnlock()
	}
	return map[string]int{
		"total_connections": total,
		"active_rooms":      rooms,
	}
}

// CloseAll closes every registered session. Sessions leave the registry
// as their read loops exit.
func (r *Registry) CloseAll() int {
	var all []interfaces.Connection
	for _, s := range r.shards {
		s.mu.RLock()
		for _, room := range s.rooms {
			all = append(all, room.order...)
		}
		s.mu.RUnlock()
	}
	for _, conn := range all {
		_ = conn.Close()
	}
	return len(all)
}

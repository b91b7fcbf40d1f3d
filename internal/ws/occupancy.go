package ws

import "sync"

// occupancy mirrors the hub's member counts for read-only observers
// (stats API). The hub's run loop is the only writer.
type occupancy struct {
	mu      sync.RWMutex
	rooms   map[string]int
	clients int
}

func newOccupancy() *occupancy {
	return &occupancy{rooms: make(map[string]int)}
}

func (o *occupancy) join(roomID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rooms[roomID]++
	o.clients++
}

func (o *occupancy) leave(roomID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rooms[roomID] <= 1 {
		delete(o.rooms, roomID)
	} else {
		o.rooms[roomID]--
	}
	o.clients--
}

func (o *occupancy) roomCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.rooms)
}

func (o *occupancy) clientCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.clients
}

func (o *occupancy) snapshot() map[string]int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]int, len(o.rooms))
	for id, n := range o.rooms {
		out[id] = n
	}
	return out
}

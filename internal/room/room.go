// Package room tracks the per-room document state. Rooms are created
// lazily on first reference and retained for the life of the process,
// even at zero members: the state is the document, and dropping it
// would lose edits for the next joiner.
package room

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/manpreetbhatti/trellis/internal/crdt"
)

// A collaborative editing session's document state
type Room struct {
	ID        string
	CreatedAt time.Time

	mu    sync.RWMutex
	state *crdt.State
}

func newRoom(id string) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		state:     crdt.NewState(),
	}
}

// Apply merges an update fragment into the room's state. On error the
// state is unchanged.
func (r *Room) Apply(update []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Apply(update)
}

// Snapshot returns the full encoded state, nil for an empty document.
func (r *Room) Snapshot() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Encode()
}

// UpdateCount returns the number of distinct payloads merged so far.
func (r *Room) UpdateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Len()
}

// Loader seeds a newly created room from durable storage. The snapshot
// and updates are framed byte sequences as produced by the store.
type Loader interface {
	LoadRoom(roomID string) (snapshot []byte, updates [][]byte, err error)
}

// Registry maps room ids to their rooms. There is exactly one Room, and
// so exactly one document state, per id: GetOrCreate never re-creates.
// Rooms are never evicted.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	loader Loader // optional
	log    *zap.Logger
}

func NewRegistry(loader Loader, log *zap.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		loader: loader,
		log:    log,
	}
}

// GetOrCreate returns the room for id, allocating a fresh empty state
// on first reference. When a loader is configured, the persisted
// snapshot and update log are folded into the new state before it is
// exposed; a load failure degrades to an empty room rather than failing
// the caller.
func (reg *Registry) GetOrCreate(id string) *Room {
	reg.mu.RLock()
	r, ok := reg.rooms[id]
	reg.mu.RUnlock()
	if ok {
		return r
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[id]; ok {
		return r
	}

	r = newRoom(id)
	if reg.loader != nil {
		reg.seed(r)
	}
	reg.rooms[id] = r
	reg.log.Info("room created", zap.String("room", id))
	return r
}

func (reg *Registry) seed(r *Room) {
	snapshot, updates, err := reg.loader.LoadRoom(r.ID)
	if err != nil {
		reg.log.Error("room load failed, starting empty",
			zap.String("room", r.ID), zap.Error(err))
		return
	}
	if len(snapshot) > 0 {
		if err := r.state.Apply(snapshot); err != nil {
			reg.log.Error("stored snapshot rejected",
				zap.String("room", r.ID), zap.Error(err))
		}
	}
	for _, u := range updates {
		if err := r.state.Apply(u); err != nil {
			reg.log.Warn("stored update rejected",
				zap.String("room", r.ID), zap.Error(err))
		}
	}
	if r.state.Len() > 0 {
		reg.log.Info("room restored from store",
			zap.String("room", r.ID), zap.Int("payloads", r.state.Len()))
	}
}

// Get returns the room for id, or nil if it has never been referenced.
func (reg *Registry) Get(id string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[id]
}

// Count returns the number of rooms created so far.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// IDs returns the ids of all tracked rooms.
func (reg *Registry) IDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]string, 0, len(reg.rooms))
	for id := range reg.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Package ws is the relay: it owns the websocket connections, admits
// them into rooms, merges inbound update fragments into the room's
// document state, and fans the raw fragment out to every other member
// of the same room.
package ws

import (
	"context"

	"go.uber.org/zap"

	"github.com/manpreetbhatti/trellis/internal/metrics"
	"github.com/manpreetbhatti/trellis/internal/room"
)

// Persister receives every successfully merged fragment. Implemented by
// the sqlite store; nil disables persistence.
type Persister interface {
	AppendUpdate(roomID string, update []byte) error
}

// Message is one inbound update fragment.
type Message struct {
	Sender *Client
	Data   []byte
}

// Hub relays fragments between room members. All room membership and
// document state mutation happens on the single Run goroutine, which
// drains one event at a time to completion: that serialization is what
// makes room creation, merging, and the admission sequence (join +
// snapshot) atomic without locks, exactly like the event loop it
// replaces.
type Hub struct {
	registry  *room.Registry
	persister Persister
	metrics   *metrics.Metrics
	log       *zap.Logger

	closeOnMergeError bool
	messagesPerSecond float64
	messageBurst      int

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	// member sets, confined to the Run goroutine
	rooms map[string]map[*Client]bool

	// occupancy mirror for the stats API
	occupancy *occupancy
}

type Options struct {
	CloseOnMergeError bool
	MessagesPerSecond float64
	MessageBurst      int
}

func NewHub(registry *room.Registry, persister Persister, m *metrics.Metrics, log *zap.Logger, opts Options) *Hub {
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 100
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 200
	}
	return &Hub{
		registry:          registry,
		persister:         persister,
		metrics:           m,
		log:               log,
		closeOnMergeError: opts.CloseOnMergeError,
		messagesPerSecond: opts.MessagesPerSecond,
		messageBurst:      opts.MessageBurst,
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		broadcast:         make(chan *Message),
		rooms:             make(map[string]map[*Client]bool),
		occupancy:         newOccupancy(),
	}
}

// Run drains hub events until ctx is cancelled. It must be the only
// goroutine touching h.rooms.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.admit(client)
		case client := <-h.unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			h.relay(msg)
		}
	}
}

// admit adds the client to its room's member set and queues the current
// document snapshot as its first message. Both happen within one event,
// so a fragment from another member is either merged before admission
// (baked into the snapshot, not forwarded to this client) or relayed
// after it (forwarded, not in the snapshot) — never both, never
// neither.
func (h *Hub) admit(client *Client) {
	rm := h.registry.GetOrCreate(client.roomID)

	members, ok := h.rooms[client.roomID]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[client.roomID] = members
	}
	members[client] = true

	snapshot := rm.Snapshot()
	if client.trySend(snapshot) {
		h.metrics.SnapshotsSent.Inc()
	} else {
		h.log.Warn("snapshot delivery failed", zap.String("room", client.roomID))
	}

	h.occupancy.join(client.roomID)
	h.metrics.ActiveConnections.Inc()
	h.metrics.ActiveRooms.Set(float64(len(h.rooms)))
	h.log.Info("client joined room",
		zap.String("room", client.roomID),
		zap.String("client", client.id),
		zap.Int("members", len(members)))
}

// remove detaches the client. Idempotent: a client never admitted, or
// already removed, is a no-op. The room's member set is pruned when
// empty but its document state stays in the registry.
func (h *Hub) remove(client *Client) {
	members, ok := h.rooms[client.roomID]
	if !ok || !members[client] {
		client.finishClose()
		return
	}

	delete(members, client)
	close(client.send)
	client.finishClose()

	h.occupancy.leave(client.roomID)
	h.metrics.ActiveConnections.Dec()

	if len(members) == 0 {
		delete(h.rooms, client.roomID)
		h.log.Info("room idle, state retained", zap.String("room", client.roomID))
	} else {
		h.log.Info("client left room",
			zap.String("room", client.roomID),
			zap.Int("members", len(members)))
	}
	h.metrics.ActiveRooms.Set(float64(len(h.rooms)))
}

// relay merges one fragment into the sender's room state and, on
// success, forwards the original bytes to every other member of that
// room. A merge failure changes nothing and, by default, leaves the
// sender connected.
func (h *Hub) relay(msg *Message) {
	roomID := msg.Sender.roomID
	rm := h.registry.GetOrCreate(roomID)

	if err := rm.Apply(msg.Data); err != nil {
		h.metrics.MergeErrors.Inc()
		h.log.Warn("merge failed, fragment dropped",
			zap.String("room", roomID),
			zap.String("client", msg.Sender.id),
			zap.Error(err))
		if h.closeOnMergeError {
			msg.Sender.beginClose()
			msg.Sender.conn.Close()
		}
		return
	}
	h.metrics.FragmentsMerged.Inc()

	if h.persister != nil {
		if err := h.persister.AppendUpdate(roomID, msg.Data); err != nil {
			h.log.Error("update persistence failed",
				zap.String("room", roomID), zap.Error(err))
		}
	}

	// Fan out to the sender's room only, never the sender itself. A
	// peer that is already closing is skipped silently; a peer with a
	// full send buffer is dropped from the room.
	for peer := range h.rooms[roomID] {
		if peer == msg.Sender {
			continue
		}
		if peer.trySend(msg.Data) {
			h.metrics.BytesForwarded.Add(float64(len(msg.Data)))
			continue
		}
		if peer.State() != StateOpen {
			continue
		}
		h.metrics.DeliveryErrors.Inc()
		h.log.Warn("peer not draining, dropping it",
			zap.String("room", roomID),
			zap.String("client", peer.id))
		h.dropPeer(peer)
	}
}

func (h *Hub) dropPeer(peer *Client) {
	members := h.rooms[peer.roomID]
	delete(members, peer)
	close(peer.send)
	peer.finishClose()

	h.occupancy.leave(peer.roomID)
	h.metrics.ActiveConnections.Dec()
	if len(members) == 0 {
		delete(h.rooms, peer.roomID)
	}
	h.metrics.ActiveRooms.Set(float64(len(h.rooms)))
}

// RoomCount returns the number of rooms with at least one member.
func (h *Hub) RoomCount() int {
	return h.occupancy.roomCount()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return h.occupancy.clientCount()
}

// ActiveRooms returns member counts per occupied room.
func (h *Hub) ActiveRooms() map[string]int {
	return h.occupancy.snapshot()
}

// Package realtime fans document updates out to connected co-editors. Rooms
// are keyed by document id; membership lives only as long as the connection.
// Nothing here is persisted - the repository stays the source of truth and a
// restart merely drops in-flight notifications.
package realtime

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Event names mirror the channel protocol the editor frontend speaks.
const (
	EventCreateRoom    = "createRoom"
	EventLeaveRoom     = "leaveRoom"
	EventDocBodyUpdate = "docBodyUpdate"
)

// Event is a single frame on the realtime channel.
type Event struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type membership struct {
	client *Client
	room   string
}

type roomMessage struct {
	// sender is nil for server-originated updates (REST edits); those reach
	// every room member.
	sender  *Client
	room    string
	payload []byte
}

// Hub owns all room state. Every map below is touched only from inside Run,
// so no lock is needed; clients talk to the hub exclusively through its
// channels.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	broadcast  chan roomMessage

	rooms   map[string]map[*Client]bool
	members map[*Client]map[string]bool

	// done is closed when Run returns; clients select on it so their channel
	// sends cannot block on a stopped hub during shutdown.
	done chan struct{}

	log *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		broadcast:  make(chan roomMessage, 64),
		rooms:      make(map[string]map[*Client]bool),
		members:    make(map[*Client]map[string]bool),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes hub events until ctx is cancelled. It must run in exactly one
// goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.members {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.members[client] = make(map[string]bool)

		case client := <-h.unregister:
			h.drop(client)

		case m := <-h.join:
			h.handleJoin(m)

		case m := <-h.leave:
			h.handleLeave(m)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

// BroadcastDocumentUpdate pushes a server-originated document update into the
// room, reaching every member. REST edits call this so open editors refresh
// without polling.
func (h *Hub) BroadcastDocumentUpdate(docID string, doc any) {
	data, err := json.Marshal(doc)
	if err != nil {
		h.log.Errorw("marshal document update", "doc", docID, "err", err)
		return
	}
	payload, err := json.Marshal(Event{Event: EventDocBodyUpdate, Room: docID, Data: data})
	if err != nil {
		h.log.Errorw("marshal update event", "doc", docID, "err", err)
		return
	}
	select {
	case h.broadcast <- roomMessage{room: docID, payload: payload}:
	default:
		// Fire-and-forget layer: dropping a notification is acceptable,
		// blocking an API request is not.
		h.log.Warnw("broadcast queue full, dropping update", "doc", docID)
	}
}

func (h *Hub) handleJoin(m membership) {
	if _, ok := h.members[m.client]; !ok {
		return
	}
	if h.rooms[m.room] == nil {
		h.rooms[m.room] = make(map[*Client]bool)
	}
	// Joining twice has no additional effect.
	h.rooms[m.room][m.client] = true
	h.members[m.client][m.room] = true
}

func (h *Hub) handleLeave(m membership) {
	if clients, ok := h.rooms[m.room]; ok {
		delete(clients, m.client)
		if len(clients) == 0 {
			delete(h.rooms, m.room)
		}
	}
	if rooms, ok := h.members[m.client]; ok {
		delete(rooms, m.room)
	}
}

func (h *Hub) handleBroadcast(msg roomMessage) {
	for client := range h.rooms[msg.room] {
		if client == msg.sender {
			continue
		}
		select {
		case client.send <- msg.payload:
		default:
			// A full send buffer means the client stopped reading; drop it
			// rather than stall the hub.
			h.log.Warnw("client send buffer full, dropping connection", "user", client.userID)
			h.drop(client)
		}
	}
}

// drop removes a client from every room it joined and closes its send
// channel. Safe to call twice.
func (h *Hub) drop(client *Client) {
	rooms, ok := h.members[client]
	if !ok {
		return
	}
	for room := range rooms {
		h.handleLeave(membership{client: client, room: room})
	}
	delete(h.members, client)
	close(client.send)
}

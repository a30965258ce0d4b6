package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The frontend runs on its own origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one authenticated websocket connection. A client may be in any
// number of rooms at once (several documents open in the editor).
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// ServeWS upgrades an authenticated request to a websocket connection and
// registers it with the hub. The caller has already verified the token.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Errorw("websocket upgrade", "err", err)
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 256),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Errorw("websocket read", "user", c.userID, "err", err)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			c.hub.log.Warnw("malformed realtime event", "user", c.userID, "err", err)
			continue
		}

		switch event.Event {
		case EventCreateRoom:
			if event.Room == "" {
				continue
			}
			select {
			case c.hub.join <- membership{client: c, room: event.Room}:
			case <-c.hub.done:
				return
			}

		case EventLeaveRoom:
			if event.Room == "" {
				continue
			}
			select {
			case c.hub.leave <- membership{client: c, room: event.Room}:
			case <-c.hub.done:
				return
			}

		case EventDocBodyUpdate:
			room := event.Room
			if room == "" {
				// The frontend addresses updates by the document id inside
				// the payload.
				room = documentID(event.Data)
			}
			if room == "" {
				continue
			}
			payload, err := json.Marshal(Event{Event: EventDocBodyUpdate, Room: room, Data: event.Data})
			if err != nil {
				continue
			}
			select {
			case c.hub.broadcast <- roomMessage{sender: c, room: room, payload: payload}:
			case <-c.hub.done:
				return
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func documentID(data json.RawMessage) string {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.ID
}

package signal

import (
	"context"
	"net/http"
	"time"

	"media-coordinator/pkg/log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Hub relays signaling messages between peers of the same room. All room
// state is owned by the goroutine running Run.
type Hub struct {
	rooms map[string]map[string]*conn

	register   chan *conn
	unregister chan *conn
	inbound    chan *envelope
	done       chan struct{}
}

type envelope struct {
	from *conn
	msg  *Message
}

// conn is one websocket connection on the relay side.
type conn struct {
	hub   *Hub
	ws    *websocket.Conn
	codec Codec

	id   string
	room string

	// gone is set by the hub once the connection unregistered. Messages it
	// sent before that may still be queued.
	gone bool

	send chan *Message
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[string]*conn),
		register:   make(chan *conn),
		unregister: make(chan *conn),
		inbound:    make(chan *envelope, 64),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and relayed messages until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			c.id = uuid.NewString()
			log.Debugf("relay: peer %s connected from %s", c.id, c.ws.RemoteAddr())

			h.deliver(c, &Message{Kind: KindWelcome, To: c.id})

		case c := <-h.unregister:
			h.drop(c)

		case env := <-h.inbound:
			h.handle(env.from, env.msg)
		}
	}
}

// drop removes a disconnected peer and closes its send queue.
func (h *Hub) drop(c *conn) {
	if c.gone {
		return
	}

	log.Debugf("relay: peer %s disconnected", c.id)

	h.leaveRoom(c)

	c.gone = true
	close(c.send)
}

func (h *Hub) handle(c *conn, msg *Message) {
	if c.gone {
		log.Debugf("relay: dropping %s from disconnected peer %s", msg.Kind, c.id)

		return
	}

	switch msg.Kind {
	case KindJoin:
		if msg.Room == "" {
			h.deliver(c, &Message{Kind: KindError, Error: "room is required"})

			return
		}

		h.leaveRoom(c)
		h.joinRoom(c, msg.Room)

	case KindLeave:
		h.leaveRoom(c)

	case KindOffer, KindAnswer, KindCandidate:
		members, ok := h.rooms[c.room]
		if !ok {
			h.deliver(c, &Message{Kind: KindError, Error: "join a room first"})

			return
		}

		target, ok := members[msg.To]
		if !ok {
			log.Debugf("relay: %s from %s to unknown peer %s in room %s", msg.Kind, c.id, msg.To, c.room)

			return
		}

		msg.From = c.id
		msg.Room = c.room

		h.deliver(target, msg)

	default:
		log.Warnf("relay: unexpected message kind %q from %s", msg.Kind, c.id)
	}
}

// joinRoom announces the newcomer to existing members only, so the members
// already present make the first offer.
func (h *Hub) joinRoom(c *conn, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*conn)
		h.rooms[room] = members
	}

	for id, member := range members {
		h.deliver(member, &Message{Kind: KindJoined, Room: room, From: c.id, To: id})
	}

	members[c.id] = c
	c.room = room

	log.Infof("relay: peer %s joined room %s (%d members)", c.id, room, len(members))
}

func (h *Hub) leaveRoom(c *conn) {
	if c.room == "" {
		return
	}

	room := c.room
	c.room = ""

	members, ok := h.rooms[room]
	if !ok {
		return
	}

	delete(members, c.id)

	if len(members) == 0 {
		delete(h.rooms, room)
		log.Infof("relay: room %s deleted", room)

		return
	}

	for id, member := range members {
		h.deliver(member, &Message{Kind: KindLeft, Room: room, From: c.id, To: id})
	}
}

// deliver never blocks the hub; a peer that cannot keep up is dropped.
func (h *Hub) deliver(c *conn, msg *Message) {
	if c.gone {
		return
	}

	select {
	case c.send <- msg:
	default:
		log.Warnf("relay: peer %s send buffer full, disconnecting", c.id)
		c.ws.Close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs upgrades the request and attaches the connection to the hub. The
// codec is selected by the "codec" query parameter.
func ServeWs(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		codec, err := CodecByName(r.URL.Query().Get("codec"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error(errors.Wrap(err, "relay upgrade"))

			return
		}

		c := &conn{
			hub:   h,
			ws:    ws,
			codec: codec,
			send:  make(chan *Message, 256),
		}

		select {
		case h.register <- c:
		case <-h.done:
			ws.Close()

			return
		}

		go c.writePump()
		go c.readPump()
	}
}

func (c *conn) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("relay: read from %s: %s", c.id, err)
			}

			return
		}

		msg := &Message{}

		if err := c.codec.Unmarshal(payload, msg); err != nil {
			log.Warnf("relay: decode from %s: %s", c.id, err)

			continue
		}

		select {
		case c.hub.inbound <- &envelope{from: c, msg: msg}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			payload, err := c.codec.Marshal(msg)
			if err != nil {
				log.Error(errors.Wrap(err, "relay encode"))

				continue
			}

			if err := c.ws.WriteMessage(c.codec.FrameType(), payload); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/captured-thinkings/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 256
)

// Message types on the realtime socket.
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeEvent        = "event"
	TypeError        = "error"
)

// Message is the JSON frame exchanged in both directions.
//
//	client → {"type":"subscribe","relation":"poem_likes"}
//	server → {"type":"subscribed","relation":"poem_likes"}
//	server → {"type":"event","relation":"poem_likes","event":{...}}
type Message struct {
	Type     string             `json:"type"`
	Relation string             `json:"relation,omitempty"`
	Event    *model.ChangeEvent `json:"event,omitempty"`
	Error    string             `json:"error,omitempty"`
}

var knownRelations = map[string]bool{
	model.RelationPoems:    true,
	model.RelationLikes:    true,
	model.RelationComments: true,
}

// Handler upgrades HTTP requests to websockets and streams change events
// for the relations each client subscribes to.
type Handler struct {
	broker   Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(broker Broker, logger *slog.Logger) *Handler {
	return &Handler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API key check runs before the upgrade; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		ws:     ws,
		broker: h.broker,
		send:   make(chan Message, sendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]func()),
		logger: h.logger,
	}

	connectionsActive.Inc()
	go c.writePump()
	c.readPump()
	connectionsActive.Dec()
}

// client is one websocket connection. subs is only touched by readPump.
type client struct {
	ws     *websocket.Conn
	broker Broker
	send   chan Message
	done   chan struct{}
	subs   map[string]func()
	logger *slog.Logger
}

func (c *client) readPump() {
	defer func() {
		for _, cancel := range c.subs {
			cancel()
		}
		close(c.done)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.trySend(Message{Type: TypeError, Error: "malformed message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg Message) {
	if !knownRelations[msg.Relation] {
		c.trySend(Message{Type: TypeError, Relation: msg.Relation, Error: "unknown relation"})
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		if _, ok := c.subs[msg.Relation]; !ok {
			events, cancel := c.broker.Subscribe(msg.Relation)
			c.subs[msg.Relation] = cancel
			go c.forward(msg.Relation, events)
		}
		c.trySend(Message{Type: TypeSubscribed, Relation: msg.Relation})

	case TypeUnsubscribe:
		if cancel, ok := c.subs[msg.Relation]; ok {
			cancel()
			delete(c.subs, msg.Relation)
		}
		c.trySend(Message{Type: TypeUnsubscribed, Relation: msg.Relation})

	default:
		c.trySend(Message{Type: TypeError, Error: "unknown message type " + msg.Type})
	}
}

// forward copies broker events onto the socket until the subscription is cancelled.
func (c *client) forward(relation string, events <-chan model.ChangeEvent) {
	for ev := range events {
		c.trySend(Message{Type: TypeEvent, Relation: relation, Event: &ev})
	}
}

// trySend queues msg, dropping it if the connection is gone or backed up.
func (c *client) trySend(msg Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		eventsDropped.WithLabelValues(msg.Relation).Inc()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

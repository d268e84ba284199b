package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Event is the message pushed to websocket clients.
type Event struct {
	Topic        string              `json:"topic"`
	Notification domain.Notification `json:"notification"`
}

// UserTopic and RoleTopic name the topics a client is subscribed to on connect.
func UserTopic(userID string) string { return "user:" + userID }
func RoleTopic(role string) string   { return "role:" + role }

type client struct {
	id     string
	topics []string
	send   chan []byte
}

// Hub tracks websocket clients by topic and implements domain.NotificationSink
// by pushing to whoever is connected. Offline users get nothing from the hub;
// pair it with the outbox through FanOut.
type Hub struct {
	mu       sync.RWMutex
	topics   map[string]map[*client]struct{}
	all      map[*client]struct{}
	upgrader websocket.Upgrader
	log      *logrus.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*client]struct{}),
		all:    make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[c] = struct{}{}
	for _, topic := range c.topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*client]struct{})
		}
		h.topics[topic][c] = struct{}{}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for _, topic := range c.topics {
		if subscribers, ok := h.topics[topic]; ok {
			delete(subscribers, c)
			if len(subscribers) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	delete(h.all, c)
	close(c.send)
}

func (h *Hub) broadcast(topic string, n domain.Notification) int {
	data, err := json.Marshal(Event{Topic: topic, Notification: n})
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal websocket event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.topics[topic] {
		select {
		case c.send <- data:
			delivered++
		default:
			h.log.WithField("client_id", c.id).Warn("Websocket client buffer full, event dropped")
		}
	}
	return delivered
}

// NotifyUser pushes n to every connection of userID.
func (h *Hub) NotifyUser(_ context.Context, userID string, n domain.Notification) error {
	n.UserID = userID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	h.broadcast(UserTopic(userID), n)
	return nil
}

// NotifyRole pushes n to every connection subscribed to role.
func (h *Hub) NotifyRole(_ context.Context, role string, n domain.Notification) error {
	n.Role = role
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	h.broadcast(RoleTopic(role), n)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// ServeWS upgrades the request and subscribes the connection to the caller's
// user and role topics. It returns once the connection is registered.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID, role string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
	}
	if userID != "" {
		c.topics = append(c.topics, UserTopic(userID))
	}
	if role != "" {
		c.topics = append(c.topics, RoleTopic(role))
	}
	h.register(c)

	h.log.WithFields(logrus.Fields{
		"client_id": c.id,
		"user_id":   userID,
		"role":      role,
	}).Debug("Websocket client connected")

	go h.writePump(c, ws)
	go h.readPump(c, ws)
	return nil
}

// readPump only drains control frames; clients do not send anything meaningful.
func (h *Hub) readPump(c *client, ws *websocket.Conn) {
	defer func() {
		h.unregister(c)
		ws.Close()
	}()

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

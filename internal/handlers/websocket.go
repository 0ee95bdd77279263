package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/redis/go-redis/v9"

	livelog "github.com/mossy-p/livecast/internal/logging"
	"github.com/mossy-p/livecast/internal/models"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	subscribeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// OriginFilter vets browser origins before the upgrade runs.
		return true
	},
}

// Hub bridges WebSocket clients onto Redis pub/sub topics. Redis does the
// fan-out, so clients on different server instances share a topic.
type Hub struct {
	redis *redis.Client
	log   logging.LeveledLogger

	mu     sync.RWMutex
	topics map[string]map[string]*Client
}

// Client represents a WebSocket client connection
type Client struct {
	ID    string
	Topic string
	Conn  *websocket.Conn
	Send  chan []byte

	hub *Hub
	sub *redis.PubSub
}

// NewHub returns a bridge publishing through client
func NewHub(client *redis.Client, lf logging.LoggerFactory) *Hub {
	return &Hub{
		redis:  client,
		log:    livelog.OrDefault(lf).NewLogger("bridge"),
		topics: make(map[string]map[string]*Client),
	}
}

// HandleSignaling upgrades /ws/signal/:topic and joins the caller to the topic.
//
// The upgrader accepts any Origin: browser clients are only kept out by
// mounting OriginFilter in front of this route. Requests without an Origin
// header (CLI and server-side clients) always pass and rely on the token.
func (h *Hub) HandleSignaling(c *gin.Context) {
	topic := c.Param("topic")
	if !strings.HasPrefix(topic, models.TopicPrefix) || len(topic) == len(models.TopicPrefix) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic must be " + models.TopicPrefix + "<streamerId>"})
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("Failed to upgrade connection: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	sub := h.redis.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		h.log.Errorf("Failed to subscribe %s: %v", topic, err)
		sub.Close()
		writeSystem(conn, models.SystemFrame{
			Type:  models.EnvelopeTypeSystem,
			Event: models.SystemEventError,
			Error: "subscription failed",
		})
		conn.Close()
		return
	}

	client := &Client{
		ID:    uuid.New().String(),
		Topic: topic,
		Conn:  conn,
		Send:  make(chan []byte, 256),
		hub:   h,
		sub:   sub,
	}
	h.add(client)
	h.log.Infof("Peer %s joined %s - %d connected", client.ID, topic, h.Connections())

	// Only sent once Redis has confirmed the subscription, so a client may
	// publish as soon as it sees this frame.
	client.sendSystem(models.SystemEventSubscribed)

	// Start goroutines for reading and writing
	go client.writePump()
	go client.forward(sub.Channel())
	go client.readPump()
}

// Connections reports the number of bridged clients
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, peers := range h.topics {
		n += len(peers)
	}
	return n
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	var clients []*Client
	for _, peers := range h.topics {
		for _, c := range peers {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Conn.Close()
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.topics[client.Topic]
	if !ok {
		peers = make(map[string]*Client)
		h.topics[client.Topic] = peers
	}
	peers[client.ID] = client
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.topics[client.Topic]
	delete(peers, client.ID)

	// Clean up topic if empty
	if len(peers) == 0 {
		delete(h.topics, client.Topic)
	}
}

// readPump validates inbound envelopes, stamps them with the connection id
// and publishes them to the topic.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		// Closing the subscription ends forward, which closes Send.
		c.sub.Close()
		c.Conn.Close()
		c.hub.log.Infof("Peer %s left %s", c.ID, c.Topic)
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnf("WebSocket error: %v", err)
			}
			return
		}

		env, _, err := models.Decode(message)
		if err != nil {
			c.hub.log.Debugf("Dropping frame from %s: %v", c.ID, err)
			continue
		}

		// Set the sender
		env.From = c.ID
		data, err := json.Marshal(env)
		if err != nil {
			c.hub.log.Errorf("Failed to marshal message: %v", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		err = c.hub.redis.Publish(ctx, c.Topic, data).Err()
		cancel()
		if err != nil {
			c.hub.log.Errorf("Failed to publish to %s: %v", c.Topic, err)
		}
	}
}

// forward relays topic traffic to the client, skipping its own frames.
func (c *Client) forward(in <-chan *redis.Message) {
	defer close(c.Send)

	for m := range in {
		var from struct {
			From string `json:"from"`
		}
		if err := json.Unmarshal([]byte(m.Payload), &from); err == nil && from.From == c.ID {
			continue
		}

		select {
		case c.Send <- []byte(m.Payload):
		default:
			c.hub.log.Warnf("Failed to send message to peer %s, buffer full", c.ID)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.log.Debugf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendSystem(event string) {
	data, err := json.Marshal(models.SystemFrame{Type: models.EnvelopeTypeSystem, Event: event})
	if err != nil {
		c.hub.log.Errorf("Failed to marshal message: %v", err)
		return
	}

	select {
	case c.Send <- data:
	default:
		c.hub.log.Warnf("Failed to send message to peer %s, buffer full", c.ID)
	}
}

func writeSystem(conn *websocket.Conn, frame models.SystemFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, data)
}

// Package push delivers best-effort notifications to the open websocket
// connections of a user. Nothing is queued for users who are offline.
package push

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/gigboard/marketplace/internal/logger"
	"github.com/gigboard/marketplace/internal/metrics"
	"github.com/gigboard/marketplace/internal/models"
)

var log = logger.New("push")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxFrameSize   = 4 * 1024
	sendBufferSize = 64
)

// Options tune the manager. Zero values fall back to defaults.
type Options struct {
	AuthTimeout time.Duration
	// RateLimit bounds inbound frames per connection after the handshake
	RateLimit   rate.Limit
	RateBurst   int
	CheckOrigin func(r *http.Request) bool
}

// Client is one authenticated connection
type Client struct {
	ID      string
	UserID  int64
	Socket  *websocket.Conn
	Send    chan []byte
	limiter *rate.Limiter
}

// Manager tracks the authenticated connections of every user
type Manager struct {
	clients  map[int64]map[string]*Client
	mutex    sync.Mutex
	upgrader websocket.Upgrader
	opts     Options
}

func NewManager(opts Options) *Manager {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(1)
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 5
	}
	return &Manager{
		clients: make(map[int64]map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		opts: opts,
	}
}

// Connections returns how many authenticated connections userID has open
func (m *Manager) Connections(userID int64) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.clients[userID])
}

func (m *Manager) add(c *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	set, ok := m.clients[c.UserID]
	if !ok {
		set = make(map[string]*Client)
		m.clients[c.UserID] = set
	}
	set[c.ID] = c
	metrics.PushConnections.Inc()
	log.Info("Client connected: user %d (%s)", c.UserID, c.ID)
}

func (m *Manager) remove(c *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.removeLocked(c)
}

// removeLocked is a no-op for a client that is already gone
func (m *Manager) removeLocked(c *Client) {
	set, ok := m.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c.ID]; !ok {
		return
	}
	delete(set, c.ID)
	if len(set) == 0 {
		delete(m.clients, c.UserID)
	}
	close(c.Send)
	metrics.PushConnections.Dec()
	log.Info("Client disconnected: user %d (%s)", c.UserID, c.ID)
}

// SendToUser queues data on every connection of userID and returns how many accepted it.
// A connection whose buffer is full is dropped.
func (m *Manager) SendToUser(userID int64, data []byte) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delivered := 0
	for _, client := range m.clients[userID] {
		select {
		case client.Send <- data:
			delivered++
		default:
			metrics.PushDropped.WithLabelValues("slow_consumer").Inc()
			log.Warn("Send buffer full for user %d (%s), dropping connection", userID, client.ID)
			m.removeLocked(client)
		}
	}
	return delivered
}

// NotifyMessage announces a newly created message to its receiver
func (m *Manager) NotifyMessage(msg *models.Message) {
	data, err := json.Marshal(Frame{Type: TypeNotification, Data: MessageNotification(msg)})
	if err != nil {
		log.Error("Failed to encode notification for message %d: %v", msg.ID, err)
		return
	}

	n := m.SendToUser(msg.ReceiverID, data)
	if n == 0 {
		metrics.PushDropped.WithLabelValues("offline").Inc()
		log.Debug("User %d not connected, notification for message %d dropped", msg.ReceiverID, msg.ID)
		return
	}
	metrics.PushDelivered.Add(float64(n))
}

// Close drops every connection
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, set := range m.clients {
		for _, c := range set {
			m.removeLocked(c)
		}
	}
}

// HandleWebSocket upgrades a request already authenticated by token and runs
// the auth handshake before the connection can receive anything
func (m *Manager) HandleWebSocket(c *gin.Context) {
	userID := c.GetInt64("userID")
	if userID <= 0 {
		log.Warn("No userID in context, rejecting connection from %s", c.Request.RemoteAddr)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade connection: %v", err)
		return
	}

	if err := m.handshake(conn, userID); err != nil {
		log.Warn("Handshake failed for user %d from %s: %v", userID, c.Request.RemoteAddr, err)
		deadline := time.Now().Add(writeWait)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"), deadline)
		conn.Close()
		return
	}

	client := &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		Socket:  conn,
		Send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(m.opts.RateLimit, m.opts.RateBurst),
	}
	ack, _ := json.Marshal(Frame{Type: TypeAuthSuccess})
	client.Send <- ack
	m.add(client)

	go client.writePump()
	go client.readPump(m)
}

type handshakeError string

func (e handshakeError) Error() string { return string(e) }

func (m *Manager) handshake(conn *websocket.Conn, userID int64) error {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(m.opts.AuthTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return handshakeError("malformed auth frame")
	}
	if frame.Type != TypeAuth {
		return handshakeError("first frame must be auth, got " + frame.Type)
	}
	if frame.UserID != userID {
		return handshakeError("auth frame user does not match token")
	}
	return nil
}

// readPump only watches for liveness. Clients have nothing to say after the handshake.
func (c *Client) readPump(m *Manager) {
	defer func() {
		m.remove(c)
		c.Socket.Close()
	}()

	c.Socket.SetReadDeadline(time.Now().Add(pongWait))
	c.Socket.SetPongHandler(func(string) error {
		c.Socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Socket.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("Read error for user %d (%s): %v", c.UserID, c.ID, err)
			}
			return
		}
		if !c.limiter.Allow() {
			log.Warn("Rate limit exceeded for user %d (%s), closing", c.UserID, c.ID)
			c.Socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

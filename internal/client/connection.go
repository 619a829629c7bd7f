package client

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gigboard/marketplace/internal/push"
)

// State of the push connection
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticated
	Ready
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Ready:
		return "ready"
	}
	return "disconnected"
}

// EventType distinguishes what an Event carries
type EventType int

const (
	// StateChange is emitted on every transition and when live updates get disabled
	StateChange EventType = iota
	NotificationReceived
)

// Event is delivered to subscribers of a ConnectionManager
type Event struct {
	Type                EventType
	State               State
	LiveUpdatesDisabled bool
	Notification        *push.Notification
}

// Conn is the part of a websocket connection the manager uses
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a transport to the push endpoint
type DialFunc func(ctx context.Context) (Conn, error)

// Timer is a scheduled callback that can be cancelled
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// WebSocketDialer dials url with gorilla's default dialer
func WebSocketDialer(url string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// ConnectionOptions configure a ConnectionManager
type ConnectionOptions struct {
	Dial                 DialFunc
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	// Cache, when set, is invalidated on inbound notifications
	Cache     *Cache
	AfterFunc AfterFunc
}

const (
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// ConnectionManager owns the single push connection of a signed-in session.
// Reconnects use a fixed interval and stop for good after
// MaxReconnectAttempts consecutive failures; only Disconnect followed by
// Connect starts over. Live updates are then reported as disabled and the
// session keeps working on polling alone.
type ConnectionManager struct {
	opts ConnectionOptions

	mu       sync.Mutex
	state    State
	userID   int64
	attempts int
	disabled bool
	// generation invalidates goroutines and timers of an earlier Connect
	generation uint64
	conn       Conn
	timer      Timer
	cancel     context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

func NewConnectionManager(opts ConnectionOptions) *ConnectionManager {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	return &ConnectionManager{opts: opts, subs: make(map[int]func(Event))}
}

func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LiveUpdatesDisabled reports whether reconnecting was given up
func (m *ConnectionManager) LiveUpdatesDisabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled
}

// Attempts is the number of consecutive failed reconnects so far
func (m *ConnectionManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Subscribe registers handler for every event. The returned func unsubscribes.
func (m *ConnectionManager) Subscribe(handler func(Event)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = handler
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

func (m *ConnectionManager) emit(ev Event) {
	m.subMu.Lock()
	handlers := make([]func(Event), 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.subMu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// setState must be called with mu held; it returns the event to emit after unlocking
func (m *ConnectionManager) setState(s State) (Event, bool) {
	if m.state == s {
		return Event{}, false
	}
	m.state = s
	return Event{Type: StateChange, State: s, LiveUpdatesDisabled: m.disabled}, true
}

// Connect starts the connection for userID. A second Connect for the same
// user while a connection is live, being set up or has given up is ignored;
// Disconnect first to start over.
func (m *ConnectionManager) Connect(userID int64) {
	m.mu.Lock()
	if m.userID == userID && m.disabled {
		m.mu.Unlock()
		log.Debug("Connect for user %d ignored, live updates are disabled", userID)
		return
	}
	if m.userID == userID && m.state != Disconnected {
		m.mu.Unlock()
		log.Debug("Connect for user %d ignored, already %s", userID, m.state)
		return
	}
	if m.userID == userID && m.timer != nil {
		// a reconnect is already scheduled
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.userID = userID
	m.attempts = 0
	m.disabled = false
	gen := m.generation
	m.mu.Unlock()

	go m.run(gen)
}

// Disconnect is idempotent. It cancels pending reconnects and closes the transport.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.attempts = 0
	m.disabled = false
	m.userID = 0
	ev, changed := m.setState(Disconnected)
	m.mu.Unlock()

	if changed {
		m.emit(ev)
	}
}

func (m *ConnectionManager) teardownLocked() {
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

func (m *ConnectionManager) run(gen uint64) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	userID := m.userID
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	ev, changed := m.setState(Connecting)
	m.mu.Unlock()
	if changed {
		m.emit(ev)
	}

	conn, err := m.opts.Dial(ctx)
	if err != nil {
		log.Debug("Push dial failed: %v", err)
		m.fail(gen)
		return
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.mu.Unlock()

	if err := conn.WriteJSON(push.Frame{Type: push.TypeAuth, UserID: userID}); err != nil {
		m.fail(gen)
		return
	}
	if !m.transition(gen, Authenticated) {
		return
	}

	for {
		var frame push.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			log.Debug("Push connection lost: %v", err)
			m.fail(gen)
			return
		}

		switch frame.Type {
		case push.TypeAuthSuccess:
			m.mu.Lock()
			if gen == m.generation {
				m.attempts = 0
			}
			m.mu.Unlock()
			if !m.transition(gen, Ready) {
				return
			}
		case push.TypeNotification:
			if frame.Data != nil {
				m.handleNotification(frame.Data)
			}
		}
	}
}

// transition moves to s unless gen is stale
func (m *ConnectionManager) transition(gen uint64, s State) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	ev, changed := m.setState(s)
	m.mu.Unlock()
	if changed {
		m.emit(ev)
	}
	return true
}

// fail drops to Disconnected and schedules the next attempt, or gives up
func (m *ConnectionManager) fail(gen uint64) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.disabled = true
		m.state = Disconnected
		ev := Event{Type: StateChange, State: Disconnected, LiveUpdatesDisabled: true}
		m.mu.Unlock()
		log.Warn("Giving up on push connection after %d attempts, live updates disabled", m.opts.MaxReconnectAttempts)
		m.emit(ev)
		return
	}

	m.attempts++
	m.timer = m.opts.AfterFunc(m.opts.ReconnectInterval, func() { m.run(gen) })
	ev, changed := m.setState(Disconnected)
	m.mu.Unlock()
	if changed {
		m.emit(ev)
	}
}

// handleNotification refetches whatever the event may have changed. Events
// are hints only, so duplicates or reordering are harmless.
func (m *ConnectionManager) handleNotification(n *push.Notification) {
	m.emit(Event{Type: NotificationReceived, State: m.State(), Notification: n})

	if m.opts.Cache == nil {
		return
	}
	// the notification keys have no fetcher here, the host app registers its own
	keys := []string{KeyNotifications, KeyNotificationsUnread}
	if n.Kind == push.KindMessage {
		keys = append(keys, KeyMessages, KeyContacts, KeyUnreadCount, ConversationKey(n.SenderID))
	}
	go func() {
		if err := m.opts.Cache.Invalidate(context.Background(), keys...); err != nil {
			log.Debug("Refetch after notification failed: %v", err)
		}
	}()
}

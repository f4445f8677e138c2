// Package stream owns the WebSocket connection to the backend event
// stream: dialing, connect-time authentication, channel subscriptions and
// fixed-delay reconnects. It does not interpret domain events; decoded
// frames are forwarded to registered handlers keyed by event type.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"terrachat/pkg/logger"
	"terrachat/pkg/telemetry"
	"terrachat/pkg/wire"
)

// ConnState is the manager's connection phase.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// DefaultReconnectDelay is the constant pause before a reconnect attempt.
// This is a foreground interactive client, so there is no backoff.
const DefaultReconnectDelay = 3 * time.Second

// ConnectionError reports a failed or dropped socket.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "connection error: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// Handler consumes one decoded stream event.
type Handler func(wire.Event)

// TokenSource supplies the connect-time auth token.
type TokenSource func(ctx context.Context) (string, error)

// Config configures a Manager.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL       string
	ProjectID string
	Token     TokenSource
	// ReconnectDelay defaults to DefaultReconnectDelay when zero.
	ReconnectDelay time.Duration
	// OnState, when set, observes connection state transitions.
	OnState func(ConnState)
}

// Manager maintains one socket for the chat session. Subscriptions do not
// survive reconnects, so every successful connect re-sends the auth frame,
// the project subscription and, if a thread is selected, the conversation
// subscription. One handler per event name; the last registration wins.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	handlers map[string]Handler
	threadID string
	state    ConnState
	conn     *websocket.Conn
	closed   bool

	writeMu sync.Mutex
	done    chan struct{}
}

func NewManager(cfg Config) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Manager{
		cfg:      cfg,
		handlers: map[string]Handler{},
		state:    StateDisconnected,
		done:     make(chan struct{}),
	}
}

// Register installs the handler for an event type, replacing any previous
// one.
func (m *Manager) Register(eventType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventType] = h
}

// State returns the current connection phase.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SelectThread records the current thread and subscribes its channel when
// connected; the subscription is re-sent on every reconnect.
func (m *Manager) SelectThread(threadID string) {
	m.mu.Lock()
	m.threadID = threadID
	conn := m.conn
	m.mu.Unlock()
	if conn != nil && threadID != "" {
		if err := m.write(conn, wire.SubscribeConversationFrame(threadID)); err != nil {
			logger.Warn("subscribe_conversation_failed", "thread", threadID, "error", err)
		}
	}
}

// Start runs the connect/read/reconnect loop until ctx is canceled or
// Close is called. It returns after the first connection attempt has been
// made, so callers can send immediately on success.
func (m *Manager) Start(ctx context.Context) {
	first := make(chan struct{})
	go m.loop(ctx, first)
	<-first
}

// Close shuts the socket down cleanly; no reconnect follows.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	m.mu.Unlock()
	close(m.done)
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (m *Manager) loop(ctx context.Context, first chan struct{}) {
	attempt := 0
	for {
		if m.isClosed() || ctx.Err() != nil {
			m.setState(StateDisconnected)
			m.signalFirst(&first)
			return
		}
		if attempt > 0 {
			telemetry.Reconnects.Inc()
			select {
			case <-time.After(m.cfg.ReconnectDelay):
			case <-m.done:
				m.signalFirst(&first)
				return
			case <-ctx.Done():
				m.signalFirst(&first)
				return
			}
		}
		attempt++

		m.setState(StateConnecting)
		conn, err := m.connect(ctx)
		if err != nil {
			logger.Warn("stream_connect_failed", "error", err)
			m.setState(StateDisconnected)
			m.signalFirst(&first)
			continue
		}
		m.setState(StateConnected)
		logger.Info("stream_connected", "project", m.cfg.ProjectID)
		m.signalFirst(&first)

		stop := m.readLoop(conn)
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		m.setState(StateDisconnected)
		if stop {
			return
		}
	}
}

// connect dials, authenticates and subscribes the current channels.
func (m *Manager) connect(ctx context.Context) (*websocket.Conn, error) {
	tok, err := m.cfg.Token(ctx)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	frames := [][]byte{
		wire.AuthFrame(tok),
		wire.SubscribeProjectFrame(m.cfg.ProjectID),
	}
	m.mu.Lock()
	if m.threadID != "" {
		frames = append(frames, wire.SubscribeConversationFrame(m.threadID))
	}
	m.mu.Unlock()
	for _, f := range frames {
		if err := m.write(conn, f); err != nil {
			_ = conn.Close()
			return nil, &ConnectionError{Err: err}
		}
	}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	return conn, nil
}

// readLoop decodes and dispatches frames until the socket drops. It
// returns true when the closure was clean and reconnection is suppressed.
// Only a received 1000 close frame counts as clean: code 1006 never
// arrives on the wire, gorilla synthesizes it whenever the peer drops the
// TCP connection without a handshake, so it means a network failure.
func (m *Manager) readLoop(conn *websocket.Conn) bool {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if m.isClosed() {
				return true
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Info("stream_closed", "error", err)
				return true
			}
			logger.Warn("stream_dropped", "error", err)
			return false
		}
		ev, ok := wire.Decode(raw)
		if !ok {
			telemetry.StreamDiscards.Inc()
			continue
		}
		telemetry.StreamEvents.WithLabelValues(ev.Type).Inc()
		m.mu.Lock()
		h := m.handlers[ev.Type]
		m.mu.Unlock()
		if h == nil {
			logger.Debug("stream_event_unhandled", "type", ev.Type)
			continue
		}
		h(ev)
	}
}

func (m *Manager) write(conn *websocket.Conn, frame []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (m *Manager) setState(s ConnState) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed && m.cfg.OnState != nil {
		m.cfg.OnState(s)
	}
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Manager) signalFirst(first *chan struct{}) {
	if *first != nil {
		close(*first)
		*first = nil
	}
}

// Package realtime maintains the client's single WebSocket connection to
// the chat backend: connect while a session exists, reconnect on a fixed
// delay after unexpected disconnects, and tear down cleanly on logout.
// Subscribers receive frames over per-topic channels rather than callbacks.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/withgift/storefront/internal/metrics"
	"github.com/withgift/storefront/internal/session"
	"github.com/withgift/storefront/pkg/logger"
)

// ErrNotReady is returned for publishes and subscribes attempted before
// the handshake has been confirmed.
var ErrNotReady = errors.New("realtime connection not ready")

// subBuffer is the per-topic channel capacity. When a consumer falls this
// far behind, the oldest frame is dropped rather than blocking the read
// loop.
const subBuffer = 64

// Config holds realtime settings.
type Config struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	HeartbeatPeriod  time.Duration
	SendRate         float64
	SendBurst        int
}

// Manager owns the realtime connection lifecycle.
type Manager struct {
	cfg     Config
	session *session.Store
	log     *logger.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	mu    sync.RWMutex
	conn  *websocket.Conn
	ready bool
	subs  map[string]chan Frame

	writeMu sync.Mutex
}

// Option configures the manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager creates a realtime manager. Run must be called to start it.
func NewManager(cfg Config, sess *session.Store, opts ...Option) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 30 * time.Second
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 5
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 10
	}

	m := &Manager{
		cfg:     cfg,
		session: sess,
		log:     logger.NewDefault("realtime"),
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		subs:    make(map[string]chan Frame),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ready reports whether the connection is live and the handshake has been
// confirmed. Chat actions are gated on this.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Run drives the connection until ctx is done. While the session holds a
// token it keeps one connection alive, retrying after ReconnectDelay on
// any failure. When the token disappears (logout) the connection is closed
// and Run waits for the next login. Protocol errors are logged, never
// surfaced, and never force a logout.
func (m *Manager) Run(ctx context.Context) {
	sessionChanged := m.session.Watch()

	// Break the blocking read when the session ends mid-connection.
	go func() {
		for {
			select {
			case <-ctx.Done():
				m.teardown()
				return
			case <-sessionChanged:
				if _, ok := m.session.Token(); !ok {
					m.teardown()
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		token, ok := m.session.Token()
		if !ok {
			// Logged out. Poll cheaply for the next session; the watcher
			// above owns teardown.
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.ReconnectDelay):
			}
			continue
		}

		if err := m.connect(ctx, token); err != nil {
			m.log.WithError(err).Warn("realtime connect failed")
			m.metrics.ObserveReconnect()
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.ReconnectDelay):
			}
			continue
		}

		m.log.Info("realtime connected")
		m.readLoop()
		m.mu.Lock()
		m.ready = false
		m.conn = nil
		m.mu.Unlock()
		m.log.Info("realtime disconnected")

		m.metrics.ObserveReconnect()
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ReconnectDelay):
		}
	}
}

// connect dials, waits for the CONNECTED confirmation, marks the manager
// ready, and replays existing subscriptions.
func (m *Manager) connect(ctx context.Context, token string) error {
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, m.cfg.URL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial: %w", err)
	}

	// Readiness requires the server's explicit confirmation, not just a
	// completed upgrade.
	conn.SetReadDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	var confirm Frame
	if err := conn.ReadJSON(&confirm); err != nil {
		conn.Close()
		return fmt.Errorf("await handshake: %w", err)
	}
	if confirm.Type != FrameConnected {
		conn.Close()
		return fmt.Errorf("unexpected handshake frame %q", confirm.Type)
	}
	conn.SetReadDeadline(time.Time{})

	m.mu.Lock()
	m.conn = conn
	m.ready = true
	topics := make([]string, 0, len(m.subs))
	for topic := range m.subs {
		topics = append(topics, topic)
	}
	m.mu.Unlock()

	go m.heartbeat(conn)

	for _, topic := range topics {
		if err := m.writeFrame(Frame{Type: FrameSubscribe, Topic: topic}); err != nil {
			m.log.WithError(err).WithField("topic", topic).Warn("resubscribe failed")
		}
	}
	return nil
}

// readLoop drains the connection, fanning frames out to subscribers. It
// returns when the connection dies.
func (m *Manager) readLoop() {
	for {
		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()
		if conn == nil {
			return
		}

		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				m.log.WithError(err).Debug("realtime read ended")
			}
			conn.Close()
			return
		}

		switch frame.Type {
		case FrameMessage:
			m.metrics.ObserveMessage("received")
			m.dispatch(frame)
		case FrameError:
			m.log.WithField("payload", string(frame.Payload)).Warn("realtime protocol error")
		default:
			// Unknown frames are tolerated for forward compatibility.
		}
	}
}

// dispatch delivers the frame to its topic's subscriber. A full channel
// drops the oldest frame so a stalled consumer cannot wedge the read loop.
// The lock is held across the send: channels are only closed under the
// write lock, so a send can never hit a closed channel.
func (m *Manager) dispatch(frame Frame) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.subs[frame.Topic]
	if !ok {
		return
	}

	select {
	case ch <- frame:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- frame:
		default:
		}
	}
}

// Subscribe registers interest in a topic and returns the frame channel.
// The subscription survives reconnects until Unsubscribe.
func (m *Manager) Subscribe(topic string) (<-chan Frame, error) {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return nil, ErrNotReady
	}
	if ch, ok := m.subs[topic]; ok {
		m.mu.Unlock()
		return ch, nil
	}
	ch := make(chan Frame, subBuffer)
	m.subs[topic] = ch
	m.mu.Unlock()

	if err := m.writeFrame(Frame{Type: FrameSubscribe, Topic: topic}); err != nil {
		m.mu.Lock()
		delete(m.subs, topic)
		close(ch)
		m.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return ch, nil
}

// Unsubscribe removes a topic subscription and closes its channel. The
// wire-level unsubscribe is best effort. The close happens under the
// write lock so dispatch, which sends under the read lock, never races it.
func (m *Manager) Unsubscribe(topic string) {
	m.mu.Lock()
	ch, ok := m.subs[topic]
	if ok {
		delete(m.subs, topic)
		close(ch)
	}
	ready := m.ready
	m.mu.Unlock()
	if !ok {
		return
	}

	if ready {
		if err := m.writeFrame(Frame{Type: FrameUnsubscribe, Topic: topic}); err != nil {
			m.log.WithError(err).WithField("topic", topic).Debug("unsubscribe write failed")
		}
	}
}

// Publish sends a payload to a destination, subject to the flood limiter.
func (m *Manager) Publish(ctx context.Context, destination string, payload any) error {
	if !m.Ready() {
		return ErrNotReady
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := m.writeFrame(Frame{Type: FrameSend, Topic: destination, Payload: data}); err != nil {
		return fmt.Errorf("publish to %s: %w", destination, err)
	}
	m.metrics.ObserveMessage("sent")
	return nil
}

func (m *Manager) writeFrame(frame Frame) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrNotReady
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// teardown closes the connection and drops every subscription so nothing
// dangles past logout or shutdown.
func (m *Manager) teardown() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.ready = false
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = make(map[string]chan Frame)
	m.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

func (m *Manager) heartbeat(conn *websocket.Conn) {
	ticker := time.NewTicker(m.cfg.HeartbeatPeriod)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.RLock()
		current := m.conn
		m.mu.RUnlock()
		if current != conn {
			return
		}

		m.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		m.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

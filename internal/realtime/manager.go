// Package realtime owns the single notification socket: connect, heartbeat,
// close-intent handling and exponential backoff reconnection.
//
// All socket events, timer callbacks and public commands are posted to one
// event-loop goroutine (Run), so handlers never run concurrently.
package realtime

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TokenSource resolves the current bearer token. An empty token means
// "not logged in" and is not an error.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// FrameHandler receives every inbound frame. A returned error marks the frame
// as malformed; it is logged and the socket stays open.
type FrameHandler interface {
	HandleFrame(data []byte) error
}

// Options configures a Manager.
type Options struct {
	// Endpoint is the socket base URL, e.g. "wss://api.example.org".
	Endpoint string
	Tokens   TokenSource
	Dialer   Dialer
	Frames   FrameHandler
	Clock    Clock

	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

// Manager maintains one logical connection to <endpoint>/notifications/ws.
type Manager struct {
	endpoint       string
	tokens         TokenSource
	dialer         Dialer
	frames         FrameHandler
	clock          Clock
	heartbeatEvery time.Duration
	writeTimeout   time.Duration

	events  chan func()
	stopped chan struct{}

	// Owned by the event loop.
	ctx        context.Context
	state      State
	gen        uint64
	conn       Conn
	connCancel context.CancelFunc
	closing    bool
	dialCancel context.CancelFunc
	heartbeat  Timer
	reconnect  Timer

	mu             sync.RWMutex
	published      State
	statusWatchers []func(State)
	errorWatchers  []func(error)
}

// NewManager creates a Manager. Call Run to start its event loop.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = HeartbeatInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	initial := State{Status: StatusDisconnected}
	return &Manager{
		endpoint:       strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/"),
		tokens:         opts.Tokens,
		dialer:         opts.Dialer,
		frames:         opts.Frames,
		clock:          opts.Clock,
		heartbeatEvery: opts.HeartbeatInterval,
		writeTimeout:   opts.WriteTimeout,
		events:         make(chan func(), 64),
		stopped:        make(chan struct{}),
		ctx:            context.Background(),
		state:          initial,
		published:      initial,
	}
}

// OnStatus registers fn for every state change. fn runs on the event loop and must not block.
func (m *Manager) OnStatus(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusWatchers = append(m.statusWatchers, fn)
}

// OnError registers fn for socket and dial errors. fn runs on the event loop and must not block.
func (m *Manager) OnError(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorWatchers = append(m.errorWatchers, fn)
}

// State returns the last published connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.published
}

// IsConnected reports whether the socket is open.
func (m *Manager) IsConnected() bool {
	return m.State().Status == StatusConnected
}

// Connect opens the socket if there is a token and no socket yet.
func (m *Manager) Connect() { m.post(m.connect) }

// Disconnect closes the socket for good. Idempotent.
func (m *Manager) Disconnect() { m.post(m.disconnect) }

// Refresh closes the current socket and opens a new one without backoff.
func (m *Manager) Refresh() { m.post(m.refresh) }

// Run processes events until ctx is cancelled, then closes the socket.
func (m *Manager) Run(ctx context.Context) {
	m.ctx = ctx
	defer close(m.stopped)

	log.Info().Str("endpoint", m.endpoint).Msg("notification socket manager started")
	for {
		select {
		case fn := <-m.events:
			m.dispatch(fn)
		case <-ctx.Done():
			m.dispatch(m.shutdown)
			log.Info().Msg("notification socket manager stopped")
			return
		}
	}
}

// post queues fn on the event loop. It reports false once the loop has exited.
func (m *Manager) post(fn func()) bool {
	select {
	case m.events <- fn:
		return true
	case <-m.stopped:
		return false
	}
}

func (m *Manager) dispatch(fn func()) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("notification socket event handler panicked")
			}
		}()
		fn()
	}()
	m.publish()
}

// --- Commands ---

func (m *Manager) connect() {
	if m.conn != nil || m.dialCancel != nil {
		log.Debug().Msg("notification socket already open or opening")
		return
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(m.ctx)
	m.dialCancel = cancel
	go m.dial(ctx, gen)
}

func (m *Manager) disconnect() {
	m.stopReconnect()
	m.stopHeartbeat()
	m.abortDial()

	if m.conn != nil {
		m.state.CloseIntent = IntentDisconnect
		m.closeConn()
		return
	}
	m.state.CloseIntent = IntentNone
	m.state.Status = StatusDisconnected
}

func (m *Manager) refresh() {
	m.stopReconnect()
	m.stopHeartbeat()

	if m.conn != nil {
		m.state.CloseIntent = IntentRefresh
		m.closeConn()
		return
	}
	m.abortDial()
	m.state.CloseIntent = IntentNone
	m.state.Status = StatusDisconnected
	if m.state.ReconnectAttempts >= MaxReconnectAttempts {
		m.state.ReconnectAttempts = 0
	}
	m.connect()
}

func (m *Manager) shutdown() {
	m.stopReconnect()
	m.stopHeartbeat()
	m.abortDial()
	if m.conn != nil {
		m.closeConn()
		m.connCancel()
		m.conn = nil
		m.connCancel = nil
		m.closing = false
	}
	m.gen++
	m.state = State{Status: StatusDisconnected}
}

// --- Socket lifecycle ---

// dial runs off the loop: token resolution and the handshake are the only
// suspension points.
func (m *Manager) dial(ctx context.Context, gen uint64) {
	token, err := m.tokens.Token(ctx)
	if err != nil || token == "" {
		m.post(func() { m.handleNoToken(gen, err) })
		return
	}
	m.post(func() {
		if gen == m.gen && m.dialCancel != nil {
			m.state.Status = StatusConnecting
		}
	})

	conn, err := m.dialer.Dial(ctx, m.socketURL(token))
	if !m.post(func() { m.handleDialed(ctx, gen, conn, err) }) && conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) handleNoToken(gen uint64, err error) {
	if gen != m.gen || m.dialCancel == nil {
		return
	}
	m.dialCancel()
	m.dialCancel = nil
	m.state.Status = StatusDisconnected
	if err != nil {
		log.Warn().Err(err).Msg("auth token lookup failed, notification socket not opened")
		return
	}
	log.Info().Msg("no auth token, notification socket not opened")
}

func (m *Manager) handleDialed(ctx context.Context, gen uint64, conn Conn, err error) {
	if gen != m.gen || m.dialCancel == nil {
		// Superseded by Disconnect/Refresh while dialing.
		if conn != nil {
			go closeQuietly(conn)
		}
		return
	}
	cancel := m.dialCancel
	m.dialCancel = nil

	if err != nil {
		cancel()
		log.Warn().Err(err).Int("attempts", m.state.ReconnectAttempts).Msg("notification socket dial failed")
		m.emitError(err)
		m.onClose(gen, nil)
		return
	}

	m.conn = conn
	m.connCancel = cancel
	m.closing = false
	m.state.Status = StatusConnected
	m.state.ReconnectAttempts = 0
	m.startHeartbeat(gen)
	go m.readLoop(ctx, gen, conn)

	log.Info().Str("endpoint", m.endpoint).Msg("notification socket connected")
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.post(func() { m.onClose(gen, err) })
			return
		}
		if !m.post(func() { m.onMessage(gen, data) }) {
			return
		}
	}
}

func (m *Manager) onMessage(gen uint64, data []byte) {
	if gen != m.gen || m.conn == nil || m.frames == nil {
		return
	}
	if err := m.frames.HandleFrame(data); err != nil {
		log.Warn().Err(err).Int("bytes", len(data)).Msg("discarding notification frame")
	}
}

// onClose consumes the close intent and decides whether to reconnect.
func (m *Manager) onClose(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	if m.conn != nil {
		if !m.closing {
			go closeQuietly(m.conn)
		}
		m.connCancel()
		m.conn = nil
		m.connCancel = nil
		m.closing = false
	}
	m.stopHeartbeat()
	m.state.Status = StatusDisconnected

	intent := m.state.CloseIntent
	m.state.CloseIntent = IntentNone

	switch intent {
	case IntentDisconnect:
		log.Info().Msg("notification socket disconnected")
		return
	case IntentRefresh:
		log.Info().Msg("notification socket refreshing")
		m.connect()
		return
	}

	if err != nil && !isNormalClose(err) {
		m.emitError(err)
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.stopReconnect()
	attempts := m.state.ReconnectAttempts
	if attempts >= MaxReconnectAttempts {
		log.Warn().Int("attempts", attempts).Msg("notification socket giving up until refresh")
		return
	}
	delay := ReconnectDelay(attempts)

	var t Timer
	t = m.clock.AfterFunc(delay, func() {
		m.post(func() {
			if m.reconnect != t {
				return
			}
			m.reconnect = nil
			m.state.ReconnectAttempts++
			m.connect()
		})
	})
	m.reconnect = t

	log.Info().Dur("delay", delay).Int("attempt", attempts+1).Msg("notification socket reconnect scheduled")
}

func (m *Manager) startHeartbeat(gen uint64) {
	m.stopHeartbeat()

	var t Timer
	t = m.clock.AfterFunc(m.heartbeatEvery, func() {
		m.post(func() {
			if m.heartbeat != t {
				return
			}
			m.heartbeat = nil
			if gen != m.gen || m.conn == nil || m.closing {
				return
			}
			m.sendPing(m.conn)
			m.startHeartbeat(gen)
		})
	})
	m.heartbeat = t
}

func (m *Manager) sendPing(conn Conn) {
	ctx, timeout := m.ctx, m.writeTimeout
	go func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := conn.Write(ctx, []byte("ping")); err != nil {
			log.Debug().Err(err).Msg("heartbeat ping failed")
		}
	}()
}

// --- Helpers ---

func (m *Manager) stopHeartbeat() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

func (m *Manager) stopReconnect() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// abortDial cancels an in-flight token lookup or handshake and invalidates its result.
func (m *Manager) abortDial() {
	if m.dialCancel == nil {
		return
	}
	m.dialCancel()
	m.dialCancel = nil
	m.gen++
}

func (m *Manager) closeConn() {
	if m.closing {
		return
	}
	m.closing = true
	go closeQuietly(m.conn)
}

func (m *Manager) socketURL(token string) string {
	return m.endpoint + "/notifications/ws?token=" + url.QueryEscape(token)
}

func (m *Manager) publish() {
	m.mu.Lock()
	if m.published == m.state {
		m.mu.Unlock()
		return
	}
	m.published = m.state
	st := m.state
	watchers := append([]func(State){}, m.statusWatchers...)
	m.mu.Unlock()

	for _, fn := range watchers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("notification status watcher panicked")
				}
			}()
			fn(st)
		}()
	}
}

func (m *Manager) emitError(err error) {
	m.mu.RLock()
	watchers := append([]func(error){}, m.errorWatchers...)
	m.mu.RUnlock()

	for _, fn := range watchers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("notification error watcher panicked")
				}
			}()
			fn(err)
		}()
	}
}

func closeQuietly(conn Conn) {
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Msg("notification socket close")
	}
}

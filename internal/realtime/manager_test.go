package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

// --- fakes ---

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// active returns the newest pending timer whose duration matches pick.
func (c *fakeClock) active(pick func(time.Duration) bool) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.timers) - 1; i >= 0; i-- {
		t := c.timers[i]
		if !t.stopped && !t.fired && pick(t.d) {
			return t
		}
	}
	return nil
}

func (c *fakeClock) reconnectTimer() *fakeTimer {
	return c.active(func(d time.Duration) bool { return d != HeartbeatInterval })
}

func (c *fakeClock) heartbeatTimer() *fakeTimer {
	return c.active(func(d time.Duration) bool { return d == HeartbeatInterval })
}

func (c *fakeClock) fire(t *fakeTimer) {
	c.mu.Lock()
	if t.stopped || t.fired {
		c.mu.Unlock()
		return
	}
	t.fired = true
	c.mu.Unlock()
	t.f()
}

var errDropped = errors.New("connection reset by peer")

type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errDropped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.writes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	urls  []string
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail {
		return nil, errors.New("dial tcp: connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = v
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type frameRecorder struct {
	mu     sync.Mutex
	frames []string
}

func (r *frameRecorder) HandleFrame(data []byte) error {
	r.mu.Lock()
	r.frames = append(r.frames, string(data))
	r.mu.Unlock()
	if !strings.HasPrefix(string(data), "{") {
		return errors.New("malformed frame")
	}
	return nil
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// --- helpers ---

func startManager(t *testing.T, tokens TokenSource, dialer Dialer, frames FrameHandler) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	m := NewManager(Options{
		Endpoint: "ws://backend.test/",
		Tokens:   tokens,
		Dialer:   dialer,
		Frames:   frames,
		Clock:    clock,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-m.stopped
	})
	return m, clock
}

// flush waits until every event queued so far has been handled.
func flush(m *Manager) {
	done := make(chan struct{})
	m.post(func() { close(done) })
	<-done
}

func waitConnected(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, m.IsConnected, waitFor, tick)
}

// --- tests ---

func TestReconnectDelay(t *testing.T) {
	cases := map[int]time.Duration{
		-1: time.Second,
		0:  time.Second,
		1:  2 * time.Second,
		2:  4 * time.Second,
		3:  8 * time.Second,
		4:  16 * time.Second,
		5:  30 * time.Second,
		12: 30 * time.Second,
	}
	for attempts, want := range cases {
		assert.Equal(t, want, ReconnectDelay(attempts), "attempts=%d", attempts)
	}
}

func TestConnectOpensSocketWithToken(t *testing.T) {
	d := &fakeDialer{}
	m, clock := startManager(t, staticToken("a b+c"), d, nil)

	m.Connect()
	waitConnected(t, m)

	assert.Equal(t, []string{"ws://backend.test/notifications/ws?token=a+b%2Bc"}, d.urls)
	assert.Equal(t, 0, m.State().ReconnectAttempts)
	assert.NotNil(t, clock.heartbeatTimer())
}

func TestConnectWithoutTokenStaysDisconnected(t *testing.T) {
	d := &fakeDialer{}
	m, _ := startManager(t, staticToken(""), d, nil)

	m.Connect()
	assert.Never(t, func() bool { return d.dials() > 0 }, 50*time.Millisecond, tick)
	assert.Equal(t, StatusDisconnected, m.State().Status)
}

func TestConnectIsNoopWhileOpen(t *testing.T) {
	d := &fakeDialer{}
	m, _ := startManager(t, staticToken("tok"), d, nil)

	m.Connect()
	waitConnected(t, m)
	m.Connect()
	flush(m)

	assert.Equal(t, 1, d.dials())
}

func TestBackoffSequenceAndCeiling(t *testing.T) {
	d := &fakeDialer{fail: true}
	m, clock := startManager(t, staticToken("tok"), d, nil)

	var errs atomic.Int32
	m.OnError(func(error) { errs.Add(1) })

	m.Connect()

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, delay := range want {
		var timer *fakeTimer
		require.Eventually(t, func() bool {
			timer = clock.reconnectTimer()
			return timer != nil && m.State().ReconnectAttempts == i
		}, waitFor, tick, "waiting for retry %d", i+1)
		assert.Equal(t, delay, timer.d, "retry %d", i+1)
		assert.Equal(t, StatusDisconnected, m.State().Status)
		clock.fire(timer)
	}

	// Sixth failure: the ceiling is reached and nothing else is scheduled.
	require.Eventually(t, func() bool { return errs.Load() == 6 }, waitFor, tick)
	flush(m)
	assert.Equal(t, 6, d.dials())
	assert.Equal(t, MaxReconnectAttempts, m.State().ReconnectAttempts)
	assert.Nil(t, clock.reconnectTimer())

	// An explicit refresh starts over.
	m.Refresh()
	require.Eventually(t, func() bool { return d.dials() == 7 }, waitFor, tick)
	require.Eventually(t, func() bool {
		timer := clock.reconnectTimer()
		return timer != nil && timer.d == time.Second
	}, waitFor, tick)
}

func TestSuccessfulOpenResetsAttempts(t *testing.T) {
	d := &fakeDialer{fail: true}
	m, clock := startManager(t, staticToken("tok"), d, nil)

	m.Connect()
	var timer *fakeTimer
	require.Eventually(t, func() bool { timer = clock.reconnectTimer(); return timer != nil }, waitFor, tick)
	clock.fire(timer)
	require.Eventually(t, func() bool {
		timer = clock.reconnectTimer()
		return timer != nil && m.State().ReconnectAttempts == 1
	}, waitFor, tick)

	d.setFail(false)
	clock.fire(timer)
	waitConnected(t, m)
	assert.Equal(t, 0, m.State().ReconnectAttempts)
}

func TestUnexpectedDropReconnects(t *testing.T) {
	d := &fakeDialer{}
	m, clock := startManager(t, staticToken("tok"), d, nil)

	m.Connect()
	waitConnected(t, m)
	d.conn(0).Close() // network drop, no intent recorded

	var timer *fakeTimer
	require.Eventually(t, func() bool { timer = clock.reconnectTimer(); return timer != nil }, waitFor, tick)
	assert.Equal(t, time.Second, timer.d)
	assert.Nil(t, clock.heartbeatTimer(), "heartbeat stops with the socket")

	clock.fire(timer)
	require.Eventually(t, func() bool { return d.dials() == 2 && m.IsConnected() }, waitFor, tick)
	assert.Equal(t, 0, m.State().ReconnectAttempts)
}

func TestDisconnectDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{}
	m, clock := startManager(t, staticToken("tok"), d, nil)

	m.Connect()
	waitConnected(t, m)

	m.Disconnect()
	require.Eventually(t, func() bool { return m.State().Status == StatusDisconnected }, waitFor, tick)
	flush(m)

	assert.True(t, d.conn(0).isClosed())
	assert.Nil(t, clock.reconnectTimer())
	assert.Nil(t, clock.heartbeatTimer())
	assert.Equal(t, IntentNone, m.State().CloseIntent)
	assert.Equal(t, 1, d.dials())

	m.Disconnect() // idempotent
	flush(m)
	assert.Equal(t, StatusDisconnected, m.State().Status)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{fail: true}
	m, clock := startManager(t, staticToken("tok"), d, nil)

	m.Connect()
	var timer *fakeTimer
	require.Eventually(t, func() bool { timer = clock.reconnectTimer(); return timer != nil }, waitFor, tick)

	m.Disconnect()
	flush(m)
	assert.True(t, timer.stopped)

	// A callback that raced the cancellation is ignored.
	timer.f()
	flush(m)
	assert.Equal(t, 1, d.dials())
	assert.Equal(t, 0, m.State().ReconnectAttempts)
}

func TestRefreshWhileConnectedOpensOneNewSocket(t *testing.T) {
	d := &fakeDialer{}
	m, clock := startManager(t, staticToken("tok"), d, nil)

	m.Connect()
	waitConnected(t, m)
	first := d.conn(0)

	m.Refresh()
	require.Eventually(t, func() bool { return d.dials() == 2 && m.IsConnected() }, waitFor, tick)
	flush(m)

	assert.True(t, first.isClosed())
	assert.False(t, d.conn(1).isClosed())
	assert.Equal(t, 2, d.dials())
	assert.Equal(t, 0, m.State().ReconnectAttempts)
	assert.Nil(t, clock.reconnectTimer())
}

func TestRefreshWhenDisconnectedConnects(t *testing.T) {
	d := &fakeDialer{}
	m, _ := startManager(t, staticToken("tok"), d, nil)

	m.Refresh()
	waitConnected(t, m)
	assert.Equal(t, 1, d.dials())
}

func TestHeartbeatSendsPingWhileOpen(t *testing.T) {
	d := &fakeDialer{}
	m, clock := startManager(t, staticToken("tok"), d, nil)

	m.Connect()
	waitConnected(t, m)

	first := clock.heartbeatTimer()
	require.NotNil(t, first)
	clock.fire(first)

	require.Eventually(t, func() bool { return len(d.conn(0).written()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"ping"}, d.conn(0).written())

	var next *fakeTimer
	require.Eventually(t, func() bool {
		next = clock.heartbeatTimer()
		return next != nil && next != first
	}, waitFor, tick)

	m.Disconnect()
	flush(m)
	assert.True(t, next.stopped)
}

func TestMalformedFrameKeepsSocketOpen(t *testing.T) {
	d := &fakeDialer{}
	frames := &frameRecorder{}
	m, _ := startManager(t, staticToken("tok"), d, frames)

	m.Connect()
	waitConnected(t, m)

	conn := d.conn(0)
	conn.frames <- []byte("not json")
	conn.frames <- []byte(`{"type":"pong"}`)

	require.Eventually(t, func() bool { return frames.count() == 2 }, waitFor, tick)
	flush(m)
	assert.True(t, m.IsConnected())
	assert.False(t, conn.isClosed())
}

func TestStatusWatcherSeesTransitions(t *testing.T) {
	d := &fakeDialer{}
	m, _ := startManager(t, staticToken("tok"), d, nil)

	var mu sync.Mutex
	var seen []Status
	m.OnStatus(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 || seen[len(seen)-1] != s.Status {
			seen = append(seen, s.Status)
		}
	})

	m.Connect()
	waitConnected(t, m)
	m.Disconnect()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == StatusDisconnected
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected}, seen)
}

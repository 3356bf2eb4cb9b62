package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// Conn is one open socket.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DefaultReadLimit caps a single inbound frame when WebsocketDialer.ReadLimit is unset.
const DefaultReadLimit int64 = 1 << 20

// WebsocketDialer dials with nhooyr.io/websocket.
type WebsocketDialer struct {
	HTTPClient *http.Client
	// ReadLimit caps a single inbound frame; zero means DefaultReadLimit.
	// A frame over the limit closes the socket.
	ReadLimit int64
}

// Dial opens a websocket to url.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial notifications socket: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial notifications socket: %w", err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

// isNormalClose reports whether err is a clean close handshake.
func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

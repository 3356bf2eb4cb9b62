package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// largeFrameServer writes one frame of size bytes followed by a pong.
func largeFrameServer(t *testing.T, size int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		big := `{"type":"connection","message":"` + strings.Repeat("x", size) + `"}`
		if err := c.Write(r.Context(), websocket.MessageText, []byte(big)); err != nil {
			return
		}
		if err := c.Write(r.Context(), websocket.MessageText, []byte(`{"type":"pong"}`)); err != nil {
			return
		}
		// Hold the socket open until the client leaves.
		_, _, _ = c.Read(r.Context())
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketDialer_LargeFrameKeepsSocketOpen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := WebsocketDialer{}.Dial(ctx, largeFrameServer(t, 40_000))
	require.NoError(t, err)
	defer conn.Close()

	first, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Greater(t, len(first), 40_000)

	second, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(second))
}

func TestWebsocketDialer_ConfiguredReadLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := WebsocketDialer{ReadLimit: 1024}.Dial(ctx, largeFrameServer(t, 4096))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read(ctx)
	require.Error(t, err)
}

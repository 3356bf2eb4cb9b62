// Package bridge is the only part of the agent that talks to the backend:
// it decodes socket frames into store updates and performs the authenticated
// HTTP calls for history and read receipts.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"vn.io.arda/notification-agent/internal/domain"
)

// Ingester receives decoded notifications.
type Ingester interface {
	Ingest(records ...domain.Notification) int
}

// Bridge turns inbound socket frames into store updates.
// It satisfies realtime.FrameHandler.
type Bridge struct {
	registry *Registry
	sink     Ingester
}

// New creates a Bridge that pushes notification frames into sink.
func New(sink Ingester) *Bridge {
	b := &Bridge{registry: NewRegistry(), sink: sink}
	b.registry.Register(FrameNotification, b.handleNotification)
	b.registry.Register(FramePong, handlePong)
	b.registry.Register(FrameConnection, handleConnection)
	return b
}

// HandleFrame decodes and applies one inbound frame.
func (b *Bridge) HandleFrame(data []byte) error {
	return b.registry.Dispatch(data)
}

func (b *Bridge) handleNotification(data []byte) error {
	var n domain.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: notification: %v", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("%w: notification without id", ErrMalformedFrame)
	}
	changed := b.sink.Ingest(n)

	log.Debug().
		Str("id", n.ID).
		Str("category", string(n.Category)).
		Bool("changed", changed > 0).
		Msg("notification pushed")
	return nil
}

func handlePong([]byte) error {
	return nil
}

func handleConnection(data []byte) error {
	var frame struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("%w: connection: %v", ErrMalformedFrame, err)
	}
	log.Info().Str("message", frame.Message).Msg("notification socket greeting")
	return nil
}

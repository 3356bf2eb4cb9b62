package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types sent by the backend on the notifications socket.
const (
	FrameNotification = "notification"
	FramePong         = "pong"
	FrameConnection   = "connection"
)

var (
	// ErrMalformedFrame is returned for frames that are not a JSON object with a type.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownFrame is returned for a frame type with no registered handler.
	ErrUnknownFrame = errors.New("unknown frame type")
)

// FrameHandler handles the raw bytes of one frame type.
type FrameHandler func(data []byte) error

// Registry maps a frame "type" to its handler.
type Registry struct {
	handlers map[string]FrameHandler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]FrameHandler)}
}

// Register binds h to frameType.
// Panics on duplicate registration to catch wiring mistakes early.
func (r *Registry) Register(frameType string, h FrameHandler) {
	if _, exists := r.handlers[frameType]; exists {
		panic("bridge: duplicate handler registered for frame type: " + frameType)
	}
	r.handlers[frameType] = h
}

// Dispatch probes the "type" field of data and calls its handler.
func (r *Registry) Dispatch(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if probe.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	h, ok := r.handlers[probe.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFrame, probe.Type)
	}
	return h(data)
}

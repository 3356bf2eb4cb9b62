package realtime

import "time"

// Status is the connection status exposed to observers.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// CloseIntent records why the manager is about to close its socket so the
// close handler can tell a requested close from a dropped connection.
type CloseIntent int

const (
	IntentNone CloseIntent = iota
	IntentRefresh
	IntentDisconnect
)

func (i CloseIntent) String() string {
	switch i {
	case IntentRefresh:
		return "refresh"
	case IntentDisconnect:
		return "disconnect"
	default:
		return "none"
	}
}

// State is a point-in-time copy of the manager's connection state.
type State struct {
	Status            Status      `json:"status"`
	ReconnectAttempts int         `json:"reconnect_attempts"`
	CloseIntent       CloseIntent `json:"-"`
}

const (
	// HeartbeatInterval is how often a "ping" frame is sent while connected.
	HeartbeatInterval = 30 * time.Second

	// MaxReconnectAttempts is the number of backoff retries before giving up
	// until the next explicit Refresh.
	MaxReconnectAttempts = 5

	baseReconnectDelay = time.Second
	maxReconnectDelay  = 30 * time.Second
)

// ReconnectDelay returns min(1s * 2^attempts, 30s).
func ReconnectDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := baseReconnectDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= maxReconnectDelay {
			return maxReconnectDelay
		}
	}
	return delay
}

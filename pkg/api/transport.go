package api

import "context"

// Transport is an opaque bidirectional message channel between the SDK and a
// controller. One call to ReadMessage returns exactly one frame.
type Transport interface {
	// ReadMessage blocks until the next frame arrives or the transport fails.
	// After Close it must return an error.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one frame. Callers never write concurrently.
	WriteMessage(data []byte) error
	// Close releases the underlying connection. Safe to call multiple times.
	Close() error
}

// Dialer opens a new Transport to a controller.
type Dialer func(ctx context.Context) (Transport, error)

// ConnectionState is the lifecycle state of one controller connection.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Feature names an opt-in protocol extension that is not part of the stable
// command vocabulary.
type Feature string

const (
	// FeatureReregisterAll lets the controller ask for the whole action set again.
	FeatureReregisterAll Feature = "RE_REGISTER_ALL"
	// FeatureShutdown surfaces shutdown/graceful and shutdown/immediate to the listener.
	FeatureShutdown Feature = "SHUTDOWN"
)

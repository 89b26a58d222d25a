package transport

import "time"

// ServerConnection is the broker's view of one client connection.
// Implemented by ServerConn.
type ServerConnection interface {
	// ConnID returns the connection identifier, which is also the client
	// identity.
	ConnID() string

	// RemoteAddr returns a printable peer address.
	RemoteAddr() string

	// Send queues a message for the client without blocking.
	Send(data []byte) error

	// Close flushes and closes the connection.
	Close() error
}

// ClientConnection carries request and response frames between a client
// and the broker. Implemented by ClientConn.
type ClientConnection interface {
	Send(data []byte) error

	// Receive blocks for the next message frame. A zero timeout waits until
	// the connection closes.
	Receive(timeout time.Duration) ([]byte, error)

	Close() error
}

var (
	_ ServerConnection = (*ServerConn)(nil)
	_ ClientConnection = (*ClientConn)(nil)
)

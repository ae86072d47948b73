package domain

import (
	"context"
)

// Handle is a live reference to one transport session that can receive
// pushed events. Two handles are the same session iff they compare equal.
type Handle interface {
	// ID returns the transport-assigned connection id
	ID() string

	// Push enqueues an event for the client without waiting for it to be
	// written. It fails when the connection is closed or backlogged.
	Push(event Outbound) error
}

// Conn is a Handle owned by the transport layer.
type Conn interface {
	Handle

	// Close closes the connection; it is safe to call more than once.
	Close() error

	// Context is cancelled once the connection has closed.
	Context() context.Context
}

package domain

import (
	"context"
)

// Conn is a single open transport to the event stream
type Conn interface {
	// ID returns the unique identifier of the connection
	ID() string

	// Send queues a message for writing
	Send(ctx context.Context, message []byte) error

	// Receive sets the handler for inbound messages. It must be called before Start.
	Receive(handler MessageHandler)

	// Start begins reading and writing
	Start()

	// Close closes the connection
	Close() error

	// Context is canceled once the connection is closed for any reason
	Context() context.Context

	// Err returns the error that ended the connection, if any
	Err() error
}

// MessageHandler is a function that handles raw inbound messages
type MessageHandler func(message []byte) error

// Dialer opens transports. The token authenticates the connection and must
// never be placed in the endpoint URL.
type Dialer interface {
	Dial(ctx context.Context, endpoint, token string) (Conn, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, endpoint, token string) (Conn, error)

// Dial implements Dialer
func (f DialerFunc) Dial(ctx context.Context, endpoint, token string) (Conn, error) {
	return f(ctx, endpoint, token)
}

// Disposer cancels a registration. Calling it more than once has no effect.
type Disposer func()

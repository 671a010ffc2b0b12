package repositories

import "context"

// Credentials are the connection parameters for the live endpoint.
type Credentials struct {
	APIKey   string
	Endpoint string
	Model    string
}

// CredentialProvider resolves connection parameters, or reports that none
// are available. A missing credential is a configuration error and must be
// surfaced before any connection attempt.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// LiveTransport is one persistent duplex connection to the live endpoint.
// Frames are opaque byte payloads; framing and parsing live elsewhere.
type LiveTransport interface {
	// Send queues an outbound frame. Frames are written in Send order.
	Send(ctx context.Context, payload []byte) error

	// Receive yields inbound frames in arrival order. The channel is
	// closed when the connection ends for any reason.
	Receive() <-chan []byte

	// Done is closed when the transport has fully shut down.
	Done() <-chan struct{}

	// Err returns the terminal transport error, or nil after a clean close.
	// Valid only after Done is closed.
	Err() error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// TransportDialer opens live transports. Injected so sessions can be tested
// against an in-memory transport.
type TransportDialer interface {
	Dial(ctx context.Context, creds Credentials) (LiveTransport, error)
}

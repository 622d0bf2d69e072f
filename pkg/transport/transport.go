// Package transport defines the multiplexed-transport contract consumed
// by the exchange manager (§6, §4.7): a named logical endpoint over which
// opaque byte payloads are exchanged with peers addressed by name.
package transport

import "context"

// Endpoint is a logical, named communication point. Send and Receive
// exchange opaque payloads; the caller (the exchange manager) owns
// framing and interpretation of the payload.
type Endpoint interface {
	// Send delivers payload to the peer endpoint named remote. Send
	// failures are the caller's concern to swallow or surface; per §4.7,
	// the exchange manager swallows them.
	Send(ctx context.Context, remote string, payload []byte) error

	// Receive blocks until a payload arrives, returning it along with the
	// name of the sending peer, or until ctx is done.
	Receive(ctx context.Context) (payload []byte, remote string, err error)

	// LocalAddress returns the name this endpoint is reachable at.
	LocalAddress() string

	// Close releases the endpoint. Receive unblocks with an error after
	// Close.
	Close() error
}

// Transport is the multiplexer contract: it hands out logical endpoints
// named by the caller, typically the local session id.
type Transport interface {
	// Endpoint returns the logical endpoint registered under name,
	// creating it if this is the first call for that name.
	Endpoint(ctx context.Context, name string) (Endpoint, error)
}

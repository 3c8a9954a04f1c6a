package registry

// Handle is the registry's view of one live transport connection.
//
// Implementations must be comparable (pointer types in practice): the
// registry relies on == to tell a stale handle from its replacement.
type Handle interface {
	// ID is a per-connection identifier used for logging.
	ID() string

	// Send queues frame for delivery without blocking. It returns false when
	// the handle is closed or cannot accept more data right now.
	Send(frame []byte) bool

	// Close shuts the transport down. It must be safe to call repeatedly.
	Close() error
}

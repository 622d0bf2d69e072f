package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the coordination service.
// Use these keys consistently so log statements remain aggregatable.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Coordination operation
	KeyOperation = "operation" // facade operation: create, get, set_value, delete, ...
	KeyPath      = "path"      // escaped coordination path
	KeyVersion   = "version"   // storage_version observed or written

	// Session
	KeySessionID = "session_id"
	KeyLeaseEnd  = "lease_end"

	// Locking
	KeyLockType  = "lock_type" // read, write
	KeyLockOwner = "lock_owner"

	// Exchange (inter-session messages)
	KeyMessageType = "message_type"
	KeyPeer        = "peer"

	// Storage backend
	KeyBackend = "backend" // memory, badger, postgres

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Operation returns a slog.Attr for the facade operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Path returns a slog.Attr for an escaped coordination path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Version returns a slog.Attr for a storage version
func Version(v uint64) slog.Attr {
	return slog.Uint64(KeyVersion, v)
}

// SessionID returns a slog.Attr for a session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// LeaseEnd returns a slog.Attr for a lease expiry, formatted as RFC3339.
func LeaseEnd(rfc3339 string) slog.Attr {
	return slog.String(KeyLeaseEnd, rfc3339)
}

// LockType returns a slog.Attr for lock type (read/write)
func LockType(t string) slog.Attr {
	return slog.String(KeyLockType, t)
}

// LockOwner returns a slog.Attr for the lock owner's session id
func LockOwner(owner string) slog.Attr {
	return slog.String(KeyLockOwner, owner)
}

// MessageType returns a slog.Attr for an exchange message type
func MessageType(t string) slog.Attr {
	return slog.String(KeyMessageType, t)
}

// Peer returns a slog.Attr for a peer session id
func Peer(id string) slog.Attr {
	return slog.String(KeyPeer, id)
}

// Backend returns a slog.Attr for the storage backend kind
func Backend(kind string) slog.Attr {
	return slog.String(KeyBackend, kind)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

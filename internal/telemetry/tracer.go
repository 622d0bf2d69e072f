package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for coordination operations.
const (
	AttrOperation = "coord.operation" // facade operation name
	AttrPath      = "coord.path"      // escaped coordination path
	AttrVersion   = "coord.version"   // storage_version
	AttrSessionID = "coord.session_id"
	AttrLockType  = "coord.lock_type"  // read, write
	AttrLockOwner = "coord.lock_owner" // session id holding/requesting the lock

	AttrMessageType = "exchange.message_type"
	AttrPeer        = "exchange.peer"

	AttrCacheHit   = "cache.hit"
	AttrCacheState = "cache.state"

	AttrStoreName = "store.name"
	AttrStoreType = "store.type"

	AttrAttempt    = "retry.attempt"
	AttrMaxRetries = "retry.max_retries"
)

// Span names for coordination operations.
const (
	SpanCoordCreate       = "coord.Create"
	SpanCoordGetOrCreate  = "coord.GetOrCreate"
	SpanCoordGet          = "coord.Get"
	SpanCoordSetValue     = "coord.SetValue"
	SpanCoordDelete       = "coord.Delete"
	SpanCoordGetSession   = "coord.GetSession"
	SpanLockAcquireRead   = "lock.AcquireRead"
	SpanLockAcquireWrite  = "lock.AcquireWrite"
	SpanLockRelease       = "lock.Release"
	SpanSessionCreate     = "session.Create"
	SpanSessionRenew      = "session.Renew"
	SpanSessionTerminate  = "session.Terminate"
	SpanCacheInvalidate   = "cache.Invalidate"
	SpanExchangeSend      = "exchange.Send"
	SpanExchangeReceive   = "exchange.Receive"
	SpanStorageGet        = "storage.Get"
	SpanStorageCAS        = "storage.CompareExchange"
)

// Operation returns an attribute for the facade operation name.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Path returns an attribute for an escaped coordination path.
func Path(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

// Version returns an attribute for a storage version.
func Version(v uint64) attribute.KeyValue {
	return attribute.Int64(AttrVersion, int64(v))
}

// SessionID returns an attribute for a session identifier.
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// LockType returns an attribute for the lock type (read/write).
func LockType(t string) attribute.KeyValue {
	return attribute.String(AttrLockType, t)
}

// LockOwner returns an attribute for the lock owner's session id.
func LockOwner(owner string) attribute.KeyValue {
	return attribute.String(AttrLockOwner, owner)
}

// MessageType returns an attribute for an exchange message type.
func MessageType(t string) attribute.KeyValue {
	return attribute.String(AttrMessageType, t)
}

// Peer returns an attribute for a peer session id.
func Peer(id string) attribute.KeyValue {
	return attribute.String(AttrPeer, id)
}

// CacheHit returns an attribute for cache hit indicator.
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// CacheState returns an attribute for cache entry state.
func CacheState(state string) attribute.KeyValue {
	return attribute.String(AttrCacheState, state)
}

// StoreName returns an attribute for the storage backend instance name.
func StoreName(name string) attribute.KeyValue {
	return attribute.String(AttrStoreName, name)
}

// StoreType returns an attribute for the storage backend kind.
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// Attempt returns an attribute for a CAS retry attempt number.
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// MaxRetries returns an attribute for the maximum retry attempts.
func MaxRetries(n int) attribute.KeyValue {
	return attribute.Int(AttrMaxRetries, n)
}

// StartCoordSpan starts a span for a coordination manager facade operation.
func StartCoordSpan(ctx context.Context, operation string, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Operation(operation),
		Path(path),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "coord."+operation, trace.WithAttributes(allAttrs...))
}

// StartLockSpan starts a span for a lock acquisition or release.
func StartLockSpan(ctx context.Context, operation string, path string, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Path(path),
		SessionID(sessionID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "lock."+operation, trace.WithAttributes(allAttrs...))
}

// StartExchangeSpan starts a span for an exchange manager send/receive.
func StartExchangeSpan(ctx context.Context, operation string, peer string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Peer(peer),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "exchange."+operation, trace.WithAttributes(allAttrs...))
}

// StartStorageSpan starts a span for a CAS storage backend operation.
func StartStorageSpan(ctx context.Context, operation string, backend string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		StoreType(backend),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "storage."+operation, trace.WithAttributes(allAttrs...))
}

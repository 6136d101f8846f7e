// Package cache wraps go-redis with a small JSON cache used for
// immutable snapshot documents. Manager owns the client lifecycle:
// connection pooling, background health checks, and graceful close.
//
// A miss is reported with the ErrCacheMiss sentinel so callers can fall
// back to the backing store without treating it as a failure.
package cache
